// Package config loads, merges, and watches the provider configuration
// tree described in spec.md §4.7. Configuration is an in-memory JSON
// document; unknown top-level keys are preserved (unknown keys inside the
// pipeline, file_backend and pmem_backend sub-trees are dropped), missing
// keys are filled with defaults, and missing sub-trees (the
// file_backend/pmem_backend tables) are materialized on first use.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/bake-hpc/bake"
	"github.com/fsnotify/fsnotify"
)

// Pipeline configures the staging poolset (§4.2).
type Pipeline struct {
	Enable             bool `json:"pipeline_enable"`
	NPools             int  `json:"pipeline_npools"`
	NBuffersPerPool    int  `json:"pipeline_nbuffers_per_pool"`
	FirstBufferSize    int  `json:"pipeline_first_buffer_size"`
	Multiplier         int  `json:"pipeline_multiplier"`
}

// FileBackend configures file-backend targets (§4.4, §6 on-disk layout).
type FileBackend struct {
	NLogs           int      `json:"nlogs"`
	Alignment       int      `json:"alignment"`
	Sync            bool     `json:"sync"`
	DirectIO        bool     `json:"directio"`
	AbtIOThreads    int      `json:"abtio_nthreads"`
	Targets         []string `json:"targets"`
	EagerLimitBytes int      `json:"eager_limit_bytes"`
}

// PmemBackend configures memory-backend targets (§4.5).
type PmemBackend struct {
	DefaultInitialTargetSize int64    `json:"default_initial_target_size"`
	Targets                  []string `json:"targets"`
}

// Tree is the full provider configuration document. Top-level fields not
// named in §4.7 are preserved verbatim in Extra; unknown keys nested
// inside the pipeline, file_backend and pmem_backend objects are not kept.
type Tree struct {
	Version     string      `json:"version"`
	Pipeline    Pipeline    `json:"pipeline"`
	FileBackend FileBackend `json:"file_backend"`
	PmemBackend PmemBackend `json:"pmem_backend"`
	Extra       map[string]json.RawMessage `json:"-"`

	mu sync.Mutex
}

// Default returns a configuration tree populated with every default value
// from the table in spec.md §4.7.
func Default() *Tree {
	return &Tree{
		Version: bake.Version,
		Pipeline: Pipeline{
			Enable:          false,
			NPools:          4,
			NBuffersPerPool: 32,
			FirstBufferSize: 65536,
			Multiplier:      4,
		},
		FileBackend: FileBackend{
			NLogs:           4,
			Alignment:       4096,
			Sync:            true,
			DirectIO:        true,
			AbtIOThreads:    16,
			Targets:         nil,
			EagerLimitBytes: 4096,
		},
		PmemBackend: PmemBackend{
			DefaultInitialTargetSize: 1 << 30,
			Targets:                  nil,
		},
	}
}

// Load reads a JSON document and merges it over the defaults: present
// keys override defaults; absent keys (including absent sub-trees) keep
// the default value, and any top-level keys this struct does not know
// about are preserved in Extra for round-tripping via Bytes. Unknown keys
// inside the known sub-trees are discarded.
func Load(data []byte) (*Tree, error) {
	t := Default()
	var raw map[string]json.RawMessage
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, bake.NewError(bake.InvalidArg, err)
		}
	}
	if v, ok := raw["version"]; ok {
		json.Unmarshal(v, &t.Version)
		delete(raw, "version")
	}
	if v, ok := raw["pipeline"]; ok {
		json.Unmarshal(v, &t.Pipeline)
		delete(raw, "pipeline")
	}
	if v, ok := raw["file_backend"]; ok {
		json.Unmarshal(v, &t.FileBackend)
		delete(raw, "file_backend")
	}
	if v, ok := raw["pmem_backend"]; ok {
		json.Unmarshal(v, &t.PmemBackend)
		delete(raw, "pmem_backend")
	}
	t.Extra = raw
	t.Version = bake.Version
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadFile reads and parses a JSON configuration file, defaulting to an
// empty document (all defaults) if the file does not exist.
func LoadFile(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, bake.NewError(bake.IO, err)
	}
	return Load(data)
}

// Validate checks the illegal-value rules from §4.7: non-power-of-two
// alignment, negative sizes, and zero log counts all fail InvalidArg.
func (t *Tree) Validate() error {
	if t.FileBackend.NLogs <= 0 {
		return bake.NewError(bake.InvalidArg, fmt.Errorf("file_backend.nlogs must be > 0, got %d", t.FileBackend.NLogs))
	}
	if t.FileBackend.Alignment <= 0 || !isPowerOfTwo(t.FileBackend.Alignment) {
		return bake.NewError(bake.InvalidArg, fmt.Errorf("file_backend.alignment must be a positive power of two, got %d", t.FileBackend.Alignment))
	}
	if t.FileBackend.AbtIOThreads <= 0 {
		return bake.NewError(bake.InvalidArg, fmt.Errorf("file_backend.abtio_nthreads must be > 0, got %d", t.FileBackend.AbtIOThreads))
	}
	if t.PmemBackend.DefaultInitialTargetSize < 0 {
		return bake.NewError(bake.InvalidArg, fmt.Errorf("pmem_backend.default_initial_target_size must be >= 0, got %d", t.PmemBackend.DefaultInitialTargetSize))
	}
	if t.Pipeline.Enable {
		if t.Pipeline.NPools <= 0 || t.Pipeline.NBuffersPerPool <= 0 || t.Pipeline.FirstBufferSize <= 0 || t.Pipeline.Multiplier <= 0 {
			return bake.NewError(bake.InvalidArg, fmt.Errorf("pipeline configuration must have strictly positive npools/nbuffers/firstsize/multiplier"))
		}
	}
	return nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// AppendAttachedTarget records path as managed under the given backend's
// targets array, so that subsequent reads of the tree reflect the actual
// attached set, per §4.7 "After a successful attach...".
func (t *Tree) AppendAttachedTarget(tag bake.BackendTag, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch tag {
	case bake.BackendFile:
		if !contains(t.FileBackend.Targets, path) {
			t.FileBackend.Targets = append(t.FileBackend.Targets, path)
		}
	case bake.BackendMem:
		if !contains(t.PmemBackend.Targets, path) {
			t.PmemBackend.Targets = append(t.PmemBackend.Targets, path)
		}
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Bytes marshals the tree back to JSON, folding Extra back in so unknown
// keys round-trip.
func (t *Tree) Bytes() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := map[string]json.RawMessage{}
	for k, v := range t.Extra {
		out[k] = v
	}
	for k, v := range map[string]any{
		"version":      t.Version,
		"pipeline":     t.Pipeline,
		"file_backend": t.FileBackend,
		"pmem_backend": t.PmemBackend,
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[k] = b
	}
	return json.MarshalIndent(out, "", "  ")
}

// Watcher watches a configuration file on disk and invokes onChange with
// a freshly parsed Tree whenever it is rewritten. It is the mechanism
// behind "missing sub-trees are materialized on first use": every reload
// runs through Load, which re-applies defaults to whatever the new
// version of the file omits.
type Watcher struct {
	fsw *fsnotify.Watcher
}

// Watch starts watching path. onChange is invoked from a background
// goroutine; callers should treat it as they would any other
// concurrently-invoked callback. Watch returns once the watch is armed;
// call Close to stop it.
func Watch(ctx context.Context, path string, onChange func(*Tree, error)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, bake.NewError(bake.IO, err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, bake.NewError(bake.IO, err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				t, err := LoadFile(path)
				onChange(t, err)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				onChange(nil, bake.NewError(bake.IO, err))
			}
		}
	}()
	return &Watcher{fsw: w}, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
