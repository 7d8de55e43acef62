package filebackend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bake-hpc/bake"
	"github.com/bake-hpc/bake/transfer"
	"github.com/ncw/directio"
)

const rootFileName = "bake-file-root"

func logFileName(i uint32) string {
	return fmt.Sprintf("log.%d", i)
}

// Options configures how a target is created or attached, mirroring the
// file_backend sub-tree of bake/config (§4.7).
type Options struct {
	Alignment       uint64
	LogCount        uint32
	SyncOnPersist   bool
	DirectIO        bool
	EagerLimitBytes int
	Poolset         *transfer.Poolset
}

// CreateTarget initializes a fresh target directory at path: writes the
// superblock and pre-touches every log.i file, per §3 "Target (on
// storage)". It does not open the target for use; call AttachTarget next.
func CreateTarget(path string, opts Options) (bake.TargetID, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return bake.NilTargetID, bake.NewError(bake.IO, err)
	}
	id := bake.NewTargetID()
	sb, err := newSuperblock(id, opts.LogCount, opts.Alignment)
	if err != nil {
		return bake.NilTargetID, err
	}
	block := make([]byte, SuperblockSize)
	sb.marshal(block)

	rootPath := filepath.Join(path, rootFileName)
	f, err := os.OpenFile(rootPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return bake.NilTargetID, bake.NewError(bake.Exist, err)
		}
		return bake.NilTargetID, bake.NewError(bake.IO, err)
	}
	defer f.Close()
	if _, err := f.WriteAt(block, 0); err != nil {
		return bake.NilTargetID, bake.NewError(bake.IO, err)
	}

	for i := uint32(0); i < opts.LogCount; i++ {
		lf, err := os.OpenFile(filepath.Join(path, logFileName(i)), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return bake.NilTargetID, bake.NewError(bake.IO, err)
		}
		lf.Close()
	}
	return id, nil
}

// AttachTarget opens an existing target directory at path, validates its
// superblock, derives each log's allocation cursor from the file's
// current length (the restart-authority decision in DESIGN.md), and
// returns a ready-to-use Backend. Per §4.7/§7, if the device rejects
// O_DIRECT the open is retried without it and a warning is logged,
// rather than failing the attach.
func AttachTarget(ctx context.Context, path string, opts Options) (*Backend, error) {
	rootPath := filepath.Join(path, rootFileName)
	rootFile, err := os.OpenFile(rootPath, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bake.NewError(bake.Noent, err)
		}
		return nil, bake.NewError(bake.IO, err)
	}

	block := make([]byte, SuperblockSize)
	if _, err := rootFile.ReadAt(block, 0); err != nil {
		rootFile.Close()
		return nil, bake.NewError(bake.IO, err)
	}
	sb, err := unmarshalSuperblock(block)
	if err != nil {
		rootFile.Close()
		return nil, err
	}

	// The superblock locks in log_count and alignment at first attach
	// (§4.7): a configuration that disagrees with the persisted superblock
	// means the caller is pointed at the wrong target or the target was
	// reconfigured out from under it, either way an attach error rather
	// than a silent override (§8 Testable Property 7).
	if opts.Alignment != 0 && opts.Alignment != sb.Alignment {
		rootFile.Close()
		return nil, bake.NewError(bake.IO, fmt.Errorf("attach %s: configured alignment %d does not match superblock alignment %d",
			path, opts.Alignment, sb.Alignment))
	}
	if opts.LogCount != 0 && opts.LogCount != sb.LogCount {
		rootFile.Close()
		return nil, bake.NewError(bake.IO, fmt.Errorf("attach %s: configured log count %d does not match superblock log count %d",
			path, opts.LogCount, sb.LogCount))
	}

	logs := make([]*log, sb.LogCount)
	useDirectIO := opts.DirectIO
	for i := uint32(0); i < sb.LogCount; i++ {
		lf, directIOUsed, err := openLog(filepath.Join(path, logFileName(i)), useDirectIO)
		if err != nil {
			rootFile.Close()
			for j := uint32(0); j < i; j++ {
				logs[j].file.Close()
			}
			return nil, err
		}
		// Once any log downgrades, keep the rest consistent: mixing
		// direct and buffered I/O across shards of one target would
		// defeat the alignment guarantees direct I/O exists for.
		if !directIOUsed {
			useDirectIO = false
		}
		logs[i] = &log{file: lf}
	}

	alloc, err := newAllocator(logs, sb.Alignment, sb, rootFile, opts.SyncOnPersist)
	if err != nil {
		rootFile.Close()
		for _, l := range logs {
			l.file.Close()
		}
		return nil, err
	}

	if opts.Poolset == nil {
		rootFile.Close()
		for _, l := range logs {
			l.file.Close()
		}
		return nil, bake.NewError(bake.InvalidArg, fmt.Errorf("attach: a staging poolset is required (pipeline_enable must be true)"))
	}

	return &Backend{
		id:        sb.TargetID,
		path:      path,
		alignment: sb.Alignment,
		eagerMax:  opts.EagerLimitBytes,
		logs:      logs,
		sbFile:    rootFile,
		alloc:     alloc,
		engine:    transfer.NewEngine(opts.Poolset),
	}, nil
}

// openLog opens filename with O_DIRECT when requested, downgrading to a
// buffered open with a warning if the underlying filesystem rejects the
// flag (§4.7 file_backend.directio: "Automatically downgraded with a
// warning if the device rejects it").
func openLog(filename string, wantDirectIO bool) (*os.File, bool, error) {
	if wantDirectIO {
		f, err := directio.OpenFile(filename, os.O_RDWR, 0o644)
		if err == nil {
			return f, true, nil
		}
		slog.Warn("file backend: O_DIRECT rejected, downgrading to buffered I/O", "path", filename, "error", err)
	}
	f, err := os.OpenFile(filename, os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, bake.NewError(bake.IO, err)
	}
	return f, false, nil
}
