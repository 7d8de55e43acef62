// Package membackend implements the persistent-memory-object-store
// backend described in spec.md §4.5: allocation via an object allocator,
// write via memcpy, persist via pmem_persist, remove via object_free.
//
// The real pmem object allocator and persistence primitives are listed
// in §1 as external collaborators out of scope for this repository; no
// Go binding for them exists among the example repos, so this package
// stands in with an in-process slab allocator over a single large byte
// buffer (simulating the memory-mapped pool file) and a Persist that is
// a true no-op, since ordinary Go heap memory carries no durability
// guarantee to simulate a flush for. See DESIGN.md for the justification.
package membackend

import (
	"fmt"
	"sync"

	"github.com/bake-hpc/bake"
)

// extent is a free byte range within the pool, tracked for first-fit
// reuse after Remove (§4.4 remove / §4.5 object_free).
type extent struct {
	offset uint64
	size   uint64
}

// pool is the in-process stand-in for a pmem pool file: a fixed-size
// byte buffer, a bump cursor, and a free list populated by Remove.
type pool struct {
	mu    sync.Mutex
	buf   []byte
	bump  uint64
	free  []extent
}

func newPool(size int64) *pool {
	return &pool{buf: make([]byte, size)}
}

// alloc reserves size bytes, reusing a free extent via first-fit before
// falling back to bumping the cursor. It is the object_alloc primitive
// of §4.5.
func (p *pool) alloc(size uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, e := range p.free {
		if e.size >= size {
			p.free = append(p.free[:i], p.free[i+1:]...)
			if e.size > size {
				p.free = append(p.free, extent{offset: e.offset + size, size: e.size - size})
			}
			return e.offset, nil
		}
	}
	if p.bump+size > uint64(len(p.buf)) {
		return 0, bake.NewError(bake.Pmem, errPoolExhausted{requested: size, remaining: uint64(len(p.buf)) - p.bump})
	}
	off := p.bump
	p.bump += size
	return off, nil
}

// release returns [offset, offset+size) to the free list for reuse
// (object_free). Adjacent-extent coalescing is not implemented — the
// same no-compaction tradeoff the file backend's log allocator makes.
func (p *pool) release(offset, size uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, extent{offset: offset, size: size})
}

func (p *pool) bytes(offset, size uint64) []byte {
	return p.buf[offset : offset+size]
}

// len reports the pool's total buffer size, for bounds-checking a region
// id's offset/size against the actual backing allocation before indexing
// into it (see resolve in backend.go).
func (p *pool) len() uint64 {
	return uint64(len(p.buf))
}

type errPoolExhausted struct {
	requested, remaining uint64
}

func (e errPoolExhausted) Error() string {
	return fmt.Sprintf("pmem pool exhausted: requested %d, %d remaining", e.requested, e.remaining)
}
