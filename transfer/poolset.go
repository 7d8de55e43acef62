// Package transfer implements the staging poolset (spec.md §4.2) and the
// bulk transfer engine (§4.3) shared by any backend that pipelines RDMA
// transfers against block-aligned log extents.
package transfer

import (
	"context"
	"fmt"

	"github.com/bake-hpc/bake"
	"github.com/ncw/directio"
)

// pool is one size class of the poolset: buffersPerPool buffers, each
// bufSize bytes, pre-allocated and alignment-aligned via directio so they
// can be registered with the RPC transport as bulk endpoints without
// per-I/O registration cost.
type pool struct {
	bufSize int
	free    chan []byte
}

// Poolset is a fixed collection of pre-allocated, alignment-aligned RAM
// buffers organized into pool_count size classes, geometrically spaced by
// size_multiplier starting at smallest_buffer_bytes.
type Poolset struct {
	pools []*pool
}

// NewPoolset builds a Poolset per the four configuration integers in
// §4.2: poolCount pools, buffersPerPool buffers each, the smallest pool
// sized smallestBufferBytes, each subsequent pool sizeMultiplier times
// larger than the last.
func NewPoolset(poolCount, buffersPerPool, smallestBufferBytes, sizeMultiplier int) *Poolset {
	ps := &Poolset{pools: make([]*pool, poolCount)}
	size := smallestBufferBytes
	for k := 0; k < poolCount; k++ {
		p := &pool{bufSize: size, free: make(chan []byte, buffersPerPool)}
		for i := 0; i < buffersPerPool; i++ {
			p.free <- directio.AlignedBlock(size)
		}
		ps.pools[k] = p
		size *= sizeMultiplier
	}
	return ps
}

// MaxBufferSize reports the largest pool's buffer size, the ceiling the
// transfer engine splits chunks at.
func (ps *Poolset) MaxBufferSize() int {
	return ps.pools[len(ps.pools)-1].bufSize
}

// Buffer is a staging buffer checked out of a Poolset. Bytes returns a
// view sized to exactly n bytes of the underlying alignment-aligned
// allocation; the allocation itself is always the owning pool's full
// bufSize so it remains safe to hand back to Release.
type Buffer struct {
	pool *pool
	raw  []byte
}

// Bytes returns the first n bytes of the buffer's backing storage.
func (b *Buffer) Bytes(n int) []byte {
	return b.raw[:n]
}

// Acquire blocks until a buffer from the smallest pool whose buffer size
// is >= minSize is available, then returns it with exclusive ownership.
func (ps *Poolset) Acquire(ctx context.Context, minSize int) (*Buffer, error) {
	for _, p := range ps.pools {
		if p.bufSize < minSize {
			continue
		}
		select {
		case raw := <-p.free:
			return &Buffer{pool: p, raw: raw}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, bake.NewError(bake.InvalidArg, fmt.Errorf("no staging pool large enough for %d bytes (max %d)", minSize, ps.MaxBufferSize()))
}

// Release returns buf to its owning pool.
func (ps *Poolset) Release(buf *Buffer) {
	buf.pool.free <- buf.raw
}
