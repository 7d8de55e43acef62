package membackend

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/bake-hpc/bake"
	"github.com/bake-hpc/bake/provider/transport"
	"github.com/google/uuid"
)

// sizeHeaderBytes is the width of the optional size header written at the
// start of an object when Backend is constructed WithSizeHeader, mirroring
// the "optional compile-time header" of §4.5.
const sizeHeaderBytes = 8

// Backend implements bake.Backend over a single in-process pmem pool
// simulation (§4.5). Unlike the file backend it has no pipelining
// engine: bulk transfers allocate one transport bulk handle over the
// object's bytes and issue a single RDMA call, per §4.5's "The backend
// has no pipelining engine."
type Backend struct {
	id         bake.TargetID
	poolUUIDLo uint64
	pool       *pool
	hasHeader  bool
}

// New constructs a memory backend over a freshly allocated pool of
// initialSize bytes, identified by targetID (also the region id's
// pool_uuid_lo source, its low 8 bytes, per §3's memory-backend payload
// shape). hasSizeHeader enables the optional size header and therefore
// GetRegionSize/bounds checks (§4.5).
func New(targetID bake.TargetID, initialSize int64, hasSizeHeader bool) *Backend {
	lo := binary.BigEndian.Uint64(uuid.UUID(targetID)[8:16])
	return &Backend{
		id:         targetID,
		poolUUIDLo: lo,
		pool:       newPool(initialSize),
		hasHeader:  hasSizeHeader,
	}
}

// ID returns the target id this backend was constructed for.
func (b *Backend) ID() bake.TargetID {
	return b.id
}

// Initialize is a no-op: the pool is fully usable as soon as New returns.
func (b *Backend) Initialize(ctx context.Context) error { return nil }

// Finalize is a no-op: the pool is ordinary Go heap memory, released by
// the garbage collector once the Backend is dropped.
func (b *Backend) Finalize(ctx context.Context) error { return nil }

// Create allocates a fresh object of the given size, prefixed by the
// optional size header when enabled (§4.5 object_alloc).
func (b *Backend) Create(ctx context.Context, size uint64) (bake.RegionID, error) {
	total := size
	if b.hasHeader {
		total += sizeHeaderBytes
	}
	offset, err := b.pool.alloc(total)
	if err != nil {
		return bake.NilRegionID, err
	}
	if b.hasHeader {
		binary.BigEndian.PutUint64(b.pool.bytes(offset, sizeHeaderBytes), size)
		offset += sizeHeaderBytes
	}
	return bake.NewMemRegionID(bake.MemRegionPayload{
		TargetID:   b.id,
		PoolUUIDLo: b.poolUUIDLo,
		Offset:     offset,
		Size:       size,
	}), nil
}

// WriteRaw is memcpy into the object's bytes at offset (§4.5 write).
func (b *Backend) WriteRaw(ctx context.Context, rid bake.RegionID, offset uint64, data []byte) error {
	p, err := b.resolve(rid)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > p.Size {
		return bake.NewError(bake.OutOfBounds, fmt.Errorf("write: offset %d + size %d exceeds region size %d", offset, len(data), p.Size))
	}
	copy(b.pool.bytes(p.Offset, p.Size)[offset:], data)
	return nil
}

// WriteBulk allocates a single bulk handle over the object's bytes and
// issues one RDMA pull, since the memory backend has no pipelining
// engine (§4.5).
func (b *Backend) WriteBulk(ctx context.Context, rid bake.RegionID, regionOffset, size uint64, remote bake.BulkEndpoint) error {
	p, err := b.resolve(rid)
	if err != nil {
		return err
	}
	if regionOffset+size > p.Size {
		return bake.NewError(bake.OutOfBounds, fmt.Errorf("write_bulk: region_offset %d + size %d exceeds region size %d", regionOffset, size, p.Size))
	}
	dst := b.pool.bytes(p.Offset, p.Size)[regionOffset : regionOffset+size]
	if err := remote.Pull(ctx, 0, dst); err != nil {
		return bake.NewError(bake.Mercury, err)
	}
	return nil
}

// ReadRaw returns a direct view into the object's bytes; the FreeFunc is
// a no-op since there is no bounce buffer to release for the memory
// backend (§4.5 has no alignment requirement on the pool bytes
// themselves, unlike the file backend's log extents).
func (b *Backend) ReadRaw(ctx context.Context, rid bake.RegionID, offset, size uint64) ([]byte, bake.FreeFunc, error) {
	p, err := b.resolve(rid)
	if err != nil {
		return nil, nil, err
	}
	if offset+size > p.Size {
		return nil, nil, bake.NewError(bake.OutOfBounds, fmt.Errorf("read: offset %d + size %d exceeds region size %d", offset, size, p.Size))
	}
	return b.pool.bytes(p.Offset, p.Size)[offset : offset+size], func() {}, nil
}

// ReadBulk issues a single RDMA push over the object's bytes.
func (b *Backend) ReadBulk(ctx context.Context, rid bake.RegionID, regionOffset, size uint64, remote bake.BulkEndpoint) (uint64, error) {
	p, err := b.resolve(rid)
	if err != nil {
		return 0, err
	}
	if regionOffset+size > p.Size {
		return 0, bake.NewError(bake.OutOfBounds, fmt.Errorf("read_bulk: region_offset %d + size %d exceeds region size %d", regionOffset, size, p.Size))
	}
	src := b.pool.bytes(p.Offset, p.Size)[regionOffset : regionOffset+size]
	if err := remote.Push(ctx, 0, src); err != nil {
		return 0, bake.NewError(bake.Mercury, err)
	}
	return size, nil
}

// Persist is pmem_persist(ptr, size): a true no-op here, since ordinary
// Go heap memory has no durability barrier to simulate (§4.5, DESIGN.md).
func (b *Backend) Persist(ctx context.Context, rid bake.RegionID, offset, size uint64) error {
	_, err := b.resolve(rid)
	return err
}

// GetRegionSize returns the region's size when the optional size header
// is enabled, otherwise OpUnsupported (§4.5 "when absent... return
// unsupported").
func (b *Backend) GetRegionSize(ctx context.Context, rid bake.RegionID) (uint64, error) {
	if !b.hasHeader {
		return 0, bake.NewError(bake.OpUnsupported, fmt.Errorf("get_size: backend has no size header"))
	}
	p, err := b.resolve(rid)
	if err != nil {
		return 0, err
	}
	return p.Size, nil
}

// GetRegionData is the server-local-only accessor (§6 get_data).
func (b *Backend) GetRegionData(ctx context.Context, rid bake.RegionID) ([]byte, error) {
	p, err := b.resolve(rid)
	if err != nil {
		return nil, err
	}
	return b.pool.bytes(p.Offset, p.Size), nil
}

// Remove frees the object (§4.5 object_free). When the size header is
// enabled, the header word is also released by walking the offset back.
func (b *Backend) Remove(ctx context.Context, rid bake.RegionID) error {
	p, err := b.resolve(rid)
	if err != nil {
		return err
	}
	offset, size := p.Offset, p.Size
	if b.hasHeader {
		offset -= sizeHeaderBytes
		size += sizeHeaderBytes
	}
	b.pool.release(offset, size)
	return nil
}

// MigrateRegion hands a region off as a client-style create-write-persist
// to the destination, followed by optional source removal on success
// (§4.4 migrate_region), using the same provider/transport.Client wire
// contract the file backend's MigrateRegion does.
func (b *Backend) MigrateRegion(ctx context.Context, rid bake.RegionID, size uint64, removeSrc bool, dst bake.MigrationTarget) (bake.RegionID, error) {
	data, free, err := b.ReadRaw(ctx, rid, 0, size)
	if err != nil {
		return bake.NilRegionID, err
	}
	defer free()

	destRid, err := (&transport.Client{}).MigrateRegion(ctx, dst, data)
	if err != nil {
		return bake.NilRegionID, err
	}
	if removeSrc {
		if err := b.Remove(ctx, rid); err != nil {
			return bake.NilRegionID, err
		}
	}
	return destRid, nil
}

func (b *Backend) resolve(rid bake.RegionID) (bake.MemRegionPayload, error) {
	if rid.Tag() != bake.BackendMem {
		return bake.MemRegionPayload{}, bake.NewError(bake.BackendType, fmt.Errorf("region id is not a memory-backend region"))
	}
	p := rid.MemRegionPayload()
	if p.TargetID != b.id || p.PoolUUIDLo != b.poolUUIDLo {
		return bake.MemRegionPayload{}, bake.NewError(bake.UnknownRegion, fmt.Errorf("region id belongs to a different pool"))
	}
	if p.Offset+p.Size > b.pool.len() {
		return bake.MemRegionPayload{}, bake.NewError(bake.UnknownRegion, fmt.Errorf("region id offset %d + size %d exceeds pool bounds %d", p.Offset, p.Size, b.pool.len()))
	}
	return p, nil
}
