package filebackend

import (
	"context"

	"github.com/bake-hpc/bake"
)

// CreateWritePersistRaw satisfies bake.CreateWritePersistRawBackend,
// specializing the three-call composition (§4.4 create_write_persist_*)
// for the file backend. It runs Create, WriteRaw and Persist in turn,
// exactly as the dispatch layer's fallback does; allocation and the write
// do not share a log extension.
func (b *Backend) CreateWritePersistRaw(ctx context.Context, size uint64, data []byte) (bake.RegionID, error) {
	rid, err := b.Create(ctx, size)
	if err != nil {
		return bake.NilRegionID, err
	}
	if err := b.WriteRaw(ctx, rid, 0, data); err != nil {
		return bake.NilRegionID, err
	}
	if err := b.Persist(ctx, rid, 0, size); err != nil {
		return bake.NilRegionID, err
	}
	return rid, nil
}

// CreateWritePersistBulk satisfies bake.CreateWritePersistBulkBackend,
// the RDMA-path equivalent of CreateWritePersistRaw.
func (b *Backend) CreateWritePersistBulk(ctx context.Context, size, regionOffset, bulkSize uint64, remote bake.BulkEndpoint) (bake.RegionID, error) {
	rid, err := b.Create(ctx, size)
	if err != nil {
		return bake.NilRegionID, err
	}
	if err := b.WriteBulk(ctx, rid, regionOffset, bulkSize, remote); err != nil {
		return bake.NilRegionID, err
	}
	if err := b.Persist(ctx, rid, 0, size); err != nil {
		return bake.NilRegionID, err
	}
	return rid, nil
}
