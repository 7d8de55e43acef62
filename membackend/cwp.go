package membackend

import (
	"context"

	"github.com/bake-hpc/bake"
)

// CreateWritePersistRaw satisfies bake.CreateWritePersistRawBackend.
func (b *Backend) CreateWritePersistRaw(ctx context.Context, size uint64, data []byte) (bake.RegionID, error) {
	rid, err := b.Create(ctx, size)
	if err != nil {
		return bake.NilRegionID, err
	}
	if err := b.WriteRaw(ctx, rid, 0, data); err != nil {
		return bake.NilRegionID, err
	}
	return rid, b.Persist(ctx, rid, 0, size)
}

// CreateWritePersistBulk satisfies bake.CreateWritePersistBulkBackend.
func (b *Backend) CreateWritePersistBulk(ctx context.Context, size, regionOffset, bulkSize uint64, remote bake.BulkEndpoint) (bake.RegionID, error) {
	rid, err := b.Create(ctx, size)
	if err != nil {
		return bake.NilRegionID, err
	}
	if err := b.WriteBulk(ctx, rid, regionOffset, bulkSize, remote); err != nil {
		return bake.NilRegionID, err
	}
	return rid, b.Persist(ctx, rid, 0, size)
}
