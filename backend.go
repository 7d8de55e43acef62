package bake

import "context"

// BulkEndpoint is the RDMA-style bulk-transfer primitive the external RPC
// transport framework provides for one in-flight request (§1: "the RPC
// transport framework... provides bulk-transfer primitives"). Pull copies
// bytes from the remote side into buf (network -> local); Push copies
// bytes from buf to the remote side (local -> network). bulkOffset is
// relative to the request's bulk handle, i.e. the caller has already
// folded in region_offset/remote_offset bookkeeping.
type BulkEndpoint interface {
	Pull(ctx context.Context, bulkOffset uint64, buf []byte) error
	Push(ctx context.Context, bulkOffset uint64, buf []byte) error
}

// FreeFunc releases a buffer returned by an eager read. Per §4.4, the
// returned data pointer may sit inside an alignment-padded bounce buffer;
// FreeFunc encapsulates whatever adjustment is needed to release the
// underlying allocation.
type FreeFunc func()

// MigrationTarget names the destination of a region or target hand-off:
// a remote provider address, its numeric provider id, and (for a region
// migration) the destination target id.
type MigrationTarget struct {
	DestAddr       string
	DestProviderID uint16
	DestTargetID   TargetID
}

// FileSetShipper is the external file-set migration service collaborator
// (§1's "migration/file-set shipping service", the REMI service of §7).
// Whole-target migration enumerates a target's files into a file set and
// hands it to this collaborator; the core does not implement transport
// for the hand-off itself.
type FileSetShipper interface {
	ShipFileSet(ctx context.Context, files []string, destAddr string, destProviderID uint16, destRoot string) error
}

// Backend is the capability set every storage backend implements, per §9
// "Polymorphism across backends". CreateWritePersistRaw/Bulk are optional
// specializations: when a backend does not implement the richer interface,
// the dispatch layer falls back to the three-step composition; an error
// returned by an implemented specialization is passed through as-is.
type Backend interface {
	// Initialize prepares the backend context for a freshly attached or
	// freshly created target.
	Initialize(ctx context.Context) error
	// Finalize releases all resources owned by the backend context. It is
	// invoked exactly once, at detach or provider deregistration.
	Finalize(ctx context.Context) error

	// Create reserves a fresh region of the given size. Its contents are
	// undefined until written.
	Create(ctx context.Context, size uint64) (RegionID, error)

	// WriteRaw is the eager path: bytes are already in memory.
	WriteRaw(ctx context.Context, rid RegionID, offset uint64, data []byte) error
	// WriteBulk is the RDMA path: bytes are pulled from the remote endpoint.
	WriteBulk(ctx context.Context, rid RegionID, regionOffset, size uint64, remote BulkEndpoint) error

	// ReadRaw is the eager path: returns a buffer (and its release function)
	// containing the requested bytes at the correct offset.
	ReadRaw(ctx context.Context, rid RegionID, offset, size uint64) ([]byte, FreeFunc, error)
	// ReadBulk is the RDMA path: bytes are pushed to the remote endpoint.
	// Returns the number of bytes actually transferred.
	ReadBulk(ctx context.Context, rid RegionID, regionOffset, size uint64, remote BulkEndpoint) (uint64, error)

	// Persist is the durability barrier for the region (or, per the file
	// backend's full-log-sync limitation, the whole backing log).
	Persist(ctx context.Context, rid RegionID, offset, size uint64) error

	// GetRegionSize reports the size reserved for rid, or a bake.Error with
	// code OpUnsupported if the backend cannot answer (e.g. the memory backend without its
	// optional size header).
	GetRegionSize(ctx context.Context, rid RegionID) (uint64, error)
	// GetRegionData exposes the region's bytes directly for server-local
	// callers only (§6 get_data); never marshaled across the wire.
	GetRegionData(ctx context.Context, rid RegionID) ([]byte, error)

	// Remove deallocates rid. Neighboring regions in the same log/pool
	// must be unaffected.
	Remove(ctx context.Context, rid RegionID) error

	// MigrateRegion hands a region off to a destination provider/target,
	// optionally removing the source region on success.
	MigrateRegion(ctx context.Context, rid RegionID, size uint64, removeSrc bool, dst MigrationTarget) (RegionID, error)
}

// CreateWritePersistRawBackend is an optional Backend extension: a
// specialized combined create+write+persist for the eager path.
type CreateWritePersistRawBackend interface {
	CreateWritePersistRaw(ctx context.Context, size uint64, data []byte) (RegionID, error)
}

// CreateWritePersistBulkBackend is an optional Backend extension: a
// specialized combined create+write+persist for the bulk path.
type CreateWritePersistBulkBackend interface {
	CreateWritePersistBulk(ctx context.Context, size, regionOffset, bulkSize uint64, remote BulkEndpoint) (RegionID, error)
}

// TargetMigrator is an optional Backend extension implementing
// whole-target migration (§4.4 migrate_target) via a FileSetShipper.
type TargetMigrator interface {
	MigrateTarget(ctx context.Context, shipper FileSetShipper, removeSrc bool, destAddr string, destProviderID uint16, destRoot string) error
}
