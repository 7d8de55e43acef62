// Package provider implements the dispatch layer described in spec.md
// §4.6: one handler per wire endpoint, each resolving a target through
// the registry, calling into the backend contract, and returning a
// result alongside the closed bake.ErrorCode enumeration. It is
// transport-agnostic — provider/transport binds these methods to actual
// RPC endpoints.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/bake-hpc/bake"
	"github.com/bake-hpc/bake/config"
	"github.com/bake-hpc/bake/registry"
	"github.com/bake-hpc/bake/transfer"
)

// Provider is one provider instance (§3 "Provider (in memory)"):
// {transport_handle, handler_executor, registry_rwlock, targets,
// staging_poolset, config_tree}. The transport_handle and
// handler_executor live in provider/transport and the async-I/O pool
// respectively; this struct owns the rest.
type Provider struct {
	ID      uint16
	Config  *config.Tree
	Poolset *transfer.Poolset
	Shipper bake.FileSetShipper

	registry *registry.Registry

	mu         sync.Mutex
	onFinalize []func(context.Context)
}

// New constructs a Provider bound to id, configured by cfg. shipper may
// be nil if migrate_target is never invoked against this provider.
func New(id uint16, cfg *config.Tree, poolset *transfer.Poolset, shipper bake.FileSetShipper) *Provider {
	return &Provider{
		ID:       id,
		Config:   cfg,
		Poolset:  poolset,
		Shipper:  shipper,
		registry: registry.New(),
	}
}

// OnFinalize registers cb to run exactly once at Deregister, mirroring
// bake-provider.h's finalize-callback list (SUPPLEMENTED FEATURES #2).
func (p *Provider) OnFinalize(cb func(context.Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFinalize = append(p.onFinalize, cb)
}

// Attach registers an already-constructed backend under id, transitioning
// the provider's lifecycle state from "registered" to "registered + N
// targets attached" (§4.6 "Provider lifecycle").
func (p *Provider) Attach(id bake.TargetID, tag bake.BackendTag, backend bake.Backend) error {
	if err := backend.Initialize(context.Background()); err != nil {
		return err
	}
	return p.registry.Add(&registry.Target{ID: id, Tag: tag, Backend: backend})
}

// Detach removes and finalizes the target with id.
func (p *Provider) Detach(ctx context.Context, id bake.TargetID) error {
	t, err := p.registry.Remove(id)
	if err != nil {
		return err
	}
	return t.Backend.Finalize(ctx)
}

// Deregister detaches and finalizes every attached target exactly once,
// then runs every registered finalize callback, and is idempotent with
// respect to a provider that has already been deregistered (§4.6).
func (p *Provider) Deregister(ctx context.Context) error {
	err := p.registry.FinalizeAll(ctx)
	p.mu.Lock()
	cbs := p.onFinalize
	p.onFinalize = nil
	p.mu.Unlock()
	for _, cb := range cbs {
		cb(ctx)
	}
	return err
}

// Probe returns the current set of target ids, per §4.6/§6: it needs no
// specific target and never fails.
func (p *Provider) Probe(maxTargets uint64) []bake.TargetID {
	return p.registry.List(maxTargets)
}

// Noop acknowledges without touching the registry, used for latency
// measurement (§4.6, cmd/bblatency).
func (p *Provider) Noop(ctx context.Context) error {
	return nil
}

// Create allocates a fresh region on targetID (§6 create).
func (p *Provider) Create(ctx context.Context, targetID bake.TargetID, size uint64) (bake.RegionID, error) {
	t, err := p.registry.Lookup(targetID)
	if err != nil {
		return bake.NilRegionID, err
	}
	defer p.registry.Unlock()
	return t.Backend.Create(ctx, size)
}

// targetFor resolves the owning target for rid purely from the bytes
// embedded in the region id, matching the original wire protocol's
// write/read/persist/remove/get_size/get_data requests, which carry no
// separate target_id field (see bake-rpc.h's bake_write_in_t, whose bti
// field is commented out of the struct entirely).
func (p *Provider) targetFor(rid bake.RegionID) (*registry.Target, error) {
	return p.registry.Lookup(rid.TargetID())
}

// Write is the bulk path (§6 write): the engine pulls bytes from the
// remote endpoint into the region.
func (p *Provider) Write(ctx context.Context, rid bake.RegionID, regionOffset, bulkSize uint64, remote bake.BulkEndpoint) error {
	t, err := p.targetFor(rid)
	if err != nil {
		return err
	}
	defer p.registry.Unlock()
	return t.Backend.WriteBulk(ctx, rid, regionOffset, bulkSize, remote)
}

// EagerWrite is the inline path (§6 eager_write): bytes already in
// memory are copied directly into the region. Per §4.7's
// file_backend.eager_limit_bytes, callers are expected to route payloads
// above the limit to Write instead; Provider does not itself reject an
// oversized eager_write; the backend's own bounds checks still apply.
func (p *Provider) EagerWrite(ctx context.Context, rid bake.RegionID, regionOffset uint64, data []byte) error {
	t, err := p.targetFor(rid)
	if err != nil {
		return err
	}
	defer p.registry.Unlock()
	return t.Backend.WriteRaw(ctx, rid, regionOffset, data)
}

// Read is the bulk path (§6 read): the engine pushes bytes from the
// region to the remote endpoint, returning the number of bytes moved.
func (p *Provider) Read(ctx context.Context, rid bake.RegionID, regionOffset, bulkSize uint64, remote bake.BulkEndpoint) (uint64, error) {
	t, err := p.targetFor(rid)
	if err != nil {
		return 0, err
	}
	defer p.registry.Unlock()
	return t.Backend.ReadBulk(ctx, rid, regionOffset, bulkSize, remote)
}

// EagerRead is the inline path (§6 eager_read): bytes are copied into a
// buffer and returned directly in the response.
func (p *Provider) EagerRead(ctx context.Context, rid bake.RegionID, regionOffset uint64, size uint32) ([]byte, error) {
	t, err := p.targetFor(rid)
	if err != nil {
		return nil, err
	}
	defer p.registry.Unlock()
	data, free, err := t.Backend.ReadRaw(ctx, rid, regionOffset, uint64(size))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	free()
	return out, nil
}

// Persist is the durability barrier (§6 persist).
func (p *Provider) Persist(ctx context.Context, rid bake.RegionID, offset, size uint64) error {
	t, err := p.targetFor(rid)
	if err != nil {
		return err
	}
	defer p.registry.Unlock()
	return t.Backend.Persist(ctx, rid, offset, size)
}

// CreateWritePersist is the bulk create+write+persist composition (§6
// create_write_persist): specialized backends implement it directly via
// bake.CreateWritePersistBulkBackend; others fall back to the three-call
// sequence.
func (p *Provider) CreateWritePersist(ctx context.Context, targetID bake.TargetID, regionSize, regionOffset, bulkSize uint64, remote bake.BulkEndpoint) (bake.RegionID, error) {
	t, err := p.registry.Lookup(targetID)
	if err != nil {
		return bake.NilRegionID, err
	}
	defer p.registry.Unlock()
	if cwp, ok := t.Backend.(bake.CreateWritePersistBulkBackend); ok {
		return cwp.CreateWritePersistBulk(ctx, regionSize, regionOffset, bulkSize, remote)
	}
	rid, err := t.Backend.Create(ctx, regionSize)
	if err != nil {
		return bake.NilRegionID, err
	}
	if err := t.Backend.WriteBulk(ctx, rid, regionOffset, bulkSize, remote); err != nil {
		return bake.NilRegionID, err
	}
	if err := t.Backend.Persist(ctx, rid, 0, regionSize); err != nil {
		return bake.NilRegionID, err
	}
	return rid, nil
}

// EagerCreateWritePersist is the inline create+write+persist composition
// (§6 eager_create_write_persist).
func (p *Provider) EagerCreateWritePersist(ctx context.Context, targetID bake.TargetID, data []byte) (bake.RegionID, error) {
	t, err := p.registry.Lookup(targetID)
	if err != nil {
		return bake.NilRegionID, err
	}
	defer p.registry.Unlock()
	size := uint64(len(data))
	if cwp, ok := t.Backend.(bake.CreateWritePersistRawBackend); ok {
		return cwp.CreateWritePersistRaw(ctx, size, data)
	}
	rid, err := t.Backend.Create(ctx, size)
	if err != nil {
		return bake.NilRegionID, err
	}
	if err := t.Backend.WriteRaw(ctx, rid, 0, data); err != nil {
		return bake.NilRegionID, err
	}
	if err := t.Backend.Persist(ctx, rid, 0, size); err != nil {
		return bake.NilRegionID, err
	}
	return rid, nil
}

// GetSize reports the region's reserved size (§6 get_size).
func (p *Provider) GetSize(ctx context.Context, rid bake.RegionID) (uint64, error) {
	t, err := p.targetFor(rid)
	if err != nil {
		return 0, err
	}
	defer p.registry.Unlock()
	return t.Backend.GetRegionSize(ctx, rid)
}

// GetData is the server-local-only accessor (§6 get_data,
// SUPPLEMENTED FEATURES #4); provider/transport must never expose this
// over a remote-facing route.
func (p *Provider) GetData(ctx context.Context, rid bake.RegionID) ([]byte, error) {
	t, err := p.targetFor(rid)
	if err != nil {
		return nil, err
	}
	defer p.registry.Unlock()
	return t.Backend.GetRegionData(ctx, rid)
}

// Remove deallocates rid (§6 remove).
func (p *Provider) Remove(ctx context.Context, rid bake.RegionID) error {
	t, err := p.targetFor(rid)
	if err != nil {
		return err
	}
	defer p.registry.Unlock()
	return t.Backend.Remove(ctx, rid)
}

// MigrateRegion hands a region off to a destination provider/target (§6
// migrate_region). The read lock is held for the duration, per §4.6
// ("Target-migration acquires the write lock" refers to migrate_target,
// not migrate_region, which operates on one already-resolved region).
func (p *Provider) MigrateRegion(ctx context.Context, sourceRid bake.RegionID, size uint64, removeSrc bool, dst bake.MigrationTarget) (bake.RegionID, error) {
	t, err := p.targetFor(sourceRid)
	if err != nil {
		return bake.NilRegionID, err
	}
	defer p.registry.Unlock()
	return t.Backend.MigrateRegion(ctx, sourceRid, size, removeSrc, dst)
}

// MigrateTarget hands a whole target off to an external file-set shipping
// service (§6 migrate_target). When removeSrc is set, the registry write
// lock is held only while the target is removed from this provider; the
// hand-off itself then runs with no registry lock held. Otherwise the
// hand-off runs under the registry read lock.
func (p *Provider) MigrateTarget(ctx context.Context, targetID bake.TargetID, removeSrc bool, destAddr string, destProviderID uint16, destRoot string) error {
	if p.Shipper == nil {
		return bake.NewError(bake.Remi, fmt.Errorf("migrate_target: no file-set shipper configured"))
	}
	if removeSrc {
		t, err := p.registry.Remove(targetID)
		if err != nil {
			return err
		}
		migrator, ok := t.Backend.(bake.TargetMigrator)
		if !ok {
			return bake.NewError(bake.OpUnsupported, fmt.Errorf("migrate_target: backend does not support whole-target migration"))
		}
		return migrator.MigrateTarget(ctx, p.Shipper, true, destAddr, destProviderID, destRoot)
	}
	t, err := p.registry.Lookup(targetID)
	if err != nil {
		return err
	}
	defer p.registry.Unlock()
	migrator, ok := t.Backend.(bake.TargetMigrator)
	if !ok {
		return bake.NewError(bake.OpUnsupported, fmt.Errorf("migrate_target: backend does not support whole-target migration"))
	}
	return migrator.MigrateTarget(ctx, p.Shipper, false, destAddr, destProviderID, destRoot)
}
