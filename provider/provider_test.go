package provider

import (
	"context"
	"testing"

	"github.com/bake-hpc/bake"
	"github.com/bake-hpc/bake/membackend"
)

type fakeBulk struct {
	data []byte
}

func (f *fakeBulk) Pull(ctx context.Context, bulkOffset uint64, buf []byte) error {
	copy(buf, f.data[bulkOffset:])
	return nil
}

func (f *fakeBulk) Push(ctx context.Context, bulkOffset uint64, buf []byte) error {
	copy(f.data[bulkOffset:], buf)
	return nil
}

func newTestProvider(t *testing.T) (*Provider, bake.TargetID) {
	t.Helper()
	p := New(1, nil, nil, nil)
	id := bake.NewTargetID()
	be := membackend.New(id, 4096, true)
	if err := p.Attach(id, bake.BackendMem, be); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return p, id
}

func TestProvider_EagerCreateWritePersistReadRemove(t *testing.T) {
	ctx := context.Background()
	p, targetID := newTestProvider(t)

	payload := []byte("round trip through the dispatch layer")
	rid, err := p.EagerCreateWritePersist(ctx, targetID, payload)
	if err != nil {
		t.Fatalf("EagerCreateWritePersist: %v", err)
	}

	got, err := p.EagerRead(ctx, rid, 0, uint32(len(payload)))
	if err != nil {
		t.Fatalf("EagerRead: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("EagerRead = %q, want %q", got, payload)
	}

	size, err := p.GetSize(ctx, rid)
	if err != nil || size != uint64(len(payload)) {
		t.Fatalf("GetSize = (%d, %v), want (%d, nil)", size, err, len(payload))
	}

	if err := p.Remove(ctx, rid); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestProvider_CreateWritePersistBulk(t *testing.T) {
	ctx := context.Background()
	p, targetID := newTestProvider(t)

	payload := []byte("bulk path through create_write_persist")
	remote := &fakeBulk{data: payload}
	rid, err := p.CreateWritePersist(ctx, targetID, uint64(len(payload)), 0, uint64(len(payload)), remote)
	if err != nil {
		t.Fatalf("CreateWritePersist: %v", err)
	}

	out := &fakeBulk{data: make([]byte, len(payload))}
	n, err := p.Read(ctx, rid, 0, uint64(len(payload)), out)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != uint64(len(payload)) || string(out.data) != string(payload) {
		t.Fatal("bulk round trip through the dispatch layer mismatched")
	}
}

func TestProvider_TargetForResolvesEmbeddedTargetID(t *testing.T) {
	ctx := context.Background()
	p, targetID := newTestProvider(t)

	rid, err := p.Create(ctx, targetID, 32)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rid.TargetID() != targetID {
		t.Fatalf("region id embeds target %v, want %v", rid.TargetID(), targetID)
	}

	if _, err := p.GetSize(ctx, rid); err != nil {
		t.Fatalf("GetSize via embedded target id: %v", err)
	}
}

func TestProvider_UnknownTarget(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)
	if _, err := p.Create(ctx, bake.NewTargetID(), 32); bake.CodeOf(err) != bake.UnknownTarget {
		t.Fatalf("Create on unknown target code = %v, want UnknownTarget", bake.CodeOf(err))
	}
}

func TestProvider_Probe(t *testing.T) {
	p, id := newTestProvider(t)
	targets := p.Probe(0)
	if len(targets) != 1 || targets[0] != id {
		t.Fatalf("Probe() = %v, want [%v]", targets, id)
	}
}

func TestProvider_Deregister_IdempotentAndRunsCallbacks(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)

	calls := 0
	p.OnFinalize(func(context.Context) { calls++ })

	if err := p.Deregister(ctx); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if calls != 1 {
		t.Fatalf("finalize callback ran %d times, want 1", calls)
	}

	if err := p.Deregister(ctx); err != nil {
		t.Fatalf("second Deregister should be a no-op, got %v", err)
	}
	if calls != 1 {
		t.Fatal("finalize callback re-ran on second Deregister")
	}
}

func TestProvider_MigrateTarget_RequiresShipper(t *testing.T) {
	ctx := context.Background()
	p, targetID := newTestProvider(t)
	if err := p.MigrateTarget(ctx, targetID, false, "127.0.0.1:8080", 2, "/remote/root"); bake.CodeOf(err) != bake.Remi {
		t.Fatalf("MigrateTarget without shipper code = %v, want Remi", bake.CodeOf(err))
	}
}

func TestProvider_Noop(t *testing.T) {
	p, _ := newTestProvider(t)
	if err := p.Noop(context.Background()); err != nil {
		t.Fatalf("Noop: %v", err)
	}
}
