package membackend

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/bake-hpc/bake"
	"github.com/bake-hpc/bake/provider"
	"github.com/bake-hpc/bake/provider/transport"
)

// fakeBulk is a minimal bake.BulkEndpoint backed by an in-memory slice,
// standing in for a real RDMA bulk handle in tests.
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

func TestBackend_CreateWriteReadRemove(t *testing.T) {
	ctx := context.Background()
	b := New(bake.NewTargetID(), 4096, true)

	rid, err := b.Create(ctx, 64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	payload := []byte("hello, bake")
	if err := b.WriteRaw(ctx, rid, 0, payload); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	if err := b.Persist(ctx, rid, 0, 64); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	got, free, err := b.ReadRaw(ctx, rid, 0, uint64(len(payload)))
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	defer free()
	if string(got) != string(payload) {
		t.Fatalf("ReadRaw = %q, want %q", got, payload)
	}

	size, err := b.GetRegionSize(ctx, rid)
	if err != nil || size != 64 {
		t.Fatalf("GetRegionSize = (%d, %v), want (64, nil)", size, err)
	}

	if err := b.Remove(ctx, rid); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestBackend_BulkRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := New(bake.NewTargetID(), 4096, false)

	rid, err := b.Create(ctx, 32)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	remote := &fakeBulk{data: []byte("0123456789abcdef0123456789abcdef")}
	if err := b.WriteBulk(ctx, rid, 0, 32, remote); err != nil {
		t.Fatalf("WriteBulk: %v", err)
	}

	out := &fakeBulk{data: make([]byte, 32)}
	n, err := b.ReadBulk(ctx, rid, 0, 32, out)
	if err != nil {
		t.Fatalf("ReadBulk: %v", err)
	}
	if n != 32 || string(out.data) != string(remote.data) {
		t.Fatalf("ReadBulk round-trip mismatch: n=%d data=%q", n, out.data)
	}
}

func TestBackend_GetRegionSize_UnsupportedWithoutHeader(t *testing.T) {
	ctx := context.Background()
	b := New(bake.NewTargetID(), 4096, false)
	rid, _ := b.Create(ctx, 16)
	if _, err := b.GetRegionSize(ctx, rid); bake.CodeOf(err) != bake.OpUnsupported {
		t.Fatalf("GetRegionSize code = %v, want OpUnsupported", bake.CodeOf(err))
	}
}

func TestBackend_RejectsForeignRegionID(t *testing.T) {
	ctx := context.Background()
	a := New(bake.NewTargetID(), 4096, true)
	b := New(bake.NewTargetID(), 4096, true)

	rid, _ := a.Create(ctx, 16)
	if _, err := b.GetRegionSize(ctx, rid); bake.CodeOf(err) != bake.UnknownRegion {
		t.Fatalf("cross-backend region id code = %v, want UnknownRegion", bake.CodeOf(err))
	}
}

func TestBackend_RejectsOffsetForgedBeyondPoolBounds(t *testing.T) {
	ctx := context.Background()
	targetID := bake.NewTargetID()
	b := New(targetID, 64, true)

	// A legitimate region, just to get a backend-matching Tag/TargetID/
	// PoolUUIDLo combination to forge from.
	rid, err := b.Create(ctx, 8)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	legit := rid.MemRegionPayload()

	forged := bake.NewMemRegionID(bake.MemRegionPayload{
		TargetID:   legit.TargetID,
		PoolUUIDLo: legit.PoolUUIDLo,
		Offset:     1 << 20,
		Size:       8,
	})

	if _, _, err := b.ReadRaw(ctx, forged, 0, 8); bake.CodeOf(err) != bake.UnknownRegion {
		t.Fatalf("ReadRaw with forged out-of-bounds offset code = %v, want UnknownRegion", bake.CodeOf(err))
	}
	if err := b.WriteRaw(ctx, forged, 0, []byte("12345678")); bake.CodeOf(err) != bake.UnknownRegion {
		t.Fatalf("WriteRaw with forged out-of-bounds offset code = %v, want UnknownRegion", bake.CodeOf(err))
	}
	if err := b.Remove(ctx, forged); bake.CodeOf(err) != bake.UnknownRegion {
		t.Fatalf("Remove with forged out-of-bounds offset code = %v, want UnknownRegion", bake.CodeOf(err))
	}
}

func TestBackend_MigrateRegionToRemoteProvider(t *testing.T) {
	ctx := context.Background()

	destTargetID := bake.NewTargetID()
	destProvider := provider.New(9, nil, nil, nil)
	if err := destProvider.Attach(destTargetID, bake.BackendMem, New(destTargetID, 1<<16, true)); err != nil {
		t.Fatalf("attach destination target: %v", err)
	}
	destServer := transport.NewServer()
	destServer.Register(destProvider)
	dest := httptest.NewServer(destServer.Handler())
	defer dest.Close()

	b := New(bake.NewTargetID(), 4096, true)
	payload := []byte("migrate me between pmem pools")
	rid, err := b.Create(ctx, uint64(len(payload)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.WriteRaw(ctx, rid, 0, payload); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}

	destRid, err := b.MigrateRegion(ctx, rid, uint64(len(payload)), true, bake.MigrationTarget{
		DestAddr:       dest.URL,
		DestProviderID: 9,
		DestTargetID:   destTargetID,
	})
	if err != nil {
		t.Fatalf("MigrateRegion: %v", err)
	}

	got, err := destProvider.EagerRead(ctx, destRid, 0, uint32(len(payload)))
	if err != nil {
		t.Fatalf("EagerRead on destination: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("migrated data = %q, want %q", got, payload)
	}
	// MigrateRegion only returns nil when the removeSrc release itself
	// succeeded, so reaching here already confirms the source was freed.
}

func TestBackend_OutOfBoundsWrite(t *testing.T) {
	ctx := context.Background()
	b := New(bake.NewTargetID(), 4096, true)
	rid, _ := b.Create(ctx, 4)
	if err := b.WriteRaw(ctx, rid, 0, []byte("too long")); bake.CodeOf(err) != bake.OutOfBounds {
		t.Fatalf("oversized write code = %v, want OutOfBounds", bake.CodeOf(err))
	}
}
