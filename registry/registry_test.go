package registry

import (
	"context"
	"testing"

	"github.com/bake-hpc/bake"
)

type fakeBackend struct {
	bake.Backend
	finalized int
	failClose bool
}

func (f *fakeBackend) Finalize(ctx context.Context) error {
	f.finalized++
	if f.failClose {
		return bake.NewError(bake.IO, context.DeadlineExceeded)
	}
	return nil
}

func TestRegistry_AddLookupRemove(t *testing.T) {
	r := New()
	id := bake.NewTargetID()
	be := &fakeBackend{}

	if err := r.Add(&Target{ID: id, Tag: bake.BackendMem, Backend: be}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(&Target{ID: id, Tag: bake.BackendMem, Backend: be}); bake.CodeOf(err) != bake.Exist {
		t.Fatalf("duplicate Add code = %v, want Exist", bake.CodeOf(err))
	}

	got, err := r.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.ID != id {
		t.Fatalf("Lookup returned wrong target: %v", got.ID)
	}
	r.Unlock()

	removed, err := r.Remove(id)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed.ID != id {
		t.Fatalf("Remove returned wrong target: %v", removed.ID)
	}

	if _, err := r.Lookup(id); bake.CodeOf(err) != bake.UnknownTarget {
		t.Fatalf("Lookup after Remove code = %v, want UnknownTarget", bake.CodeOf(err))
	}
}

func TestRegistry_List(t *testing.T) {
	r := New()
	ids := make([]bake.TargetID, 5)
	for i := range ids {
		ids[i] = bake.NewTargetID()
		r.Add(&Target{ID: ids[i], Tag: bake.BackendFile, Backend: &fakeBackend{}})
	}

	if got := r.List(0); len(got) != 5 {
		t.Fatalf("List(0) returned %d targets, want 5", len(got))
	}
	if got := r.List(2); len(got) != 2 {
		t.Fatalf("List(2) returned %d targets, want 2", len(got))
	}
}

func TestRegistry_FinalizeAll_IdempotentAndDrains(t *testing.T) {
	r := New()
	be1 := &fakeBackend{}
	be2 := &fakeBackend{failClose: true}
	r.Add(&Target{ID: bake.NewTargetID(), Tag: bake.BackendMem, Backend: be1})
	r.Add(&Target{ID: bake.NewTargetID(), Tag: bake.BackendMem, Backend: be2})

	ctx := context.Background()
	err := r.FinalizeAll(ctx)
	if bake.CodeOf(err) != bake.IO {
		t.Fatalf("FinalizeAll first error code = %v, want IO (from be2)", bake.CodeOf(err))
	}
	if be1.finalized != 1 || be2.finalized != 1 {
		t.Fatalf("expected each backend finalized once, got %d and %d", be1.finalized, be2.finalized)
	}

	if err := r.FinalizeAll(ctx); err != nil {
		t.Fatalf("second FinalizeAll on drained registry should be a no-op, got %v", err)
	}
	if be1.finalized != 1 || be2.finalized != 1 {
		t.Fatal("second FinalizeAll re-finalized an already-drained target")
	}
}
