package membackend

import "testing"

func TestPool_AllocBumpAndReuse(t *testing.T) {
	p := newPool(100)

	off1, err := p.alloc(40)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if off1 != 0 {
		t.Fatalf("first alloc offset = %d, want 0", off1)
	}

	off2, err := p.alloc(40)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if off2 != 40 {
		t.Fatalf("second alloc offset = %d, want 40", off2)
	}

	p.release(off1, 40)
	off3, err := p.alloc(30)
	if err != nil {
		t.Fatalf("alloc after release: %v", err)
	}
	if off3 != 0 {
		t.Fatalf("first-fit reuse offset = %d, want 0", off3)
	}
}

func TestPool_ExhaustionReturnsPmemError(t *testing.T) {
	p := newPool(10)
	if _, err := p.alloc(11); err == nil {
		t.Fatal("expected error allocating past pool capacity")
	}
}

func TestPool_BytesView(t *testing.T) {
	p := newPool(16)
	off, _ := p.alloc(8)
	view := p.bytes(off, 8)
	view[0] = 0x42
	if p.buf[off] != 0x42 {
		t.Fatal("bytes() did not return a view over the backing buffer")
	}
}
