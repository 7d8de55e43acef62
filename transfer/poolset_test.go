package transfer

import (
	"context"
	"testing"
)

func TestPoolset_AcquireReleaseSizeClasses(t *testing.T) {
	ps := NewPoolset(3, 2, 64, 4) // pools of 64, 256, 1024 bytes

	if got := ps.MaxBufferSize(); got != 1024 {
		t.Fatalf("MaxBufferSize() = %d, want 1024", got)
	}

	buf, err := ps.Acquire(context.Background(), 100)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(buf.Bytes(100)) != 100 {
		t.Fatalf("Bytes(100) length = %d, want 100", len(buf.Bytes(100)))
	}
	ps.Release(buf)
}

func TestPoolset_AcquireTooLarge(t *testing.T) {
	ps := NewPoolset(2, 1, 64, 2) // pools of 64, 128 bytes
	if _, err := ps.Acquire(context.Background(), 1<<20); err == nil {
		t.Fatal("expected error acquiring a buffer larger than every pool")
	}
}

func TestPoolset_AcquireBlocksUntilReleased(t *testing.T) {
	ps := NewPoolset(1, 1, 64, 1)
	buf, err := ps.Acquire(context.Background(), 64)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ps.Acquire(ctx, 64); err == nil {
		t.Fatal("expected context cancellation error when pool is exhausted")
	}
	ps.Release(buf)
}
