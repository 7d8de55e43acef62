package asyncio

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := New(3)

	var current, max int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Submit(context.Background(), func() error {
				n := atomic.AddInt64(&current, 1)
				for {
					m := atomic.LoadInt64(&max)
					if n <= m || atomic.CompareAndSwapInt64(&max, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&current, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if max > 3 {
		t.Fatalf("observed %d concurrent Submit bodies, want <= 3", max)
	}
	if max < 2 {
		t.Fatalf("observed only %d concurrent Submit bodies, pool never contended", max)
	}
}

func TestPool_SubmitReturnsFnError(t *testing.T) {
	p := New(1)
	wantErr := context.DeadlineExceeded
	err := p.Submit(context.Background(), func() error { return wantErr })
	if err != wantErr {
		t.Fatalf("Submit error = %v, want %v", err, wantErr)
	}
}

func TestPool_SubmitRespectsCancellationWhileWaitingForSlot(t *testing.T) {
	p := New(1)

	release := make(chan struct{})
	holding := make(chan struct{})
	go p.Submit(context.Background(), func() error {
		close(holding)
		<-release
		return nil
	})
	<-holding

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Submit(ctx, func() error {
		t.Fatal("fn should not run once the context is already canceled and no slot is free")
		return nil
	}); err != context.Canceled {
		t.Fatalf("Submit error = %v, want context.Canceled", err)
	}
	close(release)
}

func TestPool_Close_DrainsOutstanding(t *testing.T) {
	p := New(2)
	done := make(chan struct{})
	go func() {
		p.Submit(context.Background(), func() error {
			time.Sleep(10 * time.Millisecond)
			return nil
		})
		close(done)
	}()
	<-done
	p.Close()
}
