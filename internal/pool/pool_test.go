package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_TakeCreatesThenReuses(t *testing.T) {
	var created int32
	p := New(2, func() (int, error) {
		return int(atomic.AddInt32(&created, 1)), nil
	}, nil, nil)

	h, err := p.Take(context.Background())
	if err != nil {
		t.Fatalf("Take() error: %v", err)
	}
	if h.Item() != 1 {
		t.Fatalf("Item() = %d, want 1", h.Item())
	}
	if err := h.Drop(); err != nil {
		t.Fatalf("Drop() error: %v", err)
	}

	h2, err := p.Take(context.Background())
	if err != nil {
		t.Fatalf("Take() error: %v", err)
	}
	if h2.Item() != 1 {
		t.Fatalf("Item() = %d, want reused 1", h2.Item())
	}
	if atomic.LoadInt32(&created) != 1 {
		t.Fatalf("created = %d, want 1 (item should have been reused)", created)
	}
}

func TestPool_DropOverCapacityDisposes(t *testing.T) {
	var disposed int
	p := New(1, func() (int, error) { return 1, nil }, nil, func(int) { disposed++ })

	h1, _ := p.Take(context.Background())
	h2, _ := p.Take(context.Background())
	h1.Drop()
	h2.Drop()

	if disposed != 1 {
		t.Fatalf("disposed = %d, want 1", disposed)
	}
	if p.State() != Full {
		t.Fatalf("State() = %v, want Full", p.State())
	}
}

func TestPool_PrepareFailureDisposes(t *testing.T) {
	var disposed int
	p := New(2, func() (int, error) { return 1, nil },
		func(int) error { return context.DeadlineExceeded },
		func(int) { disposed++ })

	h, _ := p.Take(context.Background())
	if err := h.Drop(); err == nil {
		t.Fatal("Drop() with failing prepare should return error")
	}
	if disposed != 1 {
		t.Fatalf("disposed = %d, want 1", disposed)
	}
}

func TestPool_CloseDisposesCachedItems(t *testing.T) {
	var disposed int
	p := New(2, func() (int, error) { return 1, nil }, nil, func(int) { disposed++ })
	h, _ := p.Take(context.Background())
	h.Drop()
	p.Close()

	if disposed != 1 {
		t.Fatalf("disposed = %d, want 1", disposed)
	}
	if _, err := p.Take(context.Background()); err != ErrClosed {
		t.Fatalf("Take() after Close() = %v, want ErrClosed", err)
	}
}

func TestPool_TakeBlocksUntilFreed(t *testing.T) {
	calls := 0
	p := New(1, func() (int, error) {
		calls++
		if calls > 1 {
			return 0, context.DeadlineExceeded
		}
		return 1, nil
	}, nil, nil)

	h, err := p.Take(context.Background())
	if err != nil {
		t.Fatalf("Take() error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		h2, err := p.Take(context.Background())
		if err != nil {
			t.Errorf("blocked Take() error: %v", err)
		} else if h2.Item() != 1 {
			t.Errorf("blocked Take() item = %d, want 1", h2.Item())
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	h.Drop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked Take() never returned after Drop()")
	}
}

func TestPool_TakeTimesOut(t *testing.T) {
	p := New(1, func() (int, error) { return 0, context.DeadlineExceeded }, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.Take(ctx); err == nil {
		t.Fatal("Take() on empty pool with failing factory should fail")
	}
}

// TestPool_ConcurrentTakeDropRespectsCapacity hammers the pool with
// concurrent takers and returners: the cached count must never exceed
// capacity and no item may be handed out to two takers at once. Run with
// -race.
func TestPool_ConcurrentTakeDropRespectsCapacity(t *testing.T) {
	const capacity = 4
	const workers = 16
	const iterations = 64

	var nextID int32
	p := New(capacity, func() (int, error) {
		return int(atomic.AddInt32(&nextID, 1)), nil
	}, nil, nil)

	var mu sync.Mutex
	outstanding := make(map[int]bool)
	var violations int32

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				h, err := p.Take(ctx)
				cancel()
				if err != nil {
					t.Errorf("Take() error: %v", err)
					continue
				}
				item := h.Item()

				mu.Lock()
				if outstanding[item] {
					atomic.AddInt32(&violations, 1)
				}
				outstanding[item] = true
				mu.Unlock()

				// Yield so other goroutines have a chance to race on this
				// same item before it is returned.
				time.Sleep(time.Microsecond)

				mu.Lock()
				delete(outstanding, item)
				mu.Unlock()

				if err := h.Drop(); err != nil {
					t.Errorf("Drop() error: %v", err)
				}

				if n := p.cachedLen(); n > capacity {
					t.Errorf("cached items = %d, want <= capacity %d", n, capacity)
				}
			}
		}()
	}
	wg.Wait()

	if violations != 0 {
		t.Fatalf("%d item(s) handed out to two takers simultaneously", violations)
	}
	if n := p.cachedLen(); n > capacity {
		t.Fatalf("cached items after drain = %d, want <= capacity %d", n, capacity)
	}
}
