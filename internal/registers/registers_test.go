package registers

import (
	"context"
	"sync"
	"testing"

	"github.com/z80dbg/dzrp-mediator/internal/dzrp"
)

type countingFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *countingFetcher) Do(ctx context.Context, req dzrp.Frame) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	payload := make([]byte, dzrp.RegisterCount*2)
	payload[dzrp.RegPC*2] = 0x00
	payload[dzrp.RegPC*2+1] = 0x80
	return payload, nil
}

func TestCacheGetFetchesOnceWhenInvalid(t *testing.T) {
	f := &countingFetcher{}
	c := NewCache(f)
	set, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if set.PC() != 0x8000 {
		t.Errorf("got PC=%04X, want 8000", set.PC())
	}
	if f.calls != 1 {
		t.Fatalf("expected exactly one fetch, got %d", f.calls)
	}

	// Second Get while still valid must not trigger another fetch.
	if _, err := c.Get(context.Background()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("expected cached Get to avoid a second fetch, got %d calls", f.calls)
	}
}

func TestCacheInvalidateTriggersRefetch(t *testing.T) {
	f := &countingFetcher{}
	c := NewCache(f)
	c.Get(context.Background())
	c.Invalidate()
	c.Get(context.Background())
	if f.calls != 2 {
		t.Fatalf("expected a refetch after Invalidate, got %d calls", f.calls)
	}
}

func TestCacheConcurrentGetsCoalesce(t *testing.T) {
	f := &countingFetcher{}
	c := NewCache(f)
	c.Invalidate()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Get(context.Background())
		}()
	}
	wg.Wait()
	if f.calls != 1 {
		t.Fatalf("expected singleflight to coalesce concurrent fetches into one, got %d calls", f.calls)
	}
}

func TestCacheInstalledUpdatesValidCacheOnly(t *testing.T) {
	f := &countingFetcher{}
	c := NewCache(f)

	// Installed before any Get: cache is still invalid, so it must no-op.
	c.Installed(dzrp.RegSP, 0x1234)
	set, _ := c.Get(context.Background())
	if set.SP() == 0x1234 {
		t.Fatal("Installed must not write through to an invalid cache")
	}

	c.Installed(dzrp.RegSP, 0x1234)
	set, _ = c.Get(context.Background())
	if set.SP() != 0x1234 {
		t.Errorf("Installed should update a valid cache immediately, got SP=%04X", set.SP())
	}
}
