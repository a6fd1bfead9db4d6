// Package registers implements the register cache: a single-writer,
// multi-reader snapshot of the canonical Z80 register file, with fetch
// coalescing so concurrent readers triggered by an invalid cache share one
// GET_REGISTERS round trip.
package registers

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/z80dbg/dzrp-mediator/internal/dzrp"
)

// Set is the canonical Z80 register snapshot, indexed by dzrp.RegIndex.
type Set struct {
	Words [dzrp.RegisterCount]uint16
}

func (s Set) PC() uint16 { return s.Words[dzrp.RegPC] }
func (s Set) SP() uint16 { return s.Words[dzrp.RegSP] }

// Fetcher performs the GET_REGISTERS round trip. The dzrp.Dispatcher
// satisfies this via Do.
type Fetcher interface {
	Do(ctx context.Context, req dzrp.Frame) ([]byte, error)
}

// Cache holds the last-known register snapshot. It is invalidated before
// every CONTINUE, on SET_REGISTER, on snapshot load, and on disconnect
// any access while invalid triggers a fetch.
type Cache struct {
	fetcher Fetcher

	mu    sync.RWMutex
	set   Set
	valid bool

	group singleflight.Group
}

func NewCache(fetcher Fetcher) *Cache {
	return &Cache{fetcher: fetcher}
}

// Invalidate marks the cache stale. The next Get triggers a fetch.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// Get returns the current register snapshot, fetching it first if the
// cache is invalid. Concurrent calls while invalid coalesce onto a single
// in-flight GET_REGISTERS via singleflight.
func (c *Cache) Get(ctx context.Context) (Set, error) {
	c.mu.RLock()
	if c.valid {
		set := c.set
		c.mu.RUnlock()
		return set, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("get-registers", func() (any, error) {
		payload, err := c.fetcher.Do(ctx, dzrp.EncodeGetRegisters())
		if err != nil {
			return Set{}, err
		}
		result, err := dzrp.DecodeRegistersResult(payload)
		if err != nil {
			return Set{}, fmt.Errorf("registers: decode GET_REGISTERS response: %w", err)
		}
		set := Set{Words: result.Words}
		c.mu.Lock()
		c.set = set
		c.valid = true
		c.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return Set{}, err
	}
	return v.(Set), nil
}

// Installed records a SET_REGISTER result locally so a subsequent Get
// reflects it without a round trip, per the round-trip law
// `setRegister(r, v); getRegisters()[r] == v`. Call only after the
// SET_REGISTER request has been acknowledged.
func (c *Cache) Installed(idx dzrp.RegIndex, value uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return
	}
	c.set.Words[idx] = value
}
