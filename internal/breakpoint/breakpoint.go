// Package breakpoint implements the breakpoint/assertion/logpoint table
// and the hardware-breakpoint installer shim.
package breakpoint

import (
	"fmt"
	"log/slog"
	"sync"
)

// Kind distinguishes why a breakpoint exists; all three kinds share the
// same address-indexed lookup but are evaluated and reported differently.
type Kind int

const (
	KindUser Kind = iota
	KindAssert
	KindLog
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindAssert:
		return "assert"
	case KindLog:
		return "log"
	default:
		return "unknown"
	}
}

// Breakpoint is one entry in the table. Condition is an expression string
// evaluated by internal/condition; for Kind == KindAssert it is, per the
// documented convention inherited from the source implementation, the
// same text used both to display the assertion and to detect a hit (see
// DESIGN.md for the Open Question this preserves rather than silently
// reinterprets).
type Breakpoint struct {
	ID        uint16
	Address   uint16
	Condition string
	Log       string
	Kind      Kind
	Enabled   bool // meaningful for KindLog; user/assert breakpoints are always active once added
	HitCount  uint64
}

// Access is a bitmask of watched memory operations.
type Access int

const (
	AccessRead Access = 1 << iota
	AccessWrite
)

// Watchpoint has no local id; it is keyed by (Address, Size) on removal.
type Watchpoint struct {
	Address   uint16
	Size      uint16
	Access    Access
	Condition string
}

func watchKey(addr, size uint16) [2]uint16 { return [2]uint16{addr, size} }

// Table owns the user/assert/log collections and the address-indexed
// lookup rebuilt at the start of every resume.
type Table struct {
	mu sync.Mutex
	log *slog.Logger

	nextID uint16
	byID   map[uint16]*Breakpoint

	assertsEnabled bool

	watchpoints map[[2]uint16]*Watchpoint

	index map[uint16][]*Breakpoint
}

func NewTable(log *slog.Logger) *Table {
	if log == nil {
		log = slog.Default()
	}
	return &Table{
		log:         log,
		nextID:      1,
		byID:        make(map[uint16]*Breakpoint),
		watchpoints: make(map[[2]uint16]*Watchpoint),
		index:       make(map[uint16][]*Breakpoint),
	}
}

// Add creates a breakpoint of the given kind. address must be in
// [0, 0xFFFF]; a negative or out-of-range address is rejected with id 0,
// matching the `setBreakpoint(-1)` boundary behavior.
func (t *Table) Add(address int, condition, logFmt string, kind Kind) (*Breakpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if address < 0 || address > 0xFFFF {
		t.log.Warn("breakpoint: address out of range", "address", address)
		return &Breakpoint{ID: 0}, fmt.Errorf("breakpoint: address %d out of range [0,0xFFFF]", address)
	}
	if t.nextID == 0 {
		t.log.Warn("breakpoint: id space exhausted")
		return &Breakpoint{ID: 0}, fmt.Errorf("breakpoint: id space exhausted")
	}

	bp := &Breakpoint{
		ID:        t.nextID,
		Address:   uint16(address),
		Condition: condition,
		Log:       logFmt,
		Kind:      kind,
		Enabled:   true,
	}
	t.byID[bp.ID] = bp
	t.nextID++
	if t.nextID == 0 {
		// Wrapped past 65535; id 0 is reserved for "none" so future Adds
		// will report exhaustion above rather than reuse it.
	}
	return bp, nil
}

// Remove deletes a breakpoint by id. Returns false if id is unknown,
// matching the invariant that every id returned to the caller is
// removable exactly once.
func (t *Table) Remove(id uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[id]; !ok {
		return false
	}
	delete(t.byID, id)
	return true
}

// Get returns a breakpoint by id, or nil.
func (t *Table) Get(id uint16) *Breakpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byID[id]
}

// AtAddress returns a breakpoint of KindUser at addr, if any, with or
// without a condition. When several exist there, which one is returned
// is not defined.
func (t *Table) AtAddress(addr uint16) *Breakpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, bp := range t.byID {
		if bp.Kind == KindUser && bp.Address == addr {
			return bp
		}
	}
	return nil
}

// EnableAsserts toggles whether assert breakpoints participate in the
// address index on the next RebuildIndex.
func (t *Table) EnableAsserts(enabled bool) {
	t.mu.Lock()
	t.assertsEnabled = enabled
	t.mu.Unlock()
}

// EnableLogpoints toggles the Enabled flag on the named logpoint ids.
func (t *Table) EnableLogpoints(ids []uint16, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if bp, ok := t.byID[id]; ok && bp.Kind == KindLog {
			bp.Enabled = enabled
		}
	}
}

// RebuildIndex recomputes the address→breakpoints map from scratch: the
// union of user breakpoints, assert breakpoints (if enabled), and enabled
// logpoints. Called at the entry of every resume rather than
// incrementally maintained, to avoid staleness when groups are toggled
// between resumes.
func (t *Table) RebuildIndex() {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := make(map[uint16][]*Breakpoint)
	for _, bp := range t.byID {
		switch bp.Kind {
		case KindUser:
			idx[bp.Address] = append(idx[bp.Address], bp)
		case KindAssert:
			if t.assertsEnabled {
				idx[bp.Address] = append(idx[bp.Address], bp)
			}
		case KindLog:
			if bp.Enabled {
				idx[bp.Address] = append(idx[bp.Address], bp)
			}
		}
	}
	t.index = idx
}

// HitsAt returns the breakpoints active at addr as of the last
// RebuildIndex. The slice is a fresh copy so callers may not mutate the
// table's internal index.
func (t *Table) HitsAt(addr uint16) []*Breakpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	hits := t.index[addr]
	out := make([]*Breakpoint, len(hits))
	copy(out, hits)
	return out
}

// IncrementHit bumps a breakpoint's hit counter; called once per
// evaluation pass regardless of whether the condition suppressed the hit,
// so hitcount-based conditions observe every pass.
func (t *Table) IncrementHit(id uint16) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	bp, ok := t.byID[id]
	if !ok {
		return 0
	}
	bp.HitCount++
	return bp.HitCount
}

// AddWatch registers a watchpoint keyed by (address, size).
func (t *Table) AddWatch(address, size int, access Access, condition string) (*Watchpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if address < 0 || address > 0xFFFF {
		return nil, fmt.Errorf("breakpoint: watchpoint address %d out of range", address)
	}
	if size <= 0 {
		return nil, fmt.Errorf("breakpoint: watchpoint size must be positive")
	}
	wp := &Watchpoint{Address: uint16(address), Size: uint16(size), Access: access, Condition: condition}
	t.watchpoints[watchKey(wp.Address, wp.Size)] = wp
	return wp, nil
}

// RemoveWatch removes the watchpoint at (address, size). Returns false if
// none was registered there.
func (t *Table) RemoveWatch(address, size uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := watchKey(address, size)
	if _, ok := t.watchpoints[key]; !ok {
		return false
	}
	delete(t.watchpoints, key)
	return true
}

// ListWatch returns all registered watchpoints.
func (t *Table) ListWatch() []*Watchpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Watchpoint, 0, len(t.watchpoints))
	for _, wp := range t.watchpoints {
		out = append(out, wp)
	}
	return out
}
