package breakpoint

import "testing"

func TestAddRejectsOutOfRangeAddress(t *testing.T) {
	tbl := NewTable(nil)
	bp, err := tbl.Add(0x10000, "", "", KindUser)
	if err == nil {
		t.Fatal("expected an error for an out-of-range address")
	}
	if bp.ID != 0 {
		t.Errorf("rejected add should report id 0, got %d", bp.ID)
	}
}

func TestAddAndRemove(t *testing.T) {
	tbl := NewTable(nil)
	bp, err := tbl.Add(0x8000, "", "", KindUser)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if tbl.Get(bp.ID) == nil {
		t.Fatal("Get should find the just-added breakpoint")
	}
	if !tbl.Remove(bp.ID) {
		t.Fatal("Remove should succeed for a known id")
	}
	if tbl.Remove(bp.ID) {
		t.Fatal("Remove should fail the second time for the same id")
	}
}

func TestRebuildIndexUnion(t *testing.T) {
	tbl := NewTable(nil)
	user, _ := tbl.Add(0x8000, "", "", KindUser)
	assertBp, _ := tbl.Add(0x8000, "A==1", "", KindAssert)
	logBp, _ := tbl.Add(0x8000, "", "A={A}", KindLog)

	tbl.RebuildIndex() // asserts disabled by default, logpoint enabled by default
	hits := tbl.HitsAt(0x8000)
	if len(hits) != 2 {
		t.Fatalf("expected user+log hits (asserts disabled), got %d: %+v", len(hits), hits)
	}

	tbl.EnableAsserts(true)
	tbl.RebuildIndex()
	hits = tbl.HitsAt(0x8000)
	if len(hits) != 3 {
		t.Fatalf("expected all three kinds once asserts enabled, got %d", len(hits))
	}

	tbl.EnableLogpoints([]uint16{logBp.ID}, false)
	tbl.RebuildIndex()
	hits = tbl.HitsAt(0x8000)
	if len(hits) != 2 {
		t.Fatalf("expected user+assert hits once logpoint disabled, got %d", len(hits))
	}

	_ = user
	_ = assertBp
}

func TestHitsAtReturnsDefensiveCopy(t *testing.T) {
	tbl := NewTable(nil)
	tbl.Add(0x8000, "", "", KindUser)
	tbl.RebuildIndex()
	hits := tbl.HitsAt(0x8000)
	hits[0] = nil // mutate the returned slice
	again := tbl.HitsAt(0x8000)
	if again[0] == nil {
		t.Fatal("HitsAt must return a copy; caller mutation leaked into the table")
	}
}

func TestIncrementHitPersists(t *testing.T) {
	tbl := NewTable(nil)
	bp, _ := tbl.Add(0x8000, "", "", KindUser)
	tbl.IncrementHit(bp.ID)
	tbl.IncrementHit(bp.ID)
	if bp.HitCount != 2 {
		t.Errorf("got hit count %d, want 2", bp.HitCount)
	}
	if got := tbl.IncrementHit(0xFFFF); got != 0 {
		t.Errorf("incrementing an unknown id should no-op, got %d", got)
	}
}

func TestAtAddressFindsOnlyUserKind(t *testing.T) {
	tbl := NewTable(nil)
	tbl.Add(0x8000, "", "", KindAssert)
	if tbl.AtAddress(0x8000) != nil {
		t.Fatal("AtAddress must not return a non-user breakpoint")
	}
	user, _ := tbl.Add(0x8000, "", "", KindUser)
	if got := tbl.AtAddress(0x8000); got == nil || got.ID != user.ID {
		t.Fatalf("AtAddress should find the user breakpoint, got %+v", got)
	}
}

func TestWatchpointAddRemoveList(t *testing.T) {
	tbl := NewTable(nil)
	wp, err := tbl.AddWatch(0x8000, 2, AccessWrite, "")
	if err != nil {
		t.Fatalf("AddWatch: %v", err)
	}
	if len(tbl.ListWatch()) != 1 {
		t.Fatalf("expected one watchpoint")
	}
	if !tbl.RemoveWatch(wp.Address, wp.Size) {
		t.Fatal("RemoveWatch should succeed")
	}
	if len(tbl.ListWatch()) != 0 {
		t.Fatal("watchpoint should be gone after removal")
	}
}

func TestAddWatchRejectsNonPositiveSize(t *testing.T) {
	tbl := NewTable(nil)
	if _, err := tbl.AddWatch(0x8000, 0, AccessRead, ""); err == nil {
		t.Fatal("expected an error for a zero-size watchpoint")
	}
}
