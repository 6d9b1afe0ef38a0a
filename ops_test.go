package shmcache

import "testing"

// newTestCursor returns a pageCursor wired to an in-memory page, bypassing
// the file lock manager entirely - ops.go never touches pc.c, only pc.view
// and pc.markDirty.
func newTestCursor(t *testing.T, pageSize, numSlots uint32) *pageCursor {
	t.Helper()
	p := newTestPage(t, pageSize, numSlots)
	return &pageCursor{locked: true, pageIdx: 0, view: p}
}

func TestOpWriteThenOpRead(t *testing.T) {
	pc := newTestCursor(t, 4096, 89)
	_, seed := locate(hashKey([]byte("k1")), 1)

	if !opWrite(pc, seed, []byte("k1"), []byte("v1"), 0, 10, 0) {
		t.Fatal("opWrite should succeed on a fresh page")
	}
	val, _, found := opRead(pc, seed, []byte("k1"), 20)
	if !found {
		t.Fatal("expected opRead to find the key just written")
	}
	if string(val) != "v1" {
		t.Fatalf("value = %q, want %q", val, "v1")
	}
	if !pc.dirty {
		t.Fatal("opWrite and opRead (last_access bump) should both mark the cursor dirty")
	}
}

func TestOpReadExpiredTombstones(t *testing.T) {
	pc := newTestCursor(t, 4096, 89)
	_, seed := locate(hashKey([]byte("k1")), 1)
	opWrite(pc, seed, []byte("k1"), []byte("v1"), 0, 10, 15) // expire_time=15

	_, _, found := opRead(pc, seed, []byte("k1"), 16) // now > expire_time
	if found {
		t.Fatal("expired entry should be reported as a miss")
	}
	if pc.view.oldSlots() != 1 {
		t.Fatalf("old_slots = %d, want 1 after tombstoning an expired hit", pc.view.oldSlots())
	}

	_, _, found = opRead(pc, seed, []byte("k1"), 16)
	if found {
		t.Fatal("tombstoned entry should stay a miss on a second read")
	}
}

func TestOpReadNotYetExpiredAtEquality(t *testing.T) {
	pc := newTestCursor(t, 4096, 89)
	_, seed := locate(hashKey([]byte("k1")), 1)
	opWrite(pc, seed, []byte("k1"), []byte("v1"), 0, 10, 10) // expire_time == now at write time

	_, _, found := opRead(pc, seed, []byte("k1"), 10) // now == expire_time, not yet expired
	if !found {
		t.Fatal("an entry is only expired when now > expire_time, not at equality")
	}
}

func TestOpWriteOverwritesTombstonesOldValue(t *testing.T) {
	pc := newTestCursor(t, 4096, 89)
	_, seed := locate(hashKey([]byte("k1")), 1)
	opWrite(pc, seed, []byte("k1"), []byte("v1"), 0, 10, 0)
	freeSlotsBefore := pc.view.freeSlots()

	opWrite(pc, seed, []byte("k1"), []byte("v2"), 0, 11, 0)
	val, _, found := opRead(pc, seed, []byte("k1"), 12)
	if !found || string(val) != "v2" {
		t.Fatalf("expected v2 after overwrite, got found=%v val=%q", found, val)
	}
	// Overwrite tombstones+reuses the same slot: net free_slots unchanged.
	if pc.view.freeSlots() != freeSlotsBefore {
		t.Fatalf("free_slots = %d, want unchanged %d after overwrite", pc.view.freeSlots(), freeSlotsBefore)
	}
}

func TestOpDelete(t *testing.T) {
	pc := newTestCursor(t, 4096, 89)
	_, seed := locate(hashKey([]byte("k1")), 1)
	opWrite(pc, seed, []byte("k1"), []byte("v1"), 0, 10, 0)

	deleted, _ := opDelete(pc, seed, []byte("k1"))
	if !deleted {
		t.Fatal("expected opDelete to find and remove the key")
	}
	if _, _, found := opRead(pc, seed, []byte("k1"), 10); found {
		t.Fatal("key should be gone after opDelete")
	}
	deleted, _ = opDelete(pc, seed, []byte("k1"))
	if deleted {
		t.Fatal("deleting an already-deleted key should be a no-op, not a second hit")
	}
}

func TestOpWriteNoRoomReportsFalse(t *testing.T) {
	pc := newTestCursor(t, 128, 3) // tiny page: header(32) + 3*4 slots = 44, heap = 84 bytes
	_, seed := locate(hashKey([]byte("k")), 1)
	big := make([]byte, 200)
	if opWrite(pc, seed, []byte("k"), big, 0, 1, 0) {
		t.Fatal("expected opWrite to report no room for an oversized value")
	}
}
