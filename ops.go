package shmcache

// ops.go implements the single-entry read/write/delete operations against
// the page currently held by a pageCursor (spec.md §4.4). None of these
// block or yield; the caller is assumed to already hold the page lock.

// opRead probes for key and, on a non-expired hit, bumps last_access and
// returns the value. An expired hit is tombstoned in place and reported as a
// miss, matching spec.md §4.4 exactly (bumping free_slots and old_slots).
func opRead(pc *pageCursor, slotSeed uint32, key []byte, now uint32) (value []byte, flags uint32, found bool) {
	p := pc.view
	res := findSlot(p, slotSeed, key, probeRead)
	if !res.hit {
		return nil, 0, false
	}
	e := p.entry(res.value)
	if et := e.expireTime(); et != 0 && now > et {
		tombstone(pc, res.index)
		return nil, 0, false
	}
	e.setLastAccess(now)
	pc.markDirty()
	val := e.value()
	out := make([]byte, len(val))
	copy(out, val)
	return out, e.flags(), true
}

// opWrite inserts or overwrites key with value. Per spec.md §4.4, a slot
// that already holds a live entry for this key is tombstoned first,
// unconditionally — so a write that ultimately finds no room still retires
// the old value. Returns false when the page has no room for the new
// record; the caller (cache.go) then falls back to a write-through call to
// the embedder's backing store.
func opWrite(pc *pageCursor, slotSeed uint32, key, value []byte, flags uint32, now, expireAt uint32) bool {
	p := pc.view
	res := findSlot(p, slotSeed, key, probeInsert)
	if !res.hit && res.value > slotTombstone {
		// Directory exhausted: every slot holds another key's live entry.
		return false
	}

	wasLive := res.value > slotTombstone
	if wasLive {
		tombstone(pc, res.index)
	}
	reusedTombstone := wasLive || res.value == slotTombstone

	needed := recordSize(len(key), len(value))
	if p.freeBytes() < needed {
		return false
	}

	off := p.freeData()
	e := p.entry(off)
	e.writeEntry(now, expireAt, slotSeed, flags, key, value)

	p.setSlotAt(res.index, off)
	p.setFreeData(off + needed)
	p.setFreeBytes(p.freeBytes() - needed)
	p.setFreeSlots(p.freeSlots() - 1)
	if reusedTombstone {
		p.setOldSlots(p.oldSlots() - 1)
	}
	pc.markDirty()
	return true
}

// opDelete tombstones key's slot if present.
func opDelete(pc *pageCursor, slotSeed uint32, key []byte) (deleted bool, flags uint32) {
	p := pc.view
	res := findSlot(p, slotSeed, key, probeDelete)
	if !res.hit {
		return false, 0
	}
	e := p.entry(res.value)
	flags = e.flags()
	tombstone(pc, res.index)
	return true, flags
}

// tombstone marks the slot at index as a tombstone: sets the directory
// entry to 1 and bumps free_slots/old_slots.
func tombstone(pc *pageCursor, index uint32) {
	p := pc.view
	p.setSlotAt(index, slotTombstone)
	p.setFreeSlots(p.freeSlots() + 1)
	p.setOldSlots(p.oldSlots() + 1)
	pc.markDirty()
}
