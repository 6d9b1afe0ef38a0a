package shmcache

// expunge.go implements the expiry sweep / LRU eviction / slot-directory
// resize / compaction engine from spec.md §4.5. calc/do are fused into one
// call here (expungePage) since both always run against the same locked
// page and nothing else may observe the page mid-rebuild; the calc phase is
// a marked section of expungePage's body and the do phase is doExpunge,
// which expungePage calls at its end.

import "sort"

type expungeMode uint8

const (
	modeExpiredOnly expungeMode = iota
	modeAll
	modeMakeRoom
)

// evictedEntry is a victim record handed back to the facade so it can
// invoke the write-back hook outside the page lock (spec.md §4.5
// "Write-back hook").
type evictedEntry struct {
	key, value []byte
	expireTime uint32
	flags      uint32
}

func (e evictedEntry) dirty() bool { return e.flags&FlagDirty != 0 }

// liveSlot records a directory index still pointing at a live entry, paired
// with that entry's heap offset.
type liveSlot struct {
	idx, off uint32
}

// expungePage runs the expiry sweep / LRU eviction / resize / compaction
// pass against the page pc currently holds locked. roomLen is only
// consulted in modeMakeRoom (the byte length the caller is about to write);
// pass -1 for modeExpiredOnly/modeAll. skip is true only for the
// modeMakeRoom headroom fast path, in which case the page is left
// completely untouched and victims is nil.
func expungePage(pc *pageCursor, mode expungeMode, roomLen int, now uint32) (victims []evictedEntry, skip bool) {
	p := pc.view
	pageSize := uint32(len(p.buf))
	ns := p.numSlots()

	var lives []liveSlot
	for i := uint32(0); i < ns; i++ {
		v := p.slotAt(i)
		if v > slotTombstone {
			lives = append(lives, liveSlot{idx: i, off: v})
		}
	}

	/* ---------------- calc_expunge ---------------- */

	if mode == modeMakeRoom && roomLen >= 0 {
		fs, os_ := p.freeSlots(), p.oldSlots()
		headroomSlots := ns > 0 && float64(fs-os_)/float64(ns) > 0.30
		needed := align4(uint32(entryFixedSize + roomLen))
		if headroomSlots && p.freeBytes() >= needed {
			return nil, true
		}
	}

	isExpired := func(off uint32) bool {
		e := p.entry(off)
		et := e.expireTime()
		return et != 0 && et <= now
	}

	victimOffsets := make(map[uint32]bool)
	switch mode {
	case modeAll:
		for _, l := range lives {
			victimOffsets[l.off] = true
		}
	case modeExpiredOnly, modeMakeRoom:
		for _, l := range lives {
			if isExpired(l.off) {
				victimOffsets[l.off] = true
			}
		}
	}

	var usedDataAfterExpired uint32
	var usedAfterExpired uint32
	for _, l := range lives {
		if victimOffsets[l.off] {
			continue
		}
		e := p.entry(l.off)
		usedDataAfterExpired += recordSize(int(e.keyLen()), int(e.valueLen()))
		usedAfterExpired++
	}

	newNumSlots := ns
	if ns > 0 && float64(usedAfterExpired)/float64(ns) > 0.30 {
		oldUsable := pageSize - headerSize - ns*4
		roomForBigger := oldUsable >= usedDataAfterExpired && (oldUsable-usedDataAfterExpired) >= (ns+1)*4
		if roomForBigger || mode == modeMakeRoom {
			newNumSlots = 2*ns + 1
		}
	}

	if mode == modeMakeRoom {
		usableData := pageSize - headerSize - newNumSlots*4
		target := uint32(float64(usableData) * 0.60)
		if usedDataAfterExpired > target {
			type cand struct {
				off uint32
				la  uint32
			}
			var cands []cand
			for _, l := range lives {
				if victimOffsets[l.off] {
					continue
				}
				e := p.entry(l.off)
				cands = append(cands, cand{off: l.off, la: e.lastAccess()})
			}
			sort.SliceStable(cands, func(i, j int) bool { return cands[i].la < cands[j].la })
			remaining := usedDataAfterExpired
			for _, c := range cands {
				if remaining <= target {
					break
				}
				e := p.entry(c.off)
				victimOffsets[c.off] = true
				remaining -= recordSize(int(e.keyLen()), int(e.valueLen()))
			}
		}
	}

	for _, l := range lives {
		if !victimOffsets[l.off] {
			continue
		}
		e := p.entry(l.off)
		victims = append(victims, evictedEntry{
			key:        append([]byte(nil), e.key()...),
			value:      append([]byte(nil), e.value()...),
			expireTime: e.expireTime(),
			flags:      e.flags(),
		})
	}

	/* ---------------- do_expunge ---------------- */

	doExpunge(pc, lives, newNumSlots, victimOffsets)
	return victims, false
}

// doExpunge rebuilds the page's slot directory and heap in temporary
// buffers, reinserting every surviving entry by reindexing its stored
// slot_hash against newNumSlots, then copies the rebuilt directory and heap
// back into the page in one shot.
func doExpunge(pc *pageCursor, lives []liveSlot, newNumSlots uint32, victimOffsets map[uint32]bool) {
	p := pc.view
	pageSize := uint32(len(p.buf))

	newDir := make([]byte, newNumSlots*4)
	heapCap := pageSize - headerSize - newNumSlots*4
	newHeap := make([]byte, heapCap)

	var newOffset uint32
	var usedCount uint32

	for _, l := range lives {
		if victimOffsets[l.off] {
			continue
		}
		e := p.entry(l.off)
		recSize := recordSize(int(e.keyLen()), int(e.valueLen()))
		copy(newHeap[newOffset:newOffset+recSize], e.buf[:recSize])

		seed := e.slotHash() % newNumSlots
		for j := uint32(0); j < newNumSlots; j++ {
			idx := (seed + j) % newNumSlots
			doff := idx * 4
			if byteOrder.Uint32(newDir[doff:]) == slotEmpty {
				byteOrder.PutUint32(newDir[doff:], headerSize+newNumSlots*4+newOffset)
				break
			}
		}
		newOffset += recSize
		usedCount++
	}

	copy(p.buf[headerSize:headerSize+newNumSlots*4], newDir)
	copy(p.buf[headerSize+newNumSlots*4:], newHeap)

	p.setNumSlots(newNumSlots)
	freeData := headerSize + newNumSlots*4 + newOffset
	p.setFreeData(freeData)
	p.setFreeBytes(pageSize - freeData)
	p.setFreeSlots(newNumSlots - usedCount)
	p.setOldSlots(0)
	pc.markDirty()
}
