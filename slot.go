package shmcache

// slot.go implements the open-addressed probe described in spec.md §4.3.
// findSlot examines at most numSlots positions starting at slotSeed mod
// numSlots, stepping linearly and wrapping.

type probeMode uint8

const (
	probeRead probeMode = iota
	probeDelete
	probeInsert
)

// slotResult describes what findSlot discovered at the returned index.
type slotResult struct {
	index uint32 // logical slot index
	value uint32 // raw directory entry at that index (0, 1, or an offset)
	hit   bool   // true when value is an offset whose entry matches key
}

// findSlot probes p's directory for key, starting at slotSeed mod
// numSlots. Mode only changes how a tombstone is treated: read and delete
// probes skip it, insert probes stop on it; the mechanics described by the
// read/delete/insert table in spec.md §4.3 are implemented here.
func findSlot(p pageView, slotSeed uint32, key []byte, mode probeMode) slotResult {
	ns := p.numSlots()
	start := slotSeed % ns
	for i := uint32(0); i < ns; i++ {
		idx := (start + i) % ns
		v := p.slotAt(idx)
		switch v {
		case slotEmpty:
			return slotResult{index: idx, value: v, hit: false}
		case slotTombstone:
			if mode == probeInsert {
				return slotResult{index: idx, value: v, hit: false}
			}
			continue
		default:
			e := p.entry(v)
			if matchKey(e, key) {
				return slotResult{index: idx, value: v, hit: true}
			}
			continue
		}
	}
	// Directory exhausted without an empty slot or hit: page is full of
	// live/tombstoned entries with no room. Report a miss at the starting
	// position; callers (write) treat this as "no slot available".
	return slotResult{index: start, value: p.slotAt(start), hit: false}
}

func matchKey(e entryView, key []byte) bool {
	if e.keyLen() != uint32(len(key)) {
		return false
	}
	ek := e.key()
	for i := range key {
		if ek[i] != key[i] {
			return false
		}
	}
	return true
}
