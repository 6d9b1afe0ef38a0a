package shmcache

// iterator.go implements whole-cache iteration (spec.md §4.6 / §6
// get_keys). One page is locked at a time and released before the next is
// locked, so GetKeys never holds two page locks at once and never blocks
// another process's Get/Set for longer than a single page's critical section
// (spec.md §9, "no cross-page atomicity"). Within this process, GetKeys holds
// the Cache's mutex for the whole pass, as every public method does.

// KeysMode selects how much of each surviving record GetKeys copies out.
// Copying values is the expensive case; callers that only need the key
// space should use KeysOnly.
type KeysMode int

const (
	KeysOnly KeysMode = iota
	KeysWithMeta
	KeysWithValues
)

// KeyEntry describes one surviving record observed during a GetKeys pass.
// Value is populated only when the pass ran with KeysWithValues.
type KeyEntry struct {
	Key        []byte
	Value      []byte
	ExpireTime uint32
	Flags      uint32
}

// forEachPage locks every page 0..NumPages-1 in turn, runs fn while it is
// held, and always unlocks before advancing, even if fn returns an error.
func (c *Cache) forEachPage(fn func(pc *pageCursor) error) error {
	pc := newPageCursor(c)
	for i := 0; i < int(c.opts.NumPages); i++ {
		if err := pc.lock(i); err != nil {
			return err
		}
		ferr := fn(pc)
		uerr := pc.unlock()
		if ferr != nil {
			return ferr
		}
		if uerr != nil {
			return uerr
		}
	}
	return nil
}

// GetKeys returns every live, non-expired key across all pages. The result
// is not a single atomic snapshot: pages are visited one at a time and a
// concurrent writer may mutate a page already visited or not yet reached
// (spec.md §4.6).
func (c *Cache) GetKeys(mode KeysMode) ([]KeyEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []KeyEntry
	now := c.nowUnix()
	err := c.forEachPage(func(pc *pageCursor) error {
		p := pc.view
		ns := p.numSlots()
		for i := uint32(0); i < ns; i++ {
			v := p.slotAt(i)
			if v <= slotTombstone {
				continue
			}
			e := p.entry(v)
			if et := e.expireTime(); et != 0 && et <= now {
				continue
			}
			ke := KeyEntry{
				Key: append([]byte(nil), e.key()...),
			}
			if mode >= KeysWithMeta {
				ke.ExpireTime = e.expireTime()
				ke.Flags = e.flags()
			}
			if mode == KeysWithValues {
				ke.Value = append([]byte(nil), e.value()...)
			}
			out = append(out, ke)
		}
		return nil
	})
	return out, err
}
