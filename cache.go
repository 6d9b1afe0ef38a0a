package shmcache

// cache.go is the facade (spec.md §4.7, §6): it ties the page format, lock
// manager, slot search, read/write/delete, and expunge engine together and
// applies the embedder's Options — value codec, read-through/write-through/
// write-back, cache_not_found memoisation, and get_and_set's single-lock RMW.
//
// A *Cache is not safe for concurrent use by multiple goroutines without the
// serialisation this type provides itself: every public method takes mu for
// its duration, mirroring theflywheel-phash.PersistentHash's mu sync.RWMutex.
// This is what makes the documented process-level restriction ("one thread
// of cache activity") safe to lift to "one Cache handle, any number of
// goroutines" — the byte-range lock only coordinates across processes, and
// POSIX record locks do not block a second call from the same process.

import (
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a process-local handle to an attached shared-memory cache.
type Cache struct {
	opts    Options
	file    *os.File
	mapped  []byte
	metrics metricsSink

	mu     sync.Mutex
	closed bool

	statHits, statMisses         atomic.Uint64
	statExpunges, statEvicted    atomic.Uint64
	statLockTimeouts             atomic.Uint64
}

// New opens or creates the share file described by opts, maps it, and
// returns an attached handle. See Options for field-by-field defaults and
// validation (spec.md §6).
func New(opts Options) (*Cache, error) {
	opts, err := opts.normalise()
	if err != nil {
		return nil, err
	}

	file, _, err := openShareFile(opts)
	if err != nil {
		return nil, err
	}

	size := int64(opts.NumPages) * int64(opts.PageSize)
	mapped, err := mmapFile(file, size)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	c := &Cache{
		opts:    opts,
		file:    file,
		mapped:  mapped,
		metrics: newMetricsSink(opts.Metrics),
	}

	if opts.TestFile {
		if err := c.testAllPages(); err != nil {
			_ = munmapFile(mapped)
			_ = file.Close()
			return nil, err
		}
	}
	return c, nil
}

// Close unmaps and closes the share file. If Options.EmptyOnExit is set, it
// first runs Empty(false), flushing dirty write-back entries.
func (c *Cache) Close() error {
	if c.opts.EmptyOnExit {
		_ = c.Empty(false)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := munmapFile(c.mapped); err != nil {
		return err
	}
	return c.file.Close()
}

func (c *Cache) nowUnix() uint32 { return uint32(time.Now().Unix()) }

func (c *Cache) encode(v []byte) ([]byte, error) {
	if c.opts.RawValues {
		return v, nil
	}
	return c.opts.Codec.Encode(v)
}

func (c *Cache) decode(b []byte) ([]byte, error) {
	if c.opts.RawValues {
		return b, nil
	}
	return c.opts.Codec.Decode(b)
}

func (c *Cache) recordHit(page int)  { c.statHits.Add(1); c.metrics.incHit(page) }
func (c *Cache) recordMiss(page int) { c.statMisses.Add(1); c.metrics.incMiss(page) }

func (c *Cache) recordExpunge(page int, mode expungeMode, victims int) {
	c.statExpunges.Add(1)
	c.statEvicted.Add(uint64(victims))
	c.metrics.incExpunge(page, mode, victims)
}

func (c *Cache) recordLockTimeout(page int) {
	c.statLockTimeouts.Add(1)
	c.metrics.incLockTimeout(page)
}

// Stats is a point-in-time snapshot of cache-wide counters (spec.md §5
// supplemented feature; not part of the per-page protocol itself).
type Stats struct {
	Hits, Misses         uint64
	Expunges, Evicted    uint64
	LockTimeouts         uint64
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:         c.statHits.Load(),
		Misses:       c.statMisses.Load(),
		Expunges:     c.statExpunges.Load(),
		Evicted:      c.statEvicted.Load(),
		LockTimeouts: c.statLockTimeouts.Load(),
	}
}

// defaultExpireAt returns the absolute expiry for a fresh write given the
// configured default TTL, or 0 (no expiry) if none is configured.
func (c *Cache) defaultExpireAt(now uint32) uint32 {
	if c.opts.ExpireTime <= 0 {
		return 0
	}
	return now + uint32(c.opts.ExpireTime/time.Second)
}

// flagNotFound marks an entry that memoises a read-through miss
// (Options.CacheNotFound); Get and GetAndSet report such an entry as absent.
const flagNotFound = uint32(2)

// Get returns key's value. On a miss, it consults ReadFunc (read-through)
// if registered, optionally memoising a negative result when
// Options.CacheNotFound is set (spec.md §4.7 "Read-through").
func (c *Cache) Get(key []byte) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pageIdx, seed := locate(hashKey(key), c.opts.NumPages)
	pc := newPageCursor(c)
	if err := pc.lock(int(pageIdx)); err != nil {
		return nil, false, err
	}
	now := c.nowUnix()

	if raw, flags, found := opRead(pc, seed, key, now); found {
		c.recordHit(int(pageIdx))
		if err := pc.unlock(); err != nil {
			return nil, false, err
		}
		if flags&flagNotFound != 0 {
			return nil, false, nil
		}
		v, err := c.decode(raw)
		return v, true, err
	}
	c.recordMiss(int(pageIdx))

	if c.opts.ReadFunc == nil {
		return nil, false, pc.unlock()
	}

	var rv []byte
	var rfound bool
	c.runCallback("read", func() error {
		v, f, err := c.opts.ReadFunc(c.opts.Context, key)
		rv, rfound = v, f
		return err
	})

	switch {
	case rfound:
		enc, encErr := c.encode(rv)
		if encErr != nil {
			return nil, false, pc.unlock()
		}
		victims := c.admit(pc, pageIdx, seed, key, enc, 0, c.defaultExpireAt(now))
		uerr := pc.unlock()
		c.flushVictims(victims)
		if uerr != nil {
			return nil, false, uerr
		}
		return rv, true, nil
	case c.opts.CacheNotFound:
		// Memoise the miss: a live, empty-valued entry flagged flagNotFound
		// whose expire_time is already now. A get at the same wall-clock
		// second still finds it (now > expire_time is false at equality) and
		// reports a miss without calling ReadFunc; the very next second's
		// reader tombstones it.
		victims := c.admit(pc, pageIdx, seed, key, nil, flagNotFound, now)
		uerr := pc.unlock()
		c.flushVictims(victims)
		return nil, false, uerr
	default:
		return nil, false, pc.unlock()
	}
}

// admit runs a sized MAKE_ROOM expunge pass and writes (key, value) into
// the page pc holds locked, returning whatever victims the admission pass
// evicted so the caller can flush write-back callbacks after unlocking.
func (c *Cache) admit(pc *pageCursor, pageIdx, seed uint32, key, value []byte, flags, expireAt uint32) []evictedEntry {
	now := c.nowUnix()
	victims, _ := expungePage(pc, modeMakeRoom, len(key)+len(value), now)
	c.recordExpunge(int(pageIdx), modeMakeRoom, len(victims))
	opWrite(pc, seed, key, value, flags, now, expireAt)
	return victims
}

// flushVictims invokes WriteFunc for every dirty entry in victims (evicted
// entries and writes queued by writeLocked), outside any page lock (spec.md
// §4.5 "Write-back hook").
func (c *Cache) flushVictims(victims []evictedEntry) {
	if c.opts.WriteFunc == nil {
		return
	}
	for _, v := range victims {
		if !v.dirty() {
			continue
		}
		v := v
		c.runCallback("write-evict", func() error {
			return c.opts.WriteFunc(c.opts.Context, v.key, v.value)
		})
	}
}

// Set stores value under key. Under write-back, the in-page entry is
// marked dirty and WriteFunc is only invoked later, by an eviction or
// Empty; under write-through (default) WriteFunc runs immediately after
// unlock, or as a fallback if the in-page write found no room (spec.md
// §4.7 "Write-through vs write-back").
func (c *Cache) Set(key, value []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	enc, err := c.encode(value)
	if err != nil {
		return false, err
	}
	pageIdx, seed := locate(hashKey(key), c.opts.NumPages)
	pc := newPageCursor(c)
	if err := pc.lock(int(pageIdx)); err != nil {
		return false, err
	}
	stored, victims := c.writeLocked(pc, pageIdx, seed, key, enc)
	uerr := pc.unlock()
	c.flushVictims(victims)
	if uerr != nil {
		return stored, uerr
	}
	return stored, nil
}

// writeLocked is Set's body, factored out so GetAndSet and MultiSet can
// reuse it against a page lock they already hold. A write that WriteFunc must
// see now (write-through, or no room in the page) is appended to the returned
// entries as a dirty record, so the caller's flushVictims runs it after
// unlocking.
func (c *Cache) writeLocked(pc *pageCursor, pageIdx, seed uint32, key, value []byte) (bool, []evictedEntry) {
	now := c.nowUnix()
	victims, _ := expungePage(pc, modeMakeRoom, len(key)+len(value), now)
	c.recordExpunge(int(pageIdx), modeMakeRoom, len(victims))

	writeBack := c.opts.WriteAction == WriteBack
	var flags uint32
	if writeBack {
		flags = FlagDirty
	}
	stored := opWrite(pc, seed, key, value, flags, now, c.defaultExpireAt(now))

	if (!stored || !writeBack) && c.opts.WriteFunc != nil {
		victims = append(victims, evictedEntry{key: key, value: value, flags: FlagDirty})
	}
	return stored, victims
}

// GetAndSetFunc computes the next value for key given its current value
// (nil, found=false if absent). It must not call back into the Cache for
// the same key (spec.md §9 "Callback re-entrancy").
type GetAndSetFunc func(key, current []byte, found bool) []byte

// GetAndSet performs an atomic read-modify-write against a single key: the
// page lock taken to read current is held across the call to f and the
// subsequent write (spec.md §4.7 "get_and_set").
func (c *Cache) GetAndSet(key []byte, f GetAndSetFunc) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pageIdx, seed := locate(hashKey(key), c.opts.NumPages)
	pc := newPageCursor(c)
	if err := pc.lock(int(pageIdx)); err != nil {
		return nil, err
	}
	now := c.nowUnix()

	raw, flags, found := opRead(pc, seed, key, now)
	if flags&flagNotFound != 0 {
		found = false
	}
	var cur []byte
	if found {
		var err error
		cur, err = c.decode(raw)
		if err != nil {
			_ = pc.unlock()
			return nil, err
		}
	}

	next := f(key, cur, found)
	enc, err := c.encode(next)
	if err != nil {
		_ = pc.unlock()
		return nil, err
	}

	_, victims := c.writeLocked(pc, pageIdx, seed, key, enc)
	uerr := pc.unlock()
	c.flushVictims(victims)
	if uerr != nil {
		return next, uerr
	}
	return next, nil
}

// Remove deletes key if present, invoking DeleteFunc after the page lock is
// released.
func (c *Cache) Remove(key []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pageIdx, seed := locate(hashKey(key), c.opts.NumPages)
	pc := newPageCursor(c)
	if err := pc.lock(int(pageIdx)); err != nil {
		return false, err
	}
	deleted, _ := opDelete(pc, seed, key)
	uerr := pc.unlock()
	if deleted && c.opts.DeleteFunc != nil {
		c.runCallback("delete", func() error {
			return c.opts.DeleteFunc(c.opts.Context, key)
		})
	}
	return deleted, uerr
}

// Clear expunges every live entry on every page. No callbacks run (spec.md
// §6 "clear()").
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forEachPage(func(pc *pageCursor) error {
		victims, _ := expungePage(pc, modeAll, -1, c.nowUnix())
		c.recordExpunge(pc.pageIdx, modeAll, len(victims))
		return nil
	})
}

// Purge expunges only expired entries on every page. No callbacks run
// (spec.md §6 "purge()").
func (c *Cache) Purge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forEachPage(func(pc *pageCursor) error {
		victims, _ := expungePage(pc, modeExpiredOnly, -1, c.nowUnix())
		c.recordExpunge(pc.pageIdx, modeExpiredOnly, len(victims))
		return nil
	})
}

// Empty expunges every page (or, if onlyExpired, just their expired
// entries) and invokes WriteFunc for every dirty victim once all pages
// have been visited and released (spec.md §6 "empty(only_expired?)").
func (c *Cache) Empty(onlyExpired bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	mode := modeAll
	if onlyExpired {
		mode = modeExpiredOnly
	}
	var all []evictedEntry
	err := c.forEachPage(func(pc *pageCursor) error {
		victims, _ := expungePage(pc, mode, -1, c.nowUnix())
		c.recordExpunge(pc.pageIdx, mode, len(victims))
		all = append(all, victims...)
		return nil
	})
	c.flushVictims(all)
	return err
}

// MultiGet reads a batch of subkeys that all live on the page selected by
// pk, under a single page lock (spec.md §6 "multi_get").
func (c *Cache) MultiGet(pk []byte, subkeys [][]byte) (map[string][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pageIdx, _ := locate(hashKey(pk), c.opts.NumPages)
	pc := newPageCursor(c)
	if err := pc.lock(int(pageIdx)); err != nil {
		return nil, err
	}
	now := c.nowUnix()
	out := make(map[string][]byte, len(subkeys))
	for _, sk := range subkeys {
		_, seed := locate(hashKey(sk), c.opts.NumPages)
		raw, _, found := opRead(pc, seed, sk, now)
		if !found {
			continue
		}
		v, err := c.decode(raw)
		if err != nil {
			continue
		}
		out[string(sk)] = v
	}
	return out, pc.unlock()
}

// MultiSet writes a batch of subkeys that all live on the page selected by
// pk, under a single page lock (spec.md §6 "multi_set"). ok is false if any
// individual entry failed to encode or did not fit.
func (c *Cache) MultiSet(pk []byte, entries map[string][]byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pageIdx, _ := locate(hashKey(pk), c.opts.NumPages)
	pc := newPageCursor(c)
	if err := pc.lock(int(pageIdx)); err != nil {
		return false, err
	}

	ok := true
	var victims []evictedEntry
	for sk, v := range entries {
		enc, err := c.encode(v)
		if err != nil {
			ok = false
			continue
		}
		_, seed := locate(hashKey([]byte(sk)), c.opts.NumPages)
		stored, vs := c.writeLocked(pc, pageIdx, seed, []byte(sk), enc)
		victims = append(victims, vs...)
		if !stored {
			ok = false
		}
	}
	uerr := pc.unlock()
	c.flushVictims(victims)
	if uerr != nil {
		return ok, uerr
	}
	return ok, nil
}

// CheckIntegrity walks every page's header and slot directory against
// I1-I3 and I5 (spec.md §3 "Lifecycle", generalising the attach-time test_file
// option into a callable operation); I4, that each live key probes back to
// its own slot, is not checked. If fix is true, any page that fails
// validation is reinitialised in place. Returns whether every page was
// already valid, and the indices of the pages that were not.
func (c *Cache) CheckIntegrity(fix bool) (bool, []int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok := true
	var bad []int
	fd := int(c.file.Fd())
	for i := 0; i < int(c.opts.NumPages); i++ {
		start := int64(i) * int64(c.opts.PageSize)
		length := int64(c.opts.PageSize)
		if err := lockRangeWithTimeout(fd, start, length, true, c.opts.LockTimeout); err != nil {
			return false, bad, newErr("CheckIntegrity", KindLockTimeout, i, nil)
		}

		buf := c.mapped[start : start+length]
		v := newPageView(buf)
		if verr := v.validate(c.opts.PageSize, i); verr != nil {
			ok = false
			bad = append(bad, i)
			if fix {
				initPage(buf, c.opts.PageSize, c.opts.StartSlots)
				_ = msyncRange(c.mapped, start, length)
			}
		}
		if err := unlockRange(fd, start, length); err != nil {
			return ok, bad, newErr("CheckIntegrity", KindIOFailed, i, err)
		}
	}
	return ok, bad, nil
}
