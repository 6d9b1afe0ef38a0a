package shmcache

// lock.go implements the per-page lock manager and the page cursor state
// machine from spec.md §4.2 and §4.8:
//
//	UNATTACHED -> LOCKED(p) -> LOCKED_DIRTY(p) -> UNATTACHED
//
// At most one page may be locked by a given page cursor at a time; calling
// lock on a cursor that already holds a page (the same one or another) is a
// programmer error, surfaced as KindReentrant rather than deadlocking.

import (
	"errors"
	"time"
)

var errLockTimedOut = errors.New("lock wait exceeded timeout")

const defaultLockTimeout = 10 * time.Second

// pageCursor holds the state for the single page a Cache handle may have
// locked at any moment. It is not safe for concurrent use by multiple
// goroutines in the same process — same restriction as the source: a
// process gets one thread of cache activity (spec.md §5).
type pageCursor struct {
	c       *Cache
	locked  bool
	dirty   bool
	pageIdx int
	view    pageView
}

func newPageCursor(c *Cache) *pageCursor {
	return &pageCursor{c: c, pageIdx: -1}
}

// lock acquires the advisory byte-range lock for pageIdx, validates the
// page, and transitions the cursor to LOCKED(pageIdx). It fails with
// KindReentrant if the cursor already holds any page's lock.
func (pc *pageCursor) lock(pageIdx int) error {
	if pc.locked {
		return newErr("lock", KindReentrant, pageIdx, nil)
	}

	fd := int(pc.c.file.Fd())
	start := int64(pageIdx) * int64(pc.c.opts.PageSize)
	length := int64(pc.c.opts.PageSize)

	waitStart := time.Now()
	err := lockRangeWithTimeout(fd, start, length, true, pc.c.opts.LockTimeout)
	pc.c.metrics.observeLockWait(pageIdx, time.Since(waitStart).Seconds())
	if err != nil {
		if errors.Is(err, errLockTimedOut) {
			pc.c.recordLockTimeout(pageIdx)
			return newErr("lock", KindLockTimeout, pageIdx, nil)
		}
		return newErr("lock", KindIOFailed, pageIdx, err)
	}

	buf := pc.c.mapped[start : start+length]
	pv := newPageView(buf)
	if err := pv.validate(pc.c.opts.PageSize, pageIdx); err != nil {
		if pc.c.opts.TestFile {
			initPage(buf, pc.c.opts.PageSize, pc.c.opts.StartSlots)
			pc.c.opts.Logger.Warn("reinitialised corrupt page", logField("page", pageIdx))
		} else {
			_ = unlockRange(fd, start, length)
			return err
		}
	}

	pc.locked = true
	pc.dirty = false
	pc.pageIdx = pageIdx
	pc.view = newPageView(buf)
	return nil
}

// markDirty transitions LOCKED(p) -> LOCKED_DIRTY(p). Any mutation to
// header fields or slot/heap contents must call this.
func (pc *pageCursor) markDirty() { pc.dirty = true }

// unlock releases the page lock, returning the cursor to UNATTACHED. Header
// fields are always already reflected in the mapped bytes (direct writes,
// see page.go); on a dirty page we additionally issue an asynchronous msync
// so the write is queued for the page cache promptly, though this is not
// required for same-host visibility.
func (pc *pageCursor) unlock() error {
	if !pc.locked {
		return newErr("unlock", KindIOFailed, -1, errors.New("unlock called while unattached"))
	}
	fd := int(pc.c.file.Fd())
	start := int64(pc.pageIdx) * int64(pc.c.opts.PageSize)
	length := int64(pc.c.opts.PageSize)

	if pc.dirty {
		_ = msyncRange(pc.c.mapped, start, length)
		pc.c.metrics.setFreeBytes(pc.pageIdx, pc.view.freeBytes())
	}

	err := unlockRange(fd, start, length)
	pc.locked = false
	pc.dirty = false
	pc.pageIdx = -1
	pc.view = pageView{}
	if err != nil {
		return newErr("unlock", KindIOFailed, -1, err)
	}
	return nil
}
