package shmcache

// callbacks.go declares the three hook slots an embedder may register
// (spec.md §6). Hooks receive Options.Context as their first argument and
// must not call back into the same Cache: read-through hooks run under the
// page lock, write and delete hooks run just after it is released (spec.md §9
// "Callback re-entrancy"). Every hook runs while the calling method holds the
// Cache's mutex, so such a call blocks on that mutex; it is not detected or
// rejected.

// ReadFunc is invoked on a Get miss, if registered. Returning found=false
// with CacheNotFound enabled memoises the miss as a short-lived entry that Get
// reports as absent without invoking ReadFunc again.
type ReadFunc func(ctx any, key []byte) (value []byte, found bool, err error)

// WriteFunc is invoked to persist a value to the embedder's backing store:
// under write-through, on every Set; under write-back, when a dirty entry is
// evicted or flushed, and also when Set's in-page write finds no room.
type WriteFunc func(ctx any, key, value []byte) error

// DeleteFunc is invoked after Remove deletes a key from the page.
type DeleteFunc func(ctx any, key []byte) error

// runCallback contains a hook failure so it never escapes the page lock
// boundary (spec.md §7): panics are recovered and errors are logged, and
// callers treat either outcome as "no effect on cache state".
func (c *Cache) runCallback(op string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.opts.Logger.Error("callback panicked", logField("op", op), logField("recover", r))
		}
	}()
	if err := fn(); err != nil {
		c.opts.Logger.Error("callback failed", logField("op", op), logField("err", err.Error()))
	}
}
