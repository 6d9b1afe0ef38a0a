package shmcache

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	if opts.SharePath == "" {
		opts.SharePath = filepath.Join(t.TempDir(), "sharefile")
	}
	if opts.RawValues == false && opts.Codec == nil {
		opts.RawValues = true
	}
	if opts.NumPages == 0 {
		opts.NumPages = 3
	}
	if opts.PageSize == 0 {
		opts.PageSize = 4096
	}
	if opts.StartSlots == 0 {
		opts.StartSlots = 89
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSetGetRoundTrip(t *testing.T) {
	c := newTestCache(t, Options{})

	_, err := c.Set([]byte("k1"), []byte("v1"))
	require.NoError(t, err)

	v, found, err := c.Get([]byte("k1"))
	require.NoError(t, err)
	require.True(t, found, "expected to find k1")
	require.Equal(t, "v1", string(v))
}

func TestGetMissWithoutReadFunc(t *testing.T) {
	c := newTestCache(t, Options{})
	_, found, err := c.Get([]byte("absent"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("expected a miss for a key never set")
	}
}

func TestRemove(t *testing.T) {
	c := newTestCache(t, Options{})
	c.Set([]byte("k1"), []byte("v1"))

	deleted, err := c.Remove([]byte("k1"))
	if err != nil || !deleted {
		t.Fatalf("Remove: deleted=%v err=%v", deleted, err)
	}
	if _, found, _ := c.Get([]byte("k1")); found {
		t.Fatal("key should be gone after Remove")
	}
	deleted, err = c.Remove([]byte("k1"))
	if err != nil || deleted {
		t.Fatal("removing an already-removed key should report deleted=false")
	}
}

func TestGetAndSetAtomicIncrement(t *testing.T) {
	c := newTestCache(t, Options{})
	incr := func(key, cur []byte, found bool) []byte {
		if !found {
			return []byte{1}
		}
		return []byte{cur[0] + 1}
	}
	for i := 0; i < 5; i++ {
		if _, err := c.GetAndSet([]byte("counter"), incr); err != nil {
			t.Fatalf("GetAndSet iteration %d: %v", i, err)
		}
	}
	v, found, err := c.Get([]byte("counter"))
	if err != nil || !found {
		t.Fatalf("Get after GetAndSet loop: found=%v err=%v", found, err)
	}
	if v[0] != 5 {
		t.Fatalf("counter = %d, want 5", v[0])
	}
}

func TestReadThroughOnMiss(t *testing.T) {
	calls := 0
	c := newTestCache(t, Options{
		ReadFunc: func(ctx any, key []byte) ([]byte, bool, error) {
			calls++
			return []byte("from-backing-store"), true, nil
		},
	})

	v, found, err := c.Get([]byte("k1"))
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if string(v) != "from-backing-store" {
		t.Fatalf("v = %q", v)
	}
	if calls != 1 {
		t.Fatalf("ReadFunc called %d times, want 1", calls)
	}

	// Second Get should now hit the page admitted by the first read-through,
	// not call ReadFunc again.
	if _, _, err := c.Get([]byte("k1")); err != nil {
		t.Fatalf("Get (second): %v", err)
	}
	if calls != 1 {
		t.Fatalf("ReadFunc called %d times after a cache hit, want 1", calls)
	}
}

func TestCacheNotFoundMemoisesMiss(t *testing.T) {
	calls := 0
	c := newTestCache(t, Options{
		CacheNotFound: true,
		ReadFunc: func(ctx any, key []byte) ([]byte, bool, error) {
			calls++
			return nil, false, nil
		},
	})

	if _, found, err := c.Get([]byte("missing")); err != nil || found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if calls != 1 {
		t.Fatalf("ReadFunc called %d times, want 1", calls)
	}

	// Within the same wall-clock second, the memoised entry is still live
	// (now > expire_time is false at equality), so ReadFunc must not be
	// invoked again.
	if _, found, err := c.Get([]byte("missing")); err != nil || found {
		t.Fatalf("Get (second, same second): found=%v err=%v", found, err)
	}
	if calls != 1 {
		t.Fatalf("ReadFunc called %d times on the second immediate Get, want 1 (still memoised)", calls)
	}
}

func TestWriteBackDefersWriteFunc(t *testing.T) {
	var flushed [][]byte
	c := newTestCache(t, Options{
		WriteAction: WriteBack,
		WriteFunc: func(ctx any, key, value []byte) error {
			flushed = append(flushed, append([]byte(nil), key...))
			return nil
		},
	})

	if _, err := c.Set([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(flushed) != 0 {
		t.Fatal("write-back Set must not call WriteFunc immediately")
	}

	if err := c.Empty(false); err != nil {
		t.Fatalf("Empty: %v", err)
	}
	if len(flushed) != 1 || string(flushed[0]) != "k1" {
		t.Fatalf("expected Empty to flush the one dirty entry, got %v", flushed)
	}
}

func TestWriteThroughCallsWriteFuncImmediately(t *testing.T) {
	var calls int
	c := newTestCache(t, Options{
		WriteFunc: func(ctx any, key, value []byte) error {
			calls++
			return nil
		},
	})
	if _, err := c.Set([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if calls != 1 {
		t.Fatalf("write-through Set should call WriteFunc once immediately, got %d", calls)
	}
}

func TestClearRemovesEverything(t *testing.T) {
	c := newTestCache(t, Options{})
	for i := 0; i < 5; i++ {
		c.Set([]byte{byte('a' + i)}, []byte("v"))
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	keys, err := c.GetKeys(KeysOnly)
	if err != nil {
		t.Fatalf("GetKeys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys after Clear, got %d", len(keys))
	}
}

func TestMultiGetMultiSetShareOnePage(t *testing.T) {
	c := newTestCache(t, Options{})
	pk := []byte("batch-1")

	ok, err := c.MultiSet(pk, map[string][]byte{
		"sub-a": []byte("va"),
		"sub-b": []byte("vb"),
	})
	if err != nil || !ok {
		t.Fatalf("MultiSet: ok=%v err=%v", ok, err)
	}

	out, err := c.MultiGet(pk, [][]byte{[]byte("sub-a"), []byte("sub-b"), []byte("sub-missing")})
	if err != nil {
		t.Fatalf("MultiGet: %v", err)
	}
	if string(out["sub-a"]) != "va" || string(out["sub-b"]) != "vb" {
		t.Fatalf("MultiGet result: %v", out)
	}
	if _, present := out["sub-missing"]; present {
		t.Fatal("MultiGet should not return an entry for a missing subkey")
	}
}

func TestCheckIntegrityFixesCorruptPage(t *testing.T) {
	c := newTestCache(t, Options{NumPages: 2})
	c.Set([]byte("k1"), []byte("v1"))

	// Corrupt page 0's magic directly in the mapped bytes.
	start := int64(0)
	byteOrder.PutUint32(c.mapped[start:], 0)

	ok, bad, err := c.CheckIntegrity(false)
	if err != nil {
		t.Fatalf("CheckIntegrity(false): %v", err)
	}
	if ok || len(bad) != 1 || bad[0] != 0 {
		t.Fatalf("CheckIntegrity(false) = ok=%v bad=%v, want a single bad page 0", ok, bad)
	}

	ok, bad, err = c.CheckIntegrity(true)
	if err != nil {
		t.Fatalf("CheckIntegrity(true): %v", err)
	}
	if ok {
		t.Fatal("CheckIntegrity should still report the corruption it just found before fixing")
	}

	ok, bad, err = c.CheckIntegrity(false)
	if err != nil || !ok || len(bad) != 0 {
		t.Fatalf("page 0 should be clean after the fix pass: ok=%v bad=%v err=%v", ok, bad, err)
	}
}

func TestReentrantLockRejected(t *testing.T) {
	c := newTestCache(t, Options{NumPages: 1})
	pc := newPageCursor(c)
	if err := pc.lock(0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer pc.unlock()

	err := pc.lock(0)
	if err == nil {
		t.Fatal("expected a reentrant lock on the same cursor to fail")
	}
	var serr *Error
	if !errors.As(err, &serr) || serr.Kind != KindReentrant {
		t.Fatalf("expected KindReentrant, got %v", err)
	}
}
