/*
Package shmcache provides a shared-memory key/value cache backed by a single
memory-mapped file. Multiple cooperating processes on one host attach to the
same file and observe a consistent view: any process may read, insert,
update, delete, expire, or iterate entries, with concurrent access
coordinated by byte-range advisory locks on the underlying file.

Basic usage:

	import "github.com/shmcache/shmcache"

	c, err := shmcache.New(shmcache.Options{
		SharePath: "/tmp/sharefile",
		NumPages:  89,
		PageSize:  64 << 10,
		RawValues: true,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	c.Set([]byte("alpha"), []byte("beta"))
	v, ok, err := c.Get([]byte("alpha"))

Implementation details:

The file is divided into a fixed number of independently-locked pages. Each
page is self-describing: a 32-byte header, a slot directory using open
addressing with tombstones, and a heap of inline key/value records that
grows from the end of the directory toward the end of the page. Capacity
pressure and TTL expiry are resolved by an expunge pass that evicts the
least-recently-used entries, optionally grows the slot directory, and
rebuilds the page in place.

Cross-process coordination is a single advisory lock per page: whichever
process holds the lock for a page has exclusive access to it, and no
process ever holds more than one page lock at a time. There is no global
lock and no cross-page transaction — entries are consistent per page, not
across the whole cache.
*/
package shmcache
