//go:build unix

package shmcache

// mmap_unix.go owns the share file's lifecycle: open-or-create, size
// reconciliation, zero-fill initialisation, and the mmap/munmap pair.
// Grounded on Giulio2002-gdbx/mmap/mmap_unix.go for the mmap call shape and
// on calvinalkan-agent-task's use of github.com/natefinch/atomic for
// torn-write-free file creation.

import (
	"bytes"
	"os"

	atomicfile "github.com/natefinch/atomic"
	"golang.org/x/sys/unix"
)

// openShareFile opens (creating if necessary) the share file, reconciles its
// size against NumPages*PageSize, and returns the open handle. If the file
// is freshly created, of any other size, or InitFile is set, it is (re)written via
// an atomic rename so a crash mid-init never leaves a torn file for a
// racing attacher to mmap.
func openShareFile(opts Options) (*os.File, bool, error) {
	wantSize := int64(opts.NumPages) * int64(opts.PageSize)

	fi, statErr := os.Stat(opts.SharePath)
	needInit := opts.InitFile || os.IsNotExist(statErr) || (statErr == nil && fi.Size() != wantSize)

	if needInit {
		buf := make([]byte, wantSize)
		for pg := uint32(0); pg < opts.NumPages; pg++ {
			start := int64(pg) * int64(opts.PageSize)
			initPage(buf[start:start+int64(opts.PageSize)], opts.PageSize, opts.StartSlots)
		}
		if err := atomicfile.WriteFile(opts.SharePath, bytes.NewReader(buf)); err != nil {
			return nil, false, newErr("open", KindIOFailed, -1, err)
		}
	}

	f, err := os.OpenFile(opts.SharePath, os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, newErr("open", KindIOFailed, -1, err)
	}
	return f, needInit, nil
}

// mmapFile maps the whole share file read-write, shared across processes.
func mmapFile(f *os.File, size int64) ([]byte, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, newErr("mmap", KindIOFailed, -1, err)
	}
	return data, nil
}

func munmapFile(data []byte) error {
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}

// msyncRange flushes a byte range of the mapped region asynchronously. Best
// effort: crash-atomic durability is an explicit non-goal (spec.md §1).
func msyncRange(mapped []byte, start, length int64) error {
	end := start + length
	if end > int64(len(mapped)) {
		end = int64(len(mapped))
	}
	if start >= end {
		return nil
	}
	return unix.Msync(mapped[start:end], unix.MS_ASYNC)
}

// testAllPages locks and validates every page, reinitialising any page that
// fails I1-I3 or I5 (see pageView.validate), matching spec.md §3 "Lifecycle"'s
// optional attach-time test.
func (c *Cache) testAllPages() error {
	pc := newPageCursor(c)
	for i := 0; i < int(c.opts.NumPages); i++ {
		if err := pc.lock(i); err != nil {
			return err
		}
		if err := pc.unlock(); err != nil {
			return err
		}
	}
	return nil
}
