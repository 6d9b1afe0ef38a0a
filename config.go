package shmcache

// config.go defines Options, the embedder-facing configuration struct
// (spec.md §6 "Configuration options"), its defaults, and the small
// size/duration string parser the source's "4k"/"16m"/"1m"/"1h"/"1d"
// shorthands need. Style follows Voskan-arena-cache/pkg/config.go's
// defaultConfig/applyOptions split, adapted to a plain struct since the
// embedder surface here is an options struct (as in the source), not
// functional options.

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// WriteAction selects whether Set flushes to the embedder's backing store
// immediately (WriteThrough, default) or only on eviction/flush (WriteBack).
type WriteAction uint8

const (
	WriteThrough WriteAction = iota
	WriteBack
)

// Options configures a Cache. Zero-value fields are replaced by
// DefaultOptions()'s values in New, mirroring theflywheel-phash.Open's
// handling of missing parameters and the source's documented defaults
// (spec.md §6).
type Options struct {
	// SharePath is the filesystem path to the shared mmap file. Default
	// "/tmp/sharefile" — a process-wide fallback, trivially overridden
	// per handle (spec.md §9).
	SharePath string

	// InitFile forces re-initialisation of the share file on attach.
	InitFile bool

	// TestFile enables a per-page integrity test on attach; corrupt pages
	// are reinitialised rather than surfaced as errors. Cache.CheckIntegrity
	// is available whether or not this is set.
	TestFile bool

	// RawValues bypasses the value Codec: values are stored exactly as
	// supplied.
	RawValues bool

	// ExpireTime is the default per-entry TTL; zero disables time-based
	// expiry (LRU only).
	ExpireTime time.Duration

	// PageSize must be a power of two in [4KiB, 1MiB].
	PageSize uint32
	// NumPages is the number of independently-locked pages. Prime is
	// recommended (reduces systematic key clustering across pages).
	NumPages uint32
	// StartSlots is the initial slot-directory size per page.
	StartSlots uint32

	// WriteAction selects write-through (default) or write-back.
	WriteAction WriteAction

	// CacheNotFound memoises read-through misses as empty entries with
	// expire_time=now that Get reports as absent, so a stampede of misses
	// for a missing key within the same second doesn't repeatedly invoke
	// ReadFunc.
	CacheNotFound bool

	// EmptyOnExit runs Empty(false) during Close; only one process
	// (typically the parent) should set this.
	EmptyOnExit bool

	// Context is passed as the first argument to every hook.
	Context any

	Codec      Codec
	ReadFunc   ReadFunc
	WriteFunc  WriteFunc
	DeleteFunc DeleteFunc

	// Logger receives slow-path diagnostics (corrupt page reinitialisation,
	// hook failures). Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics optionally registers Prometheus series; a nil Registry (the
	// zero value, default) disables metrics, matching Voskan-arena-cache's
	// WithMetrics(nil).
	Metrics MetricsOptions

	// LockTimeout bounds how long a page lock acquisition waits before
	// returning KindLockTimeout. Defaults to 10s per spec.md §4.2.
	LockTimeout time.Duration
}

const (
	defaultSharePath   = "/tmp/sharefile"
	defaultPageSize    = 64 << 10
	defaultNumPages    = 89
	defaultStartSlots  = 89
	minPageSize        = 4 << 10
	maxPageSize        = 1 << 20
)

// DefaultOptions returns the zero-configuration defaults named in spec.md §6.
func DefaultOptions() Options {
	return Options{
		SharePath:   defaultSharePath,
		PageSize:    defaultPageSize,
		NumPages:    defaultNumPages,
		StartSlots:  defaultStartSlots,
		LockTimeout: defaultLockTimeout,
	}
}

// normalise fills in defaults for zero fields and validates the result,
// returning a *Error with KindConfigInvalid on any problem.
func (o Options) normalise() (Options, error) {
	d := DefaultOptions()
	if o.SharePath == "" {
		o.SharePath = d.SharePath
	}
	if o.PageSize == 0 {
		o.PageSize = d.PageSize
	}
	if o.NumPages == 0 {
		o.NumPages = d.NumPages
	}
	if o.StartSlots == 0 {
		o.StartSlots = d.StartSlots
	}
	if o.LockTimeout == 0 {
		o.LockTimeout = d.LockTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Codec == nil {
		o.Codec = RawCodec{}
	}

	if o.PageSize < minPageSize || o.PageSize > maxPageSize || o.PageSize&(o.PageSize-1) != 0 {
		return o, newErr("New", KindConfigInvalid, -1, fmt.Errorf("page_size %d must be a power of two in [%d, %d]", o.PageSize, minPageSize, maxPageSize))
	}
	if o.NumPages == 0 {
		return o, newErr("New", KindConfigInvalid, -1, fmt.Errorf("num_pages must be > 0"))
	}
	if o.StartSlots < minNumSlots {
		return o, newErr("New", KindConfigInvalid, -1, fmt.Errorf("start_slots must be >= %d", minNumSlots))
	}
	if o.StartSlots > o.PageSize/4 {
		return o, newErr("New", KindConfigInvalid, -1, fmt.Errorf("start_slots too large for page_size"))
	}
	if o.SharePath == "" {
		return o, newErr("New", KindConfigInvalid, -1, fmt.Errorf("share_file must not be empty"))
	}
	return o, nil
}

// ParseSize parses a byte-count shorthand like the source's cache_size
// option: a bare integer, or an integer suffixed with k/m/g (case
// insensitive), e.g. "4k", "16m".
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := uint64(1)
	last := s[len(s)-1]
	switch last {
	case 'k', 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * mult, nil
}

// ParseDuration parses the source's TTL shorthand: a bare integer number of
// seconds, or an integer suffixed with s/m/h/d.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	unit := time.Second
	last := s[len(s)-1]
	switch last {
	case 's', 'S':
		unit = time.Second
		s = s[:len(s)-1]
	case 'm', 'M':
		unit = time.Minute
		s = s[:len(s)-1]
	case 'h', 'H':
		unit = time.Hour
		s = s[:len(s)-1]
	case 'd', 'D':
		unit = 24 * time.Hour
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(n) * unit, nil
}

func logField(key string, val any) zap.Field { return zap.Any(key, val) }
