// Package cache implements the Cache Layer (C4): a three-tier,
// content-addressed, on-disk cache with single-flight deduplication,
// expiry, and negative-result memoization (spec §4.4).
//
// Files on disk are authoritative. A small in-memory hot-key memo sits in
// front of the os.Stat call on the read path, but its entries expire after
// hotCacheWindow or the tier's own TTL/max-age, whichever is shorter, so it
// can only ever serve a hit that a disk stat would also have served — it
// shortcuts repeated stats under hot-key churn, it never extends an entry's
// real lifetime.
package cache

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/crashsymbol/symbolicator/internal/cachekey"
	"github.com/crashsymbol/symbolicator/internal/errs"
	"github.com/crashsymbol/symbolicator/internal/lru"
)

// hotCacheCapacity bounds the in-memory fast-path memo; keyed by
// cachekey.FastHash so the memo never holds the key string itself twice.
const hotCacheCapacity = 4096

// hotCacheWindow is deliberately much shorter than any realistic tier TTL:
// the memo exists to absorb bursts of repeat lookups on the same key, not
// to extend how long an entry is considered fresh.
const hotCacheWindow = 2 * time.Second

type hotEntry struct {
	entry     Entry
	expiresAt time.Time
}

// positiveMarker is prefixed to every positive entry's bytes on disk. It
// exists solely to resolve the spec §8 boundary case: a zero-byte object
// download is a valid object of length 0, not a negative-cache marker, but
// §3 also defines "zero-length file on disk means negative cache". Without
// a marker the two are indistinguishable at the filesystem level. A
// negative entry is an exactly-empty file; a positive entry is always at
// least one byte (the marker), even when its logical content is empty.
const positiveMarker = byte(0x01)

// Config is the per-tier cache configuration of spec §3.
type Config struct {
	MaxTotalBytes int64         // 0 = unbounded
	MaxItemBytes  int64         // 0 = unbounded
	PositiveTTL   time.Duration // 0 = never expires on TTL grounds
	NegativeTTL   time.Duration
	MaxItemAge    time.Duration // 0 = unbounded
}

// Compute produces the bytes for a cache miss. absent=true with a nil
// error means "confirmed absent" (writes a negative entry); a non-nil
// error means unknown state and is never persisted (spec §4.4 step 3).
type Compute func(ctx context.Context) (stream io.ReadCloser, absent bool, err error)

// Entry is the result of a successful GetOrCompute: either a Hit carrying
// the artifact's on-disk path, or a NegativeHit.
type Entry struct {
	Key      cachekey.Key
	Path     string
	Negative bool
}

// Open returns a reader over the entry's logical content (the marker byte
// already stripped). Negative entries have no content; calling Open on one
// returns io.EOF immediately.
func (e *Entry) Open() (io.ReadCloser, error) {
	if e.Negative {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	f, err := os.Open(e.Path)
	if err != nil {
		return nil, errs.Wrap(errs.KindCacheIO, "cache.open", err)
	}
	if _, err := f.Seek(1, io.SeekStart); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.KindCacheIO, "cache.open", err)
	}
	return f, nil
}

// Tier is one content-addressed cache tier (objects, object_meta,
// symcaches, or cficaches), backed by a flat directory of hex-named files.
type Tier struct {
	Name string
	dir  string
	cfg  Config
	sf   singleflight.Group
	log  *zap.Logger

	hotMu sync.Mutex
	hot   *lru.Cache[uint64, hotEntry]
}

// NewTier opens (creating if necessary) the tier directory dir.
func NewTier(name, dir string, cfg Config, log *zap.Logger) (*Tier, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindCacheIO, "cache.open_tier", err)
	}
	return &Tier{
		Name: name,
		dir:  dir,
		cfg:  cfg,
		log:  log.Named("cache." + name),
		hot:  lru.New[uint64, hotEntry](hotCacheCapacity),
	}, nil
}

func (t *Tier) pathFor(key cachekey.Key) string {
	return filepath.Join(t.dir, string(key))
}

// GetOrCompute implements spec §4.4's five-step lookup contract.
// Concurrent calls for the same key observe exactly one invocation of
// compute (guaranteed by singleflight.Group); cancelling one caller's ctx
// does not cancel the computation for co-waiters still attached, since the
// shared computation runs under a context detached from cancellation.
func (t *Tier) GetOrCompute(ctx context.Context, key cachekey.Key, compute Compute) (*Entry, error) {
	v, err, _ := t.sf.Do(string(key), func() (interface{}, error) {
		return t.getOrComputeOnce(context.WithoutCancel(ctx), key, compute)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

func (t *Tier) getOrComputeOnce(ctx context.Context, key cachekey.Key, compute Compute) (*Entry, error) {
	path := t.pathFor(key)

	if entry, ok := t.hotGet(key); ok {
		return entry, nil
	}

	if entry, ok := t.lookupFresh(path, key); ok {
		t.promote(path)
		t.hotPut(key, *entry)
		return entry, nil
	}

	stream, absent, err := compute(ctx)
	if err != nil {
		// Cache I/O-adjacent: unknown-state errors are never persisted.
		return nil, err
	}

	if absent {
		if err := t.writeNegative(path); err != nil {
			return nil, err
		}
		entry := &Entry{Key: key, Path: path, Negative: true}
		t.hotPut(key, *entry)
		return entry, nil
	}

	if err := t.writePositive(path, stream); err != nil {
		return nil, err
	}
	entry := &Entry{Key: key, Path: path, Negative: false}
	t.hotPut(key, *entry)
	return entry, nil
}

// Peek returns the current on-disk entry for key without invoking compute
// on a miss — callers that already know a key was populated (e.g.
// resolver.Handle re-opening a resolved object) use this to avoid
// racing a vanished file into a spurious negative entry.
func (t *Tier) Peek(key cachekey.Key) (*Entry, bool) {
	if entry, ok := t.hotGet(key); ok {
		return entry, true
	}
	entry, ok := t.lookupFresh(t.pathFor(key), key)
	if ok {
		t.promote(t.pathFor(key))
		t.hotPut(key, *entry)
	}
	return entry, ok
}

// hotGet returns a still-fresh in-memory memo of key's last known entry, if
// one exists and hasn't crossed its memo window (see hotPut).
func (t *Tier) hotGet(key cachekey.Key) (*Entry, bool) {
	h := cachekey.FastHash(key)
	t.hotMu.Lock()
	defer t.hotMu.Unlock()
	he, ok := t.hot.Get(h)
	if !ok || he.entry.Key != key || time.Now().After(he.expiresAt) {
		return nil, false
	}
	entry := he.entry
	return &entry, true
}

// hotPut memoizes entry for hotCacheWindow, shortened to the tier's TTL for
// the entry's polarity or its max-item-age when either is shorter. Every
// caller has just written or promoted the file, so its mtime is now.
func (t *Tier) hotPut(key cachekey.Key, entry Entry) {
	window := hotCacheWindow
	ttl := t.cfg.PositiveTTL
	if entry.Negative {
		ttl = t.cfg.NegativeTTL
	}
	if ttl > 0 && ttl < window {
		window = ttl
	}
	if t.cfg.MaxItemAge > 0 && t.cfg.MaxItemAge < window {
		window = t.cfg.MaxItemAge
	}
	h := cachekey.FastHash(key)
	t.hotMu.Lock()
	defer t.hotMu.Unlock()
	t.hot.Put(h, hotEntry{entry: entry, expiresAt: time.Now().Add(window)})
}

// hotInvalidate drops every in-memory memo entry; used by Cleanup since it
// deletes files out-of-band and the short hotCacheWindow alone would still
// leave a narrow window where the memo could outlive a deleted file.
func (t *Tier) hotInvalidate() {
	t.hotMu.Lock()
	defer t.hotMu.Unlock()
	t.hot = lru.New[uint64, hotEntry](hotCacheCapacity)
}

// lookupFresh checks the on-disk entry, applying max-item-age and
// positive/negative TTL (spec §4.4 step 2). A missing file, or one past
// its TTL/max-age, is reported as a miss so the caller recomputes.
func (t *Tier) lookupFresh(path string, key cachekey.Key) (*Entry, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}

	negative := info.Size() == 0
	age := time.Since(info.ModTime())

	if t.cfg.MaxItemAge > 0 && age > t.cfg.MaxItemAge {
		return nil, false
	}
	ttl := t.cfg.PositiveTTL
	if negative {
		ttl = t.cfg.NegativeTTL
	}
	if ttl > 0 && age > ttl {
		return nil, false
	}

	return &Entry{Key: key, Path: path, Negative: negative}, true
}

// promote updates the entry's mtime on a read hit, best-effort (spec §4.4
// step 4).
func (t *Tier) promote(path string) {
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		t.log.Debug("mtime promotion failed", zap.Error(err), zap.String("path", path))
	}
}

func (t *Tier) writeNegative(path string) error {
	return t.atomicWrite(path, func(f *os.File) error { return nil })
}

func (t *Tier) writePositive(path string, stream io.ReadCloser) error {
	defer stream.Close()
	return t.atomicWrite(path, func(f *os.File) error {
		if _, err := f.Write([]byte{positiveMarker}); err != nil {
			return err
		}
		var r io.Reader = stream
		if t.cfg.MaxItemBytes > 0 {
			r = io.LimitReader(stream, t.cfg.MaxItemBytes+1)
		}
		n, err := io.Copy(f, r)
		if err != nil {
			return err
		}
		if t.cfg.MaxItemBytes > 0 && n > t.cfg.MaxItemBytes {
			return errs.New(errs.KindCacheIO, "cache.write", "item exceeds tier max size")
		}
		return nil
	})
}

// atomicWrite streams into a temp file in the same directory as path, then
// renames it atomically onto path, matching spec §3/§4.3's "temp-file +
// atomic rename" guarantee against torn writes.
func (t *Tier) atomicWrite(path string, fill func(*os.File) error) error {
	tmp, err := os.CreateTemp(t.dir, ".tmp-*")
	if err != nil {
		return errs.Wrap(errs.KindCacheIO, "cache.write", err)
	}
	tmpPath := tmp.Name()
	cleanupTmp := true
	defer func() {
		if cleanupTmp {
			os.Remove(tmpPath)
		}
	}()

	if err := fill(tmp); err != nil {
		tmp.Close()
		return errs.Wrap(errs.KindCacheIO, "cache.write", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.Wrap(errs.KindCacheIO, "cache.write", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.KindCacheIO, "cache.write", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errs.Wrap(errs.KindCacheIO, "cache.write", err)
	}
	cleanupTmp = false
	return nil
}

// Cleanup implements the out-of-band eviction pass (spec §4.4 step 5):
// delete entries older than MaxItemAge, then delete oldest-mtime entries
// until total size is within MaxTotalBytes. Safe to run concurrently with
// serving traffic — deleting a file a reader already opened does not
// disturb that reader on POSIX filesystems, and single-flight keys are
// independent of file presence.
func (t *Tier) Cleanup() error {
	defer t.hotInvalidate()

	dirEntries, err := os.ReadDir(t.dir)
	if err != nil {
		return errs.Wrap(errs.KindCacheIO, "cache.cleanup", err)
	}

	type item struct {
		path  string
		size  int64
		mtime time.Time
	}
	items := make([]item, 0, len(dirEntries))
	now := time.Now()

	for _, de := range dirEntries {
		if de.IsDir() || filepath.Base(de.Name())[0] == '.' {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if t.cfg.MaxItemAge > 0 && now.Sub(info.ModTime()) > t.cfg.MaxItemAge {
			os.Remove(filepath.Join(t.dir, de.Name()))
			continue
		}
		items = append(items, item{path: filepath.Join(t.dir, de.Name()), size: info.Size(), mtime: info.ModTime()})
	}

	if t.cfg.MaxTotalBytes <= 0 {
		return nil
	}

	var total int64
	for _, it := range items {
		total += it.size
	}
	if total <= t.cfg.MaxTotalBytes {
		return nil
	}

	sort.Slice(items, func(i, j int) bool { return items[i].mtime.Before(items[j].mtime) })
	for _, it := range items {
		if total <= t.cfg.MaxTotalBytes {
			break
		}
		if err := os.Remove(it.path); err != nil {
			continue
		}
		total -= it.size
	}
	return nil
}
