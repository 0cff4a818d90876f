package cache

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crashsymbol/symbolicator/internal/cachekey"
)

func newTier(t *testing.T, cfg Config) *Tier {
	t.Helper()
	tier, err := NewTier("objects", t.TempDir(), cfg, nil)
	require.NoError(t, err)
	return tier
}

func bytesStream(b []byte) io.ReadCloser {
	return io.NopCloser(&byteReader{b: b})
}

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

func TestGetOrComputeWritesAndReadsPositiveEntry(t *testing.T) {
	tier := newTier(t, Config{})
	calls := 0
	compute := func(ctx context.Context) (io.ReadCloser, bool, error) {
		calls++
		return bytesStream([]byte("hello")), false, nil
	}

	entry, err := tier.GetOrCompute(context.Background(), cachekey.Key("k1"), compute)
	require.NoError(t, err)
	assert.False(t, entry.Negative)

	r, err := entry.Open()
	require.NoError(t, err)
	defer r.Close()
	body, _ := io.ReadAll(r)
	assert.Equal(t, "hello", string(body))

	entry2, err := tier.GetOrCompute(context.Background(), cachekey.Key("k1"), compute)
	require.NoError(t, err)
	assert.False(t, entry2.Negative)
	assert.Equal(t, 1, calls, "second call must be served from disk, not recomputed")
}

func TestGetOrComputeWritesNegativeEntry(t *testing.T) {
	tier := newTier(t, Config{})
	calls := 0
	compute := func(ctx context.Context) (io.ReadCloser, bool, error) {
		calls++
		return nil, true, nil
	}

	entry, err := tier.GetOrCompute(context.Background(), cachekey.Key("missing"), compute)
	require.NoError(t, err)
	assert.True(t, entry.Negative)

	entry2, err := tier.GetOrCompute(context.Background(), cachekey.Key("missing"), compute)
	require.NoError(t, err)
	assert.True(t, entry2.Negative)
	assert.Equal(t, 1, calls)
}

func TestZeroByteObjectIsNotConfusedWithNegativeEntry(t *testing.T) {
	tier := newTier(t, Config{})
	compute := func(ctx context.Context) (io.ReadCloser, bool, error) {
		return bytesStream(nil), false, nil
	}

	entry, err := tier.GetOrCompute(context.Background(), cachekey.Key("empty-object"), compute)
	require.NoError(t, err)
	assert.False(t, entry.Negative, "a real zero-length object must not read back as a negative hit")

	r, err := entry.Open()
	require.NoError(t, err)
	defer r.Close()
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestComputeErrorIsNotPersisted(t *testing.T) {
	tier := newTier(t, Config{})
	calls := 0
	compute := func(ctx context.Context) (io.ReadCloser, bool, error) {
		calls++
		return nil, false, assertErr
	}

	_, err := tier.GetOrCompute(context.Background(), cachekey.Key("err"), compute)
	require.Error(t, err)

	_, err = tier.GetOrCompute(context.Background(), cachekey.Key("err"), compute)
	require.Error(t, err)
	assert.Equal(t, 2, calls, "an unknown-state error must never be cached")
}

var assertErr = io.ErrUnexpectedEOF

func TestNegativeEntryExpiresOnTTL(t *testing.T) {
	tier := newTier(t, Config{NegativeTTL: time.Millisecond})
	calls := 0
	compute := func(ctx context.Context) (io.ReadCloser, bool, error) {
		calls++
		return nil, true, nil
	}

	_, err := tier.GetOrCompute(context.Background(), cachekey.Key("k"), compute)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = tier.GetOrCompute(context.Background(), cachekey.Key("k"), compute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "expired negative entry must be recomputed")
}

func TestItemExceedingMaxSizeIsRejected(t *testing.T) {
	tier := newTier(t, Config{MaxItemBytes: 2})
	compute := func(ctx context.Context) (io.ReadCloser, bool, error) {
		return bytesStream([]byte("too long")), false, nil
	}

	_, err := tier.GetOrCompute(context.Background(), cachekey.Key("big"), compute)
	require.Error(t, err)
}

func TestCleanupEvictsOldestFirstUntilWithinBudget(t *testing.T) {
	tier := newTier(t, Config{})
	for _, k := range []string{"a", "b", "c"} {
		_, err := tier.GetOrCompute(context.Background(), cachekey.Key(k), func(ctx context.Context) (io.ReadCloser, bool, error) {
			return bytesStream([]byte("0123456789")), false, nil
		})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	tier.cfg.MaxTotalBytes = 15
	require.NoError(t, tier.Cleanup())

	entryA, errA := tier.GetOrCompute(context.Background(), cachekey.Key("a"), func(ctx context.Context) (io.ReadCloser, bool, error) {
		return nil, true, nil
	})
	require.NoError(t, errA)
	assert.True(t, entryA.Negative, "oldest entry a must have been evicted")

	entryC, errC := tier.GetOrCompute(context.Background(), cachekey.Key("c"), func(ctx context.Context) (io.ReadCloser, bool, error) {
		return nil, true, nil
	})
	require.NoError(t, errC)
	assert.False(t, entryC.Negative, "newest entry c must survive once within budget")
}

func TestGetOrComputeCollapsesConcurrentRequestsForSameKey(t *testing.T) {
	tier := newTier(t, Config{})

	const n = 20
	var calls int64
	release := make(chan struct{})
	compute := func(ctx context.Context) (io.ReadCloser, bool, error) {
		atomic.AddInt64(&calls, 1)
		<-release
		return bytesStream([]byte("shared")), false, nil
	}

	var wg sync.WaitGroup
	results := make([]*Entry, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = tier.GetOrCompute(context.Background(), cachekey.Key("shared-key"), compute)
		}(i)
	}

	// Give every goroutine a chance to reach the blocked compute call before
	// releasing it, so the race is exercised rather than accidentally
	// serialized by scheduling luck.
	require.Eventually(t, func() bool { return atomic.LoadInt64(&calls) >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "concurrent requests for the same key must collapse to one compute")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.False(t, results[i].Negative)
		assert.Equal(t, results[0].Path, results[i].Path, "every concurrent caller must observe the same result")
	}
}

func TestCleanupDeletesEntriesPastMaxItemAge(t *testing.T) {
	tier := newTier(t, Config{MaxItemAge: time.Millisecond})
	_, err := tier.GetOrCompute(context.Background(), cachekey.Key("old"), func(ctx context.Context) (io.ReadCloser, bool, error) {
		return bytesStream([]byte("x")), false, nil
	})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, tier.Cleanup())

	calls := 0
	_, err = tier.GetOrCompute(context.Background(), cachekey.Key("old"), func(ctx context.Context) (io.ReadCloser, bool, error) {
		calls++
		return bytesStream([]byte("x")), false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "aged-out entry must have been deleted by Cleanup")
}
