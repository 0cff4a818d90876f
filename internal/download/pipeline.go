// Package download implements the Download Pipeline (C3): retry with
// exponential backoff and jitter, capped at 3 attempts, run under the I/O
// pool's concurrency bound. Only transport-level errors are retried; an
// adapter returning "confirmed absent" is never retried (spec §4.3).
package download

import (
	"context"
	"io"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/crashsymbol/symbolicator/internal/errs"
	"github.com/crashsymbol/symbolicator/internal/fileid"
	"github.com/crashsymbol/symbolicator/internal/pool"
	"github.com/crashsymbol/symbolicator/internal/sourceadapter"
)

// maxAttempts and initialBackoff match spec §4.3: "exponential backoff
// starting at 10ms... capped at 3 attempts total".
const (
	maxAttempts    = 3
	initialBackoff = 10 * time.Millisecond
)

// Pipeline wraps one Adapter call with retry/backoff and an I/O pool slot.
// Body timeouts are deliberately not enforced here (spec §4.3: "large
// debug files may stream many minutes") — callers that need an overall
// deadline should cancel ctx themselves.
type Pipeline struct {
	ioPool *pool.IOPool
	log    *zap.Logger
}

// New builds a Pipeline bound to io for concurrency limiting.
func New(ioPool *pool.IOPool, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{ioPool: ioPool, log: log.Named("download")}
}

// Download runs adapter.Download(ctx, id) with retry/backoff, bounded by
// the pipeline's I/O pool. The three-valued outcome is preserved:
//
//   - (stream, false, nil): object bytes, caller must Close stream.
//   - (nil, true, nil): confirmed absent.
//   - (nil, false, err): exhausted retries or a non-retryable failure.
func (p *Pipeline) Download(ctx context.Context, adapter sourceadapter.Adapter, id fileid.FileID) (io.ReadCloser, bool, error) {
	return Retry(ctx, p, func(ctx context.Context) (io.ReadCloser, bool, error) {
		result, err := adapter.Download(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if result == nil {
			// Confirmed absent: never retried (spec §4.3).
			return nil, true, nil
		}
		return result.Stream, false, nil
	})
}

// Retry applies the pipeline's I/O pool slot and 3-attempt backoff+jitter
// policy to an arbitrary attempt function. internal/resolver uses this
// directly for Sentry's Prepare call, which is routed through the same
// retry wrapper as Download.
func Retry[T any](ctx context.Context, p *Pipeline, attempt func(context.Context) (T, bool, error)) (T, bool, error) {
	var zero T
	var result T
	var absent bool
	poolErr := p.ioPool.Do(ctx, func(ctx context.Context) error {
		r, a, err := retryAttempts(ctx, p.log, attempt)
		result, absent = r, a
		return err
	})
	if poolErr != nil {
		return zero, false, poolErr
	}
	return result, absent, nil
}

func retryAttempts[T any](ctx context.Context, log *zap.Logger, attempt func(context.Context) (T, bool, error)) (T, bool, error) {
	var zero T
	backoff := initialBackoff
	var lastErr error

	for n := 0; n < maxAttempts; n++ {
		if n > 0 {
			select {
			case <-ctx.Done():
				return zero, false, ctx.Err()
			case <-time.After(jitter(backoff)):
			}
			backoff *= 2
		}

		result, absent, err := attempt(ctx)
		if err == nil {
			if absent {
				return zero, true, nil
			}
			return result, false, nil
		}

		lastErr = err
		if !errs.Retryable(err) {
			return zero, false, err
		}
		log.Debug("retrying", zap.Int("attempt", n+1), zap.Error(err))
	}

	// Retries exhausted on a transient error: surfaced as Upstream, not
	// cached (spec §7).
	return zero, false, errs.Wrap(errs.KindUpstream, "download.retries_exhausted", lastErr)
}

// jitter applies uniform jitter in [0, d), matching tokio-retry's
// `jitter` combinator used by the Rust original
// (src/service/objects/sentry.rs: "ExponentialBackoff::from_millis(10).map(jitter).take(3)").
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}
