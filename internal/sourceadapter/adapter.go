// Package sourceadapter implements the per-backend download primitive of
// C2: filesystem, HTTP, S3/MinIO, and Sentry's two-phase index+download
// API. Each adapter preserves the three-valued outcome spec §9 calls out
// ("future<Option<stream<bytes>>>"): present-streaming, confirmed-absent,
// or unknown-state error — collapsing absent into an error would make the
// cache layer negative-cache things it shouldn't.
package sourceadapter

import (
	"context"
	"io"

	"github.com/crashsymbol/symbolicator/internal/fileid"
)

// UserAgent is sent on every outbound HTTP and Sentry request (the S3
// adapter leaves the AWS SDK's own User-Agent in place), mirrored
// from the Rust original's fixed USER_AGENT constant
// (src/service/objects/sentry.rs).
const UserAgent = "symbolicator/1.0"

// Result carries the found object of one download attempt. Together with
// Adapter.Download's error it forms the three-valued outcome:
//
//   - non-nil *Result: the object was found; caller must Close Stream.
//   - nil *Result, nil error: confirmed absent (feeds the negative cache).
//   - non-nil error: unknown state (transient or upstream failure; see errs.Kind).
type Result struct {
	Stream io.ReadCloser
}

// Adapter downloads one FileID. Implementations must never block the CPU
// pool — every call here is a suspension point (spec §5).
//
// A nil *Result with a nil error means confirmed absent. Implementations
// must only return that combination when the source genuinely said "not
// found" (filesystem ENOENT, HTTP or Sentry non-2xx, S3 NoSuchKey) — any other
// failure must return a non-nil error so the download pipeline's retry
// policy and the "don't negative-cache transient errors" rule apply.
type Adapter interface {
	Download(ctx context.Context, id fileid.FileID) (*Result, error)
}

// Preparer is implemented by adapters whose FileIDs must be discovered
// before they can be downloaded (currently only Sentry: its index API
// returns opaque ids). Adapters that address objects purely by path
// (filesystem, http, s3) don't need this; pathgen already enumerates their
// candidates.
type Preparer interface {
	// Prepare resolves module evidence into concrete FileIDs to attempt,
	// e.g. by querying Sentry's index endpoint. An empty, nil-error result
	// means the source has nothing for this module.
	Prepare(ctx context.Context) ([]fileid.FileID, error)
}
