// Package sourceconfig implements the Source Config tagged variant and the
// shared Files/Filters sub-config from spec §3.
package sourceconfig

import (
	"github.com/bmatcuk/doublestar/v4"

	"github.com/crashsymbol/symbolicator/internal/objectid"
)

// Layout is a closed enum of path-template conventions (spec §4.1).
type Layout string

const (
	LayoutNative          Layout = "native"
	LayoutSymstore        Layout = "symstore"
	LayoutSymstoreIndex2  Layout = "symstore_index2"
	LayoutSSQP            Layout = "ssqp"
	LayoutUnified         Layout = "unified"
)

// Filters restricts which FileTypes and which generated paths a source
// will be asked for. An empty FileTypes set allows everything; an empty
// PathPatterns list allows everything (spec §3).
type Filters struct {
	FileTypes    objectid.FileTypeSet
	PathPatterns []string
}

// Allows reports whether path (relative, forward-slash separated) survives
// the glob filter. Matching uses doublestar so "**/*.pdb"-style patterns
// work the same way standard include/exclude globs do.
func (f Filters) Allows(path string) bool {
	if len(f.PathPatterns) == 0 {
		return true
	}
	for _, pattern := range f.PathPatterns {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// Files is the sub-config shared by every source variant.
type Files struct {
	Layout  Layout
	Filters Filters
}

// Kind discriminates the Source tagged variant.
type Kind string

const (
	KindFilesystem Kind = "filesystem"
	KindHTTP       Kind = "http"
	KindS3         Kind = "s3"
	KindSentry     Kind = "sentry"
)

// Source is the tagged variant over {Filesystem, Http, S3, Sentry}. Only
// the fields relevant to Kind are populated; a single struct with a
// discriminant is preferred here over an interface hierarchy since the
// variants are closed and purely data.
type Source struct {
	ID   string
	Kind Kind
	Files Files

	// Filesystem
	Path string

	// HTTP
	URL     string
	Headers map[string]string

	// S3 / MinIO
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string // non-empty routes to MinIO or another S3-compatible endpoint

	// Sentry
	SentryURL   string
	BearerToken string
}

// S3ClientKey identifies the process-wide S3 client LRU entry this source
// should share (spec §4.2: "keyed by {access_key, secret_key, region, endpoint}").
type S3ClientKey struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string
}

func (s Source) S3Key() S3ClientKey {
	return S3ClientKey{AccessKey: s.AccessKey, SecretKey: s.SecretKey, Region: s.Region, Endpoint: s.Endpoint}
}

// SentryIndexKey identifies the process-wide Sentry index-result LRU entry
// (spec §4.2: "keyed by (index_url, token)").
type SentryIndexKey struct {
	IndexURL string
	Token    string
}

func (s Source) SentryKey() SentryIndexKey {
	return SentryIndexKey{IndexURL: s.SentryURL, Token: s.BearerToken}
}
