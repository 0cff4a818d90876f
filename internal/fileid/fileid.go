// Package fileid implements the File Id tagged variant from spec §3: a
// source paired with either a relative DownloadPath (Filesystem/Http/S3)
// or an opaque server-issued id (Sentry). This fully determines one
// download attempt.
package fileid

// DownloadPath is a source-relative path produced by pathgen.Generate.
type DownloadPath string

// FileID pairs a source identity with one download location. Exactly one
// of Path or OpaqueID is populated, selected by IsOpaque.
type FileID struct {
	SourceID string
	Path     DownloadPath
	OpaqueID string
	IsOpaque bool
}

// FromPath builds a FileID for path-addressed sources (filesystem, http, s3).
func FromPath(sourceID string, path DownloadPath) FileID {
	return FileID{SourceID: sourceID, Path: path}
}

// FromOpaqueID builds a FileID for id-addressed sources (sentry).
func FromOpaqueID(sourceID string, id string) FileID {
	return FileID{SourceID: sourceID, OpaqueID: id, IsOpaque: true}
}

// Key returns the stable string this FileID contributes to a cache key.
func (f FileID) Key() string {
	if f.IsOpaque {
		return f.SourceID + "\x00opaque\x00" + f.OpaqueID
	}
	return f.SourceID + "\x00path\x00" + string(f.Path)
}
