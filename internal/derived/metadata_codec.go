package derived

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/crashsymbol/symbolicator/internal/cache"
	"github.com/crashsymbol/symbolicator/internal/errs"
	"github.com/crashsymbol/symbolicator/internal/parsercontract"
)

// encodeMetadata/decodeMetadataEntry give object_meta entries a stable
// on-disk representation; the format is internal to this package, not
// part of the parser contract itself.
func encodeMetadata(m parsercontract.Metadata) io.ReadCloser {
	b, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return io.NopCloser(bytes.NewReader(b))
}

func decodeMetadataEntry(entry *cache.Entry) (*parsercontract.Metadata, error) {
	r, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.KindCacheIO, "derived.read_object_meta", err)
	}
	var m parsercontract.Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.Wrap(errs.KindCacheIO, "derived.decode_object_meta", err)
	}
	return &m, nil
}
