// Package derived implements the Derived-Artifact Builders (C6): CPU-pool
// parses of a cached object into object_meta, symcache and cficache,
// each itself a C4 tier with parser_version folded into the cache key
// (spec §4.6).
package derived

import (
	"bytes"
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/crashsymbol/symbolicator/internal/cache"
	"github.com/crashsymbol/symbolicator/internal/cachekey"
	"github.com/crashsymbol/symbolicator/internal/errs"
	"github.com/crashsymbol/symbolicator/internal/parsercontract"
	"github.com/crashsymbol/symbolicator/internal/pool"
)

// ObjectSource supplies the raw bytes of the already-cached object this
// builder derives artifacts from, and the path hint the parser uses for
// format sniffing.
type ObjectSource struct {
	Path    string
	Open    func() (io.ReadCloser, error)
}

// Builder wires the three derived tiers to a Parser and runs all parsing
// on the CPU pool, never the I/O pool (spec §4.3: "Source-adapter calls
// must never run on the CPU pool" — the converse holds here: parsing
// never runs on the I/O pool).
type Builder struct {
	objectMeta *cache.Tier
	symcaches  *cache.Tier
	cficaches  *cache.Tier
	parser     parsercontract.Parser
	cpu        *pool.CPUPool
	log        *zap.Logger
}

// NewBuilder builds a Builder over the three derived-tier caches.
func NewBuilder(objectMeta, symcaches, cficaches *cache.Tier, parser parsercontract.Parser, cpu *pool.CPUPool, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{objectMeta: objectMeta, symcaches: symcaches, cficaches: cficaches, parser: parser, cpu: cpu, log: log.Named("derived")}
}

// Metadata returns the object_meta for objectKey, parsing on a cache miss.
// A nil *parsercontract.Metadata with ok=false means the parser rejected
// the bytes (negative-cached, sticky for the tier's negative TTL).
func (b *Builder) Metadata(ctx context.Context, objectKey cachekey.Key, obj ObjectSource) (*parsercontract.Metadata, bool, error) {
	key := cachekey.Derived(objectKey, parsercontract.MetadataParserVersion)
	var parsed parsercontract.Metadata
	entry, err := b.objectMeta.GetOrCompute(ctx, key, func(ctx context.Context) (io.ReadCloser, bool, error) {
		var parseErr error
		runErr := b.cpu.Do(ctx, func(ctx context.Context) error {
			data, err := readObject(obj)
			if err != nil {
				return err
			}
			m, err := b.parser.ParseMetadata(data, obj.Path)
			if err != nil {
				if errs.Is(err, errs.KindParse) {
					parseErr = err
					return nil
				}
				return err
			}
			parsed = m
			return nil
		})
		if runErr != nil {
			return nil, false, runErr
		}
		if parseErr != nil {
			return nil, true, nil
		}
		return encodeMetadata(parsed), false, nil
	})
	if err != nil {
		return nil, false, err
	}
	if entry.Negative {
		return nil, false, nil
	}
	m, err := decodeMetadataEntry(entry)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Symcache returns the built symcache blob for objectKey, parsing on a
// cache miss, and loads it into a queryable parsercontract.SymCache.
func (b *Builder) Symcache(ctx context.Context, objectKey cachekey.Key, obj ObjectSource) (parsercontract.SymCache, bool, error) {
	key := cachekey.Derived(objectKey, parsercontract.SymcacheParserVersion)
	entry, err := b.build(ctx, b.symcaches, key, obj, b.parser.BuildSymcache)
	if err != nil {
		return nil, false, err
	}
	if entry.Negative {
		return nil, false, nil
	}
	blob, err := readEntry(entry)
	if err != nil {
		return nil, false, err
	}
	sc, err := b.parser.LoadSymcache(blob)
	if err != nil {
		return nil, false, err
	}
	return sc, true, nil
}

// Cficache returns the built cficache blob for objectKey, symmetric with
// Symcache.
func (b *Builder) Cficache(ctx context.Context, objectKey cachekey.Key, obj ObjectSource) (parsercontract.CfiCache, bool, error) {
	key := cachekey.Derived(objectKey, parsercontract.CficacheParserVersion)
	entry, err := b.build(ctx, b.cficaches, key, obj, b.parser.BuildCficache)
	if err != nil {
		return nil, false, err
	}
	if entry.Negative {
		return nil, false, nil
	}
	blob, err := readEntry(entry)
	if err != nil {
		return nil, false, err
	}
	cc, err := b.parser.LoadCficache(blob)
	if err != nil {
		return nil, false, err
	}
	return cc, true, nil
}

func (b *Builder) build(ctx context.Context, tier *cache.Tier, key cachekey.Key, obj ObjectSource, buildFn func([]byte, string) ([]byte, error)) (*cache.Entry, error) {
	return tier.GetOrCompute(ctx, key, func(ctx context.Context) (io.ReadCloser, bool, error) {
		var blob []byte
		var parseErr error
		runErr := b.cpu.Do(ctx, func(ctx context.Context) error {
			data, err := readObject(obj)
			if err != nil {
				return err
			}
			out, err := buildFn(data, obj.Path)
			if err != nil {
				if errs.Is(err, errs.KindParse) {
					parseErr = err
					return nil
				}
				return err
			}
			blob = out
			return nil
		})
		if runErr != nil {
			return nil, false, runErr
		}
		if parseErr != nil {
			return nil, true, nil
		}
		return io.NopCloser(bytes.NewReader(blob)), false, nil
	})
}

func readObject(obj ObjectSource) ([]byte, error) {
	r, err := obj.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.KindCacheIO, "derived.read_object", err)
	}
	return data, nil
}

func readEntry(entry *cache.Entry) ([]byte, error) {
	r, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
