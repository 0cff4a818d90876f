// Package resolver implements the Object Resolver (C5): given a module
// identity, enumerate candidates across every configured source, try
// them in order through C3/C2 into C4's objects tier, and return the first
// candidate whose object_meta satisfies the requested purpose.
package resolver

import (
	"context"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/crashsymbol/symbolicator/internal/cache"
	"github.com/crashsymbol/symbolicator/internal/cachekey"
	"github.com/crashsymbol/symbolicator/internal/derived"
	"github.com/crashsymbol/symbolicator/internal/download"
	"github.com/crashsymbol/symbolicator/internal/errs"
	"github.com/crashsymbol/symbolicator/internal/fileid"
	"github.com/crashsymbol/symbolicator/internal/objectid"
	"github.com/crashsymbol/symbolicator/internal/pathgen"
	"github.com/crashsymbol/symbolicator/internal/sourceadapter"
	"github.com/crashsymbol/symbolicator/internal/sourceconfig"
)

// Handle identifies one resolved object: which source and file id served
// it, plus the object cache key under which its bytes live.
type Handle struct {
	SourceID  string
	FileID    fileid.FileID
	ObjectKey cachekey.Key

	objects *cache.Tier
}

// Open streams the resolved object's bytes back out of the objects tier.
// Find only ever hands out a Handle after a successful positive download,
// so Open reads the existing entry directly rather than risking a
// concurrent Cleanup racing a miss into a spurious negative entry.
func (h *Handle) Open() (io.ReadCloser, error) {
	entry, ok := h.objects.Peek(h.ObjectKey)
	if !ok || entry.Negative {
		return nil, errs.New(errs.KindCacheIO, "resolver.open", "resolved object no longer present in cache")
	}
	return entry.Open()
}

// Resolver wires C1 (pathgen) + C2 (sourceadapter) + C3 (download) + C4
// (cache) + C6 (derived) together into the §4.5 algorithm.
type Resolver struct {
	sources    []sourceconfig.Source
	objects    *cache.Tier
	pipeline   *download.Pipeline
	builder    *derived.Builder
	transport  http.RoundTripper
	s3Clients  *sourceadapter.S3ClientCache
	sentryIdx  *sourceadapter.SentryIndexCache
	static     map[string]sourceadapter.Adapter
	log        *zap.Logger
}

// New builds a Resolver over a declared-order source list. Filesystem,
// HTTP and S3 adapters are built once (they address objects purely by
// path and carry no per-module state); Sentry adapters are built fresh
// per Find call since NewSentry binds a specific module's query params.
func New(sources []sourceconfig.Source, objects *cache.Tier, pipeline *download.Pipeline, builder *derived.Builder, transport http.RoundTripper, log *zap.Logger) *Resolver {
	if transport == nil {
		transport = sourceadapter.SharedTransport
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Resolver{
		sources:   sources,
		objects:   objects,
		pipeline:  pipeline,
		builder:   builder,
		transport: transport,
		s3Clients: sourceadapter.NewS3ClientCache(transport),
		sentryIdx: sourceadapter.NewSentryIndexCache(),
		static:    make(map[string]sourceadapter.Adapter),
		log:       log.Named("resolver"),
	}
	for _, s := range sources {
		switch s.Kind {
		case sourceconfig.KindFilesystem:
			r.static[s.ID] = sourceadapter.NewFilesystem(s, r.log)
		case sourceconfig.KindHTTP:
			r.static[s.ID] = sourceadapter.NewHTTP(s, transport, r.log)
		case sourceconfig.KindS3:
			r.static[s.ID] = sourceadapter.NewS3(s, r.s3Clients, r.log)
		}
	}
	return r
}

// Find implements spec §4.5: enumerate candidates source-by-source in
// declaration order, within a source in canonical file-type order,
// downloading+caching each and checking object_meta for purpose
// satisfaction, returning the first that qualifies. The spec permits
// (but does not require) dispatching across-source candidates in
// parallel; this implementation resolves sequentially, which trivially
// satisfies the tie-break rule (earlier source, then earlier file type
// wins) without needing a result-racing arbitration step.
func (r *Resolver) Find(ctx context.Context, module objectid.ModuleID, filetypes objectid.FileTypeSet, scope string, purpose objectid.Purpose) (*Handle, bool, error) {
	for _, source := range r.sources {
		if !source.Files.Filters.FileTypes.Intersects(filetypes) {
			continue
		}

		candidates, err := r.candidatesFor(ctx, source, module, filetypes)
		if err != nil {
			r.log.Warn("source candidate enumeration failed", zap.String("source", source.ID), zap.Error(err))
			continue
		}

		for _, id := range candidates {
			handle, ok, err := r.tryCandidate(ctx, source, scope, id, purpose)
			if err != nil {
				r.log.Warn("candidate failed", zap.String("source", source.ID), zap.Error(err))
				continue
			}
			if ok {
				return handle, true, nil
			}
		}
	}
	return nil, false, nil
}

func (r *Resolver) candidatesFor(ctx context.Context, source sourceconfig.Source, module objectid.ModuleID, filetypes objectid.FileTypeSet) ([]fileid.FileID, error) {
	if source.Kind == sourceconfig.KindSentry {
		sentry := sourceadapter.NewSentry(source, module, r.transport, r.sentryIdx, r.log)
		ids, _, err := download.Retry(ctx, r.pipeline, func(ctx context.Context) ([]fileid.FileID, bool, error) {
			ids, err := sentry.Prepare(ctx)
			if err != nil {
				return nil, false, err
			}
			if len(ids) == 0 {
				return nil, true, nil
			}
			return ids, false, nil
		})
		return ids, err
	}

	paths := pathgen.Generate(module, filetypes, source.Files.Filters, source.Files.Layout)
	ids := make([]fileid.FileID, 0, len(paths))
	for _, p := range paths {
		ids = append(ids, fileid.FromPath(source.ID, p))
	}
	return ids, nil
}

func (r *Resolver) tryCandidate(ctx context.Context, source sourceconfig.Source, scope string, id fileid.FileID, purpose objectid.Purpose) (*Handle, bool, error) {
	adapter := r.adapterFor(source, id)
	objectKey := cachekey.Object(source.ID, id.Key(), scope)

	entry, err := r.objects.GetOrCompute(ctx, objectKey, func(ctx context.Context) (io.ReadCloser, bool, error) {
		return r.pipeline.Download(ctx, adapter, id)
	})
	if err != nil {
		return nil, false, err
	}
	if entry.Negative {
		return nil, false, nil
	}

	meta, ok, err := r.builder.Metadata(ctx, objectKey, derived.ObjectSource{
		Path: string(id.Path),
		Open: entry.Open,
	})
	if err != nil {
		return nil, false, err
	}
	if !ok || !meta.Satisfies(purpose) {
		return nil, false, nil
	}

	return &Handle{SourceID: source.ID, FileID: id, ObjectKey: objectKey, objects: r.objects}, true, nil
}

// adapterFor returns the per-source adapter, rebuilding the Sentry
// adapter for this specific FileID's originating module context.
func (r *Resolver) adapterFor(source sourceconfig.Source, id fileid.FileID) sourceadapter.Adapter {
	if source.Kind == sourceconfig.KindSentry {
		// The opaque id is enough to download; Sentry's download phase
		// doesn't need module evidence, only the source and bearer token.
		return sourceadapter.NewSentry(source, objectid.ModuleID{}, r.transport, r.sentryIdx, r.log)
	}
	return r.static[source.ID]
}
