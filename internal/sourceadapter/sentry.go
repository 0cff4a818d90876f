package sourceadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crashsymbol/symbolicator/internal/errs"
	"github.com/crashsymbol/symbolicator/internal/fileid"
	"github.com/crashsymbol/symbolicator/internal/lru"
	"github.com/crashsymbol/symbolicator/internal/objectid"
	"github.com/crashsymbol/symbolicator/internal/sourceconfig"
)

// sentryIndexCacheCapacity and sentryIndexTTL mirror spec §4.2: "Cache the
// parsed list for 1 hour in an LRU of capacity 2000".
const (
	sentryIndexCacheCapacity = 2000
	sentryIndexTTL           = time.Hour
)

type sentryIndexEntry struct {
	// ID is the only field the Rust original parses out of Sentry's
	// search-result JSON (src/service/objects/sentry.rs SearchResult);
	// every other key in the response is ignored, not an error.
	ID string `json:"id"`
}

type sentryIndexCacheValue struct {
	fetchedAt time.Time
	entries   []sentryIndexEntry
}

// SentryIndexCache is the process-wide cache of parsed Sentry index
// responses, keyed by (index_url, token) so two sources sharing a URL but
// not a token never see each other's results.
type SentryIndexCache struct {
	mu    sync.Mutex
	items *lru.Cache[sourceconfig.SentryIndexKey, sentryIndexCacheValue]
}

func NewSentryIndexCache() *SentryIndexCache {
	return &SentryIndexCache{items: lru.New[sourceconfig.SentryIndexKey, sentryIndexCacheValue](sentryIndexCacheCapacity)}
}

func (c *SentryIndexCache) get(key sourceconfig.SentryIndexKey) ([]sentryIndexEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items.Get(key)
	if !ok || time.Since(v.fetchedAt) >= sentryIndexTTL {
		return nil, false
	}
	return v.entries, true
}

func (c *SentryIndexCache) put(key sourceconfig.SentryIndexKey, entries []sentryIndexEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Put(key, sentryIndexCacheValue{fetchedAt: time.Now(), entries: entries})
}

// Sentry implements the two-phase Sentry indexing API (spec §4.2):
// Prepare resolves module evidence to concrete opaque FileIDs by querying
// the index endpoint (cached for an hour), Download fetches one by id.
type Sentry struct {
	Source sourceconfig.Source
	Module objectid.ModuleID
	client *http.Client
	index  *SentryIndexCache
	log    *zap.Logger
}

// NewSentry builds a Sentry adapter for one (source, module) pair. Sentry
// is prepared per-module, unlike the path-addressed adapters, because its
// index query is itself parameterized by the module's debug/code id.
func NewSentry(source sourceconfig.Source, module objectid.ModuleID, transport http.RoundTripper, index *SentryIndexCache, log *zap.Logger) *Sentry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sentry{
		Source: source,
		Module: module,
		client: &http.Client{Transport: transport},
		index:  index,
		log:    log.Named("source.sentry").With(zap.String("source_id", source.ID)),
	}
}

func (s *Sentry) Prepare(ctx context.Context) ([]fileid.FileID, error) {
	key := s.Source.SentryKey()
	if entries, ok := s.index.get(key); ok {
		return s.toFileIDs(entries), nil
	}

	indexURL, err := url.Parse(s.Source.SentryURL)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "sentry.prepare", err).WithSource(s.Source.ID)
	}
	q := indexURL.Query()
	if s.Module.HasDebug {
		q.Set("debug_id", s.Module.DebugID.String())
	}
	if !s.Module.CodeID.IsZero() {
		q.Set("code_id", string(s.Module.CodeID))
	}
	indexURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, indexURL.String(), nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "sentry.prepare", err).WithSource(s.Source.ID)
	}
	s.setAuthHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "sentry.prepare", err).WithSource(s.Source.ID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, errs.New(errs.KindUpstream, "sentry.prepare", fmt.Sprintf("sentry returned %d", resp.StatusCode)).WithSource(s.Source.ID)
		}
		return nil, errs.New(errs.KindTransient, "sentry.prepare", fmt.Sprintf("sentry returned %d", resp.StatusCode)).WithSource(s.Source.ID)
	}

	var entries []sentryIndexEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, errs.New(errs.KindUpstream, "sentry.prepare", "malformed index response: "+err.Error()).WithSource(s.Source.ID)
	}

	s.index.put(key, entries)
	return s.toFileIDs(entries), nil
}

func (s *Sentry) toFileIDs(entries []sentryIndexEntry) []fileid.FileID {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]fileid.FileID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, fileid.FromOpaqueID(s.Source.ID, e.ID))
	}
	return ids
}

func (s *Sentry) Download(ctx context.Context, id fileid.FileID) (*Result, error) {
	downloadURL, err := url.Parse(s.Source.SentryURL)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "sentry.download", err).WithSource(s.Source.ID)
	}
	q := downloadURL.Query()
	q.Set("id", id.OpaqueID)
	downloadURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL.String(), nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "sentry.download", err).WithSource(s.Source.ID)
	}
	s.setAuthHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "sentry.download", err).WithSource(s.Source.ID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.log.Debug("unexpected status from sentry download", zap.Int("status", resp.StatusCode))
		resp.Body.Close()
		return nil, nil
	}
	return &Result{Stream: resp.Body}, nil
}

func (s *Sentry) setAuthHeaders(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Authorization", "Bearer "+s.Source.BearerToken)
}
