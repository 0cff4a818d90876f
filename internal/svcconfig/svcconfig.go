// Package svcconfig implements the service-wide TOML configuration (spec
// §3 "Configuration"): cache tier limits, pool sizes, the registry's
// occupancy/retention knobs, and the ordered source list.
package svcconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/crashsymbol/symbolicator/internal/cache"
	"github.com/crashsymbol/symbolicator/internal/errs"
	"github.com/crashsymbol/symbolicator/internal/objectid"
	"github.com/crashsymbol/symbolicator/internal/sourceconfig"
)

// Tier is one cache tier's on-disk limits (spec §3 "Cache tiers").
type Tier struct {
	Dir           string `toml:"dir"`
	MaxTotalBytes int64  `toml:"max_total_bytes"`
	MaxItemBytes  int64  `toml:"max_item_bytes"`
	PositiveTTLS  int64  `toml:"positive_ttl_seconds"`
	NegativeTTLS  int64  `toml:"negative_ttl_seconds"`
	MaxItemAgeS   int64  `toml:"max_item_age_seconds"`
}

// ToCacheConfig converts a Tier's TOML-friendly fields into cache.Config's
// time.Duration fields.
func (t Tier) ToCacheConfig() cache.Config {
	return cache.Config{
		MaxTotalBytes: t.MaxTotalBytes,
		MaxItemBytes:  t.MaxItemBytes,
		PositiveTTL:   secondsToDuration(t.PositiveTTLS),
		NegativeTTL:   secondsToDuration(t.NegativeTTLS),
		MaxItemAge:    secondsToDuration(t.MaxItemAgeS),
	}
}

// Cache groups the four tiers the service runs (spec §4.3/§4.4): raw
// objects plus their three derived-artifact caches.
type Cache struct {
	Objects    Tier `toml:"objects"`
	ObjectMeta Tier `toml:"object_meta"`
	Symcaches  Tier `toml:"symcaches"`
	Cficaches  Tier `toml:"cficaches"`
}

// Pool sizes the shared I/O and CPU worker pools (spec §4.2/§4.6).
type Pool struct {
	IOConcurrency  int `toml:"io_concurrency"`
	CPUConcurrency int `toml:"cpu_concurrency"`
}

// Registry configures C8's occupancy backpressure and retention grace
// period (spec §4.8).
type Registry struct {
	MaxOccupancy    int   `toml:"max_occupancy"`
	RetentionS      int64 `toml:"retention_seconds"`
	ReapIntervalS   int64 `toml:"reap_interval_seconds"`
}

// RetentionDuration resolves RetentionS as a time.Duration; zero means
// "let registry.New apply its own DefaultRetention".
func (r Registry) RetentionDuration() time.Duration {
	return secondsToDuration(r.RetentionS)
}

// ReapInterval resolves ReapIntervalS as a time.Duration.
func (r Registry) ReapInterval() time.Duration {
	return secondsToDuration(r.ReapIntervalS)
}

// Source mirrors sourceconfig.Source with TOML tags, tagged by Kind the
// same way (spec §3's "tagged variant").
type Source struct {
	ID   string `toml:"id"`
	Kind string `toml:"kind"`

	Layout       string   `toml:"layout"`
	FileTypes    []string `toml:"file_types"`
	PathPatterns []string `toml:"path_patterns"`

	Path string `toml:"path"`

	URL     string            `toml:"url"`
	Headers map[string]string `toml:"headers"`

	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`

	SentryURL   string `toml:"sentry_url"`
	BearerToken string `toml:"bearer_token"`
}

// ToSourceConfig converts the TOML representation into the runtime
// sourceconfig.Source, resolving the FileTypes string list and Kind/Layout
// enums.
func (s Source) ToSourceConfig() (sourceconfig.Source, error) {
	fileTypes, err := objectidFileTypes(s.FileTypes)
	if err != nil {
		return sourceconfig.Source{}, errs.Wrap(errs.KindConfig, "svcconfig.source", err).WithSource(s.ID)
	}

	return sourceconfig.Source{
		ID:   s.ID,
		Kind: sourceconfig.Kind(s.Kind),
		Files: sourceconfig.Files{
			Layout:  sourceconfig.Layout(s.Layout),
			Filters: sourceconfig.Filters{FileTypes: fileTypes, PathPatterns: s.PathPatterns},
		},
		Path:        s.Path,
		URL:         s.URL,
		Headers:     s.Headers,
		Bucket:      s.Bucket,
		Prefix:      s.Prefix,
		AccessKey:   s.AccessKey,
		SecretKey:   s.SecretKey,
		Region:      s.Region,
		Endpoint:    s.Endpoint,
		SentryURL:   s.SentryURL,
		BearerToken: s.BearerToken,
	}, nil
}

// Config is the root TOML document (spec §3).
type Config struct {
	Listen   string   `toml:"listen"`
	Cache    Cache    `toml:"cache"`
	Pool     Pool     `toml:"pool"`
	Registry Registry `toml:"registry"`
	Sources  []Source `toml:"sources"`
}

// SourceConfigs converts every configured Source in declaration order (spec
// §4.5: candidate order follows source declaration order).
func (c Config) SourceConfigs() ([]sourceconfig.Source, error) {
	out := make([]sourceconfig.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		sc, err := s.ToSourceConfig()
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// Default returns the built-in defaults documented in spec §3: 128-way
// I/O concurrency, NumCPU-sized CPU pool, 90s registry retention, no
// sources (must be configured).
func Default() Config {
	return Config{
		Listen: "127.0.0.1:3021",
		Cache: Cache{
			Objects:    Tier{Dir: "cache/objects", MaxTotalBytes: 10 << 30, PositiveTTLS: 3600, NegativeTTLS: 60, MaxItemAgeS: 86400},
			ObjectMeta: Tier{Dir: "cache/object_meta", MaxTotalBytes: 1 << 30, PositiveTTLS: 3600, NegativeTTLS: 60, MaxItemAgeS: 86400},
			Symcaches:  Tier{Dir: "cache/symcaches", MaxTotalBytes: 10 << 30, PositiveTTLS: 3600, NegativeTTLS: 60, MaxItemAgeS: 86400},
			Cficaches:  Tier{Dir: "cache/cficaches", MaxTotalBytes: 10 << 30, PositiveTTLS: 3600, NegativeTTLS: 60, MaxItemAgeS: 86400},
		},
		Pool: Pool{IOConcurrency: 128, CPUConcurrency: 0},
		Registry: Registry{
			MaxOccupancy:  0,
			RetentionS:    90,
			ReapIntervalS: 30,
		},
	}
}

// Load reads and parses a TOML config file, overlaying it onto Default().
// Any error is wrapped as errs.KindConfig (spec §6: exit code 1).
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.Wrap(errs.KindConfig, "svcconfig.load", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errs.Wrap(errs.KindConfig, "svcconfig.load", err)
	}
	return cfg, nil
}

func secondsToDuration(s int64) time.Duration { return time.Duration(s) * time.Second }

var fileTypesByName = map[string]objectid.FileType{
	"pe": objectid.FileTypePE, "pdb": objectid.FileTypePDB,
	"macho_dbg": objectid.FileTypeMachoDbg, "macho_code": objectid.FileTypeMachoCode,
	"elf_dbg": objectid.FileTypeElfDbg, "elf_code": objectid.FileTypeElfCode,
	"breakpad": objectid.FileTypeBreakpad, "sourcebundle": objectid.FileTypeSourceBndl,
}

func objectidFileTypes(names []string) (objectid.FileTypeSet, error) {
	if len(names) == 0 {
		return objectid.NewFileTypeSet(), nil
	}
	types := make([]objectid.FileType, 0, len(names))
	for _, n := range names {
		ft, ok := fileTypesByName[n]
		if !ok {
			return nil, fmt.Errorf("unknown file_type %q", n)
		}
		types = append(types, ft)
	}
	return objectid.NewFileTypeSet(types...), nil
}
