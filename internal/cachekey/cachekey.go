// Package cachekey implements the pure Cache Key function of spec §3:
// hex keys for the objects tier (source + file id + scope) and the derived
// tiers (object key + parser version, so a builder upgrade invalidates old
// derivatives without touching raw objects).
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// Key is a hex cache key, used verbatim as a filename in a tier directory.
type Key string

// Object derives the objects-tier key from spec §3:
// hash(source.id, file_id, scope).
func Object(sourceID, fileIDKey, scope string) Key {
	h := sha256.New()
	h.Write([]byte(sourceID))
	h.Write([]byte{0})
	h.Write([]byte(fileIDKey))
	h.Write([]byte{0})
	h.Write([]byte(scope))
	return Key(hex.EncodeToString(h.Sum(nil)))
}

// Derived derives a derived-tier key: hash(object_cache_key, parser_version).
// parser_version participating in the key is what makes a parser upgrade
// invalidate stale derivatives for free, without a migration step.
func Derived(objectKey Key, parserVersion string) Key {
	h := sha256.New()
	h.Write([]byte(objectKey))
	h.Write([]byte{0})
	h.Write([]byte(parserVersion))
	return Key(hex.EncodeToString(h.Sum(nil)))
}

// FastHash returns a non-cryptographic hash of key, used only as the
// in-memory shard/map key for a tier's hot-key memo — never persisted,
// never used as a filename.
func FastHash(key Key) uint64 {
	return xxhash.Sum64String(string(key))
}
