// Package parsercontract states the narrow boundary spec §6 draws around
// binary debug-file parsing: "a provided library with a narrow contract".
// This package defines that contract as a Go interface plus the opaque
// artifact views C7 needs to walk frames; it does not parse PE/PDB/ELF/
// Mach-O/Breakpad bytes itself. A real integration supplies a Parser
// backed by such a library; internal/derived and internal/symbolication
// are written against the interface only.
package parsercontract

import (
	"github.com/crashsymbol/symbolicator/internal/objectid"
)

// Artifact version tags participate in the derived cache key (spec §3:
// "parser_version participates so a builder upgrade invalidates old
// derivatives without touching raw objects"). Bump these when a parser
// upgrade changes the bytes it would produce for the same input.
const (
	MetadataParserVersion = "meta-v1"
	SymcacheParserVersion = "symcache-v1"
	CficacheParserVersion = "cficache-v1"
)

// Metadata is the cheap, header-derived classification of an object
// (spec §4.6 object_meta).
type Metadata struct {
	DebugID       objectid.DebugID
	HasDebugID    bool
	CodeID        objectid.CodeID
	Arch          string
	HasDebugInfo  bool
	HasUnwindInfo bool
	HasSources    bool
}

// Satisfies reports whether an object classified by this metadata can
// serve the given purpose (spec §4.5 step 4: "an ELF without .debug_info
// fails Debug purpose").
func (m Metadata) Satisfies(purpose objectid.Purpose) bool {
	switch purpose {
	case objectid.PurposeDebug:
		return m.HasDebugInfo
	case objectid.PurposeUnwind:
		return m.HasUnwindInfo
	case objectid.PurposeSource:
		return m.HasSources
	default:
		return false
	}
}

// Symbol is one resolved frame: a function name plus source location.
// Trust distinguishes a directly-resolved frame from one produced by
// inline-chain expansion (spec §4.7).
type Symbol struct {
	Function string
	File     string
	Line     uint32
	Trust    string // "plain" | "inline"
}

// SymCache is the queryable view of a built symcache blob: relative
// address to an ordered symbol chain (outermost frame first, inline
// expansions following).
type SymCache interface {
	Lookup(relativeAddr uint64) ([]Symbol, bool)
}

// CfiCache is the queryable view of a built cficache blob: given the
// current frame's relative address, produce the caller's return address
// relative to the same module, for stacks that require unwinding rather
// than arriving pre-unwound.
type CfiCache interface {
	Unwind(relativeAddr uint64) (callerRelativeAddr uint64, ok bool)
}

// Parser is the full debug-file parser contract (spec §6): given raw
// object bytes and a path hint, classify the object and build the two
// derived artifacts. All three methods must be deterministic for
// identical inputs (spec §6: "Parsers must be deterministic given
// identical inputs"). A parser rejecting bytes it cannot understand
// returns an errs.KindParse error, which callers negative-cache.
type Parser interface {
	ParseMetadata(data []byte, path string) (Metadata, error)
	BuildSymcache(data []byte, path string) ([]byte, error)
	BuildCficache(data []byte, path string) ([]byte, error)
	LoadSymcache(blob []byte) (SymCache, error)
	LoadCficache(blob []byte) (CfiCache, error)
}
