// Package objectid implements the Module Identity and File Type data model
// from spec §3: the evidence a symbol source is searched with, and the
// closed enum of debug-file shapes a source can carry.
package objectid

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// FileType is a closed enum of debug-file kinds. Order here is not
// significant; pathgen.CanonicalOrder fixes the iteration order
// independently so that changing this list doesn't silently reorder
// candidate generation.
type FileType string

const (
	FileTypePE         FileType = "pe"
	FileTypePDB        FileType = "pdb"
	FileTypeMachoDbg   FileType = "macho_dbg"
	FileTypeMachoCode  FileType = "macho_code"
	FileTypeElfDbg     FileType = "elf_dbg"
	FileTypeElfCode    FileType = "elf_code"
	FileTypeBreakpad   FileType = "breakpad"
	FileTypeSourceBndl FileType = "sourcebundle"
)

// AllFileTypes enumerates every known FileType, used by sources that
// don't restrict filetypes explicitly.
var AllFileTypes = []FileType{
	FileTypePE, FileTypePDB, FileTypeMachoDbg, FileTypeMachoCode,
	FileTypeElfDbg, FileTypeElfCode, FileTypeBreakpad, FileTypeSourceBndl,
}

// FileTypeSet is a set of FileTypes, used for source-level and request-level
// filtering. A nil or empty set means "all types allowed" per spec §3.
type FileTypeSet map[FileType]struct{}

// NewFileTypeSet builds a set from a list, nil/empty input means "allow all".
func NewFileTypeSet(types ...FileType) FileTypeSet {
	if len(types) == 0 {
		return nil
	}
	s := make(FileTypeSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// Allows reports whether t passes the filter. A nil/empty set allows
// everything (spec: "empty list = allow-all" applies analogously here).
func (s FileTypeSet) Allows(t FileType) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[t]
	return ok
}

// Intersects reports whether s and other share any FileType. Used by C5
// to skip sources whose declared filetypes don't overlap the request.
func (s FileTypeSet) Intersects(other FileTypeSet) bool {
	if len(s) == 0 || len(other) == 0 {
		return true
	}
	for t := range s {
		if _, ok := other[t]; ok {
			return true
		}
	}
	return false
}

// DebugID is the implementation-specific stable hash for a debug file: a
// 16-byte UUID plus an age counter (PDB age / breakpad age field).
type DebugID struct {
	UUID [16]byte
	Age  uint32
}

// String renders the canonical lowercase-hyphenated UUID plus age, e.g.
// "18f6ddc0-9f9a-4d3f-a7f4-b9e3b4a6d2e1-1".
func (d DebugID) String() string {
	u := d.UUID
	return fmt.Sprintf("%x-%x-%x-%x-%x-%d",
		u[0:4], u[4:6], u[6:8], u[8:10], u[10:16], d.Age)
}

// HexUpper renders the GUID+age the way Windows symbol servers expect it:
// {UUID as 32 uppercase hex digits}{age as uppercase hex, no padding}.
func (d DebugID) HexUpper() string {
	return strings.ToUpper(hex.EncodeToString(d.UUID[:])) + strings.ToUpper(fmt.Sprintf("%x", d.Age))
}

func (d DebugID) IsZero() bool {
	return d.UUID == [16]byte{} && d.Age == 0
}

// CodeID is a short build-id (PE TimeDateStamp+SizeOfImage, ELF build-id
// bytes, breakpad code id), kept opaque since its shape is source/filetype
// dependent.
type CodeID string

func (c CodeID) IsZero() bool { return c == "" }

// ModuleID is the module identity of spec §3: two optional but jointly
// non-empty identifiers, plus optional basenames. Any non-empty subset of
// the four fields must be enough to attempt a lookup.
type ModuleID struct {
	DebugID   DebugID
	HasDebug  bool
	CodeID    CodeID
	DebugName string
	CodeName  string
}

// Empty reports whether the identity carries no evidence at all, which is
// invalid input for the resolver.
func (m ModuleID) Empty() bool {
	return !m.HasDebug && m.CodeID.IsZero() && m.DebugName == "" && m.CodeName == ""
}

// UnifiedHash computes the sha1 used by the "unified" layout (spec §4.1):
// hash of the normalized identifier, preferring debug id over code id so
// two sources that differ only in declared layout still collide on the
// same object.
func (m ModuleID) UnifiedHash() string {
	h := sha1.New()
	if m.HasDebug {
		h.Write([]byte("debug:"))
		h.Write([]byte(m.DebugID.String()))
	} else {
		h.Write([]byte("code:"))
		h.Write([]byte(m.CodeID))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Purpose is what the resolver needs an object for; distinct objects can
// satisfy distinct purposes (an ELF with no .debug_info still unwinds).
type Purpose string

const (
	PurposeDebug  Purpose = "debug"
	PurposeUnwind Purpose = "unwind"
	PurposeSource Purpose = "source"
)
