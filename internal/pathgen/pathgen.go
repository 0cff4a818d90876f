// Package pathgen implements the Path Generator (C1): from a module
// identity, a file-type filter, and a layout, produce the ordered list of
// candidate relative paths a source might serve the object at.
//
// Generate is a pure function — no I/O, no source config beyond the
// layout and filters it is handed — so the same (module, filter, layout)
// always yields the same sequence (spec §8 law: "each path matches the
// filters").
package pathgen

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/crashsymbol/symbolicator/internal/fileid"
	"github.com/crashsymbol/symbolicator/internal/objectid"
	"github.com/crashsymbol/symbolicator/internal/sourceconfig"
)

// CanonicalOrder fixes the file-type iteration order (spec §4.1: "PDB
// before PE; debug before code"). sourcebundle sorts last since it is
// requested far less often than the executable/debug-info pair.
var CanonicalOrder = []objectid.FileType{
	objectid.FileTypePDB,
	objectid.FileTypePE,
	objectid.FileTypeMachoDbg,
	objectid.FileTypeMachoCode,
	objectid.FileTypeElfDbg,
	objectid.FileTypeElfCode,
	objectid.FileTypeBreakpad,
	objectid.FileTypeSourceBndl,
}

func isCodeType(t objectid.FileType) bool {
	switch t {
	case objectid.FileTypePE, objectid.FileTypeMachoCode, objectid.FileTypeElfCode:
		return true
	default:
		return false
	}
}

var unifiedTypeLetter = map[objectid.FileType]string{
	objectid.FileTypePE:         "e",
	objectid.FileTypePDB:        "p",
	objectid.FileTypeMachoDbg:   "m",
	objectid.FileTypeMachoCode:  "M",
	objectid.FileTypeElfDbg:     "d",
	objectid.FileTypeElfCode:    "c",
	objectid.FileTypeBreakpad:   "b",
	objectid.FileTypeSourceBndl: "s",
}

// Generate produces the ordered, finite, restartable sequence of candidate
// DownloadPaths for module id. allowed filters which FileTypes are tried at
// all (an empty/nil set allows every type, spec §3); patternFilters is the
// source's files.filters.path_patterns glob list, applied per spec §4.1
// ("Skip any generated path not matching filters.path_patterns").
//
// allowed/patterns are applied as a post-generation filter over the fixed
// canonical order — they never reorder it.
func Generate(id objectid.ModuleID, allowed objectid.FileTypeSet, filters sourceconfig.Filters, layout sourceconfig.Layout) []fileid.DownloadPath {
	var out []fileid.DownloadPath
	for _, t := range CanonicalOrder {
		if !allowed.Allows(t) || !filters.FileTypes.Allows(t) {
			continue
		}
		for _, p := range templatesFor(id, t, layout) {
			if p == "" {
				continue
			}
			if !filters.Allows(string(p)) {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}

// templatesFor returns the layout-specific path template(s) for one file
// type: at most one candidate per file type. Symstore-family layouts root
// code file types at the code name/id and debug file types at the debug
// name/id; ssqp's Mach-O types use the file.ptr form.
func templatesFor(id objectid.ModuleID, t objectid.FileType, layout sourceconfig.Layout) []fileid.DownloadPath {
	switch layout {
	case sourceconfig.LayoutNative:
		return []fileid.DownloadPath{nativePath(id, t)}
	case sourceconfig.LayoutSymstore:
		return symstorePaths(id, t, false, "")
	case sourceconfig.LayoutSymstoreIndex2:
		return symstorePaths(id, t, true, "")
	case sourceconfig.LayoutSSQP:
		return ssqpPaths(id, t)
	case sourceconfig.LayoutUnified:
		return []fileid.DownloadPath{unifiedPath(id, t)}
	default:
		return nil
	}
}

func nativePath(id objectid.ModuleID, t objectid.FileType) fileid.DownloadPath {
	name := nameFor(id, t)
	if name == "" {
		return ""
	}
	if isCodeType(t) {
		if id.CodeID.IsZero() {
			return ""
		}
		return fileid.DownloadPath(fmt.Sprintf("%s/%s/%s", name, string(id.CodeID), name))
	}
	if !id.HasDebug {
		return ""
	}
	return fileid.DownloadPath(fmt.Sprintf("%s/%s/%s", name, symstoreDebugID(id, t), name))
}

func symstorePaths(id objectid.ModuleID, t objectid.FileType, index2 bool, forceLower string) []fileid.DownloadPath {
	var out []fileid.DownloadPath
	if isCodeType(t) {
		if name := id.CodeName; name != "" && !id.CodeID.IsZero() {
			out = append(out, buildPath(name, string(id.CodeID), index2, forceLower))
		}
		return out
	}
	if name := id.DebugName; name != "" && id.HasDebug {
		out = append(out, buildPath(name, symstoreDebugID(id, t), index2, forceLower))
	}
	return out
}

func ssqpPaths(id objectid.ModuleID, t objectid.FileType) []fileid.DownloadPath {
	switch t {
	case objectid.FileTypeMachoDbg, objectid.FileTypeMachoCode:
		if !id.HasDebug {
			return nil
		}
		uuid := strings.ToLower(strings.ReplaceAll(id.DebugID.String(), "-", ""))
		return []fileid.DownloadPath{fileid.DownloadPath(fmt.Sprintf("%s/%s/file.ptr", uuid, uuid))}
	default:
		paths := symstorePaths(id, t, false, "lower")
		return paths
	}
}

func buildPath(name, idPart string, index2 bool, forceLower string) fileid.DownloadPath {
	if forceLower == "lower" {
		name = strings.ToLower(name)
		idPart = strings.ToLower(idPart)
	}
	if index2 && len(name) >= 2 {
		return fileid.DownloadPath(fmt.Sprintf("%s/%s/%s/%s", name[:2], name, idPart, name))
	}
	return fileid.DownloadPath(fmt.Sprintf("%s/%s/%s", name, idPart, name))
}

func symstoreDebugID(id objectid.ModuleID, t objectid.FileType) string {
	if t == objectid.FileTypePDB {
		return id.DebugID.HexUpper()
	}
	return strings.ToUpper(hex.EncodeToString(id.DebugID.UUID[:])) + fmt.Sprintf("%X", id.DebugID.Age)
}

func nameFor(id objectid.ModuleID, t objectid.FileType) string {
	if isCodeType(t) {
		return id.CodeName
	}
	return id.DebugName
}

func unifiedPath(id objectid.ModuleID, t objectid.FileType) fileid.DownloadPath {
	letter, ok := unifiedTypeLetter[t]
	if !ok {
		return ""
	}
	h := id.UnifiedHash()
	if len(h) < 3 {
		return ""
	}
	return fileid.DownloadPath(fmt.Sprintf("%s/%s/%s", letter, h[:2], h[2:]))
}
