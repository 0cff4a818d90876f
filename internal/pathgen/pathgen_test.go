package pathgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crashsymbol/symbolicator/internal/objectid"
	"github.com/crashsymbol/symbolicator/internal/sourceconfig"
)

func testModule() objectid.ModuleID {
	return objectid.ModuleID{
		DebugID:   objectid.DebugID{UUID: [16]byte{0x97, 0x1f, 0x25, 0xcd}, Age: 1},
		HasDebug:  true,
		CodeID:    "5f3759df1000",
		DebugName: "wntdll.pdb",
		CodeName:  "wntdll.dll",
	}
}

func TestGenerateNativeLayout(t *testing.T) {
	id := testModule()
	paths := Generate(id, nil, sourceconfig.Filters{}, sourceconfig.LayoutNative)
	require.NotEmpty(t, paths)
	// First candidate must be for PDB (canonical order: PDB before PE).
	assert.Contains(t, string(paths[0]), "wntdll.pdb")
}

func TestGenerateRespectsFileTypeFilter(t *testing.T) {
	id := testModule()
	allowed := objectid.NewFileTypeSet(objectid.FileTypePE)
	paths := Generate(id, allowed, sourceconfig.Filters{}, sourceconfig.LayoutSymstore)
	for _, p := range paths {
		assert.Contains(t, string(p), "wntdll.dll", "only PE candidates should survive the filter")
	}
}

func TestGenerateRespectsPathPatternFilter(t *testing.T) {
	id := testModule()
	filters := sourceconfig.Filters{PathPatterns: []string{"**/*.pdb/**"}}
	paths := Generate(id, nil, filters, sourceconfig.LayoutSymstore)
	for _, p := range paths {
		assert.Contains(t, string(p), ".pdb")
	}
}

func TestGenerateNoMatchingFileTypesYieldsEmpty(t *testing.T) {
	id := testModule()
	allowed := objectid.NewFileTypeSet(objectid.FileTypeBreakpad)
	id.DebugName = "" // breakpad needs a debug name; remove it
	paths := Generate(id, allowed, sourceconfig.Filters{}, sourceconfig.LayoutNative)
	assert.Empty(t, paths)
}

func TestSymstoreIndex2PrefixesTwoChars(t *testing.T) {
	id := testModule()
	paths := Generate(id, objectid.NewFileTypeSet(objectid.FileTypePDB), sourceconfig.Filters{}, sourceconfig.LayoutSymstoreIndex2)
	require.Len(t, paths, 1)
	assert.Contains(t, string(paths[0]), "wn/wntdll.pdb/")
}

func TestUnifiedLayoutIsRestartableAndDeterministic(t *testing.T) {
	id := testModule()
	a := Generate(id, nil, sourceconfig.Filters{}, sourceconfig.LayoutUnified)
	b := Generate(id, nil, sourceconfig.Filters{}, sourceconfig.LayoutUnified)
	assert.Equal(t, a, b)
	require.NotEmpty(t, a)
}
