package symbolication

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crashsymbol/symbolicator/internal/cache"
	"github.com/crashsymbol/symbolicator/internal/derived"
	"github.com/crashsymbol/symbolicator/internal/download"
	"github.com/crashsymbol/symbolicator/internal/objectid"
	"github.com/crashsymbol/symbolicator/internal/parsercontract"
	"github.com/crashsymbol/symbolicator/internal/pool"
	"github.com/crashsymbol/symbolicator/internal/registry"
	"github.com/crashsymbol/symbolicator/internal/sourceconfig"
)

func newTestEngine(t *testing.T, sources []sourceconfig.Source) *Engine {
	t.Helper()
	objects, err := cache.NewTier("objects", t.TempDir(), cache.Config{}, nil)
	require.NoError(t, err)
	meta, err := cache.NewTier("object_meta", t.TempDir(), cache.Config{}, nil)
	require.NoError(t, err)
	sym, err := cache.NewTier("symcaches", t.TempDir(), cache.Config{}, nil)
	require.NoError(t, err)
	cfi, err := cache.NewTier("cficaches", t.TempDir(), cache.Config{}, nil)
	require.NoError(t, err)

	builder := derived.NewBuilder(meta, sym, cfi, parsercontract.NewFake(), pool.NewCPUPool(2), nil)
	pipeline := download.New(pool.NewIOPool(4), nil)
	reg := registry.New[Result](0, time.Minute, nil)
	return NewEngine(objects, pipeline, builder, nil, sources, reg, pool.NewCPUPool(2), nil)
}

func (e *Engine) awaitResult(t *testing.T, id string) Result {
	t.Helper()
	snap, ok := e.registry.Status(context.Background(), id, 2*time.Second)
	require.True(t, ok)
	require.Equal(t, registry.StateReady, snap.State)
	return snap.Result
}

func TestSubmitSymbolicatesHappyPathFrame(t *testing.T) {
	root := t.TempDir()
	module := objectid.ModuleID{HasDebug: true, DebugID: objectid.DebugID{UUID: [16]byte{9, 9, 9}, Age: 1}, DebugName: "wntdll.pdb"}
	relPath := "wntdll.pdb/" + module.DebugID.HexUpper() + "/wntdll.pdb"
	full := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	fixture := parsercontract.Fixture{
		Metadata: parsercontract.Metadata{HasDebugInfo: true},
		Symbols: map[uint64][]parsercontract.Symbol{
			0x40: {{Function: "DoThing", File: "thing.c", Line: 42, Trust: "plain"}},
		},
	}
	require.NoError(t, os.WriteFile(full, parsercontract.EncodeFixture(fixture), 0o644))

	source := sourceconfig.Source{
		ID: "fs1", Kind: sourceconfig.KindFilesystem, Path: root,
		Files: sourceconfig.Files{Layout: sourceconfig.LayoutNative, Filters: sourceconfig.Filters{FileTypes: objectid.NewFileTypeSet(objectid.FileTypePDB)}},
	}
	e := newTestEngine(t, []sourceconfig.Source{source})

	input := Input{
		Scope:   "global",
		Modules: []RawModule{{Module: module, ImageAddr: 0x00402000, ImageSize: 0x1000}},
		StackTraces: [][]RawFrame{
			{{InstructionAddr: 0x00402040}},
		},
	}
	id, err := e.Submit(context.Background(), input)
	require.NoError(t, err)

	result := e.awaitResult(t, id)
	require.Equal(t, RequestCompleted, result.Status)
	require.Len(t, result.StackTraces, 1)
	require.Len(t, result.StackTraces[0], 1)
	frame := result.StackTraces[0][0]
	assert.Equal(t, FrameSymbolicated, frame.Status)
	assert.Equal(t, "DoThing", frame.Function)
	assert.Equal(t, uint32(42), frame.Line)
	assert.Equal(t, "wntdll.pdb", frame.Package)
}

func TestSubmitMarksFrameMissingWhenNoModuleCoversAddress(t *testing.T) {
	e := newTestEngine(t, nil)
	input := Input{
		Scope:       "global",
		Modules:     nil,
		StackTraces: [][]RawFrame{{{InstructionAddr: 0xdead}}},
	}
	id, err := e.Submit(context.Background(), input)
	require.NoError(t, err)

	result := e.awaitResult(t, id)
	require.Len(t, result.StackTraces[0], 1)
	assert.Equal(t, FrameMissing, result.StackTraces[0][0].Status)
}

func TestSubmitMarksFrameUnknownImageWhenObjectUnavailable(t *testing.T) {
	root := t.TempDir()
	module := objectid.ModuleID{HasDebug: true, DebugID: objectid.DebugID{UUID: [16]byte{1}, Age: 1}, DebugName: "missing.pdb"}
	source := sourceconfig.Source{ID: "fs1", Kind: sourceconfig.KindFilesystem, Path: root, Files: sourceconfig.Files{Layout: sourceconfig.LayoutNative}}
	e := newTestEngine(t, []sourceconfig.Source{source})

	input := Input{
		Scope:       "global",
		Modules:     []RawModule{{Module: module, ImageAddr: 0x1000, ImageSize: 0x1000}},
		StackTraces: [][]RawFrame{{{InstructionAddr: 0x1040}}},
	}
	id, err := e.Submit(context.Background(), input)
	require.NoError(t, err)

	result := e.awaitResult(t, id)
	assert.Equal(t, FrameUnknownImage, result.StackTraces[0][0].Status)
}

func TestSubmitUsesDefaultSourcesWhenInputOmitsThem(t *testing.T) {
	root := t.TempDir()
	module := objectid.ModuleID{HasDebug: true, DebugID: objectid.DebugID{UUID: [16]byte{2}, Age: 1}, DebugName: "app.pdb"}
	relPath := "app.pdb/" + module.DebugID.HexUpper() + "/app.pdb"
	full := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	fixture := parsercontract.Fixture{
		Metadata: parsercontract.Metadata{HasDebugInfo: true},
		Symbols:  map[uint64][]parsercontract.Symbol{0x10: {{Function: "Main", Line: 1}}},
	}
	require.NoError(t, os.WriteFile(full, parsercontract.EncodeFixture(fixture), 0o644))

	source := sourceconfig.Source{ID: "fs1", Kind: sourceconfig.KindFilesystem, Path: root,
		Files: sourceconfig.Files{Layout: sourceconfig.LayoutNative, Filters: sourceconfig.Filters{FileTypes: objectid.NewFileTypeSet(objectid.FileTypePDB)}}}
	e := newTestEngine(t, []sourceconfig.Source{source})

	input := Input{
		Scope:       "global",
		Modules:     []RawModule{{Module: module, ImageAddr: 0x1000, ImageSize: 0x1000}},
		StackTraces: [][]RawFrame{{{InstructionAddr: 0x1010}}},
		// Sources intentionally omitted.
	}
	id, err := e.Submit(context.Background(), input)
	require.NoError(t, err)

	result := e.awaitResult(t, id)
	assert.Equal(t, FrameSymbolicated, result.StackTraces[0][0].Status)
}
