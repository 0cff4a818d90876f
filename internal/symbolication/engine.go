// Package symbolication implements the Symbolication Engine (C7): given
// stack traces and their loaded modules, resolve each module via C5,
// walk every frame against the resulting symcache/cficache, and expose
// the result through the async request-registry polling contract of
// spec §4.7.
package symbolication

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crashsymbol/symbolicator/internal/cache"
	"github.com/crashsymbol/symbolicator/internal/derived"
	"github.com/crashsymbol/symbolicator/internal/download"
	"github.com/crashsymbol/symbolicator/internal/objectid"
	"github.com/crashsymbol/symbolicator/internal/parsercontract"
	"github.com/crashsymbol/symbolicator/internal/pool"
	"github.com/crashsymbol/symbolicator/internal/registry"
	"github.com/crashsymbol/symbolicator/internal/resolver"
	"github.com/crashsymbol/symbolicator/internal/sourceconfig"
)

// RawFrame is one unsymbolicated stack frame (spec §4.7). Registers is
// populated only on the last frame of a stack that needs further
// CFI-driven unwinding from that frame; a pre-unwound stack from the
// client SDK leaves it empty on every frame.
type RawFrame struct {
	InstructionAddr uint64
	Function        string
	Package         string
	Registers       map[string]uint64
}

// RawModule is a loaded module's identity plus its address range.
type RawModule struct {
	Module    objectid.ModuleID
	ImageAddr uint64
	ImageSize uint64
}

func (m RawModule) contains(addr uint64) bool {
	return addr >= m.ImageAddr && addr < m.ImageAddr+m.ImageSize
}

// FrameStatus is the per-frame outcome enum of spec §7.
type FrameStatus string

const (
	FrameSymbolicated  FrameStatus = "symbolicated"
	FrameMissing       FrameStatus = "missing"
	FrameMissingSymbol FrameStatus = "missing_symbol"
	FrameUnknownImage  FrameStatus = "unknown_image"
	FrameMalformed     FrameStatus = "malformed"
)

// SymbolicatedFrame is one output frame, possibly one of several produced
// from a single RawFrame via inline-chain expansion.
type SymbolicatedFrame struct {
	Status          FrameStatus
	InstructionAddr uint64
	Function        string
	File            string
	Line            uint32
	Package         string
	Trust           string
}

// RequestStatus is the top-level response status of spec §7.
type RequestStatus string

const (
	RequestCompleted RequestStatus = "completed"
	RequestFailed    RequestStatus = "failed"
)

// Result is a completed (or failed) symbolication response.
type Result struct {
	Status       RequestStatus
	StackTraces  [][]SymbolicatedFrame
	ModuleErrors map[int]string
	ErrorCode    string
	ErrorMessage string
}

// Input is one symbolication request's payload (spec §4.7).
type Input struct {
	Signal      string
	Sources     []sourceconfig.Source
	StackTraces [][]RawFrame
	Modules     []RawModule
	Scope       string
}

// Engine coordinates C5 (resolver) + C6 (derived) over the request
// registry, implementing spec §4.7's algorithm.
type Engine struct {
	objects        *cache.Tier
	pipeline       *download.Pipeline
	builder        *derived.Builder
	transport      http.RoundTripper
	defaultSources []sourceconfig.Source
	registry       *registry.Registry[Result]
	cpu            *pool.CPUPool
	log            *zap.Logger
}

// NewEngine builds an Engine. defaultSources backs the query-parameter
// scope defaults: an Input that omits Sources uses this list instead of
// failing.
func NewEngine(objects *cache.Tier, pipeline *download.Pipeline, builder *derived.Builder, transport http.RoundTripper, defaultSources []sourceconfig.Source, reg *registry.Registry[Result], cpu *pool.CPUPool, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		objects:        objects,
		pipeline:       pipeline,
		builder:        builder,
		transport:      transport,
		defaultSources: defaultSources,
		registry:       reg,
		cpu:            cpu,
		log:            log.Named("symbolication"),
	}
}

// Submit registers a new request and runs it asynchronously, returning
// its request_id immediately (spec §4.7 step 1: "spawn the work...").
// ErrQueueFull from the registry is returned directly.
func (e *Engine) Submit(ctx context.Context, input Input) (string, error) {
	sources := input.Sources
	if len(sources) == 0 {
		sources = e.defaultSources
	}

	id, err := e.registry.Register(input.Scope)
	if err != nil {
		return "", err
	}

	// Run detached from the submitting request's context: a caller's
	// status-poll timeout must never cancel the underlying work (spec §5:
	// "elapsing it never cancels the underlying symbolication").
	go e.run(context.Background(), id, input, sources)

	return id, nil
}

func (e *Engine) run(ctx context.Context, id string, input Input, sources []sourceconfig.Source) {
	res := resolver.New(sources, e.objects, e.pipeline, e.builder, e.transport, e.log)

	modules := e.resolveModules(ctx, res, input.Modules, input.Scope)

	result := Result{
		Status:       RequestCompleted,
		StackTraces:  make([][]SymbolicatedFrame, len(input.StackTraces)),
		ModuleErrors: make(map[int]string),
	}
	for i, trace := range input.StackTraces {
		var frames []SymbolicatedFrame
		err := e.cpu.Do(ctx, func(ctx context.Context) error {
			frames = walkStacktrace(trace, input.Modules, modules)
			return nil
		})
		if err != nil {
			result.ModuleErrors[i] = err.Error()
			continue
		}
		result.StackTraces[i] = frames
	}

	e.registry.Complete(id, result)
}

// moduleResolution is one module's Debug+Unwind resolution outcome,
// loaded into queryable symcache/cficache views when available.
type moduleResolution struct {
	debugOK  bool
	symCache parsercontract.SymCache
	cfiCache parsercontract.CfiCache
}

// resolveModules resolves Debug and Unwind purposes for every module in
// parallel (spec §4.7 step 2: "in parallel resolve purpose Unwind for
// the same module"); across-module resolution is likewise unordered
// (spec §5). A module whose resolution fails is recorded as
// unavailable rather than aborting the whole request (spec §7: "C7
// never fails a whole request due to one module failing").
func (e *Engine) resolveModules(ctx context.Context, res *resolver.Resolver, modules []RawModule, scope string) []*moduleResolution {
	results := make([]*moduleResolution, len(modules))
	var g errgroup.Group
	for i, m := range modules {
		i, m := i, m
		results[i] = &moduleResolution{}
		g.Go(func() error {
			e.resolveModule(ctx, res, m, scope, results[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) resolveModule(ctx context.Context, res *resolver.Resolver, m RawModule, scope string, out *moduleResolution) {
	var inner errgroup.Group
	var debugHandle, unwindHandle *resolver.Handle
	var debugOK, unwindOK bool

	inner.Go(func() error {
		h, ok, err := res.Find(ctx, m.Module, nil, scope, objectid.PurposeDebug)
		if err != nil {
			e.log.Warn("module debug resolution failed", zap.Error(err))
			return nil
		}
		debugHandle, debugOK = h, ok
		return nil
	})
	inner.Go(func() error {
		h, ok, err := res.Find(ctx, m.Module, nil, scope, objectid.PurposeUnwind)
		if err != nil {
			e.log.Warn("module unwind resolution failed", zap.Error(err))
			return nil
		}
		unwindHandle, unwindOK = h, ok
		return nil
	})
	_ = inner.Wait()

	out.debugOK = debugOK
	if debugOK {
		sc, ok, err := e.builder.Symcache(ctx, debugHandle.ObjectKey, derived.ObjectSource{Path: string(debugHandle.FileID.Path), Open: debugHandle.Open})
		if err == nil && ok {
			out.symCache = sc
		}
	}
	if unwindOK {
		cc, ok, err := e.builder.Cficache(ctx, unwindHandle.ObjectKey, derived.ObjectSource{Path: string(unwindHandle.FileID.Path), Open: unwindHandle.Open})
		if err == nil && ok {
			out.cfiCache = cc
		}
	}
}

func findModule(modules []RawModule, addr uint64) (int, bool) {
	for i, m := range modules {
		if m.contains(addr) {
			return i, true
		}
	}
	return -1, false
}

// walkStacktrace implements spec §4.7 step 3: locate each frame's
// module, look up its symcache, expand inline chains, and continue
// unwinding via cficache when the captured trace carries register
// context on its last frame.
func walkStacktrace(trace []RawFrame, modules []RawModule, resolved []*moduleResolution) []SymbolicatedFrame {
	var out []SymbolicatedFrame
	var lastIdx int = -1

	for _, f := range trace {
		idx, ok := findModule(modules, f.InstructionAddr)
		if !ok {
			out = append(out, SymbolicatedFrame{Status: FrameMissing, InstructionAddr: f.InstructionAddr})
			continue
		}
		lastIdx = idx
		out = append(out, symbolicateOne(f.InstructionAddr, modules[idx], resolved[idx])...)
	}

	if lastIdx >= 0 && len(trace) > 0 {
		last := trace[len(trace)-1]
		if len(last.Registers) > 0 {
			out = append(out, unwindFurther(last.InstructionAddr, lastIdx, modules, resolved)...)
		}
	}
	return out
}

func symbolicateOne(addr uint64, module RawModule, res *moduleResolution) []SymbolicatedFrame {
	if res == nil || !res.debugOK || res.symCache == nil {
		return []SymbolicatedFrame{{Status: FrameUnknownImage, InstructionAddr: addr}}
	}
	relAddr := addr - module.ImageAddr
	syms, found := res.symCache.Lookup(relAddr)
	if !found {
		return []SymbolicatedFrame{{Status: FrameMissingSymbol, InstructionAddr: addr}}
	}
	frames := make([]SymbolicatedFrame, 0, len(syms))
	for _, s := range syms {
		frames = append(frames, SymbolicatedFrame{
			Status:          FrameSymbolicated,
			InstructionAddr: addr,
			Function:        s.Function,
			File:            s.File,
			Line:            s.Line,
			Package:         module.Module.DebugName,
			Trust:           s.Trust,
		})
	}
	return frames
}

// unwindFurther walks the cficache chain from the last captured frame
// until it runs dry or leaves every configured module's address range,
// capped to guard against a malformed cficache cycling forever.
func unwindFurther(fromAddr uint64, fromIdx int, modules []RawModule, resolved []*moduleResolution) []SymbolicatedFrame {
	const maxUnwindSteps = 64
	var out []SymbolicatedFrame

	idx := fromIdx
	addr := fromAddr
	for i := 0; i < maxUnwindSteps; i++ {
		res := resolved[idx]
		if res == nil || res.cfiCache == nil {
			break
		}
		relAddr := addr - modules[idx].ImageAddr
		callerRel, ok := res.cfiCache.Unwind(relAddr)
		if !ok {
			break
		}
		callerAddr := callerRel + modules[idx].ImageAddr

		nextIdx, found := findModule(modules, callerAddr)
		if !found {
			out = append(out, SymbolicatedFrame{Status: FrameMissing, InstructionAddr: callerAddr})
			break
		}
		frames := symbolicateOne(callerAddr, modules[nextIdx], resolved[nextIdx])
		out = append(out, frames...)
		if frames[0].Status != FrameSymbolicated {
			break
		}

		idx, addr = nextIdx, callerAddr
	}
	return out
}
