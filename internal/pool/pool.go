// Package pool implements the two logical executors of spec §5: an I/O
// pool for network/disk work and a CPU pool for parsing and
// symbolication. They are distinct types — not two configurations of the
// same struct — so a call site can't accidentally run a source-adapter
// download on the CPU pool (spec §4.3: "Source-adapter calls must never
// run on the CPU pool").
package pool

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// DefaultIOConcurrency matches spec §4.3's "default parallelism = 128".
const DefaultIOConcurrency = 128

// IOPool bounds concurrent network/disk operations.
type IOPool struct {
	sem *semaphore.Weighted
}

// NewIOPool builds an IOPool with the given concurrency limit; a
// non-positive limit is replaced by DefaultIOConcurrency.
func NewIOPool(concurrency int) *IOPool {
	if concurrency <= 0 {
		concurrency = DefaultIOConcurrency
	}
	return &IOPool{sem: semaphore.NewWeighted(int64(concurrency))}
}

// Do runs fn once a slot is free, releasing it on return. It blocks until a
// slot is available or ctx is cancelled.
func (p *IOPool) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

// CPUPool bounds concurrent parse/symbolicate work to hardware
// parallelism by default (spec §5: "bounded worker pool sized to hardware
// parallelism").
type CPUPool struct {
	sem *semaphore.Weighted
}

// NewCPUPool builds a CPUPool; a non-positive limit defaults to
// runtime.GOMAXPROCS(0).
func NewCPUPool(concurrency int) *CPUPool {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &CPUPool{sem: semaphore.NewWeighted(int64(concurrency))}
}

func (p *CPUPool) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}
