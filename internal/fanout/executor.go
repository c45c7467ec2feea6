// Package fanout implements the multi-target executor (C5): sequential
// or parallel dispatch of one pipeline.Pipeline per target. Grounded in
// the teacher's safeGo panic-recovery discipline
// (internal/api/handlers.go) and the semaphore-bounded per-host
// concurrency in other_examples/EvSecDev-SCMP's sshDeploy, reimplemented
// with sourcegraph/conc's panic-safe pool instead of a hand-rolled
// semaphore channel — conc is already in the teacher's go.mod as an
// indirect dependency; this wires it in directly.
package fanout

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"github.com/ryanoboyle/fleetship/internal/config"
	"github.com/ryanoboyle/fleetship/internal/pipeline"
	"github.com/ryanoboyle/fleetship/internal/uploader"
)

// Options configures a fan-out run across every target.
type Options struct {
	// Parallel launches every target's pipeline concurrently instead of
	// visiting them in declaration order.
	Parallel bool
	// Strict is forwarded to each pipeline.Options; in strict mode a
	// failed target does not stop already-launched siblings, but no
	// further targets are given new work once one has failed.
	Strict bool
	// DeleteRemote is forwarded to each pipeline.Options.
	DeleteRemote bool
	// MaxConcurrency bounds how many target pipelines run at once in
	// parallel mode. Zero means unbounded (one goroutine per target).
	MaxConcurrency int
}

// DriverFactory constructs the Driver for one target, deferring to
// uploader.New by default; tests substitute a fake.
type DriverFactory func(config.TargetConfig) (uploader.Driver, error)

// Executor runs every configured target's pipeline and folds the results
// into one Aggregator.
type Executor struct {
	targets    []config.TargetConfig
	newDriver  DriverFactory
	aggregator *pipeline.Aggregator
	options    Options
}

// New constructs an Executor for targets. filesByTarget maps a target's
// Identity() to its effective file list; a missing entry yields an empty
// list, matching spec §4.5 — targets with nothing to do are still
// initialized for consistent indexing.
func New(targets []config.TargetConfig, newDriver DriverFactory, aggregator *pipeline.Aggregator, options Options) *Executor {
	return &Executor{targets: targets, newDriver: newDriver, aggregator: aggregator, options: options}
}

// Run dispatches every target. Declaration order assigns targetIndex
// values before launch, so parallel mode's interleaved completion order
// never disturbs index stability (spec §4.5).
func (e *Executor) Run(ctx context.Context, filesByTarget map[string][]uploader.UploadFile) error {
	for i, target := range e.targets {
		e.aggregator.InitTarget(target.Identity(), i)
	}

	if !e.options.Parallel {
		return e.runSequential(ctx, filesByTarget)
	}
	return e.runParallel(ctx, filesByTarget)
}

func (e *Executor) runSequential(ctx context.Context, filesByTarget map[string][]uploader.UploadFile) error {
	for i, target := range e.targets {
		files := filesByTarget[target.Identity()]
		if err := e.runOne(ctx, i, target, files); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runParallel(ctx context.Context, filesByTarget map[string][]uploader.UploadFile) error {
	p := pool.New().WithContext(ctx)
	if e.options.MaxConcurrency > 0 {
		p = p.WithMaxGoroutines(e.options.MaxConcurrency)
	}

	var failed atomic.Bool
	for i, target := range e.targets {
		i, target := i, target
		files := filesByTarget[target.Identity()]
		p.Go(func(ctx context.Context) error {
			if e.options.Strict && failed.Load() {
				return nil
			}
			err := e.runOne(ctx, i, target, files)
			if err != nil {
				failed.Store(true)
			}
			return err
		})
	}

	// Target-local failures are always folded into the aggregator by
	// runOne; in strict mode runOne also returns a non-nil error, which
	// sets failed so targets that had not started yet skip their pipeline
	// and stay pending. Already-launched siblings still run to completion,
	// per this package's documented strict-parallel contract.
	return p.Wait()
}

func (e *Executor) runOne(ctx context.Context, index int, target config.TargetConfig, files []uploader.UploadFile) error {
	driver, err := e.newDriver(target)
	if err != nil {
		e.aggregator.SetError(target.Identity(), err)
		e.aggregator.SetStatus(target.Identity(), pipeline.StatusFailed)
		if e.options.Strict {
			return fmt.Errorf("target %s: new driver: %w", target.Identity(), err)
		}
		return nil
	}

	p := pipeline.New(target, driver, e.aggregator, pipeline.Options{
		DeleteRemote: e.options.DeleteRemote,
		Strict:       e.options.Strict,
	})
	return p.Run(ctx, index, files)
}
