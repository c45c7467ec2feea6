package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ryanoboyle/fleetship/internal/config"
	"github.com/ryanoboyle/fleetship/internal/fanout"
	"github.com/ryanoboyle/fleetship/internal/ignore"
	"github.com/ryanoboyle/fleetship/internal/localscan"
	"github.com/ryanoboyle/fleetship/internal/mirror"
	"github.com/ryanoboyle/fleetship/internal/pipeline"
	"github.com/ryanoboyle/fleetship/internal/uploader"
)

// newDriver is the one fanout.DriverFactory every command uses; a nil
// afero.Fs means the local driver falls back to the real OS filesystem.
func newDriver(target config.TargetConfig) (uploader.Driver, error) {
	return uploader.New(target, nil)
}

// planFiles scans localPath for target, applying target's own ignore
// list, and — for mirror-mode targets whose driver can list the remote
// tree — folds in remote-only deletions via internal/mirror. Listing is
// done with a short-lived driver instance of its own; the fan-out
// executor still constructs a fresh one for the real run (spec §4.1:
// drivers are single-use per invocation).
func planFiles(ctx context.Context, localPath string, target config.TargetConfig) ([]uploader.UploadFile, error) {
	matcher, err := ignore.Compile(target.Ignore)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", target.Identity(), err)
	}

	local, err := localscan.Scan(localPath, matcher)
	if err != nil {
		return nil, fmt.Errorf("target %s: scan %s: %w", target.Identity(), localPath, err)
	}

	if target.SyncMode != config.SyncMirror {
		return local, nil
	}

	remoteList, err := listRemoteFiles(ctx, target)
	if err != nil {
		// Mirror mode degrades to update-only when the transport can't
		// list the remote tree (the SCP driver has no RemoteLister).
		return local, nil
	}

	return mirror.Plan(local, remoteList, matcher), nil
}

func listRemoteFiles(ctx context.Context, target config.TargetConfig) ([]string, error) {
	driver, err := newDriver(target)
	if err != nil {
		return nil, err
	}
	if err := driver.Connect(ctx); err != nil {
		return nil, err
	}
	defer driver.Disconnect()

	lister, ok := uploader.HasListRemoteFiles(driver)
	if !ok {
		return nil, fmt.Errorf("driver for %s does not support remote listing", target.Identity())
	}
	return lister.ListRemoteFiles(ctx)
}

// runDeploy plans every target's file list and runs them through the
// fan-out executor, returning the aggregated result. In strict mode the
// executor can return early once a target fails (spec §4.5); the
// aggregate up to that point is still returned alongside the error so
// callers can report what actually happened instead of nothing at all.
func runDeploy(ctx context.Context, localPath string, targets []config.TargetConfig, opts fanout.Options, onProgress pipeline.ProgressCallback) (*pipeline.AggregateResult, error) {
	filesByTarget := make(map[string][]uploader.UploadFile, len(targets))
	for _, target := range targets {
		files, err := planFiles(ctx, localPath, target)
		if err != nil {
			return nil, err
		}
		filesByTarget[target.Identity()] = files
	}

	agg := pipeline.NewAggregator(onProgress, time.Now())
	executor := fanout.New(targets, newDriver, agg, opts)
	runErr := executor.Run(ctx, filesByTarget)
	result := agg.Aggregate()
	return &result, runErr
}
