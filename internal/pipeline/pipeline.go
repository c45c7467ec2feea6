package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ryanoboyle/fleetship/internal/config"
	"github.com/ryanoboyle/fleetship/internal/uploader"
	"github.com/ryanoboyle/fleetship/pkg/logging"
)

// Options configures a single target's run through the pipeline.
type Options struct {
	// DeleteRemote gates whether delete-typed entries are executed; they
	// only ever run when the target's sync mode is also mirror.
	DeleteRemote bool
	// Strict aborts the target on the first failure (delete or upload);
	// lenient continues and folds every outcome into the result.
	Strict bool
}

// Pipeline drives one target's files through connect → delete → upload →
// disconnect (spec §4.4). A Pipeline is single-use: construct one per
// target per run.
type Pipeline struct {
	target     config.TargetConfig
	driver     uploader.Driver
	aggregator *Aggregator
	options    Options
}

// New constructs a pipeline for target, using driver as the already-
// constructed (not yet connected) transport.
func New(target config.TargetConfig, driver uploader.Driver, aggregator *Aggregator, options Options) *Pipeline {
	return &Pipeline{target: target, driver: driver, aggregator: aggregator, options: options}
}

// Run executes the full per-target sequence against files and reports
// into p.aggregator under targetIndex. A target-local failure is always
// recorded in the aggregator per spec §4.4's completeTarget step; it is
// also surfaced as a non-nil error when Strict is set, so fanout's
// sequential executor can stop dispatching further targets (spec §4.5,
// Testable-Properties scenario 2). In lenient mode Run keeps returning
// nil for a target-local failure, same as before.
func (p *Pipeline) Run(ctx context.Context, targetIndex int, files []uploader.UploadFile) error {
	targetID := p.target.Identity()
	p.aggregator.InitTarget(targetID, targetIndex)

	defer func() {
		if err := p.driver.Disconnect(); err != nil {
			logging.Logger().Warn("disconnect failed", logging.Target(targetID), logging.Err(err))
		}
	}()

	p.aggregator.SetStatus(targetID, StatusConnecting)
	if err := p.driver.Connect(ctx); err != nil {
		p.aggregator.SetError(targetID, err)
		p.aggregator.SetStatus(targetID, StatusFailed)
		return p.strictFailure(targetID, fmt.Errorf("connect: %w", err))
	}

	toDelete, toUpload := partition(files)

	p.aggregator.SetStatus(targetID, StatusUploading)

	if p.options.DeleteRemote && p.target.SyncMode == config.SyncMirror {
		if aborted := p.runDeletes(ctx, targetID, toDelete); aborted {
			p.aggregator.SetStatus(targetID, StatusFailed)
			return p.strictFailure(targetID, fmt.Errorf("delete aborted"))
		}
	}

	if aborted := p.runUploads(ctx, targetID, toUpload); aborted {
		p.aggregator.SetStatus(targetID, StatusFailed)
		return p.strictFailure(targetID, fmt.Errorf("upload aborted"))
	}

	p.aggregator.SetStatus(targetID, p.finalStatus(targetID))
	return nil
}

// strictFailure returns err when Strict is set, nil otherwise — the
// single point deciding whether a target-local failure propagates up to
// the executor or stays recorded in the aggregator only.
func (p *Pipeline) strictFailure(targetID string, err error) error {
	if !p.options.Strict {
		return nil
	}
	return fmt.Errorf("target %s: %w", targetID, err)
}

func (p *Pipeline) finalStatus(targetID string) TargetStatus {
	result := p.aggregator.Result(targetID)
	if result == nil {
		return StatusCompleted
	}
	if result.Error != "" {
		return StatusFailed
	}
	for _, f := range result.Files {
		if f.Status == FileFailed {
			return StatusFailed
		}
	}
	return StatusCompleted
}

func partition(files []uploader.UploadFile) (toDelete, toUpload []uploader.UploadFile) {
	for _, f := range files {
		if f.ChangeType == uploader.ChangeDelete {
			toDelete = append(toDelete, f)
		} else {
			toUpload = append(toUpload, f)
		}
	}
	return toDelete, toUpload
}

// runDeletes iterates toDelete, recording each outcome. Returns true if
// strict mode should abort the target.
func (p *Pipeline) runDeletes(ctx context.Context, targetID string, toDelete []uploader.UploadFile) bool {
	for _, f := range toDelete {
		select {
		case <-ctx.Done():
			p.aggregator.SetError(targetID, ctx.Err())
			return true
		default:
		}

		start := time.Now()
		err := p.driver.Delete(ctx, f.RelativePath)
		fr := FileResult{
			RelativePath: f.RelativePath,
			ChangeType:   string(uploader.ChangeDelete),
			Duration:     time.Since(start),
		}
		if err != nil {
			fr.Status = FileFailed
			fr.Error = err.Error()
			p.aggregator.RecordFileResult(targetID, fr)
			if p.options.Strict {
				return true
			}
			continue
		}
		fr.Status = FileCompleted
		p.aggregator.RecordFileResult(targetID, fr)
	}
	return false
}

// runUploads prefers a single hasBulkUpload(driver) call when available
// and there is at least one file to upload; otherwise it uploads files
// one at a time with a per-byte progress relay (spec §4.4 step 5).
func (p *Pipeline) runUploads(ctx context.Context, targetID string, toUpload []uploader.UploadFile) bool {
	if len(toUpload) == 0 {
		return false
	}

	if bulk, ok := uploader.HasBulkUpload(p.driver); ok {
		return p.runBulkUpload(ctx, targetID, bulk, toUpload)
	}
	return p.runSequentialUpload(ctx, targetID, toUpload)
}

func (p *Pipeline) runBulkUpload(ctx context.Context, targetID string, bulk uploader.BulkUploader, toUpload []uploader.UploadFile) bool {
	p.aggregator.emitBulkStart(targetID, len(toUpload))

	onProgress := func(filesCompleted, totalFiles int, bytesTransferred, totalBytes int64) {
		p.aggregator.emit(ProgressEvent{
			TargetID:         targetID,
			Phase:            "bulk_uploading",
			FilesCompleted:   filesCompleted,
			FilesTotal:       totalFiles,
			BytesTransferred: bytesTransferred,
			BytesTotal:       totalBytes,
		})
	}

	result, err := bulk.BulkUpload(ctx, toUpload, onProgress)
	if err != nil {
		perFile := time.Duration(0)
		if result != nil && len(toUpload) > 0 {
			perFile = result.Duration / time.Duration(len(toUpload))
		}
		for _, f := range toUpload {
			p.aggregator.RecordFileResult(targetID, FileResult{
				RelativePath: f.RelativePath,
				ChangeType:   string(f.ChangeType),
				Status:       FileFailed,
				Error:        "Bulk upload failed",
				Duration:     perFile,
				Size:         f.Size,
			})
		}
		return p.options.Strict
	}

	perFile := time.Duration(0)
	if len(toUpload) > 0 {
		perFile = result.Duration / time.Duration(len(toUpload))
	}
	for _, f := range toUpload {
		p.aggregator.RecordFileResult(targetID, FileResult{
			RelativePath: f.RelativePath,
			ChangeType:   string(f.ChangeType),
			Status:       FileCompleted,
			Duration:     perFile,
			Size:         f.Size,
		})
	}
	return false
}

func (p *Pipeline) runSequentialUpload(ctx context.Context, targetID string, toUpload []uploader.UploadFile) bool {
	for _, f := range toUpload {
		select {
		case <-ctx.Done():
			p.aggregator.SetError(targetID, ctx.Err())
			return true
		default:
		}

		p.aggregator.emit(ProgressEvent{TargetID: targetID, Phase: "uploading", CurrentFile: f.RelativePath})

		relPath := f.RelativePath
		onProgress := func(transferred, total int64) {
			p.aggregator.UpdateFileProgress(targetID, relPath, transferred, total)
		}

		start := time.Now()
		err := p.driver.Upload(ctx, f, relPath, onProgress)
		fr := FileResult{
			RelativePath: relPath,
			ChangeType:   string(f.ChangeType),
			Duration:     time.Since(start),
			Size:         f.Size,
		}
		if err != nil {
			fr.Status = FileFailed
			fr.Error = err.Error()
			p.aggregator.RecordFileResult(targetID, fr)
			if p.options.Strict {
				return true
			}
			continue
		}
		fr.Status = FileCompleted
		p.aggregator.RecordFileResult(targetID, fr)
	}
	return false
}

func (a *Aggregator) emitBulkStart(targetID string, totalFiles int) {
	a.mu.Lock()
	idx := 0
	if tr, ok := a.results[targetID]; ok {
		idx = tr.TargetIndex
	}
	a.mu.Unlock()
	a.emit(ProgressEvent{TargetIndex: idx, TargetID: targetID, Phase: "bulk_uploading", FilesTotal: totalFiles})
}
