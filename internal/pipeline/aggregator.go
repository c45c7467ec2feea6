// Package pipeline implements the per-target transfer pipeline (C4) and
// the progress aggregator (C6). Grounded in the teacher's
// internal/sync.Syncer/ConcurrentSyncer — Sync's phase-by-phase structure
// (scan → diff → delete → upload → report) is generalized from a single
// B2 bucket target to the pluggable uploader.Driver contract, and the ad
// hoc SyncStatus callback becomes the structured ProgressEvent/TargetResult
// model named in spec §4.6.
package pipeline

import (
	"sync"
	"time"
)

// TargetStatus is a target's position in the C4 state machine.
type TargetStatus string

const (
	StatusPending    TargetStatus = "pending"
	StatusConnecting TargetStatus = "connecting"
	StatusUploading  TargetStatus = "uploading"
	StatusCompleted  TargetStatus = "completed"
	StatusFailed     TargetStatus = "failed"
)

// FileStatus is a single file's outcome within a target.
type FileStatus string

const (
	FilePending   FileStatus = "pending"
	FileUploading FileStatus = "uploading"
	FileCompleted FileStatus = "completed"
	FileFailed    FileStatus = "failed"
)

// FileResult records the outcome of transferring one file.
type FileResult struct {
	RelativePath string
	ChangeType   string
	Status       FileStatus
	Error        string
	Duration     time.Duration
	Size         int64
}

// TargetResult is the per-target aggregate the review UI and CLI output
// are built from.
type TargetResult struct {
	TargetID    string
	TargetIndex int
	Status      TargetStatus
	Files       []FileResult
	Error       string
}

// ProgressEvent is emitted on every observable state change: a status
// transition, a file starting or finishing, or a byte-level tick during
// an upload.
type ProgressEvent struct {
	TargetIndex      int
	TargetID         string
	Phase            string
	CurrentFile      string
	FilesCompleted   int
	FilesTotal       int
	BytesTransferred int64
	BytesTotal       int64
}

// ProgressCallback receives every ProgressEvent as it is emitted.
type ProgressCallback func(ProgressEvent)

// AggregateResult is the final summary across every target (spec §4.6).
type AggregateResult struct {
	SuccessTargets int
	FailedTargets  int
	TotalFiles     int
	TotalSize      int64
	TotalDuration  time.Duration
}

// Aggregator holds per-target results with insertion order preserved, per
// spec §4.6's "Map<targetId, TargetResult> with insertion order
// preserved".
type Aggregator struct {
	mu        sync.Mutex
	order     []string
	results   map[string]*TargetResult
	callback  ProgressCallback
	startTime time.Time
}

// NewAggregator creates an aggregator whose clock starts now. callback may
// be nil.
func NewAggregator(callback ProgressCallback, startTime time.Time) *Aggregator {
	return &Aggregator{
		results:   make(map[string]*TargetResult),
		callback:  callback,
		startTime: startTime,
	}
}

// InitTarget registers targetID at targetIndex with status=pending. Safe
// to call for a target that ends up with nothing to do, so indices stay
// stable across parallel and sequential runs (spec §4.5).
func (a *Aggregator) InitTarget(targetID string, targetIndex int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.results[targetID]; exists {
		return
	}
	a.order = append(a.order, targetID)
	a.results[targetID] = &TargetResult{
		TargetID:    targetID,
		TargetIndex: targetIndex,
		Status:      StatusPending,
	}
}

// SetStatus transitions targetID's status and emits a progress event.
func (a *Aggregator) SetStatus(targetID string, status TargetStatus) {
	a.mu.Lock()
	tr, ok := a.results[targetID]
	if ok {
		tr.Status = status
	}
	idx := 0
	if ok {
		idx = tr.TargetIndex
	}
	a.mu.Unlock()

	a.emit(ProgressEvent{TargetIndex: idx, TargetID: targetID, Phase: string(status)})
}

// SetError records a fatal, non-file-scoped error for targetID.
func (a *Aggregator) SetError(targetID string, err error) {
	a.mu.Lock()
	if tr, ok := a.results[targetID]; ok {
		tr.Error = err.Error()
	}
	a.mu.Unlock()
}

// RecordFileResult appends fr to targetID's file list and emits a
// progress event reflecting the new completed/total counts.
func (a *Aggregator) RecordFileResult(targetID string, fr FileResult) {
	a.mu.Lock()
	tr, ok := a.results[targetID]
	if !ok {
		a.mu.Unlock()
		return
	}
	tr.Files = append(tr.Files, fr)
	completed := 0
	for _, f := range tr.Files {
		if f.Status == FileCompleted || f.Status == FileFailed {
			completed++
		}
	}
	event := ProgressEvent{
		TargetIndex:    tr.TargetIndex,
		TargetID:       targetID,
		Phase:          "file_result",
		CurrentFile:    fr.RelativePath,
		FilesCompleted: completed,
		FilesTotal:     len(tr.Files),
	}
	a.mu.Unlock()

	a.emit(event)
}

// UpdateFileProgress is callback-only: no per-byte state is persisted
// (spec §4.6), it only forwards a byte-level tick for the currently
// transferring file.
func (a *Aggregator) UpdateFileProgress(targetID, relPath string, transferred, total int64) {
	a.mu.Lock()
	idx := 0
	if tr, ok := a.results[targetID]; ok {
		idx = tr.TargetIndex
	}
	a.mu.Unlock()

	a.emit(ProgressEvent{
		TargetIndex:      idx,
		TargetID:         targetID,
		Phase:            "uploading",
		CurrentFile:      relPath,
		BytesTransferred: transferred,
		BytesTotal:       total,
	})
}

func (a *Aggregator) emit(event ProgressEvent) {
	if a.callback != nil {
		a.callback(event)
	}
}

// Result returns a snapshot of targetID's current result, or nil if
// unknown.
func (a *Aggregator) Result(targetID string) *TargetResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	tr, ok := a.results[targetID]
	if !ok {
		return nil
	}
	cp := *tr
	cp.Files = append([]FileResult(nil), tr.Files...)
	return &cp
}

// Aggregate computes the final cross-target summary. totalFiles/totalSize
// sum only completed file results, per spec §4.6.
func (a *Aggregator) Aggregate() AggregateResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out AggregateResult
	for _, targetID := range a.order {
		tr := a.results[targetID]
		switch tr.Status {
		case StatusCompleted:
			out.SuccessTargets++
		case StatusFailed:
			out.FailedTargets++
		}
		for _, f := range tr.Files {
			if f.Status == FileCompleted {
				out.TotalFiles++
				out.TotalSize += f.Size
			}
		}
	}
	out.TotalDuration = time.Since(a.startTime)
	return out
}
