package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanoboyle/fleetship/internal/config"
	"github.com/ryanoboyle/fleetship/internal/uploader"
)

// fakeDriver is a minimal in-memory Driver used to exercise the
// pipeline's state machine without touching any real transport.
type fakeDriver struct {
	connectErr error
	uploadErr  map[string]error
	deleteErr  map[string]error
	uploaded   []string
	deleted    []string
}

func (f *fakeDriver) Connect(ctx context.Context) error    { return f.connectErr }
func (f *fakeDriver) Disconnect() error                    { return nil }
func (f *fakeDriver) Mkdir(ctx context.Context, p string) error { return nil }
func (f *fakeDriver) Upload(ctx context.Context, file uploader.UploadFile, relPath string, onProgress uploader.ProgressFunc) error {
	f.uploaded = append(f.uploaded, relPath)
	if onProgress != nil {
		onProgress(file.Size, file.Size)
	}
	if f.uploadErr != nil {
		return f.uploadErr[relPath]
	}
	return nil
}
func (f *fakeDriver) Delete(ctx context.Context, relPath string) error {
	f.deleted = append(f.deleted, relPath)
	if f.deleteErr != nil {
		return f.deleteErr[relPath]
	}
	return nil
}
func (f *fakeDriver) ReadFile(ctx context.Context, relPath string) (*uploader.RemoteFileContent, error) {
	return nil, nil
}

func baseTarget() config.TargetConfig {
	return config.TargetConfig{Host: "web-1", Port: 22, Dest: "/srv/app", SyncMode: config.SyncMirror}
}

func TestPipeline_UploadsThenCompletes(t *testing.T) {
	driver := &fakeDriver{}
	agg := NewAggregator(nil, time.Now())
	p := New(baseTarget(), driver, agg, Options{})

	files := []uploader.UploadFile{
		{RelativePath: "index.html", ChangeType: uploader.ChangeAdd, Size: 10},
		{RelativePath: "style.css", ChangeType: uploader.ChangeModify, Size: 5},
	}

	err := p.Run(context.Background(), 0, files)
	require.NoError(t, err)

	result := agg.Result(baseTarget().Identity())
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Len(t, result.Files, 2)
	assert.ElementsMatch(t, []string{"index.html", "style.css"}, driver.uploaded)
}

func TestPipeline_DeletesBeforeUploadsInMirrorMode(t *testing.T) {
	driver := &fakeDriver{}
	agg := NewAggregator(nil, time.Now())
	p := New(baseTarget(), driver, agg, Options{DeleteRemote: true})

	files := []uploader.UploadFile{
		{RelativePath: "old.html", ChangeType: uploader.ChangeDelete},
		{RelativePath: "index.html", ChangeType: uploader.ChangeModify, Size: 10},
	}

	err := p.Run(context.Background(), 0, files)
	require.NoError(t, err)

	assert.Equal(t, []string{"old.html"}, driver.deleted)
	assert.Equal(t, []string{"index.html"}, driver.uploaded)
}

func TestPipeline_DeletesSkippedWithoutMirrorMode(t *testing.T) {
	driver := &fakeDriver{}
	agg := NewAggregator(nil, time.Now())
	target := baseTarget()
	target.SyncMode = config.SyncUpdate
	p := New(target, driver, agg, Options{DeleteRemote: true})

	files := []uploader.UploadFile{
		{RelativePath: "old.html", ChangeType: uploader.ChangeDelete},
	}

	err := p.Run(context.Background(), 0, files)
	require.NoError(t, err)
	assert.Empty(t, driver.deleted)
}

func TestPipeline_ConnectFailureMarksTargetFailed(t *testing.T) {
	driver := &fakeDriver{connectErr: errors.New("boom")}
	agg := NewAggregator(nil, time.Now())
	p := New(baseTarget(), driver, agg, Options{})

	err := p.Run(context.Background(), 0, nil)
	require.NoError(t, err)

	result := agg.Result(baseTarget().Identity())
	assert.Equal(t, StatusFailed, result.Status)
}

func TestPipeline_StrictModeAbortsOnFirstUploadFailure(t *testing.T) {
	driver := &fakeDriver{uploadErr: map[string]error{"a.txt": errors.New("fail")}}
	agg := NewAggregator(nil, time.Now())
	p := New(baseTarget(), driver, agg, Options{Strict: true})

	files := []uploader.UploadFile{
		{RelativePath: "a.txt", ChangeType: uploader.ChangeAdd, Size: 1},
		{RelativePath: "b.txt", ChangeType: uploader.ChangeAdd, Size: 1},
	}

	err := p.Run(context.Background(), 0, files)
	require.Error(t, err) // strict mode surfaces the failure so fanout's sequential executor stops dispatching

	result := agg.Result(baseTarget().Identity())
	assert.Equal(t, StatusFailed, result.Status)
	assert.Len(t, result.Files, 1) // aborted before uploading b.txt
}

func TestPipeline_LenientModeContinuesPastFailures(t *testing.T) {
	driver := &fakeDriver{uploadErr: map[string]error{"a.txt": errors.New("fail")}}
	agg := NewAggregator(nil, time.Now())
	p := New(baseTarget(), driver, agg, Options{Strict: false})

	files := []uploader.UploadFile{
		{RelativePath: "a.txt", ChangeType: uploader.ChangeAdd, Size: 1},
		{RelativePath: "b.txt", ChangeType: uploader.ChangeAdd, Size: 1},
	}

	err := p.Run(context.Background(), 0, files)
	require.NoError(t, err)

	result := agg.Result(baseTarget().Identity())
	assert.Equal(t, StatusFailed, result.Status) // one file failed, but both ran
	assert.Len(t, result.Files, 2)
}

func TestAggregator_AggregateCountsOnlyCompletedFiles(t *testing.T) {
	agg := NewAggregator(nil, time.Now().Add(-time.Second))
	agg.InitTarget("a", 0)
	agg.RecordFileResult("a", FileResult{RelativePath: "x", Status: FileCompleted, Size: 100})
	agg.RecordFileResult("a", FileResult{RelativePath: "y", Status: FileFailed, Size: 999})
	agg.SetStatus("a", StatusCompleted)

	agg.InitTarget("b", 1)
	agg.SetStatus("b", StatusFailed)

	result := agg.Aggregate()
	assert.Equal(t, 1, result.SuccessTargets)
	assert.Equal(t, 1, result.FailedTargets)
	assert.Equal(t, 1, result.TotalFiles)
	assert.Equal(t, int64(100), result.TotalSize)
}
