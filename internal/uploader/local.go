package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/ryanoboyle/fleetship/internal/config"
	"github.com/ryanoboyle/fleetship/pkg/logging"
	"github.com/ryanoboyle/fleetship/pkg/progress"
)

// LocalDriver copies within the local filesystem. It is backed by an
// afero.Fs so tests can swap in an in-memory filesystem; production use
// defaults to afero.NewOsFs().
type LocalDriver struct {
	fs     afero.Fs
	dest   string
	target config.TargetConfig

	mu      sync.Mutex
	created map[string]bool
}

// NewLocalDriver creates a local driver rooted at target.Dest. A nil fs
// defaults to the real OS filesystem.
func NewLocalDriver(target config.TargetConfig, fs afero.Fs) *LocalDriver {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &LocalDriver{
		fs:      fs,
		dest:    target.Dest,
		target:  target,
		created: make(map[string]bool),
	}
}

func (d *LocalDriver) resolve(relPath string) string {
	return filepath.Join(d.dest, filepath.FromSlash(relPath))
}

// Connect ensures the destination root exists. The local driver has no
// handshake, so this never fails on a writable filesystem.
func (d *LocalDriver) Connect(ctx context.Context) error {
	if err := d.fs.MkdirAll(d.dest, 0755); err != nil {
		return &ConnectionError{Target: d.dest, Err: err}
	}
	return nil
}

// Disconnect is a no-op: the local driver holds no session.
func (d *LocalDriver) Disconnect() error { return nil }

func (d *LocalDriver) Mkdir(ctx context.Context, relPath string) error {
	d.mu.Lock()
	if d.created[relPath] {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if err := d.fs.MkdirAll(d.resolve(relPath), 0755); err != nil {
		return &TransferError{Path: relPath, Err: err}
	}

	d.mu.Lock()
	d.created[relPath] = true
	d.mu.Unlock()
	return nil
}

func (d *LocalDriver) Upload(ctx context.Context, file UploadFile, relPath string, onProgress ProgressFunc) error {
	if file.IsDirectory {
		if onProgress != nil {
			onProgress(0, 0)
		}
		return d.Mkdir(ctx, relPath)
	}

	if err := d.Mkdir(ctx, filepath.ToSlash(filepath.Dir(relPath))); err != nil {
		return err
	}

	src, err := d.openSource(file)
	if err != nil {
		return &TransferError{Path: relPath, Err: err}
	}
	defer src.Close()

	dstPath := d.resolve(relPath)
	dst, err := d.fs.Create(dstPath)
	if err != nil {
		return &TransferError{Path: relPath, Err: err}
	}
	defer dst.Close()

	total := file.Size
	if onProgress != nil {
		onProgress(0, total)
	}
	tracked := progress.NewWriter(dst, total, progress.Callback(onProgress))
	if _, err := io.Copy(tracked, src); err != nil {
		return &TransferError{Path: relPath, Err: err}
	}
	if onProgress != nil {
		onProgress(total, total)
	}

	if d.target.PreserveTimestamps && !file.ModTime.IsZero() {
		if err := d.fs.Chtimes(dstPath, file.ModTime, file.ModTime); err != nil {
			logging.Logger().Warn("failed to set timestamps", logging.Path(dstPath), logging.Err(err))
		}
	}

	return nil
}

func (d *LocalDriver) openSource(file UploadFile) (io.ReadCloser, error) {
	if file.SourcePath != "" {
		return d.fs.Open(file.SourcePath)
	}
	return io.NopCloser(bytes.NewReader(file.Content)), nil
}

func (d *LocalDriver) Delete(ctx context.Context, relPath string) error {
	err := d.fs.RemoveAll(d.resolve(relPath))
	if err != nil {
		return &TransferError{Path: relPath, Err: err}
	}
	return nil
}

func (d *LocalDriver) ReadFile(ctx context.Context, relPath string) (*RemoteFileContent, error) {
	info, err := d.fs.Stat(d.resolve(relPath))
	if err != nil {
		return nil, nil
	}
	if info.IsDir() {
		return nil, nil
	}

	content, err := afero.ReadFile(d.fs, d.resolve(relPath))
	if err != nil {
		return nil, &TransferError{Path: relPath, Err: err}
	}
	return &RemoteFileContent{Content: content, Size: info.Size()}, nil
}

// ListRemoteFiles satisfies RemoteLister: every destination-root-relative
// path under dest.
func (d *LocalDriver) ListRemoteFiles(ctx context.Context) ([]string, error) {
	var result []string
	if err := walk(d.fs, d.dest, d.dest, &result); err != nil {
		return nil, &TransferError{Path: d.dest, Err: err}
	}
	return result, nil
}

func walk(fs afero.Fs, root, dir string, out *[]string) error {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := walk(fs, root, full, out); err != nil {
				return err
			}
			continue
		}
		rel, err := filepath.Rel(root, full)
		if err != nil {
			return err
		}
		*out = append(*out, filepath.ToSlash(rel))
	}
	return nil
}

// BulkUpload satisfies BulkUploader with a tight sequential loop: for the
// local driver, that is "bulk" enough to exercise the contract (spec §4.1
// names rsync staging and batched SFTP as examples, not requirements).
func (d *LocalDriver) BulkUpload(ctx context.Context, files []UploadFile, onProgress BulkProgressFunc) (*BulkResult, error) {
	start := time.Now()
	result := &BulkResult{}

	for i, file := range files {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		relPath := strings.TrimPrefix(file.RelativePath, "/")
		if err := d.Upload(ctx, file, relPath, nil); err != nil {
			result.FailedCount++
			if onProgress != nil {
				onProgress(i+1, len(files), result.TotalSize, result.TotalSize)
			}
			continue
		}
		result.SuccessCount++
		result.TotalSize += file.Size
		if onProgress != nil {
			onProgress(i+1, len(files), result.TotalSize, result.TotalSize)
		}
	}

	result.Duration = time.Since(start)
	if result.FailedCount > 0 {
		return result, fmt.Errorf("local bulk upload: %d of %d files failed", result.FailedCount, len(files))
	}
	return result, nil
}
