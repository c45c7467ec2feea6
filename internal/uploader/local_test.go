package uploader

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanoboyle/fleetship/internal/config"
)

func baseLocalTarget() config.TargetConfig {
	return config.TargetConfig{Host: "local", Dest: "/dest"}
}

func TestLocalDriver_MkdirIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := NewLocalDriver(baseLocalTarget(), fs)
	require.NoError(t, d.Connect(context.Background()))

	require.NoError(t, d.Mkdir(context.Background(), "a/b"))
	require.NoError(t, d.Mkdir(context.Background(), "a/b"))

	info, err := fs.Stat("/dest/a/b")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLocalDriver_DeleteNonexistentSucceeds(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := NewLocalDriver(baseLocalTarget(), fs)
	require.NoError(t, d.Connect(context.Background()))

	err := d.Delete(context.Background(), "never/existed.txt")
	assert.NoError(t, err)
}

func TestLocalDriver_UploadProgressIsMonotonic(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := NewLocalDriver(baseLocalTarget(), fs)
	require.NoError(t, d.Connect(context.Background()))

	var readings []int64
	onProgress := func(transferred, total int64) {
		readings = append(readings, transferred)
		assert.Equal(t, int64(11), total)
	}

	file := UploadFile{RelativePath: "hello.txt", Size: 11, Content: []byte("hello world"), ChangeType: ChangeAdd}
	require.NoError(t, d.Upload(context.Background(), file, "hello.txt", onProgress))

	require.NotEmpty(t, readings)
	for i := 1; i < len(readings); i++ {
		assert.GreaterOrEqual(t, readings[i], readings[i-1])
	}
	assert.Equal(t, int64(11), readings[len(readings)-1])
}

func TestLocalDriver_UploadZeroSizeFileReportsZeroZero(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := NewLocalDriver(baseLocalTarget(), fs)
	require.NoError(t, d.Connect(context.Background()))

	var calls [][2]int64
	onProgress := func(transferred, total int64) {
		calls = append(calls, [2]int64{transferred, total})
	}

	file := UploadFile{RelativePath: "empty.txt", Size: 0, Content: []byte{}, ChangeType: ChangeAdd}
	require.NoError(t, d.Upload(context.Background(), file, "empty.txt", onProgress))

	require.NotEmpty(t, calls)
	for _, c := range calls {
		assert.Equal(t, int64(0), c[0])
		assert.Equal(t, int64(0), c[1])
	}
}

func TestLocalDriver_DirectoryUploadReportsZeroZero(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := NewLocalDriver(baseLocalTarget(), fs)
	require.NoError(t, d.Connect(context.Background()))

	var calls [][2]int64
	onProgress := func(transferred, total int64) {
		calls = append(calls, [2]int64{transferred, total})
	}

	file := UploadFile{RelativePath: "assets", IsDirectory: true, ChangeType: ChangeAdd}
	require.NoError(t, d.Upload(context.Background(), file, "assets", onProgress))

	require.Len(t, calls, 1)
	assert.Equal(t, [2]int64{0, 0}, calls[0])
}

func TestLocalDriver_PreserveTimestampsUsesSourceModTime(t *testing.T) {
	fs := afero.NewMemMapFs()
	target := baseLocalTarget()
	target.PreserveTimestamps = true
	d := NewLocalDriver(target, fs)
	require.NoError(t, d.Connect(context.Background()))

	sourceModTime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	file := UploadFile{
		RelativePath: "old.txt",
		Size:         5,
		Content:      []byte("hello"),
		ChangeType:   ChangeAdd,
		ModTime:      sourceModTime,
	}
	require.NoError(t, d.Upload(context.Background(), file, "old.txt", nil))

	info, err := fs.Stat("/dest/old.txt")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(sourceModTime), "expected mtime %v, got %v", sourceModTime, info.ModTime())
}

func TestLocalDriver_PreserveTimestampsSkippedWithoutModTime(t *testing.T) {
	fs := afero.NewMemMapFs()
	target := baseLocalTarget()
	target.PreserveTimestamps = true
	d := NewLocalDriver(target, fs)
	require.NoError(t, d.Connect(context.Background()))

	before := time.Now().Add(-time.Hour)
	file := UploadFile{RelativePath: "new.txt", Size: 5, Content: []byte("hello"), ChangeType: ChangeAdd}
	require.NoError(t, d.Upload(context.Background(), file, "new.txt", nil))

	info, err := fs.Stat("/dest/new.txt")
	require.NoError(t, err)
	assert.True(t, info.ModTime().After(before), "expected upload time, not the zero ModTime falling back to an ancient mtime")
}

func TestLocalDriver_BulkUploadCountsSuccessesAndFailures(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := NewLocalDriver(baseLocalTarget(), fs)
	require.NoError(t, d.Connect(context.Background()))

	files := []UploadFile{
		{RelativePath: "a.txt", Size: 1, Content: []byte("a"), ChangeType: ChangeAdd},
		{RelativePath: "b.txt", Size: 1, Content: []byte("b"), ChangeType: ChangeAdd},
	}

	result, err := d.BulkUpload(context.Background(), files, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.Equal(t, int64(2), result.TotalSize)
}

func TestLocalDriver_ListRemoteFilesReturnsRelativeSlashPaths(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := NewLocalDriver(baseLocalTarget(), fs)
	require.NoError(t, d.Connect(context.Background()))
	require.NoError(t, afero.WriteFile(fs, "/dest/sub/file.txt", []byte("x"), 0644))

	files, err := d.ListRemoteFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"sub/file.txt"}, files)
}
