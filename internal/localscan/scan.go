// Package localscan walks the locally-assembled tree the caller wants
// deployed and turns it into the []uploader.UploadFile the rest of the
// pipeline operates on, the same way the teacher's internal/sync/diff.go
// ScanLocalDir walks a directory before diffing it against B2. Here
// the scan never consults a remote listing (mirror.Plan does that
// afterwards, in mirror mode, for drivers that implement
// ListRemoteFiles), so every local file is handed to the driver
// as an add/modify; drivers that can already tell a file is unchanged
// skip the actual transfer themselves (e.g. rsync's own checksum pass).
package localscan

import (
	"os"
	"path/filepath"

	"github.com/ryanoboyle/fleetship/internal/ignore"
	"github.com/ryanoboyle/fleetship/internal/uploader"
)

// Scan walks root and returns one UploadFile per file and per directory
// not excluded by matcher, with ChangeType always ChangeModify — the
// specific add/modify distinction is only meaningful once a remote
// listing is available, which mirror.Plan applies on top of this when a
// RemoteLister is present.
func Scan(root string, matcher *ignore.Matcher) ([]uploader.UploadFile, error) {
	var files []uploader.UploadFile

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if matcher.Matches(relPath) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			files = append(files, uploader.UploadFile{RelativePath: relPath, IsDirectory: true, ChangeType: uploader.ChangeModify})
			return nil
		}

		files = append(files, uploader.UploadFile{
			RelativePath: relPath,
			Size:         info.Size(),
			ChangeType:   uploader.ChangeModify,
			SourcePath:   path,
			ModTime:      info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
