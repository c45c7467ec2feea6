package uploader

import (
	"bytes"
	"io"
	"os"
)

// openUploadSource opens an UploadFile's content source, whichever of
// Content or SourcePath is set (spec §3's "exactly one content source"
// invariant).
func openUploadSource(file UploadFile) (io.ReadCloser, error) {
	if file.SourcePath != "" {
		return os.Open(file.SourcePath)
	}
	return io.NopCloser(bytes.NewReader(file.Content)), nil
}
