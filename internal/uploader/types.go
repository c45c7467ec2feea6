// Package uploader defines the transport driver contract (C1) and its
// capability registry (C2): four concrete drivers — local, SFTP, SCP, and
// rsync — sharing one interface plus optional capability interfaces probed
// at runtime via type assertion.
package uploader

import "time"

// ChangeType classifies an UploadFile entry.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
)

// UploadFile is the unit acted upon by a Driver.
//
// Invariant: ChangeDelete entries carry no content source; IsDirectory
// entries carry no content source either. Exactly one of Content or
// SourcePath is set for non-delete, non-directory entries.
type UploadFile struct {
	RelativePath string
	Size         int64
	IsDirectory  bool
	ChangeType   ChangeType
	Content      []byte
	SourcePath   string

	// ModTime is the source file's modification time, captured by
	// localscan.Scan. Zero when Content is set directly rather than read
	// from disk. Drivers only consult it when PreserveTimestamps is set.
	ModTime time.Time
}

// RemoteFileContent is the result of reading a file from a destination. A
// nil *RemoteFileContent (no error) means the entry does not exist.
type RemoteFileContent struct {
	Content []byte
	Size    int64
}

// ProgressFunc reports bytes transferred against a known total for a single
// file. It is called at least at start and end of a transfer.
type ProgressFunc func(transferred, total int64)

// BulkProgressFunc reports overall progress of a bulk transfer.
type BulkProgressFunc func(filesCompleted, totalFiles int, bytesTransferred, totalBytes int64)

// BulkResult is returned by BulkUploader.BulkUpload.
type BulkResult struct {
	SuccessCount int
	FailedCount  int
	TotalSize    int64
	Duration     time.Duration
}

// DiffOptions configures DiffProber.GetDiff.
type DiffOptions struct {
	Checksum       bool
	IgnorePatterns []string
	RemoteDir      string
}

// DiffEntryStatus mirrors DiffFile.status for server-side comparisons.
type DiffEntryStatus string

const (
	DiffAdded    DiffEntryStatus = "A"
	DiffModified DiffEntryStatus = "M"
	DiffDeleted  DiffEntryStatus = "D"
)

// DiffEntry is one line of a server-side remote-diff result.
type DiffEntry struct {
	Path   string
	Status DiffEntryStatus
}

// RemoteDiff is the aggregate result of DiffProber.GetDiff.
type RemoteDiff struct {
	Entries  []DiffEntry
	Added    int
	Modified int
	Deleted  int
}
