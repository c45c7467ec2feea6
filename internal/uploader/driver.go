package uploader

import "context"

// Driver is the transport contract every concrete uploader implements.
// A Driver instance is single-use: one is created per TargetConfig per
// upload invocation, and its methods are never called concurrently (spec
// §5 — no concurrent use of one driver instance is ever permitted).
type Driver interface {
	// Connect establishes the session. The SFTP, SCP and rsync drivers
	// apply the bounded retry/backoff scheme described in spec §4.1
	// internally via pkg/retry, so callers need not retry Connect
	// themselves; the local driver has no handshake and tries once.
	Connect(ctx context.Context) error

	// Disconnect is idempotent and never returns an error visible to the
	// caller; implementations log and swallow cleanup failures.
	Disconnect() error

	// Mkdir creates relPath and all missing parents under dest. Already-
	// exists is success. Implementations cache created paths so a second
	// Mkdir of the same relPath in one session is a no-op remote call.
	Mkdir(ctx context.Context, relPath string) error

	// Upload writes file to dest/relPath, creating parent directories
	// first. Directory entries are mkdir-only and report (0,0) progress.
	Upload(ctx context.Context, file UploadFile, relPath string, onProgress ProgressFunc) error

	// Delete removes a file or directory recursively. Not-found is
	// success.
	Delete(ctx context.Context, relPath string) error

	// ReadFile returns the content at relPath, or nil if it does not
	// exist or is a directory. It fails only on genuine transport errors.
	ReadFile(ctx context.Context, relPath string) (*RemoteFileContent, error)
}

// BulkUploader is an optional capability: transfer many files in one
// underlying operation (rsync staging, batched SFTP, a tight local loop).
type BulkUploader interface {
	BulkUpload(ctx context.Context, files []UploadFile, onProgress BulkProgressFunc) (*BulkResult, error)
}

// DiffProber is an optional capability: a server-side comparison of a
// local tree against the remote destination, bypassing per-file ReadFile
// round trips.
type DiffProber interface {
	GetDiff(ctx context.Context, localDir string, files []string, opts DiffOptions) (*RemoteDiff, error)
}

// RemoteLister is an optional capability required for mirror mode: list
// every destination-root-relative path present on the remote.
type RemoteLister interface {
	ListRemoteFiles(ctx context.Context) ([]string, error)
}

// HasBulkUpload probes d for BulkUploader.
func HasBulkUpload(d Driver) (BulkUploader, bool) {
	bu, ok := d.(BulkUploader)
	return bu, ok
}

// HasDiff probes d for DiffProber.
func HasDiff(d Driver) (DiffProber, bool) {
	dp, ok := d.(DiffProber)
	return dp, ok
}

// HasListRemoteFiles probes d for RemoteLister.
func HasListRemoteFiles(d Driver) (RemoteLister, bool) {
	rl, ok := d.(RemoteLister)
	return rl, ok
}
