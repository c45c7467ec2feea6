// Package review implements the interactive diff-review server (C7) and
// its remote-diff proxy (C8). Grounded in the teacher's
// internal/api/server.go (chi router + middleware stack) and
// internal/api/websocket.go (Client/Hub register-unregister-ping-pong
// shape), simplified to one *Session per connection since the review
// protocol is a single request/response conversation, not pub/sub
// broadcast.
package review

import "time"

// Frame type tags, one per spec §4.7 message.
const (
	FrameInit              = "init"
	FrameFileResponse      = "file_response"
	FrameDirectoryContents = "directory_contents"
	FrameProgress          = "progress"
	FrameComplete          = "complete"
	FrameCancelled         = "cancelled"
	FrameError             = "error"
	FrameUploadState       = "upload_state"

	RequestFile      = "file_request"
	RequestExpandDir = "expand_directory"
	RequestConfirm   = "confirm"
	RequestCancel    = "cancel"
	RequestSwitch    = "switch_target"
)

// FileRequestType selects which side(s) of a diff a file_request wants.
type FileRequestType string

const (
	RequestGit    FileRequestType = "git"
	RequestRemote FileRequestType = "remote"
	RequestBoth   FileRequestType = "both"
)

// UploadButtonState reflects the state machine named in spec §4.7.
type UploadButtonState string

const (
	ButtonChecking        UploadButtonState = "checking"
	ButtonNoChanges       UploadButtonState = "no_changes"
	ButtonConnectionError UploadButtonState = "connection_error"
	ButtonEnabled         UploadButtonState = "enabled"
)

// CancelReason distinguishes an explicit user cancel from a dropped
// connection, both of which resolve the confirm/cancel promise.
type CancelReason string

const (
	CancelUser       CancelReason = "user_cancel"
	CancelConnection CancelReason = "connection_closed"
)

// ClientMessage is the envelope every client→server frame is decoded
// into; only the fields relevant to Type are populated.
type ClientMessage struct {
	Type         string          `json:"type"`
	Path         string          `json:"path,omitempty"`
	RequestType  FileRequestType `json:"requestType,omitempty"`
	TargetIndex  int             `json:"targetIndex,omitempty"`
}

// ServerMessage is the envelope every server→client frame is encoded
// from. Only the field matching Type is marshaled by omitempty.
type ServerMessage struct {
	Type string `json:"type"`

	// init
	Base              string             `json:"base,omitempty"`
	Target            string             `json:"target,omitempty"`
	DiffMode          string             `json:"diffMode,omitempty"`
	Files             []string           `json:"files,omitempty"`
	Summary           *FileSummary       `json:"summary,omitempty"`
	RemoteTargets     []RemoteTargetInfo `json:"remoteTargets,omitempty"`
	Tree              []TreeNode         `json:"tree,omitempty"`
	LazyLoading       bool               `json:"lazyLoading,omitempty"`
	UploadButtonState UploadButtonState  `json:"uploadButtonState,omitempty"`

	// upload_state, when it carries freshly-probed remote statuses from
	// the initial status pass (spec §4.8) rather than just a bare button
	// transition.
	Statuses map[string]RemoteStatus `json:"statuses,omitempty"`

	// file_response / directory_contents
	Path         string        `json:"path,omitempty"`
	RequestKind  string        `json:"requestType,omitempty"`
	Local        []byte        `json:"local,omitempty"`
	Remote       []byte        `json:"remote,omitempty"`
	RemoteStatus *RemoteStatus `json:"remoteStatus,omitempty"`
	Children     []TreeNode    `json:"children,omitempty"`

	// progress / complete
	Data any `json:"data,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// FileSummary is the init frame's change tally.
type FileSummary struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
	Renamed  int `json:"renamed"`
	Total    int `json:"total"`
}

// RemoteTargetInfo names one configured deployment destination for the
// switch_target control.
type RemoteTargetInfo struct {
	Host string `json:"host"`
	Dest string `json:"dest"`
}

// TreeNode is one entry in the lazily-expandable file tree.
type TreeNode struct {
	Path         string        `json:"path"`
	IsDir        bool          `json:"isDir"`
	Status       string        `json:"status,omitempty"`
	Loaded       bool          `json:"loaded"`
	Children     []TreeNode    `json:"children,omitempty"`
	RemoteStatus *RemoteStatus `json:"remoteStatus,omitempty"`
}

// RemoteStatus accompanies a file_response frame's comparison result.
type RemoteStatus struct {
	Exists     bool `json:"exists"`
	HasChanges bool `json:"hasChanges"`
}

// CompleteSummary is the complete frame's payload.
type CompleteSummary struct {
	SuccessTargets int           `json:"successTargets"`
	FailedTargets  int           `json:"failedTargets"`
	TotalFiles     int           `json:"totalFiles"`
	TotalSize      int64         `json:"totalSize"`
	TotalDuration  time.Duration `json:"totalDuration"`
}

// UploadStateData is the upload_state frame's payload.
type UploadStateData struct {
	Disabled bool   `json:"disabled"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
}

// lazyLoadThreshold matches spec §4.7's "100" example threshold.
const lazyLoadThreshold = 100

// remoteProbeConcurrency bounds lazy-expansion remote-status probing,
// per spec §4.7's "configurable concurrency ≈ 10".
const remoteProbeConcurrency = 10
