package review

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc/pool"

	"github.com/ryanoboyle/fleetship/internal/config"
	"github.com/ryanoboyle/fleetship/internal/uploader"
	apperrors "github.com/ryanoboyle/fleetship/pkg/errors"
)

// Keepalive timings, carried over verbatim from the teacher's
// internal/api/websocket.go readPump/writePump.
const (
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
)

// ConfirmResult is what Session.Run returns once the browser resolves
// the review: either a committed upload (with a controller for relaying
// progress back over the still-open channel) or an abort.
type ConfirmResult struct {
	Confirmed          bool
	CancelReason        CancelReason
	ProgressController *ProgressController
	ChangedFiles       []string
}

// Session drives one review connection end to end: send init, answer
// file_request/expand_directory/switch_target, and block until the
// client confirms, cancels, or disconnects. One review has exactly one
// client, so — unlike the teacher's broadcast WebSocketHub — there is no
// registry here, just this struct (spec §4.7).
type Session struct {
	conn      *websocket.Conn
	diff      *DiffSet
	provider  DiffProvider
	targets   []config.TargetConfig
	newDriver DriverFactory
	localDir  string

	writeMu sync.Mutex
	proxy   *RemoteDiffProxy
}

// NewSession constructs a review session bound to one already-upgraded
// WebSocket connection. proxy compares against targets[0] by default;
// switch_target re-points it. localDir is the absolute local tree root,
// passed to RemoteDiffProxy.TryFastDiff during the initial status pass.
func NewSession(conn *websocket.Conn, diff *DiffSet, provider DiffProvider, targets []config.TargetConfig, newDriver DriverFactory, localDir string) *Session {
	var proxy *RemoteDiffProxy
	if len(targets) > 0 {
		proxy = NewRemoteDiffProxy(targets[0], newDriver)
	}
	return &Session{
		conn:      conn,
		diff:      diff,
		provider:  provider,
		targets:   targets,
		newDriver: newDriver,
		localDir:  localDir,
		proxy:     proxy,
	}
}

// Run sends the init frame, then services requests until the client
// confirms, cancels, or the connection drops. It never returns a non-nil
// error for a dropped connection — that resolves as a cancellation per
// spec §4.7 — only for a failure to send the initial frame.
func (s *Session) Run(ctx context.Context) (*ConfirmResult, error) {
	if err := s.sendInit(); err != nil {
		return nil, fmt.Errorf("review: send init: %w", err)
	}
	go s.runInitialStatusPass(ctx)

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(done)

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if s.proxy != nil {
				_ = s.proxy.Disconnect()
			}
			return &ConfirmResult{Confirmed: false, CancelReason: CancelConnection}, nil
		}

		switch msg.Type {
		case RequestFile:
			if err := s.handleFileRequest(ctx, msg); err != nil {
				_ = s.sendError(apperrors.Sanitize(err))
			}
		case RequestExpandDir:
			if err := s.handleExpandDirectory(ctx, msg); err != nil {
				_ = s.sendError(apperrors.Sanitize(err))
			}
		case RequestSwitch:
			if err := s.handleSwitchTarget(ctx, msg); err != nil {
				_ = s.sendError(apperrors.Sanitize(err))
			}
		case RequestConfirm:
			return s.handleConfirm(), nil
		case RequestCancel:
			_ = s.sendFrame(ServerMessage{Type: FrameCancelled})
			if s.proxy != nil {
				_ = s.proxy.Disconnect()
			}
			return &ConfirmResult{Confirmed: false, CancelReason: CancelUser}, nil
		default:
			_ = s.sendError(fmt.Sprintf("unknown request type %q", msg.Type))
		}
	}
}

func (s *Session) sendInit() error {
	lazy := len(s.diff.Files) > lazyLoadThreshold
	tree := buildFullTree(s.diff.Files)
	if lazy {
		tree = levelNodes(s.diff.Files, "")
	}

	files := make([]string, len(s.diff.Files))
	for i, f := range s.diff.Files {
		files[i] = f.Path
	}

	remoteTargets := make([]RemoteTargetInfo, len(s.targets))
	for i, t := range s.targets {
		remoteTargets[i] = RemoteTargetInfo{Host: t.Host, Dest: t.Dest}
	}

	buttonState := ButtonEnabled
	switch {
	case len(s.diff.Files) == 0:
		buttonState = ButtonNoChanges
	case s.proxy != nil:
		// The initial status pass (runInitialStatusPass) hasn't run yet;
		// it resolves this to enabled or connection_error once it does.
		buttonState = ButtonChecking
	}

	return s.sendFrame(ServerMessage{
		Type:              FrameInit,
		Base:              s.diff.Base,
		Target:            s.diff.Target,
		DiffMode:          "git",
		Files:             files,
		Summary:           &FileSummary{Added: s.diff.Added, Modified: s.diff.Modified, Deleted: s.diff.Deleted, Renamed: s.diff.Renamed, Total: len(s.diff.Files)},
		RemoteTargets:     remoteTargets,
		Tree:              tree,
		LazyLoading:       lazy,
		UploadButtonState: buttonState,
	})
}

func (s *Session) handleFileRequest(ctx context.Context, msg ClientMessage) error {
	resp := ServerMessage{Type: FrameFileResponse, Path: msg.Path, RequestKind: string(msg.RequestType)}

	if msg.RequestType == RequestGit || msg.RequestType == RequestBoth {
		local, err := s.provider.ReadLocal(msg.Path)
		if err != nil {
			return err
		}
		resp.Local = local
	}

	if msg.RequestType == RequestRemote || msg.RequestType == RequestBoth {
		if s.proxy == nil {
			return fmt.Errorf("no remote target configured")
		}
		content, exists, err := s.proxy.GetRemoteFileContent(ctx, msg.Path)
		if err != nil {
			// A failed remote probe means the connection itself is bad,
			// not just this one file; flip the button rather than quietly
			// reporting the file as absent (spec §4.7/§4.8).
			s.sendConnectionErrorState(apperrors.Sanitize(err))
			return err
		}
		resp.Remote = content
		resp.RemoteStatus = &RemoteStatus{Exists: exists, HasChanges: exists && !bytes.Equal(resp.Local, content)}
	}

	return s.sendFrame(resp)
}

// sendConnectionErrorState flips the upload button to connection_error,
// with reason "connection_error" and message in the state's own
// message field so a client can render it without a separate error
// frame if it chooses to.
func (s *Session) sendConnectionErrorState(message string) {
	_ = s.sendFrame(ServerMessage{
		Type:              FrameUploadState,
		UploadButtonState: ButtonConnectionError,
		Data:              UploadStateData{Disabled: true, Reason: "connection_error", Message: message},
	})
}

// runInitialStatusPass probes every changed file's remote status once,
// right after init, preferring RemoteDiffProxy.TryFastDiff's single
// round-trip (spec §4.8) and falling back to bounded per-file probing
// when the driver lacks that capability. It resolves the upload button
// from checking to either enabled or connection_error (spec §4.7).
func (s *Session) runInitialStatusPass(ctx context.Context) {
	if s.proxy == nil || len(s.diff.Files) == 0 {
		return
	}

	paths := make([]string, len(s.diff.Files))
	for i, f := range s.diff.Files {
		paths[i] = f.Path
	}

	diff, ok, err := s.proxy.TryFastDiff(ctx, s.localDir, paths, uploader.DiffOptions{})
	if err != nil {
		message := apperrors.Sanitize(err)
		_ = s.sendError(message)
		s.sendConnectionErrorState(message)
		return
	}

	var statuses map[string]RemoteStatus
	if ok {
		statuses = remoteStatusesFromDiff(diff, paths)
	} else {
		statuses = s.probePaths(ctx, paths)
	}

	_ = s.sendFrame(ServerMessage{Type: FrameUploadState, UploadButtonState: ButtonEnabled, Statuses: statuses})
}

// probePaths fetches remote status for each of paths, bounded to
// remoteProbeConcurrency concurrent probes via conc/pool (spec §4.7
// "Lazy loading"). A probe failure for one path simply leaves it absent
// from the result instead of aborting the whole pass.
func (s *Session) probePaths(ctx context.Context, paths []string) map[string]RemoteStatus {
	var mu sync.Mutex
	statuses := make(map[string]RemoteStatus, len(paths))

	p := pool.New().WithContext(ctx).WithMaxGoroutines(remoteProbeConcurrency)
	for _, path := range paths {
		path := path
		p.Go(func(ctx context.Context) error {
			content, exists, err := s.proxy.GetRemoteFileContent(ctx, path)
			if err != nil {
				return nil
			}
			st := RemoteStatus{Exists: exists}
			if exists {
				local, _ := s.provider.ReadLocal(path)
				st.HasChanges = !bytes.Equal(local, content)
			}
			mu.Lock()
			statuses[path] = st
			mu.Unlock()
			return nil
		})
	}
	_ = p.Wait()
	return statuses
}

// remoteStatusesFromDiff converts a TryFastDiff result into a per-path
// RemoteStatus map covering every path asked about, not just the ones
// the driver reported as changed (an untouched file is still "exists,
// unchanged").
func remoteStatusesFromDiff(diff *uploader.RemoteDiff, paths []string) map[string]RemoteStatus {
	statuses := make(map[string]RemoteStatus, len(paths))
	for _, p := range paths {
		statuses[p] = RemoteStatus{Exists: true}
	}
	for _, entry := range diff.Entries {
		switch entry.Status {
		case uploader.DiffAdded:
			statuses[entry.Path] = RemoteStatus{Exists: false}
		case uploader.DiffModified:
			statuses[entry.Path] = RemoteStatus{Exists: true, HasChanges: true}
		case uploader.DiffDeleted:
			// remote-only entry; not one of the local paths being probed.
		}
	}
	return statuses
}

// handleExpandDirectory computes the direct children of msg.Path and
// probes remote status for every visible file via the same bounded
// probePaths helper the initial status pass uses (spec §4.7 "Lazy
// loading").
func (s *Session) handleExpandDirectory(ctx context.Context, msg ClientMessage) error {
	children := levelNodes(s.diff.Files, msg.Path)

	if s.proxy != nil {
		var paths []string
		for _, c := range children {
			if !c.IsDir {
				paths = append(paths, c.Path)
			}
		}
		statuses := s.probePaths(ctx, paths)
		for i := range children {
			if st, ok := statuses[children[i].Path]; ok {
				st := st
				children[i].RemoteStatus = &st
			}
		}
	}

	return s.sendFrame(ServerMessage{Type: FrameDirectoryContents, Path: msg.Path, Children: children})
}

func (s *Session) handleSwitchTarget(ctx context.Context, msg ClientMessage) error {
	if msg.TargetIndex < 0 || msg.TargetIndex >= len(s.targets) {
		return fmt.Errorf("target index %d out of range", msg.TargetIndex)
	}
	if s.proxy != nil {
		_ = s.proxy.Disconnect()
	}
	s.proxy = NewRemoteDiffProxy(s.targets[msg.TargetIndex], s.newDriver)

	if len(s.diff.Files) == 0 {
		return s.sendFrame(ServerMessage{Type: FrameUploadState, UploadButtonState: ButtonNoChanges})
	}

	if err := s.sendFrame(ServerMessage{Type: FrameUploadState, UploadButtonState: ButtonChecking}); err != nil {
		return err
	}
	go s.runInitialStatusPass(ctx)
	return nil
}

// handleConfirm disconnects the read-only proxy to free the connection
// before the real upload connects, then hands the caller a controller
// bound to this still-open channel (spec §4.7 "Confirm path").
func (s *Session) handleConfirm() *ConfirmResult {
	if s.proxy != nil {
		_ = s.proxy.Disconnect()
	}

	changed := make([]string, len(s.diff.Files))
	for i, f := range s.diff.Files {
		changed[i] = f.Path
	}

	return &ConfirmResult{
		Confirmed:          true,
		ProgressController: &ProgressController{session: s},
		ChangedFiles:       changed,
	}
}

func (s *Session) sendFrame(msg ServerMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

func (s *Session) sendError(message string) error {
	return s.sendFrame(ServerMessage{Type: FrameError, Message: message})
}

func (s *Session) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// ProgressController is returned to the caller on confirm, exposing the
// still-open channel for relaying the real upload's progress (spec §4.7:
// "the server itself does not perform the upload").
type ProgressController struct {
	session *Session
}

// SendProgress relays one fanout/pipeline progress event.
func (c *ProgressController) SendProgress(event any) error {
	return c.session.sendFrame(ServerMessage{Type: FrameProgress, Data: event})
}

// SendComplete relays the final aggregate result.
func (c *ProgressController) SendComplete(summary CompleteSummary) error {
	return c.session.sendFrame(ServerMessage{Type: FrameComplete, Data: summary})
}

// SendError relays an out-of-band failure, sanitized the same way
// in-session errors are before reaching the browser.
func (c *ProgressController) SendError(message string) error {
	return c.session.sendError(apperrors.Sanitize(errors.New(message)))
}

// Close ends the underlying connection.
func (c *ProgressController) Close() error {
	return c.session.conn.Close()
}
