package review

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanoboyle/fleetship/internal/config"
	"github.com/ryanoboyle/fleetship/internal/uploader"
)

type fakeSessionDriver struct {
	files map[string][]byte
}

func (d *fakeSessionDriver) Connect(ctx context.Context) error { return nil }
func (d *fakeSessionDriver) Disconnect() error                 { return nil }
func (d *fakeSessionDriver) Mkdir(ctx context.Context, p string) error { return nil }
func (d *fakeSessionDriver) Upload(ctx context.Context, f uploader.UploadFile, relPath string, onProgress uploader.ProgressFunc) error {
	return nil
}
func (d *fakeSessionDriver) Delete(ctx context.Context, relPath string) error { return nil }
func (d *fakeSessionDriver) ReadFile(ctx context.Context, relPath string) (*uploader.RemoteFileContent, error) {
	content, ok := d.files[relPath]
	if !ok {
		return nil, nil
	}
	return &uploader.RemoteFileContent{Content: content, Size: int64(len(content))}, nil
}

// connectErrDriver always fails to connect, exercising the
// connection_error button transition.
type connectErrDriver struct {
	err error
}

func (d *connectErrDriver) Connect(ctx context.Context) error                 { return d.err }
func (d *connectErrDriver) Disconnect() error                                 { return nil }
func (d *connectErrDriver) Mkdir(ctx context.Context, p string) error         { return nil }
func (d *connectErrDriver) Delete(ctx context.Context, relPath string) error  { return nil }
func (d *connectErrDriver) Upload(ctx context.Context, f uploader.UploadFile, relPath string, onProgress uploader.ProgressFunc) error {
	return nil
}
func (d *connectErrDriver) ReadFile(ctx context.Context, relPath string) (*uploader.RemoteFileContent, error) {
	return nil, nil
}

// diffProbingDriver additionally satisfies uploader.DiffProber, exercising
// RemoteDiffProxy.TryFastDiff's one-round-trip path.
type diffProbingDriver struct {
	fakeSessionDriver
	diff *uploader.RemoteDiff
}

func (d *diffProbingDriver) GetDiff(ctx context.Context, localDir string, files []string, opts uploader.DiffOptions) (*uploader.RemoteDiff, error) {
	return d.diff, nil
}

type fakeDiffProvider struct {
	local map[string][]byte
}

func (p *fakeDiffProvider) Collect(base, target string) (*DiffSet, error) { return nil, nil }
func (p *fakeDiffProvider) ReadBlob(ref, path string) ([]byte, error)     { return nil, nil }
func (p *fakeDiffProvider) ReadLocal(path string) ([]byte, error)         { return p.local[path], nil }

func newTestServer(diff *DiffSet) (*Server, *httptest.Server) {
	driver := &fakeSessionDriver{files: map[string][]byte{"index.html": []byte("remote-content")}}
	return newTestServerWithDriver(diff, driver)
}

func newTestServerWithDriver(diff *DiffSet, driver uploader.Driver) (*Server, *httptest.Server) {
	provider := &fakeDiffProvider{local: map[string][]byte{"index.html": []byte("local-content")}}
	targets := []config.TargetConfig{{Host: "web-1", Dest: "/srv/app"}}

	srv := NewServer(0, diff, provider, targets, func(config.TargetConfig) (uploader.Driver, error) { return driver, nil }, nil, "/local/app")
	ts := httptest.NewServer(srv.router)
	return srv, ts
}

// readFrame reads frames off conn until one of type want arrives,
// skipping any others (e.g. the initial status pass's upload_state
// frame, which can land before or after a test's frame of interest).
func readFrame(t *testing.T, conn *websocket.Conn, want string) ServerMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		var msg ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == want {
			return msg
		}
	}
	t.Fatalf("never saw frame of type %q", want)
	return ServerMessage{}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestServer_SendsInitOnConnect(t *testing.T) {
	diff := &DiffSet{Files: []DiffFile{{Path: "index.html", Status: "M"}}, Modified: 1, Base: "main", Target: "working-tree"}
	_, ts := newTestServer(diff)
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, FrameInit, msg.Type)
	assert.Equal(t, []string{"index.html"}, msg.Files)
	assert.False(t, msg.LazyLoading)
	assert.Equal(t, ButtonChecking, msg.UploadButtonState) // a remote target is configured, so init defers to the status pass

	resolved := readFrame(t, conn, FrameUploadState)
	assert.Equal(t, ButtonEnabled, resolved.UploadButtonState)
}

func TestServer_FileRequestBothReturnsLocalAndRemote(t *testing.T) {
	diff := &DiffSet{Files: []DiffFile{{Path: "index.html", Status: "M"}}, Modified: 1}
	_, ts := newTestServer(diff)
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	var init ServerMessage
	require.NoError(t, conn.ReadJSON(&init))

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: RequestFile, Path: "index.html", RequestType: RequestBoth}))

	resp := readFrame(t, conn, FrameFileResponse)
	assert.Equal(t, "local-content", string(resp.Local))
	assert.Equal(t, "remote-content", string(resp.Remote))
	require.NotNil(t, resp.RemoteStatus)
	assert.True(t, resp.RemoteStatus.Exists)
	assert.True(t, resp.RemoteStatus.HasChanges)
}

func TestServer_ConfirmEndsSessionAsConfirmed(t *testing.T) {
	diff := &DiffSet{Files: []DiffFile{{Path: "index.html", Status: "M"}}, Modified: 1}
	srv, ts := newTestServer(diff)
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	var init ServerMessage
	require.NoError(t, conn.ReadJSON(&init))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: RequestConfirm}))

	select {
	case res := <-srv.results:
		require.NoError(t, res.err)
		assert.True(t, res.result.Confirmed)
		assert.Equal(t, []string{"index.html"}, res.result.ChangedFiles)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session result")
	}
}

func TestServer_CancelResolvesUnconfirmed(t *testing.T) {
	diff := &DiffSet{Files: []DiffFile{{Path: "index.html", Status: "M"}}, Modified: 1}
	srv, ts := newTestServer(diff)
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	var init ServerMessage
	require.NoError(t, conn.ReadJSON(&init))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: RequestCancel}))

	cancelled := readFrame(t, conn, FrameCancelled)
	assert.Equal(t, FrameCancelled, cancelled.Type)

	select {
	case res := <-srv.results:
		require.NoError(t, res.err)
		assert.False(t, res.result.Confirmed)
		assert.Equal(t, CancelUser, res.result.CancelReason)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session result")
	}
}

func TestServer_ConnectionDropResolvesAsConnectionClosed(t *testing.T) {
	diff := &DiffSet{Files: []DiffFile{{Path: "index.html", Status: "M"}}, Modified: 1}
	srv, ts := newTestServer(diff)
	defer ts.Close()

	conn := dialWS(t, ts)
	var init ServerMessage
	require.NoError(t, conn.ReadJSON(&init))
	conn.Close()

	select {
	case res := <-srv.results:
		require.NoError(t, res.err)
		assert.False(t, res.result.Confirmed)
		assert.Equal(t, CancelConnection, res.result.CancelReason)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session result")
	}
}

func TestServer_ConnectionFailureSendsConnectionErrorState(t *testing.T) {
	diff := &DiffSet{Files: []DiffFile{{Path: "index.html", Status: "M"}}, Modified: 1}
	driver := &connectErrDriver{err: errors.New("dial tcp 10.0.0.5:22: connection refused")}
	_, ts := newTestServerWithDriver(diff, driver)
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	var init ServerMessage
	require.NoError(t, conn.ReadJSON(&init))
	assert.Equal(t, ButtonChecking, init.UploadButtonState)

	errFrame := readFrame(t, conn, FrameError)
	assert.NotEmpty(t, errFrame.Message)

	stateFrame := readFrame(t, conn, FrameUploadState)
	assert.Equal(t, ButtonConnectionError, stateFrame.UploadButtonState)
}

func TestServer_FastDiffDeliversStatusesWithoutPerFileProbing(t *testing.T) {
	diff := &DiffSet{
		Files:    []DiffFile{{Path: "index.html", Status: "M"}, {Path: "new.html", Status: "A"}},
		Modified: 1,
		Added:    1,
	}
	driver := &diffProbingDriver{
		fakeSessionDriver: fakeSessionDriver{files: map[string][]byte{"index.html": []byte("remote-content")}},
		diff: &uploader.RemoteDiff{
			Entries: []uploader.DiffEntry{
				{Path: "index.html", Status: uploader.DiffModified},
				{Path: "new.html", Status: uploader.DiffAdded},
			},
			Modified: 1,
			Added:    1,
		},
	}
	_, ts := newTestServerWithDriver(diff, driver)
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	var init ServerMessage
	require.NoError(t, conn.ReadJSON(&init))

	resolved := readFrame(t, conn, FrameUploadState)
	assert.Equal(t, ButtonEnabled, resolved.UploadButtonState)
	require.Len(t, resolved.Statuses, 2)
	assert.True(t, resolved.Statuses["index.html"].Exists)
	assert.True(t, resolved.Statuses["index.html"].HasChanges)
	assert.False(t, resolved.Statuses["new.html"].Exists)
}
