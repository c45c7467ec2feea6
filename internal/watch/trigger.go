package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/ryanoboyle/fleetship/pkg/logging"
)

// DeployFunc re-scans localPath and deploys whatever changed. It is
// called with the batch of paths the watcher observed since the last
// quiet period; fleetship's CLI wires this to a full local-scan +
// mirror-plan + fanout.Run invocation rather than per-file deploys,
// since the transports here have no single-file-push primitive that
// wouldn't duplicate the planner's own diffing.
type DeployFunc func(ctx context.Context, changedPaths []string) error

// DeployTrigger watches a local directory and re-runs DeployFunc after a
// quiet period, debounced as a batch rather than per-file (spec §1.3's
// watch-mode supplement). Grounded in the teacher's AutoUploader, but
// retargeted from "upload this one file to B2" to "re-trigger the
// fan-out executor," since fleetship's drivers plan and push a whole
// tree per invocation instead of accepting single-file pushes.
type DeployTrigger struct {
	watcher   *Watcher
	batch     *BatchDebouncer
	localPath string

	mu      sync.Mutex
	running bool

	deploy  DeployFunc
	OnError func(error)
}

// NewDeployTrigger constructs a trigger watching localPath. opts
// defaults the same as NewWatcher when nil.
func NewDeployTrigger(localPath string, deploy DeployFunc, opts *WatcherOptions) (*DeployTrigger, error) {
	if opts == nil {
		opts = DefaultWatcherOptions()
	}

	t := &DeployTrigger{localPath: localPath, deploy: deploy}

	t.batch = NewBatchDebouncer(opts.DebounceDelay, t.runDeploy)
	opts.OnEvent = func(ev Event) { t.batch.Add(ev.Path) }

	watcher, err := NewWatcher(opts)
	if err != nil {
		return nil, err
	}
	t.watcher = watcher
	return t, nil
}

// Start begins watching. The first deploy only happens once the watcher
// observes a change; callers that want an initial deploy should run one
// themselves before calling Start.
func (t *DeployTrigger) Start(ctx context.Context) error {
	return t.watcher.Watch(ctx, t.localPath)
}

// Stop halts watching and cancels any pending debounced batch.
func (t *DeployTrigger) Stop() {
	t.batch.Cancel()
	t.watcher.Stop()
}

func (t *DeployTrigger) runDeploy(paths []string) {
	// One deploy runs at a time; a batch that lands mid-deploy is folded
	// into the next one by BatchDebouncer's own accumulation, not lost,
	// since Add keeps collecting into a fresh batch while this one runs.
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		for _, p := range paths {
			t.batch.Add(p)
		}
		return
	}
	t.running = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	}()

	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, filepath.ToSlash(p))
		}
	}

	if err := t.deploy(context.Background(), existing); err != nil {
		if t.OnError != nil {
			t.OnError(err)
		} else {
			logging.Logger().Error("watch: deploy failed", logging.Err(err))
		}
	}
}
