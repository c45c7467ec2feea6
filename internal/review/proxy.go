package review

import (
	"context"
	"sync"

	"github.com/ryanoboyle/fleetship/internal/config"
	"github.com/ryanoboyle/fleetship/internal/uploader"
)

// DriverFactory constructs the Driver for one target; review.NewServer
// wires uploader.New by default, tests substitute a fake.
type DriverFactory func(config.TargetConfig) (uploader.Driver, error)

// RemoteDiffProxy wraps a single target's driver in read-only mode for
// the review session's comparisons (C8). It lazy-connects on first use
// and memoizes a connect failure so every subsequent call short-circuits
// instead of retrying a dead connection (spec §4.8).
type RemoteDiffProxy struct {
	target    config.TargetConfig
	newDriver DriverFactory

	mu         sync.Mutex
	driver     uploader.Driver
	connected  bool
	connectErr error
}

// NewRemoteDiffProxy constructs a proxy for target. The driver is not
// created or connected until first use.
func NewRemoteDiffProxy(target config.TargetConfig, newDriver DriverFactory) *RemoteDiffProxy {
	return &RemoteDiffProxy{target: target, newDriver: newDriver}
}

func (p *RemoteDiffProxy) ensureConnected(ctx context.Context) (uploader.Driver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connectErr != nil {
		return nil, p.connectErr
	}
	if p.connected {
		return p.driver, nil
	}

	driver, err := p.newDriver(p.target)
	if err != nil {
		p.connectErr = err
		return nil, err
	}
	if err := driver.Connect(ctx); err != nil {
		p.connectErr = err
		return nil, err
	}
	p.driver = driver
	p.connected = true
	return driver, nil
}

// GetRemoteFileContent fetches path from the remote destination. exists
// is false (with a nil error) when the remote simply has no such file.
func (p *RemoteDiffProxy) GetRemoteFileContent(ctx context.Context, path string) (content []byte, exists bool, err error) {
	driver, err := p.ensureConnected(ctx)
	if err != nil {
		return nil, false, err
	}

	rc, err := driver.ReadFile(ctx, path)
	if err != nil {
		return nil, false, err
	}
	if rc == nil {
		return nil, false, nil
	}
	return rc.Content, true, nil
}

// TryFastDiff asks the underlying driver for a server-side comparison in
// one round-trip when it supports uploader.DiffProber (rsync only). ok is
// false when the driver lacks the capability; callers fall back to
// per-file probing via GetRemoteFileContent.
func (p *RemoteDiffProxy) TryFastDiff(ctx context.Context, localDir string, files []string, opts uploader.DiffOptions) (diff *uploader.RemoteDiff, ok bool, err error) {
	driver, err := p.ensureConnected(ctx)
	if err != nil {
		return nil, false, err
	}

	prober, ok := uploader.HasDiff(driver)
	if !ok {
		return nil, false, nil
	}

	diff, err = prober.GetDiff(ctx, localDir, files, opts)
	if err != nil {
		return nil, true, err
	}
	return diff, true, nil
}

// Disconnect releases the underlying connection, if one was ever made.
// Called before the real upload fan-out starts (spec §4.1 "exclusivity")
// and on switch_target.
func (p *RemoteDiffProxy) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return nil
	}
	err := p.driver.Disconnect()
	p.connected = false
	p.driver = nil
	return err
}
