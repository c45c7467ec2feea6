package uploader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/ryanoboyle/fleetship/internal/config"
	"github.com/ryanoboyle/fleetship/pkg/logging"
	"github.com/ryanoboyle/fleetship/pkg/progress"
	"github.com/ryanoboyle/fleetship/pkg/retry"
)

// defaultCiphers restricts algorithm negotiation to AES-CTR by default
// (spec §4.1); legacyMode widens this list to interoperate with
// pre-OpenSSH-8 servers.
var defaultCiphers = []string{"aes128-ctr", "aes192-ctr", "aes256-ctr"}

var legacyKexAlgos = []string{
	"diffie-hellman-group-exchange-sha1",
	"diffie-hellman-group14-sha1",
	"diffie-hellman-group1-sha1",
}

var legacyHostKeyAlgos = []string{"ssh-rsa", "ssh-dss"}

var legacyCiphers = []string{"aes128-cbc", "3des-cbc"}

var legacyHMACs = []string{"hmac-sha1", "hmac-sha1-96"}

// SFTPDriver uses an embedded SSH+SFTP library. Grounded in
// other_examples/tphakala-birdnet-go's SFTPTarget: connection shape,
// progress-wrapped reader, and transient-error retry classification.
type SFTPDriver struct {
	target config.TargetConfig

	sshConn *ssh.Client
	client  *sftp.Client

	mu      sync.Mutex
	created map[string]bool
}

// NewSFTPDriver constructs an SFTP driver for target.
func NewSFTPDriver(target config.TargetConfig) *SFTPDriver {
	return &SFTPDriver{target: target, created: make(map[string]bool)}
}

func (d *SFTPDriver) Connect(ctx context.Context) error {
	op := func() error {
		cfg, err := d.clientConfig()
		if err != nil {
			return &AuthError{Target: d.target.Host, Err: err}
		}

		addr := net.JoinHostPort(d.target.Host, strconv.Itoa(port(d.target)))
		dialer := net.Dialer{Timeout: d.timeout()}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return &ConnectionError{Target: d.target.Host, Err: err}
		}

		sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		if err != nil {
			conn.Close()
			if isAuthFailure(err) {
				return &AuthError{Target: d.target.Host, Err: err}
			}
			return &ConnectionError{Target: d.target.Host, Err: err}
		}

		client := ssh.NewClient(sshConn, chans, reqs)
		sftpClient, err := sftp.NewClient(client)
		if err != nil {
			client.Close()
			return &ConnectionError{Target: d.target.Host, Err: err}
		}

		d.sshConn = client
		d.client = sftpClient
		return nil
	}

	isRetryable := func(err error) bool {
		var authErr *AuthError
		return !errors.As(err, &authErr)
	}

	retryCfg := &retry.Config{
		MaxAttempts: maxAttempts(d.target.Retry),
		InitialWait: time.Second,
		MaxWait:     30 * time.Second,
		Multiplier:  2.0,
	}
	return retry.Do(ctx, retryCfg, isRetryable, op)
}

func (d *SFTPDriver) clientConfig() (*ssh.ClientConfig, error) {
	cfg := &ssh.ClientConfig{
		User:    d.target.User,
		Timeout: d.timeout(),
	}

	cfg.Config.Ciphers = append([]string{}, defaultCiphers...)
	if legacyMode(d.target) {
		cfg.Config.Ciphers = append(cfg.Config.Ciphers, legacyCiphers...)
		cfg.Config.KeyExchanges = append(cfg.Config.KeyExchanges, legacyKexAlgos...)
		cfg.Config.MACs = append(cfg.Config.MACs, legacyHMACs...)
		cfg.HostKeyAlgorithms = append(cfg.HostKeyAlgorithms, legacyHostKeyAlgos...)
	}

	switch d.target.Auth {
	case config.AuthKeyFile:
		key, err := os.ReadFile(d.target.KeyFile)
		if err != nil {
			return nil, err
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, err
		}
		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case config.AuthPassword:
		cfg.Auth = []ssh.AuthMethod{ssh.Password(d.target.Password)}
	default:
		return nil, fmt.Errorf("no authentication method configured")
	}

	if knownHostsFile := protocolOptionString(d.target, "knownHostsFile"); knownHostsFile != "" {
		callback, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, err
		}
		cfg.HostKeyCallback = callback
	} else {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return cfg, nil
}

func (d *SFTPDriver) Disconnect() error {
	if d.client != nil {
		if err := d.client.Close(); err != nil {
			logging.Logger().Warn("sftp client close failed", logging.Target(d.target.Host), logging.Err(err))
		}
	}
	if d.sshConn != nil {
		if err := d.sshConn.Close(); err != nil {
			logging.Logger().Warn("ssh connection close failed", logging.Target(d.target.Host), logging.Err(err))
		}
	}
	return nil
}

func (d *SFTPDriver) Mkdir(ctx context.Context, relPath string) error {
	d.mu.Lock()
	if d.created[relPath] {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	full := d.resolve(relPath)
	if err := d.client.MkdirAll(full); err != nil {
		if !isAlreadyExists(err) {
			return &PermissionError{Path: relPath, Op: "mkdir", Err: err}
		}
	}

	d.mu.Lock()
	d.created[relPath] = true
	d.mu.Unlock()
	return nil
}

func (d *SFTPDriver) Upload(ctx context.Context, file UploadFile, relPath string, onProgress ProgressFunc) error {
	if file.IsDirectory {
		if onProgress != nil {
			onProgress(0, 0)
		}
		return d.Mkdir(ctx, relPath)
	}

	if err := d.Mkdir(ctx, path.Dir(relPath)); err != nil {
		return err
	}

	src, err := openUploadSource(file)
	if err != nil {
		return &TransferError{Path: relPath, Err: err}
	}
	defer src.Close()

	full := d.resolve(relPath)
	dst, err := d.client.Create(full)
	if err != nil {
		return &TransferError{Path: relPath, Err: err}
	}
	defer dst.Close()

	if onProgress != nil {
		onProgress(0, file.Size)
	}
	tracked := progress.NewReader(src, file.Size, progress.Callback(onProgress))
	if _, err := dst.ReadFrom(tracked); err != nil {
		return &TransferError{Path: relPath, Err: err}
	}
	if onProgress != nil {
		onProgress(file.Size, file.Size)
	}
	return nil
}

func (d *SFTPDriver) Delete(ctx context.Context, relPath string) error {
	full := d.resolve(relPath)

	if err := d.client.Remove(full); err == nil {
		return nil
	}

	if err := d.client.RemoveDirectory(full); err != nil {
		if isNotExist(err) {
			return nil
		}
		return &TransferError{Path: relPath, Err: err}
	}
	return nil
}

func (d *SFTPDriver) ReadFile(ctx context.Context, relPath string) (*RemoteFileContent, error) {
	full := d.resolve(relPath)
	info, err := d.client.Stat(full)
	if err != nil {
		return nil, nil
	}
	if info.IsDir() {
		return nil, nil
	}

	f, err := d.client.Open(full)
	if err != nil {
		return nil, &TransferError{Path: relPath, Err: err}
	}
	defer f.Close()

	content := make([]byte, info.Size())
	if _, err := f.Read(content); err != nil && info.Size() > 0 {
		return nil, &TransferError{Path: relPath, Err: err}
	}
	return &RemoteFileContent{Content: content, Size: info.Size()}, nil
}

// ListRemoteFiles satisfies RemoteLister.
func (d *SFTPDriver) ListRemoteFiles(ctx context.Context) ([]string, error) {
	walker := d.client.Walk(d.target.Dest)
	var files []string
	for walker.Step() {
		if err := walker.Err(); err != nil {
			continue
		}
		if walker.Stat().IsDir() {
			continue
		}
		rel := strings.TrimPrefix(walker.Path(), d.target.Dest)
		rel = strings.TrimPrefix(rel, "/")
		files = append(files, rel)
	}
	return files, nil
}

func (d *SFTPDriver) resolve(relPath string) string {
	return path.Join(d.target.Dest, relPath)
}

func (d *SFTPDriver) timeout() time.Duration {
	if d.target.Timeout > 0 {
		return d.target.Timeout
	}
	return 30 * time.Second
}

func port(t config.TargetConfig) int {
	if t.Port != 0 {
		return t.Port
	}
	return 22
}

func maxAttempts(retryCount int) int {
	if retryCount <= 0 {
		return 1
	}
	return retryCount
}

func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "exist")
}

func isNotExist(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "no such file") || strings.Contains(lower, "not found") || os.IsNotExist(err)
}

func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unable to authenticate")
}
