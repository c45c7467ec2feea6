package uploader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ryanoboyle/fleetship/internal/config"
)

// containsPair reports whether opts contains flag immediately followed by
// value, the shape every -o/-p/-i pair in sshOptions takes.
func containsPair(opts []string, flag, value string) bool {
	for i := 0; i+1 < len(opts); i++ {
		if opts[i] == flag && opts[i+1] == value {
			return true
		}
	}
	return false
}

func TestSSHOptions_KeyAuthIncludesBatchModeAndKeyFile(t *testing.T) {
	target := config.TargetConfig{
		Host:    "example.com",
		Port:    2222,
		Auth:    config.AuthKeyFile,
		KeyFile: "/home/user/.ssh/id_ed25519",
		Timeout: 5 * time.Second,
	}

	opts := sshOptions(target, "-p")

	assert.Contains(t, opts, "BatchMode=yes")
	assert.Contains(t, opts, "ConnectTimeout=5")
	assert.True(t, containsPair(opts, "-p", "2222"), "expected -p 2222 in %v", opts)
	assert.True(t, containsPair(opts, "-i", "/home/user/.ssh/id_ed25519"), "expected -i keyfile in %v", opts)
}

func TestSSHOptions_PasswordAuthOmitsBatchModeAndKeyFile(t *testing.T) {
	target := config.TargetConfig{
		Host:     "example.com",
		Auth:     config.AuthPassword,
		Password: "hunter2",
	}

	opts := sshOptions(target, "-p")

	assert.NotContains(t, opts, "BatchMode=yes")
	assert.NotContains(t, opts, "-i")
}

func TestSSHOptions_DefaultsConnectTimeoutWhenUnset(t *testing.T) {
	opts := sshOptions(config.TargetConfig{Host: "example.com"}, "-p")
	assert.Contains(t, opts, "ConnectTimeout=10")
}

func TestSSHOptions_OmitsPortFlagWhenPortIsZero(t *testing.T) {
	opts := sshOptions(config.TargetConfig{Host: "example.com"}, "-p")
	assert.NotContains(t, opts, "-p")
}

func TestSSHOptions_LegacyModeWidensAlgorithms(t *testing.T) {
	target := config.TargetConfig{
		Host:            "old-box",
		ProtocolOptions: map[string]any{"legacyMode": true},
	}

	opts := sshOptions(target, "-p")

	found := false
	for _, o := range opts {
		if o == "KexAlgorithms=+diffie-hellman-group-exchange-sha1,diffie-hellman-group14-sha1,diffie-hellman-group1-sha1" {
			found = true
		}
	}
	assert.True(t, found, "expected legacy KexAlgorithms widening, got %v", opts)
}

func TestLegacyMode(t *testing.T) {
	assert.False(t, legacyMode(config.TargetConfig{}))
	assert.False(t, legacyMode(config.TargetConfig{ProtocolOptions: map[string]any{"legacyMode": "yes"}}))
	assert.True(t, legacyMode(config.TargetConfig{ProtocolOptions: map[string]any{"legacyMode": true}}))
}

func TestProtocolOptionString(t *testing.T) {
	target := config.TargetConfig{ProtocolOptions: map[string]any{"rsyncPath": "/usr/bin/rsync", "extra": 5}}

	assert.Equal(t, "/usr/bin/rsync", protocolOptionString(target, "rsyncPath"))
	assert.Equal(t, "", protocolOptionString(target, "missing"))
	assert.Equal(t, "", protocolOptionString(target, "extra")) // wrong type, not a string
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "plain", shellQuote("plain"))
	assert.Equal(t, "'has space'", shellQuote("has space"))
	assert.Equal(t, "'$(rm -rf /)'", shellQuote("$(rm -rf /)"))
}

func TestSSHCommandString_RendersQuotedSSHInvocation(t *testing.T) {
	target := config.TargetConfig{Host: "example.com", Auth: config.AuthKeyFile, KeyFile: "/key with space"}

	cmd := sshCommandString(target)

	assert.Contains(t, cmd, "ssh")
	assert.Contains(t, cmd, "'/key with space'")
}

func TestWithSSHPass_KeyAuthLeavesCommandUnchanged(t *testing.T) {
	target := config.TargetConfig{Auth: config.AuthKeyFile}
	name, args := withSSHPass(target, "rsync", []string{"-a"})
	assert.Equal(t, "rsync", name)
	assert.Equal(t, []string{"-a"}, args)
}

func TestWithSSHPass_PasswordAuthWithoutSSHPassBinaryLeavesCommandUnchanged(t *testing.T) {
	// sshpass is not expected to be installed in the sandboxed test
	// environment, so this exercises the exec.LookPath failure branch.
	target := config.TargetConfig{Auth: config.AuthPassword, Password: "hunter2"}
	name, args := withSSHPass(target, "rsync", []string{"-a"})
	assert.Equal(t, "rsync", name)
	assert.Equal(t, []string{"-a"}, args)
}
