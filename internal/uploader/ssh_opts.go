package uploader

import (
	"fmt"
	"os/exec"

	"github.com/ryanoboyle/fleetship/internal/config"
)

// sshOptions builds the shared `-o`/`-p`/`-i` option list that ssh, scp,
// and rsync's `-e` argument all share, in the exact order spec §6
// specifies:
//
//	-o BatchMode=yes (omitted when a password is supplied)
//	-o StrictHostKeyChecking=accept-new
//	-o ConnectTimeout=<seconds>
//	-p <port>     (scp uses -P instead)
//	-i <keyFile>  (when key auth is configured)
//	legacy algorithm widening, when legacyMode is set
func sshOptions(t config.TargetConfig, portFlag string) []string {
	var opts []string

	if t.Auth != config.AuthPassword {
		opts = append(opts, "-o", "BatchMode=yes")
	}
	opts = append(opts, "-o", "StrictHostKeyChecking=accept-new")

	timeoutSeconds := int(t.Timeout.Seconds())
	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}
	opts = append(opts, "-o", fmt.Sprintf("ConnectTimeout=%d", timeoutSeconds))

	if t.Port != 0 {
		opts = append(opts, portFlag, fmt.Sprintf("%d", t.Port))
	}

	if t.Auth == config.AuthKeyFile && t.KeyFile != "" {
		opts = append(opts, "-i", t.KeyFile)
	}

	if legacyMode(t) {
		opts = append(opts,
			"-o", "KexAlgorithms=+diffie-hellman-group-exchange-sha1,diffie-hellman-group14-sha1,diffie-hellman-group1-sha1",
			"-o", "HostKeyAlgorithms=+ssh-rsa,ssh-dss",
			"-o", "PubkeyAcceptedAlgorithms=+ssh-rsa",
		)
	}

	return opts
}

func legacyMode(t config.TargetConfig) bool {
	v, ok := t.ProtocolOptions["legacyMode"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func protocolOptionString(t config.TargetConfig, key string) string {
	v, ok := t.ProtocolOptions[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// sshCommandString renders the ssh invocation used as rsync's `-e`
// argument or as the SCP driver's auxiliary mkdir/rm/cat channel.
func sshCommandString(t config.TargetConfig) string {
	args := append([]string{"ssh"}, sshOptions(t, "-p")...)
	cmd := ""
	for i, a := range args {
		if i > 0 {
			cmd += " "
		}
		cmd += shellQuote(a)
	}
	return cmd
}

func shellQuote(s string) string {
	needsQuote := false
	for _, r := range s {
		if r == ' ' || r == '"' || r == '\'' || r == '$' || r == '`' {
			needsQuote = true
			break
		}
	}
	if !needsQuote {
		return s
	}
	return "'" + s + "'"
}

// withSSHPass wraps cmd with sshpass when password auth is configured and
// the sshpass binary is discoverable on PATH; otherwise it returns cmd
// unchanged (key auth needs no wrapping).
func withSSHPass(t config.TargetConfig, name string, args []string) (string, []string) {
	if t.Auth != config.AuthPassword {
		return name, args
	}
	if _, err := exec.LookPath("sshpass"); err != nil {
		return name, args
	}
	return "sshpass", append([]string{"-p", t.Password, name}, args...)
}
