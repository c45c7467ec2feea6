package uploader

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/ryanoboyle/fleetship/internal/config"
)

// New constructs the concrete Driver for target.Protocol. fs is used only
// by the local driver and may be nil to default to the real filesystem.
func New(target config.TargetConfig, fs afero.Fs) (Driver, error) {
	switch target.Protocol {
	case config.ProtocolLocal:
		return NewLocalDriver(target, fs), nil
	case config.ProtocolSFTP:
		return NewSFTPDriver(target), nil
	case config.ProtocolSCP:
		return NewSCPDriver(target), nil
	case config.ProtocolRsync:
		return NewRsyncDriver(target), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q for target %s", target.Protocol, target.Identity())
	}
}
