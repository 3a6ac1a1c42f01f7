package executor

import (
	"time"

	"github.com/caffeineduck/gorupad/protocol"
	"go.uber.org/zap"
)

// Observer receives request lifecycle notifications. Implementations must be
// safe for concurrent use when shared between hosts.
type Observer interface {
	RequestStarted(kind protocol.RequestType)
	RequestFinished(kind protocol.RequestType, d time.Duration, err error)
	PackageInstalled(name string)
}

type nopObserver struct{}

func (nopObserver) RequestStarted(protocol.RequestType)                        {}
func (nopObserver) RequestFinished(protocol.RequestType, time.Duration, error) {}
func (nopObserver) PackageInstalled(string)                                    {}

// HostOption configures a Host.
type HostOption func(*hostConfig)

type hostConfig struct {
	runTimeout time.Duration // 0 = no limit
	logger     *zap.Logger
	observer   Observer
}

func defaultHostConfig() hostConfig {
	return hostConfig{
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
}

// WithRunTimeout bounds each run request. By default a run may take forever;
// the only way to stop it is terminating the host.
func WithRunTimeout(d time.Duration) HostOption {
	return func(c *hostConfig) {
		c.runTimeout = d
	}
}

// WithLogger sets the host's logger.
func WithLogger(l *zap.Logger) HostOption {
	return func(c *hostConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver reports request outcomes to o.
func WithObserver(o Observer) HostOption {
	return func(c *hostConfig) {
		if o != nil {
			c.observer = o
		}
	}
}
