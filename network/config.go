package network

import (
	"io"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type config struct {
	listenHost         string
	listenPort         uint16
	maxUpstreamRate    uint64 // bytes per second
	maxDatagramSize    int
	simulatedLoss      float64
	readTimeout        time.Duration
	queueWait          time.Duration
	initRetryDelay     time.Duration
	initAttempts       int
	keepAliveDelay     time.Duration
	peerTimeout        time.Duration
	pendingLimit       int
	maxHandlerFailures int
	blacklistDuration  time.Duration
	blacklistSize      int
	replayCacheSize    int
	unilateralRate     rate.Limit
	unilateralBurst    int
	logger             logrus.FieldLogger
}

type Option func(*config)

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func configDefaults() Option {
	return func(c *config) {
		c.listenPort = uint16(10000 + rand.Intn(10000))
		c.maxUpstreamRate = 1024
		c.maxDatagramSize = 1450
		c.readTimeout = 500 * time.Millisecond
		c.queueWait = time.Second
		c.initRetryDelay = 500 * time.Millisecond
		c.initAttempts = 8
		c.keepAliveDelay = 5 * time.Second
		c.peerTimeout = 20 * time.Second
		c.pendingLimit = 64
		c.maxHandlerFailures = 16
		c.blacklistDuration = time.Minute
		c.blacklistSize = 1024
		c.replayCacheSize = 4096
		c.unilateralRate = 64
		c.unilateralBurst = 16
		c.logger = discardLogger()
	}
}

// WithListenHost restricts the socket to one local address. By default it listens on all of them.
func WithListenHost(host string) Option {
	return func(c *config) {
		c.listenHost = host
	}
}

// WithListenPort sets the UDP port. Port 0 lets the system pick one.
func WithListenPort(port uint16) Option {
	return func(c *config) {
		c.listenPort = port
	}
}

// WithMaxUpstreamBytesPerSecond sets the upstream bandwidth cap enforced by the send worker.
func WithMaxUpstreamBytesPerSecond(rate uint64) Option {
	return func(c *config) {
		if rate > 0 {
			c.maxUpstreamRate = rate
		}
	}
}

func WithMaxDatagramSize(size int) Option {
	return func(c *config) {
		c.maxDatagramSize = size
	}
}

// WithSimulatedLoss drops this fraction of inbound datagrams. It exists for tests and debugging only.
func WithSimulatedLoss(fraction float64) Option {
	return func(c *config) {
		c.simulatedLoss = fraction
	}
}

func WithReadTimeout(duration time.Duration) Option {
	return func(c *config) {
		c.readTimeout = duration
	}
}

func WithInitRetry(delay time.Duration, attempts int) Option {
	return func(c *config) {
		c.initRetryDelay = delay
		c.initAttempts = attempts
	}
}

func WithKeepAliveDelay(duration time.Duration) Option {
	return func(c *config) {
		c.keepAliveDelay = duration
	}
}

func WithPeerTimeout(duration time.Duration) Option {
	return func(c *config) {
		c.peerTimeout = duration
	}
}

func WithPendingLimit(limit int) Option {
	return func(c *config) {
		c.pendingLimit = limit
	}
}

// WithMaxHandlerFailures sets how many consecutive datagrams from one location may fail before its connection is closed and the location blacklisted.
func WithMaxHandlerFailures(failures int) Option {
	return func(c *config) {
		c.maxHandlerFailures = failures
	}
}

func WithBlacklistDuration(duration time.Duration) Option {
	return func(c *config) {
		c.blacklistDuration = duration
	}
}

// WithUnilateralRate limits how quickly connections may be created for unsolicited inbound datagrams.
func WithUnilateralRate(limit rate.Limit, burst int) Option {
	return func(c *config) {
		c.unilateralRate = limit
		c.unilateralBurst = burst
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}
