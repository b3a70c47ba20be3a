package peers

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

type config struct {
	topologyMaintenance  bool
	targetPeers          int
	assimilateThreshold  int
	maintenanceInterval  time.Duration
	probeSample          int
	maxProbeFailures     int
	disclosureSize       int
	assimilationDelay    time.Duration // between request retransmissions
	assimilationAttempts int
	lingerDuration       time.Duration // how long a responder keeps answering duplicates
	broadcastBuffer      int
	broadcastCache       int
	logger               logrus.FieldLogger
}

type Option func(*config)

func configDefaults() Option {
	return func(c *config) {
		c.topologyMaintenance = true
		c.targetPeers = 20
		c.assimilateThreshold = 5
		c.maintenanceInterval = 30 * time.Second
		c.probeSample = 3
		c.maxProbeFailures = 3
		c.disclosureSize = 10
		c.assimilationDelay = time.Second
		c.assimilationAttempts = 10
		c.lingerDuration = 10 * time.Second
		c.broadcastBuffer = 64
		c.broadcastCache = 4096
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		c.logger = logger
	}
}

// WithTopologyMaintenance turns periodic probing on or off for a node that runs maintenance.
func WithTopologyMaintenance(enabled bool) Option {
	return func(c *config) {
		c.topologyMaintenance = enabled
	}
}

// WithTargetPeers sets how many peers maintenance works toward keeping.
func WithTargetPeers(n int) Option {
	return func(c *config) {
		c.targetPeers = n
	}
}

// WithAssimilateThreshold makes Start assimilate through the seeds when fewer than n peers are known.
func WithAssimilateThreshold(n int) Option {
	return func(c *config) {
		c.assimilateThreshold = n
	}
}

func WithMaintenanceInterval(d time.Duration) Option {
	return func(c *config) {
		c.maintenanceInterval = d
	}
}

// WithProbeSample sets how many peers each maintenance round probes.
func WithProbeSample(n int) Option {
	return func(c *config) {
		c.probeSample = n
	}
}

// WithMaxProbeFailures sets after how many consecutive failed probes a peer is forgotten.
func WithMaxProbeFailures(n int) Option {
	return func(c *config) {
		c.maxProbeFailures = n
	}
}

// WithDisclosureSize bounds how many peers are shared in one assimilation response or probe.
func WithDisclosureSize(n int) Option {
	return func(c *config) {
		c.disclosureSize = n
	}
}

func WithAssimilationRetry(delay time.Duration, attempts int) Option {
	return func(c *config) {
		c.assimilationDelay = delay
		c.assimilationAttempts = attempts
	}
}

func WithLingerDuration(d time.Duration) Option {
	return func(c *config) {
		c.lingerDuration = d
	}
}

// WithBroadcastBuffer sets the capacity of the Broadcasts channel. Broadcasts arriving while it is full are dropped.
func WithBroadcastBuffer(n int) Option {
	return func(c *config) {
		c.broadcastBuffer = n
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}
