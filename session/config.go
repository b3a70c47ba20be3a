package session

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

type config struct {
	sessionTimeout time.Duration
	finishedCache  int
	logger         logrus.FieldLogger
}

type Option func(*config)

func configDefaults() Option {
	return func(c *config) {
		c.sessionTimeout = 30 * time.Second
		c.finishedCache = 4096
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		c.logger = logger
	}
}

// WithSessionTimeout sets how long a session may run before it times out, unless the session arms its own timeout.
func WithSessionTimeout(duration time.Duration) Option {
	return func(c *config) {
		c.sessionTimeout = duration
	}
}

// WithFinishedCache sets how many finished sessions are remembered so late frames for them are ignored.
func WithFinishedCache(size int) Option {
	return func(c *config) {
		c.finishedCache = size
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}
