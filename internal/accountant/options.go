package accountant

import (
	"github.com/rs/zerolog"

	"github.com/eigerco/dispersal/pkg/log"
)

type options struct {
	logger  zerolog.Logger
	metrics *Metrics
}

type Option func(*options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics reports payment decisions to m. A nil m disables reporting.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func newOptions(opts []Option) options {
	o := options{logger: log.Accounting}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
