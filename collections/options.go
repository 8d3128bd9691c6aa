package collections

import (
	"time"

	"github.com/go-kit/kit/log"
)

// DefaultStateTimeout bounds the join-time state
// transfer unless WithStateTimeout says otherwise.
const DefaultStateTimeout = 5000 * time.Millisecond

// Option configures a replicated collection.
type Option func(*options)

type options struct {
	logger              log.Logger
	metrics             *Metrics
	stateTimeout        time.Duration
	emptyOnStateTimeout bool
}

func defaultOptions() *options {

	return &options{
		logger:       log.NewNopLogger(),
		metrics:      NewDiscardMetrics(),
		stateTimeout: DefaultStateTimeout,
	}
}

// WithLogger makes the collection log to logger.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics makes the collection count into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithStateTimeout sets how long joining waits for
// a snapshot from the rest of the group.
func WithStateTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.stateTimeout = timeout
		}
	}
}

// WithEmptyOnStateTimeout lets construction succeed with an
// empty store when no snapshot arrives in time. Resync can
// pull the state later on.
func WithEmptyOnStateTimeout() Option {
	return func(o *options) {
		o.emptyOnStateTimeout = true
	}
}
