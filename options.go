package mqrr

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gonzalop/mqrr/internal/mqrrerr"
	"github.com/gonzalop/mqrr/internal/obsmetrics"
)

// Defaults applied when the corresponding ClientOption is not supplied.
const (
	DefaultMaxRequestResponseSubscriptions = 64
	DefaultMaxStreamingSubscriptions       = 64
	DefaultTimeout                         = 30 * time.Second
)

// Metrics is the set of Prometheus collectors the client reports to when
// WithMetrics is supplied. Construct with NewMetrics and register the
// result with a prometheus.Registerer of your choosing.
type Metrics = obsmetrics.Metrics

// NewMetrics constructs a fresh, unregistered set of client metrics.
func NewMetrics() *Metrics { return obsmetrics.NewMetrics() }

type clientOptions struct {
	maxRR     int
	maxStream int
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *obsmetrics.Metrics
}

// ClientOption configures a Client constructed by NewRequestResponseClient.
type ClientOption func(*clientOptions)

// WithMaxRequestResponseSubscriptions bounds how many distinct response
// filters may be held concurrently across all in-flight request/response
// operations.
func WithMaxRequestResponseSubscriptions(n int) ClientOption {
	return func(o *clientOptions) { o.maxRR = n }
}

// WithMaxStreamingSubscriptions bounds how many distinct streaming filters
// may be held concurrently.
func WithMaxStreamingSubscriptions(n int) ClientOption {
	return func(o *clientOptions) { o.maxStream = n }
}

// WithTimeout sets the duration applied to every adapter call and to every
// request/response operation's overall deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

// WithLogger injects a structured logger. The default discards all output,
// matching the zero-dependency posture of the core client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithMetrics enables Prometheus instrumentation. The default is nil,
// meaning no metrics are recorded.
func WithMetrics(m *Metrics) ClientOption {
	return func(o *clientOptions) { o.metrics = m }
}

func newClientOptions(opts ...ClientOption) (*clientOptions, error) {
	o := &clientOptions{
		maxRR:     DefaultMaxRequestResponseSubscriptions,
		maxStream: DefaultMaxStreamingSubscriptions,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxRR < 2 {
		return nil, fmt.Errorf("%w: max request/response subscriptions must be at least 2, got %d", mqrrerr.ErrInvalidClientOptions, o.maxRR)
	}
	if o.maxStream < 0 {
		return nil, fmt.Errorf("%w: max streaming subscriptions must be non-negative, got %d", mqrrerr.ErrInvalidClientOptions, o.maxStream)
	}
	if o.timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive, got %s", mqrrerr.ErrInvalidClientOptions, o.timeout)
	}
	return o, nil
}
