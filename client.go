package mqrr

import (
	"fmt"

	"github.com/gonzalop/mqrr/adapter"
	"github.com/gonzalop/mqrr/internal/mqrrerr"
	"github.com/gonzalop/mqrr/internal/opengine"
	"github.com/gonzalop/mqrr/internal/topicmatch"
)

// Client is a request/response and streaming-subscription client bound to
// one Protocol adapter. Construct with NewRequestResponseClient; all
// methods are safe for concurrent use.
type Client struct {
	eng   *opengine.Engine
	proto adapter.Protocol
}

// NewRequestResponseClient constructs a Client over proto. proto must not
// be nil; everything else has a sane default (see WithMaxRequestResponseSubscriptions,
// WithMaxStreamingSubscriptions, WithTimeout, WithLogger, WithMetrics).
func NewRequestResponseClient(proto adapter.Protocol, opts ...ClientOption) (*Client, error) {
	if proto == nil {
		return nil, fmt.Errorf("%w: protocol adapter is required", ErrInvalidClientOptions)
	}
	o, err := newClientOptions(opts...)
	if err != nil {
		return nil, err
	}
	eng := opengine.New(proto, o.maxRR, o.maxStream, o.timeout, o.logger, o.metrics)
	return &Client{eng: eng, proto: proto}, nil
}

// Close shuts the client down: every in-flight operation completes with an
// error reporting closure, and held subscriptions are released. If the
// underlying Protocol also implements io.Closer, it is closed too.
// Idempotent with respect to the engine; the adapter's own Close must
// itself tolerate repeated calls.
func (c *Client) Close() {
	c.eng.Close()
	if closer, ok := c.proto.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// Future is the one-shot completion handle returned by SubmitRequest.
type Future = opengine.Future

// Response is the payload that satisfied a request/response operation.
type Response = opengine.Response

// ResponsePath names one topic the client should watch for this request's
// response, and the dot-separated path within its JSON payload holding the
// correlation token. An empty CorrelationTokenPath means every response
// seen on Topic shares a single implicit token class — use this when the
// responder never echoes a token at all (e.g. exactly one outstanding
// request is ever made against Topic at a time).
type ResponsePath struct {
	Topic                string
	CorrelationTokenPath string
}

// RequestOptions configures a single request/response operation.
type RequestOptions struct {
	// Filters are the subscription filters to hold for the duration of the
	// operation. Most callers supply exactly one of these equal to each
	// ResponsePath's Topic; multiple filters are supported for responders
	// that fan a single logical response across several topics.
	Filters []string

	// ResponsePaths lists every topic (and its correlation-token location)
	// that could carry this request's response.
	ResponsePaths []ResponsePath

	// PublishTopic is where the request payload is published once every
	// filter in Filters is subscribed.
	PublishTopic string

	// Payload is the request body published to PublishTopic.
	Payload []byte

	// CorrelationToken is the value this operation's response must carry at
	// each ResponsePath's CorrelationTokenPath. Leave empty only when every
	// ResponsePath also has an empty CorrelationTokenPath.
	CorrelationToken string
}

func validateRequestOptions(o RequestOptions) error {
	if len(o.Filters) == 0 {
		return fmt.Errorf("%w: at least one subscription filter is required", mqrrerr.ErrInvalidRequestOptions)
	}
	for _, f := range o.Filters {
		if err := topicmatch.ValidFilter(f); err != nil {
			return fmt.Errorf("%w: %v", mqrrerr.ErrInvalidRequestOptions, err)
		}
	}
	if len(o.ResponsePaths) == 0 {
		return fmt.Errorf("%w: at least one response path is required", mqrrerr.ErrInvalidRequestOptions)
	}
	for _, rp := range o.ResponsePaths {
		if err := topicmatch.ValidTopic(rp.Topic); err != nil {
			return fmt.Errorf("%w: %v", mqrrerr.ErrInvalidRequestOptions, err)
		}
	}
	if o.PublishTopic == "" {
		return fmt.Errorf("%w: publish topic is required", mqrrerr.ErrInvalidRequestOptions)
	}
	if err := topicmatch.ValidTopic(o.PublishTopic); err != nil {
		return fmt.Errorf("%w: %v", mqrrerr.ErrInvalidRequestOptions, err)
	}
	if len(o.Payload) == 0 {
		return fmt.Errorf("%w: payload must be non-empty", mqrrerr.ErrInvalidRequestOptions)
	}
	return nil
}

// SubmitRequest validates opts, then asynchronously subscribes, publishes,
// and awaits a correlated response. It returns immediately with a Future;
// invalid options are reported synchronously instead.
func (c *Client) SubmitRequest(opts RequestOptions) (*Future, error) {
	if err := validateRequestOptions(opts); err != nil {
		return nil, err
	}
	engOpts := opengine.RequestOptions{
		Filters:          opts.Filters,
		PublishTopic:     opts.PublishTopic,
		Payload:          opts.Payload,
		CorrelationToken: opts.CorrelationToken,
	}
	for _, rp := range opts.ResponsePaths {
		engOpts.ResponsePaths = append(engOpts.ResponsePaths, opengine.ResponsePathSpec{
			Topic:     rp.Topic,
			TokenPath: rp.CorrelationTokenPath,
		})
	}
	return c.eng.Submit(engOpts)
}

// StreamOptions configures a single streaming subscription operation.
type StreamOptions struct {
	// Filter is the subscription filter to hold for as long as the stream
	// stays open. May contain MQTT wildcards.
	Filter string
}

// IncomingPublish is a message delivered to a Stream because its topic
// matched the stream's filter.
type IncomingPublish = opengine.IncomingPublish

// StatusKind classifies a StatusEvent.
type StatusKind = opengine.StatusKind

// StatusEvent reports a transition in a Stream's subscription state.
type StatusEvent = opengine.StatusEvent

const (
	StatusEstablished = opengine.StatusEstablished
	StatusLost        = opengine.StatusLost
	StatusHalted      = opengine.StatusHalted
)

// Stream is the caller-facing handle for a streaming subscription: inert
// until Open is called, delivering messages and status transitions on its
// two channels until Close or an unrecoverable subscription failure.
type Stream struct {
	inner *opengine.Stream
}

// Open places the stream's subscription on the client's service queue.
// Calling Open more than once on a still-open Stream is a no-op.
func (s *Stream) Open() error { return s.inner.Open() }

// Close releases the stream's subscription and closes both of its
// channels. Idempotent.
func (s *Stream) Close() error { return s.inner.Close() }

// Messages returns the channel incoming messages are delivered on. Closed
// when the stream terminates.
func (s *Stream) Messages() <-chan IncomingPublish { return s.inner.Messages() }

// Status returns the channel subscription-lifecycle events are delivered
// on. Closed when the stream terminates.
func (s *Stream) Status() <-chan StatusEvent { return s.inner.Status() }

// CreateStream validates opts and allocates a Stream. The underlying
// subscription is not attempted until Open is called.
func (c *Client) CreateStream(opts StreamOptions) (*Stream, error) {
	if err := topicmatch.ValidFilter(opts.Filter); err != nil {
		return nil, fmt.Errorf("%w: %v", mqrrerr.ErrInvalidStreamingOptions, err)
	}
	inner, err := c.eng.CreateStream(opengine.StreamOptions{Filter: opts.Filter})
	if err != nil {
		return nil, err
	}
	return &Stream{inner: inner}, nil
}
