package opengine

import (
	"context"
	"sync"
	"time"

	"github.com/gonzalop/mqrr/internal/corrpath"
)

// Kind distinguishes a request/response operation from a streaming
// subscription operation.
type Kind int

const (
	KindRequestResponse Kind = iota
	KindStreaming
)

// State is an operation's position in its lifecycle. Terminal states are
// never revisited — a terminated operation is removed from the engine.
type State int

const (
	StateNone State = iota
	StateQueued
	StatePendingSubscription
	StatePendingResponse
	StateSubscribed
	StateTerminal
)

// ResponsePathSpec names one topic the engine should watch for a correlated
// response, and the dot-path within its JSON payload holding the
// correlation token ("" means the whole class shares the empty token).
type ResponsePathSpec struct {
	Topic     string
	TokenPath string
}

// RequestOptions configures a single request/response operation.
type RequestOptions struct {
	Filters          []string
	ResponsePaths    []ResponsePathSpec
	PublishTopic     string
	Payload          []byte
	CorrelationToken string
}

// StreamOptions configures a single streaming operation.
type StreamOptions struct {
	Filter string
}

// Response is the payload that satisfied a request/response operation.
type Response struct {
	Topic   string
	Payload []byte
}

// StatusKind classifies a streaming operation's lifecycle notifications.
type StatusKind int

const (
	StatusEstablished StatusKind = iota
	StatusLost
	StatusHalted
)

func (k StatusKind) String() string {
	switch k {
	case StatusEstablished:
		return "established"
	case StatusLost:
		return "lost"
	case StatusHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// StatusEvent reports a transition in a streaming operation's subscription
// state. Error is only set for StatusHalted caused by a failure; a
// caller-initiated Close reports StatusHalted with a nil Error.
type StatusEvent struct {
	Kind  StatusKind
	Error error
}

// IncomingPublish is a message delivered to a streaming operation because
// its topic matched the operation's filter.
type IncomingPublish struct {
	Topic   string
	Payload []byte
}

// Future is the one-shot completion handle for a request/response
// operation, modeled on the teacher library's Token: fulfilled at most
// once, observable by any number of goroutines via Wait.
type Future struct {
	done sync.Once
	ch   chan struct{}
	resp Response
	err  error
}

func newFuture() *Future {
	return &Future{ch: make(chan struct{})}
}

func (f *Future) complete(resp Response, err error) {
	f.done.Do(func() {
		f.resp = resp
		f.err = err
		close(f.ch)
	})
}

// Wait blocks until the operation completes or ctx is done, whichever comes
// first. Waiting does not cancel the underlying operation.
func (f *Future) Wait(ctx context.Context) (Response, error) {
	select {
	case <-f.ch:
		return f.resp, f.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Done returns a channel that is closed once the operation has completed.
func (f *Future) Done() <-chan struct{} {
	return f.ch
}

// operation is the engine's internal record for one request/response or
// streaming operation. It is only ever touched from the engine's run
// goroutine.
type operation struct {
	id      int64
	kind    Kind
	state   State
	timer   *time.Timer

	reqOpts *RequestOptions
	parsed  []parsedResponsePath

	streamOpts *StreamOptions
	stream     *Stream

	future *Future

	insertedInTables bool
	pendingSubCount  int
}

type parsedResponsePath struct {
	topic     string
	tokenPath corrpath.Path
}

type responsePathEntry struct {
	tokenPath corrpath.Path
	refCount  int
}

// Stream is the caller-facing handle for a streaming operation: inert until
// Open is called, delivering messages and status transitions until Close or
// a terminal failure.
type Stream struct {
	eng *Engine
	id  int64

	messages chan IncomingPublish
	status   chan StatusEvent

	openOnce  sync.Once
	closeOnce sync.Once
}

// Messages returns the channel streaming messages are delivered on. It is
// closed when the operation terminates.
func (s *Stream) Messages() <-chan IncomingPublish { return s.messages }

// Status returns the channel subscription-lifecycle notifications are
// delivered on. It is closed when the operation terminates.
func (s *Stream) Status() <-chan StatusEvent { return s.status }
