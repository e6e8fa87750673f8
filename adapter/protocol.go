// Package adapter defines the capability the request/response core demands
// from an underlying publish/subscribe transport. Construction, credentials,
// TLS, and the wire protocol itself are deliberately not part of this
// contract — they live on whatever concrete type implements Protocol.
package adapter

import "time"

// ConnectionState reports whether the adapter currently believes it is
// connected to the broker.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connected
)

func (s ConnectionState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// SubscribeCompleteEvent is emitted once per Subscribe call, successful or
// not. Retryable is only meaningful when Error is non-nil: true means a
// later subscribe attempt for the same filter might succeed.
type SubscribeCompleteEvent struct {
	Filter    string
	Error     error
	Retryable bool
}

// UnsubscribeCompleteEvent is emitted once per Unsubscribe call.
type UnsubscribeCompleteEvent struct {
	Filter string
	Error  error
}

// PublishCompleteEvent is emitted once per Publish call. Handle is returned
// verbatim from the corresponding Publish invocation so the core can match
// the completion back to the operation that issued it.
type PublishCompleteEvent struct {
	Handle any
	Error  error
}

// ConnectionStatusEvent reports a connect or disconnect transition.
// JoinedSession is only meaningful when Connected is true: true means the
// broker resumed a prior session (existing subscriptions still held by the
// broker); false means all prior subscriptions were lost and must be
// re-established.
type ConnectionStatusEvent struct {
	Connected     bool
	JoinedSession bool
}

// IncomingPublishEvent is delivered for every publish the adapter receives
// on any filter it currently holds a subscription for.
type IncomingPublishEvent struct {
	Topic   string
	Payload []byte
}

// Protocol is the capability a transport binding must provide. All methods
// must return without blocking on the network; completion is reported
// asynchronously through the On* callbacks. The core engine calls these
// methods from its own goroutine; implementations may invoke the registered
// callbacks from any goroutine, and the engine hands each event over to its
// own goroutine before acting on it.
type Protocol interface {
	// Subscribe requests a broker subscription for filter. timeout bounds
	// how long the adapter will wait for a SUBACK-equivalent before
	// reporting a timeout through SubscribeCompleteEvent.
	Subscribe(filter string, timeout time.Duration)

	// Unsubscribe requests removal of a broker subscription for filter.
	Unsubscribe(filter string, timeout time.Duration)

	// Publish sends payload to topic. handle is opaque to the adapter and
	// is echoed back unchanged in the resulting PublishCompleteEvent.
	Publish(topic string, payload []byte, timeout time.Duration, handle any)

	// ConnectionState reports the adapter's current belief about
	// connectivity. It does not block.
	ConnectionState() ConnectionState

	// OnConnectionStatus registers the callback invoked for every connect
	// or disconnect transition. Only one callback may be registered;
	// registering again replaces the previous one.
	OnConnectionStatus(func(ConnectionStatusEvent))

	// OnSubscribeComplete registers the callback invoked when a Subscribe
	// call completes, successfully or not.
	OnSubscribeComplete(func(SubscribeCompleteEvent))

	// OnUnsubscribeComplete registers the callback invoked when an
	// Unsubscribe call completes.
	OnUnsubscribeComplete(func(UnsubscribeCompleteEvent))

	// OnPublishComplete registers the callback invoked when a Publish call
	// completes.
	OnPublishComplete(func(PublishCompleteEvent))

	// OnIncomingPublish registers the callback invoked for every inbound
	// publish delivered on a currently-held subscription.
	OnIncomingPublish(func(IncomingPublishEvent))
}
