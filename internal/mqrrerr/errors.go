// Package mqrrerr holds the sentinel errors the operation engine and the
// root client package both need to produce and match against. It exists
// purely to break the import cycle a direct root-package dependency from
// internal/opengine would otherwise create; the root package re-exports
// these under its own names for callers.
package mqrrerr

import "errors"

var (
	// ErrInvalidClientOptions is returned by NewRequestResponseClient when
	// its options fail validation.
	ErrInvalidClientOptions = errors.New("mqrr: Invalid client options")

	// ErrInvalidRequestOptions is returned by SubmitRequest when its options
	// fail validation.
	ErrInvalidRequestOptions = errors.New("mqrr: Invalid request options")

	// ErrInvalidStreamingOptions is returned by CreateStream when its
	// options fail validation.
	ErrInvalidStreamingOptions = errors.New("mqrr: Invalid streaming options")

	// ErrClientClosed is returned or used to complete pending work when a
	// client has already been closed, or is closed while work is in flight.
	ErrClientClosed = errors.New("mqrr: client closed")

	// ErrOperationTimeout completes a request/response operation that never
	// received a correlated response within its configured timeout.
	ErrOperationTimeout = errors.New("mqrr: timeout")

	// ErrSubscribeFailure completes a request/response operation whose
	// subscription attempt failed.
	ErrSubscribeFailure = errors.New("mqrr: Subscribe failure")

	// ErrSubscriptionEnded completes a request/response operation whose
	// subscription was invalidated by a non-resuming session reconnect.
	ErrSubscriptionEnded = errors.New("mqrr: Subscription Ended")

	// ErrPublishFailure completes a request/response operation whose
	// publish attempt failed.
	ErrPublishFailure = errors.New("mqrr: Publish failure")

	// ErrStreamingHalted reports a streaming operation's terminal failure to
	// its status channel.
	ErrStreamingHalted = errors.New("mqrr: streaming subscription halted")

	// ErrAcquireFailed wraps a non-Blocked, non-Subscribed, non-Subscribing
	// outcome from the subscription manager (NoCapacity or Failure).
	ErrAcquireFailed = errors.New("mqrr: subscription acquire failed")
)
