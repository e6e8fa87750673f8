package mqrr

import "github.com/gonzalop/mqrr/internal/mqrrerr"

// Sentinel errors returned by this package. Use errors.Is to test for them;
// the sentinel is wrapped with %w, while the underlying failure, when one
// exists, is only included in the message text.
var (
	ErrInvalidClientOptions    = mqrrerr.ErrInvalidClientOptions
	ErrInvalidRequestOptions   = mqrrerr.ErrInvalidRequestOptions
	ErrInvalidStreamingOptions = mqrrerr.ErrInvalidStreamingOptions
	ErrClientClosed            = mqrrerr.ErrClientClosed
	ErrOperationTimeout        = mqrrerr.ErrOperationTimeout
	ErrSubscribeFailure        = mqrrerr.ErrSubscribeFailure
	ErrSubscriptionEnded       = mqrrerr.ErrSubscriptionEnded
	ErrPublishFailure          = mqrrerr.ErrPublishFailure
	ErrStreamingHalted         = mqrrerr.ErrStreamingHalted
	ErrAcquireFailed           = mqrrerr.ErrAcquireFailed
)
