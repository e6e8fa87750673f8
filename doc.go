// Package mqrr implements a request/response and streaming-subscription
// client layered over an arbitrary publish/subscribe transport.
//
// Two patterns are supported on top of a shared, capacity-bounded
// subscription registry:
//
//   - Request/response: SubmitRequest subscribes to one or more response
//     filters (sharing them across concurrent calls where possible),
//     publishes a request, and resolves a Future with whichever response
//     payload carries a matching correlation token.
//   - Streaming: CreateStream opens a long-lived subscription and delivers
//     every matching message, plus subscription-lifecycle notifications,
//     until the caller closes it or the subscription is irrecoverably lost.
//
// The transport itself is not part of this package: construct a Client with
// an adapter.Protocol implementation, such as the paho.golang binding in
// the pahoadapter subpackage. The core client imports
// github.com/prometheus/client_golang for its metrics types; the adapter,
// logging, and metrics integrations themselves are all opt-in through
// functional options.
package mqrr
