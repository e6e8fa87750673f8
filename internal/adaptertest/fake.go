// Package adaptertest provides a controllable adapter.Protocol fake shared
// by the submgr and opengine test suites, so both exercise the same
// deterministic, manually-driven transport double.
package adaptertest

import (
	"sync"
	"time"

	"github.com/gonzalop/mqrr/adapter"
)

// Fake is an adapter.Protocol whose outcomes are driven explicitly by the
// test via Complete*/Deliver*/SetConnected, never by a real network. All
// methods are safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	state adapter.ConnectionState

	SubscribeCalls   []string
	UnsubscribeCalls []string
	PublishCalls     []PublishCall

	onConnStatus    func(adapter.ConnectionStatusEvent)
	onSubComplete   func(adapter.SubscribeCompleteEvent)
	onUnsubComplete func(adapter.UnsubscribeCompleteEvent)
	onPubComplete   func(adapter.PublishCompleteEvent)
	onIncoming      func(adapter.IncomingPublishEvent)
}

// PublishCall records one Publish invocation.
type PublishCall struct {
	Topic   string
	Payload []byte
	Handle  any
}

// New constructs a Fake that starts out connected.
func New() *Fake {
	return &Fake{state: adapter.Connected}
}

func (f *Fake) Subscribe(filter string, _ time.Duration) {
	f.mu.Lock()
	f.SubscribeCalls = append(f.SubscribeCalls, filter)
	f.mu.Unlock()
}

func (f *Fake) Unsubscribe(filter string, _ time.Duration) {
	f.mu.Lock()
	f.UnsubscribeCalls = append(f.UnsubscribeCalls, filter)
	f.mu.Unlock()
}

func (f *Fake) Publish(topic string, payload []byte, _ time.Duration, handle any) {
	f.mu.Lock()
	f.PublishCalls = append(f.PublishCalls, PublishCall{Topic: topic, Payload: payload, Handle: handle})
	f.mu.Unlock()
}

func (f *Fake) ConnectionState() adapter.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Fake) OnConnectionStatus(cb func(adapter.ConnectionStatusEvent)) {
	f.mu.Lock()
	f.onConnStatus = cb
	f.mu.Unlock()
}

func (f *Fake) OnSubscribeComplete(cb func(adapter.SubscribeCompleteEvent)) {
	f.mu.Lock()
	f.onSubComplete = cb
	f.mu.Unlock()
}

func (f *Fake) OnUnsubscribeComplete(cb func(adapter.UnsubscribeCompleteEvent)) {
	f.mu.Lock()
	f.onUnsubComplete = cb
	f.mu.Unlock()
}

func (f *Fake) OnPublishComplete(cb func(adapter.PublishCompleteEvent)) {
	f.mu.Lock()
	f.onPubComplete = cb
	f.mu.Unlock()
}

func (f *Fake) OnIncomingPublish(cb func(adapter.IncomingPublishEvent)) {
	f.mu.Lock()
	f.onIncoming = cb
	f.mu.Unlock()
}

// SetConnected drives a ConnectionStatusEvent.
func (f *Fake) SetConnected(connected, joinedSession bool) {
	f.mu.Lock()
	if connected {
		f.state = adapter.Connected
	} else {
		f.state = adapter.Disconnected
	}
	cb := f.onConnStatus
	f.mu.Unlock()
	if cb != nil {
		cb(adapter.ConnectionStatusEvent{Connected: connected, JoinedSession: joinedSession})
	}
}

// CompleteSubscribe drives a SubscribeCompleteEvent for filter.
func (f *Fake) CompleteSubscribe(filter string, err error, retryable bool) {
	f.mu.Lock()
	cb := f.onSubComplete
	f.mu.Unlock()
	if cb != nil {
		cb(adapter.SubscribeCompleteEvent{Filter: filter, Error: err, Retryable: retryable})
	}
}

// CompleteUnsubscribe drives an UnsubscribeCompleteEvent for filter.
func (f *Fake) CompleteUnsubscribe(filter string, err error) {
	f.mu.Lock()
	cb := f.onUnsubComplete
	f.mu.Unlock()
	if cb != nil {
		cb(adapter.UnsubscribeCompleteEvent{Filter: filter, Error: err})
	}
}

// CompletePublish drives a PublishCompleteEvent for handle.
func (f *Fake) CompletePublish(handle any, err error) {
	f.mu.Lock()
	cb := f.onPubComplete
	f.mu.Unlock()
	if cb != nil {
		cb(adapter.PublishCompleteEvent{Handle: handle, Error: err})
	}
}

// DeliverPublish drives an IncomingPublishEvent.
func (f *Fake) DeliverPublish(topic string, payload []byte) {
	f.mu.Lock()
	cb := f.onIncoming
	f.mu.Unlock()
	if cb != nil {
		cb(adapter.IncomingPublishEvent{Topic: topic, Payload: payload})
	}
}
