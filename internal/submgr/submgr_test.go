package submgr_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzalop/mqrr/adapter"
	"github.com/gonzalop/mqrr/internal/adaptertest"
	"github.com/gonzalop/mqrr/internal/submgr"
)

type fakeSink struct {
	subscribeSuccess     []string
	subscribeFailure     []string
	streamingEstablished []string
	streamingLost        []string
	streamingHalted      []string
	subscriptionEnded    []string
	subscriptionOrphaned []string
	unsubscribeComplete  []string
}

func (s *fakeSink) SubscribeSuccess(opID int64, filter string) {
	s.subscribeSuccess = append(s.subscribeSuccess, filter)
}
func (s *fakeSink) SubscribeFailure(opID int64, filter string, err error) {
	s.subscribeFailure = append(s.subscribeFailure, filter)
}
func (s *fakeSink) StreamingEstablished(opID int64, filter string) {
	s.streamingEstablished = append(s.streamingEstablished, filter)
}
func (s *fakeSink) StreamingLost(opID int64, filter string) {
	s.streamingLost = append(s.streamingLost, filter)
}
func (s *fakeSink) StreamingHalted(opID int64, filter string, err error) {
	s.streamingHalted = append(s.streamingHalted, filter)
}
func (s *fakeSink) SubscriptionEnded(opID int64, filter string) {
	s.subscriptionEnded = append(s.subscriptionEnded, filter)
}
func (s *fakeSink) SubscriptionOrphaned(filter string) {
	s.subscriptionOrphaned = append(s.subscriptionOrphaned, filter)
}
func (s *fakeSink) UnsubscribeComplete(filter string) {
	s.unsubscribeComplete = append(s.unsubscribeComplete, filter)
}

// immediate runs deferred work synchronously, since these tests drive the
// manager directly without an engine run loop.
func immediate(fn func()) { fn() }

func newTestManager(t *testing.T, maxRR, maxStream int) (*submgr.Manager, *adaptertest.Fake, *fakeSink) {
	t.Helper()
	proto := adaptertest.New()
	sink := &fakeSink{}
	mgr := submgr.New(proto, sink, maxRR, maxStream, time.Second, immediate, nil, nil)
	// The manager does not register adapter callbacks itself (its owner
	// forwards them), so the tests wire the fake straight to its handlers.
	proto.OnSubscribeComplete(mgr.HandleSubscribeComplete)
	proto.OnUnsubscribeComplete(mgr.HandleUnsubscribeComplete)
	proto.OnConnectionStatus(mgr.HandleConnectionStatus)
	return mgr, proto, sink
}

func TestAcquireNewFilterSubscribes(t *testing.T) {
	mgr, proto, _ := newTestManager(t, 4, 4)
	result := mgr.Acquire(1, submgr.RequestResponse, []string{"a/b"})
	assert.Equal(t, submgr.ResultSubscribing, result)
	assert.Equal(t, []string{"a/b"}, proto.SubscribeCalls)
}

func TestAcquireSharedFilterAlreadySubscribed(t *testing.T) {
	mgr, proto, sink := newTestManager(t, 4, 4)
	require.Equal(t, submgr.ResultSubscribing, mgr.Acquire(1, submgr.RequestResponse, []string{"a/b"}))
	proto.CompleteSubscribe("a/b", nil, false)
	assert.Equal(t, []string{"a/b"}, sink.subscribeSuccess)

	result := mgr.Acquire(2, submgr.RequestResponse, []string{"a/b"})
	assert.Equal(t, submgr.ResultSubscribed, result)
	assert.Len(t, proto.SubscribeCalls, 1, "second acquire must not re-subscribe")
}

func TestAcquireEmptyFiltersFails(t *testing.T) {
	mgr, _, _ := newTestManager(t, 4, 4)
	assert.Equal(t, submgr.ResultFailure, mgr.Acquire(1, submgr.RequestResponse, nil))
}

func TestAcquireAfterCloseFails(t *testing.T) {
	mgr, proto, _ := newTestManager(t, 4, 4)
	mgr.Close()
	_ = proto
	assert.Equal(t, submgr.ResultFailure, mgr.Acquire(1, submgr.RequestResponse, []string{"a/b"}))
}

func TestAcquireKindMismatchFails(t *testing.T) {
	mgr, proto, _ := newTestManager(t, 4, 4)
	mgr.Acquire(1, submgr.RequestResponse, []string{"a/b"})
	proto.CompleteSubscribe("a/b", nil, false)
	assert.Equal(t, submgr.ResultFailure, mgr.Acquire(2, submgr.EventStream, []string{"a/b"}))
}

func TestAcquireBlockedAtRequestResponseCapacity(t *testing.T) {
	mgr, _, _ := newTestManager(t, 1, 4)
	require.Equal(t, submgr.ResultSubscribing, mgr.Acquire(1, submgr.RequestResponse, []string{"a/b"}))
	assert.Equal(t, submgr.ResultBlocked, mgr.Acquire(2, submgr.RequestResponse, []string{"c/d"}))
}

func TestAcquireNoCapacityForEventStream(t *testing.T) {
	mgr, _, _ := newTestManager(t, 4, 1)
	require.Equal(t, submgr.ResultSubscribing, mgr.Acquire(1, submgr.EventStream, []string{"a/b"}))
	assert.Equal(t, submgr.ResultNoCapacity, mgr.Acquire(2, submgr.EventStream, []string{"c/d"}))
}

func TestAcquireBlockedWhilePendingUnsubscribe(t *testing.T) {
	mgr, proto, _ := newTestManager(t, 4, 4)
	require.Equal(t, submgr.ResultSubscribing, mgr.Acquire(1, submgr.RequestResponse, []string{"a/b"}))
	proto.CompleteSubscribe("a/b", nil, false)
	mgr.Release(1, []string{"a/b"})
	mgr.Purge()
	require.Equal(t, []string{"a/b"}, proto.UnsubscribeCalls)

	assert.Equal(t, submgr.ResultBlocked, mgr.Acquire(2, submgr.RequestResponse, []string{"a/b"}))
}

func TestSubscribeFailurePropagatesToAllListeners(t *testing.T) {
	mgr, _, sink := newTestManager(t, 4, 4)
	mgr.Acquire(1, submgr.RequestResponse, []string{"a/b"})
	mgr.Acquire(2, submgr.RequestResponse, []string{"a/b"})

	mgr.HandleSubscribeComplete(adapter.SubscribeCompleteEvent{
		Filter: "a/b",
		Error:  errors.New("broker rejected subscribe"),
	})
	assert.ElementsMatch(t, []string{"a/b", "a/b"}, sink.subscribeFailure)
}

func TestStreamingHaltedOnNonRetryableFailure(t *testing.T) {
	mgr, proto, sink := newTestManager(t, 4, 4)
	mgr.Acquire(1, submgr.EventStream, []string{"a/#"})
	proto.CompleteSubscribe("a/#", errors.New("terminal failure"), false)
	assert.Equal(t, []string{"a/#"}, sink.streamingHalted)

	assert.Equal(t, submgr.ResultFailure, mgr.Acquire(2, submgr.EventStream, []string{"a/#"}), "poisoned record rejects further acquires")
}

func TestStreamingRetriesOnRetryableFailure(t *testing.T) {
	mgr, proto, sink := newTestManager(t, 4, 4)
	mgr.Acquire(1, submgr.EventStream, []string{"a/#"})
	proto.CompleteSubscribe("a/#", errors.New("transient"), true)
	assert.Empty(t, sink.streamingHalted)
	assert.Len(t, proto.SubscribeCalls, 2, "a retryable failure re-issues subscribe")
}

func TestReleaseOrphansAndPurgeUnsubscribes(t *testing.T) {
	mgr, proto, sink := newTestManager(t, 4, 4)
	mgr.Acquire(1, submgr.RequestResponse, []string{"a/b"})
	proto.CompleteSubscribe("a/b", nil, false)

	mgr.Release(1, []string{"a/b"})
	assert.Equal(t, []string{"a/b"}, sink.subscriptionOrphaned)

	mgr.Purge()
	assert.Equal(t, []string{"a/b"}, proto.UnsubscribeCalls)

	proto.CompleteUnsubscribe("a/b", nil)
	assert.Equal(t, []string{"a/b"}, sink.unsubscribeComplete)

	mgr.Purge()
	status, ok := mgr.Status("a/b")
	assert.False(t, ok)
	assert.Equal(t, submgr.NotSubscribed, status)
}

func TestConnectionStatusEndsSubscriptionsWithoutJoinedSession(t *testing.T) {
	mgr, proto, sink := newTestManager(t, 4, 4)
	mgr.Acquire(1, submgr.RequestResponse, []string{"a/b"})
	proto.CompleteSubscribe("a/b", nil, false)

	proto.SetConnected(false, false)
	proto.SetConnected(true, false)

	assert.Equal(t, []string{"a/b"}, sink.subscriptionEnded)
	assert.Equal(t, []string{"a/b", "a/b"}, proto.SubscribeCalls, "record re-activates after session loss")
}

func TestConnectionStatusKeepsSubscriptionsWhenSessionResumes(t *testing.T) {
	mgr, proto, sink := newTestManager(t, 4, 4)
	mgr.Acquire(1, submgr.RequestResponse, []string{"a/b"})
	proto.CompleteSubscribe("a/b", nil, false)

	proto.SetConnected(false, false)
	proto.SetConnected(true, true)

	assert.Empty(t, sink.subscriptionEnded)
}
