package opengine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzalop/mqrr/internal/adaptertest"
	"github.com/gonzalop/mqrr/internal/opengine"
)

const testTimeout = 2 * time.Second

// waitCtx bounds how long a test will block on Future.Wait; its deadline
// firing is itself the cancellation, so the cancel func is discarded.
func waitCtx() context.Context {
	ctx, _ := context.WithTimeout(context.Background(), testTimeout) //nolint:lostcancel
	return ctx
}

func newTestEngine(maxRR, maxStream int) (*opengine.Engine, *adaptertest.Fake) {
	proto := adaptertest.New()
	eng := opengine.New(proto, maxRR, maxStream, testTimeout, nil, nil)
	return eng, proto
}

// eventually polls until cond is true or the deadline passes, avoiding a
// fixed sleep for conditions driven by the engine's own goroutine.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Fail(t, "condition never became true")
}

func TestRequestResponseHappyPath(t *testing.T) {
	eng, proto := newTestEngine(4, 4)
	defer eng.Close()

	future, err := eng.Submit(opengine.RequestOptions{
		Filters:          []string{"resp/a"},
		ResponsePaths:    []opengine.ResponsePathSpec{{Topic: "resp/a", TokenPath: "token"}},
		PublishTopic:     "req/a",
		Payload:          []byte(`{}`),
		CorrelationToken: "tok-1",
	})
	require.NoError(t, err)

	eventually(t, func() bool { return len(proto.SubscribeCalls) == 1 })
	proto.CompleteSubscribe("resp/a", nil, false)

	eventually(t, func() bool { return len(proto.PublishCalls) == 1 })
	proto.CompletePublish(proto.PublishCalls[0].Handle, nil)

	proto.DeliverPublish("resp/a", []byte(`{"token":"tok-1","value":42}`))

	resp, err := future.Wait(waitCtx())
	require.NoError(t, err)
	assert.Equal(t, "resp/a", resp.Topic)
	assert.JSONEq(t, `{"token":"tok-1","value":42}`, string(resp.Payload))
}

func TestRequestResponseIgnoresUnrelatedToken(t *testing.T) {
	eng, proto := newTestEngine(4, 4)
	defer eng.Close()

	future, err := eng.Submit(opengine.RequestOptions{
		Filters:          []string{"resp/a"},
		ResponsePaths:    []opengine.ResponsePathSpec{{Topic: "resp/a", TokenPath: "token"}},
		PublishTopic:     "req/a",
		CorrelationToken: "tok-1",
	})
	require.NoError(t, err)
	eventually(t, func() bool { return len(proto.SubscribeCalls) == 1 })
	proto.CompleteSubscribe("resp/a", nil, false)
	eventually(t, func() bool { return len(proto.PublishCalls) == 1 })
	proto.CompletePublish(proto.PublishCalls[0].Handle, nil)

	proto.DeliverPublish("resp/a", []byte(`{"token":"someone-else","value":1}`))

	select {
	case <-future.Done():
		t.Fatal("future completed on an unrelated correlation token")
	case <-time.After(50 * time.Millisecond):
	}

	proto.DeliverPublish("resp/a", []byte(`{"token":"tok-1","value":2}`))
	resp, err := future.Wait(waitCtx())
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"tok-1","value":2}`, string(resp.Payload))
}

func TestRequestResponseTimeout(t *testing.T) {
	proto := adaptertest.New()
	eng := opengine.New(proto, 4, 4, 20*time.Millisecond, nil, nil)
	defer eng.Close()

	future, err := eng.Submit(opengine.RequestOptions{
		Filters:          []string{"resp/a"},
		ResponsePaths:    []opengine.ResponsePathSpec{{Topic: "resp/a", TokenPath: "token"}},
		PublishTopic:     "req/a",
		CorrelationToken: "tok-1",
	})
	require.NoError(t, err)

	_, err = future.Wait(waitCtx())
	assert.Error(t, err)
}

func TestRequestResponseSubscribeFailure(t *testing.T) {
	eng, proto := newTestEngine(4, 4)
	defer eng.Close()

	future, err := eng.Submit(opengine.RequestOptions{
		Filters:          []string{"resp/a"},
		ResponsePaths:    []opengine.ResponsePathSpec{{Topic: "resp/a", TokenPath: "token"}},
		PublishTopic:     "req/a",
		CorrelationToken: "tok-1",
	})
	require.NoError(t, err)

	eventually(t, func() bool { return len(proto.SubscribeCalls) == 1 })
	proto.CompleteSubscribe("resp/a", errors.New("rejected"), false)

	_, err = future.Wait(waitCtx())
	assert.Error(t, err)
}

func TestCorrelationTokenClassFIFOOrdering(t *testing.T) {
	eng, proto := newTestEngine(4, 4)
	defer eng.Close()

	first, err := eng.Submit(opengine.RequestOptions{
		Filters:          []string{"resp/a"},
		ResponsePaths:    []opengine.ResponsePathSpec{{Topic: "resp/a", TokenPath: "token"}},
		PublishTopic:     "req/a",
		CorrelationToken: "shared",
	})
	require.NoError(t, err)
	second, err := eng.Submit(opengine.RequestOptions{
		Filters:          []string{"resp/a"},
		ResponsePaths:    []opengine.ResponsePathSpec{{Topic: "resp/a", TokenPath: "token"}},
		PublishTopic:     "req/a",
		CorrelationToken: "shared",
	})
	require.NoError(t, err)

	eventually(t, func() bool { return len(proto.SubscribeCalls) == 1 })
	proto.CompleteSubscribe("resp/a", nil, false)
	eventually(t, func() bool { return len(proto.PublishCalls) == 1 })

	select {
	case <-second.Done():
		t.Fatal("second operation must not dequeue while first holds the shared token")
	case <-time.After(50 * time.Millisecond):
	}

	proto.CompletePublish(proto.PublishCalls[0].Handle, nil)
	proto.DeliverPublish("resp/a", []byte(`{"token":"shared"}`))
	_, err = first.Wait(waitCtx())
	require.NoError(t, err)

	// The first operation's release orphans resp/a; the next service pass
	// unsubscribes it, and the second operation re-acquires it afterwards.
	eventually(t, func() bool { return len(proto.UnsubscribeCalls) == 1 })
	proto.CompleteUnsubscribe("resp/a", nil)
	eventually(t, func() bool { return len(proto.SubscribeCalls) == 2 })
	proto.CompleteSubscribe("resp/a", nil, false)

	eventually(t, func() bool { return len(proto.PublishCalls) == 2 })
	proto.CompletePublish(proto.PublishCalls[1].Handle, nil)
	proto.DeliverPublish("resp/a", []byte(`{"token":"shared"}`))
	_, err = second.Wait(waitCtx())
	require.NoError(t, err)
}

func TestStreamLifecycle(t *testing.T) {
	eng, proto := newTestEngine(4, 4)
	defer eng.Close()

	stream, err := eng.CreateStream(opengine.StreamOptions{Filter: "events/#"})
	require.NoError(t, err)

	require.NoError(t, stream.Open())
	eventually(t, func() bool { return len(proto.SubscribeCalls) == 1 })
	proto.CompleteSubscribe("events/#", nil, false)

	status := <-stream.Status()
	assert.Equal(t, opengine.StatusEstablished, status.Kind)

	proto.DeliverPublish("events/a", []byte("hello"))
	msg := <-stream.Messages()
	assert.Equal(t, "events/a", msg.Topic)
	assert.Equal(t, "hello", string(msg.Payload))

	require.NoError(t, stream.Close())
	_, ok := <-stream.Messages()
	assert.False(t, ok)
}

func TestStreamSessionLossReestablishes(t *testing.T) {
	eng, proto := newTestEngine(4, 4)
	defer eng.Close()

	stream, err := eng.CreateStream(opengine.StreamOptions{Filter: "events/#"})
	require.NoError(t, err)
	require.NoError(t, stream.Open())
	eventually(t, func() bool { return len(proto.SubscribeCalls) == 1 })
	proto.CompleteSubscribe("events/#", nil, false)
	<-stream.Status()

	proto.SetConnected(false, false)
	proto.SetConnected(true, false)

	status := <-stream.Status()
	assert.Equal(t, opengine.StatusLost, status.Kind)

	eventually(t, func() bool { return len(proto.SubscribeCalls) == 2 })
}

func TestCloseCompletesOutstandingOperations(t *testing.T) {
	eng, proto := newTestEngine(4, 4)

	future, err := eng.Submit(opengine.RequestOptions{
		Filters:          []string{"resp/a"},
		ResponsePaths:    []opengine.ResponsePathSpec{{Topic: "resp/a", TokenPath: "token"}},
		PublishTopic:     "req/a",
		CorrelationToken: "tok-1",
	})
	require.NoError(t, err)
	eventually(t, func() bool { return len(proto.SubscribeCalls) == 1 })

	eng.Close()

	_, err = future.Wait(waitCtx())
	assert.Error(t, err)
}

func TestSubmitAfterCloseFails(t *testing.T) {
	eng, _ := newTestEngine(4, 4)
	eng.Close()

	_, err := eng.Submit(opengine.RequestOptions{
		Filters:          []string{"resp/a"},
		ResponsePaths:    []opengine.ResponsePathSpec{{Topic: "resp/a", TokenPath: "token"}},
		PublishTopic:     "req/a",
	})
	assert.Error(t, err)
}
