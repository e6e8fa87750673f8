// Package opengine implements the single-threaded operation scheduler that
// sits between the public client facade and the subscription manager: a
// FIFO queue of request/response and streaming operations, a correlation
// token index for routing incoming publishes back to the operation waiting
// on them, and the state machine each operation moves through from
// submission to completion.
//
// Modeled on the teacher library's logicLoop: one goroutine owns every
// mutable field, reads commands off a queue, and the only way other
// goroutines observe progress is through a Future or a Stream's channels —
// never through direct field access.
package opengine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gonzalop/mqrr/adapter"
	"github.com/gonzalop/mqrr/internal/corrpath"
	"github.com/gonzalop/mqrr/internal/mqrrerr"
	"github.com/gonzalop/mqrr/internal/obsmetrics"
	"github.com/gonzalop/mqrr/internal/submgr"
	"github.com/gonzalop/mqrr/internal/topicmatch"
)

// Engine is the operation scheduler. Construct with New; every exported
// method other than the EventSink callbacks is safe to call from any
// goroutine — the work itself always runs on the engine's own goroutine.
// The EventSink callbacks are invoked only by the subscription manager, on
// that same goroutine.
type Engine struct {
	proto   adapter.Protocol
	mgr     *submgr.Manager
	timeout time.Duration
	logger  *slog.Logger
	metrics *obsmetrics.Metrics

	nextID atomic.Int64
	closed atomic.Bool

	mu      sync.Mutex
	pending []func(*Engine)
	wake    chan struct{}
	done    chan struct{}

	deferred []func()

	closeOnce sync.Once

	pendingService bool
	operations     map[int64]*operation
	queue          []int64

	responsePaths     map[string]*responsePathEntry
	operationsByToken map[string]int64
	streamingByFilter map[string]map[int64]struct{}
}

// New constructs an Engine bound to proto and starts its run goroutine.
// maxRR and maxStream bound the subscription manager's capacity; timeout
// applies to every adapter call and every request/response operation.
func New(proto adapter.Protocol, maxRR, maxStream int, timeout time.Duration, logger *slog.Logger, metrics *obsmetrics.Metrics) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		proto:             proto,
		timeout:           timeout,
		logger:            logger,
		metrics:           metrics,
		wake:              make(chan struct{}, 1),
		done:              make(chan struct{}),
		operations:        make(map[int64]*operation),
		responsePaths:     make(map[string]*responsePathEntry),
		operationsByToken: make(map[string]int64),
		streamingByFilter: make(map[string]map[int64]struct{}),
	}
	e.mgr = submgr.New(proto, e, maxRR, maxStream, timeout, e.deferEmit, logger, metrics)

	proto.OnConnectionStatus(func(ev adapter.ConnectionStatusEvent) {
		e.post(func(eng *Engine) {
			eng.mgr.HandleConnectionStatus(ev)
			eng.scheduleService()
		})
	})
	proto.OnSubscribeComplete(func(ev adapter.SubscribeCompleteEvent) {
		e.post(func(eng *Engine) {
			eng.mgr.HandleSubscribeComplete(ev)
			eng.scheduleService()
		})
	})
	proto.OnUnsubscribeComplete(func(ev adapter.UnsubscribeCompleteEvent) {
		e.post(func(eng *Engine) {
			eng.mgr.HandleUnsubscribeComplete(ev)
			eng.scheduleService()
		})
	})
	proto.OnPublishComplete(func(ev adapter.PublishCompleteEvent) {
		e.post(func(eng *Engine) {
			eng.handlePublishComplete(ev)
			eng.scheduleService()
		})
	})
	proto.OnIncomingPublish(func(ev adapter.IncomingPublishEvent) {
		e.post(func(eng *Engine) {
			eng.handleIncomingPublish(ev)
			eng.scheduleService()
		})
	})

	go e.run()
	return e
}

// post queues fn to run on the engine goroutine and wakes it if idle. Safe
// to call from any goroutine, including adapter callback goroutines.
func (e *Engine) post(fn func(*Engine)) {
	e.mu.Lock()
	e.pending = append(e.pending, fn)
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.mu.Unlock()
			select {
			case <-e.wake:
			case <-e.done:
				e.drainOnShutdown()
				return
			}
			continue
		}
		fn := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()

		fn(e)
		e.drainDeferred()
		if e.pendingService {
			e.pendingService = false
			e.serviceLoop()
			e.drainDeferred()
		}

		select {
		case <-e.done:
			e.drainOnShutdown()
			return
		default:
		}
	}
}

// drainOnShutdown runs any commands still queued at the moment the engine
// stops, so a Submit/CreateStream racing the very end of Close still gets a
// completion instead of hanging forever.
func (e *Engine) drainOnShutdown() {
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.mu.Unlock()
			return
		}
		fn := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()
		fn(e)
	}
}

// deferEmit is the hook submgr.New requires: it queues fn for execution
// after the triggering manager call returns, so a listener reacting to one
// event never observes the manager mid-mutation.
func (e *Engine) deferEmit(fn func()) {
	e.deferred = append(e.deferred, fn)
}

func (e *Engine) drainDeferred() {
	for len(e.deferred) > 0 {
		fn := e.deferred[0]
		e.deferred = e.deferred[1:]
		fn()
	}
}

// scheduleService requests a service-loop pass. Any number of calls within
// one command's processing (the command itself, or the deferred events it
// produced) coalesce into a single pass.
func (e *Engine) scheduleService() {
	e.pendingService = true
}

func (e *Engine) nextOperationID() int64 {
	return e.nextID.Add(1)
}

// Submit registers a new request/response operation and returns its Future
// immediately; the operation itself is enqueued asynchronously. opts is
// assumed already validated by the caller (the root client package).
func (e *Engine) Submit(opts RequestOptions) (*Future, error) {
	if e.closed.Load() {
		return nil, fmt.Errorf("%w: client has already been closed", mqrrerr.ErrClientClosed)
	}

	id := e.nextOperationID()
	future := newFuture()
	optsCopy := opts
	op := &operation{
		id:      id,
		kind:    KindRequestResponse,
		state:   StateQueued,
		reqOpts: &optsCopy,
		future:  future,
	}
	e.post(func(eng *Engine) {
		if eng.closed.Load() {
			future.complete(Response{}, fmt.Errorf("%w: client has already been closed", mqrrerr.ErrClientClosed))
			return
		}
		eng.operations[id] = op
		eng.queue = append(eng.queue, id)
		eng.armTimeout(op)
		eng.scheduleService()
	})
	return future, nil
}

// CreateStream allocates a streaming operation's handle. The operation is
// inert — no subscription is attempted — until Stream.Open is called.
func (e *Engine) CreateStream(opts StreamOptions) (*Stream, error) {
	if e.closed.Load() {
		return nil, fmt.Errorf("%w: client has already been closed", mqrrerr.ErrClientClosed)
	}

	id := e.nextOperationID()
	optsCopy := opts
	s := &Stream{
		messages: make(chan IncomingPublish, 64),
		status:   make(chan StatusEvent, 8),
	}
	s.eng = e
	s.id = id
	op := &operation{
		id:         id,
		kind:       KindStreaming,
		state:      StateNone,
		streamOpts: &optsCopy,
		stream:     s,
	}
	e.post(func(eng *Engine) {
		eng.operations[id] = op
	})
	return s, nil
}

// Open places the stream's operation on the service queue. Calling Open
// more than once on a still-live stream is a no-op; calling it after the
// stream or client has closed returns an error.
func (s *Stream) Open() error {
	done := make(chan struct{})
	var resultErr error
	s.eng.post(func(eng *Engine) {
		defer close(done)
		op, ok := eng.operations[s.id]
		if !ok {
			resultErr = fmt.Errorf("%w: stream has already been closed", mqrrerr.ErrClientClosed)
			return
		}
		if eng.closed.Load() {
			resultErr = fmt.Errorf("%w: client has already been closed", mqrrerr.ErrClientClosed)
			return
		}
		if op.state != StateNone {
			return
		}
		op.state = StateQueued
		eng.queue = append(eng.queue, op.id)
		eng.scheduleService()
	})
	select {
	case <-done:
		return resultErr
	case <-s.eng.done:
		return fmt.Errorf("%w: client has already been closed", mqrrerr.ErrClientClosed)
	}
}

// Close releases the stream's subscription reference, halts delivery, and
// closes both of the stream's channels. Idempotent.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		done := make(chan struct{})
		s.eng.post(func(eng *Engine) {
			defer close(done)
			op, ok := eng.operations[s.id]
			if !ok {
				return
			}
			eng.terminate(op, Response{}, nil)
		})
		select {
		case <-done:
		case <-s.eng.done:
		}
	})
	return nil
}

// Close shuts the engine down: every outstanding operation is completed
// with an error reporting client closure, and the subscription manager
// unsubscribes everything it can. Idempotent.
func (e *Engine) Close() {
	done := make(chan struct{})
	e.post(func(eng *Engine) {
		defer close(done)
		if eng.closed.Load() {
			return
		}
		eng.closed.Store(true)
		ops := make([]*operation, 0, len(eng.operations))
		for _, op := range eng.operations {
			ops = append(ops, op)
		}
		for _, op := range ops {
			eng.terminate(op, Response{}, fmt.Errorf("%w: client closed", mqrrerr.ErrClientClosed))
		}
		eng.mgr.Close()
	})
	select {
	case <-done:
	case <-e.done:
	}
	e.closeOnce.Do(func() { close(e.done) })
}

func (e *Engine) armTimeout(op *operation) {
	id := op.id
	op.timer = time.AfterFunc(e.timeout, func() {
		e.post(func(eng *Engine) {
			eng.handleTimeout(id)
			eng.scheduleService()
		})
	})
}

func (e *Engine) handleTimeout(id int64) {
	op, ok := e.operations[id]
	if !ok || op.state == StateTerminal {
		return
	}
	if e.metrics != nil {
		e.metrics.IncTimeout()
	}
	e.terminate(op, Response{}, fmt.Errorf("%w after %s", mqrrerr.ErrOperationTimeout, e.timeout))
}

// serviceLoop drains the FIFO queue from the head, stopping at the first
// operation that cannot be dequeued yet (correlation-token conflict) or
// whose acquire is Blocked by the subscription manager — both preserve
// ordering for everything still behind it.
func (e *Engine) serviceLoop() {
	e.mgr.Purge()
	for len(e.queue) > 0 {
		id := e.queue[0]
		op, ok := e.operations[id]
		if !ok {
			e.queue = e.queue[1:]
			continue
		}
		if !e.canDequeue(op) {
			break
		}

		filters := e.filtersFor(op)
		kind := submgrKind(op.kind)
		result := e.mgr.Acquire(op.id, kind, filters)
		if result == submgr.ResultBlocked {
			break
		}
		e.queue = e.queue[1:]

		switch result {
		case submgr.ResultFailure, submgr.ResultNoCapacity:
			e.terminate(op, Response{}, fmt.Errorf("%w: %s", mqrrerr.ErrAcquireFailed, result.String()))
			continue
		}

		e.insertIntoTables(op, filters)
		switch result {
		case submgr.ResultSubscribing:
			op.state = StatePendingSubscription
			op.pendingSubCount = e.countPendingFilters(filters)
		case submgr.ResultSubscribed:
			if op.kind == KindStreaming {
				op.state = StateSubscribed
				e.sendStatus(op.stream, StatusEvent{Kind: StatusEstablished})
			} else {
				e.issuePublish(op)
			}
		}
	}
	if e.metrics != nil {
		e.metrics.SetQueueDepth(len(e.queue))
	}
}

func (e *Engine) countPendingFilters(filters []string) int {
	n := 0
	for _, f := range filters {
		if st, ok := e.mgr.Status(f); !ok || st != submgr.Subscribed {
			n++
		}
	}
	return n
}

func (e *Engine) canDequeue(op *operation) bool {
	if op.kind != KindRequestResponse {
		return true
	}
	_, exists := e.operationsByToken[op.reqOpts.CorrelationToken]
	return !exists
}

func (e *Engine) filtersFor(op *operation) []string {
	if op.kind == KindStreaming {
		return []string{op.streamOpts.Filter}
	}
	return op.reqOpts.Filters
}

func submgrKind(k Kind) submgr.Kind {
	if k == KindStreaming {
		return submgr.EventStream
	}
	return submgr.RequestResponse
}

func (e *Engine) insertIntoTables(op *operation, filters []string) {
	if op.insertedInTables {
		return
	}
	op.insertedInTables = true

	if op.kind == KindRequestResponse {
		for _, rp := range op.reqOpts.ResponsePaths {
			entry, ok := e.responsePaths[rp.Topic]
			if !ok {
				entry = &responsePathEntry{tokenPath: corrpath.Parse(rp.TokenPath)}
				e.responsePaths[rp.Topic] = entry
			}
			entry.refCount++
			op.parsed = append(op.parsed, parsedResponsePath{topic: rp.Topic, tokenPath: entry.tokenPath})
		}
		e.operationsByToken[op.reqOpts.CorrelationToken] = op.id
		return
	}

	filter := op.streamOpts.Filter
	set, ok := e.streamingByFilter[filter]
	if !ok {
		set = make(map[int64]struct{})
		e.streamingByFilter[filter] = set
	}
	set[op.id] = struct{}{}
}

func (e *Engine) removeFromTables(op *operation) {
	if !op.insertedInTables {
		return
	}
	if op.kind == KindRequestResponse {
		for _, rp := range op.parsed {
			if entry, ok := e.responsePaths[rp.topic]; ok {
				entry.refCount--
				if entry.refCount <= 0 {
					delete(e.responsePaths, rp.topic)
				}
			}
		}
		delete(e.operationsByToken, op.reqOpts.CorrelationToken)
		return
	}

	filter := op.streamOpts.Filter
	if set, ok := e.streamingByFilter[filter]; ok {
		delete(set, op.id)
		if len(set) == 0 {
			delete(e.streamingByFilter, filter)
		}
	}
}

func (e *Engine) issuePublish(op *operation) {
	op.state = StatePendingResponse
	defer func() {
		if r := recover(); r != nil {
			e.terminate(op, Response{}, fmt.Errorf("%w: adapter publish panicked: %v", mqrrerr.ErrPublishFailure, r))
		}
	}()
	e.proto.Publish(op.reqOpts.PublishTopic, op.reqOpts.Payload, e.timeout, op.id)
}

func (e *Engine) handlePublishComplete(ev adapter.PublishCompleteEvent) {
	id, ok := ev.Handle.(int64)
	if !ok {
		return
	}
	op, ok := e.operations[id]
	if !ok || op.state == StateTerminal {
		return
	}
	if ev.Error != nil {
		e.terminate(op, Response{}, fmt.Errorf("%w: %v", mqrrerr.ErrPublishFailure, ev.Error))
	}
}

func (e *Engine) handleIncomingPublish(ev adapter.IncomingPublishEvent) {
	if entry, ok := e.responsePaths[ev.Topic]; ok {
		if token, ok2 := corrpath.Extract(ev.Payload, entry.tokenPath); ok2 {
			if id, ok3 := e.operationsByToken[token]; ok3 {
				if op, ok4 := e.operations[id]; ok4 {
					e.terminate(op, Response{Topic: ev.Topic, Payload: ev.Payload}, nil)
				}
			}
		} else {
			e.logger.Debug("dropping response payload with unresolvable correlation token", "topic", ev.Topic)
		}
	}

	for filter, ids := range e.streamingByFilter {
		if !topicmatch.Match(filter, ev.Topic) {
			continue
		}
		for id := range ids {
			if op, ok := e.operations[id]; ok && op.stream != nil {
				e.sendMessage(op.stream, IncomingPublish{Topic: ev.Topic, Payload: ev.Payload})
			}
		}
	}
}

func (e *Engine) sendMessage(s *Stream, msg IncomingPublish) {
	select {
	case s.messages <- msg:
	default:
		e.logger.Warn("dropping streamed message, receiver is not keeping up", "topic", msg.Topic)
	}
}

func (e *Engine) sendStatus(s *Stream, ev StatusEvent) {
	select {
	case s.status <- ev:
	default:
		e.logger.Warn("dropping streaming status event, receiver is not keeping up", "kind", ev.Kind.String())
	}
}

// terminate moves op to StateTerminal, releases its subscription references,
// removes it from every index, cancels its timer, and delivers its
// completion (a Future result for request/response, a status event plus
// channel closes for streaming). Safe to call more than once; only the
// first call has any effect.
func (e *Engine) terminate(op *operation, resp Response, err error) {
	if op.state == StateTerminal {
		return
	}
	op.state = StateTerminal
	if op.timer != nil {
		op.timer.Stop()
	}

	e.mgr.Release(op.id, e.filtersFor(op))
	e.removeFromTables(op)
	delete(e.operations, op.id)

	if op.kind == KindRequestResponse {
		op.future.complete(resp, err)
		return
	}

	e.sendStatus(op.stream, StatusEvent{Kind: StatusHalted, Error: err})
	close(op.stream.status)
	close(op.stream.messages)
}

// EventSink implementation — called by submgr.Manager, always on the
// engine's own goroutine, one deferred turn after the manager call that
// produced the event.

func (e *Engine) SubscribeSuccess(opID int64, filter string) {
	op, ok := e.operations[opID]
	if !ok || op.kind != KindRequestResponse || op.state == StateTerminal {
		return
	}
	op.pendingSubCount--
	if op.pendingSubCount <= 0 && op.state == StatePendingSubscription {
		e.issuePublish(op)
	}
}

func (e *Engine) SubscribeFailure(opID int64, filter string, err error) {
	op, ok := e.operations[opID]
	if !ok || op.kind != KindRequestResponse {
		return
	}
	e.terminate(op, Response{}, fmt.Errorf("%w: %v", mqrrerr.ErrSubscribeFailure, err))
}

func (e *Engine) StreamingEstablished(opID int64, filter string) {
	op, ok := e.operations[opID]
	if !ok || op.kind != KindStreaming || op.state == StateTerminal {
		return
	}
	op.state = StateSubscribed
	e.sendStatus(op.stream, StatusEvent{Kind: StatusEstablished})
}

func (e *Engine) StreamingLost(opID int64, filter string) {
	op, ok := e.operations[opID]
	if !ok || op.kind != KindStreaming || op.state == StateTerminal {
		return
	}
	e.sendStatus(op.stream, StatusEvent{Kind: StatusLost})
}

func (e *Engine) StreamingHalted(opID int64, filter string, err error) {
	op, ok := e.operations[opID]
	if !ok || op.kind != KindStreaming {
		return
	}
	e.terminate(op, Response{}, fmt.Errorf("%w: %v", mqrrerr.ErrStreamingHalted, err))
}

func (e *Engine) SubscriptionEnded(opID int64, filter string) {
	op, ok := e.operations[opID]
	if !ok || op.kind != KindRequestResponse {
		return
	}
	e.terminate(op, Response{}, fmt.Errorf("%w: session did not resume", mqrrerr.ErrSubscriptionEnded))
}

// SubscriptionOrphaned is purely informational here — the manager reclaims
// the record itself on its next Purge sweep.
func (e *Engine) SubscriptionOrphaned(filter string) {}

// UnsubscribeComplete is purely informational — nothing in the engine keys
// off an unsubscribe finishing.
func (e *Engine) UnsubscribeComplete(filter string) {}
