// Package submgr implements the reference-counted, capacity-bounded
// subscription registry described by the request/response core: one record
// per distinct topic filter, multiplexing many logical listeners onto a
// bounded number of broker subscriptions.
//
// A Manager is only ever called from its owner's single execution context
// (the operation engine's goroutine) — it holds no lock of its own. Event
// emission to the owner is always deferred via the defer hook passed to
// New, never called inline, so a listener reacting to one event can never
// observe the manager mid-mutation.
package submgr

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gonzalop/mqrr/adapter"
	"github.com/gonzalop/mqrr/internal/obsmetrics"
)

// Kind distinguishes request-response subscriptions (short-lived,
// interchangeable) from event-stream subscriptions (long-lived, user-scoped).
// A record's kind never changes after creation.
type Kind int

const (
	RequestResponse Kind = iota
	EventStream
)

func (k Kind) String() string {
	if k == EventStream {
		return "event-stream"
	}
	return "request-response"
}

// Status is a subscription record's broker-side state.
type Status int

const (
	NotSubscribed Status = iota
	Subscribed
)

// PendingAction is a subscription record's in-flight transport operation.
type PendingAction int

const (
	PendingNone PendingAction = iota
	PendingSubscribing
	PendingUnsubscribing
)

// AcquireResult is the outcome of a call to Manager.Acquire.
type AcquireResult int

const (
	ResultSubscribed AcquireResult = iota
	ResultSubscribing
	ResultBlocked
	ResultNoCapacity
	ResultFailure
)

func (r AcquireResult) String() string {
	switch r {
	case ResultSubscribed:
		return "Subscribed"
	case ResultSubscribing:
		return "Subscribing"
	case ResultBlocked:
		return "Blocked"
	case ResultNoCapacity:
		return "NoCapacity"
	case ResultFailure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// EventSink receives the manager's asynchronous, per-listener events. All
// calls happen on the owner's execution context, one deferred turn after
// the manager call that triggered them.
type EventSink interface {
	SubscribeSuccess(opID int64, filter string)
	SubscribeFailure(opID int64, filter string, err error)
	StreamingEstablished(opID int64, filter string)
	StreamingLost(opID int64, filter string)
	StreamingHalted(opID int64, filter string, err error)
	SubscriptionEnded(opID int64, filter string)
	SubscriptionOrphaned(filter string)
	UnsubscribeComplete(filter string)
}

type record struct {
	filter    string
	kind      Kind
	listeners map[int64]struct{}
	status    Status
	pending   PendingAction
	poisoned  bool
}

func newRecord(filter string, kind Kind) *record {
	return &record{filter: filter, kind: kind, listeners: make(map[int64]struct{})}
}

func (r *record) listenerIDs() []int64 {
	ids := make([]int64, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	return ids
}

// Manager is the reference-counted subscription registry. See the package
// doc for its concurrency contract.
type Manager struct {
	proto     adapter.Protocol
	sink      EventSink
	deferFn   func(func())
	maxRR     int
	maxStream int
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *obsmetrics.Metrics

	records map[string]*record
	closed  bool
}

// New constructs a Manager. deferFn must schedule its argument to run after
// the current unit of work completes, on the same execution context that
// calls into Manager — see the engine's deferred-event queue.
func New(proto adapter.Protocol, sink EventSink, maxRR, maxStream int, timeout time.Duration, deferFn func(func()), logger *slog.Logger, metrics *obsmetrics.Metrics) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		proto:     proto,
		sink:      sink,
		deferFn:   deferFn,
		maxRR:     maxRR,
		maxStream: maxStream,
		timeout:   timeout,
		logger:    logger,
		metrics:   metrics,
		records:   make(map[string]*record),
	}
}

func (m *Manager) defer_(fn func()) {
	m.deferFn(fn)
}

func (m *Manager) countByKind(kind Kind) int {
	n := 0
	for _, r := range m.records {
		if r.kind == kind {
			n++
		}
	}
	return n
}

func (m *Manager) countUnsubscribingStream() int {
	n := 0
	for _, r := range m.records {
		if r.kind == EventStream && r.pending == PendingUnsubscribing {
			n++
		}
	}
	return n
}

func (m *Manager) reportGauges() {
	if m.metrics == nil {
		return
	}
	m.metrics.SetSubscriptionRecords(RequestResponse.String(), m.countByKind(RequestResponse))
	m.metrics.SetSubscriptionRecords(EventStream.String(), m.countByKind(EventStream))
}

// Acquire requests that the manager hold a listener reference for opID on
// every filter in filters, all under the same kind. See spec.md §4.2 for
// the full contract; this is its direct implementation.
func (m *Manager) Acquire(opID int64, kind Kind, filters []string) AcquireResult {
	if m.closed {
		m.record(ResultFailure)
		return ResultFailure
	}
	if len(filters) == 0 {
		m.record(ResultFailure)
		return ResultFailure
	}

	for _, f := range filters {
		if rec, ok := m.records[f]; ok {
			if rec.poisoned || rec.kind != kind {
				m.record(ResultFailure)
				return ResultFailure
			}
		}
	}

	for _, f := range filters {
		if rec, ok := m.records[f]; ok && rec.pending == PendingUnsubscribing {
			m.record(ResultBlocked)
			return ResultBlocked
		}
	}

	newCount := 0
	for _, f := range filters {
		if _, ok := m.records[f]; !ok {
			newCount++
		}
	}

	switch kind {
	case RequestResponse:
		currentRR := m.countByKind(RequestResponse)
		if newCount > m.maxRR-currentRR {
			m.record(ResultBlocked)
			return ResultBlocked
		}
	case EventStream:
		currentStream := m.countByKind(EventStream)
		if newCount+currentStream > m.maxStream {
			if newCount+currentStream <= m.maxStream+m.countUnsubscribingStream() {
				m.record(ResultBlocked)
				return ResultBlocked
			}
			m.record(ResultNoCapacity)
			return ResultNoCapacity
		}
	}

	recs := make([]*record, 0, len(filters))
	for _, f := range filters {
		rec, ok := m.records[f]
		if !ok {
			rec = newRecord(f, kind)
			m.records[f] = rec
		}
		rec.listeners[opID] = struct{}{}
		recs = append(recs, rec)
	}
	m.reportGauges()

	allSubscribed := true
	for _, rec := range recs {
		if rec.status != Subscribed {
			allSubscribed = false
			break
		}
	}
	if allSubscribed {
		m.record(ResultSubscribed)
		return ResultSubscribed
	}

	for _, rec := range recs {
		if rec.status == Subscribed || rec.pending != PendingNone {
			continue
		}
		if err := m.activate(rec); err != nil {
			m.record(ResultFailure)
			return ResultFailure
		}
	}

	m.record(ResultSubscribing)
	return ResultSubscribing
}

// Status reports filter's current broker subscription status. Used by
// callers that need to know, right after a Subscribing outcome, which of an
// operation's filters are still waiting on a subscribe completion.
func (m *Manager) Status(filter string) (status Status, ok bool) {
	rec, ok := m.records[filter]
	if !ok {
		return NotSubscribed, false
	}
	return rec.status, true
}

func (m *Manager) record(result AcquireResult) {
	if m.metrics != nil {
		m.metrics.RecordAcquire(result.String())
	}
}

// activate issues an adapter Subscribe for rec if it is idle: not poisoned,
// connected, has listeners, not already subscribed, and has no pending
// action. It is always safe to call — a no-op in every other state.
//
// A well-behaved Protocol never raises synchronously; Subscribe reports
// every outcome, including rejection, through the SubscribeComplete
// callback. A panic from within Subscribe is treated as the synchronous
// failure spec.md §4.2 rule 7 describes, so a misbehaving adapter still
// drives the record to a terminal state instead of leaving it stuck.
func (m *Manager) activate(rec *record) (activationErr error) {
	if rec.poisoned || m.proto.ConnectionState() != adapter.Connected || len(rec.listeners) == 0 {
		return nil
	}
	if rec.status == Subscribed || rec.pending != PendingNone {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("adapter subscribe panicked: %v", r)
			rec.pending = PendingNone
			ids := rec.listenerIDs()
			filter := rec.filter
			if rec.kind == RequestResponse {
				m.defer_(func() {
					for _, id := range ids {
						m.sink.SubscribeFailure(id, filter, err)
					}
				})
			} else {
				rec.poisoned = true
				m.defer_(func() {
					for _, id := range ids {
						m.sink.StreamingHalted(id, filter, err)
					}
				})
			}
			activationErr = err
		}
	}()

	rec.pending = PendingSubscribing
	m.proto.Subscribe(rec.filter, m.timeout)
	return nil
}

// Release drops opID's listener reference on every filter in filters. A
// record whose listener set becomes empty emits SubscriptionOrphaned but is
// not unsubscribed here — destruction is deferred to the next Purge.
func (m *Manager) Release(opID int64, filters []string) {
	for _, f := range filters {
		rec, ok := m.records[f]
		if !ok {
			continue
		}
		delete(rec.listeners, opID)
		if len(rec.listeners) == 0 {
			filter := f
			m.defer_(func() { m.sink.SubscriptionOrphaned(filter) })
		}
	}
	m.reportGauges()
}

// Purge sweeps every record with zero listeners: while connected, it issues
// unsubscribe for any that are subscribed and not already unsubscribing;
// records that are not-subscribed with no pending action are deleted.
func (m *Manager) Purge() {
	connected := m.proto.ConnectionState() == adapter.Connected
	for filter, rec := range m.records {
		if len(rec.listeners) != 0 {
			continue
		}
		if connected && rec.status == Subscribed && rec.pending != PendingUnsubscribing {
			rec.pending = PendingUnsubscribing
			m.proto.Unsubscribe(filter, m.timeout)
		}
		if rec.status == NotSubscribed && rec.pending == PendingNone {
			delete(m.records, filter)
		}
	}
	m.reportGauges()
}

// Close marks the manager closed: from a connected state it issues
// unsubscribe for every record that is subscribed or currently subscribing.
// All subsequent Acquire calls return Failure. Close is idempotent.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true

	if m.proto.ConnectionState() != adapter.Connected {
		return
	}
	for filter, rec := range m.records {
		if rec.pending == PendingUnsubscribing {
			continue
		}
		if rec.status == Subscribed || rec.pending == PendingSubscribing {
			rec.pending = PendingUnsubscribing
			m.proto.Unsubscribe(filter, m.timeout)
		}
	}
}

// HandleSubscribeComplete reacts to an adapter SubscribeCompleteEvent.
func (m *Manager) HandleSubscribeComplete(ev adapter.SubscribeCompleteEvent) {
	rec, ok := m.records[ev.Filter]
	if !ok {
		return
	}

	if ev.Error == nil {
		rec.pending = PendingNone
		rec.status = Subscribed
		ids := rec.listenerIDs()
		filter := rec.filter
		kind := rec.kind
		m.defer_(func() {
			for _, id := range ids {
				if kind == RequestResponse {
					m.sink.SubscribeSuccess(id, filter)
				} else {
					m.sink.StreamingEstablished(id, filter)
				}
			}
		})
		m.reportGauges()
		return
	}

	rec.pending = PendingNone
	if rec.kind == RequestResponse {
		ids := rec.listenerIDs()
		filter := rec.filter
		err := ev.Error
		m.defer_(func() {
			for _, id := range ids {
				m.sink.SubscribeFailure(id, filter, err)
			}
		})
		return
	}

	if ev.Retryable && !m.closed {
		_ = m.activate(rec)
		return
	}

	rec.poisoned = true
	ids := rec.listenerIDs()
	filter := rec.filter
	err := ev.Error
	m.defer_(func() {
		for _, id := range ids {
			m.sink.StreamingHalted(id, filter, err)
		}
	})
}

// HandleUnsubscribeComplete reacts to an adapter UnsubscribeCompleteEvent.
// A failed unsubscribe leaves status Subscribed — the broker may still hold
// the subscription, so the slot cannot be safely reclaimed.
func (m *Manager) HandleUnsubscribeComplete(ev adapter.UnsubscribeCompleteEvent) {
	rec, ok := m.records[ev.Filter]
	if !ok {
		return
	}

	rec.pending = PendingNone
	if ev.Error == nil {
		rec.status = NotSubscribed
		filter := rec.filter
		m.defer_(func() { m.sink.UnsubscribeComplete(filter) })
	}
}

// HandleConnectionStatus reacts to an adapter ConnectionStatusEvent.
func (m *Manager) HandleConnectionStatus(ev adapter.ConnectionStatusEvent) {
	if !ev.Connected {
		return
	}

	if !ev.JoinedSession {
		for _, rec := range m.records {
			if rec.status != Subscribed {
				continue
			}
			rec.status = NotSubscribed
			ids := rec.listenerIDs()
			filter := rec.filter
			if rec.kind == RequestResponse {
				m.defer_(func() {
					for _, id := range ids {
						m.sink.SubscriptionEnded(id, filter)
					}
				})
			} else {
				m.defer_(func() {
					for _, id := range ids {
						m.sink.StreamingLost(id, filter)
					}
				})
			}
		}
	}

	m.Purge()
	for _, rec := range m.records {
		_ = m.activate(rec)
	}
}
