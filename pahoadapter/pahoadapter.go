// Package pahoadapter binds adapter.Protocol to a real MQTT broker using
// github.com/eclipse/paho.golang's autopaho connection manager, which
// handles reconnection and session resumption on its own.
package pahoadapter

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/gonzalop/mqrr/adapter"
)

// Config configures a broker connection. BrokerURLs and ClientID are
// required; everything else has a working default.
type Config struct {
	BrokerURLs []*url.URL
	ClientID   string
	Username   string
	Password   []byte
	KeepAlive  uint16
	QoS        byte
	TLSConfig  *tls.Config
	Logger     *slog.Logger
}

// Adapter implements adapter.Protocol over a paho.golang/autopaho
// connection. Construct with New, then call Start before handing it to
// mqrr.NewRequestResponseClient.
type Adapter struct {
	cfg    Config
	logger *slog.Logger
	cm     *autopaho.ConnectionManager

	connected bool

	mu              sync.Mutex
	onConnStatus    func(adapter.ConnectionStatusEvent)
	onSubComplete   func(adapter.SubscribeCompleteEvent)
	onUnsubComplete func(adapter.UnsubscribeCompleteEvent)
	onPubComplete   func(adapter.PublishCompleteEvent)
	onIncoming      func(adapter.IncomingPublishEvent)
}

// New constructs an Adapter. It does not connect — call Start.
func New(cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30
	}
	return &Adapter{cfg: cfg, logger: logger}
}

// Start opens the broker connection and begins autopaho's connect/reconnect
// loop. It blocks only until the underlying autopaho.ConnectionManager has
// been constructed — it does not wait for the first successful connection;
// call cm.AwaitConnection via AwaitConnection for that.
func (a *Adapter) Start(ctx context.Context) error {
	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      a.cfg.BrokerURLs,
		KeepAlive:       a.cfg.KeepAlive,
		ConnectUsername: a.cfg.Username,
		ConnectPassword: a.cfg.Password,
		TlsCfg:          a.cfg.TLSConfig,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connack *paho.Connack) {
			a.setConnected(true)
			a.logger.Info("pahoadapter: connected", "client_id", a.cfg.ClientID)
			a.emitConnStatus(adapter.ConnectionStatusEvent{
				Connected:     true,
				JoinedSession: connack.SessionPresent,
			})
		},
		OnConnectError: func(err error) {
			a.logger.Warn("pahoadapter: connect attempt failed", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: a.cfg.ClientID,
			OnClientError: func(err error) {
				a.logger.Warn("pahoadapter: client error", "error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				a.setConnected(false)
				a.emitConnStatus(adapter.ConnectionStatusEvent{Connected: false})
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("pahoadapter: connect: %w", err)
	}
	a.cm = cm
	a.cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		a.emitIncoming(adapter.IncomingPublishEvent{
			Topic:   pr.Packet.Topic,
			Payload: pr.Packet.Payload,
		})
		return true, nil
	})
	return nil
}

// AwaitConnection blocks until the first connection succeeds or ctx expires.
func (a *Adapter) AwaitConnection(ctx context.Context) error {
	if a.cm == nil {
		return fmt.Errorf("pahoadapter: Start has not been called")
	}
	return a.cm.AwaitConnection(ctx)
}

// Close disconnects from the broker. Satisfies the optional io.Closer
// interface the root client checks for on shutdown.
func (a *Adapter) Close() error {
	if a.cm == nil {
		return nil
	}
	return a.cm.Disconnect(context.Background())
}

func (a *Adapter) setConnected(v bool) {
	a.mu.Lock()
	a.connected = v
	a.mu.Unlock()
}

// ConnectionState implements adapter.Protocol.
func (a *Adapter) ConnectionState() adapter.ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return adapter.Connected
	}
	return adapter.Disconnected
}

// Subscribe implements adapter.Protocol. The broker round trip runs on its
// own goroutine so the call itself never blocks.
func (a *Adapter) Subscribe(filter string, timeout time.Duration) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_, err := a.cm.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: a.cfg.QoS}},
		})
		wrapped, retryable := classifyTransportError(err)
		a.emitSubComplete(adapter.SubscribeCompleteEvent{Filter: filter, Error: wrapped, Retryable: retryable})
	}()
}

// Unsubscribe implements adapter.Protocol.
func (a *Adapter) Unsubscribe(filter string, timeout time.Duration) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_, err := a.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{filter}})
		a.emitUnsubComplete(adapter.UnsubscribeCompleteEvent{Filter: filter, Error: err})
	}()
}

// Publish implements adapter.Protocol.
func (a *Adapter) Publish(topic string, payload []byte, timeout time.Duration, handle any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_, err := a.cm.Publish(ctx, &paho.Publish{Topic: topic, Payload: payload, QoS: a.cfg.QoS})
		a.emitPubComplete(adapter.PublishCompleteEvent{Handle: handle, Error: err})
	}()
}

func (a *Adapter) OnConnectionStatus(cb func(adapter.ConnectionStatusEvent)) {
	a.mu.Lock()
	a.onConnStatus = cb
	a.mu.Unlock()
}

func (a *Adapter) OnSubscribeComplete(cb func(adapter.SubscribeCompleteEvent)) {
	a.mu.Lock()
	a.onSubComplete = cb
	a.mu.Unlock()
}

func (a *Adapter) OnUnsubscribeComplete(cb func(adapter.UnsubscribeCompleteEvent)) {
	a.mu.Lock()
	a.onUnsubComplete = cb
	a.mu.Unlock()
}

func (a *Adapter) OnPublishComplete(cb func(adapter.PublishCompleteEvent)) {
	a.mu.Lock()
	a.onPubComplete = cb
	a.mu.Unlock()
}

func (a *Adapter) OnIncomingPublish(cb func(adapter.IncomingPublishEvent)) {
	a.mu.Lock()
	a.onIncoming = cb
	a.mu.Unlock()
}

func (a *Adapter) emitConnStatus(ev adapter.ConnectionStatusEvent) {
	a.mu.Lock()
	cb := a.onConnStatus
	a.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (a *Adapter) emitSubComplete(ev adapter.SubscribeCompleteEvent) {
	a.mu.Lock()
	cb := a.onSubComplete
	a.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (a *Adapter) emitUnsubComplete(ev adapter.UnsubscribeCompleteEvent) {
	a.mu.Lock()
	cb := a.onUnsubComplete
	a.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (a *Adapter) emitPubComplete(ev adapter.PublishCompleteEvent) {
	a.mu.Lock()
	cb := a.onPubComplete
	a.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (a *Adapter) emitIncoming(ev adapter.IncomingPublishEvent) {
	a.mu.Lock()
	cb := a.onIncoming
	a.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// classifyTransportError reports whether err is worth a later retry. A
// context deadline means the broker never answered in time, which a
// subsequent attempt could still resolve; anything else is treated as
// terminal for this record since paho.golang does not currently surface
// per-reason-code subscribe rejections distinctly from transport failures.
func classifyTransportError(err error) (wrapped error, retryable bool) {
	if err == nil {
		return nil, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err, true
	}
	return err, false
}
