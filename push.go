package gleam

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Event Payload Types
// ============================================================================

// NewMessagePayload is delivered when a message arrives on any conversation
// of the authenticated user.
type NewMessagePayload struct {
	Message Message `json:"message"`
}

// TypingPayload is delivered when the other party starts or stops typing.
// Typing events are ephemeral: they are forwarded to callbacks and never
// stored; expiry is the subscriber's responsibility.
type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// ReadReceiptPayload is delivered when the other party marks a conversation
// read.
type ReadReceiptPayload struct {
	ConversationKey string `json:"conversationKey"`
}

// PongPayload is the response to a ping command.
type PongPayload struct {
	RequestID string `json:"requestId"`
}

// PushErrorPayload is delivered when a server-side error occurs.
type PushErrorPayload struct {
	Message string `json:"message"`
}

// PushEnvelope is the wire format for all push events.
type PushEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ============================================================================
// Configuration
// ============================================================================

// PushConfig configures the push channel client.
type PushConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	Logger               *slog.Logger
}

func (c *PushConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// PushState represents the connection state.
type PushState string

const (
	StateDisconnected PushState = "disconnected"
	StateConnecting   PushState = "connecting"
	StateConnected    PushState = "connected"
	StateReconnecting PushState = "reconnecting"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// PushEventHandler is the generic event callback type.
type PushEventHandler func(eventType string, payload json.RawMessage)

type pushDispatcher struct {
	mu             sync.RWMutex
	nextID         int
	onNewMessage   map[int]func(NewMessagePayload)
	onTyping       map[int]func(TypingPayload)
	onReadReceipt  map[int]func(ReadReceiptPayload)
	onError        map[int]func(PushErrorPayload)
	onConnected    map[int]func()
	onDisconnected map[int]func(int, string)
	onReconnecting map[int]func(int, time.Duration)
	generic        map[string]map[int]PushEventHandler
}

func newPushDispatcher() *pushDispatcher {
	return &pushDispatcher{
		onNewMessage:   make(map[int]func(NewMessagePayload)),
		onTyping:       make(map[int]func(TypingPayload)),
		onReadReceipt:  make(map[int]func(ReadReceiptPayload)),
		onError:        make(map[int]func(PushErrorPayload)),
		onConnected:    make(map[int]func()),
		onDisconnected: make(map[int]func(int, string)),
		onReconnecting: make(map[int]func(int, time.Duration)),
		generic:        make(map[string]map[int]PushEventHandler),
	}
}

func (d *pushDispatcher) dispatch(env PushEnvelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Type {
	case "new_message":
		var p NewMessagePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onNewMessage {
				go h(p)
			}
		}
	case "typing":
		var p TypingPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onTyping {
				go h(p)
			}
		}
	case "read_receipt":
		var p ReadReceiptPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onReadReceipt {
				go h(p)
			}
		}
	case "error":
		var p PushErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onError {
				go h(p)
			}
		}
	}

	for _, h := range d.generic[env.Type] {
		handler := h // capture
		go handler(env.Type, env.Payload)
	}
}

func (d *pushDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := make([]func(), 0, len(d.onConnected))
	for _, h := range d.onConnected {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}

func (d *pushDispatcher) emitDisconnected(code int, reason string) {
	d.mu.RLock()
	handlers := make([]func(int, string), 0, len(d.onDisconnected))
	for _, h := range d.onDisconnected {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(code, reason)
	}
}

func (d *pushDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := make([]func(int, time.Duration), 0, len(d.onReconnecting))
	for _, h := range d.onReconnecting {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *PushConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// PushClient
// ============================================================================

// PushClient is the process-wide push channel connection, shared by every
// SyncScheduler of the session. Delivery is best-effort; the poll channel is
// the guaranteed-eventual-consistency backstop.
type PushClient struct {
	client           *Client
	config           *PushConfig
	conn             *websocket.Conn
	mu               sync.Mutex
	state            PushState
	intentionalClose bool
	dispatcher       *pushDispatcher
	recon            *reconnector
	cancelFn         context.CancelFunc
	pingCounter      int
	pendingPings     map[string]chan PongPayload
	pendingMu        sync.Mutex
}

// NewPushClient creates a push channel client. Call Connect to establish the
// connection.
func NewPushClient(client *Client, config *PushConfig) *PushClient {
	cfg := PushConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &PushClient{
		client:       client,
		config:       &cfg,
		state:        StateDisconnected,
		dispatcher:   newPushDispatcher(),
		recon:        newReconnector(&cfg),
		pendingPings: make(map[string]chan PongPayload),
	}
}

// OnNewMessage registers a handler for inbound messages. The returned
// function removes the handler.
func (pc *PushClient) OnNewMessage(h func(NewMessagePayload)) func() {
	d := pc.dispatcher
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.onNewMessage[id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.onNewMessage, id)
		d.mu.Unlock()
	}
}

// OnTyping registers a handler for typing indicators.
func (pc *PushClient) OnTyping(h func(TypingPayload)) func() {
	d := pc.dispatcher
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.onTyping[id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.onTyping, id)
		d.mu.Unlock()
	}
}

// OnReadReceipt registers a handler for read receipts.
func (pc *PushClient) OnReadReceipt(h func(ReadReceiptPayload)) func() {
	d := pc.dispatcher
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.onReadReceipt[id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.onReadReceipt, id)
		d.mu.Unlock()
	}
}

// OnError registers a handler for server errors.
func (pc *PushClient) OnError(h func(PushErrorPayload)) func() {
	d := pc.dispatcher
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.onError[id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.onError, id)
		d.mu.Unlock()
	}
}

// OnConnected registers a handler for the connected meta-event.
func (pc *PushClient) OnConnected(h func()) func() {
	d := pc.dispatcher
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.onConnected[id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.onConnected, id)
		d.mu.Unlock()
	}
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (pc *PushClient) OnDisconnected(h func(code int, reason string)) func() {
	d := pc.dispatcher
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.onDisconnected[id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.onDisconnected, id)
		d.mu.Unlock()
	}
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (pc *PushClient) OnReconnecting(h func(attempt int, delay time.Duration)) func() {
	d := pc.dispatcher
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.onReconnecting[id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.onReconnecting, id)
		d.mu.Unlock()
	}
}

// On registers a generic handler for an event type.
func (pc *PushClient) On(eventType string, h PushEventHandler) func() {
	d := pc.dispatcher
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	if d.generic[eventType] == nil {
		d.generic[eventType] = make(map[int]PushEventHandler)
	}
	d.generic[eventType][id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.generic[eventType], id)
		d.mu.Unlock()
	}
}

// State returns the current connection state.
func (pc *PushClient) State() PushState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.state
}

// Connect establishes the websocket connection.
func (pc *PushClient) Connect(ctx context.Context) error {
	pc.mu.Lock()
	if pc.state == StateConnected || pc.state == StateConnecting {
		pc.mu.Unlock()
		return nil
	}
	pc.state = StateConnecting
	pc.intentionalClose = false
	pc.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, pc.client.PushURL(), nil)
	if err != nil {
		pc.mu.Lock()
		pc.state = StateDisconnected
		pc.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	pc.mu.Lock()
	pc.conn = conn
	pc.state = StateConnected
	pc.mu.Unlock()
	pc.recon.markConnected()
	pc.dispatcher.emitConnected()

	connCtx, cancel := context.WithCancel(ctx)
	pc.mu.Lock()
	pc.cancelFn = cancel
	pc.mu.Unlock()

	go pc.readLoop(connCtx)
	go pc.heartbeatLoop(connCtx)

	return nil
}

// Disconnect gracefully closes the connection.
func (pc *PushClient) Disconnect() error {
	pc.mu.Lock()
	pc.intentionalClose = true
	if pc.cancelFn != nil {
		pc.cancelFn()
		pc.cancelFn = nil
	}
	conn := pc.conn
	pc.conn = nil
	pc.state = StateDisconnected
	pc.mu.Unlock()

	pc.clearPendingPings()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	pc.dispatcher.emitDisconnected(1000, "client disconnect")
	return nil
}

// SendTyping reports the user's typing state on a conversation.
func (pc *PushClient) SendTyping(ctx context.Context, conversationKey string, isTyping bool) error {
	return pc.send(ctx, "typing", map[string]any{
		"conversationKey": conversationKey,
		"isTyping":        isTyping,
	})
}

// Ping sends a ping and waits for the matching pong.
func (pc *PushClient) Ping(ctx context.Context) (*PongPayload, error) {
	pc.mu.Lock()
	pc.pingCounter++
	requestID := fmt.Sprintf("ping-%d", pc.pingCounter)
	pc.mu.Unlock()

	ch := make(chan PongPayload, 1)
	pc.pendingMu.Lock()
	pc.pendingPings[requestID] = ch
	pc.pendingMu.Unlock()

	err := pc.send(ctx, "ping", map[string]string{"requestId": requestID})
	if err != nil {
		pc.pendingMu.Lock()
		delete(pc.pendingPings, requestID)
		pc.pendingMu.Unlock()
		return nil, err
	}

	select {
	case pong := <-ch:
		return &pong, nil
	case <-time.After(10 * time.Second):
		pc.pendingMu.Lock()
		delete(pc.pendingPings, requestID)
		pc.pendingMu.Unlock()
		return nil, fmt.Errorf("ping timeout")
	case <-ctx.Done():
		pc.pendingMu.Lock()
		delete(pc.pendingPings, requestID)
		pc.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

func (pc *PushClient) send(ctx context.Context, eventType string, payload any) error {
	pc.mu.Lock()
	conn := pc.conn
	pc.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(PushEnvelope{Type: eventType, Payload: raw})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (pc *PushClient) readLoop(ctx context.Context) {
	for {
		pc.mu.Lock()
		conn := pc.conn
		pc.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			pc.mu.Lock()
			intentional := pc.intentionalClose
			pc.mu.Unlock()
			if intentional {
				return
			}

			pc.mu.Lock()
			pc.state = StateDisconnected
			pc.conn = nil
			pc.mu.Unlock()

			pc.dispatcher.emitDisconnected(0, err.Error())

			if pc.config.AutoReconnect && pc.recon.shouldReconnect() {
				pc.scheduleReconnect(ctx)
			}
			return
		}

		var env PushEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}

		if env.Type == "pong" {
			var p PongPayload
			if json.Unmarshal(env.Payload, &p) == nil && p.RequestID != "" {
				pc.pendingMu.Lock()
				ch, ok := pc.pendingPings[p.RequestID]
				if ok {
					delete(pc.pendingPings, p.RequestID)
				}
				pc.pendingMu.Unlock()
				if ok {
					ch <- p
				}
			}
		}

		pc.dispatcher.dispatch(env)
	}
}

func (pc *PushClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(pc.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pc.mu.Lock()
			s := pc.state
			pc.mu.Unlock()
			if s != StateConnected {
				return
			}

			if _, err := pc.Ping(ctx); err != nil {
				pc.config.Logger.Warn("push heartbeat failed", "error", err)
				pc.mu.Lock()
				conn := pc.conn
				pc.mu.Unlock()
				if conn != nil {
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func (pc *PushClient) scheduleReconnect(ctx context.Context) {
	delay := pc.recon.nextDelay()
	pc.mu.Lock()
	pc.state = StateReconnecting
	pc.mu.Unlock()

	pc.dispatcher.emitReconnecting(pc.recon.attempt, delay)
	pc.config.Logger.Info("push channel reconnecting",
		"attempt", pc.recon.attempt, "delay", delay)

	time.Sleep(delay)

	if err := pc.Connect(ctx); err != nil {
		if pc.config.AutoReconnect && pc.recon.shouldReconnect() {
			pc.scheduleReconnect(ctx)
		} else {
			pc.mu.Lock()
			pc.state = StateDisconnected
			pc.mu.Unlock()
		}
	}
}

func (pc *PushClient) clearPendingPings() {
	pc.pendingMu.Lock()
	for k, ch := range pc.pendingPings {
		close(ch)
		delete(pc.pendingPings, k)
	}
	pc.pendingMu.Unlock()
}
