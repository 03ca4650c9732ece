// Package signaling is the peer side of the relay connection: one socket,
// an outbound FIFO that survives disconnects, and reconnect with backoff.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReconnectDelay       = time.Second
	MaxReconnectDelay           = 30 * time.Second
	DefaultMaxReconnectAttempts = 10

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var (
	ErrReconnectExhausted = errors.New("signaling: reconnect attempts exhausted")
	ErrClosed             = errors.New("signaling: client closed")
)

type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusOpen
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	default:
		return "idle"
	}
}

type Options struct {
	URL         string
	PeerID      string
	Room        string
	DisplayName string
	Host        bool
	WaitingRoom bool

	DisableReconnect     bool
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	Dialer *websocket.Dialer
}

// Client keeps one relay socket alive. It is safe for concurrent use.
type Client struct {
	events chan Event
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}

	mu       sync.Mutex
	opts     Options
	status   Status
	conn     *websocket.Conn
	pending  []wire.Inbound
	attempts int
	timer    *time.Timer
	closed   bool
}

func NewClient(opts Options) (*Client, error) {
	if _, err := domain.ParsePeerID(opts.PeerID); err != nil {
		return nil, fmt.Errorf("signaling: %w", err)
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if _, err := endpoint(opts); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		opts:   opts,
	}, nil
}

// Events delivers everything the client observes, in order.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) PeerID() domain.PeerID { return domain.PeerID(c.opts.PeerID) }

// Connect is a no-op while a socket is open or being dialed.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed || c.status == StatusOpen || c.status == StatusConnecting {
		c.mu.Unlock()
		return
	}
	c.status = StatusConnecting
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	opts := c.opts
	c.mu.Unlock()
	go c.dial(opts)
}

// Close stops reconnecting and closes the live socket. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.status = StatusClosed
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	close(c.done)
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return conn.Close()
	}
	return nil
}

func (c *Client) SendSignal(to domain.PeerID, data json.RawMessage) error {
	return c.enqueue(wire.Inbound{Type: wire.TypeSignal, To: string(to), Data: data})
}

func (c *Client) Broadcast(data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("signaling: marshal broadcast: %w", err)
	}
	return c.enqueue(wire.Inbound{Type: wire.TypeBroadcast, Data: raw})
}

func (c *Client) SendControl(action string, data any) error {
	msg := wire.Inbound{Type: wire.TypeControl, Action: action}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("signaling: marshal control: %w", err)
		}
		msg.Data = raw
	}
	return c.enqueue(msg)
}

// SetDisplayName renames this peer now and on every later reconnect.
func (c *Client) SetDisplayName(name string) error {
	name, err := domain.ParseDisplayName(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.opts.DisplayName = name
	c.mu.Unlock()
	return c.SendControl(wire.ActionSetDisplayName, wire.DisplayName{DisplayName: name})
}

// enqueue appends to the FIFO. The write pump drains it whenever a socket
// is open, so sends before open are flushed in order on the next open.
func (c *Client) enqueue(msg wire.Inbound) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending = append(c.pending, msg)
	c.mu.Unlock()
	c.poke()
	return nil
}

func (c *Client) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) next() (wire.Inbound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return wire.Inbound{}, false
	}
	msg := c.pending[0]
	c.pending = c.pending[1:]
	return msg, true
}

func (c *Client) requeue(msg wire.Inbound) {
	c.mu.Lock()
	c.pending = append([]wire.Inbound{msg}, c.pending...)
	c.mu.Unlock()
}

// Pending reports how many messages wait for a socket.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) dial(opts Options) {
	logger := log.With().Str("module", "signaling").Str("peer", opts.PeerID).Logger()
	url, err := endpoint(opts)
	if err != nil {
		c.emit(ErrorEvent{Err: err, Terminal: true})
		return
	}

	conn, _, err := opts.Dialer.DialContext(c.ctx, url, nil)
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		logger.Debug().Err(err).Msg("dial failed")
		c.emit(ErrorEvent{Err: fmt.Errorf("signaling: dial: %w", err)})
		c.disconnected(CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.status = StatusOpen
	c.attempts = 0
	c.mu.Unlock()

	logger.Info().Str("url", url).Msg("relay connected")
	c.emit(OpenEvent{})

	stop := make(chan struct{})
	go c.writePump(conn, stop)
	c.readPump(conn, stop)
}

func (c *Client) readPump(conn *websocket.Conn, stop chan struct{}) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var closeEv CloseEvent
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeEv = closeEventOf(err)
			break
		}
		ev, err := Decode(data)
		if err != nil {
			c.emit(ErrorEvent{Err: err})
			continue
		}
		c.emit(ev)
	}

	close(stop)
	_ = conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.disconnected(closeEv)
}

func (c *Client) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		for {
			msg, ok := c.next()
			if !ok {
				break
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				c.requeue(msg)
				_ = conn.Close()
				return
			}
		}
		select {
		case <-stop:
			return
		case <-c.wake:
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) disconnected(ev CloseEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.status = StatusClosed
	c.mu.Unlock()

	c.emit(ev)
	if finalClose(ev.Code) {
		log.Info().Str("module", "signaling").Int("code", ev.Code).Str("reason", ev.Reason).Msg("relay refused session, not reconnecting")
		c.emit(ErrorEvent{Err: &RelayError{Message: ev.Reason}, Terminal: true})
		return
	}
	if c.scheduleReconnect() {
		return
	}
	c.emit(ErrorEvent{Err: ErrReconnectExhausted, Terminal: true})
}

// scheduleReconnect reports false once the attempt budget is spent.
func (c *Client) scheduleReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.opts.DisableReconnect {
		return true
	}
	c.attempts++
	if c.attempts > c.opts.MaxReconnectAttempts {
		log.Warn().Str("module", "signaling").Int("attempts", c.attempts-1).Msg("giving up on relay")
		return false
	}
	delay := backoff(c.opts.ReconnectDelay, c.attempts)
	log.Info().Str("module", "signaling").Int("attempt", c.attempts).Dur("delay", delay).Msg("reconnect scheduled")
	c.timer = time.AfterFunc(delay, c.Connect)
	return true
}

// Close codes the relay uses to end a session for good.
const (
	closeReplaced     = 4000
	closeRejected     = 4403
	closeHostConflict = 4409
)

func finalClose(code int) bool {
	return code == closeReplaced || code == closeRejected || code == closeHostConflict
}

func closeEventOf(err error) CloseEvent {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return CloseEvent{Code: ce.Code, Reason: ce.Text}
	}
	return CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
}
