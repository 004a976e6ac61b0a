package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/five82/kiosk/internal/conn"
)

// Disconnect reasons, matching the names Socket.IO clients report.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonPingTimeout      = "ping timeout"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("socketio: client closed")

// ErrRejected wraps a connect error sent by the server.
var ErrRejected = errors.New("socketio: connection rejected")

// closeTimeout bounds the farewell disconnect frame sent by Close.
const closeTimeout = time.Second

type pendingAck struct {
	fn   conn.Ack
	sent bool
}

type outbound struct {
	frame []byte
	ackID uint64
}

// Client is a Socket.IO client on the default namespace over a single
// WebSocket. It reconnects on its own until Close is called, the server
// disconnects it, or the attempt budget runs out.
type Client struct {
	id     string
	url    string
	urlErr error
	opts   Options
	notify func(conn.Lifecycle)
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	connected atomic.Bool
	closed    atomic.Bool

	hmu      sync.RWMutex
	handlers map[string]map[conn.HandlerID]conn.Handler

	mu      sync.Mutex
	ws      *websocket.Conn
	wake    chan struct{} // current session's writer
	queue   []outbound
	acks    map[uint64]*pendingAck
	nextAck uint64

	writeMu sync.Mutex
}

// session is one established WebSocket connection.
type session struct {
	ws   *websocket.Conn
	open openInfo
}

func newClient(host string, notify func(conn.Lifecycle), opts Options) *Client {
	opts = opts.withDefaults()
	url, err := endpointURL(host, opts.Path, opts.EIO)
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		id:       uuid.NewString(),
		url:      url,
		urlErr:   err,
		opts:     opts,
		notify:   notify,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		handlers: make(map[string]map[conn.HandlerID]conn.Handler),
		acks:     make(map[uint64]*pendingAck),
	}
	c.log = opts.Logger.Named("socketio").With(zap.String("transport", c.id))
	return c
}

// ID returns a random identifier unique to this client.
func (c *Client) ID() string { return c.id }

// Connected reports whether a session is established.
func (c *Client) Connected() bool { return c.connected.Load() && !c.closed.Load() }

// Done is closed once the client has stopped for good.
func (c *Client) Done() <-chan struct{} { return c.done }

// Emit queues event for the session writer and returns without touching the
// socket. Events queued while no session is established are sent in order
// after the next connect; when the queue is full the oldest is dropped.
func (c *Client) Emit(event string, data json.RawMessage, ack conn.Ack) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.Lock()
	var id uint64
	if ack != nil {
		c.nextAck++
		id = c.nextAck
	}
	frame, err := encodeEvent(event, data, id, ack != nil)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if ack != nil {
		c.acks[id] = &pendingAck{fn: ack}
	}
	c.enqueueLocked(outbound{frame: frame, ackID: id})
	wake := c.wake
	c.mu.Unlock()

	if wake == nil {
		c.log.Debug("queued emit", zap.String("event", event))
		return nil
	}
	select {
	case wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *Client) enqueueLocked(o outbound) {
	if len(c.queue) >= c.opts.QueueSize {
		dropped := c.queue[0]
		c.queue = c.queue[1:]
		if dropped.ackID != 0 {
			delete(c.acks, dropped.ackID)
		}
		c.log.Warn("emit queue full, dropping oldest")
	}
	c.queue = append(c.queue, o)
}

// On attaches h for event under id, replacing an existing handler with the
// same id.
func (c *Client) On(event string, id conn.HandlerID, h conn.Handler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[conn.HandlerID]conn.Handler)
	}
	c.handlers[event][id] = h
}

func (c *Client) Off(event string, id conn.HandlerID) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	delete(c.handlers[event], id)
	if len(c.handlers[event]) == 0 {
		delete(c.handlers, event)
	}
}

func (c *Client) OffAll(event string) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	delete(c.handlers, event)
}

// Close disconnects and stops reconnecting. It does not wait for the
// disconnect frame or the background goroutine; use Done for that.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	ws := c.ws
	c.queue = nil
	c.mu.Unlock()

	if ws == nil {
		c.cancel()
		return nil
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := ws.Write(ctx, websocket.MessageText, []byte{eioMessage, sioDisconnect}); err != nil {
			c.log.Debug("sending disconnect", zap.Error(err))
		}
		c.cancel()
	}()
	return nil
}

func (c *Client) start() {
	go c.run()
}

func (c *Client) run() {
	defer close(c.done)
	defer c.cancel()

	for {
		s, err := c.establish()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Error("giving up on connection", zap.Error(err))
			c.notify(conn.Lifecycle{Kind: conn.KindReconnectFailed, Reason: "attempts exhausted", Err: err})
			return
		}

		reason := c.serve(s)
		c.endSession(s, reason)
		c.notify(conn.Lifecycle{Kind: conn.KindDisconnect, Reason: reason})

		if c.ctx.Err() != nil || reason == ReasonServerDisconnect || reason == ReasonClientDisconnect {
			return
		}
		if c.opts.NoReconnect {
			return
		}
	}
}

// establish dials with backoff until a session is up, the context ends or
// the attempt budget is spent. Each failed attempt is reported.
func (c *Client) establish() (*session, error) {
	if c.urlErr != nil {
		c.notify(conn.Lifecycle{Kind: conn.KindConnectError, Err: c.urlErr})
		return nil, c.urlErr
	}

	attempts := c.opts.ReconnectAttempts
	if c.opts.NoReconnect {
		attempts = 1
	}

	var s *session
	err := retry.Do(
		func() error {
			if c.ctx.Err() != nil {
				return retry.Unrecoverable(c.ctx.Err())
			}
			established, err := c.handshake()
			if err != nil {
				if c.ctx.Err() != nil {
					return retry.Unrecoverable(c.ctx.Err())
				}
				kind := conn.KindConnectError
				if errors.Is(err, context.DeadlineExceeded) {
					kind = conn.KindConnectTimeout
				}
				c.notify(conn.Lifecycle{Kind: kind, Err: err})
				return err
			}
			s = established
			return nil
		},
		retry.Context(c.ctx),
		retry.Attempts(attempts),
		retry.Delay(c.opts.ReconnectDelay),
		retry.MaxDelay(c.opts.ReconnectDelayMax),
		retry.MaxJitter(c.opts.ReconnectJitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug("connect attempt failed", zap.Uint("attempt", n+1), zap.Error(err))
			c.notify(conn.Lifecycle{Kind: conn.KindReconnectAttempt, Attempt: n + 1, Err: err})
		}),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// handshake opens the WebSocket and completes the Engine.IO and Socket.IO
// handshakes within HandshakeTimeout.
func (c *Client) handshake() (*session, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.HandshakeTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: c.opts.Header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	ws.SetReadLimit(c.opts.MaxPayload)

	s, err := c.handshakeOn(ctx, ws)
	if err != nil {
		_ = ws.CloseNow()
		return nil, err
	}
	return s, nil
}

func (c *Client) handshakeOn(ctx context.Context, ws *websocket.Conn) (*session, error) {
	_, frame, err := ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read open: %w", err)
	}
	open, err := parseOpen(frame)
	if err != nil {
		return nil, err
	}

	if c.opts.EIO >= 4 {
		if err := ws.Write(ctx, websocket.MessageText, []byte{eioMessage, sioConnect}); err != nil {
			return nil, fmt.Errorf("send connect: %w", err)
		}
	}

	for {
		_, frame, err := ws.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("await connect: %w", err)
		}
		if len(frame) == 0 {
			continue
		}
		switch frame[0] {
		case eioPing:
			if err := ws.Write(ctx, websocket.MessageText, []byte{eioPong}); err != nil {
				return nil, fmt.Errorf("send pong: %w", err)
			}
		case eioNoop, eioPong:
		case eioClose:
			return nil, fmt.Errorf("server closed during handshake")
		case eioMessage:
			p, err := decodePacket(frame[1:])
			if err != nil {
				return nil, err
			}
			switch p.Type {
			case sioConnect:
				return &session{ws: ws, open: open}, nil
			case sioConnectError:
				return nil, fmt.Errorf("%w: %s", ErrRejected, errorMessage(p.Data))
			}
		}
	}
}

// serve runs one session until it ends and returns the disconnect reason.
// The connect notification is delivered before any further frame is read or
// any queued emit is written.
func (c *Client) serve(s *session) string {
	c.connected.Store(true)
	c.log.Info("connected", zap.String("sid", s.open.SID), zap.String("url", c.url))
	c.notify(conn.Lifecycle{Kind: conn.KindConnect})

	wake := make(chan struct{}, 1)
	c.mu.Lock()
	c.ws = s.ws
	c.wake = wake
	c.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go c.writeLoop(s, wake, stop)
	if c.opts.EIO < 4 {
		go c.pingLoop(s, stop)
	}

	deadline := s.open.PingInterval + s.open.PingTimeout
	for {
		ctx, cancel := context.WithTimeout(c.ctx, deadline)
		_, frame, err := s.ws.Read(ctx)
		expired := errors.Is(ctx.Err(), context.DeadlineExceeded)
		cancel()
		if err != nil {
			switch {
			case c.ctx.Err() != nil:
				return ReasonClientDisconnect
			case expired:
				return ReasonPingTimeout
			default:
				c.log.Debug("read failed", zap.Error(err), zap.Int("close_status", int(websocket.CloseStatus(err))))
				return ReasonTransportClose
			}
		}
		if reason, done := c.handleFrame(s, frame); done {
			return reason
		}
	}
}

// writeLoop is the session's only writer of queued emits. It drains the
// queue on every wake until the session ends. A failed write ends the
// session; frames not yet attempted go back to the front of the queue.
func (c *Client) writeLoop(s *session, wake <-chan struct{}, stop <-chan struct{}) {
	for {
		batch := c.takeQueued(s)
		for i, o := range batch {
			if err := c.write(s.ws, o.frame); err != nil {
				c.log.Warn("write failed, dropping session", zap.Error(err))
				c.requeue(batch[i+1:])
				_ = s.ws.CloseNow()
				return
			}
		}
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case <-wake:
		}
	}
}

// takeQueued hands the queue to the writer of s and marks its acks as sent.
// It returns nil once s is no longer the current session.
func (c *Client) takeQueued(s *session) []outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != s.ws || len(c.queue) == 0 {
		return nil
	}
	batch := c.queue
	c.queue = nil
	for _, o := range batch {
		if a, ok := c.acks[o.ackID]; ok {
			a.sent = true
		}
	}
	return batch
}

func (c *Client) requeue(rest []outbound) {
	if len(rest) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return
	}
	for _, o := range rest {
		if a, ok := c.acks[o.ackID]; ok {
			a.sent = false
		}
	}
	c.queue = append(append([]outbound(nil), rest...), c.queue...)
	for len(c.queue) > c.opts.QueueSize {
		if dropped := c.queue[0]; dropped.ackID != 0 {
			delete(c.acks, dropped.ackID)
		}
		c.queue = c.queue[1:]
	}
}

func (c *Client) handleFrame(s *session, frame []byte) (reason string, done bool) {
	if len(frame) == 0 {
		return "", false
	}
	switch frame[0] {
	case eioPing:
		if err := c.write(s.ws, []byte{eioPong}); err != nil {
			c.log.Debug("sending pong", zap.Error(err))
		}
	case eioPong, eioNoop, eioUpgrade:
	case eioClose:
		return ReasonTransportClose, true
	case eioMessage:
		c.notify(conn.Lifecycle{Kind: conn.KindActivity})
		return c.handlePacket(s, frame[1:])
	default:
		c.log.Debug("unknown engine packet", zap.String("frame", truncate(frame)))
	}
	return "", false
}

func (c *Client) handlePacket(s *session, frame []byte) (reason string, done bool) {
	p, err := decodePacket(frame)
	if err != nil {
		c.log.Warn("dropping packet", zap.Error(err))
		return "", false
	}

	switch p.Type {
	case sioConnect:
	case sioDisconnect:
		return ReasonServerDisconnect, true
	case sioEvent:
		name, arg, err := eventArgs(p.Data)
		if err != nil {
			c.log.Warn("dropping event", zap.Error(err))
			return "", false
		}
		c.dispatch(name, arg)
		if p.HasID {
			if err := c.write(s.ws, encodeAck(p.ID)); err != nil {
				c.log.Debug("acking server event", zap.String("event", name), zap.Error(err))
			}
		}
	case sioAck:
		if !p.HasID {
			return "", false
		}
		c.mu.Lock()
		a, ok := c.acks[p.ID]
		delete(c.acks, p.ID)
		c.mu.Unlock()
		if ok {
			a.fn(ackArg(p.Data))
		}
	case sioConnectError:
		msg := errorMessage(p.Data)
		c.notify(conn.Lifecycle{Kind: conn.KindError, Err: fmt.Errorf("%w: %s", ErrRejected, msg)})
	}
	return "", false
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	c.hmu.RLock()
	ids := make([]conn.HandlerID, 0, len(c.handlers[event]))
	for id := range c.handlers[event] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	hs := make([]conn.Handler, len(ids))
	for i, id := range ids {
		hs[i] = c.handlers[event][id]
	}
	c.hmu.RUnlock()

	for _, h := range hs {
		h(data)
	}
}

// endSession drops the socket and any acks that were already sent on it.
func (c *Client) endSession(s *session, reason string) {
	c.connected.Store(false)
	c.mu.Lock()
	c.ws = nil
	c.wake = nil
	dropped := 0
	for id, a := range c.acks {
		if a.sent {
			delete(c.acks, id)
			dropped++
		}
	}
	c.mu.Unlock()

	if err := s.ws.Close(websocket.StatusNormalClosure, ""); err != nil {
		_ = s.ws.CloseNow()
	}
	c.log.Info("disconnected", zap.String("reason", reason), zap.Int("dropped_acks", dropped))
}

// pingLoop sends client pings for Engine.IO v3, where the client drives the
// heartbeat.
func (c *Client) pingLoop(s *session, stop <-chan struct{}) {
	t := time.NewTicker(s.open.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case <-t.C:
			if err := c.write(s.ws, []byte{eioPing}); err != nil {
				c.log.Debug("sending ping", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) write(ws *websocket.Conn, frame []byte) error {
	if ws == nil {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, frame)
}
