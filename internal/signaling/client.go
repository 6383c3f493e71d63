package signaling

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/Huddle/internal/dns"
	"github.com/BioHazard786/Huddle/internal/errs"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	defaultDialBudget = 15 * time.Second
)

// Options configures a Client.
type Options struct {
	// URL of the WebSocket endpoint, e.g. wss://huddle.qzz.io/ws.
	URL    string
	UserID string
	// Token is sent as a bearer token on the upgrade request when set.
	Token string
	Codec Codec
	// DialBudget caps how long Connect keeps retrying.
	DialBudget time.Duration
	// ResolveHost replaces dns.Lookup for the dial. Tests point it at loopback.
	ResolveHost func(ctx context.Context, host string) (string, error)
}

// Client is the process-wide connection to the signaling bus. One Client
// serves every call and chat room for the lifetime of the process.
type Client struct {
	opts     Options
	codec    Codec
	log      *zap.Logger
	handlers *handlers

	dialMu sync.Mutex
	// roomMu keeps each refcount change and its join/leave frame in the same
	// order on the wire.
	roomMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	rooms  map[string]int
	closed bool

	outgoing chan []byte
	incoming chan Event
	done     chan struct{}
	loseOnce sync.Once
}

// NewClient creates a new signaling client. Nothing is dialed until Connect.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Codec == nil {
		opts.Codec = JSON
	}
	if opts.DialBudget <= 0 {
		opts.DialBudget = defaultDialBudget
	}
	if opts.ResolveHost == nil {
		opts.ResolveHost = dns.Lookup
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Client{
		opts:     opts,
		codec:    opts.Codec,
		log:      logger.With(zap.String("module", "signaling")),
		handlers: newHandlers(),
		rooms:    make(map[string]int),
		outgoing: make(chan []byte, 256),
		incoming: make(chan Event, 64),
		done:     make(chan struct{}),
	}
}

// Connect dials the signaling server, retrying with exponential backoff
// until ctx is done or the dial budget runs out. Calling Connect on a live
// client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return errs.Wrap("connect", errs.ErrSignalingDeliveryUnavailable, "client closed")
	case c.conn != nil:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	target, err := c.endpoint()
	if err != nil {
		return err
	}

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: writeWait,
		NetDialContext:   c.netDial,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = c.opts.DialBudget

	var conn *websocket.Conn
	dial := func() error {
		var resp *http.Response
		var dialErr error
		conn, resp, dialErr = dialer.DialContext(ctx, target, header)
		if dialErr != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(fmt.Errorf("signaling rejected upgrade: %s", resp.Status))
			}
			return dialErr
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("signaling dial failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(dial, backoff.WithContext(b, ctx), notify); err != nil {
		return errs.Wrap("connect", errs.ErrSignalingDeliveryUnavailable, err.Error())
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return errs.Wrap("connect", errs.ErrSignalingDeliveryUnavailable, "client closed")
	}
	c.conn = conn
	c.mu.Unlock()

	c.log.Info("signaling connected", zap.String("url", c.opts.URL), zap.String("codec", c.codec.Name()))

	go c.readPump(conn)
	go c.writePump(conn)
	go c.dispatchLoop()

	return nil
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	if c.opts.UserID != "" {
		q.Set("userId", c.opts.UserID)
	}
	q.Set("codec", c.codec.Name())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) netDial(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	resolvedIP, err := c.opts.ResolveHost(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}

	d := net.Dialer{Timeout: writeWait}
	return d.DialContext(ctx, network, net.JoinHostPort(resolvedIP, port))
}

// readPump reads frames from the WebSocket connection.
func (c *Client) readPump(conn *websocket.Conn) {
	defer c.lose(nil)

	conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("signaling connection lost", zap.Error(err))
			}
			return
		}

		ev, err := c.codec.Decode(data)
		if err != nil {
			c.log.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}

		select {
		case c.incoming <- ev:
		case <-c.done:
			return
		}
	}
}

// writePump writes frames to the WebSocket connection and sends periodic pings.
func (c *Client) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.lose(nil)
	}()

	for {
		select {
		case frame := <-c.outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(c.codec.FrameType(), frame); err != nil {
				c.log.Warn("signaling write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *Client) dispatchLoop() {
	for {
		select {
		case ev := <-c.incoming:
			if ev.Name == EventError {
				var p ErrorPayload
				if err := ev.Decode(&p); err == nil {
					c.log.Warn("signaling server error", zap.String("error", p.Error))
				}
			}
			c.handlers.dispatch(c.log, ev)
		case <-c.done:
			return
		}
	}
}

// lose tears the connection down exactly once and signals Done.
func (c *Client) lose(err error) {
	c.loseOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if err != nil {
			c.log.Warn("signaling closed", zap.Error(err))
		}
		close(c.done)
		if conn != nil {
			conn.Close()
		}
	})
}

// On registers fn for event and returns a function that unregisters it.
// Handlers run on a single goroutine in arrival order.
func (c *Client) On(event string, fn Handler) (off func()) {
	return c.handlers.add(event, fn)
}

// Emit sends a payload to room. It fails with ErrSignalingDeliveryUnavailable
// when the client is not connected.
func (c *Client) Emit(event, room string, payload any) error {
	op := "emit " + event
	if !c.Connected() {
		return errs.New(op, errs.ErrSignalingDeliveryUnavailable)
	}

	frame, err := c.codec.Encode(&Message{Event: event, Room: room, Payload: payload})
	if err != nil {
		return errs.Wrap(op, err, "encode")
	}

	select {
	case c.outgoing <- frame:
		return nil
	case <-c.done:
		return errs.New(op, errs.ErrSignalingDeliveryUnavailable)
	}
}

// JoinRoom subscribes to room. Joins are reference counted so that chat and
// call features sharing a room only subscribe once.
func (c *Client) JoinRoom(room string) error {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()

	c.mu.Lock()
	c.rooms[room]++
	first := c.rooms[room] == 1
	c.mu.Unlock()

	if !first {
		return nil
	}
	if err := c.Emit(EventJoinChannel, room, nil); err != nil {
		c.mu.Lock()
		if c.rooms[room]--; c.rooms[room] <= 0 {
			delete(c.rooms, room)
		}
		c.mu.Unlock()
		return err
	}
	c.log.Debug("joined room", zap.String("room", room))
	return nil
}

// LeaveRoom releases one reference to room and unsubscribes when it was the
// last one. Leaving a room that was never joined is a no-op.
func (c *Client) LeaveRoom(room string) error {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()

	c.mu.Lock()
	n, ok := c.rooms[room]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if n > 1 {
		c.rooms[room] = n - 1
		c.mu.Unlock()
		return nil
	}
	delete(c.rooms, room)
	c.mu.Unlock()

	c.log.Debug("leaving room", zap.String("room", room))
	return c.Emit(EventLeaveChannel, room, nil)
}

// RoomRefs reports how many holders currently keep room joined.
func (c *Client) RoomRefs(room string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[room]
}

// Connected reports whether the bus connection is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	up := c.conn != nil
	c.mu.Unlock()
	if !up {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done is closed once the connection is lost or the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}
	c.lose(nil)
}
