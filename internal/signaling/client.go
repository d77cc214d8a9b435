package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/1ureka.net.call/internal/util"
)

var (
	// ErrNotOpen is returned by Send when no relay connection is open.
	ErrNotOpen = errors.New("relay connection not open")

	// ErrUnavailable reports that reconnect attempts are exhausted.
	ErrUnavailable = errors.New("signaling unavailable")

	// ErrStopped reports that the client was stopped.
	ErrStopped = errors.New("relay client stopped")
)

// ConnState is the state of the relay connection.
type ConnState int

const (
	StateClosed ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Status is a lifecycle notification delivered to the status handler.
type Status int

const (
	StatusOpen Status = iota + 1
	StatusClosed
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ClientOptions configures a Client. Zero values fall back to defaults,
// except PingInterval where zero disables keepalive.
type ClientOptions struct {
	Policy           ReconnectPolicy
	ClientID         string // fixed id; empty generates one per connection
	Capabilities     Capabilities
	PingInterval     time.Duration
	PongTimeout      time.Duration
	HandshakeTimeout time.Duration
}

// Client owns at most one relay connection at a time and re-establishes it
// with exponential backoff when it drops. Once the policy is exhausted the
// client becomes unavailable and makes no further attempts.
type Client struct {
	url    string
	opts   ClientOptions
	dialer *websocket.Dialer

	// afterFunc schedules reconnects.
	afterFunc func(time.Duration, func()) *time.Timer

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       ConnState
	conn        *connection // set only while Open
	gen         uint64      // bumped on every connect attempt and on Stop
	attempt     int
	clientID    string
	timer       *time.Timer
	stopped     bool
	unavailable bool

	openCh        chan struct{} // closed while Open
	unavailableCh chan struct{}
	stoppedCh     chan struct{}

	onMessage func(Message)
	onStatus  func(Status)
}

// NewClient creates a relay client for url. It does not connect.
func NewClient(url string, opts ClientOptions) *Client {
	if opts.Policy.BaseInterval <= 0 {
		opts.Policy = DefaultReconnectPolicy()
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 10 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		url:  url,
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		afterFunc:     time.AfterFunc,
		ctx:           ctx,
		cancel:        cancel,
		openCh:        make(chan struct{}),
		unavailableCh: make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}
}

// OnMessage registers the single consumer of inbound messages. It is
// called from the read loop, one message at a time, in arrival order.
func (c *Client) OnMessage(handler func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

// OnStatus registers the lifecycle observer.
func (c *Client) OnStatus(handler func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = handler
}

// Connect starts a connection attempt. It is a no-op while an attempt is
// in flight, while a connection is open, after Stop and after the client
// became unavailable.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.stopped || c.unavailable || c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.timer = nil
	c.mu.Unlock()

	util.LogDebug("relay connecting to %s (attempt %d)", c.url, c.Attempt())
	go c.dial(gen)
}

// dial runs one connection attempt for generation gen. The Register
// message is written before the connection becomes visible as Open, so it
// is always the first frame the relay sees.
func (c *Client) dial(gen uint64) {
	ws, err := dial(c.ctx, c.dialer, c.url)
	if err != nil {
		util.LogWarning("%v", err)
		c.handleDrop(gen, err)
		return
	}

	if !c.isCurrent(gen) {
		ws.Close()
		return
	}

	conn := newConnection(ws, gen)
	ws.SetReadLimit(maxMessageSize)
	if c.opts.PingInterval > 0 {
		ws.SetPongHandler(func(string) error {
			c.extendDeadline(conn)
			return nil
		})
		c.extendDeadline(conn)
	}

	clientID := c.opts.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	register := &Register{
		ClientID:     clientID,
		Capabilities: c.opts.Capabilities,
		Timestamp:    time.Now(),
	}
	if err := conn.send(register); err != nil {
		conn.close()
		util.LogWarning("relay register failed: %v", err)
		c.handleDrop(gen, err)
		return
	}

	c.mu.Lock()
	if c.stopped || gen != c.gen {
		c.mu.Unlock()
		conn.close()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.attempt = 0
	c.clientID = clientID
	close(c.openCh)
	handler := c.onStatus
	c.mu.Unlock()

	util.LogInfo("relay connected as %s", clientID)
	if handler != nil {
		handler(StatusOpen)
	}

	go c.watch(conn)
	if c.opts.PingInterval > 0 {
		go c.keepalive(conn)
	}
}

// handleDrop runs the reconnection protocol for a failed attempt or a lost
// connection of generation gen. Notifications from stale generations are
// ignored.
func (c *Client) handleDrop(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.state == StateClosed {
		c.mu.Unlock()
		return
	}

	wasOpen := c.state == StateOpen
	c.state = StateClosing
	if c.conn != nil {
		c.conn.close()
		c.conn = nil
	}
	if wasOpen {
		c.openCh = make(chan struct{})
	}
	c.state = StateClosed

	statuses := []Status{StatusClosed}
	if !c.stopped {
		if c.opts.Policy.Exhausted(c.attempt) {
			c.unavailable = true
			close(c.unavailableCh)
			statuses = append(statuses, StatusUnavailable)
			util.LogError("relay unreachable after %d reconnect attempts: %v", c.attempt, cause)
		} else {
			delay := c.opts.Policy.Delay(c.attempt)
			c.attempt++
			c.timer = c.afterFunc(delay, c.Connect)
			util.Stats.AddReconnect()
			util.LogWarning("relay connection lost (%v), reconnecting in %s (attempt %d/%d)",
				cause, delay, c.attempt, c.opts.Policy.MaxAttempts)
		}
	}
	handler := c.onStatus
	c.mu.Unlock()

	if handler != nil {
		for _, s := range statuses {
			handler(s)
		}
	}
}

// Send writes msg to the open relay connection. Delivery is best-effort:
// when no connection is open the message is dropped and ErrNotOpen is
// returned.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		util.LogWarning("relay not open, dropping %s message", msg.Type())
		return ErrNotOpen
	}

	if err := conn.send(msg); err != nil {
		util.LogWarning("relay send %s failed: %v", msg.Type(), err)
		return fmt.Errorf("send %s: %w", msg.Type(), err)
	}

	util.LogDebug("relay ← %s", msg.Type())
	return nil
}

// WaitOpen blocks until a connection is open, the client becomes
// unavailable or stopped, or ctx is done.
func (c *Client) WaitOpen(ctx context.Context) error {
	for {
		c.mu.Lock()
		switch {
		case c.state == StateOpen:
			c.mu.Unlock()
			return nil
		case c.unavailable:
			c.mu.Unlock()
			return ErrUnavailable
		case c.stopped:
			c.mu.Unlock()
			return ErrStopped
		}
		openCh := c.openCh
		c.mu.Unlock()

		select {
		case <-openCh:
		case <-c.unavailableCh:
			return ErrUnavailable
		case <-c.stoppedCh:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop closes the connection, cancels any in-flight dial or pending
// reconnect, and disables further attempts.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.cancel()

	conn := c.conn
	c.conn = nil
	if c.state == StateOpen {
		c.openCh = make(chan struct{})
	}
	c.state = StateClosed
	close(c.stoppedCh)
	c.mu.Unlock()

	if conn != nil {
		conn.closeGracefully("call ended")
	}
	util.LogDebug("relay client stopped")
}

// Unavailable returns a channel that is closed once reconnect attempts are
// exhausted.
func (c *Client) Unavailable() <-chan struct{} {
	return c.unavailableCh
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether a connection is open.
func (c *Client) IsOpen() bool {
	return c.State() == StateOpen
}

// Attempt returns the current reconnect attempt counter.
func (c *Client) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// ClientID returns the id registered on the current (or last) connection.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *Client) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.stopped && gen == c.gen
}
