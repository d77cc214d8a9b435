package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// connection is one relay socket. Writes are serialized by mu because
// gorilla allows a single concurrent writer.
type connection struct {
	ws  *websocket.Conn
	gen uint64
	mu  sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(ws *websocket.Conn, gen uint64) *connection {
	return &connection{
		ws:   ws,
		gen:  gen,
		done: make(chan struct{}),
	}
}

// send encodes msg and writes it as one text frame.
func (c *connection) send(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// ping writes a keepalive ping control frame.
func (c *connection) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// close tears the socket down without a close handshake. Safe to call
// multiple times.
func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// closeGracefully sends a normal-closure frame before closing.
func (c *connection) closeGracefully(reason string) {
	c.mu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	c.close()
}
