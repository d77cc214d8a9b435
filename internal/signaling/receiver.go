package signaling

import (
	"time"

	"github.com/1ureka/1ureka.net.call/internal/util"
)

const maxMessageSize = 64 * 1024

// watch is the read loop of one relay connection. Every frame is parsed
// and handed to the message handler in arrival order; frames that fail to
// parse are dropped. The loop ends when the socket fails, which starts the
// reconnection protocol.
func (c *Client) watch(conn *connection) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			c.handleDrop(conn.gen, err)
			return
		}
		c.extendDeadline(conn)

		msg, err := Parse(data)
		if err != nil {
			util.LogWarning("dropping relay message: %v", err)
			continue
		}

		util.LogDebug("relay → %s", msg.Type())

		c.mu.Lock()
		handler := c.onMessage
		c.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
	}
}

// keepalive pings the relay every PingInterval until the connection closes.
// A missing pong lets the read deadline expire, which fails the read loop.
func (c *Client) keepalive(conn *connection) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				util.LogDebug("relay ping failed: %v", err)
				return
			}
		case <-conn.done:
			return
		}
	}
}

// extendDeadline pushes the read deadline one ping period plus the pong
// timeout into the future. No-op when keepalive is disabled.
func (c *Client) extendDeadline(conn *connection) {
	if c.opts.PingInterval <= 0 {
		return
	}
	conn.ws.SetReadDeadline(time.Now().Add(c.opts.PingInterval + c.opts.PongTimeout))
}
