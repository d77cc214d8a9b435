package signaling

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// dial opens a WebSocket to the relay URL.
func dial(ctx context.Context, dialer *websocket.Dialer, url string) (*websocket.Conn, error) {
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	return conn, nil
}
