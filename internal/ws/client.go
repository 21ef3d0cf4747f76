package ws

import (
	"sync"

	"golang.org/x/net/websocket"
)

type Client struct {
	conn *websocket.Conn
	out  chan []byte

	mu       sync.RWMutex
	closed   bool
	channels map[string]struct{}
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		conn:     conn,
		out:      make(chan []byte, 64),
		channels: map[string]struct{}{},
	}
}

// send drops the payload once the client is torn down; a Publish that raced
// the disconnect must not hit a closed channel.
func (c *Client) send(payload []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.out <- payload:
	default:
		// Slow consumer: drop the connection rather than block the hub.
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

func (c *Client) addChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channel] = struct{}{}
}

func (c *Client) listChannels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	return out
}
