package realtime

import "sync"

// Client is one connected websocket session.
//
// Send is never closed by the server, so concurrent publishers cannot panic on it; done signals
// the session goroutines to stop and Close is idempotent.
type Client struct {
	SessionID string
	AccountID string
	Send      chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(accountID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		AccountID: accountID,
		Send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.SessionID }

// Deliver queues msg without blocking. It reports false when the queue is full or the client is
// shutting down.
func (c *Client) Deliver(msg []byte) bool {
	if c == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop. It does not close Send.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
