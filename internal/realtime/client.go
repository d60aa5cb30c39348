package realtime

import (
	"sync"
	"time"
)

// wsConn is the connection surface the hub writes to. Satisfied by
// *websocket.Conn; tests substitute a recorder.
type wsConn interface {
	WriteJSON(v any) error
}

// deadlineConn is implemented by real websocket connections; the write
// deadline keeps a stuck client from blocking a broadcast for long.
type deadlineConn interface {
	SetWriteDeadline(t time.Time) error
}

const writeTimeout = 10 * time.Second

// client is one realtime connection. Writes are serialized by a mutex so
// broadcasts from any goroutine interleave safely.
type client struct {
	id   string
	conn wsConn

	mu sync.Mutex
}

func (c *client) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dc, ok := c.conn.(deadlineConn); ok {
		dc.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return c.conn.WriteJSON(v)
}
