package wsserver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

var (
	ErrClosed        = errors.New("wsserver: connection closed")
	ErrSendQueueFull = errors.New("wsserver: send queue full")
)

// Conn is one accepted websocket. It implements relay.Channel.
type Conn struct {
	id   string
	ws   *websocket.Conn
	out  chan []byte
	mu   sync.Mutex
	shut bool

	// pending counts frames queued or being written.
	pending atomic.Int64
}

func newConn(ws *websocket.Conn, queue int) *Conn {
	if queue <= 0 {
		queue = 32
	}
	return &Conn{
		id:  uuid.NewString(),
		ws:  ws,
		out: make(chan []byte, queue),
	}
}

func (c *Conn) ID() string { return c.id }

// Send queues frame for the writer goroutine and never blocks. A full queue
// means the peer is not reading; the frame is dropped.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shut {
		return ErrClosed
	}
	c.pending.Add(1)
	select {
	case c.out <- frame:
		return nil
	default:
		c.pending.Add(-1)
		return ErrSendQueueFull
	}
}

func (c *Conn) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shut = true
}

func (c *Conn) written() { c.pending.Add(-1) }

// flush waits until every queued frame has been written or ctx ends.
func (c *Conn) flush(ctx context.Context) {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for c.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
