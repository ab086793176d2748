package realtime

import (
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iliyamo/live-auction/internal/model"
)

// frameWriter is the transport under one connection.
type frameWriter interface {
	WriteFrame(f Frame) error
	Close() error
}

// Conn is one authenticated client.  Frames are queued on send and
// written by a single goroutine, so a slow client never blocks a
// broadcast; a client whose queue fills is terminated.
type Conn struct {
	id       string
	identity model.Identity
	out      frameWriter

	send      chan Frame
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// alive is cleared when a PING is sent and set again by PONG.
	alive atomic.Bool

	// rooms is guarded by the hub lock.
	rooms map[RoomKey]struct{}
}

func newConn(id string, identity model.Identity, out frameWriter, buffer int) *Conn {
	if buffer < 1 {
		buffer = 1
	}
	c := &Conn{
		id:       id,
		identity: identity,
		out:      out,
		send:     make(chan Frame, buffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		rooms:    make(map[RoomKey]struct{}),
	}
	c.alive.Store(true)
	return c
}

// enqueue queues f without blocking.  It reports false when the
// connection is closing or its queue is full.
func (c *Conn) enqueue(f Frame) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// writeLoop drains the queue until close, then flushes what is left and
// closes the transport.
func (c *Conn) writeLoop() {
	defer close(c.done)
	defer func() { _ = c.out.Close() }()
	for {
		select {
		case f := <-c.send:
			if err := c.out.WriteFrame(f); err != nil {
				c.close()
				return
			}
		case <-c.quit:
			for {
				select {
				case f := <-c.send:
					if err := c.out.WriteFrame(f); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// close stops the writer.  Frames already queued are still flushed.
func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.quit) })
}

func (c *Conn) closing() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// jsonWriter frames JSON onto any stream, bounding each write.
type jsonWriter struct {
	mu      sync.Mutex
	w       io.WriteCloser
	enc     *json.Encoder
	timeout time.Duration
}

type deadliner interface {
	SetWriteDeadline(t time.Time) error
}

func newJSONWriter(w io.WriteCloser, timeout time.Duration) *jsonWriter {
	return &jsonWriter{w: w, enc: json.NewEncoder(w), timeout: timeout}
}

func (j *jsonWriter) WriteFrame(f Frame) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if d, ok := j.w.(deadliner); ok && j.timeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(j.timeout))
	}
	return j.enc.Encode(f)
}

func (j *jsonWriter) Close() error {
	return j.w.Close()
}
