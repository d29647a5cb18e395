package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	errConnClosed = errors.New("connection closed")
	errHoldFull   = errors.New("too many frames held during replay")
)

// maxHeld bounds live frames queued while history is replayed.
const maxHeld = 256

// State of a gateway connection. Transitions only move forward.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type wsConn struct {
	id     string
	conn   *websocket.Conn
	userID int64

	writeTimeout time.Duration
	sendMu       chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
	state     atomic.Int32

	holdMu  sync.Mutex
	holding bool
	held    []any
}

func newWsConn(c *websocket.Conn, userID int64, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		id:           uuid.NewString(),
		conn:         c,
		userID:       userID,
		writeTimeout: writeTimeout,
		sendMu:       make(chan struct{}, 1),
		closed:       make(chan struct{}),
	}
}

func (c *wsConn) UserID() int64 { return c.userID }

func (c *wsConn) State() State { return State(c.state.Load()) }

func (c *wsConn) advance(to State) {
	for {
		cur := c.state.Load()
		if State(cur) >= to {
			return
		}
		if c.state.CompareAndSwap(cur, int32(to)) {
			return
		}
	}
}

// Send writes frame, or queues it while the conn is held.
func (c *wsConn) Send(frame any) error {
	c.holdMu.Lock()
	if c.holding {
		defer c.holdMu.Unlock()
		if len(c.held) >= maxHeld {
			return errHoldFull
		}
		c.held = append(c.held, frame)
		return nil
	}
	c.holdMu.Unlock()

	return c.write(frame)
}

// hold queues frames given to Send until release.
func (c *wsConn) hold() {
	c.holdMu.Lock()
	c.holding = true
	c.holdMu.Unlock()
}

// release writes the queued frames in arrival order, dropping those skip
// reports, and resumes direct sends. Frames queued while releasing are
// written before Send stops queueing.
func (c *wsConn) release(skip func(frame any) bool) error {
	for {
		c.holdMu.Lock()
		batch := c.held
		c.held = nil
		if len(batch) == 0 {
			c.holding = false
			c.holdMu.Unlock()
			return nil
		}
		c.holdMu.Unlock()

		for _, f := range batch {
			if skip != nil && skip(f) {
				continue
			}
			if err := c.write(f); err != nil {
				return err
			}
		}
	}
}

func (c *wsConn) write(frame any) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}

	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))

	return c.conn.WriteJSON(frame)
}

func (c *wsConn) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *wsConn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *wsConn) closeWith(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.advance(StateClosing)
		close(c.closed)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(c.writeTimeout))
		err = c.conn.Close()
	})
	return err
}
