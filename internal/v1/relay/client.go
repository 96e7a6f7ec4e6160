package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gamewire/relay/internal/v1/logging"
	"github.com/gamewire/relay/internal/v1/metrics"
)

// Keepalive and framing limits, matching what browsers tolerate well.
var (
	pingInterval = 60 * time.Second
	// Must exceed pingInterval so a healthy connection always pongs in time.
	pongTimeout  = 75 * time.Second
	writeTimeout = 10 * time.Second
)

const maxFrameBytes = 60 * 1024

// wsConn is the subset of *websocket.Conn the client actor uses,
// abstracted so tests can script the socket.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client owns one WebSocket for the duration of one connection. It runs
// two loops: readLoop forwards frames to the hub, writeLoop drains the
// pending queue onto the socket. The hub closing the pending queue is
// the stop acknowledgement; after that the client drains, closes the
// socket exactly once, and releases its hold on the hub.
type Client struct {
	id      string
	ref     string // per-connection ref, for tracing only
	hub     *Hub
	conn    wsConn
	lastNum int // num to resume after, or -1

	// pending is single-producer (the hub) / single-consumer (writeLoop).
	pending chan *Envelope

	started   atomic.Bool
	closeOnce sync.Once
	onClose   func()
}

// NewClient wires a client to its hub. queueSize is the high-water mark
// of the inbound queue; onClose runs exactly once when the connection is
// fully torn down.
func NewClient(hub *Hub, conn wsConn, id string, lastNum int, queueSize int, onClose func()) *Client {
	if lastNum < 0 {
		lastNum = -1
	}
	return &Client{
		id:      id,
		ref:     uuid.NewString(),
		hub:     hub,
		conn:    conn,
		lastNum: lastNum,
		pending: make(chan *Envelope, queueSize),
		onClose: onClose,
	}
}

// ID returns the stable client identity this connection carries.
func (c *Client) ID() string {
	return c.id
}

// Start registers the client with its hub and launches both loops.
// Calling Start twice is a programming error and is refused.
func (c *Client) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("relay: client already started")
	}
	metrics.IncConnection()
	c.hub.post(event{kind: eventAdmit, client: c})
	go c.readLoop()
	go c.writeLoop()
	return nil
}

// readLoop forwards socket frames to the hub until the socket fails,
// then asks the hub to stop this client. Enqueueing to the hub blocks
// when the hub is saturated, which is the backpressure path.
func (c *Client) readLoop() {
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.hub.post(event{kind: eventMessage, client: c, body: msg})
	}
	c.hub.post(event{kind: eventStop, client: c})
}

// writeLoop writes envelopes and pings until the hub closes the queue
// or the socket fails. Every exit path drains the queue to its close
// so the hub can never block on a dead client, then closes the socket.
func (c *Client) writeLoop() {
	ctx := context.WithValue(context.Background(), logging.ClientIDKey, c.id)
	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()

	for {
		select {
		case env, ok := <-c.pending:
			if !ok {
				// Stop acknowledged; say goodbye if the socket is still up.
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeTimeout))
				c.shutdown()
				return
			}
			if env.Intent == intentResumeReject {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(CloseUnknownLastNum, "unknown lastnum"),
					time.Now().Add(writeTimeout))
				c.drain()
				c.shutdown()
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				logging.Error(ctx, "marshalling envelope", zap.Error(err))
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.stopAndDrain()
				return
			}
		case <-pinger.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stopAndDrain()
				return
			}
		}
	}
}

// stopAndDrain is the write-failure path: request a stop, wait for the
// hub to close the queue, discard whatever is left, then close up.
func (c *Client) stopAndDrain() {
	c.hub.post(event{kind: eventStop, client: c})
	c.drain()
	c.shutdown()
}

// drain discards queue entries until the hub has closed the queue.
func (c *Client) drain() {
	for range c.pending {
	}
}

// shutdown closes the socket and releases the hub hold, exactly once.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		metrics.DecConnection()
		if c.onClose != nil {
			c.onClose()
		}
	})
}
