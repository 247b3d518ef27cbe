package api

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	sendBufferSize = 256
	writeWait      = 5 * time.Second
	pingPeriod     = 10 * time.Second
	pongWait       = 15 * time.Second
)

var errBackpressure = errors.New("backpressure")
var errConnClosed = errors.New("connection closed")

// conn is the server-side handle on one live WebSocket. The user identity
// is fixed at handshake time; room memberships are tracked by the registry,
// never written here from other call sites.
type conn struct {
	id     string
	userID string
	sock   *websocket.Conn
	logger *log.Logger

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	teardown  func()
}

func newConn(sock *websocket.Conn, userID string, logger *log.Logger) *conn {
	return &conn{
		id:     uuid.NewString(),
		userID: userID,
		sock:   sock,
		logger: logger,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

func (c *conn) ID() string     { return c.id }
func (c *conn) UserID() string { return c.userID }

// TrySend enqueues a frame without blocking. A full buffer drops the frame:
// broadcast is best effort and a slow member must not stall the room.
func (c *conn) TrySend(frame []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errBackpressure
	}
}

// close runs the teardown path exactly once, regardless of whether the
// write pump, the read loop, or the server shutdown got there first.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.teardown != nil {
			c.teardown()
		}
		_ = c.sock.Close()
	})
}

// writePump drains the send buffer onto the socket and keeps the
// connection alive with pings. Exits on write error or close.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop delivers inbound frames to handle until the transport dies.
// Its exit is the one guaranteed trigger of connection teardown.
func (c *conn) readLoop(handle func(data []byte)) {
	defer c.close()

	c.sock.SetReadLimit(clientMessageMaxSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithFields(log.Fields{
					"conn": c.id,
					"user": c.userID,
				}).Debugf("read loop ended: %v", err)
			}
			return
		}
		handle(data)
	}
}
