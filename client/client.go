package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"realtime-service/domain"
)

const (
	joinAckTimeout  = 10 * time.Second
	reconnectMin    = 500 * time.Millisecond
	reconnectMax    = 10 * time.Second
	clientWriteWait = 5 * time.Second
)

var ErrClientClosed = errors.New("client closed")

// Handlers receives pushes from the server. Nil callbacks are skipped.
// All callbacks run on the client's read goroutine.
type Handlers struct {
	// OnConnected fires on every successful handshake, including
	// reconnects, with the authenticated user id.
	OnConnected func(userID string)
	// OnEvent receives room broadcasts (item/column/board changes).
	OnEvent func(ev domain.Event)
	// OnNotification receives user-targeted notifications.
	OnNotification func(data json.RawMessage)
	// OnReconnect fires after an automatic re-dial succeeds. Missed
	// broadcasts are gone for good, so this is where callers re-join
	// rooms and re-fetch authoritative state.
	OnReconnect func()
}

// wsFrame is the superset of everything the server sends.
type wsFrame struct {
	Type     string          `json:"type"`
	Seq      int64           `json:"seq,omitempty"`
	UserID   string          `json:"userId,omitempty"`
	Accepted bool            `json:"accepted"`
	Reason   string          `json:"reason,omitempty"`
	ItemID   string          `json:"itemId,omitempty"`
	ColumnID string          `json:"columnId,omitempty"`
	BoardID  string          `json:"boardId,omitempty"`
	Action   string          `json:"action,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type outMessage struct {
	Type        string          `json:"type"`
	Seq         int64           `json:"seq,omitempty"`
	Room        *domain.RoomKey `json:"room,omitempty"`
	WorkspaceID string          `json:"workspaceId,omitempty"`
	BoardID     string          `json:"boardId,omitempty"`
	ItemID      string          `json:"itemId,omitempty"`
	ColumnID    string          `json:"columnId,omitempty"`
	Action      string          `json:"action,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

type joinResult struct {
	accepted bool
	reason   string
}

// Client is the realtime WebSocket client: token-authenticated dial,
// ack-correlated joins, automatic reconnect with capped backoff, and an
// offline-queue flush on every successful (re)connect.
type Client struct {
	wsURL    string
	token    string
	handlers Handlers
	queue    *Queue
	logger   *log.Logger

	mu     sync.Mutex
	sock   *websocket.Conn
	seq    int64
	acks   map[int64]chan joinResult
	closed bool
}

func New(wsURL, token string, handlers Handlers, queue *Queue, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		wsURL:    wsURL,
		token:    token,
		handlers: handlers,
		queue:    queue,
		logger:   logger,
		acks:     make(map[int64]chan joinResult),
	}
}

// Connect dials the server and starts the read loop. The initial dial is
// synchronous so callers see authentication failures immediately; later
// drops are handled by the reconnect loop.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	c.flushQueue(ctx)
	go c.readLoop(ctx)
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	sock, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", c.wsURL, resp.Status, err)
		}
		return err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	c.sock = sock
	c.mu.Unlock()
	return nil
}

// Close tears the connection down and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.failPendingLocked("client closed")
	if c.sock != nil {
		return c.sock.Close()
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		sock := c.sock
		closed := c.closed
		c.mu.Unlock()
		if closed || sock == nil {
			return
		}

		_, data, err := sock.ReadMessage()
		if err != nil {
			// a read error does not close the underlying conn; the dial
			// below replaces c.sock, so release the dead one here
			_ = sock.Close()
			c.mu.Lock()
			c.failPendingLocked("connection lost")
			closed = c.closed
			c.mu.Unlock()
			if closed || ctx.Err() != nil {
				return
			}
			if !c.reconnect(ctx) {
				return
			}
			continue
		}
		c.handleFrame(data)
	}
}

// reconnect re-dials with capped exponential backoff until it succeeds or
// the client closes. Reports whether reading should continue.
func (c *Client) reconnect(ctx context.Context) bool {
	backoff := reconnectMin
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return false
		}
		c.mu.Unlock()

		if err := c.dial(ctx); err != nil {
			c.logger.Debugf("reconnect failed, retrying in %v: %v", backoff, err)
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}

		c.logger.Info("reconnected")
		c.flushQueue(ctx)
		if c.handlers.OnReconnect != nil {
			c.handlers.OnReconnect()
		}
		return true
	}
}

func (c *Client) flushQueue(ctx context.Context) {
	if c.queue == nil {
		return
	}
	if err := c.queue.Flush(ctx); err != nil {
		c.logger.Errorf("offline queue flush: %v", err)
	}
}

func (c *Client) handleFrame(data []byte) {
	var frame wsFrame
	if err := sonic.ConfigStd.Unmarshal(data, &frame); err != nil {
		c.logger.Debugf("dropping unreadable frame: %v", err)
		return
	}

	switch frame.Type {
	case "connected":
		if c.handlers.OnConnected != nil {
			c.handlers.OnConnected(frame.UserID)
		}
	case "join_ack":
		c.mu.Lock()
		ch, ok := c.acks[frame.Seq]
		if ok {
			delete(c.acks, frame.Seq)
		}
		c.mu.Unlock()
		if ok {
			ch <- joinResult{accepted: frame.Accepted, reason: frame.Reason}
		}
	case domain.EventNotification:
		if c.handlers.OnNotification != nil {
			c.handlers.OnNotification(frame.Data)
		}
	case domain.EventItemUpdated, domain.EventColumnUpdated, domain.EventBoardUpdated:
		if c.handlers.OnEvent != nil {
			c.handlers.OnEvent(domain.Event{
				Kind:     frame.Type,
				ItemID:   frame.ItemID,
				ColumnID: frame.ColumnID,
				BoardID:  frame.BoardID,
				Action:   frame.Action,
				Data:     frame.Data,
			})
		}
	default:
		c.logger.Debugf("unknown frame type %q", frame.Type)
	}
}

// Join requests membership in a room and waits for the server's ack. Every
// join is answered; a denial comes back with accepted=false and a reason.
func (c *Client) Join(ctx context.Context, room domain.RoomKey) (bool, string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, "", ErrClientClosed
	}
	c.seq++
	seq := c.seq
	ch := make(chan joinResult, 1)
	c.acks[seq] = ch
	c.mu.Unlock()

	if err := c.write(outMessage{Type: "join", Seq: seq, Room: &room}); err != nil {
		c.mu.Lock()
		delete(c.acks, seq)
		c.mu.Unlock()
		return false, "", err
	}

	timer := time.NewTimer(joinAckTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, "", ctx.Err()
	case <-timer.C:
		c.mu.Lock()
		delete(c.acks, seq)
		c.mu.Unlock()
		return false, "", fmt.Errorf("join %s: ack timeout", room)
	case res := <-ch:
		return res.accepted, res.reason, nil
	}
}

// Leave is fire-and-forget; the server does not acknowledge it.
func (c *Client) Leave(room domain.RoomKey) error {
	return c.write(outMessage{Type: "leave", Room: &room})
}

// SendItemUpdate emits a peer-facing item change to the board room.
func (c *Client) SendItemUpdate(boardID, itemID, action string, data any) error {
	raw, err := sonic.ConfigStd.Marshal(data)
	if err != nil {
		return err
	}
	return c.write(outMessage{Type: "item_update", BoardID: boardID, ItemID: itemID, Action: action, Data: raw})
}

// SendColumnUpdate emits a peer-facing column change to the board room.
func (c *Client) SendColumnUpdate(boardID, columnID, action string, data any) error {
	raw, err := sonic.ConfigStd.Marshal(data)
	if err != nil {
		return err
	}
	return c.write(outMessage{Type: "column_update", BoardID: boardID, ColumnID: columnID, Action: action, Data: raw})
}

// SendBoardUpdate emits a peer-facing board change to the workspace room.
func (c *Client) SendBoardUpdate(workspaceID, boardID, action string, data any) error {
	raw, err := sonic.ConfigStd.Marshal(data)
	if err != nil {
		return err
	}
	return c.write(outMessage{Type: "board_update", WorkspaceID: workspaceID, BoardID: boardID, Action: action, Data: raw})
}

func (c *Client) write(msg outMessage) error {
	data, err := sonic.ConfigStd.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.sock == nil {
		return ErrClientClosed
	}
	_ = c.sock.SetWriteDeadline(time.Now().Add(clientWriteWait))
	return c.sock.WriteMessage(websocket.TextMessage, data)
}

// failPendingLocked answers all in-flight joins with a denial. Callers
// hold c.mu.
func (c *Client) failPendingLocked(reason string) {
	for seq, ch := range c.acks {
		delete(c.acks, seq)
		ch <- joinResult{accepted: false, reason: reason}
	}
}
