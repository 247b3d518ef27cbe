package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"realtime-service/domain"
	"realtime-service/notify"
	"realtime-service/rooms"
)

type server struct {
	registry      *rooms.Registry
	auth          Authenticator
	notifier      *notify.Subscriber
	internalToken string
	logger        *log.Logger
	upgrader      websocket.Upgrader
}

// Register wires up the realtime routes on the provided Echo instance.
func Register(e *echo.Echo, registry *rooms.Registry, auth Authenticator, notifier *notify.Subscriber, internalToken string, logger *log.Logger) {
	s := &server{
		registry:      registry,
		auth:          auth,
		notifier:      notifier,
		internalToken: internalToken,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	e.GET("/ws", s.handleWS)
	e.POST("/internal/updates", s.handleInternalUpdate)
	e.GET("/healthz", healthz)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// handleWS authenticates the handshake, upgrades the transport, and runs
// the connection until the transport dies. A bad credential is rejected
// before the upgrade so the socket never becomes usable for room traffic.
func (s *server) handleWS(c echo.Context) error {
	token, err := bearerTokenFromHandshake(c.Request().Header.Get(echo.HeaderAuthorization), c.QueryParam("token"))
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	userID, err := s.auth.UserIDFromBearer(token)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}

	sock, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the failure response.
		return nil
	}

	// The request context dies with the handshake; the connection outlives
	// it, so subscriptions hang off their own cancelable context.
	ctx, cancel := context.WithCancel(context.Background())

	conn := newConn(sock, userID, s.logger)
	sub := s.notifier.Subscribe(ctx, userID, func(payload []byte) {
		frame, encErr := encodeMessage(notificationMessage{Type: domain.EventNotification, Data: payload})
		if encErr != nil {
			s.logger.Errorf("encode notification: %v", encErr)
			return
		}
		_ = conn.TrySend(frame)
	})
	conn.teardown = func() {
		s.registry.DropConnection(conn.id)
		_ = sub.Close()
		cancel()
		s.logger.WithFields(log.Fields{"conn": conn.id, "user": userID}).Info("ws disconnected")
	}

	go conn.writePump()

	if greeting, encErr := encodeMessage(connectedMessage{Type: msgConnected, UserID: userID}); encErr == nil {
		_ = conn.TrySend(greeting)
	}
	s.logger.WithFields(log.Fields{"conn": conn.id, "user": userID}).Info("ws connected")

	conn.readLoop(func(data []byte) {
		s.dispatch(ctx, conn, data)
	})
	return nil
}

func (s *server) dispatch(ctx context.Context, c *conn, data []byte) {
	msg, err := decodeClientMessage(data)
	if err != nil {
		s.logger.WithField("conn", c.id).Debugf("dropping message: %v", err)
		return
	}

	switch msg.Type {
	case msgJoin:
		s.handleJoin(ctx, c, msg)
	case msgLeave:
		if msg.Room != nil {
			s.registry.Leave(c.id, *msg.Room)
		}
	case msgItemUpdate, msgColumnUpdate, msgBoardUpdate:
		s.handlePeerUpdate(c, msg)
	default:
		s.logger.WithField("conn", c.id).Debugf("unknown message type %q", msg.Type)
	}
}

// handleJoin answers every join attempt with an ack; there are no silent
// drops. Denial leaves the connection open for other rooms.
func (s *server) handleJoin(ctx context.Context, c *conn, msg clientMessage) {
	metrics, spanCtx := newJoinMetrics(ctx, s.logger)
	defer metrics.Log()
	metrics.SetUser(c.userID)

	if msg.Room == nil || !msg.Room.Valid() {
		metrics.SetOutcome(false, "invalid room")
		s.sendJoinAck(c, msg.Seq, false, "invalid room")
		return
	}
	metrics.SetRoom(msg.Room.String())

	authzStart := time.Now()
	accepted, reason := s.registry.Join(spanCtx, c, *msg.Room)
	metrics.ObserveAuthz(time.Since(authzStart))
	metrics.SetOutcome(accepted, reason)

	s.sendJoinAck(c, msg.Seq, accepted, reason)
}

func (s *server) sendJoinAck(c *conn, seq int64, accepted bool, reason string) {
	frame, err := encodeMessage(joinAckMessage{Type: msgJoinAck, Seq: seq, Accepted: accepted, Reason: reason})
	if err != nil {
		s.logger.Errorf("encode join ack: %v", err)
		return
	}
	_ = c.TrySend(frame)
}

// handlePeerUpdate re-broadcasts a collaborative editing signal to the
// other members of the target room. The sender applied the change
// optimistically already, so it is excluded from the fan-out.
func (s *server) handlePeerUpdate(c *conn, msg clientMessage) {
	var (
		room domain.RoomKey
		ev   domain.Event
	)
	switch msg.Type {
	case msgItemUpdate:
		if msg.BoardID == "" || msg.ItemID == "" {
			return
		}
		room = domain.BoardRoom(msg.BoardID)
		ev = domain.Event{Kind: domain.EventItemUpdated, ItemID: msg.ItemID, Action: msg.Action, Data: msg.Data}
	case msgColumnUpdate:
		if msg.BoardID == "" || msg.ColumnID == "" {
			return
		}
		room = domain.BoardRoom(msg.BoardID)
		ev = domain.Event{Kind: domain.EventColumnUpdated, ColumnID: msg.ColumnID, Action: msg.Action, Data: msg.Data}
	case msgBoardUpdate:
		if msg.WorkspaceID == "" || msg.BoardID == "" {
			return
		}
		room = domain.WorkspaceRoom(msg.WorkspaceID)
		ev = domain.Event{Kind: domain.EventBoardUpdated, BoardID: msg.BoardID, Action: msg.Action, Data: msg.Data}
	}

	// Peer signals only reach rooms the sender is currently a member of;
	// anything else is silently dropped.
	if !s.registry.Contains(c.id, room) {
		s.logger.WithFields(log.Fields{"conn": c.id, "room": room.String()}).Debug("peer update outside joined rooms")
		return
	}

	frame, err := encodeEvent(ev)
	if err != nil {
		s.logger.Errorf("encode %s: %v", ev.Kind, err)
		return
	}
	s.registry.Broadcast(room, frame, c.id)
}

type internalUpdateRequest struct {
	Room  domain.RoomKey `json:"room"`
	Event domain.Event   `json:"event"`
}

// handleInternalUpdate accepts server-authoritative broadcasts from the
// CRUD layer after a successful persistence write and fans them out to the
// named room. Guarded by a shared token, not user credentials.
func (s *server) handleInternalUpdate(c echo.Context) error {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || s.internalToken == "" ||
		subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.internalToken)) != 1 {
		return c.NoContent(http.StatusUnauthorized)
	}

	var req internalUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	if !req.Room.Valid() || req.Event.Kind == "" {
		return c.String(http.StatusBadRequest, "invalid update")
	}

	frame, err := encodeEvent(req.Event)
	if err != nil {
		c.Logger().Error(err)
		return c.NoContent(http.StatusInternalServerError)
	}
	res := s.registry.Broadcast(req.Room, frame, "")
	s.logger.WithFields(log.Fields{
		"room":    req.Room.String(),
		"kind":    req.Event.Kind,
		"sent_to": res.SentTo,
	}).Debug("authoritative broadcast")
	return c.NoContent(http.StatusAccepted)
}
