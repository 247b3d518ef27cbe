package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"

	"realtime-service/domain"
)

const clientMessageMaxSize = 64 * 1024 // 64 KiB

// client -> server message types
const (
	msgJoin         = "join"
	msgLeave        = "leave"
	msgItemUpdate   = "item_update"
	msgColumnUpdate = "column_update"
	msgBoardUpdate  = "board_update"
)

// server -> client message types (events use domain.Event kinds)
const (
	msgConnected = "connected"
	msgJoinAck   = "join_ack"
)

type clientMessage struct {
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

type connectedMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type joinAckMessage struct {
	Type     string `json:"type"`
	Seq      int64  `json:"seq,omitempty"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type notificationMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func decodeClientMessage(data []byte) (clientMessage, error) {
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg clientMessage
	if err := dec.Decode(&msg); err != nil {
		return clientMessage{}, fmt.Errorf("invalid message: %w", err)
	}
	if msg.Type == "" {
		return clientMessage{}, fmt.Errorf("invalid message: missing type")
	}
	return msg, nil
}

func encodeMessage(v any) ([]byte, error) {
	return sonic.ConfigStd.Marshal(v)
}

func encodeEvent(ev domain.Event) ([]byte, error) {
	return sonic.ConfigStd.Marshal(ev)
}
