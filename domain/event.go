package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ScopeKind names the two room scopes.
type ScopeKind string

const (
	ScopeWorkspace ScopeKind = "workspace"
	ScopeBoard     ScopeKind = "board"
)

var errBadRoomKey = errors.New("bad room key")

// RoomKey identifies a broadcast group: one workspace or one board.
type RoomKey struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

func WorkspaceRoom(workspaceID string) RoomKey {
	return RoomKey{Kind: ScopeWorkspace, ID: workspaceID}
}

func BoardRoom(boardID string) RoomKey {
	return RoomKey{Kind: ScopeBoard, ID: boardID}
}

// String renders the wire/log form, e.g. "board:42".
func (k RoomKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

func (k RoomKey) Valid() bool {
	return k.ID != "" && (k.Kind == ScopeWorkspace || k.Kind == ScopeBoard)
}

// ParseRoomKey parses the "kind:id" form produced by String.
func ParseRoomKey(s string) (RoomKey, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return RoomKey{}, errBadRoomKey
	}
	k := RoomKey{Kind: ScopeKind(kind), ID: id}
	if !k.Valid() {
		return RoomKey{}, fmt.Errorf("%w: %q", errBadRoomKey, s)
	}
	return k, nil
}

const (
	EventItemUpdated   = "item_updated"
	EventColumnUpdated = "column_updated"
	EventBoardUpdated  = "board_updated"
	EventNotification  = "notification"
)

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
	ActionMoved   = "moved"
)

// Event is an immutable record of one state change, dispatched at most once
// to each currently connected room member.
type Event struct {
	Kind     string          `json:"type"`
	ItemID   string          `json:"itemId,omitempty"`
	ColumnID string          `json:"columnId,omitempty"`
	BoardID  string          `json:"boardId,omitempty"`
	Action   string          `json:"action,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}
