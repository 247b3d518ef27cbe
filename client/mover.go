package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"

	"realtime-service/domain"
)

// Mover owns the board view model during drag interactions: it applies
// moves optimistically, persists them, emits peer-facing signals, and rolls
// the whole snapshot back when persistence fails. All state transitions go
// through domain.Apply; nothing mutates the snapshot ad hoc.
type Mover struct {
	api    *Doer
	ws     *Client
	logger *log.Logger

	mu       sync.Mutex
	snapshot domain.BoardSnapshot
}

func NewMover(snapshot domain.BoardSnapshot, api *Doer, ws *Client, logger *log.Logger) *Mover {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Mover{api: api, ws: ws, logger: logger, snapshot: snapshot.Clone()}
}

// Snapshot returns a copy of the current view model.
func (m *Mover) Snapshot() domain.BoardSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot.Clone()
}

// Reset replaces the view model with an authoritative snapshot, e.g. after
// a re-fetch on reconnect.
func (m *Mover) Reset(snapshot domain.BoardSnapshot) {
	m.mu.Lock()
	m.snapshot = domain.Apply(m.snapshot, domain.Replace(snapshot))
	m.mu.Unlock()
}

// DragOver previews a cross-column move while the drag is still in flight.
// Pure view-model change; nothing is persisted yet.
func (m *Mover) DragOver(itemID, overColumnID string) {
	m.mu.Lock()
	m.snapshot = domain.Apply(m.snapshot, domain.DragOver(itemID, overColumnID))
	m.mu.Unlock()
}

type moveItemRequest struct {
	ColumnID string `json:"columnId"`
}

// MoveItem finalizes a drop: the view model is updated immediately, then
// the move is persisted. On success the peer-facing moved signal goes out
// over the room; on any failure, including queued-for-offline, the view
// model reverts wholesale to the pre-drag snapshot.
func (m *Mover) MoveItem(ctx context.Context, itemID, toColumnID string) error {
	m.mu.Lock()
	_, fromColumnID, ok := m.snapshot.FindItem(itemID)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown item %q", itemID)
	}
	if fromColumnID == toColumnID {
		m.mu.Unlock()
		return nil
	}
	saved := m.snapshot.Clone()
	m.snapshot = domain.Apply(m.snapshot, domain.Drop(itemID, toColumnID))
	boardID := m.snapshot.ID
	m.mu.Unlock()

	body, err := json.Marshal(moveItemRequest{ColumnID: toColumnID})
	if err != nil {
		return err
	}
	if err := m.api.Send(ctx, http.MethodPost, "/api/items/"+itemID+"/move", body); err != nil {
		m.mu.Lock()
		m.snapshot = domain.Apply(m.snapshot, domain.Replace(saved))
		m.mu.Unlock()
		return err
	}

	if m.ws != nil {
		if sendErr := m.ws.SendItemUpdate(boardID, itemID, domain.ActionMoved, map[string]string{"toColumnId": toColumnID}); sendErr != nil {
			// The move persisted; peers will converge on their next fetch.
			m.logger.Debugf("peer move signal failed: %v", sendErr)
		}
	}
	return nil
}

type columnOrderRequest struct {
	Order int `json:"order"`
}

// ReorderColumns applies a new column order optimistically and persists one
// explicit integer rank per column. Replaying the same final order is
// harmless, so a partial failure simply reverts and can be retried.
func (m *Mover) ReorderColumns(ctx context.Context, orderedIDs []string) error {
	m.mu.Lock()
	saved := m.snapshot.Clone()
	m.snapshot = domain.Apply(m.snapshot, domain.ReorderColumns(orderedIDs))
	ordered := make([]string, 0, len(m.snapshot.Columns))
	for _, col := range m.snapshot.Columns {
		ordered = append(ordered, col.ID)
	}
	m.mu.Unlock()

	for idx, columnID := range ordered {
		body, err := json.Marshal(columnOrderRequest{Order: idx})
		if err != nil {
			return err
		}
		if err := m.api.Send(ctx, http.MethodPut, "/api/columns/"+columnID, body); err != nil {
			m.mu.Lock()
			m.snapshot = domain.Apply(m.snapshot, domain.Replace(saved))
			m.mu.Unlock()
			return err
		}
	}
	return nil
}

// ApplyPeer folds a collaborator's broadcast into the view model. Only
// moved-item events change state here; everything else is a cue to
// re-fetch.
func (m *Mover) ApplyPeer(ev domain.Event) {
	if ev.Kind != domain.EventItemUpdated || ev.Action != domain.ActionMoved {
		return
	}
	var data struct {
		ToColumnID string `json:"toColumnId"`
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil || data.ToColumnID == "" {
		return
	}
	m.mu.Lock()
	m.snapshot = domain.Apply(m.snapshot, domain.ApplyPeerMove(ev.ItemID, data.ToColumnID))
	m.mu.Unlock()
}
