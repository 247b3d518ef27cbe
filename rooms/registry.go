package rooms

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"realtime-service/domain"
)

// Gate is the external membership authority consulted at join time. It is
// asked exactly once per join attempt and never while the connection stays
// joined, so a live revocation does not evict existing members.
type Gate interface {
	IsAuthorized(ctx context.Context, userID string, key domain.RoomKey) (bool, error)
}

// Sender is the outbound side of one connection. TrySend must not block;
// it reports an error when the member's buffer is full or closing.
type Sender interface {
	ID() string
	UserID() string
	TrySend(frame []byte) error
}

// BroadcastResult reports local fan-out delivery stats.
type BroadcastResult struct {
	SentTo  int
	Dropped int
}

// Registry owns the process-local room -> members mapping. It is the only
// shared mutable structure in the process and is constructed explicitly by
// the composition root, never as a package-level singleton.
type Registry struct {
	gate   Gate
	logger *log.Logger

	mu     sync.RWMutex
	rooms  map[domain.RoomKey]map[string]Sender
	byConn map[string]map[domain.RoomKey]struct{}
}

func NewRegistry(gate Gate, logger *log.Logger) *Registry {
	if gate == nil {
		panic("rooms.NewRegistry: gate is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Registry{
		gate:   gate,
		logger: logger,
		rooms:  make(map[domain.RoomKey]map[string]Sender),
		byConn: make(map[string]map[domain.RoomKey]struct{}),
	}
}

// Join runs the gate check and, on approval, adds conn to the room's member
// set. The gate call happens before any lock is taken so a slow authority
// never serializes unrelated joins. Denial leaves the member set untouched
// and returns a human-readable reason.
func (r *Registry) Join(ctx context.Context, conn Sender, key domain.RoomKey) (bool, string) {
	if !key.Valid() {
		return false, "invalid room"
	}

	ok, err := r.gate.IsAuthorized(ctx, conn.UserID(), key)
	if err != nil {
		r.logger.WithFields(log.Fields{
			"room": key.String(),
			"user": conn.UserID(),
		}).Errorf("authorization check failed: %v", err)
		return false, "authorization unavailable"
	}
	if !ok {
		return false, "access denied to " + string(key.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	members, exists := r.rooms[key]
	if !exists {
		members = make(map[string]Sender)
		r.rooms[key] = members
	}
	members[conn.ID()] = conn
	joined := r.byConn[conn.ID()]
	if joined == nil {
		joined = make(map[domain.RoomKey]struct{})
		r.byConn[conn.ID()] = joined
	}
	joined[key] = struct{}{}
	return true, ""
}

// Leave removes the connection from one room. Leaving a room the connection
// never joined is a no-op.
func (r *Registry) Leave(connID string, key domain.RoomKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(connID, key)
}

// DropConnection removes the connection from every room it belonged to.
// Called exactly once per connection teardown, graceful or abrupt.
func (r *Registry) DropConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.byConn[connID] {
		r.removeLocked(connID, key)
	}
}

func (r *Registry) removeLocked(connID string, key domain.RoomKey) {
	if members, ok := r.rooms[key]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, key)
		}
	}
	if joined, ok := r.byConn[connID]; ok {
		delete(joined, key)
		if len(joined) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// Broadcast delivers frame to every current member of the room, skipping
// excludeConnID when non-empty. Delivery is best effort: a member whose
// buffer is full is dropped and the fan-out continues.
func (r *Registry) Broadcast(key domain.RoomKey, frame []byte, excludeConnID string) BroadcastResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := BroadcastResult{}
	for id, member := range r.rooms[key] {
		if id == excludeConnID {
			continue
		}
		if err := member.TrySend(frame); err != nil {
			res.Dropped++
			continue
		}
		res.SentTo++
	}
	r.logger.WithFields(log.Fields{
		"room":    key.String(),
		"sent_to": res.SentTo,
		"dropped": res.Dropped,
	}).Debug("broadcast")
	return res
}

// MemberCount reports the current size of a room's member set.
func (r *Registry) MemberCount(key domain.RoomKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[key])
}

// Contains reports whether the connection is currently a member of the room.
func (r *Registry) Contains(connID string, key domain.RoomKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[key][connID]
	return ok
}

// Rooms returns the rooms the connection currently belongs to.
func (r *Registry) Rooms(connID string) []domain.RoomKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RoomKey, 0, len(r.byConn[connID]))
	for key := range r.byConn[connID] {
		out = append(out, key)
	}
	return out
}
