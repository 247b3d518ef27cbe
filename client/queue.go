package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// IdempotencyKeyHeader carries the queued operation's id on replay so the
// authoritative API can deduplicate a request that actually arrived the
// first time despite the client seeing a network failure.
const IdempotencyKeyHeader = "X-Idempotency-Key"

// QueuedOperation is one mutating request that failed at the transport
// level and waits for replay. Immutable once queued.
type QueuedOperation struct {
	ID        string            `json:"id"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Body      json.RawMessage   `json:"body,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Queue is the client-durable store of not-yet-acknowledged mutating
// operations. It survives process restarts via a JSON file and is flushed
// on startup and on every offline-to-online transition.
type Queue struct {
	path    string
	baseURL string
	httpc   *http.Client
	logger  *log.Logger

	mu       sync.Mutex
	ops      []QueuedOperation
	flushing bool
}

// OpenQueue loads the queue file at path. A missing or unreadable file
// yields an empty queue rather than an error: a corrupt queue must never
// brick the client.
func OpenQueue(path, baseURL string, httpc *http.Client, logger *log.Logger) *Queue {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	q := &Queue{path: path, baseURL: baseURL, httpc: httpc, logger: logger}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("offline queue unreadable, starting empty: %v", err)
		}
		return q
	}
	if err := json.Unmarshal(data, &q.ops); err != nil {
		logger.Warnf("offline queue corrupt, starting empty: %v", err)
		q.ops = nil
	}
	return q
}

// Enqueue appends a mutating operation for later replay and persists the
// queue. The returned operation's ID doubles as its idempotency token.
func (q *Queue) Enqueue(method, path string, body []byte, headers map[string]string) QueuedOperation {
	op := QueuedOperation{
		ID:        uuid.NewString(),
		Method:    method,
		Path:      path,
		Body:      body,
		Headers:   headers,
		CreatedAt: time.Now().UTC(),
	}
	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.persistLocked()
	q.mu.Unlock()
	return op
}

// Len reports the number of pending operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Operations returns a copy of the pending operations in creation order.
func (q *Queue) Operations() []QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedOperation, len(q.ops))
	copy(out, q.ops)
	return out
}

// Flush replays pending operations strictly in creation order, tagging
// each request with its idempotency token. A transport-level failure
// retains the operation for the next flush but does not stop later ones.
// Any received response, success or server-level rejection, removes the
// operation: the server saw the request, retrying a rejection would loop
// forever. Overlapping flush triggers (startup plus an online event)
// collapse to a single run.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if q.flushing || len(q.ops) == 0 {
		q.mu.Unlock()
		return nil
	}
	q.flushing = true
	snapshot := make([]QueuedOperation, len(q.ops))
	copy(snapshot, q.ops)
	q.mu.Unlock()

	retained := make([]QueuedOperation, 0, len(snapshot))
	for _, op := range snapshot {
		if err := ctx.Err(); err != nil {
			// Context gone: keep this and everything after it.
			retained = append(retained, op)
			continue
		}
		if keep := q.replay(ctx, op); keep {
			retained = append(retained, op)
		}
	}

	q.mu.Lock()
	// Operations enqueued while the flush ran sit past the snapshot.
	q.ops = append(retained, q.ops[len(snapshot):]...)
	q.persistLocked()
	q.flushing = false
	q.mu.Unlock()
	return nil
}

// replay sends one queued operation and reports whether to keep it.
func (q *Queue) replay(ctx context.Context, op QueuedOperation) bool {
	req, err := http.NewRequestWithContext(ctx, op.Method, q.baseURL+op.Path, bytes.NewReader(op.Body))
	if err != nil {
		q.logger.Errorf("offline queue: drop malformed operation %s: %v", op.ID, err)
		return false
	}
	for k, v := range op.Headers {
		req.Header.Set(k, v)
	}
	if len(op.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(IdempotencyKeyHeader, op.ID)

	resp, err := q.httpc.Do(req)
	if err != nil {
		// Still offline (or the server is unreachable): retry next flush.
		q.logger.WithField("op", op.ID).Debugf("replay failed, retaining: %v", err)
		return true
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		q.logger.WithFields(log.Fields{
			"op":     op.ID,
			"status": resp.StatusCode,
		}).Warn("replay rejected by server, discarding")
	}
	return false
}

// persistLocked writes the queue file atomically. Callers hold q.mu.
func (q *Queue) persistLocked() {
	data, err := json.Marshal(q.ops)
	if err != nil {
		q.logger.Errorf("offline queue: marshal: %v", err)
		return
	}
	tmp := q.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		q.logger.Errorf("offline queue: mkdir: %v", err)
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		q.logger.Errorf("offline queue: write: %v", err)
		return
	}
	if err := os.Rename(tmp, q.path); err != nil {
		q.logger.Errorf("offline queue: rename: %v", err)
	}
}
