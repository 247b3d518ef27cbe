package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrQueued reports that a mutating request could not reach the server and
// was accepted for later delivery via the offline queue. It is not a user
// visible failure.
var ErrQueued = errors.New("queued for later delivery")

// ServerError is a rejection the server actually returned (validation,
// permission, not-found). Never queued for retry: the condition will not
// resolve itself by waiting.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server rejected request: %d %s", e.StatusCode, e.Message)
}

// Doer issues mutating requests against the authoritative API. Transport
// failures on mutating methods enqueue the operation instead of erroring.
type Doer struct {
	baseURL string
	token   string
	httpc   *http.Client
	queue   *Queue
}

func NewDoer(baseURL, token string, httpc *http.Client, queue *Queue) *Doer {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Doer{baseURL: baseURL, token: token, httpc: httpc, queue: queue}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Send performs one request. It returns nil on success, ErrQueued when a
// mutating request hit a transport failure and was enqueued, and a
// *ServerError when a response with an error status was received.
func (d *Doer) Send(ctx context.Context, method, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpc.Do(req)
	if err != nil {
		if d.queue != nil && isMutating(method) && ctx.Err() == nil {
			headers := map[string]string{}
			if d.token != "" {
				headers["Authorization"] = "Bearer " + d.token
			}
			d.queue.Enqueue(method, path, body, headers)
			return ErrQueued
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ServerError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
