package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"realtime-service/domain"
)

// Membership answers room-join authorization against the workspace
// membership tables owned by the CRUD layer. Workspace rooms check the
// members table directly; board rooms resolve the board's workspace first.
type Membership struct {
	membersTable *aztables.Client
	boardsTable  *aztables.Client
}

// New creates a Membership gate from the given connection string.
func New(connStr, membersTable, boardsTable string) (*Membership, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Membership{
		membersTable: svc.NewClient(membersTable),
		boardsTable:  svc.NewClient(boardsTable),
	}, nil
}

type boardEntity struct {
	aztables.Entity
	WorkspaceID string `json:"WorkspaceId"`
}

// IsAuthorized reports whether userID may join the room. A missing member
// or board row means "no", not an error.
func (m *Membership) IsAuthorized(ctx context.Context, userID string, key domain.RoomKey) (bool, error) {
	switch key.Kind {
	case domain.ScopeWorkspace:
		return m.isMember(ctx, key.ID, userID)
	case domain.ScopeBoard:
		workspaceID, ok, err := m.boardWorkspace(ctx, key.ID)
		if err != nil || !ok {
			return false, err
		}
		return m.isMember(ctx, workspaceID, userID)
	}
	return false, nil
}

func (m *Membership) isMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	_, err := m.membersTable.GetEntity(ctx, workspaceID, userID, nil)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *Membership) boardWorkspace(ctx context.Context, boardID string) (string, bool, error) {
	resp, err := m.boardsTable.GetEntity(ctx, boardID, boardID, nil)
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	var ent boardEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return "", false, err
	}
	if ent.WorkspaceID == "" {
		return "", false, nil
	}
	return ent.WorkspaceID, true, nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
