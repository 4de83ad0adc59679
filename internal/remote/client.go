package remote

import (
	"context"
	"encoding/json"

	"subtrack/internal/models"
)

// Filter restricts a query to rows whose columns equal the given values.
type Filter map[string]string

// Order sorts query results by a single column.
type Order struct {
	Column     string
	Descending bool
}

// AuthEventType identifies a class of auth state change pushed by the backend.
type AuthEventType string

const (
	EventSignedIn       AuthEventType = "SIGNED_IN"
	EventSignedOut      AuthEventType = "SIGNED_OUT"
	EventTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEventType = "USER_UPDATED"
)

// AuthEvent is one auth state change. Session is nil for signed-out events.
type AuthEvent struct {
	Type    AuthEventType   `json:"event"`
	Session *models.Session `json:"session,omitempty"`
}

// Client is the boundary to the hosted backend: session primitives, a push
// feed of auth state changes, and row-level CRUD over the data plane.
//
// Data-plane calls return the affected rows as raw JSON. An empty row set on
// a successful Insert or Update is legitimate: row-visibility policy can
// block reading back a row that was written.
type Client interface {
	GetSession(ctx context.Context) (*models.Session, error)
	RefreshSession(ctx context.Context) (*models.Session, error)
	SignOut(ctx context.Context) error

	// AuthEvents registers fn for pushed auth state changes and returns an
	// unsubscribe function. After unsubscribe returns, fn is never invoked
	// again.
	AuthEvents(ctx context.Context, fn func(AuthEvent)) (func(), error)

	Select(ctx context.Context, table string, filter Filter, order *Order) ([]json.RawMessage, error)
	Insert(ctx context.Context, table string, record any) ([]json.RawMessage, error)
	Update(ctx context.Context, table string, filter Filter, patch any) ([]json.RawMessage, error)
	Delete(ctx context.Context, table string, filter Filter) error
}
