// Package store is the remote key/value and record store the dispatch core persists to.
package store

import (
	"context"
	"errors"

	"github.com/park285/chat-dispatch-bot/internal/domain"
)

var (
	ErrNoAccount    = errors.New("store: account id not configured")
	ErrInvalidPlan  = errors.New("store: invalid plan")
	ErrInvalidInput = errors.New("store: invalid arguments")
)

// Session keys shared by the dispatch core.
const (
	KeyMode    = "mode"
	KeyBlocked = "blocked"
	KeyPrefix  = "prefix"
)

// DefaultPrefix is used when no prefix has been stored for the account.
const DefaultPrefix = "."

// API is the surface of the remote store consumed by the dispatch core.
// SessionGet reports found=false for a missing key.
type API interface {
	SessionGet(ctx context.Context, key string) (value string, found bool, err error)
	SessionSet(ctx context.Context, key, value string) error
	SessionDelete(ctx context.Context, key string) error

	GetPlan(ctx context.Context, identity string) (domain.Plan, error)
	SetPlan(ctx context.Context, identity string, plan domain.Plan) error

	GetReactions(ctx context.Context, accountID string) ([]domain.ReactionRule, error)
	SetReactions(ctx context.Context, accountID string, rules []domain.ReactionRule) error

	Verify(ctx context.Context) (accountID string, err error)
	GetPrefix(ctx context.Context, accountID string) (string, error)
}

// PlanRecords persists plan assignments outside the key/value store.
type PlanRecords interface {
	GetPlan(ctx context.Context, accountID, identity string) (domain.Plan, bool, error)
	UpsertPlan(ctx context.Context, accountID, identity string, plan domain.Plan) error
}
