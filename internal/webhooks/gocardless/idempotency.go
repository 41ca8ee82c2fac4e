package gocardless

import (
	"context"
	"time"

	pkgerrors "github.com/jmwhitfield/clubpay-backend/pkg/errors"
	"github.com/jmwhitfield/clubpay-backend/pkg/redis"
)

const (
	idempotencyScope = "gocardless-event"
	idempotencyTTL   = 7 * 24 * time.Hour
)

// IdempotencyGuard drops webhook events that were already processed, keyed by
// the processor event ID.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewIdempotencyGuard builds the guard on top of the shared redis client.
func NewIdempotencyGuard(store redis.IdempotencyStore) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency store is required")
	}
	return &IdempotencyGuard{store: store, ttl: idempotencyTTL}, nil
}

// CheckAndMark claims the event ID. It returns false when the event was seen
// before and should be skipped.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}
	key := g.store.IdempotencyKey(idempotencyScope, eventID)
	claimed, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim event id")
	}
	return claimed, nil
}

// Release frees a claimed event ID so a failed event can be retried on the
// processor's next delivery attempt.
func (g *IdempotencyGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	key := g.store.IdempotencyKey(idempotencyScope, eventID)
	if err := g.store.Del(ctx, key); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release event id")
	}
	return nil
}
