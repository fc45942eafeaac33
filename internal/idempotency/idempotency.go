// Package idempotency lets a client retry a money-moving write without
// applying it twice.
//
// A keyed write saves its key record in the same Apply unit as the write.
// A retry either finds the record and replays the stored resource, or loses
// the race on the (user, key) uniqueness and rolls back whole.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/ledger"
)

// MaxKeyLen bounds a client-supplied key.
const MaxKeyLen = 255

// Key is a client-supplied idempotency key plus a digest of the request it
// arrived with.
type Key struct {
	Value string
	Hash  string
}

// Hash returns the hex sha256 digest of b.
func Hash(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

type ctxKey struct{}

// WithKey attaches k to ctx. Services pick it up through FromContext.
func WithKey(ctx context.Context, k Key) context.Context {
	return context.WithValue(ctx, ctxKey{}, k)
}

// FromContext returns the key attached to ctx, if any.
func FromContext(ctx context.Context) (Key, bool) {
	k, ok := ctx.Value(ctxKey{}).(Key)
	return k, ok && k.Value != ""
}

// Reader resolves saved keys.
type Reader interface {
	GetIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (ledger.IdempotencyKey, error)
}

// Guard tracks one keyed write. The zero Guard is unkeyed and lets every
// write through.
type Guard struct {
	r      Reader
	userID uuid.UUID
	scope  string
	key    Key
	keyed  bool
}

// Begin builds a Guard for the key on ctx, if there is one.
func Begin(ctx context.Context, r Reader, userID uuid.UUID, scope string) Guard {
	k, ok := FromContext(ctx)
	return Guard{r: r, userID: userID, scope: scope, key: k, keyed: ok}
}

// Lookup returns the resource an earlier request with the same key produced.
// A key reused with a different scope or request body fails with
// errs.ErrConflict.
func (g Guard) Lookup(ctx context.Context) (uuid.UUID, bool, error) {
	if !g.keyed {
		return uuid.Nil, false, nil
	}
	rec, err := g.r.GetIdempotencyKey(ctx, g.userID, g.key.Value)
	if errors.Is(err, errs.ErrNotFound) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	if rec.Scope != g.scope || rec.RequestHash != g.key.Hash {
		return uuid.Nil, false, errs.Conflict("idempotency key was already used for a different request")
	}
	return rec.ResourceID, true, nil
}

// Ops returns the op that records the key against resourceID, or nothing
// when the write is unkeyed.
func (g Guard) Ops(resourceID uuid.UUID, at time.Time) []ledger.Op {
	if !g.keyed {
		return nil
	}
	return []ledger.Op{ledger.SaveIdempotencyKey{Key: ledger.IdempotencyKey{
		UserID:      g.userID,
		Key:         g.key.Value,
		Scope:       g.scope,
		RequestHash: g.key.Hash,
		ResourceID:  resourceID,
		CreatedAt:   at,
	}}}
}

// Raced handles an Apply error. When a concurrent request with the same key
// committed first, it returns that request's resource with ok set.
func (g Guard) Raced(ctx context.Context, applyErr error) (uuid.UUID, bool, error) {
	if !g.keyed || !errors.Is(applyErr, errs.ErrConflict) {
		return uuid.Nil, false, applyErr
	}
	id, ok, err := g.Lookup(ctx)
	if err != nil {
		return uuid.Nil, false, err
	}
	if !ok {
		return uuid.Nil, false, applyErr
	}
	return id, true, nil
}
