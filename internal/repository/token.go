package repository

import (
	"context"
	"time"

	"github.com/openclaw/auth-broker-go/internal/kv"
	"github.com/openclaw/auth-broker-go/internal/model"
)

type TokenRepository interface {
	Find(ctx context.Context, sessionToken string) (*model.TokenRecord, error)
	Save(ctx context.Context, rec *model.TokenRecord, ttl time.Duration) error
	Delete(ctx context.Context, sessionToken string) error
}

type tokenRepo struct {
	store kv.Store
}

func NewTokenRepository(store kv.Store) TokenRepository {
	return &tokenRepo{store: store}
}

func (r *tokenRepo) Find(ctx context.Context, sessionToken string) (*model.TokenRecord, error) {
	return getJSON[model.TokenRecord](ctx, r.store, TokenKey(sessionToken))
}

// Save writes the whole record and restarts its TTL.
func (r *tokenRepo) Save(ctx context.Context, rec *model.TokenRecord, ttl time.Duration) error {
	return putJSON(ctx, r.store, TokenKey(rec.SessionToken), rec, ttl)
}

func (r *tokenRepo) Delete(ctx context.Context, sessionToken string) error {
	return r.store.Delete(ctx, TokenKey(sessionToken))
}
