package repository

import (
	"context"
	"time"

	"github.com/openclaw/auth-broker-go/internal/kv"
	"github.com/openclaw/auth-broker-go/internal/model"
)

type PairingRepository interface {
	Find(ctx context.Context, pairID string) (*model.PairingRecord, error)
	Save(ctx context.Context, rec *model.PairingRecord, ttl time.Duration) error
}

type pairingRepo struct {
	store kv.Store
}

func NewPairingRepository(store kv.Store) PairingRepository {
	return &pairingRepo{store: store}
}

func (r *pairingRepo) Find(ctx context.Context, pairID string) (*model.PairingRecord, error) {
	return getJSON[model.PairingRecord](ctx, r.store, PairingKey(pairID))
}

func (r *pairingRepo) Save(ctx context.Context, rec *model.PairingRecord, ttl time.Duration) error {
	return putJSON(ctx, r.store, PairingKey(rec.PairID), rec, ttl)
}
