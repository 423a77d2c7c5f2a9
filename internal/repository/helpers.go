package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openclaw/auth-broker-go/internal/kv"
)

const (
	pairingKeyPrefix = "pair:"
	tokenKeyPrefix   = "token:"
)

func PairingKey(pairID string) string {
	return pairingKeyPrefix + pairID
}

func TokenKey(sessionToken string) string {
	return tokenKeyPrefix + sessionToken
}

// getJSON loads and decodes key, converting kv.ErrNotFound to a nil result
// without error. A missing record is not an error condition for Find* calls.
func getJSON[T any](ctx context.Context, store kv.Store, key string) (*T, error) {
	data, err := store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &result, nil
}

func putJSON(ctx context.Context, store kv.Store, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return store.Put(ctx, key, data, ttl)
}
