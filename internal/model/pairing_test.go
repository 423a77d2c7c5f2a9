package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairingRecordTransitions(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("new record is pending", func(t *testing.T) {
		rec := NewPendingPairing("pair-1", now)
		assert.Equal(t, PairingStatusPending, rec.Status())
		assert.False(t, rec.IsTerminal())
	})

	t.Run("complete carries session token", func(t *testing.T) {
		rec := NewPendingPairing("pair-1", now)
		done, err := rec.Complete("tok")
		require.NoError(t, err)

		assert.Equal(t, PairingStatusCompleted, done.Status())
		assert.Equal(t, PairingCompleted{SessionToken: "tok"}, done.State)
		assert.Equal(t, now, done.CreatedAt)
		assert.Equal(t, PairingStatusPending, rec.Status(), "original is not mutated")
	})

	t.Run("fail carries message", func(t *testing.T) {
		rec := NewPendingPairing("pair-1", now)
		failed, err := rec.Fail("access_denied")
		require.NoError(t, err)
		assert.Equal(t, PairingFailed{Message: "access_denied"}, failed.State)
	})

	t.Run("terminal records cannot transition again", func(t *testing.T) {
		rec := NewPendingPairing("pair-1", now)
		done, err := rec.Complete("tok")
		require.NoError(t, err)

		_, err = done.Complete("other")
		assert.Error(t, err)
		_, err = done.Fail("late error")
		assert.Error(t, err)

		failed, err := rec.Fail("denied")
		require.NoError(t, err)
		_, err = failed.Complete("tok")
		assert.Error(t, err)
	})

	t.Run("complete requires a token", func(t *testing.T) {
		_, err := NewPendingPairing("pair-1", now).Complete("")
		assert.Error(t, err)
	})
}

func TestPairingRecordJSON(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("completed record keeps its token", func(t *testing.T) {
		rec, err := NewPendingPairing("pair-1", now).Complete("tok")
		require.NoError(t, err)

		data, err := json.Marshal(rec)
		require.NoError(t, err)
		assert.JSONEq(t, `{"pairId":"pair-1","status":"completed","createdAt":"2026-01-02T03:04:05Z","sessionToken":"tok"}`, string(data))

		var decoded PairingRecord
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, *rec, decoded)
	})

	t.Run("pending record has no terminal fields", func(t *testing.T) {
		data, err := json.Marshal(NewPendingPairing("pair-1", now))
		require.NoError(t, err)
		assert.NotContains(t, string(data), "sessionToken")
		assert.NotContains(t, string(data), `"error"`)
	})

	invalid := map[string]string{
		"pending with token":      `{"pairId":"p","status":"pending","sessionToken":"t"}`,
		"pending with error":      `{"pairId":"p","status":"pending","error":"e"}`,
		"completed without token": `{"pairId":"p","status":"completed"}`,
		"completed with error":    `{"pairId":"p","status":"completed","sessionToken":"t","error":"e"}`,
		"error without message":   `{"pairId":"p","status":"error"}`,
		"error with token":        `{"pairId":"p","status":"error","error":"e","sessionToken":"t"}`,
		"unknown status":          `{"pairId":"p","status":"weird"}`,
	}
	for name, raw := range invalid {
		t.Run("rejects "+name, func(t *testing.T) {
			var rec PairingRecord
			assert.Error(t, json.Unmarshal([]byte(raw), &rec))
		})
	}
}

func TestTokenRecordValidFor(t *testing.T) {
	now := time.Now()
	rec := &TokenRecord{AccessTokenExpiresAt: now.Add(90 * time.Second)}

	assert.True(t, rec.ValidFor(now, time.Minute))
	assert.False(t, rec.ValidFor(now.Add(30*time.Second), time.Minute))
	assert.False(t, rec.ValidFor(now.Add(2*time.Minute), time.Minute))
}
