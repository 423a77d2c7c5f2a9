package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/auth-broker-go/internal/errors"
	"github.com/openclaw/auth-broker-go/internal/model"
	"github.com/openclaw/auth-broker-go/internal/util"
)

func TestStartPairing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.pairing.StartPairing(ctx)
	require.NoError(t, err)

	assert.True(t, util.IsValidUUID(result.PairID))
	assert.Contains(t, result.AuthorizationURL, "state="+result.PairID)
	assert.Equal(t, 900, result.ExpiresInSeconds)

	status, err := env.pairing.PollStatus(ctx, result.PairID)
	require.NoError(t, err)
	assert.Equal(t, model.PairingStatusPending, status.Status)
	assert.Empty(t, status.SessionToken)
	assert.Empty(t, status.Error)

	other, err := env.pairing.StartPairing(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, result.PairID, other.PairID)
}

func TestPairingEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.oauth.On("ExchangeCode", mock.Anything, "abc123", testRedirectURI).
		Return(&TokenSet{AccessToken: "upstream-access", RefreshToken: "upstream-refresh", ExpiresIn: time.Hour}, nil).Once()

	started, err := env.pairing.StartPairing(ctx)
	require.NoError(t, err)

	result, err := env.pairing.HandleCallback(ctx, CallbackParams{Code: "abc123", State: started.PairID})
	require.NoError(t, err)
	assert.Equal(t, CallbackConnected, result.Outcome)

	status, err := env.pairing.PollStatus(ctx, started.PairID)
	require.NoError(t, err)
	assert.Equal(t, model.PairingStatusCompleted, status.Status)
	require.NotEmpty(t, status.SessionToken)
	assert.True(t, util.IsValidSessionToken(status.SessionToken))

	token, err := env.session.GetAccessToken(ctx, status.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "upstream-access", token.AccessToken)
	assert.False(t, token.Refreshed)

	rec, err := env.tokens.Find(ctx, status.SessionToken)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NotContains(t, rec.AccessTokenEnc, "upstream-access")
	assert.NotContains(t, rec.RefreshTokenEnc, "upstream-refresh")

	env.oauth.AssertExpectations(t)
}

func TestPairingProviderError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.pairing.StartPairing(ctx)
	require.NoError(t, err)

	result, err := env.pairing.HandleCallback(ctx, CallbackParams{
		State:            started.PairID,
		Error:            "access_denied",
		ErrorDescription: "The user denied access",
	})
	require.NoError(t, err)
	assert.Equal(t, CallbackFailed, result.Outcome)
	assert.Equal(t, "access_denied: The user denied access", result.Message)

	status, err := env.pairing.PollStatus(ctx, started.PairID)
	require.NoError(t, err)
	assert.Equal(t, model.PairingStatusError, status.Status)
	assert.Contains(t, status.Error, "access_denied")
	assert.Empty(t, status.SessionToken)

	env.oauth.AssertNotCalled(t, "ExchangeCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestPairingExchangeFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.oauth.On("ExchangeCode", mock.Anything, "bad-code", testRedirectURI).
		Return(nil, &UpstreamAuthError{Op: "exchange", Status: 400}).Once()

	started, err := env.pairing.StartPairing(ctx)
	require.NoError(t, err)

	result, err := env.pairing.HandleCallback(ctx, CallbackParams{Code: "bad-code", State: started.PairID})
	require.NoError(t, err)
	assert.Equal(t, CallbackFailed, result.Outcome)
	assert.Equal(t, "token exchange failed (status 400)", result.Message)

	status, err := env.pairing.PollStatus(ctx, started.PairID)
	require.NoError(t, err)
	assert.Equal(t, model.PairingStatusError, status.Status)
	assert.Equal(t, "token exchange failed (status 400)", status.Error)
}

func TestPairingCallbackValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("missing state", func(t *testing.T) {
		_, err := env.pairing.HandleCallback(ctx, CallbackParams{Code: "abc"})
		assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
	})

	t.Run("missing code and error", func(t *testing.T) {
		_, err := env.pairing.HandleCallback(ctx, CallbackParams{State: "3f2c8a4e-1b7d-4c1e-9f3a-0a1b2c3d4e5f"})
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
	})

	t.Run("unknown state is not recognized", func(t *testing.T) {
		result, err := env.pairing.HandleCallback(ctx, CallbackParams{Code: "abc", State: "3f2c8a4e-1b7d-4c1e-9f3a-0a1b2c3d4e5f"})
		require.NoError(t, err)
		assert.Equal(t, CallbackNotRecognized, result.Outcome)
	})

	t.Run("malformed state is not recognized", func(t *testing.T) {
		result, err := env.pairing.HandleCallback(ctx, CallbackParams{Code: "abc", State: "../../etc"})
		require.NoError(t, err)
		assert.Equal(t, CallbackNotRecognized, result.Outcome)
	})

	assert.Equal(t, 0, env.store.Len())
}

func TestPairingCallbackReplay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.oauth.On("ExchangeCode", mock.Anything, "abc123", testRedirectURI).
		Return(&TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresIn: time.Hour}, nil).Once()

	started, err := env.pairing.StartPairing(ctx)
	require.NoError(t, err)

	_, err = env.pairing.HandleCallback(ctx, CallbackParams{Code: "abc123", State: started.PairID})
	require.NoError(t, err)
	first, err := env.pairing.PollStatus(ctx, started.PairID)
	require.NoError(t, err)

	replay, err := env.pairing.HandleCallback(ctx, CallbackParams{Code: "abc123", State: started.PairID})
	require.NoError(t, err)
	assert.Equal(t, CallbackAlreadyConnected, replay.Outcome)

	lateError, err := env.pairing.HandleCallback(ctx, CallbackParams{Error: "access_denied", State: started.PairID})
	require.NoError(t, err)
	assert.Equal(t, CallbackAlreadyConnected, lateError.Outcome)

	second, err := env.pairing.PollStatus(ctx, started.PairID)
	require.NoError(t, err)
	assert.Equal(t, first.SessionToken, second.SessionToken)
	assert.Equal(t, model.PairingStatusCompleted, second.Status)

	env.oauth.AssertNumberOfCalls(t, "ExchangeCode", 1)
}

func TestPairingFailedReplayKeepsMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.pairing.StartPairing(ctx)
	require.NoError(t, err)

	_, err = env.pairing.HandleCallback(ctx, CallbackParams{Error: "access_denied", State: started.PairID})
	require.NoError(t, err)

	replay, err := env.pairing.HandleCallback(ctx, CallbackParams{Code: "late", State: started.PairID})
	require.NoError(t, err)
	assert.Equal(t, CallbackFailed, replay.Outcome)
	assert.Equal(t, "access_denied", replay.Message)

	env.oauth.AssertNotCalled(t, "ExchangeCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestPairingConcurrentCallbacks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.oauth.On("ExchangeCode", mock.Anything, "abc123", testRedirectURI).
		After(20*time.Millisecond).
		Return(&TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresIn: time.Hour}, nil)

	started, err := env.pairing.StartPairing(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	outcomes := make(chan CallbackOutcome, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := env.pairing.HandleCallback(ctx, CallbackParams{Code: "abc123", State: started.PairID})
			if err == nil {
				outcomes <- result.Outcome
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	count := 0
	for outcome := range outcomes {
		assert.Contains(t, []CallbackOutcome{CallbackConnected, CallbackAlreadyConnected}, outcome)
		count++
	}
	assert.Equal(t, 8, count)

	env.oauth.AssertNumberOfCalls(t, "ExchangeCode", 1)
	// one pairing record plus exactly one session
	assert.Equal(t, 2, env.store.Len())
}

func TestPairingCompletedWhileExchanging(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.pairing.StartPairing(ctx)
	require.NoError(t, err)

	env.oauth.On("ExchangeCode", mock.Anything, "abc123", testRedirectURI).
		Run(func(mock.Arguments) {
			rec, err := env.pairings.Find(ctx, started.PairID)
			require.NoError(t, err)
			failed, err := rec.Fail("resolved elsewhere")
			require.NoError(t, err)
			require.NoError(t, env.pairings.Save(ctx, failed, time.Minute))
		}).
		Return(&TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresIn: time.Hour}, nil).Once()

	result, err := env.pairing.HandleCallback(ctx, CallbackParams{Code: "abc123", State: started.PairID})
	require.NoError(t, err)
	assert.Equal(t, CallbackFailed, result.Outcome)
	assert.Equal(t, "resolved elsewhere", result.Message)

	// the exchanged tokens were discarded
	assert.Equal(t, 1, env.store.Len())
}

func TestPollStatusNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.pairing.PollStatus(ctx, "3f2c8a4e-1b7d-4c1e-9f3a-0a1b2c3d4e5f")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))

	_, err = env.pairing.PollStatus(ctx, "not-a-uuid")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
}

func TestPollStatusAfterExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.pairing.StartPairing(ctx)
	require.NoError(t, err)

	env.clock.Advance(15*time.Minute + time.Second)

	_, err = env.pairing.PollStatus(ctx, started.PairID)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))

	result, err := env.pairing.HandleCallback(ctx, CallbackParams{Code: "late", State: started.PairID})
	require.NoError(t, err)
	assert.Equal(t, CallbackNotRecognized, result.Outcome)
}

func TestTerminalPairingKeepsOriginalExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("completed", func(t *testing.T) {
		env := newTestEnv(t)
		env.oauth.On("ExchangeCode", mock.Anything, "abc123", testRedirectURI).
			Return(&TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresIn: time.Hour}, nil).Once()

		started, err := env.pairing.StartPairing(ctx)
		require.NoError(t, err)

		env.clock.Advance(14 * time.Minute)
		result, err := env.pairing.HandleCallback(ctx, CallbackParams{Code: "abc123", State: started.PairID})
		require.NoError(t, err)
		require.Equal(t, CallbackConnected, result.Outcome)

		status, err := env.pairing.PollStatus(ctx, started.PairID)
		require.NoError(t, err)
		assert.Equal(t, model.PairingStatusCompleted, status.Status)

		env.clock.Advance(time.Minute + time.Second)
		_, err = env.pairing.PollStatus(ctx, started.PairID)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("failed", func(t *testing.T) {
		env := newTestEnv(t)

		started, err := env.pairing.StartPairing(ctx)
		require.NoError(t, err)

		env.clock.Advance(10 * time.Minute)
		_, err = env.pairing.HandleCallback(ctx, CallbackParams{Error: "access_denied", State: started.PairID})
		require.NoError(t, err)

		env.clock.Advance(5*time.Minute + time.Second)
		_, err = env.pairing.PollStatus(ctx, started.PairID)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("callback at the deadline still lands", func(t *testing.T) {
		env := newTestEnv(t)
		env.oauth.On("ExchangeCode", mock.Anything, "abc123", testRedirectURI).
			Return(&TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresIn: time.Hour}, nil).Once()

		started, err := env.pairing.StartPairing(ctx)
		require.NoError(t, err)

		env.clock.Advance(15*time.Minute - time.Millisecond)
		result, err := env.pairing.HandleCallback(ctx, CallbackParams{Code: "abc123", State: started.PairID})
		require.NoError(t, err)
		require.Equal(t, CallbackConnected, result.Outcome)

		status, err := env.pairing.PollStatus(ctx, started.PairID)
		require.NoError(t, err)
		assert.NotEmpty(t, status.SessionToken)
	})
}

func TestProviderErrorMessage(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		description string
		expected    string
	}{
		{"code only", "access_denied", "", "access_denied"},
		{"with description", "access_denied", "denied", "access_denied: denied"},
		{"control characters stripped", "invalid_scope", "bad\r\nscope\t", "invalid_scope: bad scope"},
		{"empty code", "", "something", "authorization_error: something"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, providerErrorMessage(tt.code, tt.description))
		})
	}

	long := providerErrorMessage("server_error", strings.Repeat("x", 1000))
	assert.Len(t, long, len("server_error: ")+maxProviderErrorLength)
}

func TestExchangeFailureMessage(t *testing.T) {
	assert.Equal(t, "token exchange failed (status 401)", exchangeFailureMessage(&UpstreamAuthError{Op: "exchange", Status: 401}))
	assert.Equal(t, "token exchange failed", exchangeFailureMessage(&UpstreamAuthError{Op: "exchange"}))
	assert.Equal(t, "token exchange failed", exchangeFailureMessage(assert.AnError))
}
