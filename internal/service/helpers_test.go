package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/auth-broker-go/internal/kv"
	"github.com/openclaw/auth-broker-go/internal/repository"
	"github.com/openclaw/auth-broker-go/internal/util"
)

type mockOAuthProvider struct {
	mock.Mock
}

func (m *mockOAuthProvider) AuthorizationURL(state string) string {
	return "https://auth.example.com/authorize?state=" + state
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	args := m.Called(ctx, code, redirectURI)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TokenSet), args.Error(1)
}

func (m *mockOAuthProvider) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TokenSet), args.Error(1)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const testRedirectURI = "https://broker.example.com/v1/callback"

type testEnv struct {
	store    *kv.MemoryStore
	pairings repository.PairingRepository
	tokens   repository.TokenRepository
	oauth    *mockOAuthProvider
	vault    *util.Vault
	clock    *testClock
	pairing  *PairingService
	session  *SessionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	vault, err := util.NewVault(strings.Repeat("ab", 32), util.CipherAESGCM)
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := kv.NewMemoryStore().WithClock(clock.Now)
	env := &testEnv{
		store:    store,
		pairings: repository.NewPairingRepository(store),
		tokens:   repository.NewTokenRepository(store),
		oauth:    &mockOAuthProvider{},
		vault:    vault,
		clock:    clock,
	}

	env.pairing = NewPairingService(env.pairings, env.tokens, env.oauth, vault, PairingOptions{
		RedirectURI: testRedirectURI,
		PairTTL:     15 * time.Minute,
		SessionTTL:  60 * 24 * time.Hour,
		Now:         env.clock.Now,
	})
	env.session = NewSessionService(env.tokens, env.oauth, vault, SessionOptions{
		SessionTTL:    60 * 24 * time.Hour,
		RefreshMargin: time.Minute,
		Now:           env.clock.Now,
	})
	return env
}

// seedSession stores a session whose access token expires after expiresIn.
func (e *testEnv) seedSession(t *testing.T, access, refresh string, expiresIn time.Duration) string {
	t.Helper()

	sessionToken, err := util.GenerateToken()
	require.NoError(t, err)

	rec, err := sealTokenRecord(e.vault, sessionToken, &TokenSet{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
	}, e.clock.Now())
	require.NoError(t, err)
	require.NoError(t, e.tokens.Save(context.Background(), rec, time.Hour))
	return sessionToken
}
