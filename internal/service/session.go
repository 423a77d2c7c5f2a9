package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/openclaw/auth-broker-go/internal/errors"
	"github.com/openclaw/auth-broker-go/internal/model"
	"github.com/openclaw/auth-broker-go/internal/repository"
	"github.com/openclaw/auth-broker-go/internal/util"
)

const (
	defaultSessionTTL    = 60 * 24 * time.Hour
	defaultRefreshMargin = 60 * time.Second

	sessionLockStripes = 64
)

type AccessTokenResult struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Refreshed   bool      `json:"-"`
}

type SessionOptions struct {
	SessionTTL    time.Duration
	RefreshMargin time.Duration
	Now           func() time.Time
}

type SessionService struct {
	tokenRepo     repository.TokenRepository
	oauth         OAuthProvider
	vault         TokenSealer
	sessionTTL    time.Duration
	refreshMargin time.Duration
	now           func() time.Time

	refreshes singleflight.Group
	// record writes for one session are serialized on its stripe
	locks [sessionLockStripes]sync.Mutex
}

func NewSessionService(
	tokenRepo repository.TokenRepository,
	oauth OAuthProvider,
	vault TokenSealer,
	opts SessionOptions,
) *SessionService {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = defaultRefreshMargin
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &SessionService{
		tokenRepo:     tokenRepo,
		oauth:         oauth,
		vault:         vault,
		sessionTTL:    opts.SessionTTL,
		refreshMargin: opts.RefreshMargin,
		now:           opts.Now,
	}
}

// GetAccessToken returns a plaintext access token with more than the refresh
// margin of validity left, refreshing it upstream when needed.
func (s *SessionService) GetAccessToken(ctx context.Context, sessionToken string) (*AccessTokenResult, error) {
	if !util.IsValidSessionToken(sessionToken) {
		return nil, apperrors.Unauthorized("Invalid session")
	}

	rec, err := s.tokenRepo.Find(ctx, sessionToken)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	if rec == nil {
		return nil, apperrors.Unauthorized("Invalid session")
	}

	now := s.now().UTC()
	if rec.ValidFor(now, s.refreshMargin) {
		accessToken, err := s.vault.Decrypt(rec.AccessTokenEnc)
		if err != nil {
			return nil, apperrors.Crypto(err)
		}

		s.touch(ctx, rec, now)
		return &AccessTokenResult{AccessToken: accessToken, ExpiresAt: rec.AccessTokenExpiresAt}, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := s.refreshes.Do(sessionToken, func() (any, error) {
		return s.refresh(flightCtx, sessionToken)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AccessTokenResult), nil
}

func (s *SessionService) refresh(ctx context.Context, sessionToken string) (*AccessTokenResult, error) {
	rec, err := s.tokenRepo.Find(ctx, sessionToken)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	if rec == nil {
		return nil, apperrors.Unauthorized("Invalid session")
	}

	now := s.now().UTC()
	if rec.ValidFor(now, s.refreshMargin) {
		accessToken, err := s.vault.Decrypt(rec.AccessTokenEnc)
		if err != nil {
			return nil, apperrors.Crypto(err)
		}
		return &AccessTokenResult{AccessToken: accessToken, ExpiresAt: rec.AccessTokenExpiresAt}, nil
	}

	refreshToken, err := s.vault.Decrypt(rec.RefreshTokenEnc)
	if err != nil {
		return nil, apperrors.Crypto(err)
	}

	tokens, err := s.oauth.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, apperrors.UpstreamAuth("Upstream token refresh failed", err)
	}

	accessEnc, err := s.vault.Encrypt(tokens.AccessToken)
	if err != nil {
		return nil, apperrors.Crypto(err)
	}
	rec.AccessTokenEnc = accessEnc
	if tokens.Rotated {
		refreshEnc, err := s.vault.Encrypt(tokens.RefreshToken)
		if err != nil {
			return nil, apperrors.Crypto(err)
		}
		rec.RefreshTokenEnc = refreshEnc
	}
	rec.AccessTokenExpiresAt = now.Add(tokens.ExpiresIn)
	rec.UpdatedAt = now
	rec.LastUsedAt = now

	if err := s.commitRefresh(ctx, rec); err != nil {
		return nil, err
	}

	if tokens.ExpiresIn <= s.refreshMargin {
		return nil, apperrors.UpstreamAuth("Upstream issued an access token shorter than the refresh margin",
			fmt.Errorf("expires_in %s within margin %s", tokens.ExpiresIn, s.refreshMargin))
	}
	log.Info().
		Str("session", util.MaskToken(sessionToken)).
		Bool("rotated", tokens.Rotated).
		Msg("access token refreshed")

	return &AccessTokenResult{AccessToken: tokens.AccessToken, ExpiresAt: rec.AccessTokenExpiresAt, Refreshed: true}, nil
}

// Logout deletes the session. Deleting an unknown session is not an error.
func (s *SessionService) Logout(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return apperrors.Unauthorized("Missing session token")
	}
	if !util.IsValidSessionToken(sessionToken) {
		return nil
	}
	mu := s.lockFor(sessionToken)
	mu.Lock()
	defer mu.Unlock()

	if err := s.tokenRepo.Delete(ctx, sessionToken); err != nil {
		return apperrors.Store(err)
	}

	log.Info().Str("session", util.MaskToken(sessionToken)).Msg("session logged out")
	return nil
}

// touch renews the session TTL. A record that was refreshed or deleted since
// seen was read is left as it is.
func (s *SessionService) touch(ctx context.Context, seen *model.TokenRecord, now time.Time) {
	mu := s.lockFor(seen.SessionToken)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.tokenRepo.Find(ctx, seen.SessionToken)
	if err != nil {
		log.Warn().Err(err).Str("session", util.MaskToken(seen.SessionToken)).Msg("failed to renew session TTL")
		return
	}
	if current == nil ||
		current.AccessTokenEnc != seen.AccessTokenEnc ||
		current.RefreshTokenEnc != seen.RefreshTokenEnc {
		return
	}

	current.LastUsedAt = now
	if err := s.tokenRepo.Save(ctx, current, s.sessionTTL); err != nil {
		log.Warn().Err(err).Str("session", util.MaskToken(seen.SessionToken)).Msg("failed to renew session TTL")
	}
}

// commitRefresh saves a refreshed record unless the session was logged out
// during the upstream call.
func (s *SessionService) commitRefresh(ctx context.Context, rec *model.TokenRecord) error {
	mu := s.lockFor(rec.SessionToken)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.tokenRepo.Find(ctx, rec.SessionToken)
	if err != nil {
		return apperrors.Store(err)
	}
	if current == nil {
		return apperrors.Unauthorized("Invalid session")
	}
	if err := s.tokenRepo.Save(ctx, rec, s.sessionTTL); err != nil {
		return apperrors.Store(err)
	}
	return nil
}

func (s *SessionService) lockFor(sessionToken string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(sessionToken)%sessionLockStripes]
}

// sealTokenRecord encrypts a fresh token set into a new session record.
func sealTokenRecord(vault TokenSealer, sessionToken string, tokens *TokenSet, now time.Time) (*model.TokenRecord, error) {
	if tokens.RefreshToken == "" {
		return nil, apperrors.UpstreamAuth("Upstream did not issue a refresh token", errors.New("missing refresh_token"))
	}

	accessEnc, err := vault.Encrypt(tokens.AccessToken)
	if err != nil {
		return nil, apperrors.Crypto(fmt.Errorf("seal access token: %w", err))
	}
	refreshEnc, err := vault.Encrypt(tokens.RefreshToken)
	if err != nil {
		return nil, apperrors.Crypto(fmt.Errorf("seal refresh token: %w", err))
	}

	return &model.TokenRecord{
		SessionToken:         sessionToken,
		AccessTokenEnc:       accessEnc,
		RefreshTokenEnc:      refreshEnc,
		AccessTokenExpiresAt: now.Add(tokens.ExpiresIn),
		CreatedAt:            now,
		UpdatedAt:            now,
		LastUsedAt:           now,
	}, nil
}
