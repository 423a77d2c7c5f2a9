package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/openclaw/auth-broker-go/internal/errors"
	"github.com/openclaw/auth-broker-go/internal/model"
	"github.com/openclaw/auth-broker-go/internal/repository"
	"github.com/openclaw/auth-broker-go/internal/util"
)

const (
	defaultPairTTL         = 15 * time.Minute
	maxProviderErrorLength = 200
)

// TokenSealer encrypts upstream tokens before they reach the store.
type TokenSealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(packed string) (string, error)
}

type CallbackOutcome string

const (
	CallbackConnected        CallbackOutcome = "connected"
	CallbackAlreadyConnected CallbackOutcome = "already_connected"
	CallbackNotRecognized    CallbackOutcome = "not_recognized"
	CallbackFailed           CallbackOutcome = "failed"
)

type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

type CallbackResult struct {
	Outcome CallbackOutcome
	PairID  string
	// Message is sanitized and safe to render.
	Message string
}

type StartPairingResult struct {
	PairID           string `json:"pairId"`
	AuthorizationURL string `json:"authorizationUrl"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

type PairingStatusResult struct {
	Status       model.PairingStatus `json:"status"`
	SessionToken string              `json:"sessionToken,omitempty"`
	Error        string              `json:"error,omitempty"`
}

type PairingOptions struct {
	RedirectURI string
	PairTTL     time.Duration
	SessionTTL  time.Duration
	Now         func() time.Time
}

type PairingService struct {
	pairingRepo repository.PairingRepository
	tokenRepo   repository.TokenRepository
	oauth       OAuthProvider
	vault       TokenSealer
	redirectURI string
	pairTTL     time.Duration
	sessionTTL  time.Duration
	now         func() time.Time

	callbacks singleflight.Group
}

func NewPairingService(
	pairingRepo repository.PairingRepository,
	tokenRepo repository.TokenRepository,
	oauth OAuthProvider,
	vault TokenSealer,
	opts PairingOptions,
) *PairingService {
	if opts.PairTTL <= 0 {
		opts.PairTTL = defaultPairTTL
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &PairingService{
		pairingRepo: pairingRepo,
		tokenRepo:   tokenRepo,
		oauth:       oauth,
		vault:       vault,
		redirectURI: opts.RedirectURI,
		pairTTL:     opts.PairTTL,
		sessionTTL:  opts.SessionTTL,
		now:         opts.Now,
	}
}

func (s *PairingService) StartPairing(ctx context.Context) (*StartPairingResult, error) {
	pairID := uuid.NewString()
	rec := model.NewPendingPairing(pairID, s.now().UTC())

	if err := s.pairingRepo.Save(ctx, rec, s.pairTTL); err != nil {
		return nil, apperrors.Store(err)
	}

	log.Info().Str("pairId", pairID).Msg("pairing started")

	return &StartPairingResult{
		PairID:           pairID,
		AuthorizationURL: s.oauth.AuthorizationURL(pairID),
		ExpiresInSeconds: int(s.pairTTL / time.Second),
	}, nil
}

// HandleCallback resolves a pending pairing from the OAuth redirect. Callbacks
// for the same state are coalesced so a retried redirect never mints a second
// session token.
func (s *PairingService) HandleCallback(ctx context.Context, params CallbackParams) (*CallbackResult, error) {
	if params.State == "" {
		return nil, apperrors.MissingRequired("state")
	}
	if params.Code == "" && params.Error == "" {
		return nil, apperrors.ValidationError("code or error is required")
	}
	if !util.IsValidUUID(params.State) {
		return &CallbackResult{Outcome: CallbackNotRecognized}, nil
	}

	// The code is single-use; the exchange must not die with the browser request.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := s.callbacks.Do(params.State, func() (any, error) {
		return s.handleCallback(flightCtx, params)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CallbackResult), nil
}

func (s *PairingService) handleCallback(ctx context.Context, params CallbackParams) (*CallbackResult, error) {
	rec, err := s.pairingRepo.Find(ctx, params.State)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	if rec == nil {
		log.Info().Str("pairId", params.State).Msg("callback for unknown pairing")
		return &CallbackResult{Outcome: CallbackNotRecognized, PairID: params.State}, nil
	}
	if rec.IsTerminal() {
		return terminalResult(rec), nil
	}

	if params.Error != "" {
		return s.fail(ctx, rec, providerErrorMessage(params.Error, params.ErrorDescription))
	}

	tokens, err := s.oauth.ExchangeCode(ctx, params.Code, s.redirectURI)
	if err != nil {
		return s.refail(ctx, rec.PairID, exchangeFailureMessage(err))
	}

	sessionToken, err := util.GenerateToken()
	if err != nil {
		return s.abort(ctx, rec.PairID, fmt.Errorf("generate session token: %w", err))
	}
	tokenRec, err := sealTokenRecord(s.vault, sessionToken, tokens, s.now().UTC())
	if err != nil {
		return s.abort(ctx, rec.PairID, err)
	}

	current, err := s.pairingRepo.Find(ctx, rec.PairID)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	if current == nil {
		log.Warn().Str("pairId", rec.PairID).Msg("pairing expired during token exchange")
		return &CallbackResult{Outcome: CallbackNotRecognized, PairID: rec.PairID}, nil
	}
	if current.IsTerminal() {
		log.Warn().Str("pairId", rec.PairID).Msg("pairing resolved concurrently, discarding tokens")
		return terminalResult(current), nil
	}

	completed, err := current.Complete(sessionToken)
	if err != nil {
		return nil, apperrors.Internal("Failed to complete pairing").WithCause(err)
	}
	if err := s.tokenRepo.Save(ctx, tokenRec, s.sessionTTL); err != nil {
		return s.abort(ctx, rec.PairID, apperrors.Store(err))
	}
	if err := s.pairingRepo.Save(ctx, completed, s.remainingTTL(completed)); err != nil {
		if delErr := s.tokenRepo.Delete(ctx, sessionToken); delErr != nil {
			log.Error().Err(delErr).Str("session", util.MaskToken(sessionToken)).Msg("failed to remove orphaned session")
		}
		return nil, apperrors.Store(err)
	}

	log.Info().
		Str("pairId", rec.PairID).
		Str("session", util.MaskToken(sessionToken)).
		Msg("pairing completed")

	return &CallbackResult{Outcome: CallbackConnected, PairID: rec.PairID}, nil
}

func (s *PairingService) fail(ctx context.Context, rec *model.PairingRecord, message string) (*CallbackResult, error) {
	failed, err := rec.Fail(message)
	if err != nil {
		return terminalResult(rec), nil
	}
	if err := s.pairingRepo.Save(ctx, failed, s.remainingTTL(failed)); err != nil {
		return nil, apperrors.Store(err)
	}

	log.Info().Str("pairId", rec.PairID).Str("reason", message).Msg("pairing failed")
	return &CallbackResult{Outcome: CallbackFailed, PairID: rec.PairID, Message: message}, nil
}

// remainingTTL keeps a terminal write on the expiry set at creation.
func (s *PairingService) remainingTTL(rec *model.PairingRecord) time.Duration {
	ttl := s.pairTTL - s.now().Sub(rec.CreatedAt)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// refail fails the record as currently stored, not as first read.
func (s *PairingService) refail(ctx context.Context, pairID, message string) (*CallbackResult, error) {
	current, err := s.pairingRepo.Find(ctx, pairID)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	if current == nil {
		return &CallbackResult{Outcome: CallbackNotRecognized, PairID: pairID}, nil
	}
	if current.IsTerminal() {
		return terminalResult(current), nil
	}
	return s.fail(ctx, current, message)
}

// abort marks the pairing failed on an internal error so pollers stop
// waiting, then returns the original error.
func (s *PairingService) abort(ctx context.Context, pairID string, cause error) (*CallbackResult, error) {
	if _, err := s.refail(ctx, pairID, "internal error while completing pairing"); err != nil {
		log.Error().Err(err).Str("pairId", pairID).Msg("failed to mark pairing as failed")
	}

	var appErr *apperrors.AppError
	if errors.As(cause, &appErr) {
		return nil, appErr
	}
	return nil, apperrors.Internal("Failed to complete pairing").WithCause(cause)
}

func (s *PairingService) PollStatus(ctx context.Context, pairID string) (*PairingStatusResult, error) {
	if !util.IsValidUUID(pairID) {
		return nil, apperrors.NotFound("Pairing")
	}

	rec, err := s.pairingRepo.Find(ctx, pairID)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	if rec == nil {
		return nil, apperrors.NotFound("Pairing")
	}

	result := &PairingStatusResult{Status: rec.Status()}
	switch st := rec.State.(type) {
	case model.PairingCompleted:
		result.SessionToken = st.SessionToken
	case model.PairingFailed:
		result.Error = st.Message
	}
	return result, nil
}

func terminalResult(rec *model.PairingRecord) *CallbackResult {
	if st, ok := rec.State.(model.PairingFailed); ok {
		return &CallbackResult{Outcome: CallbackFailed, PairID: rec.PairID, Message: st.Message}
	}
	return &CallbackResult{Outcome: CallbackAlreadyConnected, PairID: rec.PairID}
}

func providerErrorMessage(code, description string) string {
	code = sanitizeText(code, 64)
	description = sanitizeText(description, maxProviderErrorLength)
	if code == "" {
		code = "authorization_error"
	}
	if description == "" {
		return code
	}
	return code + ": " + description
}

func exchangeFailureMessage(err error) string {
	var upstreamErr *UpstreamAuthError
	if errors.As(err, &upstreamErr) && upstreamErr.Status > 0 {
		return fmt.Sprintf("token exchange failed (status %d)", upstreamErr.Status)
	}
	return "token exchange failed"
}

// sanitizeText strips control characters and truncates to limit runes.
func sanitizeText(s string, limit int) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return s
}
