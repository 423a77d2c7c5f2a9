package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	defaultAccessTokenLifetime = time.Hour
	defaultOAuthTimeout        = 10 * time.Second
)

// TokenSet is the result of a code exchange or a refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	// Rotated reports whether the upstream issued a new refresh token.
	Rotated bool
}

// UpstreamAuthError is returned when the token endpoint rejects a request or
// cannot be reached. Status is 0 for transport failures.
type UpstreamAuthError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamAuthError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("oauth %s failed: upstream status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("oauth %s failed", e.Op)
}

func (e *UpstreamAuthError) Unwrap() error {
	return e.Err
}

type OAuthProvider interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
}

type OAuthClientConfig struct {
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	RedirectURI  string
	Scopes       []string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

type OAuthClient struct {
	conf         oauth2.Config
	authorizeURL string
	scopes       []string
	timeout      time.Duration
	httpClient   *http.Client
}

func NewOAuthClient(cfg OAuthClientConfig) *OAuthClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOAuthTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &OAuthClient{
		conf: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		authorizeURL: cfg.AuthorizeURL,
		scopes:       cfg.Scopes,
		timeout:      timeout,
		httpClient:   httpClient,
	}
}

// AuthorizationURL builds the upstream consent URL. The scope parameter is
// appended separately so ':' and '*' stay literal.
func (c *OAuthClient) AuthorizationURL(state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {c.conf.ClientID},
		"redirect_uri":  {c.conf.RedirectURL},
		"state":         {state},
	}

	sep := "?"
	if strings.Contains(c.authorizeURL, "?") {
		sep = "&"
	}

	authURL := c.authorizeURL + sep + params.Encode()
	if scope := EncodeScopes(c.scopes); scope != "" {
		authURL += "&scope=" + scope
	}
	return authURL
}

func (c *OAuthClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	conf := c.conf
	if redirectURI != "" {
		conf.RedirectURL = redirectURI
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, c.upstreamError(ctx, "exchange", err)
	}
	return toTokenSet(tok, ""), nil
}

func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	// Without an access token the source always goes to the endpoint.
	src := c.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, c.upstreamError(ctx, "refresh", err)
	}
	return toTokenSet(tok, refreshToken), nil
}

func (c *OAuthClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return context.WithTimeout(ctx, c.timeout)
}

func (c *OAuthClient) upstreamError(ctx context.Context, op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		log.Warn().
			Str("op", op).
			Int("status", status).
			Str("errorCode", retrieveErr.ErrorCode).
			Bytes("body", retrieveErr.Body).
			Msg("token endpoint rejected request")
		return &UpstreamAuthError{Op: op, Status: status, Err: err}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Warn().Str("op", op).Dur("timeout", c.timeout).Msg("token endpoint timed out")
		return &UpstreamAuthError{Op: op, Status: http.StatusGatewayTimeout, Err: err}
	}

	log.Warn().Err(err).Str("op", op).Msg("token endpoint request failed")
	return &UpstreamAuthError{Op: op, Err: err}
}

func toTokenSet(tok *oauth2.Token, previousRefresh string) *TokenSet {
	expiresIn := defaultAccessTokenLifetime
	if !tok.Expiry.IsZero() {
		expiresIn = time.Until(tok.Expiry).Round(time.Second)
	}

	return &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn,
		Rotated:      tok.RefreshToken != "" && tok.RefreshToken != previousRefresh,
	}
}

// EncodeScopes percent-encodes each scope, keeping ':' and '*' literal, and
// joins them with an encoded space.
func EncodeScopes(scopes []string) string {
	encoded := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if scope == "" {
			continue
		}
		encoded = append(encoded, escapeScope(scope))
	}
	return strings.Join(encoded, "%20")
}

func escapeScope(scope string) string {
	var b strings.Builder
	for i := 0; i < len(scope); i++ {
		ch := scope[i]
		if isScopeSafe(ch) {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", ch)
	}
	return b.String()
}

func isScopeSafe(ch byte) bool {
	switch {
	case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		return true
	case ch == '-', ch == '.', ch == '_', ch == '~', ch == ':', ch == '*':
		return true
	}
	return false
}
