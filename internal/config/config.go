package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/auth-broker-go/internal/util"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Set only behind a proxy that rewrites X-Forwarded-For.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	EncryptionKey    string `env:"ENCRYPTION_KEY,required"`
	EncryptionCipher string `env:"ENCRYPTION_CIPHER" envDefault:"aes-256-gcm"`

	OAuthClientID       string   `env:"OAUTH_CLIENT_ID,required"`
	OAuthClientSecret   string   `env:"OAUTH_CLIENT_SECRET,required"`
	OAuthAuthorizeURL   string   `env:"OAUTH_AUTHORIZE_URL" envDefault:"https://api.smartthings.com/oauth/authorize"`
	OAuthTokenURL       string   `env:"OAUTH_TOKEN_URL" envDefault:"https://auth-global.api.smartthings.com/oauth/token"`
	OAuthRedirectURI    string   `env:"OAUTH_REDIRECT_URI,required"`
	OAuthScopes         []string `env:"OAUTH_SCOPES" envSeparator:" " envDefault:"r:devices:* x:devices:*"`
	OAuthTimeoutSeconds int      `env:"OAUTH_TIMEOUT_SECONDS" envDefault:"10"`

	StoreBackend     string `env:"STORE_BACKEND" envDefault:"memory"`
	RateLimitBackend string `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	RedisURL         string `env:"REDIS_URL"`
	DatabaseURL      string `env:"DATABASE_URL"`

	PairTTLSeconds       int `env:"PAIR_TTL_SECONDS" envDefault:"900"`
	SessionTTLSeconds    int `env:"SESSION_TTL_SECONDS" envDefault:"5184000"`
	RefreshMarginSeconds int `env:"REFRESH_MARGIN_SECONDS" envDefault:"60"`

	RateLimitPair          int `env:"RATE_LIMIT_PAIR" envDefault:"10"`
	RateLimitPoll          int `env:"RATE_LIMIT_POLL" envDefault:"120"`
	RateLimitToken         int `env:"RATE_LIMIT_TOKEN" envDefault:"60"`
	RateLimitAll           int `env:"RATE_LIMIT_ALL" envDefault:"300"`

	RateLimitPairWindowSeconds  int `env:"RATE_LIMIT_PAIR_WINDOW_SECONDS" envDefault:"60"`
	RateLimitPollWindowSeconds  int `env:"RATE_LIMIT_POLL_WINDOW_SECONDS" envDefault:"60"`
	RateLimitTokenWindowSeconds int `env:"RATE_LIMIT_TOKEN_WINDOW_SECONDS" envDefault:"60"`
	RateLimitAllWindowSeconds   int `env:"RATE_LIMIT_ALL_WINDOW_SECONDS" envDefault:"60"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) PairTTL() time.Duration {
	return time.Duration(c.PairTTLSeconds) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func (c *Config) RefreshMargin() time.Duration {
	return time.Duration(c.RefreshMarginSeconds) * time.Second
}

func (c *Config) OAuthTimeout() time.Duration {
	return time.Duration(c.OAuthTimeoutSeconds) * time.Second
}

func (c *Config) RateLimitPairWindow() time.Duration {
	return time.Duration(c.RateLimitPairWindowSeconds) * time.Second
}

func (c *Config) RateLimitPollWindow() time.Duration {
	return time.Duration(c.RateLimitPollWindowSeconds) * time.Second
}

func (c *Config) RateLimitTokenWindow() time.Duration {
	return time.Duration(c.RateLimitTokenWindowSeconds) * time.Second
}

func (c *Config) RateLimitAllWindow() time.Duration {
	return time.Duration(c.RateLimitAllWindowSeconds) * time.Second
}

// Validate checks combinations env tags cannot express.
func (c *Config) Validate() error {
	switch c.EncryptionCipher {
	case util.CipherAESGCM, util.CipherXChaCha20Poly1305:
	default:
		return fmt.Errorf("ENCRYPTION_CIPHER must be %q or %q", util.CipherAESGCM, util.CipherXChaCha20Poly1305)
	}

	switch c.StoreBackend {
	case BackendMemory:
		log.Warn().Msg("STORE_BACKEND=memory: sessions are lost on restart and not shared between instances")
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_BACKEND=redis")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.RateLimitBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}

	for name, raw := range map[string]string{
		"OAUTH_AUTHORIZE_URL": c.OAuthAuthorizeURL,
		"OAUTH_TOKEN_URL":     c.OAuthTokenURL,
		"OAUTH_REDIRECT_URI":  c.OAuthRedirectURI,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", name)
		}
	}

	if len(c.OAuthScopes) == 0 {
		return fmt.Errorf("OAUTH_SCOPES must not be empty")
	}
	if c.PairTTLSeconds <= 0 || c.SessionTTLSeconds <= 0 {
		return fmt.Errorf("PAIR_TTL_SECONDS and SESSION_TTL_SECONDS must be positive")
	}
	if c.RefreshMarginSeconds < 0 {
		return fmt.Errorf("REFRESH_MARGIN_SECONDS must not be negative")
	}
	if c.OAuthTimeoutSeconds <= 0 {
		return fmt.Errorf("OAUTH_TIMEOUT_SECONDS must be positive")
	}
	for name, seconds := range map[string]int{
		"RATE_LIMIT_PAIR_WINDOW_SECONDS":  c.RateLimitPairWindowSeconds,
		"RATE_LIMIT_POLL_WINDOW_SECONDS":  c.RateLimitPollWindowSeconds,
		"RATE_LIMIT_TOKEN_WINDOW_SECONDS": c.RateLimitTokenWindowSeconds,
		"RATE_LIMIT_ALL_WINDOW_SECONDS":   c.RateLimitAllWindowSeconds,
	} {
		if seconds <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if strings.HasPrefix(c.RedisURL, "redis://") {
		log.Warn().Msg("REDIS_URL uses redis:// (not TLS): consider using rediss://")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
