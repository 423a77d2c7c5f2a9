package model

import "time"

// TokenRecord holds one session's upstream credentials, sealed by the vault.
// Plaintext tokens never appear here.
type TokenRecord struct {
	SessionToken         string    `json:"sessionToken"`
	AccessTokenEnc       string    `json:"accessTokenEnc"`
	RefreshTokenEnc      string    `json:"refreshTokenEnc"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
	LastUsedAt           time.Time `json:"lastUsedAt"`
}

// ValidFor reports whether the access token outlives now by more than margin.
func (t *TokenRecord) ValidFor(now time.Time, margin time.Duration) bool {
	return t.AccessTokenExpiresAt.Sub(now) > margin
}
