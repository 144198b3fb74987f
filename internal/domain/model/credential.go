package model

import "time"

// Credential is one account's OAuth pair plus the tenant base URL. It is
// owned exclusively by that account's token manager; the refresh token is
// stored encrypted at rest.
type Credential struct {
	AccountID    int64
	AccessToken  string
	RefreshToken string
	// TokenExpiry is epoch seconds of access token expiry.
	TokenExpiry int64
	// BaseURL is the tenant subdomain endpoint, e.g. https://acme.kommo.com.
	BaseURL string

	// Optional UI login pair enabling the automation fallback path.
	Login    string
	Password string

	UpdatedAt time.Time
}

// expirySlack keeps a token from being used right at its expiry edge.
const expirySlack = 5 * time.Minute

// Fresh reports whether the access token is still usable at now.
func (c *Credential) Fresh(now time.Time) bool {
	if c.AccessToken == "" || c.TokenExpiry == 0 {
		return false
	}
	return time.Unix(c.TokenExpiry, 0).After(now.Add(expirySlack))
}

// HasOAuthPair reports whether the credential looks usable for the REST path.
func (c *Credential) HasOAuthPair() bool {
	return c.RefreshToken != "" && (c.AccessToken != "" || c.BaseURL != "")
}

// HasLoginPair reports whether the UI login fallback is configured.
func (c *Credential) HasLoginPair() bool {
	return c.Login != "" && c.Password != ""
}
