package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"crm-delivery-engine/internal/config"
	"crm-delivery-engine/internal/domain"
	"crm-delivery-engine/internal/domain/model"
	"crm-delivery-engine/internal/domain/ports/adapter"
	"crm-delivery-engine/internal/domain/ports/repository"
	"crm-delivery-engine/internal/infra/metrics"
)

// TokenManager owns the OAuth lifecycle for all accounts. Refreshes are
// single-flight per account: the CRM invalidates a refresh token on first
// use, so two concurrent refreshes with the same token strand the account.
type TokenManager struct {
	cfg   config.CRMConfig
	repo  repository.CredentialRepository
	cache repository.CredentialCache
	http  *http.Client
	log   *zerolog.Logger

	group singleflight.Group

	mu    sync.RWMutex
	creds map[int64]*model.Credential
}

func NewTokenManager(cfg config.CRMConfig, repo repository.CredentialRepository, cache repository.CredentialCache, logger *zerolog.Logger) *TokenManager {
	l := logger.With().Str("component", "TokenManager").Logger()
	return &TokenManager{
		cfg:   cfg,
		repo:  repo,
		cache: cache,
		http:  &http.Client{Timeout: 15 * time.Second},
		log:   &l,
		creds: make(map[int64]*model.Credential),
	}
}

// ForAccount returns the token source bound to one account.
func (m *TokenManager) ForAccount(accountID int64) adapter.TokenSource {
	return &accountTokenSource{m: m, accountID: accountID}
}

// Credential returns the current credential snapshot (memory, then cache,
// then repository).
func (m *TokenManager) Credential(ctx context.Context, accountID int64) (*model.Credential, error) {
	m.mu.RLock()
	if c, ok := m.creds[accountID]; ok {
		m.mu.RUnlock()
		cp := *c
		return &cp, nil
	}
	m.mu.RUnlock()

	if m.cache != nil {
		if c, err := m.cache.Get(ctx, accountID); err == nil {
			m.remember(c)
			return c, nil
		}
	}
	c, err := m.repo.FindByAccount(ctx, repository.NoTX, accountID)
	if err != nil {
		return nil, err
	}
	m.remember(c)
	return c, nil
}

func (m *TokenManager) remember(c *model.Credential) {
	cp := *c
	m.mu.Lock()
	m.creds[c.AccountID] = &cp
	m.mu.Unlock()
}

// GetValidToken returns the cached access token while it is comfortably
// inside its expiry, refreshing otherwise.
func (m *TokenManager) GetValidToken(ctx context.Context, accountID int64) (string, error) {
	cred, err := m.Credential(ctx, accountID)
	if err != nil {
		return "", err
	}
	if cred.Fresh(time.Now()) {
		return cred.AccessToken, nil
	}
	return m.refresh(ctx, accountID)
}

// ForceRefresh discards the cached token and refreshes, sharing the flight
// with any concurrent caller for the same account.
func (m *TokenManager) ForceRefresh(ctx context.Context, accountID int64) (string, error) {
	return m.refresh(ctx, accountID)
}

// BaseURL reports the tenant endpoint for the account; empty when unknown.
func (m *TokenManager) BaseURL(accountID int64) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.creds[accountID]; ok {
		return c.BaseURL
	}
	return ""
}

func (m *TokenManager) refresh(ctx context.Context, accountID int64) (string, error) {
	v, err, shared := m.group.Do(strconv.FormatInt(accountID, 10), func() (interface{}, error) {
		return m.refreshLocked(ctx, accountID)
	})
	if shared {
		metrics.IncTokenRefreshShared()
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *TokenManager) refreshLocked(ctx context.Context, accountID int64) (string, error) {
	cred, err := m.Credential(ctx, accountID)
	if err != nil {
		return "", err
	}

	rotated, err := m.exchange(ctx, cred, cred.BaseURL)
	if err == nil {
		return m.commit(ctx, rotated)
	}
	if !errors.Is(err, domain.ErrAuthExpired) {
		metrics.IncTokenRefresh("error")
		return "", err
	}

	// The tenant may have migrated to another subdomain, which makes the
	// old base URL reject the refresh token. Recover once via the
	// current-subdomain endpoint before declaring the pair dead.
	newBase, derr := m.discoverBaseURL(ctx, cred)
	if derr != nil || newBase == "" || newBase == cred.BaseURL {
		metrics.IncTokenRefresh("invalid")
		return "", fmt.Errorf("refresh rejected: %w", domain.ErrCredentialsInvalid)
	}
	m.log.Warn().Int64("account_id", accountID).
		Str("old_base", cred.BaseURL).Str("new_base", newBase).
		Msg("tenant subdomain migrated, retrying refresh")

	if err := m.repo.UpdateBaseURL(ctx, repository.NoTX, accountID, newBase); err != nil {
		return "", err
	}
	cred.BaseURL = newBase
	m.remember(cred)

	rotated, err = m.exchange(ctx, cred, newBase)
	if err != nil {
		metrics.IncTokenRefresh("invalid")
		return "", fmt.Errorf("refresh rejected after subdomain recovery: %w", domain.ErrCredentialsInvalid)
	}
	return m.commit(ctx, rotated)
}

func (m *TokenManager) commit(ctx context.Context, cred *model.Credential) (string, error) {
	if err := m.repo.Save(ctx, repository.NoTX, cred); err != nil {
		return "", fmt.Errorf("persist rotated tokens: %w", err)
	}
	if m.cache != nil {
		if err := m.cache.Set(ctx, cred); err != nil {
			m.log.Warn().Err(err).Int64("account_id", cred.AccountID).Msg("credential cache update failed")
		}
	}
	m.remember(cred)
	metrics.IncTokenRefresh("ok")
	return cred.AccessToken, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// exchange performs the refresh_token grant against the tenant base URL.
func (m *TokenManager) exchange(ctx context.Context, cred *model.Credential, baseURL string) (*model.Credential, error) {
	body := map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     m.cfg.ClientID,
		"client_secret": m.cfg.ClientSecret,
		"refresh_token": cred.RefreshToken,
		"redirect_uri":  m.cfg.RedirectURI,
	}
	b, _ := json.Marshal(body)

	url := strings.ReplaceAll(m.cfg.TokenURL, "{base}", strings.TrimSuffix(baseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token endpoint: %w: %v", domain.ErrTransientDelivery, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusBadRequest:
		return nil, domain.ErrAuthExpired
	default:
		return nil, fmt.Errorf("token endpoint http %d: %w", resp.StatusCode, domain.ErrTransientDelivery)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" || tr.RefreshToken == "" {
		return nil, domain.ErrAuthExpired
	}

	rotated := *cred
	rotated.AccessToken = tr.AccessToken
	rotated.RefreshToken = tr.RefreshToken
	rotated.TokenExpiry = time.Now().Unix() + tr.ExpiresIn
	rotated.BaseURL = baseURL
	return &rotated, nil
}

// discoverBaseURL asks the CRM where the tenant lives now. The stale access
// token is a JWT carrying the API domain claim; that domain answers the
// current-subdomain lookup for a still-valid refresh token.
func (m *TokenManager) discoverBaseURL(ctx context.Context, cred *model.Credential) (string, error) {
	apiDomain := apiDomainFromToken(cred.AccessToken)
	if apiDomain == "" {
		apiDomain = strings.TrimSuffix(cred.BaseURL, "/")
	}

	url := strings.ReplaceAll(m.cfg.SubdomainURL, "{api_domain}", strings.TrimSuffix(apiDomain, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Refresh-Token", cred.RefreshToken)

	resp, err := m.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("subdomain lookup http %d", resp.StatusCode)
	}

	var out struct {
		BaseURL string `json:"base_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return strings.TrimSuffix(out.BaseURL, "/"), nil
}

// apiDomainFromToken decodes the JWT without verification; we only need the
// routing claim, not a trust decision.
func apiDomainFromToken(accessToken string) string {
	if accessToken == "" {
		return ""
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return ""
	}
	if v, ok := claims["api_domain"].(string); ok && v != "" {
		if !strings.HasPrefix(v, "http") {
			return "https://" + v
		}
		return v
	}
	return ""
}

// accountTokenSource narrows the manager onto one account for the clients.
type accountTokenSource struct {
	m         *TokenManager
	accountID int64
}

var _ adapter.TokenSource = (*accountTokenSource)(nil)

func (s *accountTokenSource) GetValidToken(ctx context.Context) (string, error) {
	return s.m.GetValidToken(ctx, s.accountID)
}

func (s *accountTokenSource) ForceRefresh(ctx context.Context) (string, error) {
	return s.m.ForceRefresh(ctx, s.accountID)
}

func (s *accountTokenSource) BaseURL() string {
	return s.m.BaseURL(s.accountID)
}
