package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"crm-delivery-engine/internal/domain"
	"crm-delivery-engine/internal/domain/ports/adapter"
	"crm-delivery-engine/internal/infra/metrics"
)

// Compile-time assurance this client satisfies the port
var _ adapter.DeliveryClient = (*APIClient)(nil)

// APIClient drives the CRM REST surface for one account. All calls share a
// token bucket so the client never exceeds the CRM's per-account request
// budget; callers over budget sleep until the bucket refills.
type APIClient struct {
	tokens adapter.TokenSource
	http   *http.Client
	lim    *rate.Limiter
	log    *zerolog.Logger
}

func NewAPIClient(tokens adapter.TokenSource, ratePerSec float64, logger *zerolog.Logger) *APIClient {
	l := logger.With().Str("component", "APIClient").Logger()
	burst := int(ratePerSec)
	if burst < 1 {
		burst = 1
	}
	return &APIClient{
		tokens: tokens,
		http:   &http.Client{Timeout: 20 * time.Second},
		lim:    rate.NewLimiter(rate.Limit(ratePerSec), burst),
		log:    &l,
	}
}

func (c *APIClient) SendMessage(ctx context.Context, leadID int64, text string) error {
	payload := map[string]interface{}{"message": map[string]string{"text": text}}
	return c.post(ctx, fmt.Sprintf("/api/v4/leads/%d/messages", leadID), payload)
}

func (c *APIClient) AddNote(ctx context.Context, leadID int64, text string) error {
	payload := []map[string]interface{}{{
		"entity_id": leadID,
		"note_type": "common",
		"params":    map[string]string{"text": text},
	}}
	return c.post(ctx, fmt.Sprintf("/api/v4/leads/%d/notes", leadID), payload)
}

func (c *APIClient) CreateTask(ctx context.Context, leadID int64, text string) error {
	payload := []map[string]interface{}{{
		"entity_id":     leadID,
		"entity_type":   "leads",
		"text":          text,
		"complete_till": time.Now().Add(24 * time.Hour).Unix(),
	}}
	return c.post(ctx, "/api/v4/tasks", payload)
}

func (c *APIClient) post(ctx context.Context, path string, payload interface{}) error {
	if err := c.lim.Wait(ctx); err != nil {
		return err
	}

	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return err
	}

	status, err := c.do(ctx, path, payload, token)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		// One retry with a forced refresh before surfacing the 401.
		metrics.IncAPIAuthRetry()
		token, err = c.tokens.ForceRefresh(ctx)
		if err != nil {
			return err
		}
		if status, err = c.do(ctx, path, payload, token); err != nil {
			return err
		}
	}
	return classifyStatus(status)
}

func (c *APIClient) do(ctx context.Context, path string, payload interface{}, token string) (int, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokens.BaseURL()+path, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("crm api: %w: %v", domain.ErrTransientDelivery, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func classifyStatus(status int) error {
	switch {
	case status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return domain.ErrAuthExpired
	case status == http.StatusForbidden || status == http.StatusNotFound:
		// REST surface disabled or absent for this tenant; the dispatcher
		// may fall back to browser automation.
		return fmt.Errorf("crm api http %d: %w", status, domain.ErrAPIDenied)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("crm api http %d: %w", status, domain.ErrTransientDelivery)
	default:
		return fmt.Errorf("crm api http %d: %w", status, domain.ErrTransientDelivery)
	}
}
