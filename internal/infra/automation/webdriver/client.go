// Package webdriver drives a remote browser over the W3C WebDriver REST
// protocol. One Engine per remote end; each session is an isolated browsing
// context on it.
package webdriver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"crm-delivery-engine/internal/domain"
	"crm-delivery-engine/internal/domain/ports/adapter"
)

var _ adapter.AutomationEngine = (*Engine)(nil)

type Engine struct {
	endpoint string
	http     *http.Client
}

func NewEngine(endpoint string) *Engine {
	return &Engine{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *Engine) NewSession(ctx context.Context) (adapter.AutomationSession, error) {
	body := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"alwaysMatch": map[string]interface{}{
				"browserName": "chrome",
				"goog:chromeOptions": map[string]interface{}{
					"args": []string{"--headless=new", "--disable-gpu", "--no-sandbox"},
				},
			},
		},
	}
	var out struct {
		Value struct {
			SessionID string `json:"sessionId"`
		} `json:"value"`
	}
	if err := e.call(ctx, http.MethodPost, "/session", body, &out); err != nil {
		return nil, err
	}
	if out.Value.SessionID == "" {
		return nil, errors.New("webdriver: empty session id")
	}
	return &session{engine: e, id: out.Value.SessionID}, nil
}

func (e *Engine) Healthy(ctx context.Context) bool {
	var out struct {
		Value struct {
			Ready bool `json:"ready"`
		} `json:"value"`
	}
	if err := e.call(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return false
	}
	return out.Value.Ready
}

func (e *Engine) Close(ctx context.Context) error { return nil }

// errorValue is the W3C error shape inside the "value" envelope.
type errorValue struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *Engine) call(ctx context.Context, method, path string, body, out interface{}) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.endpoint+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("webdriver: %w: %v", domain.ErrTransientDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var env struct {
			Value errorValue `json:"value"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&env)
		if env.Value.Error == "no such element" {
			return domain.ErrElementNotFound
		}
		return fmt.Errorf("webdriver http %d (%s): %s", resp.StatusCode, env.Value.Error, env.Value.Message)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

var _ adapter.AutomationSession = (*session)(nil)

type session struct {
	engine *Engine
	id     string
}

func (s *session) path(sub string) string { return "/session/" + s.id + sub }

func (s *session) Navigate(ctx context.Context, url string) error {
	return s.engine.call(ctx, http.MethodPost, s.path("/url"), map[string]string{"url": url}, nil)
}

func (s *session) CurrentURL(ctx context.Context) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	if err := s.engine.call(ctx, http.MethodGet, s.path("/url"), nil, &out); err != nil {
		return "", err
	}
	return out.Value, nil
}

// Find tries each locator in order; the first match wins. The ordered list
// absorbs markup drift: a renamed data attribute falls through to the class
// or text locator without a code change.
func (s *session) Find(ctx context.Context, locators []adapter.Locator) (adapter.Element, error) {
	for _, loc := range locators {
		var out struct {
			Value map[string]string `json:"value"`
		}
		err := s.engine.call(ctx, http.MethodPost, s.path("/element"),
			map[string]string{"using": string(loc.Strategy), "value": loc.Value}, &out)
		if err != nil {
			if errors.Is(err, domain.ErrElementNotFound) {
				continue
			}
			return nil, err
		}
		for _, id := range out.Value {
			return &element{session: s, id: id}, nil
		}
	}
	return nil, domain.ErrElementNotFound
}

func (s *session) AddCookie(ctx context.Context, c adapter.Cookie) error {
	return s.engine.call(ctx, http.MethodPost, s.path("/cookie"), map[string]interface{}{
		"cookie": map[string]interface{}{
			"name":   c.Name,
			"value":  c.Value,
			"domain": c.Domain,
			"secure": c.Secure,
			"path":   "/",
		},
	}, nil)
}

func (s *session) Screenshot(ctx context.Context) ([]byte, error) {
	var out struct {
		Value string `json:"value"`
	}
	if err := s.engine.call(ctx, http.MethodGet, s.path("/screenshot"), nil, &out); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(out.Value)
}

func (s *session) Close(ctx context.Context) error {
	return s.engine.call(ctx, http.MethodDelete, "/session/"+s.id, nil, nil)
}

var _ adapter.Element = (*element)(nil)

type element struct {
	session *session
	id      string
}

func (e *element) path(sub string) string {
	return e.session.path("/element/" + e.id + sub)
}

func (e *element) Click(ctx context.Context) error {
	return e.session.engine.call(ctx, http.MethodPost, e.path("/click"), map[string]string{}, nil)
}

func (e *element) Type(ctx context.Context, text string) error {
	return e.session.engine.call(ctx, http.MethodPost, e.path("/value"), map[string]string{"text": text}, nil)
}

func (e *element) Text(ctx context.Context) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	if err := e.session.engine.call(ctx, http.MethodGet, e.path("/text"), nil, &out); err != nil {
		return "", err
	}
	return out.Value, nil
}
