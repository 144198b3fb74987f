//go:build !integration

package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crm-delivery-engine/internal/config"
	"crm-delivery-engine/internal/domain"
	"crm-delivery-engine/internal/domain/model"
	"crm-delivery-engine/internal/domain/ports/adapter"
	"crm-delivery-engine/internal/domain/ports/repository"
	"crm-delivery-engine/internal/infra/automation"
	"crm-delivery-engine/internal/infra/crm"
)

// memCredRepo backs the token manager in dispatcher tests.
type memCredRepo struct {
	mu    sync.Mutex
	creds map[int64]*model.Credential
}

func newMemCredRepo(creds ...*model.Credential) *memCredRepo {
	m := &memCredRepo{creds: make(map[int64]*model.Credential)}
	for _, c := range creds {
		cp := *c
		m.creds[c.AccountID] = &cp
	}
	return m
}

func (m *memCredRepo) FindByAccount(ctx context.Context, tx repository.Tx, accountID int64) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCredRepo) Save(ctx context.Context, tx repository.Tx, cred *model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cred
	m.creds[cred.AccountID] = &cp
	return nil
}

func (m *memCredRepo) UpdateBaseURL(ctx context.Context, tx repository.Tx, accountID int64, baseURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.creds[accountID]; ok {
		c.BaseURL = baseURL
	}
	return nil
}

// stubElement accepts every interaction.
type stubElement struct{}

func (stubElement) Click(ctx context.Context) error            { return nil }
func (stubElement) Type(ctx context.Context, text string) error { return nil }
func (stubElement) Text(ctx context.Context) (string, error)   { return "", nil }

// openSession finds every element, modelling a fully rendered, authorized
// lead card.
type openSession struct {
	finds int32
}

func (s *openSession) Navigate(ctx context.Context, url string) error { return nil }
func (s *openSession) CurrentURL(ctx context.Context) (string, error) { return "", nil }
func (s *openSession) Find(ctx context.Context, locators []adapter.Locator) (adapter.Element, error) {
	atomic.AddInt32(&s.finds, 1)
	return stubElement{}, nil
}
func (s *openSession) AddCookie(ctx context.Context, c adapter.Cookie) error { return nil }
func (s *openSession) Screenshot(ctx context.Context) ([]byte, error)        { return nil, nil }
func (s *openSession) Close(ctx context.Context) error                       { return nil }

type stubEngine struct{ session *openSession }

func (e *stubEngine) NewSession(ctx context.Context) (adapter.AutomationSession, error) {
	return e.session, nil
}
func (e *stubEngine) Healthy(ctx context.Context) bool  { return true }
func (e *stubEngine) Close(ctx context.Context) error   { return nil }

func newTestDispatcher(t *testing.T, repo *memCredRepo, apiFallback bool) (*Dispatcher, *openSession) {
	t.Helper()
	cfg := config.CRMConfig{
		TokenURL:     "{base}/oauth2/access_token",
		SubdomainURL: "{api_domain}/oauth2/account/subdomain",
		RatePerSec:   100,
	}
	tokens := crm.NewTokenManager(cfg, repo, nil, newTestLogger())
	sess := &openSession{}
	pool := automation.NewPool(func(ctx context.Context) (adapter.AutomationEngine, error) {
		return &stubEngine{session: sess}, nil
	}, 4, 1, 5*time.Minute, newTestLogger())
	return NewDispatcher(tokens, pool, cfg.RatePerSec, "", apiFallback, newTestLogger()), sess
}

func oauthCred(baseURL string, withLogin bool) *model.Credential {
	c := &model.Credential{
		AccountID:    7,
		AccessToken:  "tok",
		RefreshToken: "rt",
		TokenExpiry:  time.Now().Add(time.Hour).Unix(),
		BaseURL:      baseURL,
	}
	if withLogin {
		c.Login = "user@example.com"
		c.Password = "s3cret"
	}
	return c
}

func TestDispatcher_Deliver(t *testing.T) {
	ctx := context.Background()

	t.Run("oauth account goes through the REST path", func(t *testing.T) {
		var apiHits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api/v4/") {
				atomic.AddInt32(&apiHits, 1)
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		repo := newMemCredRepo(oauthCred(srv.URL, false))
		d, sess := newTestDispatcher(t, repo, true)

		job := queuedJob()
		strategy, err := d.Deliver(ctx, job)
		if err != nil {
			t.Fatalf("Deliver: %v", err)
		}
		if strategy != StrategyAPI {
			t.Fatalf("strategy = %s, want api", strategy)
		}
		if atomic.LoadInt32(&apiHits) != 1 {
			t.Fatalf("api hits = %d, want 1", apiHits)
		}
		if atomic.LoadInt32(&sess.finds) != 0 {
			t.Fatal("automation must not run when the REST path succeeds")
		}
	})

	t.Run("REST denial falls back to automation in the same attempt", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		repo := newMemCredRepo(oauthCred(srv.URL, true))
		d, sess := newTestDispatcher(t, repo, true)

		strategy, err := d.Deliver(ctx, queuedJob())
		if err != nil {
			t.Fatalf("Deliver: %v", err)
		}
		if strategy != StrategyAutomation {
			t.Fatalf("strategy = %s, want automation", strategy)
		}
		if atomic.LoadInt32(&sess.finds) == 0 {
			t.Fatal("automation session was never driven")
		}
	})

	t.Run("fallback switch off surfaces the denial", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		repo := newMemCredRepo(oauthCred(srv.URL, true))
		d, sess := newTestDispatcher(t, repo, false)

		strategy, err := d.Deliver(ctx, queuedJob())
		if !errors.Is(err, domain.ErrAPIDenied) {
			t.Fatalf("err = %v, want ErrAPIDenied", err)
		}
		if strategy != StrategyAPI {
			t.Fatalf("strategy = %s, want api", strategy)
		}
		if atomic.LoadInt32(&sess.finds) != 0 {
			t.Fatal("automation must not run with the fallback off")
		}
	})

	t.Run("no login pair means no fallback either", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		repo := newMemCredRepo(oauthCred(srv.URL, false))
		d, _ := newTestDispatcher(t, repo, true)

		if _, err := d.Deliver(ctx, queuedJob()); !errors.Is(err, domain.ErrAPIDenied) {
			t.Fatalf("err = %v, want ErrAPIDenied", err)
		}
	})

	t.Run("login-only account goes straight to automation", func(t *testing.T) {
		cred := &model.Credential{
			AccountID: 7,
			Login:     "user@example.com",
			Password:  "s3cret",
			BaseURL:   "https://acme.example.com",
		}
		repo := newMemCredRepo(cred)
		d, sess := newTestDispatcher(t, repo, true)

		strategy, err := d.Deliver(ctx, queuedJob())
		if err != nil {
			t.Fatalf("Deliver: %v", err)
		}
		if strategy != StrategyAutomation {
			t.Fatalf("strategy = %s, want automation", strategy)
		}
		if atomic.LoadInt32(&sess.finds) == 0 {
			t.Fatal("automation session was never driven")
		}
	})

	t.Run("unknown account is terminal", func(t *testing.T) {
		d, _ := newTestDispatcher(t, newMemCredRepo(), true)
		if _, err := d.Deliver(ctx, queuedJob()); !errors.Is(err, domain.ErrCredentialsInvalid) {
			t.Fatalf("err = %v, want ErrCredentialsInvalid", err)
		}
	})

	t.Run("credential with nothing usable is terminal", func(t *testing.T) {
		repo := newMemCredRepo(&model.Credential{AccountID: 7})
		d, _ := newTestDispatcher(t, repo, true)
		if _, err := d.Deliver(ctx, queuedJob()); !errors.Is(err, domain.ErrCredentialsInvalid) {
			t.Fatalf("err = %v, want ErrCredentialsInvalid", err)
		}
	})
}

// fakeClient records operation order for the fixed-sequence contract.
type fakeClient struct {
	ops []string
}

func (f *fakeClient) SendMessage(ctx context.Context, leadID int64, text string) error {
	f.ops = append(f.ops, "message")
	return nil
}

func (f *fakeClient) AddNote(ctx context.Context, leadID int64, text string) error {
	f.ops = append(f.ops, "note")
	return nil
}

func (f *fakeClient) CreateTask(ctx context.Context, leadID int64, text string) error {
	f.ops = append(f.ops, "task")
	return nil
}

func TestDispatcher_DeliverVia(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatcher(t, newMemCredRepo(), true)

	t.Run("runs message, note, task in order", func(t *testing.T) {
		job := queuedJob()
		job.NoteText = "note"
		job.TaskText = "task"
		fc := &fakeClient{}
		if err := d.deliverVia(ctx, fc, job); err != nil {
			t.Fatalf("deliverVia: %v", err)
		}
		if want := []string{"message", "note", "task"}; len(fc.ops) != 3 ||
			fc.ops[0] != want[0] || fc.ops[1] != want[1] || fc.ops[2] != want[2] {
			t.Fatalf("ops = %v, want %v", fc.ops, want)
		}
	})

	t.Run("absent parts are skipped", func(t *testing.T) {
		job := queuedJob()
		job.MessageText = ""
		job.TaskText = "task"
		fc := &fakeClient{}
		if err := d.deliverVia(ctx, fc, job); err != nil {
			t.Fatalf("deliverVia: %v", err)
		}
		if len(fc.ops) != 1 || fc.ops[0] != "task" {
			t.Fatalf("ops = %v, want [task]", fc.ops)
		}
	})
}
