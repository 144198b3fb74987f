package automation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crm-delivery-engine/internal/domain"
	"crm-delivery-engine/internal/domain/model"
	"crm-delivery-engine/internal/domain/ports/adapter"
)

// Compile-time assurance the flow satisfies the delivery port
var _ adapter.DeliveryClient = (*Flow)(nil)

// Flow drives the CRM web UI through one automation session. Each delivery
// operation ensures the lead card is open and the session authorized before
// interacting; consecutive operations on the same lead skip the dance.
type Flow struct {
	session       adapter.AutomationSession
	cred          *model.Credential
	screenshotDir string
	log           *zerolog.Logger

	openLeadID int64
	authorized bool
}

func NewFlow(session adapter.AutomationSession, cred *model.Credential, screenshotDir string, logger *zerolog.Logger) *Flow {
	l := logger.With().Str("component", "AutomationFlow").Int64("account_id", cred.AccountID).Logger()
	return &Flow{
		session:       session,
		cred:          cred,
		screenshotDir: screenshotDir,
		log:           &l,
	}
}

func (f *Flow) SendMessage(ctx context.Context, leadID int64, text string) error {
	if err := f.ensureReady(ctx, leadID); err != nil {
		return err
	}
	box, err := f.session.Find(ctx, locMessageBox)
	if err != nil {
		return fmt.Errorf("message box: %w", err)
	}
	if err := box.Click(ctx); err != nil {
		return fmt.Errorf("focus message box: %w", err)
	}
	if err := box.Type(ctx, text); err != nil {
		return fmt.Errorf("type message: %w", err)
	}
	send, err := f.session.Find(ctx, locMessageSend)
	if err != nil {
		return fmt.Errorf("send button: %w", err)
	}
	return send.Click(ctx)
}

func (f *Flow) AddNote(ctx context.Context, leadID int64, text string) error {
	if err := f.ensureReady(ctx, leadID); err != nil {
		return err
	}
	return f.composeAndSave(ctx, locNoteTab, locNoteBox, locNoteSave, text, "note")
}

func (f *Flow) CreateTask(ctx context.Context, leadID int64, text string) error {
	if err := f.ensureReady(ctx, leadID); err != nil {
		return err
	}
	return f.composeAndSave(ctx, locTaskTab, locTaskBox, locTaskSave, text, "task")
}

func (f *Flow) composeAndSave(ctx context.Context, tab, box, save []adapter.Locator, text, what string) error {
	t, err := f.session.Find(ctx, tab)
	if err != nil {
		return fmt.Errorf("%s tab: %w", what, err)
	}
	if err := t.Click(ctx); err != nil {
		return fmt.Errorf("open %s tab: %w", what, err)
	}
	b, err := f.session.Find(ctx, box)
	if err != nil {
		return fmt.Errorf("%s box: %w", what, err)
	}
	if err := b.Type(ctx, text); err != nil {
		return fmt.Errorf("type %s: %w", what, err)
	}
	s, err := f.session.Find(ctx, save)
	if err != nil {
		return fmt.Errorf("%s save: %w", what, err)
	}
	return s.Click(ctx)
}

// ensureReady opens the lead card and walks the authorization ladder.
func (f *Flow) ensureReady(ctx context.Context, leadID int64) error {
	if f.openLeadID == leadID && f.authorized {
		return nil
	}
	if err := f.openLead(ctx, leadID); err != nil {
		return err
	}
	if err := f.ensureAuthorized(ctx, leadID); err != nil {
		return err
	}
	f.openLeadID = leadID
	return nil
}

func (f *Flow) openLead(ctx context.Context, leadID int64) error {
	u := fmt.Sprintf("%s/leads/detail/%d", strings.TrimSuffix(f.cred.BaseURL, "/"), leadID)
	if err := f.session.Navigate(ctx, u); err != nil {
		return fmt.Errorf("open lead: %w", err)
	}
	return nil
}

// ensureAuthorized walks: current session → cookie injection + reload →
// login form (when configured). Exhausting all rungs is terminal and
// captures a diagnostic screenshot.
func (f *Flow) ensureAuthorized(ctx context.Context, leadID int64) error {
	if f.checkAuthorized(ctx) {
		f.authorized = true
		return nil
	}

	if f.cred.AccessToken != "" {
		if err := f.injectSessionCookie(ctx); err != nil {
			f.log.Debug().Err(err).Msg("cookie injection failed")
		} else if err := f.openLead(ctx, leadID); err == nil && f.checkAuthorized(ctx) {
			f.authorized = true
			return nil
		}
	}

	if f.cred.HasLoginPair() {
		if err := f.submitLoginForm(ctx); err != nil {
			f.log.Debug().Err(err).Msg("login form submission failed")
		} else if err := f.openLead(ctx, leadID); err == nil && f.checkAuthorized(ctx) {
			f.authorized = true
			return nil
		}
	}

	f.captureDiagnostic(ctx, leadID)
	return domain.ErrAuthorizationFailed
}

func (f *Flow) checkAuthorized(ctx context.Context) bool {
	if _, err := f.session.Find(ctx, locWorkspace); err == nil {
		return true
	}
	return false
}

func (f *Flow) injectSessionCookie(ctx context.Context) error {
	u, err := url.Parse(f.cred.BaseURL)
	if err != nil {
		return err
	}
	return f.session.AddCookie(ctx, adapter.Cookie{
		Name:   "access_token",
		Value:  f.cred.AccessToken,
		Domain: u.Hostname(),
		Secure: true,
	})
}

func (f *Flow) submitLoginForm(ctx context.Context) error {
	email, err := f.session.Find(ctx, locLoginEmail)
	if err != nil {
		return fmt.Errorf("login field: %w", err)
	}
	if err := email.Type(ctx, f.cred.Login); err != nil {
		return err
	}
	pass, err := f.session.Find(ctx, locLoginPassword)
	if err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if err := pass.Type(ctx, f.cred.Password); err != nil {
		return err
	}
	submit, err := f.session.Find(ctx, locLoginSubmit)
	if err != nil {
		return fmt.Errorf("submit button: %w", err)
	}
	return submit.Click(ctx)
}

func (f *Flow) captureDiagnostic(ctx context.Context, leadID int64) {
	if f.screenshotDir == "" {
		return
	}
	png, err := f.session.Screenshot(ctx)
	if err != nil {
		f.log.Warn().Err(err).Msg("diagnostic screenshot failed")
		return
	}
	name := fmt.Sprintf("auth-failed-%d-%d-%d.png", f.cred.AccountID, leadID, time.Now().Unix())
	path := filepath.Join(f.screenshotDir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		f.log.Warn().Err(err).Str("path", path).Msg("writing diagnostic screenshot failed")
		return
	}
	f.log.Info().Str("path", path).Msg("diagnostic screenshot captured")
}

// Recoverable reports whether an automation error may succeed on a clean
// session next attempt.
func Recoverable(err error) bool {
	return !errors.Is(err, domain.ErrAuthorizationFailed)
}
