package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"crm-delivery-engine/internal/domain"
	"crm-delivery-engine/internal/domain/model"
	"crm-delivery-engine/internal/domain/ports/adapter"
	"crm-delivery-engine/internal/infra/automation"
	"crm-delivery-engine/internal/infra/crm"
)

// Strategy names for logging and metrics.
const (
	StrategyAPI        = "api"
	StrategyAutomation = "automation"
)

// Dispatcher picks the delivery strategy per job: REST when the account
// carries a plausible OAuth pair, browser automation otherwise. When the
// REST messaging surface answers 403/404 and the fallback switch is on, the
// same attempt is retried through automation before counting as failed.
type Dispatcher struct {
	tokens        *crm.TokenManager
	pool          *automation.Pool
	ratePerSec    float64
	screenshotDir string
	apiFallback   bool
	log           *zerolog.Logger

	mu      sync.Mutex
	clients map[int64]*crm.APIClient
}

func NewDispatcher(tokens *crm.TokenManager, pool *automation.Pool, ratePerSec float64, screenshotDir string, apiFallback bool, logger *zerolog.Logger) *Dispatcher {
	l := logger.With().Str("component", "Dispatcher").Logger()
	return &Dispatcher{
		tokens:        tokens,
		pool:          pool,
		ratePerSec:    ratePerSec,
		screenshotDir: screenshotDir,
		apiFallback:   apiFallback,
		log:           &l,
		clients:       make(map[int64]*crm.APIClient),
	}
}

// Deliver executes one attempt of the job. The returned strategy names the
// path that produced the final outcome.
func (d *Dispatcher) Deliver(ctx context.Context, job *model.DeliveryJob) (string, error) {
	cred, err := d.tokens.Credential(ctx, job.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("account %d: %w", job.AccountID, domain.ErrCredentialsInvalid)
		}
		return "", err
	}

	if cred.HasOAuthPair() {
		err = d.deliverVia(ctx, d.apiClient(job.AccountID), job)
		if err == nil {
			return StrategyAPI, nil
		}
		if errors.Is(err, domain.ErrAPIDenied) && d.apiFallback && cred.HasLoginPair() {
			d.log.Info().Str("job_id", job.ID).Int64("account_id", job.AccountID).
				Msg("REST surface denied, falling back to automation")
			if aerr := d.deliverByAutomation(ctx, job, cred); aerr == nil {
				return StrategyAutomation, nil
			} else {
				return StrategyAutomation, aerr
			}
		}
		return StrategyAPI, err
	}

	if cred.HasLoginPair() || cred.AccessToken != "" {
		return StrategyAutomation, d.deliverByAutomation(ctx, job, cred)
	}
	return "", fmt.Errorf("account %d has no usable credentials: %w", job.AccountID, domain.ErrCredentialsInvalid)
}

// apiClient returns the account's REST client; one instance per account so
// the rate bucket is shared across concurrent jobs.
func (d *Dispatcher) apiClient(accountID int64) *crm.APIClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[accountID]; ok {
		return c
	}
	c := crm.NewAPIClient(d.tokens.ForAccount(accountID), d.ratePerSec, d.log)
	d.clients[accountID] = c
	return c
}

func (d *Dispatcher) deliverByAutomation(ctx context.Context, job *model.DeliveryJob, cred *model.Credential) error {
	handle, err := d.pool.Acquire(ctx, job.AccountID, job.LeadID)
	if err != nil {
		return err
	}

	flow := automation.NewFlow(handle.Session, cred, d.screenshotDir, d.log)
	err = d.deliverVia(ctx, flow, job)
	if err != nil && !automation.Recoverable(err) {
		// Session in an unknown state; never hand it to the next job.
		d.pool.Discard(ctx, handle)
		return err
	}
	d.pool.Release(handle)
	return err
}

// deliverVia runs the job's operations in their fixed order; absent parts
// are skipped.
func (d *Dispatcher) deliverVia(ctx context.Context, client adapter.DeliveryClient, job *model.DeliveryJob) error {
	if job.MessageText != "" {
		if err := client.SendMessage(ctx, job.LeadID, job.MessageText); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	if job.NoteText != "" {
		if err := client.AddNote(ctx, job.LeadID, job.NoteText); err != nil {
			return fmt.Errorf("add note: %w", err)
		}
	}
	if job.TaskText != "" {
		if err := client.CreateTask(ctx, job.LeadID, job.TaskText); err != nil {
			return fmt.Errorf("create task: %w", err)
		}
	}
	return nil
}
