//go:build !integration

package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crm-delivery-engine/internal/domain"
	"crm-delivery-engine/internal/domain/model"
	"crm-delivery-engine/internal/domain/ports/adapter"
	"crm-delivery-engine/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

type memJobRepo struct {
	mu    sync.Mutex
	store map[string]*model.DeliveryJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: make(map[string]*model.DeliveryJob)}
}

func (m *memJobRepo) add(job *model.DeliveryJob) *model.DeliveryJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	cp := *job
	m.store[job.ID] = &cp
	return job
}

// makeDue clears any retry delay so the next fetch picks the job up.
func (m *memJobRepo) makeDue(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.store[id]; ok {
		j.RunAt = time.Time{}
	}
}

func (m *memJobRepo) get(id string) *model.DeliveryJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.store[id]
	return &cp
}

func (m *memJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.DeliveryJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	cp := *job
	m.store[job.ID] = &cp
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) FetchAndMarkActive(ctx context.Context, now time.Time) (*model.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*model.DeliveryJob
	for _, j := range m.store {
		if j.Status != model.JobStatusQueued {
			continue
		}
		if !j.RunAt.IsZero() && j.RunAt.After(now) {
			continue
		}
		due = append(due, j)
	}
	if len(due) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Slice(due, func(a, b int) bool {
		if due[a].Priority.Rank() != due[b].Priority.Rank() {
			return due[a].Priority.Rank() < due[b].Priority.Rank()
		}
		return due[a].CreatedAt.Before(due[b].CreatedAt)
	})
	j := due[0]
	j.Status = model.JobStatusActive
	j.StartedAt = now
	j.HeartbeatAt = now
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) Position(ctx context.Context, tx repository.Tx, id string) (int, error) {
	return 0, nil
}

func (m *memJobRepo) Heartbeat(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.store[id]; ok && j.Status == model.JobStatusActive {
		j.HeartbeatAt = at
	}
	return nil
}

func (m *memJobRepo) FindStalled(ctx context.Context, cutoff time.Time, limit int) ([]*model.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.DeliveryJob
	for _, j := range m.store {
		if j.Status == model.JobStatusActive && j.HeartbeatAt.Before(cutoff) {
			cp := *j
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memJobRepo) Stats(ctx context.Context, tx repository.Tx, since time.Time) (*model.QueueStats, error) {
	return &model.QueueStats{}, nil
}

func (m *memJobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, j := range m.store {
		if j.Terminal() && !j.FinishedAt.IsZero() && j.FinishedAt.Before(cutoff) {
			delete(m.store, id)
			n++
		}
	}
	return n, nil
}

var _ repository.DeliveryJobRepository = (*memJobRepo)(nil)

// memMessageRepo records outcome reports.
type memMessageRepo struct {
	mu      sync.Mutex
	reports []*model.MessageRecord
}

func (m *memMessageRepo) ReportOutcome(ctx context.Context, rec *model.MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.reports = append(m.reports, &cp)
	return nil
}

func (m *memMessageRepo) last() *model.MessageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reports) == 0 {
		return nil
	}
	return m.reports[len(m.reports)-1]
}

// memPublisher records lifecycle events.
type memPublisher struct {
	mu     sync.Mutex
	events []adapter.JobEvent
}

func (m *memPublisher) Publish(ctx context.Context, ev adapter.JobEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memPublisher) kinds() []adapter.JobEventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]adapter.JobEventKind, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Kind)
	}
	return out
}

// mockDeliverer scripts attempt outcomes.
type mockDeliverer struct {
	DeliverFunc func(ctx context.Context, job *model.DeliveryJob) (string, error)
	calls       int
}

func (m *mockDeliverer) Deliver(ctx context.Context, job *model.DeliveryJob) (string, error) {
	m.calls++
	if m.DeliverFunc != nil {
		return m.DeliverFunc(ctx, job)
	}
	return StrategyAPI, nil
}
