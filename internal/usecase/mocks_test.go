//go:build !integration

package usecase_test

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

// memJobRepo is a small in-memory implementation used by unit tests. It
// honors the queue ordering contract: (priority rank, run_at, created_at).
type memJobRepo struct {
	mu    sync.Mutex
	store map[string]*model.DeliveryJob
	seq   int
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: make(map[string]*model.DeliveryJob)}
}

func (m *memJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.DeliveryJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		m.seq++
		job.CreatedAt = time.Now().Add(time.Duration(m.seq) * time.Microsecond)
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

func (m *memJobRepo) queuedSorted(now time.Time) []*model.DeliveryJob {
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
	sort.Slice(due, func(a, b int) bool {
		if due[a].Priority.Rank() != due[b].Priority.Rank() {
			return due[a].Priority.Rank() < due[b].Priority.Rank()
		}
		return due[a].CreatedAt.Before(due[b].CreatedAt)
	})
	return due
}

func (m *memJobRepo) FetchAndMarkActive(ctx context.Context, now time.Time) (*model.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := m.queuedSorted(now)
	if len(due) == 0 {
		return nil, domain.ErrNotFound
	}
	j := due[0]
	j.Status = model.JobStatusActive
	j.StartedAt = now
	j.HeartbeatAt = now
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) Position(ctx context.Context, tx repository.Tx, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Position counts every queued job, delayed or not.
	var queued []*model.DeliveryJob
	for _, j := range m.store {
		if j.Status == model.JobStatusQueued {
			queued = append(queued, j)
		}
	}
	sort.Slice(queued, func(a, b int) bool {
		if queued[a].Priority.Rank() != queued[b].Priority.Rank() {
			return queued[a].Priority.Rank() < queued[b].Priority.Rank()
		}
		return queued[a].CreatedAt.Before(queued[b].CreatedAt)
	})
	for i, j := range queued {
		if j.ID == id {
			return i + 1, nil
		}
	}
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
		}
	}
	return out, nil
}

func (m *memJobRepo) Stats(ctx context.Context, tx repository.Tx, since time.Time) (*model.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &model.QueueStats{}
	for _, j := range m.store {
		switch j.Status {
		case model.JobStatusQueued:
			if !j.RunAt.IsZero() && j.RunAt.After(time.Now()) {
				st.Delayed++
			} else {
				st.Waiting++
			}
		case model.JobStatusActive:
			st.Active++
		case model.JobStatusCompleted:
			st.Completed++
		case model.JobStatusFailed:
			st.Failed++
		}
	}
	if done := st.Completed + st.Failed; done > 0 {
		st.SuccessRate = float64(st.Completed) / float64(done)
	}
	return st, nil
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

// mockAdmitter lets tests script admission outcomes.
type mockAdmitter struct {
	AdmitFunc func(ctx context.Context, accountID, leadID int64) error
	calls     int
}

func (m *mockAdmitter) Admit(ctx context.Context, accountID, leadID int64) error {
	m.calls++
	if m.AdmitFunc != nil {
		return m.AdmitFunc(ctx, accountID, leadID)
	}
	return nil
}

// memPublisher records published lifecycle events.
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
