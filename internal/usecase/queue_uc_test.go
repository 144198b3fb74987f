//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-delivery-engine/internal/domain"
	"crm-delivery-engine/internal/domain/model"
	"crm-delivery-engine/internal/domain/ports/adapter"
	"crm-delivery-engine/internal/usecase"
)

func TestQueueUseCase_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("persists job and reports position", func(t *testing.T) {
		repo := newMemJobRepo()
		pub := &memPublisher{}
		uc := usecase.NewQueueUseCase(repo, &mockAdmitter{}, pub, 3, newTestLogger())

		job, pos, err := uc.Enqueue(ctx, usecase.EnqueueParams{
			AccountID: 7, LeadID: 100, MessageText: "hello",
		})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if job.ID == "" {
			t.Fatal("expected generated job id")
		}
		if pos != 1 {
			t.Fatalf("position = %d, want 1", pos)
		}
		if job.Status != model.JobStatusQueued {
			t.Fatalf("status = %s, want queued", job.Status)
		}
		if job.Priority != model.PriorityNormal {
			t.Fatalf("priority = %s, want normal default", job.Priority)
		}
		if job.MaxAttempts != 3 {
			t.Fatalf("max attempts = %d, want 3", job.MaxAttempts)
		}
		if got := pub.kinds(); len(got) != 1 || got[0] != adapter.JobEventCreated {
			t.Fatalf("events = %v, want [created]", got)
		}
	})

	t.Run("rejects missing identifiers and empty payload", func(t *testing.T) {
		repo := newMemJobRepo()
		uc := usecase.NewQueueUseCase(repo, &mockAdmitter{}, &memPublisher{}, 3, newTestLogger())

		cases := []usecase.EnqueueParams{
			{LeadID: 100, MessageText: "hi"},
			{AccountID: 7, MessageText: "hi"},
			{AccountID: 7, LeadID: 100},
		}
		for _, p := range cases {
			if _, _, err := uc.Enqueue(ctx, p); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Fatalf("Enqueue(%+v) err = %v, want ErrInvalidArgument", p, err)
			}
		}
	})

	t.Run("admission rejection is returned and nothing persisted", func(t *testing.T) {
		repo := newMemJobRepo()
		adm := &mockAdmitter{AdmitFunc: func(ctx context.Context, accountID, leadID int64) error {
			return domain.ErrRateLimitExceeded
		}}
		uc := usecase.NewQueueUseCase(repo, adm, &memPublisher{}, 3, newTestLogger())

		_, _, err := uc.Enqueue(ctx, usecase.EnqueueParams{AccountID: 7, LeadID: 100, MessageText: "hi"})
		if !errors.Is(err, domain.ErrRateLimitExceeded) {
			t.Fatalf("err = %v, want ErrRateLimitExceeded", err)
		}
		if len(repo.store) != 0 {
			t.Fatalf("repo holds %d jobs, want 0", len(repo.store))
		}
	})

	t.Run("duplicate rejection is returned as is", func(t *testing.T) {
		adm := &mockAdmitter{AdmitFunc: func(ctx context.Context, accountID, leadID int64) error {
			return domain.ErrDuplicateRequest
		}}
		uc := usecase.NewQueueUseCase(newMemJobRepo(), adm, &memPublisher{}, 3, newTestLogger())

		_, _, err := uc.Enqueue(ctx, usecase.EnqueueParams{AccountID: 7, LeadID: 100, MessageText: "hi"})
		if !errors.Is(err, domain.ErrDuplicateRequest) {
			t.Fatalf("err = %v, want ErrDuplicateRequest", err)
		}
	})

	t.Run("high priority drains before earlier normal job", func(t *testing.T) {
		repo := newMemJobRepo()
		uc := usecase.NewQueueUseCase(repo, &mockAdmitter{}, &memPublisher{}, 3, newTestLogger())

		normal, _, err := uc.Enqueue(ctx, usecase.EnqueueParams{
			AccountID: 7, LeadID: 100, MessageText: "first in", Priority: model.PriorityNormal,
		})
		if err != nil {
			t.Fatalf("Enqueue normal: %v", err)
		}
		high, pos, err := uc.Enqueue(ctx, usecase.EnqueueParams{
			AccountID: 8, LeadID: 200, MessageText: "jumped", Priority: model.PriorityHigh,
		})
		if err != nil {
			t.Fatalf("Enqueue high: %v", err)
		}
		if pos != 1 {
			t.Fatalf("high priority position = %d, want 1", pos)
		}

		got, err := repo.FetchAndMarkActive(ctx, time.Now())
		if err != nil {
			t.Fatalf("FetchAndMarkActive: %v", err)
		}
		if got.ID != high.ID {
			t.Fatalf("fetched %s, want high-priority job %s", got.ID, high.ID)
		}
		got, err = repo.FetchAndMarkActive(ctx, time.Now())
		if err != nil {
			t.Fatalf("FetchAndMarkActive second: %v", err)
		}
		if got.ID != normal.ID {
			t.Fatalf("fetched %s, want normal job %s", got.ID, normal.ID)
		}
	})
}

func TestQueueUseCase_Cancel(t *testing.T) {
	ctx := context.Background()
	repo := newMemJobRepo()
	uc := usecase.NewQueueUseCase(repo, &mockAdmitter{}, &memPublisher{}, 3, newTestLogger())

	job, _, err := uc.Enqueue(ctx, usecase.EnqueueParams{AccountID: 7, LeadID: 100, MessageText: "hi"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	t.Run("queued job cancels to terminal failure", func(t *testing.T) {
		if err := uc.Cancel(ctx, job.ID); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		got, err := uc.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Status != model.JobStatusFailed || got.LastError != "cancelled" {
			t.Fatalf("job after cancel = %s/%q", got.Status, got.LastError)
		}
	})

	t.Run("non-queued job is not cancellable", func(t *testing.T) {
		if err := uc.Cancel(ctx, job.ID); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("Cancel again err = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("unknown job id", func(t *testing.T) {
		if err := uc.Cancel(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestStatsUseCase_Queue(t *testing.T) {
	ctx := context.Background()
	repo := newMemJobRepo()
	queueUC := usecase.NewQueueUseCase(repo, &mockAdmitter{}, &memPublisher{}, 3, newTestLogger())
	statsUC := usecase.NewStatsUseCase(repo, 15*time.Minute, newTestLogger())

	for i := 0; i < 3; i++ {
		if _, _, err := queueUC.Enqueue(ctx, usecase.EnqueueParams{
			AccountID: 7, LeadID: int64(100 + i), MessageText: "hi",
		}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if _, err := repo.FetchAndMarkActive(ctx, time.Now()); err != nil {
		t.Fatalf("FetchAndMarkActive: %v", err)
	}

	st, err := statsUC.Queue(ctx)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if st.Waiting != 2 || st.Active != 1 {
		t.Fatalf("stats = waiting %d active %d, want 2/1", st.Waiting, st.Active)
	}
}
