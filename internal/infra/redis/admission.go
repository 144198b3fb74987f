package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"crm-delivery-engine/internal/domain"
)

// AdmissionController enforces the per-account admission window and the
// per-(account,lead) double-submission suppression mark. Admission
// timestamps live in a per-account sorted set trimmed to the window on
// every check, so the budget holds over any rolling interval, not just
// between key expiries. The set carries the window as TTL; nothing
// outlives it.
type AdmissionController struct {
	client RedisClient

	limit        int
	window       time.Duration
	dedupeWindow time.Duration
	now          func() time.Time
}

func NewAdmissionController(client RedisClient, limit int, window, dedupeWindow time.Duration) *AdmissionController {
	return &AdmissionController{
		client:       client,
		limit:        limit,
		window:       window,
		dedupeWindow: dedupeWindow,
		now:          time.Now,
	}
}

// Admit applies both checks and returns domain.ErrRateLimitExceeded or
// domain.ErrDuplicateRequest on rejection. The dedupe mark is only placed
// once the rate check has passed, so a rate-limited caller does not burn
// the lead's suppression slot.
func (a *AdmissionController) Admit(ctx context.Context, accountID, leadID int64) error {
	key := rateKey(accountID)
	now := a.now()
	cutoff := now.Add(-a.window).UnixMilli()

	if err := a.client.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10)); err != nil {
		return fmt.Errorf("admission trim: %w", err)
	}
	count, err := a.client.ZCard(ctx, key)
	if err != nil {
		return fmt.Errorf("admission count: %w", err)
	}
	if count >= int64(a.limit) {
		return domain.ErrRateLimitExceeded
	}
	if err := a.client.ZAdd(ctx, key, float64(now.UnixMilli()), uuid.NewString()); err != nil {
		return fmt.Errorf("admission add: %w", err)
	}
	if err := a.client.Expire(ctx, key, a.window); err != nil {
		return fmt.Errorf("admission expire: %w", err)
	}

	ok, err := a.client.SetNX(ctx, dedupeKey(accountID, leadID), 1, a.dedupeWindow)
	if err != nil {
		return fmt.Errorf("dedupe setnx: %w", err)
	}
	if !ok {
		return domain.ErrDuplicateRequest
	}
	return nil
}

func rateKey(accountID int64) string {
	return fmt.Sprintf("admission:rate:%d", accountID)
}

func dedupeKey(accountID, leadID int64) string {
	return fmt.Sprintf("admission:dedupe:%d:%d", accountID, leadID)
}
