package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crm-delivery-engine/internal/domain"
	"crm-delivery-engine/internal/domain/ports/adapter"
	"crm-delivery-engine/internal/infra/metrics"
)

// Handle binds one (account, lead) pair to an automation session. The
// session is kept warm between consecutive jobs for the same lead so the
// authentication dance is not repeated for a chatty conversation.
type Handle struct {
	AccountID int64
	LeadID    int64
	Session   adapter.AutomationSession

	key      string
	slot     *engineSlot
	busy     bool
	dead     bool
	lastUsed time.Time
}

type engineSlot struct {
	engine   adapter.AutomationEngine
	sessions int
}

// Pool manages the automation engines and the handle map. Engines are
// dialed lazily as load grows, up to a hard cap; idle handles are evicted
// on an interval. A handle is never evicted while a job holds it.
type Pool struct {
	factory           adapter.EngineFactory
	sessionsPerEngine int
	maxEngines        int
	idleTimeout       time.Duration
	log               *zerolog.Logger

	mu      sync.Mutex
	engines []*engineSlot
	handles map[string]*Handle
}

func NewPool(factory adapter.EngineFactory, sessionsPerEngine, maxEngines int, idleTimeout time.Duration, logger *zerolog.Logger) *Pool {
	l := logger.With().Str("component", "AutomationPool").Logger()
	return &Pool{
		factory:           factory,
		sessionsPerEngine: sessionsPerEngine,
		maxEngines:        maxEngines,
		idleTimeout:       idleTimeout,
		log:               &l,
		handles:           make(map[string]*Handle),
	}
}

func handleKey(accountID, leadID int64) string {
	return fmt.Sprintf("%d:%d", accountID, leadID)
}

// Acquire returns the existing handle for the pair when its session is
// still open, otherwise opens a new session on the least-loaded engine.
// Returns domain.ErrResourceExhausted when every engine is at capacity and
// the engine cap is reached; the caller requeues the job with a delay.
func (p *Pool) Acquire(ctx context.Context, accountID, leadID int64) (*Handle, error) {
	key := handleKey(accountID, leadID)

	p.mu.Lock()
	if h, ok := p.handles[key]; ok && !h.dead {
		if h.busy {
			// One in-flight job per handle. Admission dedupe makes this
			// rare; the job goes back to the queue rather than sharing.
			p.mu.Unlock()
			return nil, domain.ErrResourceExhausted
		}
		h.busy = true
		h.lastUsed = time.Now()
		p.mu.Unlock()
		return h, nil
	}

	slot, err := p.reserveSlotLocked(ctx)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.mu.Unlock()

	// Session creation is a network round trip; done outside the lock.
	sess, err := slot.engine.NewSession(ctx)
	if err != nil {
		p.mu.Lock()
		slot.sessions--
		p.mu.Unlock()
		p.checkEngines(ctx)
		return nil, fmt.Errorf("new automation session: %w", err)
	}

	p.mu.Lock()
	if cur, ok := p.handles[key]; ok && !cur.dead {
		// A concurrent Acquire for the same pair won the race while our
		// session was being dialed. Only one session may serve the pair,
		// so ours is surplus: give back the slot and close it.
		slot.sessions--
		var reuse *Handle
		if !cur.busy {
			cur.busy = true
			cur.lastUsed = time.Now()
			reuse = cur
		}
		p.mu.Unlock()
		_ = sess.Close(ctx)
		if reuse != nil {
			return reuse, nil
		}
		return nil, domain.ErrResourceExhausted
	}
	h := &Handle{
		AccountID: accountID,
		LeadID:    leadID,
		Session:   sess,
		key:       key,
		slot:      slot,
		busy:      true,
		lastUsed:  time.Now(),
	}
	p.handles[key] = h
	p.publishGaugesLocked()
	p.mu.Unlock()
	return h, nil
}

// reserveSlotLocked picks the least-loaded engine with spare capacity,
// dialing a new engine when all are full and the cap allows.
func (p *Pool) reserveSlotLocked(ctx context.Context) (*engineSlot, error) {
	var best *engineSlot
	for _, s := range p.engines {
		if s.sessions >= p.sessionsPerEngine {
			continue
		}
		if best == nil || s.sessions < best.sessions {
			best = s
		}
	}
	if best != nil {
		best.sessions++
		return best, nil
	}
	if len(p.engines) >= p.maxEngines {
		return nil, domain.ErrResourceExhausted
	}

	eng, err := p.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial automation engine: %w", err)
	}
	slot := &engineSlot{engine: eng, sessions: 1}
	p.engines = append(p.engines, slot)
	p.log.Info().Int("engines", len(p.engines)).Msg("automation engine added")
	return slot, nil
}

// Release returns the handle to the pool, keeping the session warm for the
// next job on the same lead.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	h.busy = false
	h.lastUsed = time.Now()
	p.mu.Unlock()
}

// Discard closes the handle's session and drops it from the map; used when
// the session errored hard and must not be reused.
func (p *Pool) Discard(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	h.dead = true
	delete(p.handles, h.key)
	h.slot.sessions--
	p.publishGaugesLocked()
	p.mu.Unlock()
	_ = h.Session.Close(ctx)
}

// Evict closes handles idle past the timeout. Busy handles are skipped.
func (p *Pool) Evict(ctx context.Context) int {
	cutoff := time.Now().Add(-p.idleTimeout)

	p.mu.Lock()
	var victims []*Handle
	for key, h := range p.handles {
		if h.busy || h.lastUsed.After(cutoff) {
			continue
		}
		h.dead = true
		h.slot.sessions--
		delete(p.handles, key)
		victims = append(victims, h)
	}
	p.publishGaugesLocked()
	p.mu.Unlock()

	for _, h := range victims {
		_ = h.Session.Close(ctx)
	}
	if len(victims) > 0 {
		p.log.Debug().Int("evicted", len(victims)).Msg("idle automation handles closed")
	}
	return len(victims)
}

// checkEngines drops engines that stopped answering and restarts the pool
// from scratch when none are left healthy.
func (p *Pool) checkEngines(ctx context.Context) {
	p.mu.Lock()
	engines := make([]*engineSlot, len(p.engines))
	copy(engines, p.engines)
	p.mu.Unlock()

	var healthy []*engineSlot
	for _, s := range engines {
		if s.engine.Healthy(ctx) {
			healthy = append(healthy, s)
		}
	}
	if len(healthy) == len(engines) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(healthy) > 0 {
		alive := make(map[*engineSlot]bool, len(healthy))
		for _, s := range healthy {
			alive[s] = true
		}
		var kept []*engineSlot
		for _, s := range p.engines {
			if alive[s] {
				kept = append(kept, s)
				continue
			}
			for key, h := range p.handles {
				if h.slot == s {
					h.dead = true
					delete(p.handles, key)
				}
			}
		}
		p.engines = kept
		p.log.Warn().Int("engines", len(kept)).Msg("unhealthy automation engines dropped")
		p.publishGaugesLocked()
		return
	}

	// Nothing healthy left: full restart, engines redial lazily.
	p.log.Error().Msg("all automation engines down, restarting pool")
	for key, h := range p.handles {
		h.dead = true
		delete(p.handles, key)
	}
	p.engines = nil
	p.publishGaugesLocked()
}

// RunEvictor drives eviction and engine health checks until ctx ends.
func (p *Pool) RunEvictor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Evict(ctx)
			p.checkEngines(ctx)
		}
	}
}

// Close tears down every session and engine.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	handles := make([]*Handle, 0, len(p.handles))
	for _, h := range p.handles {
		h.dead = true
		handles = append(handles, h)
	}
	p.handles = make(map[string]*Handle)
	engines := p.engines
	p.engines = nil
	p.mu.Unlock()

	for _, h := range handles {
		_ = h.Session.Close(ctx)
	}
	for _, s := range engines {
		_ = s.engine.Close(ctx)
	}
}

func (p *Pool) publishGaugesLocked() {
	metrics.SetAutomationPool(len(p.engines), len(p.handles))
}
