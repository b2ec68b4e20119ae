package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/park285/chat-dispatch-bot/internal/domain"
	"github.com/park285/chat-dispatch-bot/internal/obslog"
	"github.com/park285/chat-dispatch-bot/internal/store"
)

// PlanCache maps canonical identities to plans. An entry is loaded on first
// lookup and only changes through Set; remote changes made elsewhere are not
// observed until restart. Failed loads are not cached.
type PlanCache struct {
	api     store.API
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.RWMutex
	plans   map[string]domain.Plan
	version map[string]uint64

	sf     singleflight.Group
	saveMu sync.Mutex
	saved  map[string]uint64
	wg     sync.WaitGroup
}

func NewPlanCache(api store.API, timeout time.Duration, logger *zap.Logger) *PlanCache {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &PlanCache{
		api:     api,
		timeout: timeout,
		logger:  obslog.Or(logger),
		plans:   make(map[string]domain.Plan),
		version: make(map[string]uint64),
		saved:   make(map[string]uint64),
	}
}

// Tier returns the plan for identity, loading it once.
func (p *PlanCache) Tier(ctx context.Context, identity string) domain.Plan {
	if identity == "" {
		return domain.PlanFree
	}
	p.mu.RLock()
	plan, ok := p.plans[identity]
	p.mu.RUnlock()
	if ok {
		return plan
	}

	v, _, _ := p.sf.Do(identity, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		loaded, err := p.api.GetPlan(lctx, identity)
		cancel()
		if err != nil {
			p.logger.Warn("plan_load_failed", zap.String("identity", identity), zap.Error(err))
			return domain.PlanFree, nil
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if cur, ok := p.plans[identity]; ok {
			return cur, nil
		}
		p.plans[identity] = loaded
		return loaded, nil
	})
	return v.(domain.Plan)
}

// Set updates memory before returning and persists in the background.
func (p *PlanCache) Set(ctx context.Context, identity string, plan domain.Plan) {
	p.mu.Lock()
	p.plans[identity] = plan
	p.version[identity]++
	ver := p.version[identity]
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.saveMu.Lock()
		defer p.saveMu.Unlock()
		if ver <= p.saved[identity] {
			return
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		if err := p.api.SetPlan(sctx, identity, plan); err != nil {
			p.logger.Warn("plan_persist_failed", zap.String("identity", identity), zap.String("plan", string(plan)), zap.Error(err))
			return
		}
		p.saved[identity] = ver
	}()
}

// Len returns the number of cached identities.
func (p *PlanCache) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.plans)
}

// Flush waits for pending persistence writes.
func (p *PlanCache) Flush() { p.wg.Wait() }
