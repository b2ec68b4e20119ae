package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chat-dispatch-bot/internal/domain"
	"github.com/park285/chat-dispatch-bot/internal/obslog"
	"github.com/park285/chat-dispatch-bot/internal/store"
)

type blockSet map[string]struct{}

type StateOptions struct {
	AccountID     string
	DefaultPrefix string
	StoreTimeout  time.Duration
	Logger        *zap.Logger
}

// State is the mutable configuration the gate reads on every message:
// mode, block list, prefix, reaction rules and plans. Mutators write memory
// first so the next message sees the change.
type State struct {
	api       store.API
	accountID string
	logger    *zap.Logger

	mode      *Cell[domain.Mode]
	blocked   *Cell[blockSet]
	prefix    *Cell[string]
	reactions *Cell[[]domain.ReactionRule]
	plans     *PlanCache

	stopOnce sync.Once
	started  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
}

func NewState(api store.API, opts StateOptions) *State {
	logger := obslog.Or(opts.Logger)
	defPrefix := strings.TrimSpace(opts.DefaultPrefix)
	if defPrefix == "" {
		defPrefix = store.DefaultPrefix
	}
	s := &State{
		api:       api,
		accountID: opts.AccountID,
		logger:    logger,
		plans:     NewPlanCache(api, opts.StoreTimeout, logger),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	s.mode = newCell(cellOptions[domain.Mode]{
		name:     "mode",
		fallback: domain.ModePublic,
		timeout:  opts.StoreTimeout,
		logger:   logger,
		load: func(ctx context.Context) (domain.Mode, error) {
			raw, found, err := api.SessionGet(ctx, store.KeyMode)
			if err != nil {
				return domain.ModePublic, err
			}
			if !found {
				return domain.ModePublic, nil
			}
			m, _ := domain.ParseMode(raw)
			return m, nil
		},
		save: func(ctx context.Context, m domain.Mode) error {
			return api.SessionSet(ctx, store.KeyMode, string(m))
		},
	})

	s.blocked = newCell(cellOptions[blockSet]{
		name:     "blocked",
		fallback: blockSet{},
		timeout:  opts.StoreTimeout,
		logger:   logger,
		load: func(ctx context.Context) (blockSet, error) {
			raw, found, err := api.SessionGet(ctx, store.KeyBlocked)
			if err != nil {
				return blockSet{}, err
			}
			if !found || strings.TrimSpace(raw) == "" {
				return blockSet{}, nil
			}
			var ids []string
			if err := json.Unmarshal([]byte(raw), &ids); err != nil {
				return blockSet{}, fmt.Errorf("decode block list: %w", err)
			}
			set := make(blockSet, len(ids))
			for _, id := range ids {
				set[id] = struct{}{}
			}
			return set, nil
		},
		save: func(ctx context.Context, set blockSet) error {
			raw, err := json.Marshal(set.sorted())
			if err != nil {
				return err
			}
			return api.SessionSet(ctx, store.KeyBlocked, string(raw))
		},
	})

	s.prefix = newCell(cellOptions[string]{
		name:     "prefix",
		fallback: defPrefix,
		timeout:  opts.StoreTimeout,
		logger:   logger,
		load: func(ctx context.Context) (string, error) {
			p, err := api.GetPrefix(ctx, s.accountID)
			if err != nil {
				return defPrefix, err
			}
			if strings.TrimSpace(p) == "" {
				return defPrefix, nil
			}
			return p, nil
		},
		save: func(ctx context.Context, p string) error {
			return api.SessionSet(ctx, store.KeyPrefix, p)
		},
	})

	s.reactions = newCell(cellOptions[[]domain.ReactionRule]{
		name:    "reactions",
		timeout: opts.StoreTimeout,
		logger:  logger,
		load: func(ctx context.Context) ([]domain.ReactionRule, error) {
			return api.GetReactions(ctx, s.accountID)
		},
		save: func(ctx context.Context, rules []domain.ReactionRule) error {
			return api.SetReactions(ctx, s.accountID, rules)
		},
	})
	return s
}

func (b blockSet) sorted() []string {
	out := make([]string, 0, len(b))
	for id := range b {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *State) AccountID() string { return s.accountID }

func (s *State) Plans() *PlanCache { return s.plans }

func (s *State) Mode(ctx context.Context) domain.Mode { return s.mode.Get(ctx) }

func (s *State) SetMode(ctx context.Context, m domain.Mode) {
	s.mode.Set(ctx, m)
	s.logger.Info("mode_changed", zap.String("mode", string(m)))
}

func (s *State) IsBlocked(ctx context.Context, identity string) bool {
	_, ok := s.blocked.Get(ctx)[identity]
	return ok
}

// Blocked returns the block list sorted.
func (s *State) Blocked(ctx context.Context) []string { return s.blocked.Get(ctx).sorted() }

// Block reports false when identity was already blocked.
func (s *State) Block(ctx context.Context, identity string) bool {
	_, changed := s.blocked.Update(ctx, func(cur blockSet) (blockSet, bool) {
		if _, ok := cur[identity]; ok || identity == "" {
			return cur, false
		}
		next := make(blockSet, len(cur)+1)
		for id := range cur {
			next[id] = struct{}{}
		}
		next[identity] = struct{}{}
		return next, true
	})
	if changed {
		s.logger.Info("identity_blocked", zap.String("identity", identity))
	}
	return changed
}

// Unblock reports false when identity was not blocked.
func (s *State) Unblock(ctx context.Context, identity string) bool {
	_, changed := s.blocked.Update(ctx, func(cur blockSet) (blockSet, bool) {
		if _, ok := cur[identity]; !ok {
			return cur, false
		}
		next := make(blockSet, len(cur))
		for id := range cur {
			if id != identity {
				next[id] = struct{}{}
			}
		}
		return next, true
	})
	if changed {
		s.logger.Info("identity_unblocked", zap.String("identity", identity))
	}
	return changed
}

// Prefix satisfies msgctx.PrefixSource.
func (s *State) Prefix(ctx context.Context) string { return s.prefix.Get(ctx) }

func (s *State) SetPrefix(ctx context.Context, p string) { s.prefix.Set(ctx, p) }

func (s *State) Reactions(ctx context.Context) []domain.ReactionRule { return s.reactions.Get(ctx) }

func (s *State) SetReactions(ctx context.Context, rules []domain.ReactionRule) {
	s.reactions.Set(ctx, append([]domain.ReactionRule(nil), rules...))
}

// AddReaction appends a rule and returns the new rule count.
func (s *State) AddReaction(ctx context.Context, rule domain.ReactionRule) int {
	next, _ := s.reactions.Update(ctx, func(cur []domain.ReactionRule) ([]domain.ReactionRule, bool) {
		out := make([]domain.ReactionRule, 0, len(cur)+1)
		out = append(out, cur...)
		return append(out, rule), true
	})
	return len(next)
}

// Tier satisfies msgctx.TierSource.
func (s *State) Tier(ctx context.Context, identity string) domain.Plan { return s.plans.Tier(ctx, identity) }

func (s *State) SetPlan(ctx context.Context, identity string, plan domain.Plan) {
	s.plans.Set(ctx, identity, plan)
	s.logger.Info("plan_changed", zap.String("identity", identity), zap.String("plan", string(plan)))
}

// Refresh re-pulls mode, block list, prefix and reactions. Plans are not refreshed.
func (s *State) Refresh(ctx context.Context) {
	for name, refresh := range map[string]func(context.Context) error{
		"mode":      s.mode.Refresh,
		"blocked":   s.blocked.Refresh,
		"prefix":    s.prefix.Refresh,
		"reactions": s.reactions.Refresh,
	} {
		if err := refresh(ctx); err != nil {
			s.logger.Warn("state_resync_failed", zap.String("cell", name), zap.Error(err))
		}
	}
}

// StartResync refreshes on every interval until ctx is done or Close is called.
func (s *State) StartResync(ctx context.Context, interval time.Duration) {
	if interval <= 0 || !s.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(s.done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-t.C:
				s.Refresh(ctx)
			}
		}
	}()
}

// Close stops the resync loop and waits for pending writes.
func (s *State) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
	s.Flush()
}

// Flush waits for pending persistence writes.
func (s *State) Flush() {
	s.mode.Flush()
	s.blocked.Flush()
	s.prefix.Flush()
	s.reactions.Flush()
	s.plans.Flush()
}
