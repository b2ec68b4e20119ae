package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/park285/chat-dispatch-bot/internal/domain"
	"github.com/park285/chat-dispatch-bot/internal/irisfast"
)

// memAPI is an in-memory store.API. When hold is non-nil every SessionSet
// blocks until it is closed.
type memAPI struct {
	mu        sync.Mutex
	sess      map[string]string
	plans     map[string]domain.Plan
	reactions []domain.ReactionRule
	prefix    string

	hold      chan struct{}
	getErr    error
	sessLoads int
	planLoads int
}

func newMemAPI() *memAPI {
	return &memAPI{sess: map[string]string{}, plans: map[string]domain.Plan{}}
}

func (m *memAPI) SessionGet(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessLoads++
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.sess[key]
	return v, ok, nil
}

func (m *memAPI) SessionSet(ctx context.Context, key, value string) error {
	m.mu.Lock()
	hold := m.hold
	m.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess[key] = value
	return nil
}

func (m *memAPI) SessionDelete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sess, key)
	return nil
}

func (m *memAPI) GetPlan(_ context.Context, id string) (domain.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.planLoads++
	if p, ok := m.plans[id]; ok {
		return p, nil
	}
	return domain.PlanFree, nil
}

func (m *memAPI) SetPlan(_ context.Context, id string, p domain.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[id] = p
	return nil
}

func (m *memAPI) GetReactions(context.Context, string) ([]domain.ReactionRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ReactionRule(nil), m.reactions...), nil
}

func (m *memAPI) SetReactions(_ context.Context, _ string, rules []domain.ReactionRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = rules
	return nil
}

func (m *memAPI) Verify(context.Context) (string, error) { return "acct", nil }

func (m *memAPI) GetPrefix(context.Context, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prefix == "" {
		return "", errors.New("no prefix")
	}
	return m.prefix, nil
}

func (m *memAPI) session(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess[key]
}

type sent struct {
	room, text, emoji string
}

type recorder struct {
	mu        sync.Mutex
	replies   []sent
	reactions []sent
}

func (r *recorder) SendReply(_ context.Context, room, message, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, sent{room: room, text: message})
	return nil
}

func (r *recorder) SendReaction(_ context.Context, room string, _ irisfast.MessageKey, emoji string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions = append(r.reactions, sent{room: room, emoji: emoji})
	return nil
}

func (r *recorder) snapshot() (replies, reactions []sent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.replies...), append([]sent(nil), r.reactions...)
}

type staticGroups struct{ meta *irisfast.GroupMetadata }

func (s staticGroups) GroupMetadata(context.Context, string) (*irisfast.GroupMetadata, error) {
	if s.meta == nil {
		return nil, errors.New("no group")
	}
	return s.meta, nil
}
