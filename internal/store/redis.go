package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chat-dispatch-bot/internal/domain"
	"github.com/park285/chat-dispatch-bot/internal/obslog"
)

// Redis implements API on a Redis server. Plans go to an attached PlanRecords
// when present and to a per-account hash otherwise.
type Redis struct {
	rdb       *redis.Client
	accountID string
	plans     PlanRecords
}

func NewRedis(rdb *redis.Client, accountID string) *Redis {
	return &Redis{rdb: rdb, accountID: strings.TrimSpace(accountID)}
}

// Dial parses a redis:// URL, connects and pings.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}

// AttachPlanRecords routes GetPlan/SetPlan to a record store.
func (s *Redis) AttachPlanRecords(p PlanRecords) {
	if s != nil {
		s.plans = p
	}
}

func (s *Redis) keySession(key string) string {
	return "sess:" + s.accountID + ":" + strings.TrimSpace(key)
}
func (s *Redis) keyPlans() string                  { return "plans:" + s.accountID }
func (s *Redis) keyReactions(account string) string { return "reactions:" + strings.TrimSpace(account) }

func (s *Redis) SessionGet(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, s.keySession(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Redis) SessionSet(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	return s.rdb.Set(ctx, s.keySession(key), value, 0).Err()
}

func (s *Redis) SessionDelete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.keySession(key)).Err()
}

func (s *Redis) GetPlan(ctx context.Context, identity string) (domain.Plan, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return domain.PlanFree, nil
	}
	if s.plans != nil {
		p, ok, err := s.plans.GetPlan(ctx, s.accountID, identity)
		if err != nil {
			return domain.PlanFree, err
		}
		if !ok {
			return domain.PlanFree, nil
		}
		return p, nil
	}
	raw, err := s.rdb.HGet(ctx, s.keyPlans(), identity).Result()
	if err == redis.Nil {
		return domain.PlanFree, nil
	}
	if err != nil {
		return domain.PlanFree, err
	}
	p, _ := domain.ParsePlan(raw)
	return p, nil
}

func (s *Redis) SetPlan(ctx context.Context, identity string, plan domain.Plan) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ErrInvalidInput
	}
	if _, ok := domain.ParsePlan(string(plan)); !ok {
		return ErrInvalidPlan
	}
	if s.plans != nil {
		return s.plans.UpsertPlan(ctx, s.accountID, identity, plan)
	}
	return s.rdb.HSet(ctx, s.keyPlans(), identity, string(plan)).Err()
}

func (s *Redis) GetReactions(ctx context.Context, accountID string) ([]domain.ReactionRule, error) {
	raw, err := s.rdb.Get(ctx, s.keyReactions(accountID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rules []domain.ReactionRule
	if err := json.Unmarshal(raw, &rules); err != nil {
		obslog.L().Warn("store_reactions_decode_error", zap.String("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("decode reactions: %w", err)
	}
	return rules, nil
}

func (s *Redis) SetReactions(ctx context.Context, accountID string, rules []domain.ReactionRule) error {
	if len(rules) == 0 {
		return s.rdb.Del(ctx, s.keyReactions(accountID)).Err()
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keyReactions(accountID), raw, 0).Err()
}

// Verify reports which account this process serves.
func (s *Redis) Verify(ctx context.Context) (string, error) {
	if s.accountID == "" {
		return "", ErrNoAccount
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return "", fmt.Errorf("redis ping: %w", err)
	}
	return s.accountID, nil
}

// GetPrefix returns the stored prefix or DefaultPrefix.
func (s *Redis) GetPrefix(ctx context.Context, accountID string) (string, error) {
	raw, err := s.rdb.Get(ctx, "sess:"+strings.TrimSpace(accountID)+":"+KeyPrefix).Result()
	if err == redis.Nil {
		return DefaultPrefix, nil
	}
	if err != nil {
		return DefaultPrefix, err
	}
	if strings.TrimSpace(raw) == "" {
		return DefaultPrefix, nil
	}
	return strings.TrimSpace(raw), nil
}
