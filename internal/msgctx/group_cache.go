package msgctx

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chat-dispatch-bot/internal/irisfast"
	"github.com/park285/chat-dispatch-bot/internal/obslog"
)

const defaultGroupTTL = 5 * time.Minute

// GroupCache keeps group metadata in Redis as JSON under gmeta:<chat> with a TTL
// and falls through to the upstream source on a miss.
type GroupCache struct {
	rdb      *redis.Client
	upstream GroupSource
	ttl      time.Duration
}

func NewGroupCache(rdb *redis.Client, upstream GroupSource, ttl time.Duration) *GroupCache {
	if ttl <= 0 {
		ttl = defaultGroupTTL
	}
	return &GroupCache{rdb: rdb, upstream: upstream, ttl: ttl}
}

func (g *GroupCache) key(chatID string) string { return "gmeta:" + strings.TrimSpace(chatID) }

func (g *GroupCache) GroupMetadata(ctx context.Context, chatID string) (*irisfast.GroupMetadata, error) {
	if g.rdb != nil {
		raw, err := g.rdb.Get(ctx, g.key(chatID)).Bytes()
		switch {
		case err == nil:
			var meta irisfast.GroupMetadata
			if jerr := json.Unmarshal(raw, &meta); jerr == nil {
				return &meta, nil
			}
			obslog.L().Warn("group_cache_corrupt", zap.String("chat_id", chatID))
		case !errors.Is(err, redis.Nil):
			obslog.L().Warn("group_cache_read_error", zap.String("chat_id", chatID), zap.Error(err))
		}
	}

	if g.upstream == nil {
		return nil, errors.New("group metadata source not configured")
	}
	meta, err := g.upstream.GroupMetadata(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if g.rdb != nil {
		if raw, jerr := json.Marshal(meta); jerr == nil {
			if serr := g.rdb.Set(ctx, g.key(chatID), raw, g.ttl).Err(); serr != nil {
				obslog.L().Warn("group_cache_write_error", zap.String("chat_id", chatID), zap.Error(serr))
			}
		}
	}
	return meta, nil
}

// Invalidate drops the cached entry, e.g. after a participant update.
func (g *GroupCache) Invalidate(ctx context.Context, chatID string) error {
	if g.rdb == nil {
		return nil
	}
	return g.rdb.Del(ctx, g.key(chatID)).Err()
}
