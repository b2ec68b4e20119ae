package dispatch

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/chat-dispatch-bot/internal/domain"
	"github.com/park285/chat-dispatch-bot/internal/store"
)

func newRedisState(t *testing.T) (*miniredis.Miniredis, *State) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := NewState(store.NewRedis(rdb, "acct"), StateOptions{AccountID: "acct", StoreTimeout: time.Second})
	t.Cleanup(st.Close)
	return mr, st
}

func TestStatePersistsThroughRedis(t *testing.T) {
	mr, st := newRedisState(t)
	ctx := context.Background()

	if st.Mode(ctx) != domain.ModePublic || len(st.Blocked(ctx)) != 0 || st.Prefix(ctx) != "." {
		t.Fatalf("defaults: mode=%s blocked=%v prefix=%q", st.Mode(ctx), st.Blocked(ctx), st.Prefix(ctx))
	}

	st.SetMode(ctx, domain.ModePrivate)
	if !st.Block(ctx, "1@s.whatsapp.net") || st.Block(ctx, "1@s.whatsapp.net") {
		t.Fatalf("Block should report change exactly once")
	}
	st.Block(ctx, "2@s.whatsapp.net")
	st.SetPrefix(ctx, "!")
	if n := st.AddReaction(ctx, domain.ReactionRule{Trigger: domain.TriggerAny, Emoji: "👍"}); n != 1 {
		t.Fatalf("AddReaction = %d", n)
	}
	st.SetPlan(ctx, "1@s.whatsapp.net", domain.PlanPremium)
	st.Flush()

	if v, _ := mr.Get("sess:acct:mode"); v != "private" {
		t.Fatalf("mode in redis = %q", v)
	}
	if v, _ := mr.Get("sess:acct:blocked"); v != `["1@s.whatsapp.net","2@s.whatsapp.net"]` {
		t.Fatalf("blocked in redis = %q", v)
	}
	if v, _ := mr.Get("sess:acct:prefix"); v != "!" {
		t.Fatalf("prefix in redis = %q", v)
	}
	if v := mr.HGet("plans:acct", "1@s.whatsapp.net"); v != "premium" {
		t.Fatalf("plan in redis = %q", v)
	}
	if !mr.Exists("reactions:acct") {
		t.Fatalf("reactions not persisted")
	}
}

func TestStateResyncAbsorbsExternalChange(t *testing.T) {
	mr, st := newRedisState(t)
	ctx := context.Background()

	if st.IsBlocked(ctx, "9@s.whatsapp.net") {
		t.Fatalf("unexpected block")
	}
	mr.Set("sess:acct:blocked", `["9@s.whatsapp.net"]`)
	mr.Set("sess:acct:mode", "private")
	if st.IsBlocked(ctx, "9@s.whatsapp.net") {
		t.Fatalf("warm cache must not re-read the store")
	}

	st.StartResync(ctx, 10*time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for !st.IsBlocked(ctx, "9@s.whatsapp.net") || st.Mode(ctx) != domain.ModePrivate {
		if time.Now().After(deadline) {
			t.Fatalf("resync did not pick up external change")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStateCorruptBlockListTreatedAsEmpty(t *testing.T) {
	mr, st := newRedisState(t)
	mr.Set("sess:acct:blocked", "{not json")
	if got := st.Blocked(context.Background()); len(got) != 0 {
		t.Fatalf("blocked = %v, want empty", got)
	}
}

func TestPlanCacheLoadsOnce(t *testing.T) {
	api := newMemAPI()
	api.plans["5@s.whatsapp.net"] = domain.PlanSudo
	pc := NewPlanCache(api, 0, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if p := pc.Tier(ctx, "5@s.whatsapp.net"); p != domain.PlanSudo {
			t.Fatalf("Tier = %q", p)
		}
	}
	if api.planLoads != 1 {
		t.Fatalf("plan loads = %d, want 1", api.planLoads)
	}

	api.mu.Lock()
	api.plans["5@s.whatsapp.net"] = domain.PlanFree
	api.mu.Unlock()
	if p := pc.Tier(ctx, "5@s.whatsapp.net"); p != domain.PlanSudo {
		t.Fatalf("remote change must not be observed locally: %q", p)
	}

	pc.Set(ctx, "5@s.whatsapp.net", domain.PlanBanned)
	if p := pc.Tier(ctx, "5@s.whatsapp.net"); p != domain.PlanBanned {
		t.Fatalf("local Set not visible: %q", p)
	}
	pc.Flush()
	if api.plans["5@s.whatsapp.net"] != domain.PlanBanned {
		t.Fatalf("plan not persisted")
	}
	if pc.Tier(ctx, "") != domain.PlanFree || pc.Len() != 1 {
		t.Fatalf("empty identity should not be cached")
	}
}
