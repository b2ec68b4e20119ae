package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/park285/chat-dispatch-bot/internal/domain"
)

func TestPlanRepositoryUpsert(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	repo, err := NewPlanRepository(dsn)
	if err != nil {
		t.Fatalf("NewPlanRepository: %v", err)
	}
	defer repo.Close()
	ctx := context.Background()
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	acct := "test-" + uuid.NewString()
	if _, ok, err := repo.GetPlan(ctx, acct, "1"); err != nil || ok {
		t.Fatalf("expected no row, ok=%v err=%v", ok, err)
	}
	if err := repo.UpsertPlan(ctx, acct, "1", domain.PlanPremium); err != nil {
		t.Fatalf("UpsertPlan: %v", err)
	}
	if err := repo.UpsertPlan(ctx, acct, "1", domain.PlanBanned); err != nil {
		t.Fatalf("UpsertPlan again: %v", err)
	}
	p, ok, err := repo.GetPlan(ctx, acct, "1")
	if err != nil || !ok || p != domain.PlanBanned {
		t.Fatalf("GetPlan = %q %v %v", p, ok, err)
	}
	_, _ = repo.db.ExecContext(ctx, `DELETE FROM account_plans WHERE account_id = $1`, acct)
}
