package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/chat-dispatch-bot/internal/domain"
)

// PlanRepository keeps plan assignments in Postgres.
type PlanRepository struct {
	db *sql.DB
}

func NewPlanRepository(databaseURL string) (*PlanRepository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PlanRepository{db: db}, nil
}

func (r *PlanRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// EnsureSchema creates the account_plans table when missing.
func (r *PlanRepository) EnsureSchema(ctx context.Context) error {
	const q = `CREATE TABLE IF NOT EXISTS account_plans (
        account_id TEXT NOT NULL,
        identity   TEXT NOT NULL,
        plan       TEXT NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (account_id, identity)
      )`
	_, err := r.db.ExecContext(ctx, q)
	return err
}

func (r *PlanRepository) GetPlan(ctx context.Context, accountID, identity string) (domain.Plan, bool, error) {
	const q = `SELECT plan FROM account_plans WHERE account_id = $1 AND identity = $2`
	var raw string
	err := r.db.QueryRowContext(ctx, q, strings.TrimSpace(accountID), strings.TrimSpace(identity)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PlanFree, false, nil
	}
	if err != nil {
		return domain.PlanFree, false, err
	}
	p, _ := domain.ParsePlan(raw)
	return p, true, nil
}

func (r *PlanRepository) UpsertPlan(ctx context.Context, accountID, identity string, plan domain.Plan) error {
	const q = `INSERT INTO account_plans (account_id, identity, plan, updated_at)
      VALUES ($1, $2, $3, now())
      ON CONFLICT (account_id, identity) DO UPDATE SET
        plan = EXCLUDED.plan,
        updated_at = EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, q, strings.TrimSpace(accountID), strings.TrimSpace(identity), string(plan))
	return err
}
