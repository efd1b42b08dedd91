package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/IliaW/portal-checker/internal/model"
)

type ResultStorage interface {
	Save(ctx context.Context, result *model.CheckResult) error
	History(ctx context.Context, suite, name string, limit int) ([]*model.CheckResult, error)
}

const schema = `CREATE TABLE IF NOT EXISTS check_result (
	run_id      VARCHAR(64)  NOT NULL,
	suite       VARCHAR(64)  NOT NULL,
	name        VARCHAR(255) NOT NULL,
	passed      BOOLEAN      NOT NULL,
	step        VARCHAR(255) NOT NULL,
	duration_ms BIGINT       NOT NULL,
	created_at  TIMESTAMP    NOT NULL
)`

type ResultRepository struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

func NewResultRepository(db *sql.DB, log *slog.Logger) *ResultRepository {
	return &ResultRepository{db: db, log: log, now: time.Now}
}

// Migrate creates the check_result table if it does not exist yet.
func (rr *ResultRepository) Migrate(ctx context.Context) error {
	if _, err := rr.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create check_result table: %w", err)
	}

	return nil
}

func (rr *ResultRepository) Save(ctx context.Context, result *model.CheckResult) error {
	_, err := rr.db.ExecContext(ctx,
		"INSERT INTO check_result (run_id, suite, name, passed, step, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		result.RunID,
		result.Suite,
		result.Name,
		result.Passed,
		result.Step,
		result.Duration.Milliseconds(),
		rr.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save check result to database: %w", err)
	}
	rr.log.Debug("check result saved to db.", slog.String("name", result.Name))

	return nil
}

// History returns the latest results of one check, newest first.
func (rr *ResultRepository) History(ctx context.Context, suite, name string, limit int) ([]*model.CheckResult, error) {
	rows, err := rr.db.QueryContext(ctx,
		"SELECT run_id, suite, name, passed, step, duration_ms FROM check_result WHERE suite = ? AND name = ? "+
			"ORDER BY created_at DESC LIMIT ?", suite, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.CheckResult
	for rows.Next() {
		var r model.CheckResult
		var ms int64
		if err = rows.Scan(&r.RunID, &r.Suite, &r.Name, &r.Passed, &r.Step, &ms); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		results = append(results, &r)
	}

	return results, rows.Err()
}

func (rr *ResultRepository) Name() string { return "database" }

func (rr *ResultRepository) Publish(ctx context.Context, results []*model.CheckResult) error {
	for _, r := range results {
		if err := rr.Save(ctx, r); err != nil {
			return err
		}
	}

	return nil
}
