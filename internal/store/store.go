package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/sanraksh/sanraksh/internal/config"
)

// Store persists aggregate audit records to PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore creates a new audit store instance
func NewStore(cfg *config.AuditConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Audit store initialized successfully",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return store, nil
}

// initialize checks the database connection and ensures the audit schema
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := s.initSchema(ctx); err != nil {
		return fmt.Errorf("schema setup failed: %w", err)
	}

	s.logger.Info("Database initialized with audit schema")
	return nil
}

// initSchema creates the audit tables when absent
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS redaction_runs (
			id          TEXT PRIMARY KEY,
			source      TEXT NOT NULL,
			started_at  TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			total_rows  BIGINT NOT NULL DEFAULT 0,
			emitted     BIGINT NOT NULL DEFAULT 0,
			skipped     BIGINT NOT NULL DEFAULT 0,
			flagged     BIGINT NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS redaction_findings (
			run_id   TEXT NOT NULL REFERENCES redaction_runs(id) ON DELETE CASCADE,
			category TEXT NOT NULL,
			count    BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, category)
		);

		CREATE INDEX IF NOT EXISTS idx_redaction_runs_started_at
			ON redaction_runs (started_at DESC);`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// RecordRun upserts one run's totals and its per-category finding counts.
// An empty run ID gets a fresh one assigned.
func (s *Store) RecordRun(ctx context.Context, run *RunRecord, counts map[string]int64) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	query := `
		INSERT INTO redaction_runs (id, source, started_at, finished_at, total_rows, emitted, skipped, flagged)
		VALUES (:id, :source, :started_at, :finished_at, :total_rows, :emitted, :skipped, :flagged)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			total_rows  = EXCLUDED.total_rows,
			emitted     = EXCLUDED.emitted,
			skipped     = EXCLUDED.skipped,
			flagged     = EXCLUDED.flagged`

	if _, err := s.db.NamedExecContext(ctx, query, run); err != nil {
		s.logger.Error("Failed to record run", zap.Error(err), zap.String("run_id", run.ID))
		return fmt.Errorf("failed to record run: %w", err)
	}

	if err := s.upsertFindings(ctx, run.ID, counts); err != nil {
		return err
	}

	s.logger.Debug("Run recorded",
		zap.String("run_id", run.ID),
		zap.Int64("total_rows", run.TotalRows),
		zap.Int64("flagged", run.Flagged),
		zap.Int("categories", len(counts)))

	return nil
}

// upsertFindings writes the per-category counts with one multi-row statement
func (s *Store) upsertFindings(ctx context.Context, runID string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}

	query, args := findingsUpsertQuery(runID, counts)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		s.logger.Error("Failed to record findings", zap.Error(err), zap.String("run_id", runID))
		return fmt.Errorf("failed to record findings: %w", err)
	}
	return nil
}

// findingsUpsertQuery builds the multi-row VALUES upsert for category counts
func findingsUpsertQuery(runID string, counts map[string]int64) (string, []interface{}) {
	categories := make([]string, 0, len(counts))
	for c := range counts {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	valueStrings := make([]string, 0, len(categories))
	valueArgs := make([]interface{}, 0, len(categories)*3)

	for i, category := range categories {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3))
		valueArgs = append(valueArgs, runID, category, counts[category])
	}

	query := fmt.Sprintf(`
		INSERT INTO redaction_findings (run_id, category, count)
		VALUES %s
		ON CONFLICT (run_id, category) DO UPDATE SET count = EXCLUDED.count`,
		strings.Join(valueStrings, ","))

	return query, valueArgs
}

// RecentRuns returns the latest runs, newest first
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, source, started_at, finished_at, total_rows, emitted, skipped, flagged
		FROM redaction_runs
		ORDER BY started_at DESC
		LIMIT $1`

	var runs []*RunRecord
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// CategoryTotals aggregates finding counts per category across all runs
func (s *Store) CategoryTotals(ctx context.Context) ([]*CategoryTotal, error) {
	query := `
		SELECT category, SUM(count) AS count
		FROM redaction_findings
		GROUP BY category
		ORDER BY count DESC`

	var totals []*CategoryTotal
	if err := s.db.SelectContext(ctx, &totals, query); err != nil {
		return nil, fmt.Errorf("failed to aggregate categories: %w", err)
	}
	return totals, nil
}

// GetTotals summarizes all recorded runs
func (s *Store) GetTotals(ctx context.Context) (*Totals, error) {
	query := `
		SELECT
			COUNT(*)                  AS runs,
			COALESCE(SUM(total_rows), 0) AS total_rows,
			COALESCE(SUM(emitted), 0)    AS emitted,
			COALESCE(SUM(skipped), 0)    AS skipped,
			COALESCE(SUM(flagged), 0)    AS flagged
		FROM redaction_runs`

	totals := &Totals{}
	if err := s.db.GetContext(ctx, totals, query); err != nil {
		return nil, fmt.Errorf("failed to get totals: %w", err)
	}
	return totals, nil
}

// Ping checks database liveness
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks credentials in a database URL for logging
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
