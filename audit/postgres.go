package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresSink stores runs in a PostgreSQL table.
type PostgresSink struct {
	db    *sql.DB
	table string
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN   string
	Table string
}

// NewPostgresSink connects, verifies the connection and creates the table if needed.
func NewPostgresSink(ctx context.Context, config *PostgresConfig) (*PostgresSink, error) {
	if config == nil || config.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	table := config.Table
	if table == "" {
		table = "research_runs"
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	s := &PostgresSink{db: db, table: pq.QuoteIdentifier(table)}
	if err := s.createTable(ctx, table); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return s, nil
}

func (s *PostgresSink) createTable(ctx context.Context, table string) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id VARCHAR(64) PRIMARY KEY,
		question TEXT NOT NULL,
		end_user_id TEXT,
		evaluation VARCHAR(8),
		overall DOUBLE PRECISION,
		loop_count INTEGER,
		sources INTEGER,
		final_answer TEXT,
		error TEXT,
		state JSONB,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s(finished_at);
	`, s.table, pq.QuoteIdentifier("idx_"+table+"_finished_at"))

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Record implements Sink.
func (s *PostgresSink) Record(ctx context.Context, run *Run) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	var state []byte
	if run.State != nil {
		var err error
		if state, err = json.Marshal(run.State); err != nil {
			return fmt.Errorf("failed to marshal run state: %w", err)
		}
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, question, end_user_id, evaluation, overall, loop_count, sources,
		final_answer, error, state, started_at, finished_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO NOTHING
	`, s.table)

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Question,
		run.EndUserID,
		run.Evaluation,
		run.Overall,
		run.LoopCount,
		run.Sources,
		run.FinalAnswer,
		run.Error,
		nullableJSON(state),
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run in PostgreSQL: %w", err)
	}
	return nil
}

// Recent implements Sink.
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
	SELECT %s
	FROM %s
	ORDER BY finished_at DESC
	LIMIT $1
	`, runColumns, s.table)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get implements Sink.
func (s *PostgresSink) Get(ctx context.Context, id string) (*Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, runColumns, s.table)
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	return run, err
}

const runColumns = `id, question, COALESCE(end_user_id, ''), COALESCE(evaluation, ''), COALESCE(overall, 0),
		COALESCE(loop_count, 0), COALESCE(sources, 0), COALESCE(final_answer, ''), COALESCE(error, ''),
		state, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run   Run
		state []byte
	)
	if err := row.Scan(&run.ID, &run.Question, &run.EndUserID, &run.Evaluation, &run.Overall,
		&run.LoopCount, &run.Sources, &run.FinalAnswer, &run.Error, &state,
		&run.StartedAt, &run.FinishedAt); err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &run.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
		}
	}
	return &run, nil
}

// Close implements Sink.
func (s *PostgresSink) Close(context.Context) error {
	return s.db.Close()
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
