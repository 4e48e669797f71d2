package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
	"github.com/dd0wney/cluso-flowroute/pkg/state"
)

// stateColumns is the column order used by CopyFrom.
var stateColumns = []string{"run_id", "step", "model_time", "segment_id", "inflow", "outflow", "depth"}

// Postgres stores every segment of every step in the segment_states table,
// one COPY per step.
type Postgres struct {
	pool  *pgxpool.Pool
	runID string
}

// NewPostgres connects, creates the schema if needed and registers runID.
// Steps restart at 1 on every run, warm starts included, so a run id that is
// already registered is rejected as a configuration error instead of
// colliding with the stored states later.
func NewPostgres(ctx context.Context, databaseURL, runID string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	p := &Postgres{pool: pool, runID: runID}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	tag, err := pool.Exec(ctx,
		`INSERT INTO runs (run_id, started_at) VALUES ($1, $2) ON CONFLICT (run_id) DO NOTHING`,
		runID, time.Now().UTC())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to register run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		pool.Close()
		return nil, routeerr.New("sink.NewPostgres", routeerr.ErrConfiguration).
			Detail("run id %q is already registered; use a new run id", runID).
			Err()
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS segment_states (
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		step INTEGER NOT NULL,
		model_time TIMESTAMPTZ NOT NULL,
		segment_id BIGINT NOT NULL,
		inflow DOUBLE PRECISION NOT NULL,
		outflow DOUBLE PRECISION NOT NULL,
		depth DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (run_id, step, segment_id)
	);

	CREATE INDEX IF NOT EXISTS idx_segment_states_segment ON segment_states(segment_id, model_time);
	`

	_, err := p.pool.Exec(ctx, schema)
	return err
}

// Name identifies the sink in logs and metrics.
func (p *Postgres) Name() string { return "postgres" }

// Write copies every segment of s under the sink's run id. Writing the same
// step twice violates the primary key and fails.
func (p *Postgres) Write(ctx context.Context, s *state.State) error {
	n, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{"segment_states"},
		stateColumns,
		pgx.CopyFromRows(stateRows(p.runID, s)),
	)
	if err != nil {
		return fmt.Errorf("failed to copy step %d: %w", s.Step(), err)
	}
	if int(n) != s.Len() {
		return fmt.Errorf("copied %d rows for step %d, want %d", n, s.Step(), s.Len())
	}
	return nil
}

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// stateRows lays s out in stateColumns order, ascending segment id.
func stateRows(runID string, s *state.State) [][]any {
	f := s.Forest()
	when := s.Time().UTC()
	rows := make([][]any, s.Len())
	for i := range rows {
		rows[i] = []any{runID, s.Step(), when, f.ID(i), s.Inflow(i), s.Outflow(i), s.Depth(i)}
	}
	return rows
}
