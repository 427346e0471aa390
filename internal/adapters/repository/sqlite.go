package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/runout/internal/domain/raster"
	"github.com/okian/runout/pkg/logger"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	state           TEXT NOT NULL,
	class           TEXT NOT NULL DEFAULT '',
	multiplier      REAL NOT NULL DEFAULT 1,
	work_dir        TEXT NOT NULL DEFAULT '',
	volume          REAL NOT NULL DEFAULT 0,
	scaled_volume   REAL NOT NULL DEFAULT 0,
	footprint_cells INTEGER NOT NULL DEFAULT 0,
	dilated_cells   INTEGER NOT NULL DEFAULT 0,
	clipped_cells   INTEGER NOT NULL DEFAULT 0,
	fine_flow_cells INTEGER NOT NULL DEFAULT 0,
	fine_edge_cells INTEGER NOT NULL DEFAULT 0,
	engine_calls    INTEGER NOT NULL DEFAULT 0,
	min_x           REAL NOT NULL DEFAULT 0,
	min_y           REAL NOT NULL DEFAULT 0,
	max_x           REAL NOT NULL DEFAULT 0,
	max_y           REAL NOT NULL DEFAULT 0,
	fine_max_height TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	submitted_at    INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_submitted ON runs(submitted_at);
CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);`

const upsert = `
INSERT INTO runs (id, state, class, multiplier, work_dir, volume, scaled_volume,
	footprint_cells, dilated_cells, clipped_cells, fine_flow_cells, fine_edge_cells,
	engine_calls, min_x, min_y, max_x, max_y, fine_max_height, error, submitted_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	state=excluded.state,
	class=excluded.class,
	multiplier=excluded.multiplier,
	work_dir=excluded.work_dir,
	volume=excluded.volume,
	scaled_volume=excluded.scaled_volume,
	footprint_cells=excluded.footprint_cells,
	dilated_cells=excluded.dilated_cells,
	clipped_cells=excluded.clipped_cells,
	fine_flow_cells=excluded.fine_flow_cells,
	fine_edge_cells=excluded.fine_edge_cells,
	engine_calls=excluded.engine_calls,
	min_x=excluded.min_x,
	min_y=excluded.min_y,
	max_x=excluded.max_x,
	max_y=excluded.max_y,
	fine_max_height=excluded.fine_max_height,
	error=excluded.error,
	updated_at=excluded.updated_at`

const columns = `id, state, class, multiplier, work_dir, volume, scaled_volume,
	footprint_cells, dilated_cells, clipped_cells, fine_flow_cells, fine_edge_cells,
	engine_calls, min_x, min_y, max_x, max_y, fine_max_height, error, submitted_at, updated_at`

// SQLiteStore is the durable run ledger.
type SQLiteStore struct {
	db            *sql.DB
	path          string
	log           logger.Logger
	busyTimeoutMS int
}

// NewSQLiteStore opens (creating if needed) the ledger at path.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{path: path, log: logger.Nop(), busyTimeoutMS: 5000}
	for _, opt := range opts {
		opt(s)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", path, s.busyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// One writer avoids SQLITE_BUSY between workers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	s.db = db
	s.log.Info(ctx, "run ledger opened", logger.String("path", path))
	return s, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, run Run) error {
	if err := validate(run); err != nil {
		return err
	}
	e := run.Extent
	_, err := s.db.ExecContext(ctx, upsert,
		run.ID, run.State, run.Class, run.Multiplier, run.WorkDir,
		run.Volume, run.ScaledVolume,
		run.FootprintCells, run.DilatedCells, run.ClippedCells, run.FineFlowCells, run.FineEdgeCells,
		run.EngineCalls, e.Min.X, e.Min.Y, e.Max.X, e.Max.Y,
		run.FineMaxHeight, run.Error,
		run.SubmittedAt.UnixNano(), run.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", run.ID, err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM runs WHERE id = ?`, id)
	run, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM runs ORDER BY submitted_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// CountByState implements Store.
func (s *SQLiteStore) CountByState(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM runs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(sc scanner) (Run, error) {
	var (
		run                    Run
		minX, minY, maxX, maxY float64
		submitted, updated     int64
	)
	err := sc.Scan(
		&run.ID, &run.State, &run.Class, &run.Multiplier, &run.WorkDir,
		&run.Volume, &run.ScaledVolume,
		&run.FootprintCells, &run.DilatedCells, &run.ClippedCells, &run.FineFlowCells, &run.FineEdgeCells,
		&run.EngineCalls, &minX, &minY, &maxX, &maxY,
		&run.FineMaxHeight, &run.Error, &submitted, &updated,
	)
	if err != nil {
		return Run{}, err
	}
	run.Extent = raster.NewExtent(minX, minY, maxX, maxY)
	run.SubmittedAt = time.Unix(0, submitted).UTC()
	run.UpdatedAt = time.Unix(0, updated).UTC()
	return run, nil
}
