// Package runstore persists completed analysis runs to SQLite or PostgreSQL.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/perclft/qtranspile/backend/analysis"
	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/qerr"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultPageSize = 20
	maxPageSize     = 100
)

// ErrNotFound is returned for an unknown run id.
var ErrNotFound = errors.New("run not found")

// ------------------------------------------------------------------
// Records
// ------------------------------------------------------------------

// Run is one completed analysis with its request.
type Run struct {
	ID        string            `json:"id"`
	Backend   string            `json:"backend"`
	Noise     string            `json:"noise"`
	Levels    []int             `json:"levels"`
	Circuit   *circuit.Circuit  `json:"circuit"`
	Results   []analysis.Result `json:"results"`
	CreatedAt time.Time         `json:"created_at"`
}

// Summary is the listing row of a run.
type Summary struct {
	ID           string    `json:"id"`
	CircuitName  string    `json:"circuit_name"`
	Backend      string    `json:"backend"`
	NumQubits    int       `json:"num_qubits"`
	Levels       []int     `json:"levels"`
	BestLevel    int       `json:"best_level"`
	BestFidelity float64   `json:"best_fidelity"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListRequest filters and pages List. Page is 1-based.
type ListRequest struct {
	Backend  string
	Page     int
	PageSize int
}

// best returns the level with the highest fidelity, lowest level on ties.
func best(results []analysis.Result) (int, float64) {
	level, fidelity := -1, -1.0
	for _, r := range results {
		if r.Fidelity > fidelity {
			level, fidelity = r.Level, r.Fidelity
		}
	}
	return level, fidelity
}

// ------------------------------------------------------------------
// Store
// ------------------------------------------------------------------

type Store struct {
	db     *sql.DB
	driver string
}

// Open connects with driver ("sqlite" or "postgres") and creates the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, qerr.Invalid("run store driver %q", driver)
	}
	if dsn == "" {
		return nil, qerr.Invalid("run store dsn is empty")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id VARCHAR(36) PRIMARY KEY,
			circuit_name VARCHAR(255) NOT NULL,
			backend VARCHAR(255) NOT NULL,
			noise VARCHAR(255) NOT NULL,
			num_qubits INTEGER NOT NULL,
			levels TEXT NOT NULL,
			best_level INTEGER NOT NULL,
			best_fidelity DOUBLE PRECISION NOT NULL,
			circuit_json TEXT NOT NULL,
			results_json TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_backend ON runs(backend)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Save stores run, assigning an id and creation time when unset, and returns
// the id.
func (s *Store) Save(ctx context.Context, run *Run) (string, error) {
	if run == nil || run.Circuit == nil {
		return "", qerr.Invalid("run has no circuit")
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	} else if _, err := uuid.Parse(run.ID); err != nil {
		return "", qerr.Invalid("run id %q is not a uuid", run.ID)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	circuitJSON, err := json.Marshal(run.Circuit)
	if err != nil {
		return "", fmt.Errorf("serialize circuit: %w", err)
	}
	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return "", fmt.Errorf("serialize results: %w", err)
	}
	levelsJSON, _ := json.Marshal(run.Levels)
	bestLevel, bestFidelity := best(run.Results)

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO runs (id, circuit_name, backend, noise, num_qubits, levels, best_level, best_fidelity, circuit_json, results_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		run.ID,
		run.Circuit.Name,
		run.Backend,
		run.Noise,
		run.Circuit.NumQubits,
		string(levelsJSON),
		bestLevel,
		bestFidelity,
		string(circuitJSON),
		string(resultsJSON),
		run.CreatedAt.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("save run: %w", err)
	}
	return run.ID, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	var (
		run                                  Run
		levelsJSON, circuitJSON, resultsJSON string
		createdAt                            int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, backend, noise, levels, circuit_json, results_json, created_at FROM runs WHERE id = ?
	`), id).Scan(&run.ID, &run.Backend, &run.Noise, &levelsJSON, &circuitJSON, &resultsJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}

	if err := json.Unmarshal([]byte(levelsJSON), &run.Levels); err != nil {
		return nil, fmt.Errorf("decode levels of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(circuitJSON), &run.Circuit); err != nil {
		return nil, fmt.Errorf("decode circuit of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(resultsJSON), &run.Results); err != nil {
		return nil, fmt.Errorf("decode results of %s: %w", id, err)
	}
	run.CreatedAt = time.Unix(0, createdAt).UTC()
	return &run, nil
}

// List returns run summaries, newest first.
func (s *Store) List(ctx context.Context, req ListRequest) ([]Summary, error) {
	query := `SELECT id, circuit_name, backend, num_qubits, levels, best_level, best_fidelity, created_at FROM runs`
	var args []any
	if req.Backend != "" {
		query += ` WHERE backend = ?`
		args = append(args, req.Backend)
	}

	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			m          Summary
			levelsJSON string
			createdAt  int64
		)
		if err := rows.Scan(&m.ID, &m.CircuitName, &m.Backend, &m.NumQubits, &levelsJSON, &m.BestLevel, &m.BestFidelity, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(levelsJSON), &m.Levels); err != nil {
			return nil, fmt.Errorf("decode levels of %s: %w", m.ID, err)
		}
		m.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM runs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }
