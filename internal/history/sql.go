package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"benchtrack/internal/benchmark"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore keeps each run as a row holding its JSON payload. A per-tool
// version counter, bumped with a conditional UPDATE, provides the
// compare-and-swap.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLiteStore opens (or creates) a SQLite history database.
func NewSQLiteStore(path string) (*SQLStore, error) {
	// Immediate transactions take the write lock up front, so a concurrent
	// writer waits for the first one and then sees its version.
	dsn := path + "?_pragma=busy_timeout(10000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newSQLStore(db, dialectSQLite)
}

// NewPostgresStore connects to a PostgreSQL history database.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newSQLStore(db, dialectPostgres)
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &SQLStore{db: db, dialect: d}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bench_series (
			tool TEXT PRIMARY KEY,
			version BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bench_runs (
			tool TEXT NOT NULL,
			seq BIGINT NOT NULL,
			commit_id TEXT NOT NULL,
			date BIGINT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (tool, seq),
			UNIQUE (tool, commit_id)
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
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

func (s *SQLStore) Load(ctx context.Context, tool string) (*Snapshot, error) {
	// One statement, so the version and the rows come from the same snapshot.
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT s.version, r.payload FROM bench_series s
		LEFT JOIN bench_runs r ON r.tool = s.tool
		WHERE s.tool = ? ORDER BY r.seq`), tool)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var (
		version int64
		found   bool
		entries []Entry
	)
	for rows.Next() {
		var payload sql.NullString
		if err := rows.Scan(&version, &payload); err != nil {
			return nil, err
		}
		found = true
		if !payload.Valid {
			continue
		}
		e, err := decodeEntry([]byte(payload.String))
		if err != nil {
			return nil, fmt.Errorf("corrupt run in %q: %w", tool, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !found || len(entries) == 0 {
		return emptySnapshot(tool, sqlVersion(version)), notFound(tool)
	}
	return &Snapshot{
		Tool:    tool,
		Series:  Series{tool: tool, entries: entries},
		Version: sqlVersion(version),
	}, nil
}

func (s *SQLStore) Append(ctx context.Context, tool string, run benchmark.Run, expected Version) (Version, error) {
	if run.Commit.ID == "" {
		return NoVersion, errors.New("run has no commit id")
	}
	raw, err := marshalNoEscape(run)
	if err != nil {
		return NoVersion, fmt.Errorf("failed to marshal run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NoVersion, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT version FROM bench_series WHERE tool = ?`), tool).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return NoVersion, fmt.Errorf("failed to read series version: %w", err)
	}
	if expected != AnyVersion && sqlVersion(current) != normalizeSQLVersion(expected) {
		return NoVersion, fmt.Errorf("%w: %q is at version %d", ErrConcurrentModification, tool, current)
	}

	var dup int
	if err := tx.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM bench_runs WHERE tool = ? AND commit_id = ?`), tool, run.Commit.ID).Scan(&dup); err != nil {
		return NoVersion, err
	}
	if dup > 0 {
		return NoVersion, fmt.Errorf("%w: %s in %q", ErrDuplicateCommit, run.Commit.ID, tool)
	}

	var lastDate int64
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT date FROM bench_runs WHERE tool = ? ORDER BY seq DESC LIMIT 1`), tool).Scan(&lastDate)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return NoVersion, err
	case run.Date < lastDate:
		return NoVersion, fmt.Errorf("%w: %d < %d", ErrNonMonotonicDate, run.Date, lastDate)
	}
	now := time.Now().UnixMilli()
	var res sql.Result
	if current == 0 {
		res, err = tx.ExecContext(ctx, s.rebind(
			`INSERT INTO bench_series (tool, version, updated_at) VALUES (?, 1, ?) ON CONFLICT (tool) DO NOTHING`),
			tool, now)
	} else {
		res, err = tx.ExecContext(ctx, s.rebind(
			`UPDATE bench_series SET version = version + 1, updated_at = ? WHERE tool = ? AND version = ?`),
			now, tool, current)
	}
	if err != nil {
		return NoVersion, fmt.Errorf("failed to bump series version: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return NoVersion, err
	} else if n != 1 {
		return NoVersion, fmt.Errorf("%w: %q", ErrConcurrentModification, tool)
	}

	next := current + 1
	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO bench_runs (tool, seq, commit_id, date, payload) VALUES (?, ?, ?, ?, ?)`),
		tool, next, run.Commit.ID, run.Date, string(raw)); err != nil {
		return NoVersion, fmt.Errorf("failed to insert run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return NoVersion, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return sqlVersion(next), nil
}

func (s *SQLStore) Tools(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tool FROM bench_series ORDER BY tool`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tools []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func sqlVersion(v int64) Version {
	if v == 0 {
		return NoVersion
	}
	return Version(strconv.FormatInt(v, 10))
}

func normalizeSQLVersion(v Version) Version {
	if v == "0" {
		return NoVersion
	}
	return v
}

func decodeEntry(raw []byte) (Entry, error) {
	var run benchmark.Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return Entry{}, err
	}
	return Entry{Run: run, Raw: append([]byte(nil), raw...)}, nil
}
