package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"moniteur/internal/domain"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
)

// SQLStore keeps data points in a single (asset_id, ts) keyed table on
// SQLite, PostgreSQL or MySQL.
type SQLStore struct {
	db      *sql.DB
	backend Backend
	dsn     string
	locks   assetLocks
	state   lifecycle
	now     func() time.Time
}

func NewSQLStore(backend Backend, dsn string) *SQLStore {
	return &SQLStore{backend: backend, dsn: dsn, now: time.Now}
}

// NewSQLiteStore is shorthand for a SQLite-backed store at path.
func NewSQLiteStore(path string) *SQLStore {
	return NewSQLStore(BackendSQLite, path)
}

func (s *SQLStore) Init() error {
	if s.state.closed.Load() {
		return domain.ErrStoreClosed
	}

	driverName, dsn, err := s.driver()
	if err != nil {
		return err
	}

	s.db, err = sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("error opening %s database: %w", s.backend, err)
	}
	if s.backend == BackendSQLite {
		// one writer avoids "database is locked" under concurrent rounds
		s.db.SetMaxOpenConns(1)
	}

	if err = s.db.Ping(); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("error connecting to %s database: %w", s.backend, err)
	}

	if _, err = s.db.Exec(s.createTableSQL()); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("error creating table: %w", err)
	}

	s.state.open.Store(true)
	return nil
}

func (s *SQLStore) driver() (string, string, error) {
	switch s.backend {
	case BackendSQLite:
		dsn := s.dsn
		if dsn == "" {
			return "", "", fmt.Errorf("sqlite store requires a database path")
		}
		if dsn != ":memory:" && !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
		return "sqlite3", dsn, nil
	case BackendPostgres:
		return "pgx", s.dsn, nil
	case BackendMySQL:
		return "mysql", s.dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported sql backend %q", s.backend)
	}
}

func (s *SQLStore) createTableSQL() string {
	switch s.backend {
	case BackendPostgres:
		return `
	CREATE TABLE IF NOT EXISTS datapoints (
		asset_id TEXT NOT NULL,
		ts BIGINT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (asset_id, ts)
	);`
	case BackendMySQL:
		return `
	CREATE TABLE IF NOT EXISTS datapoints (
		asset_id VARCHAR(191) NOT NULL,
		ts BIGINT NOT NULL,
		value DOUBLE NOT NULL,
		PRIMARY KEY (asset_id, ts)
	);`
	default:
		return `
	CREATE TABLE IF NOT EXISTS datapoints (
		asset_id TEXT NOT NULL,
		ts INTEGER NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (asset_id, ts)
	) WITHOUT ROWID;`
	}
}

func (s *SQLStore) upsertSQL() string {
	if s.backend == BackendMySQL {
		return "INSERT INTO datapoints(asset_id, ts, value) VALUES(?, ?, ?) ON DUPLICATE KEY UPDATE value = VALUES(value)"
	}
	return s.rebind("INSERT INTO datapoints(asset_id, ts, value) VALUES(?, ?, ?) ON CONFLICT(asset_id, ts) DO UPDATE SET value = excluded.value")
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.backend != BackendPostgres {
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

func (s *SQLStore) Write(ctx context.Context, point domain.DataPoint) error {
	if err := s.state.check(); err != nil {
		return err
	}

	mu := s.locks.get(point.AssetID)
	mu.RLock()
	defer mu.RUnlock()

	if _, err := s.db.ExecContext(ctx, s.upsertSQL(), point.AssetID, point.Timestamp, point.Value); err != nil {
		return fmt.Errorf("%w: inserting point for %s: %w", domain.ErrStore, point.AssetID, err)
	}
	return nil
}

func (s *SQLStore) Query(ctx context.Context, assetID string, from, to int64, maxPoints int) ([]domain.DataPoint, error) {
	if err := s.state.check(); err != nil {
		return nil, err
	}
	if from > to {
		return nil, domain.ErrInvalidRange
	}

	mu := s.locks.get(assetID)
	mu.RLock()
	defer mu.RUnlock()

	query := s.rebind("SELECT ts, value FROM datapoints WHERE asset_id = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC")
	rows, err := s.db.QueryContext(ctx, query, assetID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: error querying database: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	fetched := []domain.DataPoint{}
	for rows.Next() {
		p := domain.DataPoint{AssetID: assetID}
		if err := rows.Scan(&p.Timestamp, &p.Value); err != nil {
			return nil, fmt.Errorf("%w: error scanning row: %w", domain.ErrStore, err)
		}
		fetched = append(fetched, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error during rows iteration: %w", domain.ErrStore, err)
	}

	return Downsample(fetched, maxPoints), nil
}

// RetentionSweep applies policy to every stored asset and returns the number of points removed.
func (s *SQLStore) RetentionSweep(ctx context.Context, policy domain.Retention) (int, error) {
	if err := s.state.check(); err != nil {
		return 0, err
	}

	assetIDs, err := s.storedAssets(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, assetID := range assetIDs {
		n, err := s.sweepAsset(ctx, assetID, policy)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *SQLStore) storedAssets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT asset_id FROM datapoints")
	if err != nil {
		return nil, fmt.Errorf("%w: listing assets: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scanning asset id: %w", domain.ErrStore, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing assets: %w", domain.ErrStore, err)
	}
	return ids, nil
}

func (s *SQLStore) sweepAsset(ctx context.Context, assetID string, policy domain.Retention) (int, error) {
	mu := s.locks.get(assetID)
	mu.Lock()
	defer mu.Unlock()

	removed := 0
	deleteOlder := s.rebind("DELETE FROM datapoints WHERE asset_id = ? AND ts < ?")

	if cutoff, ok := cutoffFor(policy, s.now()); ok {
		res, err := s.db.ExecContext(ctx, deleteOlder, assetID, cutoff)
		if err != nil {
			return removed, fmt.Errorf("%w: horizon sweep for %s: %w", domain.ErrStore, assetID, err)
		}
		removed += affected(res)
	}

	if policy.MaxCount > 0 {
		var oldestKept int64
		query := s.rebind("SELECT ts FROM datapoints WHERE asset_id = ? ORDER BY ts DESC LIMIT 1 OFFSET ?")
		err := s.db.QueryRowContext(ctx, query, assetID, policy.MaxCount-1).Scan(&oldestKept)
		switch {
		case err == sql.ErrNoRows:
			// fewer than MaxCount points
		case err != nil:
			return removed, fmt.Errorf("%w: count sweep for %s: %w", domain.ErrStore, assetID, err)
		default:
			res, err := s.db.ExecContext(ctx, deleteOlder, assetID, oldestKept)
			if err != nil {
				return removed, fmt.Errorf("%w: count sweep for %s: %w", domain.ErrStore, assetID, err)
			}
			removed += affected(res)
		}
	}

	return removed, nil
}

func affected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

func (s *SQLStore) Close() error {
	if !s.state.markClosed() {
		return domain.ErrStoreClosed
	}
	if s.db == nil {
		return nil
	}

	var err error
	if s.backend == BackendSQLite && s.state.open.Load() {
		if _, cpErr := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); cpErr != nil {
			err = multierr.Append(err, fmt.Errorf("checkpointing wal: %w", cpErr))
		}
	}
	return multierr.Append(err, s.db.Close())
}
