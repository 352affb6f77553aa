package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/i474232898/air-quality-fusion/internal/airquality"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id           TEXT PRIMARY KEY,
	location_key TEXT    NOT NULL,
	ts           INTEGER NOT NULL,
	pm25         REAL    NOT NULL,
	confidence   REAL    NOT NULL,
	payload      TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_location_ts ON snapshots(location_key, ts);
`

// SQLiteStore persists snapshots in a SQLite database. The full snapshot is
// kept as JSON; key columns are duplicated for range queries.
type SQLiteStore struct {
	db         *sql.DB
	maxHistory int
	maxAge     time.Duration
	now        func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path. Limits match
// MemoryStore: maxHistory > 0 keeps only the newest snapshots per location,
// maxAge > 0 prunes older snapshots on every save.
func OpenSQLite(path string, maxHistory int, maxAge time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db, maxHistory: maxHistory, maxAge: maxAge, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snapshot airquality.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (id, location_key, ts, pm25, confidence, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		snapshot.ID, snapshot.Location.Key(), snapshot.Timestamp.UnixNano(),
		snapshot.Result.PM25, snapshot.Result.Confidence, string(payload))
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}

	if s.maxHistory > 0 {
		key := snapshot.Location.Key()
		_, err := tx.ExecContext(ctx,
			`DELETE FROM snapshots WHERE location_key = ? AND id NOT IN (
				SELECT id FROM snapshots WHERE location_key = ? ORDER BY ts DESC LIMIT ?)`,
			key, key, s.maxHistory)
		if err != nil {
			return fmt.Errorf("trimming history: %w", err)
		}
	}
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge).UnixNano()
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE ts < ?`, cutoff); err != nil {
			return fmt.Errorf("pruning snapshots: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetLatest(ctx context.Context, loc airquality.Location) (airquality.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots WHERE location_key = ? ORDER BY ts DESC LIMIT 1`, loc.Key()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return airquality.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return airquality.Snapshot{}, err
	}
	return decodeSnapshot(payload)
}

func (s *SQLiteStore) GetRange(ctx context.Context, loc airquality.Location, from, to time.Time) ([]airquality.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM snapshots WHERE location_key = ? AND ts BETWEEN ? AND ? ORDER BY ts ASC`,
		loc.Key(), from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []airquality.Snapshot
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		snap, err := decodeSnapshot(payload)
		if err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

func decodeSnapshot(payload string) (airquality.Snapshot, error) {
	var snap airquality.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return snap, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}
