package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"sqmcode-go/types"
)

// Store is the SQLite history of readings, spikes and supply samples.
type Store struct {
	db *sql.DB
}

// Open opens the database and initialises the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS readings (
			id TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			magnitude REAL NOT NULL,
			gain TEXT NOT NULL,
			integration_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create readings table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS spikes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			rejected REAL NOT NULL,
			delta REAL NOT NULL,
			last_accepted REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_spikes_ts ON spikes(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create spikes table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS power (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			current_ma REAL NOT NULL,
			voltage_mv REAL NOT NULL,
			power_mw REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_power_ts ON power(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create power table: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// AddReading stores v and returns its generated id.
func (s *Store) AddReading(v types.SQMValue) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO readings (id, timestamp, magnitude, gain, integration_ms) VALUES (?, ?, ?, ?, ?)`,
		id, v.Timestamp.UTC().UnixMilli(), v.Magnitude, v.Gain, v.IntegrationMs,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) AddSpike(e types.SpikeEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO spikes (timestamp, rejected, delta, last_accepted) VALUES (?, ?, ?, ?)`,
		e.Timestamp.UTC().UnixMilli(), e.Rejected, e.Delta, e.LastAccepted,
	)
	return err
}

func (s *Store) AddPower(p types.PowerValue) error {
	_, err := s.db.Exec(
		`INSERT INTO power (timestamp, current_ma, voltage_mv, power_mw) VALUES (?, ?, ?, ?)`,
		p.TS, p.CurrentMilliA, p.VoltageMilliV, p.PowerMilliW,
	)
	return err
}

// Reading is a stored sky brightness value.
type Reading struct {
	ID string
	types.SQMValue
}

// Readings returns readings in [start, end], newest first.
func (s *Store) Readings(start, end time.Time, limit int) ([]Reading, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, magnitude, gain, integration_ms
		FROM readings
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, start.UTC().UnixMilli(), end.UTC().UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var (
			r  Reading
			ts int64
		)
		if err := rows.Scan(&r.ID, &ts, &r.Magnitude, &r.Gain, &r.IntegrationMs); err != nil {
			return nil, err
		}
		r.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// SpikeCount returns the number of spikes recorded since t.
func (s *Store) SpikeCount(since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM spikes WHERE timestamp >= ?`, since.UTC().UnixMilli()).Scan(&n)
	return n, err
}

// DeleteOlderThan removes rows older than cutoff from every table.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	ms := cutoff.UTC().UnixMilli()
	var total int64
	for _, table := range []string{"readings", "spikes", "power"} {
		res, err := s.db.Exec(`DELETE FROM `+table+` WHERE timestamp < ?`, ms)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
