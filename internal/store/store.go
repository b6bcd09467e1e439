// Package store manages the SQLite settings database (WAL mode) for hfpd.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// speakerVolumeKey is the persisted SCO speaker gain, the one setting the
// profile reads at startup and updates on remote volume changes.
const speakerVolumeKey = "audio.volume.bt_sco"

// DB wraps *sql.DB with settings helpers.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the SQLite file at path with WAL journal mode.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	raw, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := raw.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	// Limit writer concurrency to 1; SQLite WAL allows concurrent readers.
	raw.SetMaxOpenConns(1)
	return &DB{raw}, nil
}

// Migrate applies the DDL schema. Idempotent.
func Migrate(db *DB) error {
	if _, err := db.Exec(ddlSettings); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

const ddlSettings = `
CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// SpeakerVolume returns the stored speaker gain. ok is false when no value
// has been stored yet.
func (db *DB) SpeakerVolume() (level int, ok bool, err error) {
	row := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, speakerVolumeKey)
	var value string
	switch err := row.Scan(&value); err {
	case nil:
	case sql.ErrNoRows:
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("store: read %s: %w", speakerVolumeKey, err)
	}

	if _, err := fmt.Sscanf(value, "%d", &level); err != nil {
		return 0, false, fmt.Errorf("store: %s is not a number: %q", speakerVolumeKey, value)
	}
	return level, true, nil
}

// SaveSpeakerVolume persists the speaker gain.
func (db *DB) SaveSpeakerVolume(level int) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		speakerVolumeKey, fmt.Sprintf("%d", level),
	)
	if err != nil {
		return fmt.Errorf("store: save %s: %w", speakerVolumeKey, err)
	}
	return nil
}
