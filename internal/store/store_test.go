package store

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestSpeakerVolumeRoundTrip(t *testing.T) {
	db := openTestDB(t)

	if _, ok, err := db.SpeakerVolume(); err != nil || ok {
		t.Fatalf("fresh db: ok=%v err=%v, want unset", ok, err)
	}

	if err := db.SaveSpeakerVolume(9); err != nil {
		t.Fatal(err)
	}
	level, ok, err := db.SpeakerVolume()
	if err != nil || !ok || level != 9 {
		t.Fatalf("read back: level=%d ok=%v err=%v, want 9", level, ok, err)
	}

	// Saving again overwrites rather than duplicating.
	if err := db.SaveSpeakerVolume(3); err != nil {
		t.Fatal(err)
	}
	if level, _, _ = db.SpeakerVolume(); level != 3 {
		t.Fatalf("after overwrite: level=%d, want 3", level)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := Migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
