package db

import (
	"path/filepath"
	"testing"
)

func TestOpen_EmptyDSN(t *testing.T) {
	if _, errOpen := Open("  "); errOpen == nil {
		t.Fatalf("expected error on empty dsn")
	}
}

func TestOpen_SQLiteAndMigrate(t *testing.T) {
	conn, errOpen := Open(filepath.Join(t.TempDir(), "state.db"))
	if errOpen != nil {
		t.Fatalf("open: %v", errOpen)
	}
	if !IsSQLite(conn) {
		t.Fatalf("expected sqlite dialect, got %q", DialectName(conn))
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	// Migrate is idempotent.
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("second migrate: %v", errMigrate)
	}
}

func TestMigrate_NilConnection(t *testing.T) {
	if errMigrate := Migrate(nil); errMigrate == nil {
		t.Fatalf("expected error on nil connection")
	}
}
