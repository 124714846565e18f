package store

import (
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLatestMigration_Embedded(t *testing.T) {
	src, err := migrationSource()
	if err != nil {
		t.Fatalf("migrationSource: %v", err)
	}
	defer src.Close()

	latest, err := latestMigration(src)
	if err != nil {
		t.Fatalf("latestMigration: %v", err)
	}
	if latest != 2 {
		t.Errorf("latest = %d, want 2", latest)
	}

	for v := uint(1); v <= latest; v++ {
		up, _, err := src.ReadUp(v)
		if err != nil {
			t.Errorf("version %d: no up migration: %v", v, err)
			continue
		}
		up.Close()
		down, _, err := src.ReadDown(v)
		if err != nil {
			t.Errorf("version %d: no down migration: %v", v, err)
			continue
		}
		down.Close()
	}
}

func TestRunMigrations_NilDB(t *testing.T) {
	if err := RunMigrations(nil, nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	s := testStore(t)
	log := logrus.New()
	log.SetOutput(io.Discard)
	// testStore already migrated once; a second run is a no-op.
	if err := RunMigrations(s.db, log); err != nil {
		if errors.Is(err, ErrDirtySchema) {
			t.Fatalf("schema dirty: %v", err)
		}
		t.Fatalf("second RunMigrations: %v", err)
	}
}
