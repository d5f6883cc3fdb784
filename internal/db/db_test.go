package db

import (
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMigrate(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// Verify all tables exist
	tables := []string{"schema_version", "reviews", "queue_messages"}
	for _, table := range tables {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	var version int
	if err := d.conn.QueryRow("SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}

	// Migrate again should be idempotent
	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestStatusCheckConstraint(t *testing.T) {
	d := testDB(t)

	_, err := d.conn.Exec(
		`INSERT INTO reviews (id, owner, repo, pr, head_sha, status, total_tasks)
		 VALUES ('o_r_1', 'o', 'r', 1, 'sha', 'bogus', 3)`,
	)
	if err == nil {
		t.Error("expected CHECK constraint violation for bogus status")
	}
}

func TestReset(t *testing.T) {
	d := testDB(t)

	if _, err := d.conn.Exec(
		`INSERT INTO reviews (id, owner, repo, pr, head_sha, status, total_tasks)
		 VALUES ('o_r_1', 'o', 'r', 1, 'sha', 'pending', 3)`,
	); err != nil {
		t.Fatalf("insert review: %v", err)
	}

	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	var count int
	if err := d.conn.QueryRow("SELECT COUNT(*) FROM reviews").Scan(&count); err != nil {
		t.Fatalf("count after reset: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty reviews table after reset, got %d rows", count)
	}
}
