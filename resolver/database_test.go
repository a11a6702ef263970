package resolver

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rulekit/rulekit/enginerr"
)

// newSQLiteResolver seeds a throwaway sqlite database and returns a resolver
// pointed at it as the business database.
func newSQLiteResolver(t *testing.T) *Resolver {
	t.Helper()

	path := filepath.Join(t.TempDir(), "business.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id TEXT, amount REAL, status TEXT)`,
		`INSERT INTO orders (user_id, amount, status) VALUES ('u-1', 100.0, 'paid')`,
		`INSERT INTO orders (user_id, amount, status) VALUES ('u-1', 35.5, 'paid')`,
		`INSERT INTO orders (user_id, amount, status) VALUES ('u-2', 12.0, 'pending')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to seed database: %v", err)
		}
	}

	rv := New("sqlite:///"+path, "")
	rv.Pools = NewPoolRegistry()
	t.Cleanup(func() { rv.Pools.Close() })
	return rv
}

func dbRequirement(name, query string) Requirement {
	return Requirement{Name: name, Source: SourceDatabase, Query: query}
}

func TestDatabaseScalarResult(t *testing.T) {
	rv := newSQLiteResolver(t)

	got, err := rv.Resolve(context.Background(),
		dbRequirement("order_count", `SELECT COUNT(*) FROM orders WHERE user_id = '{{user_id}}'`),
		map[string]any{"user_id": "u-1"})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	// Single row, single column: the bare scalar, not a wrapped row.
	if got != int64(2) {
		t.Errorf("Resolve() = %v (%T), want int64(2)", got, got)
	}
}

func TestDatabaseSingleRowResult(t *testing.T) {
	rv := newSQLiteResolver(t)

	got, err := rv.Resolve(context.Background(),
		dbRequirement("order", `SELECT user_id, amount FROM orders WHERE id = 1`),
		map[string]any{})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	row, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("Resolve() = %T, want map row", got)
	}
	if row["user_id"] != "u-1" || row["amount"] != 100.0 {
		t.Errorf("unexpected row: %#v", row)
	}
}

func TestDatabaseMultiRowResult(t *testing.T) {
	rv := newSQLiteResolver(t)

	got, err := rv.Resolve(context.Background(),
		dbRequirement("paid_orders", `SELECT id, amount FROM orders WHERE status = 'paid' ORDER BY id`),
		map[string]any{})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	rows, ok := got.([]any)
	if !ok {
		t.Fatalf("Resolve() = %T, want slice of rows", got)
	}
	if len(rows) != 2 {
		t.Errorf("got %d rows, want 2", len(rows))
	}
}

func TestDatabaseZeroRowsIsNil(t *testing.T) {
	rv := newSQLiteResolver(t)

	got, err := rv.Resolve(context.Background(),
		dbRequirement("none", `SELECT id FROM orders WHERE user_id = 'nobody'`),
		map[string]any{})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got != nil {
		t.Errorf("Resolve() = %v, want nil for zero rows", got)
	}
}

func TestDatabaseNonSelectReturnsAffectedCount(t *testing.T) {
	rv := newSQLiteResolver(t)

	got, err := rv.Resolve(context.Background(),
		dbRequirement("updated", `UPDATE orders SET status = 'closed' WHERE user_id = 'u-1'`),
		map[string]any{})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got != int64(2) {
		t.Errorf("Resolve() = %v (%T), want affected count int64(2)", got, got)
	}
}

func TestDatabaseMissingTableClassified(t *testing.T) {
	rv := newSQLiteResolver(t)

	_, err := rv.Resolve(context.Background(),
		dbRequirement("count", `SELECT COUNT(*) FROM non_existent_table`),
		map[string]any{})
	if err == nil {
		t.Fatal("Resolve() should fail for a missing table")
	}

	var ce *enginerr.Error
	if !errors.As(err, &ce) {
		t.Fatalf("error is %T, want *enginerr.Error", err)
	}
	if ce.Type != enginerr.TypeTableNotFound {
		t.Errorf("error type = %s, want %s", ce.Type, enginerr.TypeTableNotFound)
	}
}

func TestDatabaseSyntaxErrorClassified(t *testing.T) {
	rv := newSQLiteResolver(t)

	_, err := rv.Resolve(context.Background(),
		dbRequirement("bad", `SELEC id FROM orders`),
		map[string]any{})
	if err == nil {
		t.Fatal("Resolve() should fail for broken SQL")
	}
	if got := enginerr.TypeOf(err); got != enginerr.TypeSQLSyntax {
		t.Errorf("error type = %s, want %s", got, enginerr.TypeSQLSyntax)
	}
}

func TestDatabaseFailOpenOverride(t *testing.T) {
	rv := newSQLiteResolver(t)

	req := dbRequirement("count", `SELECT COUNT(*) FROM non_existent_table`)
	req.OnError = PolicyFailOpen

	got, err := rv.Resolve(context.Background(), req, map[string]any{})
	if err != nil {
		t.Fatalf("Resolve() with on_error=ignore should swallow the failure, got %v", err)
	}
	if got != nil {
		t.Errorf("Resolve() = %v, want nil", got)
	}
}
