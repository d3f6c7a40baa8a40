//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"modernc.org/sqlite"
)

func TestIsSQLiteConflictError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("boom"), false},
		{errors.New("SQLITE_BUSY: database busy"), true},
		{fmt.Errorf("upsert: %w", errors.New("database is locked")), true},
	}
	for _, tt := range tests {
		if got := IsSQLiteConflictError(tt.err); got != tt.want {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIsSQLiteConflictErrorDriverCodes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lock.db")

	holder, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = holder.Close() })
	if _, err := holder.ExecContext(ctx, `CREATE TABLE kv (k TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	conn, err := holder.Conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		t.Fatalf("begin: %v", err)
	}
	t.Cleanup(func() { _, _ = conn.ExecContext(ctx, `ROLLBACK`) })

	writer, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	t.Cleanup(func() { _ = writer.Close() })

	_, busy := writer.ExecContext(ctx, `INSERT INTO kv (k) VALUES ('a')`)
	var se *sqlite.Error
	if !errors.As(busy, &se) {
		t.Fatalf("write under lock error = %v, want *sqlite.Error", busy)
	}
	if !IsSQLiteConflictError(fmt.Errorf("upsert: %w", busy)) {
		t.Errorf("IsSQLiteConflictError(%v) = false, want true", busy)
	}

	_, syntax := writer.ExecContext(ctx, `SELEC 1`)
	if syntax == nil || IsSQLiteConflictError(syntax) {
		t.Errorf("IsSQLiteConflictError(%v) = true, want false for a syntax error", syntax)
	}
}

func TestRetryOnConflict(t *testing.T) {
	t.Parallel()

	t.Run("succeeds after busy", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), "test", 3, time.Millisecond, func() error {
			calls++
			if calls < 3 {
				return errors.New("database is locked")
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Errorf("err = %v, calls = %d; want nil, 3", err, calls)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), "test", 2, time.Millisecond, func() error {
			calls++
			return errors.New("SQLITE_BUSY")
		})
		if !IsSQLiteConflictError(err) || calls != 2 {
			t.Errorf("err = %v, calls = %d; want busy error, 2", err, calls)
		}
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := RetryOnConflict(context.Background(), "test", 5, time.Millisecond, func() error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) || calls != 1 {
			t.Errorf("err = %v, calls = %d; want boom, 1", err, calls)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := RetryOnConflict(ctx, "test", 3, time.Second, func() error {
			return errors.New("SQLITE_BUSY")
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}
