package internal_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/olivere/jobconsole/sqlstore/internal"
)

const (
	createPersonTableSQL = `CREATE TABLE IF NOT EXISTS people (id INTEGER PRIMARY KEY, name TEXT NOT NULL);`
)

func connect(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createPersonTableSQL); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 20 * time.Millisecond
	b.MaxElapsedTime = time.Second
	return b
}

func insertPeople(ctx context.Context, tx *sql.Tx, names ...string) error {
	for _, name := range names {
		if _, err := tx.ExecContext(ctx, `INSERT INTO people (name) VALUES (?)`, name); err != nil {
			return err
		}
	}
	return nil
}

func countPeople(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM people`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	return count
}

func TestRunInTx(t *testing.T) {
	tests := []struct {
		Name    string
		Fn      func(context.Context, *sql.Tx) error
		WantErr string
		Want    int64
	}{
		{
			Name: "OK",
			Fn: func(ctx context.Context, tx *sql.Tx) error {
				return insertPeople(ctx, tx, "Alice", "Bob")
			},
			Want: 2,
		},
		{
			Name: "ErrorInFn",
			Fn: func(ctx context.Context, tx *sql.Tx) error {
				if err := insertPeople(ctx, tx, "Alice", "Bob"); err != nil {
					return err
				}
				return errors.New("kaboom")
			},
			WantErr: "kaboom",
		},
		{
			Name: "PanicInFn",
			Fn: func(ctx context.Context, tx *sql.Tx) error {
				if err := insertPeople(ctx, tx, "Alice", "Bob"); err != nil {
					return err
				}
				panic("kaboom")
			},
			WantErr: "panic in transaction: kaboom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			db := connect(t)
			err := internal.RunInTx(context.Background(), db, tt.Fn)
			if tt.WantErr == "" && err != nil {
				t.Fatalf("RunInTx failed with %v", err)
			}
			if tt.WantErr != "" && (err == nil || err.Error() != tt.WantErr) {
				t.Fatalf("RunInTx = %v, want %q", err, tt.WantErr)
			}
			if have, want := countPeople(t, db), tt.Want; have != want {
				t.Fatalf("expected %d rows, got %d", want, have)
			}
		})
	}
}

func TestRunInTxRetriesDeadlock(t *testing.T) {
	db := connect(t)
	var deadlocks int
	err := internal.RunInTx(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertPeople(ctx, tx, "Alice", "Bob"); err != nil {
			return err
		}
		deadlocks++
		if deadlocks < 3 {
			return &mysql.MySQLError{
				Number:  1213,
				Message: fmt.Sprintf("Deadlock found when trying to get lock; try restarting transaction (#%d)", deadlocks),
			}
		}
		return nil
	}, internal.WithRetry(internal.IsRetryable, newBackoff()))
	if err != nil {
		t.Fatalf("RunInTx failed with %v", err)
	}
	if have, want := deadlocks, 3; have != want {
		t.Fatalf("expected %d attempts, got %d", want, have)
	}
	if have, want := countPeople(t, db), int64(2); have != want {
		t.Fatalf("expected %d rows, got %d", want, have)
	}
}

func TestRunInTxStopsOnPermanentError(t *testing.T) {
	db := connect(t)
	var calls int
	err := internal.RunInTx(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		calls++
		return errors.New("kaboom")
	}, internal.WithRetry(internal.IsRetryable, newBackoff()))
	if err == nil || err.Error() != "kaboom" {
		t.Fatalf("RunInTx = %v, want kaboom", err)
	}
	if have, want := calls, 1; have != want {
		t.Fatalf("expected %d attempts, got %d", want, have)
	}
}

func TestRunInTxGivesUp(t *testing.T) {
	db := connect(t)
	b := backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	var calls int
	err := internal.RunInTx(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		calls++
		return &mysql.MySQLError{Number: 1213, Message: "Deadlock"}
	}, internal.WithRetry(nil, b))
	if !internal.IsDeadlock(err) {
		t.Fatalf("RunInTx = %v, want a deadlock", err)
	}
	if have, want := calls, 3; have != want {
		t.Fatalf("expected %d attempts, got %d", want, have)
	}
}

func TestIsDup(t *testing.T) {
	if !internal.IsDup(fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062})) {
		t.Fatal("IsDup(1062) = false, want true")
	}
	if internal.IsDup(&mysql.MySQLError{Number: 1213}) {
		t.Fatal("IsDup(1213) = true, want false")
	}

	db := connect(t)
	if _, err := db.Exec(`INSERT INTO people (id, name) VALUES (1, 'Alice')`); err != nil {
		t.Fatal(err)
	}
	_, err := db.Exec(`INSERT INTO people (id, name) VALUES (1, 'Bob')`)
	if !internal.IsDup(err) {
		t.Fatalf("IsDup(%v) = false, want true", err)
	}
}

func TestIsNotFound(t *testing.T) {
	db := connect(t)
	var name string
	err := db.QueryRow(`SELECT name FROM people WHERE id = 42`).Scan(&name)
	if !internal.IsNotFound(err) {
		t.Fatalf("IsNotFound(%v) = false, want true", err)
	}
}
