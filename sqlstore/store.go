// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Package sqlstore keeps jobconsole state in a relational database.
// Lists, sets, sorted sets and scalar values are mapped onto two tables
// so that a Resque key space can live in MySQL or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	mysqldriver "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/olivere/jobconsole"
	"github.com/olivere/jobconsole/internal/keyglob"
	"github.com/olivere/jobconsole/internal/listrange"
	"github.com/olivere/jobconsole/internal/retry"
	"github.com/olivere/jobconsole/sqlstore/internal"
)

const (
	keysTable  = "jobconsole_keys"
	itemsTable = "jobconsole_items"

	kindString = "string"
	kindList   = "list"
	kindSet    = "set"
	kindSorted = "zset"

	likeEscape = '!'
)

// ErrWrongKind is returned when an operation is applied to a key that
// holds a different kind of value, e.g. Push on a scalar.
var ErrWrongKind = errors.New("sqlstore: operation against a key holding the wrong kind of value")

// Store represents a persistent SQL storage implementation.
// It implements the jobconsole.Store and jobconsole.ListRewriter
// interfaces.
type Store struct {
	db      *sql.DB
	dialect Dialect
	debug   bool
	logger  jobconsole.Logger
	now     func() time.Time
	sb      sq.StatementBuilderType
}

// StoreOption is an options provider for Store.
type StoreOption func(*Store)

// SetDebug prints every SQL statement to the logger.
func SetDebug(enabled bool) StoreOption {
	return func(s *Store) {
		s.debug = enabled
	}
}

// SetLogger specifies the logger used for debug output.
func SetLogger(logger jobconsole.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// SetClock overrides the clock used for key expiry.
func SetClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore initializes a new MySQL-based storage. The database in the
// DSN is created if it does not exist.
func NewStore(url string, options ...StoreOption) (*Store, error) {
	cfg, err := mysqldriver.ParseDSN(url)
	if err != nil {
		return nil, err
	}
	dbname := cfg.DBName
	if dbname == "" {
		return nil, errors.New("no database specified")
	}
	// First connect without DB name
	cfg.DBName = ""
	setupdb, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	defer setupdb.Close()
	_, err = setupdb.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", dbname))
	if err != nil {
		return nil, wrapError(err)
	}

	// Now connect again, this time with the db name
	db, err := sql.Open("mysql", url)
	if err != nil {
		return nil, err
	}
	st, err := NewStoreWithDB(db, MySQL, options...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

// NewSQLiteStore opens a SQLite database, e.g. "file:jobconsole.db" or
// "file:test?mode=memory&cache=shared".
func NewSQLiteStore(dsn string, options ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer; serializing in the pool avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	st, err := NewStoreWithDB(db, SQLite, options...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

// NewStoreWithDB uses an existing database handle and creates the schema
// if necessary.
func NewStoreWithDB(db *sql.DB, dialect Dialect, options ...StoreOption) (*Store, error) {
	st := &Store{
		db:      db,
		dialect: dialect,
		now:     time.Now,
		sb:      sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
	for _, opt := range options {
		opt(st)
	}
	for _, stmt := range dialect.Schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, wrapError(err)
		}
	}
	return st, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func wrapError(err error) error {
	if err == nil || errors.Is(err, jobconsole.ErrNotFound) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", jobconsole.ErrStoreUnavailable, err)
	}
	return err
}

// tx runs fn in a transaction, retrying on deadlocks and lost
// insert races.
func (s *Store) tx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	err := internal.RunInTx(ctx, s.db, fn, internal.WithRetry(internal.IsRetryable, retry.NewBackoff()))
	return wrapError(err)
}

func (s *Store) exec(ctx context.Context, tx *sql.Tx, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	if s.debug && s.logger != nil {
		s.logger.Printf("sqlstore: %s %v", query, args)
	}
	return tx.ExecContext(ctx, query, args...)
}

func (s *Store) query(ctx context.Context, tx *sql.Tx, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	if s.debug && s.logger != nil {
		s.logger.Printf("sqlstore: %s %v", query, args)
	}
	return tx.QueryContext(ctx, query, args...)
}

func (s *Store) queryRow(ctx context.Context, tx *sql.Tx, b sq.Sqlizer, dest ...interface{}) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	if s.debug && s.logger != nil {
		s.logger.Printf("sqlstore: %s %v", query, args)
	}
	return tx.QueryRowContext(ctx, query, args...).Scan(dest...)
}

func (s *Store) queryStrings(ctx context.Context, tx *sql.Tx, b sq.Sqlizer) ([]string, error) {
	rows, err := s.query(ctx, tx, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) queryInts(ctx context.Context, tx *sql.Tx, b sq.Sqlizer) ([]int64, error) {
	rows, err := s.query(ctx, tx, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// lookup returns the kind of value at key, or "" if there is none.
// Expired keys are removed on the way.
func (s *Store) lookup(ctx context.Context, tx *sql.Tx, key string) (string, error) {
	q := s.sb.Select("kind", "expires").From(keysTable).Where(sq.Eq{"k": key})
	if s.dialect.LockRows {
		q = q.Suffix("FOR UPDATE")
	}
	var (
		kind    string
		expires int64
	)
	err := s.queryRow(ctx, tx, q, &kind, &expires)
	if internal.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if expires > 0 && expires <= s.now().UnixNano() {
		return "", s.drop(ctx, tx, key)
	}
	return kind, nil
}

// lookupKind is like lookup but fails with ErrWrongKind if key holds
// something other than kind.
func (s *Store) lookupKind(ctx context.Context, tx *sql.Tx, key, kind string) (bool, error) {
	have, err := s.lookup(ctx, tx, key)
	if err != nil {
		return false, err
	}
	if have == "" {
		return false, nil
	}
	if have != kind {
		return false, ErrWrongKind
	}
	return true, nil
}

// ensure creates key as an empty container of kind if it does not exist.
func (s *Store) ensure(ctx context.Context, tx *sql.Tx, key, kind string) error {
	ok, err := s.lookupKind(ctx, tx, key, kind)
	if err != nil || ok {
		return err
	}
	_, err = s.exec(ctx, tx, s.sb.Insert(keysTable).Columns("k", "kind", "expires").Values(key, kind, 0))
	return err
}

func (s *Store) drop(ctx context.Context, tx *sql.Tx, key string) error {
	if _, err := s.exec(ctx, tx, s.sb.Delete(itemsTable).Where(sq.Eq{"k": key})); err != nil {
		return err
	}
	_, err := s.exec(ctx, tx, s.sb.Delete(keysTable).Where(sq.Eq{"k": key}))
	return err
}

func (s *Store) count(ctx context.Context, tx *sql.Tx, key string) (int64, error) {
	var n int64
	err := s.queryRow(ctx, tx, s.sb.Select("COUNT(*)").From(itemsTable).Where(sq.Eq{"k": key}), &n)
	return n, err
}

// dropIfEmpty removes containers without elements, as Redis does.
func (s *Store) dropIfEmpty(ctx context.Context, tx *sql.Tx, key string) error {
	n, err := s.count(ctx, tx, key)
	if err != nil || n > 0 {
		return err
	}
	return s.drop(ctx, tx, key)
}

func (s *Store) appendItems(ctx context.Context, tx *sql.Tx, key string, values []string) error {
	var last int64
	err := s.queryRow(ctx, tx, s.sb.Select("COALESCE(MAX(pos), -1)").From(itemsTable).Where(sq.Eq{"k": key}), &last)
	if err != nil {
		return err
	}
	ins := s.sb.Insert(itemsTable).Columns("k", "pos", "member")
	for i, v := range values {
		ins = ins.Values(key, last+1+int64(i), v)
	}
	_, err = s.exec(ctx, tx, ins)
	return err
}

func (s *Store) Push(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	return s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.ensure(ctx, tx, key, kindList); err != nil {
			return err
		}
		return s.appendItems(ctx, tx, key, values)
	})
}

func (s *Store) Pop(ctx context.Context, key string) (string, error) {
	var v string
	err := s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ok, err := s.lookupKind(ctx, tx, key, kindList)
		if err != nil {
			return err
		}
		if !ok {
			return jobconsole.ErrNotFound
		}
		var pos int64
		q := s.sb.Select("pos", "member").From(itemsTable).Where(sq.Eq{"k": key}).OrderBy("pos").Limit(1)
		if err := s.queryRow(ctx, tx, q, &pos, &v); err != nil {
			if internal.IsNotFound(err) {
				return jobconsole.ErrNotFound
			}
			return err
		}
		if _, err := s.exec(ctx, tx, s.sb.Delete(itemsTable).Where(sq.Eq{"k": key, "pos": pos})); err != nil {
			return err
		}
		return s.dropIfEmpty(ctx, tx, key)
	})
	return v, err
}

// window resolves a Redis style range against the n elements of key
// and returns the LIMIT/OFFSET to read it.
func window(start, stop, n int64) (limit, offset uint64, ok bool) {
	lo, hi, ok := listrange.Bounds(start, stop, int(n))
	if !ok {
		return 0, 0, false
	}
	return uint64(hi - lo), uint64(lo), true
}

func (s *Store) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		out = nil
		ok, err := s.lookupKind(ctx, tx, key, kindList)
		if err != nil || !ok {
			return err
		}
		n, err := s.count(ctx, tx, key)
		if err != nil {
			return err
		}
		limit, offset, ok := window(start, stop, n)
		if !ok {
			return nil
		}
		q := s.sb.Select("member").From(itemsTable).Where(sq.Eq{"k": key}).OrderBy("pos").Limit(limit).Offset(offset)
		out, err = s.queryStrings(ctx, tx, q)
		return err
	})
	return out, err
}

func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	return s.length(ctx, key, kindList)
}

func (s *Store) length(ctx context.Context, key, kind string) (int64, error) {
	var n int64
	err := s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		n = 0
		ok, err := s.lookupKind(ctx, tx, key, kind)
		if err != nil || !ok {
			return err
		}
		n, err = s.count(ctx, tx, key)
		return err
	})
	return n, err
}

func (s *Store) ListRemove(ctx context.Context, key string, count int64, value string) (int64, error) {
	var removed int64
	err := s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		removed = 0
		ok, err := s.lookupKind(ctx, tx, key, kindList)
		if err != nil || !ok {
			return err
		}
		q := s.sb.Select("pos").From(itemsTable).Where(sq.Eq{"k": key, "member": value})
		switch {
		case count < 0:
			q = q.OrderBy("pos DESC").Limit(uint64(-count))
		case count > 0:
			q = q.OrderBy("pos").Limit(uint64(count))
		}
		positions, err := s.queryInts(ctx, tx, q)
		if err != nil {
			return err
		}
		if len(positions) == 0 {
			return nil
		}
		res, err := s.exec(ctx, tx, s.sb.Delete(itemsTable).Where(sq.Eq{"k": key, "pos": positions}))
		if err != nil {
			return err
		}
		if removed, err = res.RowsAffected(); err != nil {
			return err
		}
		return s.dropIfEmpty(ctx, tx, key)
	})
	return removed, err
}

func (s *Store) ListSet(ctx context.Context, key string, index int64, value string) error {
	return s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ok, err := s.lookupKind(ctx, tx, key, kindList)
		if err != nil {
			return err
		}
		if !ok {
			return jobconsole.ErrNotFound
		}
		n, err := s.count(ctx, tx, key)
		if err != nil {
			return err
		}
		if index < 0 {
			index += n
		}
		if index < 0 || index >= n {
			return jobconsole.ErrNotFound
		}
		var pos int64
		q := s.sb.Select("pos").From(itemsTable).Where(sq.Eq{"k": key}).OrderBy("pos").Limit(1).Offset(uint64(index))
		if err := s.queryRow(ctx, tx, q, &pos); err != nil {
			return err
		}
		_, err = s.exec(ctx, tx, s.sb.Update(itemsTable).Set("member", value).Where(sq.Eq{"k": key, "pos": pos}))
		return err
	})
}

// RewriteList replaces the list at key with the result of fn within a
// single transaction.
func (s *Store) RewriteList(ctx context.Context, key string, fn func(items []string) ([]string, error)) error {
	return s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ok, err := s.lookupKind(ctx, tx, key, kindList)
		if err != nil {
			return err
		}
		var items []string
		if ok {
			q := s.sb.Select("member").From(itemsTable).Where(sq.Eq{"k": key}).OrderBy("pos")
			if items, err = s.queryStrings(ctx, tx, q); err != nil {
				return err
			}
		}
		keep, err := fn(items)
		if err != nil {
			return err
		}
		if err := s.drop(ctx, tx, key); err != nil {
			return err
		}
		if len(keep) == 0 {
			return nil
		}
		if err := s.ensure(ctx, tx, key, kindList); err != nil {
			return err
		}
		return s.appendItems(ctx, tx, key, keep)
	})
}

func (s *Store) hasMember(ctx context.Context, tx *sql.Tx, key, member string) (bool, error) {
	var n int64
	q := s.sb.Select("COUNT(*)").From(itemsTable).Where(sq.Eq{"k": key, "member": member})
	if err := s.queryRow(ctx, tx, q, &n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.ensure(ctx, tx, key, kindSet); err != nil {
			return err
		}
		seen := make(map[string]bool)
		for _, m := range members {
			if seen[m] {
				continue
			}
			seen[m] = true
			found, err := s.hasMember(ctx, tx, key, m)
			if err != nil {
				return err
			}
			if found {
				continue
			}
			if _, err := s.exec(ctx, tx, s.sb.Insert(itemsTable).Columns("k", "member").Values(key, m)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) removeMembers(ctx context.Context, key, kind string, members []string) error {
	if len(members) == 0 {
		return nil
	}
	return s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ok, err := s.lookupKind(ctx, tx, key, kind)
		if err != nil || !ok {
			return err
		}
		if _, err := s.exec(ctx, tx, s.sb.Delete(itemsTable).Where(sq.Eq{"k": key, "member": members})); err != nil {
			return err
		}
		return s.dropIfEmpty(ctx, tx, key)
	})
}

func (s *Store) SetRemove(ctx context.Context, key string, members ...string) error {
	return s.removeMembers(ctx, key, kindSet, members)
}

func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		out = nil
		ok, err := s.lookupKind(ctx, tx, key, kindSet)
		if err != nil || !ok {
			return err
		}
		out, err = s.queryStrings(ctx, tx, s.sb.Select("member").From(itemsTable).Where(sq.Eq{"k": key}))
		return err
	})
	return out, err
}

func (s *Store) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	var found bool
	err := s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		found = false
		ok, err := s.lookupKind(ctx, tx, key, kindSet)
		if err != nil || !ok {
			return err
		}
		found, err = s.hasMember(ctx, tx, key, member)
		return err
	})
	return found, err
}

func (s *Store) SortedAdd(ctx context.Context, key string, score float64, member string) error {
	return s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.ensure(ctx, tx, key, kindSorted); err != nil {
			return err
		}
		found, err := s.hasMember(ctx, tx, key, member)
		if err != nil {
			return err
		}
		if found {
			_, err = s.exec(ctx, tx, s.sb.Update(itemsTable).Set("score", score).Where(sq.Eq{"k": key, "member": member}))
			return err
		}
		_, err = s.exec(ctx, tx, s.sb.Insert(itemsTable).Columns("k", "member", "score").Values(key, member, score))
		return err
	})
}

func (s *Store) SortedRemove(ctx context.Context, key string, members ...string) error {
	return s.removeMembers(ctx, key, kindSorted, members)
}

func (s *Store) SortedRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		out = nil
		ok, err := s.lookupKind(ctx, tx, key, kindSorted)
		if err != nil || !ok {
			return err
		}
		n, err := s.count(ctx, tx, key)
		if err != nil {
			return err
		}
		limit, offset, ok := window(start, stop, n)
		if !ok {
			return nil
		}
		q := s.sb.Select("member").From(itemsTable).Where(sq.Eq{"k": key}).OrderBy("score", "member").Limit(limit).Offset(offset)
		out, err = s.queryStrings(ctx, tx, q)
		return err
	})
	return out, err
}

func (s *Store) SortedLen(ctx context.Context, key string) (int64, error) {
	return s.length(ctx, key, kindSorted)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ok, err := s.lookupKind(ctx, tx, key, kindString)
		if err != nil {
			return err
		}
		if !ok {
			return jobconsole.ErrNotFound
		}
		return s.queryRow(ctx, tx, s.sb.Select("val").From(keysTable).Where(sq.Eq{"k": key}), &v)
	})
	return v, err
}

func (s *Store) expiresAt(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixNano()
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.drop(ctx, tx, key); err != nil {
			return err
		}
		ins := s.sb.Insert(keysTable).Columns("k", "kind", "val", "expires").Values(key, kindString, value, s.expiresAt(ttl))
		_, err := s.exec(ctx, tx, ins)
		return err
	})
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, s.sb.Delete(itemsTable).Where(sq.Eq{"k": keys})); err != nil {
			return err
		}
		_, err := s.exec(ctx, tx, s.sb.Delete(keysTable).Where(sq.Eq{"k": keys}))
		return err
	})
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var found bool
	err := s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		kind, err := s.lookup(ctx, tx, key)
		found = kind != ""
		return err
	})
	return found, err
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ok, err := s.lookupKind(ctx, tx, key, kindString)
		if err != nil {
			return err
		}
		if !ok {
			n = 1
			_, err = s.exec(ctx, tx, s.sb.Insert(keysTable).Columns("k", "kind", "val", "expires").Values(key, kindString, "1", 0))
			return err
		}
		var v string
		if err := s.queryRow(ctx, tx, s.sb.Select("val").From(keysTable).Where(sq.Eq{"k": key}), &v); err != nil {
			return err
		}
		cur, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("sqlstore: value at %s is not an integer", key)
		}
		n = cur + 1
		_, err = s.exec(ctx, tx, s.sb.Update(keysTable).Set("val", strconv.FormatInt(n, 10)).Where(sq.Eq{"k": key}))
		return err
	})
	return n, err
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		kind, err := s.lookup(ctx, tx, key)
		if err != nil || kind == "" {
			return err
		}
		if ttl <= 0 {
			return s.drop(ctx, tx, key)
		}
		_, err = s.exec(ctx, tx, s.sb.Update(keysTable).Set("expires", s.expiresAt(ttl)).Where(sq.Eq{"k": key}))
		return err
	})
}

// Keys narrows the candidates with LIKE and matches the glob on the
// results, skipping keys that have expired.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		keys = nil
		q := s.sb.Select("k", "expires").From(keysTable).
			Where(sq.Expr("k LIKE ? ESCAPE '!'", keyglob.Like(pattern, likeEscape)))
		rows, err := s.query(ctx, tx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		now := s.now().UnixNano()
		for rows.Next() {
			var (
				k       string
				expires int64
			)
			if err := rows.Scan(&k, &expires); err != nil {
				return err
			}
			if expires > 0 && expires <= now {
				continue
			}
			if keyglob.Match(pattern, k) {
				keys = append(keys, k)
			}
		}
		return rows.Err()
	})
	return keys, err
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", jobconsole.ErrStoreUnavailable, err)
	}
	return nil
}
