// Package txstore provides transactional, role-scoped statement execution
// over a single database connection.
//
// A Store wraps exactly one connection and is not safe for concurrent use.
// Concurrent workers each open their own Store.
package txstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/topicquests/tqos-asr-api/pkg/logger"
)

const stmtSavepoint = "tq_stmt"

var savepointName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Savepoint is a rollback point inside the current transaction.
type Savepoint struct {
	name string
}

func (sp Savepoint) Name() string {
	return sp.name
}

type savepoint struct {
	name string
	role Role
}

// Statement is one parameterized statement of an ExecuteMulti call.
type Statement struct {
	SQL  string
	Args []any
}

type Store struct {
	conn    conn
	dialect Dialect

	inTx          bool
	indeterminate bool
	lost          bool
	closed        bool
	savepoints    []savepoint
	spSeq         int

	role   Role
	txRole Role
}

// Open connects to dsn. postgres:// and postgresql:// URLs use pgx,
// sqlite://<path> and file: DSNs use the embedded SQLite driver.
func Open(ctx context.Context, dsn string) (*Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		c, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return NewPostgres(c), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "file:"):
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database url %q", dsn)
	}
}

// NewPostgres wraps an established pgx connection. The Store owns c from now
// on and closes it in Close.
func NewPostgres(c *pgx.Conn) *Store {
	return &Store{conn: &pgxConn{c: c}, dialect: Postgres}
}

// OpenSQLite opens path and pins a single connection to it.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	c, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open sqlite connection: %w", err)
	}
	return &Store{conn: &sqlConn{db: db, c: c}, dialect: SQLite}, nil
}

// SQLiteDSN adds the pragmas every store connection needs.
func SQLiteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) InTransaction() bool {
	return s.inTx
}

// Role returns the active role, or "" for the connection's own identity.
func (s *Store) Role() Role {
	return s.role
}

// Close closes the connection. An open transaction is rolled back by the
// database.
func (s *Store) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.lost = true
	s.inTx = false
	s.savepoints = nil
	return s.conn.close(ctx)
}

func (s *Store) BeginTransaction(ctx context.Context, r *Result) error {
	if err := s.usable(); err != nil {
		r.AddError(err)
		return err
	}
	if s.inTx {
		err := fmt.Errorf("%w: transaction already open", ErrTransactionState)
		r.AddError(err)
		return err
	}
	if err := s.raw(ctx, r, s.dialect.BeginSQL()); err != nil {
		return err
	}
	s.inTx = true
	s.txRole = s.role
	s.savepoints = s.savepoints[:0]
	return nil
}

// EndTransaction commits the open transaction.
func (s *Store) EndTransaction(ctx context.Context, r *Result) error {
	if err := s.usable(); err != nil {
		r.AddError(err)
		return err
	}
	if !s.inTx {
		r.AddError(ErrNoActiveTransaction)
		return ErrNoActiveTransaction
	}
	err := s.raw(ctx, r, "COMMIT")
	if err != nil && s.dialect.AbortsOnError() {
		// postgres ends the transaction even when COMMIT fails
		s.endTx(s.txRole)
		return err
	}
	if err != nil {
		return err
	}
	s.endTx(s.role)
	return nil
}

// Rollback aborts the whole transaction. It is the only call accepted while
// a transaction is indeterminate.
func (s *Store) Rollback(ctx context.Context, r *Result) error {
	if s.lost {
		r.AddError(ErrConnectionLost)
		return ErrConnectionLost
	}
	if !s.inTx {
		r.AddError(ErrNoActiveTransaction)
		return ErrNoActiveTransaction
	}
	err := s.raw(ctx, r, "ROLLBACK")
	if err != nil && !s.lost && ctx.Err() != nil {
		// the transaction may still be open; roll back again with a live
		// context
		return err
	}
	s.indeterminate = false
	s.endTx(s.txRole)
	return err
}

func (s *Store) endTx(role Role) {
	s.inTx = false
	s.savepoints = s.savepoints[:0]
	s.role = role
}

// SetSavepoint creates a savepoint. An empty name generates one.
func (s *Store) SetSavepoint(ctx context.Context, r *Result, name string) (Savepoint, error) {
	if err := s.usable(); err != nil {
		r.AddError(err)
		return Savepoint{}, err
	}
	if !s.inTx {
		r.AddError(ErrNoActiveTransaction)
		return Savepoint{}, ErrNoActiveTransaction
	}
	if name == "" {
		s.spSeq++
		name = fmt.Sprintf("sp_%d", s.spSeq)
	}
	if !savepointName.MatchString(name) || name == stmtSavepoint {
		err := fmt.Errorf("invalid savepoint name %q", name)
		r.AddError(err)
		return Savepoint{}, err
	}
	if err := s.raw(ctx, r, "SAVEPOINT "+name); err != nil {
		return Savepoint{}, err
	}
	s.savepoints = append(s.savepoints, savepoint{name: name, role: s.role})
	return Savepoint{name: name}, nil
}

// RollbackTo undoes the work done since sp. The transaction and sp stay
// open.
func (s *Store) RollbackTo(ctx context.Context, r *Result, sp Savepoint) error {
	if s.lost {
		r.AddError(ErrConnectionLost)
		return ErrConnectionLost
	}
	if !s.inTx {
		r.AddError(ErrNoActiveTransaction)
		return ErrNoActiveTransaction
	}
	i := s.findSavepoint(sp.name)
	if i < 0 {
		err := fmt.Errorf("%w: %s", ErrUnknownSavepoint, sp.name)
		r.AddError(err)
		return err
	}
	if err := s.raw(ctx, r, "ROLLBACK TO SAVEPOINT "+sp.name); err != nil {
		return err
	}
	s.indeterminate = false
	s.role = s.savepoints[i].role
	s.savepoints = s.savepoints[:i+1]
	return nil
}

// Release discards sp and every savepoint set after it, keeping their work.
func (s *Store) Release(ctx context.Context, r *Result, sp Savepoint) error {
	if err := s.usable(); err != nil {
		r.AddError(err)
		return err
	}
	if !s.inTx {
		r.AddError(ErrNoActiveTransaction)
		return ErrNoActiveTransaction
	}
	i := s.findSavepoint(sp.name)
	if i < 0 {
		err := fmt.Errorf("%w: %s", ErrUnknownSavepoint, sp.name)
		r.AddError(err)
		return err
	}
	if err := s.raw(ctx, r, "RELEASE SAVEPOINT "+sp.name); err != nil {
		return err
	}
	s.savepoints = s.savepoints[:i]
	return nil
}

func (s *Store) findSavepoint(name string) int {
	for i := len(s.savepoints) - 1; i >= 0; i-- {
		if s.savepoints[i].name == name {
			return i
		}
	}
	return -1
}

// SetRole switches the privilege scope of subsequent statements.
func (s *Store) SetRole(ctx context.Context, r *Result, role Role) error {
	if err := s.usable(); err != nil {
		r.AddError(err)
		return err
	}
	if _, ok := knownRoles[role]; !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownRole, role)
		r.AddError(err)
		return err
	}
	if q := s.dialect.SetRoleSQL(role); q != "" {
		if err := s.raw(ctx, r, q); err != nil {
			return err
		}
	}
	s.role = role
	return nil
}

// ResetRole restores the connection's original identity.
func (s *Store) ResetRole(ctx context.Context, r *Result) error {
	if err := s.usable(); err != nil {
		r.AddError(err)
		return err
	}
	if q := s.dialect.ResetRoleSQL(); q != "" {
		if err := s.raw(ctx, r, q); err != nil {
			return err
		}
	}
	s.role = ""
	return nil
}

// WithRole runs fn under role and restores the previous role afterwards.
func (s *Store) WithRole(ctx context.Context, r *Result, role Role, fn func() error) error {
	prev := s.role
	if err := s.SetRole(ctx, r, role); err != nil {
		return err
	}
	fnErr := fn()

	var restoreErr error
	if prev == "" {
		restoreErr = s.ResetRole(ctx, r)
	} else {
		restoreErr = s.SetRole(ctx, r, prev)
	}
	return errors.Join(fnErr, restoreErr)
}

// Execute runs one statement and returns the number of affected rows.
func (s *Store) Execute(ctx context.Context, r *Result, query string, args ...any) (int64, error) {
	var n int64
	err := s.guarded(ctx, r, query, true, func(ctx context.Context) error {
		var err error
		n, err = s.conn.exec(ctx, s.dialect.Rebind(query), args...)
		return err
	})
	if err != nil {
		return 0, err
	}
	r.AddRows(n)
	return n, nil
}

// ExecuteBatch runs query once per parameter set. Either every set is
// applied or none is.
func (s *Store) ExecuteBatch(ctx context.Context, r *Result, query string, paramSets [][]any) (int64, error) {
	stmts := make([]Statement, len(paramSets))
	for i, args := range paramSets {
		stmts[i] = Statement{SQL: query, Args: args}
	}
	return s.ExecuteMulti(ctx, r, stmts...)
}

// ExecuteMulti runs stmts in order, all or nothing. Inside a transaction the
// statements run under an internal savepoint, otherwise in a transaction of
// their own.
func (s *Store) ExecuteMulti(ctx context.Context, r *Result, stmts ...Statement) (int64, error) {
	if len(stmts) == 0 {
		return 0, nil
	}
	for _, st := range stmts {
		if err := s.checkRole(st.SQL); err != nil {
			r.AddError(err)
			return 0, err
		}
	}

	ownTx := !s.inTx
	var sp Savepoint
	if ownTx {
		if err := s.BeginTransaction(ctx, r); err != nil {
			return 0, err
		}
	} else {
		var err error
		if sp, err = s.SetSavepoint(ctx, r, ""); err != nil {
			return 0, err
		}
	}

	var total int64
	for i, st := range stmts {
		err := s.guarded(ctx, r, st.SQL, false, func(ctx context.Context) error {
			n, err := s.conn.exec(ctx, s.dialect.Rebind(st.SQL), st.Args...)
			total += n
			return err
		})
		if err != nil {
			logger.Debug("[Store] batch statement failed", "index", i, "err", err)
			if errors.Is(err, ErrConnectionLost) {
				return 0, err
			}
			rbCtx := context.WithoutCancel(ctx)
			if ownTx {
				_ = s.Rollback(rbCtx, r)
			} else {
				_ = s.RollbackTo(rbCtx, r, sp)
				_ = s.Release(rbCtx, r, sp)
			}
			return 0, err
		}
	}

	if ownTx {
		if err := s.EndTransaction(ctx, r); err != nil {
			if s.inTx {
				_ = s.Rollback(context.WithoutCancel(ctx), r)
			}
			return 0, err
		}
	} else if err := s.Release(ctx, r, sp); err != nil {
		return 0, err
	}
	r.AddRows(total)
	return total, nil
}

// ExecuteSelect runs query and calls fn for every returned row. fn must not
// issue statements on the same store; collect rows first and act afterwards.
func (s *Store) ExecuteSelect(ctx context.Context, r *Result, query string, args []any, fn func(Scanner) error) error {
	return s.guarded(ctx, r, query, true, func(ctx context.Context) error {
		rows, err := s.conn.query(ctx, s.dialect.Rebind(query), args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			if err := fn(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

// ExecuteCount runs a query returning a single integer, typically
// SELECT COUNT(*).
func (s *Store) ExecuteCount(ctx context.Context, r *Result, query string, args ...any) (int64, error) {
	var n int64
	err := s.ExecuteSelect(ctx, r, query, args, func(row Scanner) error {
		return row.Scan(&n)
	})
	return n, err
}

func (s *Store) usable() error {
	if s.lost || s.conn.closed() {
		s.lost = true
		return ErrConnectionLost
	}
	if s.indeterminate {
		return fmt.Errorf("%w: transaction is indeterminate after a cancelled call, roll back first", ErrTransactionState)
	}
	return nil
}

func (s *Store) checkRole(query string) error {
	if s.role.ReadOnly() && isWrite(query) {
		return fmt.Errorf("%w: %s", ErrReadOnlyRole, s.role)
	}
	return nil
}

// guarded runs a caller statement. Inside a transaction on a dialect that
// aborts on error, the statement runs under an implicit savepoint so a
// failure leaves the transaction usable.
func (s *Store) guarded(ctx context.Context, r *Result, query string, implicit bool, fn func(context.Context) error) error {
	if err := s.usable(); err != nil {
		r.AddError(err)
		return err
	}
	if err := s.checkRole(query); err != nil {
		r.AddError(err)
		return err
	}

	guard := implicit && s.inTx && s.dialect.AbortsOnError()
	if guard {
		if err := s.raw(ctx, r, "SAVEPOINT "+stmtSavepoint); err != nil {
			return err
		}
	}

	if err := fn(ctx); err != nil {
		err = s.classify(ctx, err)
		if guard && !errors.Is(err, ErrConnectionLost) && ctx.Err() == nil {
			if rbErr := s.raw(ctx, nil, "ROLLBACK TO SAVEPOINT "+stmtSavepoint); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
		}
		r.AddError(err)
		return err
	}

	if guard {
		return s.raw(ctx, r, "RELEASE SAVEPOINT "+stmtSavepoint)
	}
	return nil
}

// raw runs a control statement directly on the connection.
func (s *Store) raw(ctx context.Context, r *Result, query string) error {
	if _, err := s.conn.exec(ctx, query); err != nil {
		err = s.classify(ctx, err)
		r.AddError(err)
		return err
	}
	return nil
}

func (s *Store) classify(ctx context.Context, err error) error {
	if s.conn.closed() || s.dialect.IsConnectionLost(err) {
		if s.inTx {
			logger.Warn("[Store] connection lost inside transaction", "dialect", s.dialect.Name())
		}
		s.lost = true
		s.inTx = false
		s.savepoints = nil
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	if ctx.Err() != nil && s.inTx {
		s.indeterminate = true
		return err
	}
	if s.dialect.IsConstraint(err) {
		return fmt.Errorf("%w: %w", ErrConstraint, err)
	}
	if s.dialect.IsConflict(err) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}
