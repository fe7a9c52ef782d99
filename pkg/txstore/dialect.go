package txstore

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect captures the behaviour that differs between backing databases.
type Dialect interface {
	Name() string
	// BeginSQL is the statement that opens a transaction.
	BeginSQL() string
	// SetRoleSQL returns the statement switching to role, or "" when the
	// database has no notion of roles.
	SetRoleSQL(role Role) string
	ResetRoleSQL() string
	// AbortsOnError reports whether a failed statement poisons the whole
	// transaction until it is rolled back.
	AbortsOnError() bool
	// LockClause is appended to SELECTs that must lock their rows for the
	// rest of the transaction.
	LockClause() string
	// Rebind rewrites $n placeholders into the dialect's form.
	Rebind(query string) string
	IsConstraint(err error) bool
	// IsConflict reports deadlocks, serialization failures and lock
	// timeouts.
	IsConflict(err error) bool
	IsConnectionLost(err error) bool
}

type postgresDialect struct{}

// Postgres is the dialect of the production store.
var Postgres Dialect = postgresDialect{}

func (postgresDialect) Name() string     { return "postgres" }
func (postgresDialect) BeginSQL() string { return "BEGIN" }

func (postgresDialect) SetRoleSQL(role Role) string {
	return "SET ROLE " + string(role)
}

func (postgresDialect) ResetRoleSQL() string   { return "RESET ROLE" }
func (postgresDialect) AbortsOnError() bool    { return true }
func (postgresDialect) LockClause() string     { return " FOR UPDATE" }
func (postgresDialect) Rebind(q string) string { return q }

func (postgresDialect) IsConstraint(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 23: integrity constraint violation
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}

func (postgresDialect) IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func (postgresDialect) IsConnectionLost(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

type sqliteDialect struct{}

// SQLite is the embedded dialect used for local runs and tests.
var SQLite Dialect = sqliteDialect{}

func (sqliteDialect) Name() string { return "sqlite" }

// BEGIN IMMEDIATE takes the write lock up front so two writers never
// deadlock upgrading a shared lock.
func (sqliteDialect) BeginSQL() string       { return "BEGIN IMMEDIATE" }
func (sqliteDialect) SetRoleSQL(Role) string { return "" }
func (sqliteDialect) ResetRoleSQL() string   { return "" }
func (sqliteDialect) AbortsOnError() bool    { return false }
func (sqliteDialect) LockClause() string     { return "" }

// Rebind turns $1 into ?1, leaving quoted literals alone.
func (sqliteDialect) Rebind(q string) string {
	if !strings.Contains(q, "$") {
		return q
	}
	var b strings.Builder
	b.Grow(len(q))
	inQuote := false
	for i := 0; i < len(q); i++ {
		c := q[i]
		if c == '\'' {
			inQuote = !inQuote
		}
		if c == '$' && !inQuote && i+1 < len(q) && q[i+1] >= '0' && q[i+1] <= '9' {
			b.WriteByte('?')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (sqliteDialect) IsConstraint(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

// IsConflict is true for SQLITE_BUSY, returned once busy_timeout has run
// out waiting for another writer.
func (sqliteDialect) IsConflict(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_BUSY
	}
	return false
}

func (sqliteDialect) IsConnectionLost(err error) bool {
	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}
