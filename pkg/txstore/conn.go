package txstore

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
)

// conn is the single physical connection behind a Store.
type conn interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	query(ctx context.Context, query string, args ...any) (rows, error)
	close(ctx context.Context) error
	closed() bool
}

type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Scanner reads the current row of an ExecuteSelect call.
type Scanner interface {
	Scan(dest ...any) error
}

type pgxConn struct {
	c *pgx.Conn
}

func (p *pgxConn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := p.c.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *pgxConn) query(ctx context.Context, query string, args ...any) (rows, error) {
	return p.c.Query(ctx, query, args...)
}

func (p *pgxConn) close(ctx context.Context) error {
	return p.c.Close(ctx)
}

func (p *pgxConn) closed() bool {
	return p.c.IsClosed()
}

type sqlConn struct {
	db   *sql.DB
	c    *sql.Conn
	dead bool
}

func (s *sqlConn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.c.ExecContext(ctx, query, args...)
	if err != nil {
		s.check(err)
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqlConn) query(ctx context.Context, query string, args ...any) (rows, error) {
	r, err := s.c.QueryContext(ctx, query, args...)
	if err != nil {
		s.check(err)
		return nil, err
	}
	return sqlRows{r}, nil
}

func (s *sqlConn) check(err error) {
	if SQLite.IsConnectionLost(err) {
		s.dead = true
	}
}

func (s *sqlConn) close(context.Context) error {
	s.dead = true
	cerr := s.c.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return cerr
}

func (s *sqlConn) closed() bool {
	return s.dead
}

type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() {
	_ = r.Rows.Close()
}
