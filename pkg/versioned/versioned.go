// Package versioned implements optimistic locking for persisted entities.
//
// Every commit writes the full row and is conditioned on the version read at
// load time. There is no field-level diffing.
package versioned

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/topicquests/tqos-asr-api/pkg/txstore"
)

// ErrStaleVersion is returned when a commit presents a version that is no
// longer current. The caller must reload and retry.
var ErrStaleVersion = errors.New("stale version")

// Envelope tracks the version of an entity. The zero value is a new entity.
type Envelope struct {
	version   int64
	persisted bool
}

// CurrentVersion is the version last read from or written to the store.
func (e *Envelope) CurrentVersion() int64 {
	return e.version
}

// MarkNew flags the entity as never persisted.
func (e *Envelope) MarkNew() {
	e.version = 0
	e.persisted = false
}

func (e *Envelope) IsNew() bool {
	return !e.persisted
}

// Loaded records that the entity was read from the store at version v.
func (e *Envelope) Loaded(v int64) {
	e.version = v
	e.persisted = true
}

// Column is one persisted attribute.
type Column struct {
	Name  string
	Value any
}

// Record is an entity that can be committed.
type Record interface {
	Envelope() *Envelope
	Key() string
	// Columns returns the complete attribute set, excluding the key and
	// version columns.
	Columns() ([]Column, error)
}

// Table names the table backing a record type and its key column.
type Table struct {
	Name string
	Key  string
}

// Commit persists rec. A new record is inserted at version 1. A loaded record
// is rewritten only if the stored version still matches; otherwise Commit
// returns ErrStaleVersion and leaves rec untouched.
func Commit(ctx context.Context, s *txstore.Store, r *txstore.Result, t Table, rec Record) error {
	cols, err := rec.Columns()
	if err != nil {
		r.AddError(err)
		return err
	}
	env := rec.Envelope()

	if env.IsNew() {
		if _, err := s.Execute(ctx, r, insertSQL(t, cols), insertArgs(rec.Key(), cols)...); err != nil {
			return err
		}
		env.Loaded(1)
		return nil
	}

	current := env.CurrentVersion()
	args := make([]any, 0, len(cols)+3)
	args = append(args, current+1)
	for _, c := range cols {
		args = append(args, c.Value)
	}
	args = append(args, rec.Key(), current)

	n, err := s.Execute(ctx, r, updateSQL(t, cols), args...)
	if err != nil {
		return err
	}
	if n == 0 {
		err := fmt.Errorf("%w: %s %s at version %d", ErrStaleVersion, t.Name, rec.Key(), current)
		r.AddError(err)
		return err
	}
	env.Loaded(current + 1)
	return nil
}

func insertSQL(t Table, cols []Column) string {
	names := []string{t.Key, "version"}
	holders := []string{"$1", "1"}
	for i, c := range cols {
		names = append(names, c.Name)
		holders = append(holders, fmt.Sprintf("$%d", i+2))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.Name, strings.Join(names, ", "), strings.Join(holders, ", "))
}

func insertArgs(key string, cols []Column) []any {
	args := make([]any, 0, len(cols)+1)
	args = append(args, key)
	for _, c := range cols {
		args = append(args, c.Value)
	}
	return args
}

func updateSQL(t Table, cols []Column) string {
	sets := []string{"version = $1"}
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c.Name, i+2))
	}
	n := len(cols) + 2
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d AND version = $%d",
		t.Name, strings.Join(sets, ", "), t.Key, n, n+1)
}
