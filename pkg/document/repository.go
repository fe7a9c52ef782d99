package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/topicquests/tqos-asr-api/internal/util"
	"github.com/topicquests/tqos-asr-api/pkg/txstore"
	"github.com/topicquests/tqos-asr-api/pkg/versioned"
)

var Table = versioned.Table{Name: "documents", Key: "id"}

const selectSQL = `SELECT id, version, creator_id, url, created_at, edited_at, data FROM documents`

var now = time.Now

func (d *Document) Key() string {
	return d.id
}

func (d *Document) Columns() ([]versioned.Column, error) {
	raw, err := json.Marshal(d.d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document %s: %w", d.id, err)
	}
	return []versioned.Column{
		{Name: "creator_id", Value: d.creatorID},
		{Name: "url", Value: d.url},
		{Name: "created_at", Value: d.createdAt},
		{Name: "edited_at", Value: d.editedAt},
		{Name: "data", Value: raw},
	}, nil
}

func selectOne(ctx context.Context, s *txstore.Store, r *txstore.Result, query string, args ...any) (*Document, error) {
	var doc *Document
	err := s.ExecuteSelect(ctx, r, query, args, func(row txstore.Scanner) error {
		var (
			d       Document
			version int64
			raw     []byte
		)
		if err := row.Scan(&d.id, &version, &d.creatorID, &d.url, &d.createdAt, &d.editedAt, &raw); err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &d.d); err != nil {
			return fmt.Errorf("failed to decode document %s: %w", d.id, err)
		}
		d.env.Loaded(version)
		doc = &d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Create persists a new document for sourceLocator and returns its id. A
// second document for the same locator fails with txstore.ErrConstraint.
func Create(ctx context.Context, s *txstore.Store, r *txstore.Result, sourceLocator, creatorID string) (string, error) {
	id, err := util.NewID("doc")
	if err != nil {
		r.AddError(err)
		return "", err
	}
	d, err := New(id, sourceLocator, creatorID)
	if err != nil {
		r.AddError(err)
		return "", err
	}
	if err := Commit(ctx, s, r, d); err != nil {
		return "", err
	}
	r.SetObject(id)
	return id, nil
}

// Load returns nil, nil when id is unknown.
func Load(ctx context.Context, s *txstore.Store, r *txstore.Result, id string) (*Document, error) {
	return selectOne(ctx, s, r, selectSQL+` WHERE id = $1`, id)
}

func FindByURL(ctx context.Context, s *txstore.Store, r *txstore.Result, url string) (*Document, error) {
	return selectOne(ctx, s, r, selectSQL+` WHERE url = $1`, url)
}

// Commit stamps the edit time and writes d under the optimistic-lock
// discipline.
func Commit(ctx context.Context, s *txstore.Store, r *txstore.Result, d *Document) error {
	created, edited := d.createdAt, d.editedAt
	ts := now().UnixMilli()
	if d.createdAt == 0 {
		d.createdAt = ts
	}
	d.editedAt = ts
	if err := versioned.Commit(ctx, s, r, Table, d); err != nil {
		d.createdAt, d.editedAt = created, edited
		return err
	}
	return nil
}

// Update loads id, applies fn and commits, retrying up to tries times when
// another writer got there first.
func Update(
	ctx context.Context,
	s *txstore.Store,
	r *txstore.Result,
	id string,
	fn func(*Document) error,
	tries int,
) (*Document, error) {
	d, err := util.RetryIfWithContext(ctx, tries, isStale, func(ctx context.Context) (*Document, error) {
		attempt := txstore.NewResult()
		d, err := Load(ctx, s, attempt, id)
		if err != nil {
			return nil, err
		}
		if d == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := fn(d); err != nil {
			return nil, err
		}
		if err := Commit(ctx, s, attempt, d); err != nil {
			return nil, err
		}
		r.AddRows(attempt.RowsAffected)
		return d, nil
	})
	if err != nil {
		r.AddError(err)
		return nil, err
	}
	return d, nil
}

func isStale(err error) bool {
	return errors.Is(err, versioned.ErrStaleVersion)
}
