package gram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/topicquests/tqos-asr-api/internal/util"
	"github.com/topicquests/tqos-asr-api/pkg/logger"
	"github.com/topicquests/tqos-asr-api/pkg/txstore"
	"github.com/topicquests/tqos-asr-api/pkg/versioned"
)

// MaxRedirectHops bounds redirect resolution. Commit never writes chains,
// so anything longer than one hop already points at corruption.
const MaxRedirectHops = 8

var Table = versioned.Table{Name: "word_grams", Key: "id"}

const selectSQL = `SELECT id, version, data FROM word_grams`

func (g *WordGram) Key() string {
	return g.id
}

// Columns returns the full persisted row. The scalar columns are projections
// of data kept for constraints and indexes.
func (g *WordGram) Columns() ([]versioned.Column, error) {
	raw, err := json.Marshal(g.d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode word gram %s: %w", g.id, err)
	}
	return []versioned.Column{
		{Name: "words", Value: g.d.Words},
		{Name: "gram_size", Value: g.d.Size},
		{Name: "redirect_to", Value: nullable(g.d.RedirectTo)},
		{Name: "contradiction_id", Value: nullable(g.d.ContradictionID)},
		{Name: "data", Value: raw},
	}, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func decode(id string, version int64, raw []byte) (*WordGram, error) {
	g := &WordGram{id: id}
	if err := json.Unmarshal(raw, &g.d); err != nil {
		return nil, fmt.Errorf("failed to decode word gram %s: %w", id, err)
	}
	g.env.Loaded(version)
	g.loadedRedirect = g.d.RedirectTo
	return g, nil
}

func selectOne(ctx context.Context, s *txstore.Store, r *txstore.Result, query string, args ...any) (*WordGram, error) {
	var g *WordGram
	err := s.ExecuteSelect(ctx, r, query, args, func(row txstore.Scanner) error {
		var (
			id      string
			version int64
			raw     []byte
		)
		if err := row.Scan(&id, &version, &raw); err != nil {
			return err
		}
		var err error
		g, err = decode(id, version, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Create persists a new vertex and returns its id.
func Create(ctx context.Context, s *txstore.Store, r *txstore.Result, words string, size int) (string, error) {
	id, err := util.NewID("wg")
	if err != nil {
		r.AddError(err)
		return "", err
	}
	g, err := New(id, words, size)
	if err != nil {
		r.AddError(err)
		return "", err
	}
	if err := Commit(ctx, s, r, g); err != nil {
		return "", err
	}
	r.SetObject(id)
	return id, nil
}

// Load reads the vertex stored under id as is, redirect included. It
// returns nil, nil when id is unknown.
func Load(ctx context.Context, s *txstore.Store, r *txstore.Result, id string) (*WordGram, error) {
	return selectOne(ctx, s, r, selectSQL+` WHERE id = $1`, id)
}

// LoadForUpdate is Load that also locks the row for the rest of the open
// transaction where the dialect supports it.
func LoadForUpdate(ctx context.Context, s *txstore.Store, r *txstore.Result, id string) (*WordGram, error) {
	q := selectSQL + ` WHERE id = $1`
	if s.InTransaction() {
		q += s.Dialect().LockClause()
	}
	return selectOne(ctx, s, r, q, id)
}

// FindByWords looks a vertex up by its surface text.
func FindByWords(ctx context.Context, s *txstore.Store, r *txstore.Result, words string) (*WordGram, error) {
	return selectOne(ctx, s, r, selectSQL+` WHERE words = $1`, words)
}

// Resolve follows redirects from id to the canonical vertex. It returns
// nil, nil when id itself is unknown.
func Resolve(ctx context.Context, s *txstore.Store, r *txstore.Result, id string) (*WordGram, error) {
	seen := make(map[string]struct{}, 2)
	cur := id
	for hop := 0; hop <= MaxRedirectHops; hop++ {
		g, err := Load(ctx, s, r, cur)
		if err != nil {
			return nil, err
		}
		if g == nil {
			if hop == 0 {
				return nil, nil
			}
			return nil, corrupt(r, id, fmt.Sprintf("dangling redirect to %s", cur))
		}
		if !g.HasRedirect() {
			return g, nil
		}
		seen[cur] = struct{}{}
		cur = g.RedirectToID()
		if _, ok := seen[cur]; ok {
			return nil, corrupt(r, id, fmt.Sprintf("cycle through %s", cur))
		}
	}
	return nil, corrupt(r, id, fmt.Sprintf("more than %d hops", MaxRedirectHops))
}

func corrupt(r *txstore.Result, id, detail string) error {
	err := fmt.Errorf("%w: %s: %s", ErrCorruptRedirectChain, id, detail)
	logger.Error("[Gram] corrupt redirect chain", "id", id, "detail", detail)
	r.AddError(err)
	return err
}

// Commit writes g under the optimistic-lock discipline.
//
// A vertex loaded with a redirect is merged away and cannot be written;
// Commit returns a *RedirectedError naming the canonical target. A redirect
// set since load is first resolved to the canonical vertex, so chains are
// never stored.
func Commit(ctx context.Context, s *txstore.Store, r *txstore.Result, g *WordGram) error {
	if g.loadedRedirect != "" {
		err := &RedirectedError{ID: g.id, Target: g.loadedRedirect}
		r.AddError(err)
		return err
	}
	if g.d.RedirectTo == "" {
		return versioned.Commit(ctx, s, r, Table, g)
	}

	target, err := Resolve(ctx, s, r, g.d.RedirectTo)
	if err != nil {
		return err
	}
	if target == nil {
		err := fmt.Errorf("%w: redirect target %s", ErrNotFound, g.d.RedirectTo)
		r.AddError(err)
		return err
	}
	if target.id == g.id {
		err := fmt.Errorf("%w: %s resolves back to itself", ErrSelfRedirect, g.id)
		r.AddError(err)
		return err
	}

	requested := g.d.RedirectTo
	g.d.RedirectTo = target.id
	if err := versioned.Commit(ctx, s, r, Table, g); err != nil {
		g.d.RedirectTo = requested
		return err
	}
	g.loadedRedirect = target.id
	if requested != target.id {
		logger.Debug("[Gram] redirect collapsed to canonical vertex", "id", g.id, "requested", requested, "target", target.id)
	}
	return nil
}

// Update resolves id, applies fn to the canonical vertex and commits it,
// retrying up to tries times when another writer got there first.
func Update(
	ctx context.Context,
	s *txstore.Store,
	r *txstore.Result,
	id string,
	fn func(*WordGram) error,
	tries int,
) (*WordGram, error) {
	g, err := util.RetryIfWithContext(ctx, tries, isStale, func(ctx context.Context) (*WordGram, error) {
		attempt := txstore.NewResult()
		g, err := Resolve(ctx, s, attempt, id)
		if err != nil {
			return nil, err
		}
		if g == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := fn(g); err != nil {
			return nil, err
		}
		if err := Commit(ctx, s, attempt, g); err != nil {
			return nil, err
		}
		r.AddRows(attempt.RowsAffected)
		return g, nil
	})
	if err != nil {
		r.AddError(err)
		return nil, err
	}
	return g, nil
}

func isStale(err error) bool {
	return errors.Is(err, versioned.ErrStaleVersion)
}
