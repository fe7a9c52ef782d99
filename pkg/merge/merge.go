// Package merge collapses one word-gram vertex into another.
//
// A merge copies the list-valued state of the merged vertex into the
// canonical one, installs a one-shot redirect and repoints contradiction
// links, all inside one transaction. Readers of the merged id follow the
// redirect.
package merge

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/topicquests/tqos-asr-api/internal/util"
	"github.com/topicquests/tqos-asr-api/pkg/gram"
	"github.com/topicquests/tqos-asr-api/pkg/logger"
	"github.com/topicquests/tqos-asr-api/pkg/txstore"
	"github.com/topicquests/tqos-asr-api/pkg/versioned"
)

var (
	// ErrMergeConflict means the merge lost a race with another writer. The
	// caller should retry from resolution.
	ErrMergeConflict  = errors.New("merge conflict")
	ErrVertexNotFound = errors.New("vertex not found")
)

type Options struct {
	// MaxRetries bounds MergeWithRetry. Defaults to 3.
	MaxRetries int
}

// Outcome describes a finished merge.
type Outcome struct {
	Canonical string
	Merged    string
	// NoOp is set when both ids already resolved to the same vertex.
	NoOp bool
	// Rewritten lists vertices whose contradiction link was repointed from
	// Merged to Canonical.
	Rewritten []string
}

// beforeCommit, when set, runs after both vertices are locked and updated
// in memory.
var beforeCommit func(ctx context.Context, a, b *gram.WordGram) error

// Engine runs merges on one store. Like the store, it is not safe for
// concurrent use.
type Engine struct {
	store *txstore.Store
	opts  Options
}

func New(store *txstore.Store, opts Options) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Engine{store: store, opts: opts}
}

// Merge folds idB into idA. Both ids are resolved first, so either may name
// an already merged vertex. When the store has an open transaction the merge
// runs under a savepoint inside it, otherwise in its own transaction.
func (e *Engine) Merge(ctx context.Context, r *txstore.Result, idA, idB string) (Outcome, error) {
	s := e.store
	ownTx := !s.InTransaction()
	var sp txstore.Savepoint
	if ownTx {
		if err := s.BeginTransaction(ctx, r); err != nil {
			return Outcome{}, err
		}
	} else {
		var err error
		if sp, err = s.SetSavepoint(ctx, r, ""); err != nil {
			return Outcome{}, err
		}
	}

	abort := func(err error) (Outcome, error) {
		if errors.Is(err, txstore.ErrConnectionLost) {
			return Outcome{}, err
		}
		// the merge's own context may be the reason for the failure
		rbCtx := context.WithoutCancel(ctx)
		var rbErr error
		if ownTx {
			rbErr = s.Rollback(rbCtx, r)
		} else {
			rbErr = errors.Join(s.RollbackTo(rbCtx, r, sp), s.Release(rbCtx, r, sp))
		}
		if rbErr != nil {
			logger.Error("[Merge] failed to roll back merge", "canonical", idA, "merged", idB, "err", rbErr)
		}
		return Outcome{}, err
	}

	out, err := e.merge(ctx, r, idA, idB)
	if err != nil {
		return abort(asConflict(err))
	}

	if ownTx {
		err = s.EndTransaction(ctx, r)
	} else {
		err = s.Release(ctx, r, sp)
	}
	if err != nil {
		if ownTx && s.InTransaction() {
			return abort(asConflict(err))
		}
		return Outcome{}, asConflict(err)
	}

	if !out.NoOp {
		logger.Info("[Merge] merged vertex", "canonical", out.Canonical, "merged", out.Merged, "rewritten", len(out.Rewritten))
	}
	return out, nil
}

// MergeWithRetry repeats Merge after ErrMergeConflict, re-resolving both ids
// each time.
func (e *Engine) MergeWithRetry(ctx context.Context, r *txstore.Result, idA, idB string) (Outcome, error) {
	out, err := util.RetryIfWithContext(ctx, e.opts.MaxRetries, isConflict, func(ctx context.Context) (Outcome, error) {
		attempt := txstore.NewResult()
		out, err := e.Merge(ctx, attempt, idA, idB)
		if err != nil {
			if isConflict(err) {
				logger.Debug("[Merge] conflict, retrying", "canonical", idA, "merged", idB)
			}
			return Outcome{}, err
		}
		r.AddRows(attempt.RowsAffected)
		r.SetObject(out)
		return out, nil
	})
	if err != nil {
		r.AddError(err)
		return Outcome{}, err
	}
	return out, nil
}

func isConflict(err error) bool {
	return errors.Is(err, ErrMergeConflict)
}

// asConflict reports lost optimistic-lock races, deadlocks and
// serialization failures as ErrMergeConflict.
func asConflict(err error) error {
	if isConflict(err) {
		return err
	}
	if errors.Is(err, versioned.ErrStaleVersion) || errors.Is(err, txstore.ErrConflict) {
		return fmt.Errorf("%w: %w", ErrMergeConflict, err)
	}
	return err
}

func (e *Engine) merge(ctx context.Context, r *txstore.Result, idA, idB string) (Outcome, error) {
	ra, err := e.resolve(ctx, r, idA)
	if err != nil {
		return Outcome{}, err
	}
	rb, err := e.resolve(ctx, r, idB)
	if err != nil {
		return Outcome{}, err
	}
	if ra == rb {
		return Outcome{Canonical: ra, Merged: rb, NoOp: true}, nil
	}

	// rows are locked in id order so merges of (a, b) and (b, a) queue
	// behind each other
	locked := make(map[string]*gram.WordGram, 2)
	for _, id := range slices.Sorted(slices.Values([]string{ra, rb})) {
		g, err := e.lock(ctx, r, id)
		if err != nil {
			return Outcome{}, err
		}
		locked[id] = g
	}
	a, b := locked[ra], locked[rb]

	absorb(a, b)
	if err := b.SetRedirectToID(a.ID()); err != nil {
		return Outcome{}, err
	}
	if beforeCommit != nil {
		if err := beforeCommit(ctx, a, b); err != nil {
			return Outcome{}, err
		}
	}
	if err := gram.Commit(ctx, e.store, r, a); err != nil {
		return Outcome{}, err
	}
	if err := gram.Commit(ctx, e.store, r, b); err != nil {
		return Outcome{}, err
	}

	rewritten, err := e.rewriteContradictions(ctx, r, b.ID(), a.ID())
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Canonical: a.ID(), Merged: b.ID(), Rewritten: rewritten}, nil
}

func (e *Engine) resolve(ctx context.Context, r *txstore.Result, id string) (string, error) {
	g, err := gram.Resolve(ctx, e.store, r, id)
	if err != nil {
		return "", err
	}
	if g == nil {
		err := fmt.Errorf("%w: %s", ErrVertexNotFound, id)
		r.AddError(err)
		return "", err
	}
	return g.ID(), nil
}

// lock re-reads a resolved vertex with its row locked. A vertex that was
// redirected since resolution means another merge won.
func (e *Engine) lock(ctx context.Context, r *txstore.Result, id string) (*gram.WordGram, error) {
	g, err := gram.LoadForUpdate(ctx, e.store, r, id)
	if err != nil {
		return nil, err
	}
	if g == nil || g.HasRedirect() {
		err := fmt.Errorf("%w: %s changed during merge", ErrMergeConflict, id)
		r.AddError(err)
		return nil, err
	}
	return g, nil
}

const dependentsSQL = `SELECT id FROM word_grams WHERE contradiction_id = $1 AND redirect_to IS NULL AND id <> $2 ORDER BY id`

// rewriteContradictions repoints canonical vertices whose contradiction link
// names the merged vertex.
func (e *Engine) rewriteContradictions(ctx context.Context, r *txstore.Result, from, to string) ([]string, error) {
	var ids []string
	err := e.store.ExecuteSelect(ctx, r, dependentsSQL, []any{from, to}, func(row txstore.Scanner) error {
		var id string
		if err := row.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		g, err := e.lock(ctx, r, id)
		if err != nil {
			return nil, err
		}
		g.SetContradictionPredicateID(to)
		if err := gram.Commit(ctx, e.store, r, g); err != nil {
			return nil, err
		}
	}
	return ids, nil
}
