package merge

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/topicquests/tqos-asr-api/internal/testutil"
	"github.com/topicquests/tqos-asr-api/pkg/gram"
	"github.com/topicquests/tqos-asr-api/pkg/logger"
	"github.com/topicquests/tqos-asr-api/pkg/txstore"
)

func create(t *testing.T, s *txstore.Store, words string, fn func(g *gram.WordGram)) string {
	t.Helper()
	ctx := context.Background()
	id, err := gram.Create(ctx, s, nil, words, 1)
	if err != nil {
		t.Fatalf("create %q: %v", words, err)
	}
	if fn != nil {
		if _, err := gram.Update(ctx, s, nil, id, func(g *gram.WordGram) error {
			fn(g)
			return nil
		}, 1); err != nil {
			t.Fatalf("seed %q: %v", words, err)
		}
	}
	return id
}

func load(t *testing.T, s *txstore.Store, id string) *gram.WordGram {
	t.Helper()
	g, err := gram.Load(context.Background(), s, nil, id)
	if err != nil || g == nil {
		t.Fatalf("load %s: %v, %v", id, g, err)
	}
	return g
}

func resolve(t *testing.T, s *txstore.Store, id string) string {
	t.Helper()
	g, err := gram.Resolve(context.Background(), s, nil, id)
	if err != nil || g == nil {
		t.Fatalf("resolve %s: %v, %v", id, g, err)
	}
	return g.ID()
}

// hookBeforeCommit installs fn as the before-commit hook for one test.
func hookBeforeCommit(t *testing.T, fn func(ctx context.Context, a, b *gram.WordGram) error) {
	t.Helper()
	beforeCommit = fn
	t.Cleanup(func() { beforeCommit = nil })
}

// bumpVersion commits a concurrent write to id inside the merge transaction.
func bumpVersion(ctx context.Context, s *txstore.Store, id string) error {
	_, err := s.Execute(ctx, nil, `UPDATE word_grams SET version = version + 1 WHERE id = $1`, id)
	return err
}

func TestMergeUnionsIntoCanonical(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	a := create(t, s, "cause", func(g *gram.WordGram) {
		g.AddTopicLocator("T1")
		g.AddSentenceID("s1")
		g.AddRole("s1", "agent")
	})
	b := create(t, s, "causes", func(g *gram.WordGram) {
		g.AddTopicLocator("T2")
		g.AddTopicLocator("T1")
		g.AddSentenceID("s2")
		g.SetLemma("cause")
		g.AddOntReference("http://ont/cause")
		g.AddRole("s1", "patient")
		g.AddRole("s2", "agent")
		g.AddSynonymID("wg.other")
		g.AddIsVerbType()
	})

	r := txstore.NewResult()
	out, err := New(s, Options{}).Merge(ctx, r, a, b)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if out.Canonical != a || out.Merged != b || out.NoOp {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if s.InTransaction() {
		t.Fatal("expected merge transaction to be closed")
	}

	ga := load(t, s, a)
	if want := []string{"T1", "T2"}; !reflect.DeepEqual(ga.TopicLocators(), want) {
		t.Fatalf("expected locators %v, got %v", want, ga.TopicLocators())
	}
	if want := []string{"s1", "s2"}; !reflect.DeepEqual(ga.SentenceIDs(), want) {
		t.Fatalf("expected sentences %v, got %v", want, ga.SentenceIDs())
	}
	if ga.Lemma() != "cause" || !ga.IsVerb() || !ga.HasOntReferences() {
		t.Fatalf("expected scalar and set fields from merged vertex, got %+v", ga)
	}
	if ga.Role("s1") != "agent" || ga.Role("s2") != "agent" {
		t.Fatalf("expected roles to fill gaps only, got s1=%q s2=%q", ga.Role("s1"), ga.Role("s2"))
	}
	if !slices.Contains(ga.Synonyms(), "causes") {
		t.Fatalf("expected merged words as synonym, got %v", ga.Synonyms())
	}
	if want := []string{"wg.other"}; !reflect.DeepEqual(ga.SynonymIDs(), want) {
		t.Fatalf("expected synonym ids %v, got %v", want, ga.SynonymIDs())
	}
	if ga.Version() != 3 {
		t.Fatalf("expected canonical version 3, got %d", ga.Version())
	}

	gb := load(t, s, b)
	if gb.RedirectToID() != a || gb.Version() != 3 {
		t.Fatalf("expected merged vertex redirected to %s at version 3, got %q at %d", a, gb.RedirectToID(), gb.Version())
	}
}

func TestMergeTransitivity(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	e := New(s, Options{})
	a := create(t, s, "cause", nil)
	b := create(t, s, "causes", nil)
	c := create(t, s, "caused", nil)

	if _, err := e.Merge(ctx, nil, a, b); err != nil {
		t.Fatalf("merge b into a: %v", err)
	}
	out, err := e.Merge(ctx, nil, b, c)
	if err != nil {
		t.Fatalf("merge c into b: %v", err)
	}
	if out.Canonical != a {
		t.Fatalf("expected merge into b to land on %s, got %s", a, out.Canonical)
	}
	if got := resolve(t, s, c); got != a {
		t.Fatalf("expected %s to resolve to %s, got %s", c, a, got)
	}
	if got := load(t, s, c).RedirectToID(); got != a {
		t.Fatalf("expected stored redirect of %s to be %s, got %s", c, a, got)
	}
}

func TestMergeNoOp(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	e := New(s, Options{})
	a := create(t, s, "cause", nil)
	b := create(t, s, "causes", nil)

	out, err := e.Merge(ctx, nil, a, a)
	if err != nil {
		t.Fatalf("self merge: %v", err)
	}
	if !out.NoOp || load(t, s, a).Version() != 1 {
		t.Fatalf("expected self merge to be a no-op, got %+v", out)
	}

	if _, err := e.Merge(ctx, nil, a, b); err != nil {
		t.Fatalf("merge: %v", err)
	}
	va, vb := load(t, s, a).Version(), load(t, s, b).Version()

	out, err = e.Merge(ctx, nil, b, a)
	if err != nil {
		t.Fatalf("repeat merge: %v", err)
	}
	if !out.NoOp {
		t.Fatalf("expected repeat merge to be a no-op, got %+v", out)
	}
	if load(t, s, a).Version() != va || load(t, s, b).Version() != vb {
		t.Fatal("expected no-op merge to leave versions alone")
	}
}

func TestMergeUnknownVertex(t *testing.T) {
	s := testutil.OpenStore(t)
	a := create(t, s, "cause", nil)

	r := txstore.NewResult()
	_, err := New(s, Options{}).Merge(context.Background(), r, a, "wg.missing")
	if !errors.Is(err, ErrVertexNotFound) {
		t.Fatalf("expected ErrVertexNotFound, got %v", err)
	}
	if r.Succeeded() || s.InTransaction() {
		t.Fatal("expected recorded failure and closed transaction")
	}
}

func TestMergeIntoStopWordSkipsSentences(t *testing.T) {
	s := testutil.OpenStore(t)
	a := create(t, s, "the", func(g *gram.WordGram) { g.SetIsStopWord() })
	b := create(t, s, "The", func(g *gram.WordGram) { g.AddSentenceID("s1") })

	if _, err := New(s, Options{}).Merge(context.Background(), nil, a, b); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := load(t, s, a).SentenceIDs(); len(got) != 0 {
		t.Fatalf("expected stop word to gain no sentences, got %v", got)
	}
}

func TestMergeRewritesContradictions(t *testing.T) {
	s := testutil.OpenStore(t)
	a := create(t, s, "cause", nil)
	b := create(t, s, "causes", nil)
	d := create(t, s, "prevents", nil)
	if _, err := gram.Update(context.Background(), s, nil, d, func(g *gram.WordGram) error {
		g.SetContradictionPredicateID(b)
		return nil
	}, 1); err != nil {
		t.Fatalf("link contradiction: %v", err)
	}

	out, err := New(s, Options{}).Merge(context.Background(), nil, a, b)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if want := []string{d}; !reflect.DeepEqual(out.Rewritten, want) {
		t.Fatalf("expected rewritten %v, got %v", want, out.Rewritten)
	}
	if got := load(t, s, d).ContradictionPredicateID(); got != a {
		t.Fatalf("expected contradiction repointed to %s, got %s", a, got)
	}
}

func TestMergeConflictRollsBack(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	a := create(t, s, "cause", func(g *gram.WordGram) { g.AddTopicLocator("T1") })
	b := create(t, s, "causes", func(g *gram.WordGram) { g.AddTopicLocator("T2") })

	e := New(s, Options{MaxRetries: 3})
	// another writer commits a after the merge loaded it
	hookBeforeCommit(t, func(ctx context.Context, ga, gb *gram.WordGram) error {
		return bumpVersion(ctx, s, ga.ID())
	})

	r := txstore.NewResult()
	_, err := e.Merge(ctx, r, a, b)
	if !errors.Is(err, ErrMergeConflict) {
		t.Fatalf("expected ErrMergeConflict, got %v", err)
	}
	if s.InTransaction() {
		t.Fatal("expected transaction to be rolled back")
	}
	if gb := load(t, s, b); gb.HasRedirect() {
		t.Fatal("expected merged vertex to stay canonical after conflict")
	}
	if ga := load(t, s, a); ga.NumTopicLocators() != 1 || ga.Version() != 2 {
		t.Fatalf("expected canonical vertex untouched, got %v at %d", ga.TopicLocators(), ga.Version())
	}

	fired := 0
	beforeCommit = func(ctx context.Context, ga, gb *gram.WordGram) error {
		fired++
		if fired > 1 {
			return nil
		}
		return bumpVersion(ctx, s, ga.ID())
	}
	r = txstore.NewResult()
	out, err := e.MergeWithRetry(ctx, r, a, b)
	if err != nil {
		t.Fatalf("merge with retry: %v", err)
	}
	if fired != 2 || out.Canonical != a {
		t.Fatalf("expected success on second attempt, got %d attempts and %+v", fired, out)
	}
	if !r.Succeeded() || r.Object == nil {
		t.Fatalf("expected clean result with outcome, got %v", r.Err())
	}
	if got := resolve(t, s, b); got != a {
		t.Fatalf("expected %s to resolve to %s, got %s", b, a, got)
	}
}

func TestMergeWithRetryReportsExhaustedConflicts(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	a := create(t, s, "cause", nil)
	b := create(t, s, "causes", nil)

	attempts := 0
	hookBeforeCommit(t, func(ctx context.Context, ga, gb *gram.WordGram) error {
		attempts++
		return bumpVersion(ctx, s, ga.ID())
	})

	r := txstore.NewResult()
	_, err := New(s, Options{MaxRetries: 2}).MergeWithRetry(ctx, r, a, b)
	if !errors.Is(err, ErrMergeConflict) {
		t.Fatalf("expected ErrMergeConflict, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if r.Succeeded() || !errors.Is(r.Err(), ErrMergeConflict) {
		t.Fatalf("expected the conflict on the result, got %v", r.Err())
	}
	if load(t, s, b).HasRedirect() {
		t.Fatal("expected merged vertex to stay canonical")
	}
}

func TestCancelledMergeReleasesStore(t *testing.T) {
	tests := []struct {
		name string
		// fail returns the cancellation from the hook instead of letting
		// the following statements run into it
		fail bool
	}{
		{name: "hook fails", fail: true},
		{name: "statements cancelled", fail: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := testutil.NewDatabase(t)
			s := testutil.OpenPeer(t, path)
			a := create(t, s, "cause", nil)
			b := create(t, s, "causes", nil)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			hookBeforeCommit(t, func(ctx context.Context, ga, gb *gram.WordGram) error {
				cancel()
				if tt.fail {
					return ctx.Err()
				}
				return nil
			})

			_, err := New(s, Options{}).Merge(ctx, nil, a, b)
			if tt.fail && !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
			if s.InTransaction() {
				t.Fatal("expected merge transaction to be closed")
			}
			if tt.fail && load(t, s, b).HasRedirect() {
				t.Fatal("expected cancelled merge to be rolled back")
			}

			live := context.Background()
			if err := s.BeginTransaction(live, nil); err != nil {
				t.Fatalf("begin after cancelled merge: %v", err)
			}
			if err := s.Rollback(live, nil); err != nil {
				t.Fatalf("rollback: %v", err)
			}
			peer := testutil.OpenPeer(t, path)
			if _, err := gram.Create(live, peer, nil, "effect", 1); err != nil {
				t.Fatalf("expected peer write to succeed, got %v", err)
			}
		})
	}
}

func TestConcurrentOppositeMergesConverge(t *testing.T) {
	ctx := context.Background()
	s1 := testutil.OpenPostgres(t)
	s2 := testutil.OpenPostgres(t)
	suffix := " " + t.Name() + " " + strconv.FormatInt(time.Now().UnixNano(), 36)

	for i := range 10 {
		a := create(t, s1, fmt.Sprintf("cause %d%s", i, suffix), nil)
		b := create(t, s1, fmt.Sprintf("causes %d%s", i, suffix), nil)

		var g errgroup.Group
		g.Go(func() error {
			_, err := New(s1, Options{MaxRetries: 5}).MergeWithRetry(ctx, nil, a, b)
			return err
		})
		g.Go(func() error {
			_, err := New(s2, Options{MaxRetries: 5}).MergeWithRetry(ctx, nil, b, a)
			return err
		})
		if err := g.Wait(); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		if ra, rb := resolve(t, s1, a), resolve(t, s1, b); ra != rb {
			t.Fatalf("round %d: expected one canonical vertex, got %s and %s", i, ra, rb)
		}
	}
}

func TestMergeInsideOpenTransaction(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	a := create(t, s, "cause", nil)
	b := create(t, s, "causes", nil)

	if err := s.BeginTransaction(ctx, nil); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := New(s, Options{}).Merge(ctx, nil, a, b); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !s.InTransaction() {
		t.Fatal("expected enclosing transaction to stay open")
	}
	if err := s.Rollback(ctx, nil); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if load(t, s, b).HasRedirect() {
		t.Fatal("expected rollback of the enclosing transaction to undo the merge")
	}
}

func TestMergedIDStillWritableThroughUpdate(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	a := create(t, s, "cause", nil)
	b := create(t, s, "is caused by", nil)
	if _, err := New(s, Options{}).Merge(ctx, nil, a, b); err != nil {
		t.Fatalf("merge: %v", err)
	}

	err := gram.Bind(s, nil, load(t, s, b)).AddTopicLocator(ctx, "T1")
	if !errors.Is(err, gram.ErrRedirected) {
		t.Fatalf("expected ErrRedirected writing to merged vertex, got %v", err)
	}
	g, err := gram.Update(ctx, s, nil, b, func(g *gram.WordGram) error {
		g.AddTopicLocator("T1")
		return nil
	}, 3)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if g.ID() != a || g.TopicLocators()[0] != "T1" {
		t.Fatalf("expected T1 on %s, got %s %v", a, g.ID(), g.TopicLocators())
	}
}

func TestAuditReportsWithoutRewriting(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	rec := testutil.NewRecorder()
	logger.Init(rec)
	t.Cleanup(func() { logger.Init() })

	a := create(t, s, "cause", nil)
	b := create(t, s, "causes", nil)
	e := New(s, Options{})
	if _, err := e.Merge(ctx, nil, a, b); err != nil {
		t.Fatalf("merge: %v", err)
	}

	findings, err := e.Audit(ctx, nil)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("expected a clean graph, got %+v", findings)
	}

	rows := [][]any{
		{"wg.chain", "chain", b, []byte(`{"words":"chain","size":1,"redirectToId":"` + b + `"}`)},
		{"wg.dangling", "dangling", "wg.gone", []byte(`{"words":"dangling","size":1,"redirectToId":"wg.gone"}`)},
	}
	if _, err := s.ExecuteBatch(ctx, nil,
		`INSERT INTO word_grams (id, version, words, gram_size, redirect_to, data) VALUES ($1, 1, $2, 1, $3, $4)`, rows); err != nil {
		t.Fatalf("insert corrupt rows: %v", err)
	}

	findings, err = e.Audit(ctx, nil)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	want := []Finding{
		{ID: "wg.chain", Target: b, Next: a, Problem: ProblemChain},
		{ID: "wg.dangling", Target: "wg.gone", Problem: ProblemDangling},
	}
	if !reflect.DeepEqual(findings, want) {
		t.Fatalf("expected %+v, got %+v", want, findings)
	}
	if got := len(rec.Entries("warn")); got != 2 {
		t.Fatalf("expected 2 warnings, got %d", got)
	}
	if got := load(t, s, "wg.chain").RedirectToID(); got != b {
		t.Fatalf("expected audit to leave redirect alone, got %s", got)
	}
}
