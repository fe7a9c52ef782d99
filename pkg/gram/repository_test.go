package gram

import (
	"context"
	"errors"
	"testing"

	"github.com/topicquests/tqos-asr-api/internal/testutil"
	"github.com/topicquests/tqos-asr-api/pkg/txstore"
	"github.com/topicquests/tqos-asr-api/pkg/versioned"
)

func mustCreate(t *testing.T, s *txstore.Store, words string, size int) string {
	t.Helper()
	id, err := Create(context.Background(), s, nil, words, size)
	if err != nil {
		t.Fatalf("create %q: %v", words, err)
	}
	return id
}

func mustLoad(t *testing.T, s *txstore.Store, id string) *WordGram {
	t.Helper()
	g, err := Load(context.Background(), s, nil, id)
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	if g == nil {
		t.Fatalf("expected %s to exist", id)
	}
	return g
}

func TestCreateAndLoad(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	r := txstore.NewResult()

	id, err := Create(ctx, s, r, "is caused by", 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Object != id {
		t.Fatalf("expected result object %q, got %v", id, r.Object)
	}

	g := mustLoad(t, s, id)
	if g.Words() != "is caused by" || g.Size() != 3 || g.Version() != 1 || g.IsNew() {
		t.Fatalf("unexpected vertex: words=%q size=%d version=%d new=%v", g.Words(), g.Size(), g.Version(), g.IsNew())
	}

	found, err := FindByWords(ctx, s, nil, "is caused by")
	if err != nil {
		t.Fatalf("find by words: %v", err)
	}
	if found == nil || found.ID() != id {
		t.Fatalf("expected to find %s, got %v", id, found)
	}

	missing, err := Load(ctx, s, nil, "wg.missing")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for unknown id, got %v, %v", missing, err)
	}
	resolved, err := Resolve(ctx, s, nil, "wg.missing")
	if err != nil || resolved != nil {
		t.Fatalf("expected nil, nil resolving unknown id, got %v, %v", resolved, err)
	}
}

func TestCreateDuplicateWords(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	mustCreate(t, s, "cause", 1)

	r := txstore.NewResult()
	if _, err := Create(ctx, s, r, "cause", 1); !errors.Is(err, txstore.ErrConstraint) {
		t.Fatalf("expected ErrConstraint, got %v", err)
	}
	if r.Succeeded() {
		t.Fatal("expected constraint violation on result")
	}
}

func TestWriterVersionMonotonicity(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	id := mustCreate(t, s, "cause", 1)

	w := Bind(s, nil, mustLoad(t, s, id))
	steps := []func() error{
		func() error { return w.AddTopicLocator(ctx, "T1") },
		func() error { return w.AddSentenceID(ctx, "s1") },
		func() error { return w.SetLemma(ctx, "cause") },
		func() error { return w.AddIsVerbType(ctx) },
		func() error { return w.AddRole(ctx, "s1", "predicate") },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if got := w.WordGram().Version(); got != 1+int64(len(steps)) {
		t.Fatalf("expected version %d, got %d", 1+len(steps), got)
	}

	// repeating a set-valued add changes nothing and is not committed
	if err := w.AddTopicLocator(ctx, "T1"); err != nil {
		t.Fatalf("repeat add: %v", err)
	}
	stored := mustLoad(t, s, id)
	if stored.Version() != w.WordGram().Version() {
		t.Fatalf("expected stored version %d, got %d", w.WordGram().Version(), stored.Version())
	}
	if !stored.IsVerb() || stored.Role("s1") != "predicate" || stored.TopicLocators()[0] != "T1" {
		t.Fatalf("expected persisted fields, got %+v", stored.d)
	}
}

func TestWriterStopWordSentenceNoop(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	id := mustCreate(t, s, "the", 1)

	w := Bind(s, nil, mustLoad(t, s, id))
	if err := w.SetIsStopWord(ctx); err != nil {
		t.Fatalf("set stop word: %v", err)
	}
	version := w.WordGram().Version()
	for _, sid := range []string{"s1", "s2", "s1"} {
		if err := w.AddSentenceID(ctx, sid); err != nil {
			t.Fatalf("add sentence: %v", err)
		}
	}
	if w.WordGram().Version() != version {
		t.Fatalf("expected version to stay %d, got %d", version, w.WordGram().Version())
	}
	if got := mustLoad(t, s, id).SentenceIDs(); len(got) != 0 {
		t.Fatalf("expected no stored sentences, got %v", got)
	}
}

func TestConcurrentCommitRace(t *testing.T) {
	ctx := context.Background()
	path := testutil.NewDatabase(t)
	w1 := testutil.OpenPeer(t, path)
	w2 := testutil.OpenPeer(t, path)

	id := mustCreate(t, w1, "cause", 1)
	for i := 0; i < 4; i++ {
		if _, err := Update(ctx, w1, nil, id, func(g *WordGram) error {
			g.AddSentenceID("s" + string(rune('0'+i)))
			return nil
		}, 1); err != nil {
			t.Fatalf("bump version: %v", err)
		}
	}

	v1 := mustLoad(t, w1, id)
	v2 := mustLoad(t, w2, id)
	if v1.Version() != 5 || v2.Version() != 5 {
		t.Fatalf("expected both workers at version 5, got %d and %d", v1.Version(), v2.Version())
	}

	if err := Bind(w1, nil, v1).AddTopicLocator(ctx, "T1"); err != nil {
		t.Fatalf("worker 1 commit: %v", err)
	}
	if v1.Version() != 6 {
		t.Fatalf("expected worker 1 at version 6, got %d", v1.Version())
	}

	r := txstore.NewResult()
	err := Bind(w2, r, v2).AddTopicLocator(ctx, "T2")
	if !errors.Is(err, versioned.ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion, got %v", err)
	}
	if v2.Version() != 5 || v2.NumTopicLocators() != 0 {
		t.Fatalf("expected worker 2 in-memory state unchanged, got version %d locators %v", v2.Version(), v2.TopicLocators())
	}

	stored := mustLoad(t, w2, id)
	if stored.Version() != 6 || stored.TopicLocators()[0] != "T1" || stored.NumTopicLocators() != 1 {
		t.Fatalf("expected stored state from worker 1, got version %d locators %v", stored.Version(), stored.TopicLocators())
	}
}

func TestCauseRedirectScenario(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	a := mustCreate(t, s, "cause", 1)
	b := mustCreate(t, s, "is caused by", 3)

	if err := Bind(s, nil, mustLoad(t, s, b)).SetRedirectToID(ctx, a); err != nil {
		t.Fatalf("redirect: %v", err)
	}

	canonical, err := Resolve(ctx, s, nil, b)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if canonical.ID() != a || canonical.Words() != "cause" {
		t.Fatalf("expected lookup of %s to yield %s, got %s (%q)", b, a, canonical.ID(), canonical.Words())
	}

	stale := mustLoad(t, s, b)
	r := txstore.NewResult()
	err = Bind(s, r, stale).AddTopicLocator(ctx, "T1")
	var redirected *RedirectedError
	if !errors.As(err, &redirected) || !errors.Is(err, ErrRedirected) {
		t.Fatalf("expected RedirectedError, got %v", err)
	}
	if redirected.Target != a {
		t.Fatalf("expected error to name %s, got %s", a, redirected.Target)
	}
	if stale.NumTopicLocators() != 0 {
		t.Fatal("expected redirected vertex to stay unmodified")
	}
	if err := Commit(ctx, s, nil, stale); !errors.Is(err, ErrRedirected) {
		t.Fatalf("expected Commit to refuse redirected vertex, got %v", err)
	}

	g, err := Update(ctx, s, nil, b, func(g *WordGram) error {
		g.AddTopicLocator("T1")
		return nil
	}, 3)
	if err != nil {
		t.Fatalf("update through redirect: %v", err)
	}
	if g.ID() != a {
		t.Fatalf("expected update to land on %s, got %s", a, g.ID())
	}
	if got := mustLoad(t, s, a).TopicLocators(); len(got) != 1 || got[0] != "T1" {
		t.Fatalf("expected T1 on canonical vertex, got %v", got)
	}
	if got := mustLoad(t, s, b).TopicLocators(); len(got) != 0 {
		t.Fatalf("expected nothing on merged vertex, got %v", got)
	}
}

func TestRedirectCollapsesToCanonical(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	a := mustCreate(t, s, "cause", 1)
	b := mustCreate(t, s, "causes", 1)
	c := mustCreate(t, s, "caused", 1)

	if err := Bind(s, nil, mustLoad(t, s, b)).SetRedirectToID(ctx, a); err != nil {
		t.Fatalf("redirect b: %v", err)
	}
	if err := Bind(s, nil, mustLoad(t, s, c)).SetRedirectToID(ctx, b); err != nil {
		t.Fatalf("redirect c: %v", err)
	}
	if got := mustLoad(t, s, c).RedirectToID(); got != a {
		t.Fatalf("expected stored redirect to point at %s, got %s", a, got)
	}

	for i := 0; i < 3; i++ {
		g, err := Resolve(ctx, s, nil, c)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if g.ID() != a {
			t.Fatalf("expected %s, got %s", a, g.ID())
		}
	}

	if err := Bind(s, nil, mustLoad(t, s, a)).SetRedirectToID(ctx, c); !errors.Is(err, ErrSelfRedirect) {
		t.Fatalf("expected redirect back into own chain to fail, got %v", err)
	}
	if mustLoad(t, s, a).HasRedirect() {
		t.Fatal("expected canonical vertex to stay canonical")
	}
}

func TestResolveDetectsCorruptChains(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)

	rows := []struct {
		id, words, redirect string
	}{
		{id: "wg.x", words: "x", redirect: "wg.y"},
		{id: "wg.y", words: "y", redirect: "wg.x"},
		{id: "wg.d", words: "d", redirect: "wg.gone"},
	}
	for _, row := range rows {
		data := `{"words":"` + row.words + `","size":1,"redirectToId":"` + row.redirect + `"}`
		_, err := s.Execute(ctx, nil,
			`INSERT INTO word_grams (id, version, words, gram_size, redirect_to, data) VALUES ($1, 1, $2, 1, $3, $4)`,
			row.id, row.words, row.redirect, []byte(data))
		if err != nil {
			t.Fatalf("insert %s: %v", row.id, err)
		}
	}

	for _, id := range []string{"wg.x", "wg.d"} {
		r := txstore.NewResult()
		if _, err := Resolve(ctx, s, r, id); !errors.Is(err, ErrCorruptRedirectChain) {
			t.Fatalf("expected ErrCorruptRedirectChain for %s, got %v", id, err)
		}
		if r.Succeeded() {
			t.Fatalf("expected corruption recorded on result for %s", id)
		}
	}
}

func TestUpdateRetriesStaleVersion(t *testing.T) {
	ctx := context.Background()
	path := testutil.NewDatabase(t)
	w1 := testutil.OpenPeer(t, path)
	w2 := testutil.OpenPeer(t, path)
	id := mustCreate(t, w1, "cause", 1)

	calls := 0
	r := txstore.NewResult()
	g, err := Update(ctx, w1, r, id, func(g *WordGram) error {
		calls++
		if calls == 1 {
			// another worker commits between our load and our commit
			other := mustLoad(t, w2, id)
			if err := Bind(w2, nil, other).AddTopicLocator(ctx, "T-other"); err != nil {
				t.Fatalf("interfering commit: %v", err)
			}
		}
		g.AddTopicLocator("T-mine")
		return nil
	}, 3)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if !r.Succeeded() {
		t.Fatalf("expected retried stale attempt not to be recorded, got %v", r.Err())
	}
	if g.Version() != 3 || g.NumTopicLocators() != 2 {
		t.Fatalf("expected version 3 with both locators, got %d %v", g.Version(), g.TopicLocators())
	}

	if _, err := Update(ctx, w1, nil, "wg.missing", func(*WordGram) error { return nil }, 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
