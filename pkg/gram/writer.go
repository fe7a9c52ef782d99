package gram

import (
	"context"
	"reflect"

	"github.com/topicquests/tqos-asr-api/pkg/txstore"
)

// Writer applies mutations to a loaded vertex and commits each one at once.
// It is used for fields that change incrementally while other workers read
// or merge the same vertex, such as sentence and topic-locator membership.
//
// A mutation that loses the optimistic-lock race returns
// versioned.ErrStaleVersion and leaves the in-memory vertex as it was.
type Writer struct {
	s *txstore.Store
	r *txstore.Result
	g *WordGram
}

// Bind returns a Writer for g on s. Errors are also recorded on r.
func Bind(s *txstore.Store, r *txstore.Result, g *WordGram) *Writer {
	return &Writer{s: s, r: r, g: g}
}

func (w *Writer) WordGram() *WordGram {
	return w.g
}

func (w *Writer) apply(ctx context.Context, fn func(g *WordGram) error) error {
	if w.g.loadedRedirect != "" {
		err := &RedirectedError{ID: w.g.id, Target: w.g.loadedRedirect}
		w.r.AddError(err)
		return err
	}
	snap := w.g.clone()
	if err := fn(w.g); err != nil {
		w.r.AddError(err)
		return err
	}
	if !w.g.IsNew() && reflect.DeepEqual(snap.d, w.g.d) {
		return nil
	}
	if err := Commit(ctx, w.s, w.r, w.g); err != nil {
		*w.g = *snap
		return err
	}
	return nil
}

func (w *Writer) set(ctx context.Context, fn func(g *WordGram)) error {
	return w.apply(ctx, func(g *WordGram) error {
		fn(g)
		return nil
	})
}

func (w *Writer) SetWords(ctx context.Context, words string) error {
	return w.set(ctx, func(g *WordGram) { g.SetWords(words) })
}

func (w *Writer) SetSize(ctx context.Context, size int) error {
	return w.apply(ctx, func(g *WordGram) error { return g.SetSize(size) })
}

func (w *Writer) SetLemma(ctx context.Context, lemma string) error {
	return w.set(ctx, func(g *WordGram) { g.SetLemma(lemma) })
}

func (w *Writer) SetFormulaID(ctx context.Context, id string) error {
	return w.set(ctx, func(g *WordGram) { g.SetFormulaID(id) })
}

func (w *Writer) AddWordID(ctx context.Context, id string) error {
	return w.set(ctx, func(g *WordGram) { g.AddWordID(id) })
}

func (w *Writer) SetIsStopWord(ctx context.Context) error {
	return w.set(ctx, func(g *WordGram) { g.SetIsStopWord() })
}

func (w *Writer) AddSentenceID(ctx context.Context, id string) error {
	return w.set(ctx, func(g *WordGram) { g.AddSentenceID(id) })
}

func (w *Writer) RemoveSentenceID(ctx context.Context, id string) error {
	return w.set(ctx, func(g *WordGram) { g.RemoveSentenceID(id) })
}

// SetRedirectToID merges the vertex away into target. The stored redirect
// points at target's canonical vertex.
func (w *Writer) SetRedirectToID(ctx context.Context, target string) error {
	return w.apply(ctx, func(g *WordGram) error { return g.SetRedirectToID(target) })
}

func (w *Writer) SetIsInversePredicate(ctx context.Context) error {
	return w.set(ctx, func(g *WordGram) { g.SetIsInversePredicate() })
}

func (w *Writer) SetIsNegativePredicate(ctx context.Context) error {
	return w.set(ctx, func(g *WordGram) { g.SetIsNegativePredicate() })
}

func (w *Writer) SetContradictionPredicateID(ctx context.Context, id string) error {
	return w.set(ctx, func(g *WordGram) { g.SetContradictionPredicateID(id) })
}

func (w *Writer) SetPredicatePropertyType(ctx context.Context, t string) error {
	return w.set(ctx, func(g *WordGram) { g.SetPredicatePropertyType(t) })
}

func (w *Writer) SetPredicateTense(ctx context.Context, tense string) error {
	return w.set(ctx, func(g *WordGram) { g.SetPredicateTense(tense) })
}

func (w *Writer) AddTopicLocator(ctx context.Context, locator string) error {
	return w.set(ctx, func(g *WordGram) { g.AddTopicLocator(locator) })
}

func (w *Writer) RemoveTopicLocator(ctx context.Context, locator string) error {
	return w.set(ctx, func(g *WordGram) { g.RemoveTopicLocator(locator) })
}

func (w *Writer) SubstituteTopicLocator(ctx context.Context, oldLocator, newLocator string) error {
	return w.set(ctx, func(g *WordGram) { g.SubstituteTopicLocator(oldLocator, newLocator) })
}

func (w *Writer) SetDBPediaURI(ctx context.Context, uri string) error {
	return w.set(ctx, func(g *WordGram) { g.SetDBPediaURI(uri) })
}

func (w *Writer) AddOntReference(ctx context.Context, uri string) error {
	return w.set(ctx, func(g *WordGram) { g.AddOntReference(uri) })
}

func (w *Writer) AddLensCode(ctx context.Context, code string) error {
	return w.set(ctx, func(g *WordGram) { g.AddLensCode(code) })
}

func (w *Writer) RemoveLensCode(ctx context.Context, code string) error {
	return w.set(ctx, func(g *WordGram) { g.RemoveLensCode(code) })
}

func (w *Writer) AddLatticeType(ctx context.Context, t string) error {
	return w.set(ctx, func(g *WordGram) { g.AddLatticeType(t) })
}

func (w *Writer) RemoveLatticeType(ctx context.Context, t string) error {
	return w.set(ctx, func(g *WordGram) { g.RemoveLatticeType(t) })
}

func (w *Writer) AddLexType(ctx context.Context, t string) error {
	return w.set(ctx, func(g *WordGram) { g.AddLexType(t) })
}

func (w *Writer) AddIsNounType(ctx context.Context) error {
	return w.AddLexType(ctx, LexNoun)
}

func (w *Writer) AddIsProperNounType(ctx context.Context) error {
	return w.AddLexType(ctx, LexProperNoun)
}

func (w *Writer) AddIsGerundType(ctx context.Context) error {
	return w.AddLexType(ctx, LexGerund)
}

func (w *Writer) AddIsVerbType(ctx context.Context) error {
	return w.AddLexType(ctx, LexVerb)
}

func (w *Writer) AddIsAdverbType(ctx context.Context) error {
	return w.AddLexType(ctx, LexAdverb)
}

func (w *Writer) AddIsAdjectiveType(ctx context.Context) error {
	return w.AddLexType(ctx, LexAdjective)
}

func (w *Writer) AddIsPronounType(ctx context.Context) error {
	return w.AddLexType(ctx, LexPronoun)
}

func (w *Writer) AddIsPrepositionType(ctx context.Context) error {
	return w.AddLexType(ctx, LexPreposition)
}

func (w *Writer) AddIsConjunctionType(ctx context.Context) error {
	return w.AddLexType(ctx, LexConjunction)
}

func (w *Writer) AddIsQuestionWordType(ctx context.Context) error {
	return w.AddLexType(ctx, LexQuestionWord)
}

func (w *Writer) AddIsStopWordType(ctx context.Context) error {
	return w.AddLexType(ctx, LexStopWord)
}

func (w *Writer) AddIsDeterminerType(ctx context.Context) error {
	return w.AddLexType(ctx, LexDeterminer)
}

func (w *Writer) AddExpectation(ctx context.Context, t string) error {
	return w.set(ctx, func(g *WordGram) { g.AddExpectation(t) })
}

func (w *Writer) AddHypernym(ctx context.Context, word string) error {
	return w.set(ctx, func(g *WordGram) { g.AddHypernym(word) })
}

func (w *Writer) AddHyponym(ctx context.Context, word string) error {
	return w.set(ctx, func(g *WordGram) { g.AddHyponym(word) })
}

func (w *Writer) AddSynonym(ctx context.Context, word string) error {
	return w.set(ctx, func(g *WordGram) { g.AddSynonym(word) })
}

func (w *Writer) AddSynonymID(ctx context.Context, id string) error {
	return w.set(ctx, func(g *WordGram) { g.AddSynonymID(id) })
}

func (w *Writer) AddRole(ctx context.Context, sentenceID, role string) error {
	return w.set(ctx, func(g *WordGram) { g.AddRole(sentenceID, role) })
}

func (w *Writer) AddSemanticFrameID(ctx context.Context, id string) error {
	return w.set(ctx, func(g *WordGram) { g.AddSemanticFrameID(id) })
}

func (w *Writer) AddAttribute(ctx context.Context, attribute string) error {
	return w.set(ctx, func(g *WordGram) { g.AddAttribute(attribute) })
}

func (w *Writer) SetDaemon(ctx context.Context, wordID, token string) error {
	return w.set(ctx, func(g *WordGram) { g.SetDaemon(wordID, token) })
}
