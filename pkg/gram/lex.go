package gram

import (
	"slices"
	"strings"
)

// Lexical type tags. Finer tags extend a coarse one as a prefix, so "v"
// covers "vp" and "vt", and "n" covers "np".
const (
	LexNoun              = "n"
	LexProperNoun        = "np"
	LexGerund            = "ger"
	LexVerb              = "v"
	LexAdverb            = "adv"
	LexConjunctiveAdverb = "adv.conj"
	LexAdjective         = "adj"
	LexPronoun           = "pro"
	LexPreposition       = "prep"
	LexConjunction       = "conj"
	LexQuestionWord      = "wh"
	LexStopWord          = "stop"
	LexDeterminer        = "det"
	LexMeta              = "meta"
	LexNumber            = "cd"
	LexPercentage        = "cd.pct"
)

func (g *WordGram) AddLexType(t string) { g.d.LexTypes = addUnique(g.d.LexTypes, t) }
func (g *WordGram) LexTypes() []string  { return slices.Clone(g.d.LexTypes) }
func (g *WordGram) HasLexType() bool    { return len(g.d.LexTypes) > 0 }

func (g *WordGram) AddIsNounType()         { g.AddLexType(LexNoun) }
func (g *WordGram) AddIsProperNounType()   { g.AddLexType(LexProperNoun) }
func (g *WordGram) AddIsGerundType()       { g.AddLexType(LexGerund) }
func (g *WordGram) AddIsVerbType()         { g.AddLexType(LexVerb) }
func (g *WordGram) AddIsAdverbType()       { g.AddLexType(LexAdverb) }
func (g *WordGram) AddIsAdjectiveType()    { g.AddLexType(LexAdjective) }
func (g *WordGram) AddIsPronounType()      { g.AddLexType(LexPronoun) }
func (g *WordGram) AddIsPrepositionType()  { g.AddLexType(LexPreposition) }
func (g *WordGram) AddIsConjunctionType()  { g.AddLexType(LexConjunction) }
func (g *WordGram) AddIsQuestionWordType() { g.AddLexType(LexQuestionWord) }
func (g *WordGram) AddIsStopWordType()     { g.AddLexType(LexStopWord) }
func (g *WordGram) AddIsDeterminerType()   { g.AddLexType(LexDeterminer) }

// ContainsLexType reports an exact tag match.
func (g *WordGram) ContainsLexType(t string) bool {
	return slices.Contains(g.d.LexTypes, t)
}

// ContainsLexTypeLike reports whether any stored tag starts with prefix.
func (g *WordGram) ContainsLexTypeLike(prefix string) bool {
	return hasPrefixed(g.d.LexTypes, prefix)
}

func hasPrefixed(tags []string, prefix string) bool {
	if prefix == "" {
		return false
	}
	return slices.ContainsFunc(tags, func(t string) bool {
		return strings.HasPrefix(t, prefix)
	})
}

func (g *WordGram) IsNoun() bool              { return g.ContainsLexTypeLike(LexNoun) }
func (g *WordGram) IsProperNoun() bool        { return g.ContainsLexTypeLike(LexProperNoun) }
func (g *WordGram) IsGerund() bool            { return g.ContainsLexTypeLike(LexGerund) }
func (g *WordGram) IsDeterminer() bool        { return g.ContainsLexTypeLike(LexDeterminer) }
func (g *WordGram) IsVerb() bool              { return g.ContainsLexTypeLike(LexVerb) }
func (g *WordGram) IsAdjective() bool         { return g.ContainsLexTypeLike(LexAdjective) }
func (g *WordGram) IsAdverb() bool            { return g.ContainsLexTypeLike(LexAdverb) }
func (g *WordGram) IsPronoun() bool           { return g.ContainsLexTypeLike(LexPronoun) }
func (g *WordGram) IsPreposition() bool       { return g.ContainsLexTypeLike(LexPreposition) }
func (g *WordGram) IsConjunction() bool       { return g.ContainsLexTypeLike(LexConjunction) }
func (g *WordGram) IsConjunctiveAdverb() bool { return g.ContainsLexTypeLike(LexConjunctiveAdverb) }
func (g *WordGram) IsQuestionWord() bool      { return g.ContainsLexTypeLike(LexQuestionWord) }
func (g *WordGram) IsMeta() bool              { return g.ContainsLexTypeLike(LexMeta) }
func (g *WordGram) IsNumber() bool            { return g.ContainsLexTypeLike(LexNumber) }
func (g *WordGram) IsPercentage() bool        { return g.ContainsLexType(LexPercentage) }

// IsStopWord is true when the vertex is flagged as a stop word or tagged as
// one.
func (g *WordGram) IsStopWord() bool {
	return g.d.IsStopWord || g.ContainsLexType(LexStopWord)
}

// AddExpectation records the lexical type expected to follow this gram.
func (g *WordGram) AddExpectation(t string) { g.d.Expectations = addUnique(g.d.Expectations, t) }
func (g *WordGram) Expectations() []string  { return slices.Clone(g.d.Expectations) }

func (g *WordGram) ExpectsNoun() bool         { return hasPrefixed(g.d.Expectations, LexNoun) }
func (g *WordGram) ExpectsVerb() bool         { return hasPrefixed(g.d.Expectations, LexVerb) }
func (g *WordGram) ExpectsAdjective() bool    { return hasPrefixed(g.d.Expectations, LexAdjective) }
func (g *WordGram) ExpectsAdverb() bool       { return hasPrefixed(g.d.Expectations, LexAdverb) }
func (g *WordGram) ExpectsPronoun() bool      { return hasPrefixed(g.d.Expectations, LexPronoun) }
func (g *WordGram) ExpectsPreposition() bool  { return hasPrefixed(g.d.Expectations, LexPreposition) }
func (g *WordGram) ExpectsConjunction() bool  { return hasPrefixed(g.d.Expectations, LexConjunction) }
func (g *WordGram) ExpectsQuestionWord() bool { return hasPrefixed(g.d.Expectations, LexQuestionWord) }
