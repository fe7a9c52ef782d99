// Package gram implements the canonical word-gram vertex.
//
// A WordGram is one word or phrase. Once it is merged into another vertex it
// carries a redirect to its replacement and accepts no further writes.
// Vertices reference each other by id only.
package gram

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/topicquests/tqos-asr-api/pkg/versioned"
)

const (
	MinSize = 1
	MaxSize = 8
)

var sizeNames = [...]string{"singleton", "pair", "triple", "quad", "fiver", "sixer", "sevener", "eighter"}

// SizeName returns the conventional name for a gram of n words, or "" when n
// is out of range.
func SizeName(n int) string {
	if n < MinSize || n > MaxSize {
		return ""
	}
	return sizeNames[n-1]
}

type data struct {
	Words     string   `json:"words"`
	Size      int      `json:"size"`
	Lemma     string   `json:"lemma,omitempty"`
	WordIDs   []string `json:"wordIds,omitempty"`
	FormulaID string   `json:"formulaId,omitempty"`

	LexTypes     []string `json:"lexTypes,omitempty"`
	Expectations []string `json:"expectations,omitempty"`
	LatticeTypes []string `json:"latticeTypes,omitempty"`
	Attributes   []string `json:"attributes,omitempty"`
	IsStopWord   bool     `json:"isStopWord,omitempty"`

	IsInversePredicate    bool   `json:"isInversePredicate,omitempty"`
	IsNegativePredicate   bool   `json:"isNegativePredicate,omitempty"`
	PredicatePropertyType string `json:"predicatePropertyType,omitempty"`
	PredicateTense        string `json:"predicateTense,omitempty"`
	ContradictionID       string `json:"contradictionPredicateId,omitempty"`

	Hypernyms        []string          `json:"hypernyms,omitempty"`
	Hyponyms         []string          `json:"hyponyms,omitempty"`
	Synonyms         []string          `json:"synonyms,omitempty"`
	SynonymIDs       []string          `json:"synonymIds,omitempty"`
	OntReferences    []string          `json:"ontologyReferences,omitempty"`
	DBPediaURI       string            `json:"dbPediaURI,omitempty"`
	SemanticFrameIDs []string          `json:"semanticFrameIds,omitempty"`
	Roles            map[string]string `json:"roles,omitempty"`
	Daemons          map[string]string `json:"daemons,omitempty"`
	LensCodes        []string          `json:"lensCodes,omitempty"`

	TopicLocators []string `json:"topicLocators,omitempty"`
	RedirectTo    string   `json:"redirectToId,omitempty"`
	SentenceIDs   []string `json:"sentenceIds,omitempty"`
}

// WordGram is a gram vertex held in memory. It is owned by the worker that
// loaded it until it is committed or dropped.
type WordGram struct {
	env versioned.Envelope
	id  string
	d   data

	// loadedRedirect is the redirect the vertex carried when it was read.
	loadedRedirect string
}

// New builds a vertex in memory. Nothing is persisted until Commit.
func New(id, words string, size int) (*WordGram, error) {
	if id == "" {
		return nil, fmt.Errorf("word gram id is empty")
	}
	if strings.TrimSpace(words) == "" {
		return nil, fmt.Errorf("word gram words are empty")
	}
	if err := checkSize(size); err != nil {
		return nil, err
	}
	return &WordGram{id: id, d: data{Words: words, Size: size}}, nil
}

func checkSize(size int) error {
	if size < MinSize || size > MaxSize {
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	return nil
}

func (g *WordGram) ID() string                    { return g.id }
func (g *WordGram) Envelope() *versioned.Envelope { return &g.env }
func (g *WordGram) Version() int64                { return g.env.CurrentVersion() }
func (g *WordGram) IsNew() bool                   { return g.env.IsNew() }
func (g *WordGram) MarkNew()                      { g.env.MarkNew() }

func (g *WordGram) clone() *WordGram {
	c := *g
	d := &c.d
	for _, s := range []*[]string{
		&d.WordIDs, &d.LexTypes, &d.Expectations, &d.LatticeTypes, &d.Attributes,
		&d.Hypernyms, &d.Hyponyms, &d.Synonyms, &d.SynonymIDs, &d.OntReferences,
		&d.SemanticFrameIDs, &d.LensCodes, &d.TopicLocators, &d.SentenceIDs,
	} {
		*s = slices.Clone(*s)
	}
	d.Roles = maps.Clone(d.Roles)
	d.Daemons = maps.Clone(d.Daemons)
	return &c
}

// JSON renders the full vertex.
func (g *WordGram) JSON() ([]byte, error) {
	return json.Marshal(struct {
		ID      string `json:"id"`
		Version int64  `json:"version"`
		*data
	}{g.id, g.env.CurrentVersion(), &g.d})
}

func addUnique(list []string, v string) []string {
	if v == "" || slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func remove(list []string, v string) []string {
	if i := slices.Index(list, v); i >= 0 {
		return slices.Delete(list, i, i+1)
	}
	return list
}

func (g *WordGram) Words() string         { return g.d.Words }
func (g *WordGram) SetWords(words string) { g.d.Words = words }
func (g *WordGram) Size() int             { return g.d.Size }

func (g *WordGram) SetSize(size int) error {
	if err := checkSize(size); err != nil {
		return err
	}
	g.d.Size = size
	return nil
}

func (g *WordGram) Lemma() string          { return g.d.Lemma }
func (g *WordGram) SetLemma(lemma string)  { g.d.Lemma = lemma }
func (g *WordGram) FormulaID() string      { return g.d.FormulaID }
func (g *WordGram) SetFormulaID(id string) { g.d.FormulaID = id }

func (g *WordGram) AddWordID(id string) { g.d.WordIDs = addUnique(g.d.WordIDs, id) }
func (g *WordGram) WordIDs() []string   { return slices.Clone(g.d.WordIDs) }

// SetIsStopWord flags the vertex as a stop word. Stop words do not track
// sentence membership.
func (g *WordGram) SetIsStopWord() {
	g.d.IsStopWord = true
	g.d.SentenceIDs = nil
}

func (g *WordGram) AddSentenceID(id string) {
	if g.IsStopWord() {
		return
	}
	g.d.SentenceIDs = addUnique(g.d.SentenceIDs, id)
}

func (g *WordGram) RemoveSentenceID(id string) {
	if g.IsStopWord() {
		return
	}
	g.d.SentenceIDs = remove(g.d.SentenceIDs, id)
}

func (g *WordGram) SentenceIDs() []string { return slices.Clone(g.d.SentenceIDs) }

// SetRedirectToID marks the vertex as merged into target. It can be called
// once per vertex.
func (g *WordGram) SetRedirectToID(target string) error {
	if g.d.RedirectTo != "" {
		return fmt.Errorf("%w: %s already redirects to %s", ErrAlreadyRedirected, g.id, g.d.RedirectTo)
	}
	if target == "" || target == g.id {
		return fmt.Errorf("%w: %s", ErrSelfRedirect, g.id)
	}
	g.d.RedirectTo = target
	return nil
}

func (g *WordGram) RedirectToID() string { return g.d.RedirectTo }
func (g *WordGram) HasRedirect() bool    { return g.d.RedirectTo != "" }

func (g *WordGram) SetIsInversePredicate()   { g.d.IsInversePredicate = true }
func (g *WordGram) IsInversePredicate() bool { return g.d.IsInversePredicate }

func (g *WordGram) SetIsNegativePredicate()   { g.d.IsNegativePredicate = true }
func (g *WordGram) IsNegativePredicate() bool { return g.d.IsNegativePredicate }

// SetContradictionPredicateID links the vertex to the vertex of its logical
// negation.
func (g *WordGram) SetContradictionPredicateID(id string) { g.d.ContradictionID = id }
func (g *WordGram) ContradictionPredicateID() string      { return g.d.ContradictionID }
func (g *WordGram) HasContradictionPredicate() bool       { return g.d.ContradictionID != "" }

func (g *WordGram) SetPredicatePropertyType(t string) { g.d.PredicatePropertyType = t }
func (g *WordGram) PredicatePropertyType() string     { return g.d.PredicatePropertyType }
func (g *WordGram) HasPredicatePropertyType() bool    { return g.d.PredicatePropertyType != "" }

func (g *WordGram) SetPredicateTense(tense string) { g.d.PredicateTense = tense }
func (g *WordGram) PredicateTense() string         { return g.d.PredicateTense }

func (g *WordGram) AddTopicLocator(locator string) {
	g.d.TopicLocators = addUnique(g.d.TopicLocators, locator)
}

func (g *WordGram) RemoveTopicLocator(locator string) {
	g.d.TopicLocators = remove(g.d.TopicLocators, locator)
}

// SubstituteTopicLocator replaces oldLocator with newLocator in place. If
// newLocator is already present, oldLocator is just dropped. It reports
// whether the set changed.
func (g *WordGram) SubstituteTopicLocator(oldLocator, newLocator string) bool {
	i := slices.Index(g.d.TopicLocators, oldLocator)
	if i < 0 || oldLocator == newLocator {
		return false
	}
	if newLocator == "" || slices.Contains(g.d.TopicLocators, newLocator) {
		g.d.TopicLocators = slices.Delete(g.d.TopicLocators, i, i+1)
		return true
	}
	g.d.TopicLocators[i] = newLocator
	return true
}

func (g *WordGram) TopicLocators() []string { return slices.Clone(g.d.TopicLocators) }

// NumTopicLocators above one means the vertex labels several topics that
// may need merging.
func (g *WordGram) NumTopicLocators() int { return len(g.d.TopicLocators) }

func (g *WordGram) SetDBPediaURI(uri string) { g.d.DBPediaURI = uri }
func (g *WordGram) DBPediaURI() string       { return g.d.DBPediaURI }
func (g *WordGram) HasDBPedia() bool         { return g.d.DBPediaURI != "" }

func (g *WordGram) AddOntReference(uri string) { g.d.OntReferences = addUnique(g.d.OntReferences, uri) }
func (g *WordGram) OntReferences() []string    { return slices.Clone(g.d.OntReferences) }
func (g *WordGram) HasOntReferences() bool     { return len(g.d.OntReferences) > 0 }

func (g *WordGram) AddLensCode(code string)           { g.d.LensCodes = addUnique(g.d.LensCodes, code) }
func (g *WordGram) RemoveLensCode(code string)        { g.d.LensCodes = remove(g.d.LensCodes, code) }
func (g *WordGram) LensCodes() []string               { return slices.Clone(g.d.LensCodes) }
func (g *WordGram) ContainsLensCode(code string) bool { return slices.Contains(g.d.LensCodes, code) }

func (g *WordGram) AddLatticeType(t string)      { g.d.LatticeTypes = addUnique(g.d.LatticeTypes, t) }
func (g *WordGram) RemoveLatticeType(t string)   { g.d.LatticeTypes = remove(g.d.LatticeTypes, t) }
func (g *WordGram) LatticeTypes() []string       { return slices.Clone(g.d.LatticeTypes) }
func (g *WordGram) HasLatticeType(t string) bool { return slices.Contains(g.d.LatticeTypes, t) }

func (g *WordGram) AddHypernym(word string) { g.d.Hypernyms = addUnique(g.d.Hypernyms, word) }
func (g *WordGram) Hypernyms() []string     { return slices.Clone(g.d.Hypernyms) }
func (g *WordGram) HasHypernyms() bool      { return len(g.d.Hypernyms) > 0 }

func (g *WordGram) AddHyponym(word string) { g.d.Hyponyms = addUnique(g.d.Hyponyms, word) }
func (g *WordGram) Hyponyms() []string     { return slices.Clone(g.d.Hyponyms) }
func (g *WordGram) HasHyponyms() bool      { return len(g.d.Hyponyms) > 0 }

func (g *WordGram) AddSynonym(word string) { g.d.Synonyms = addUnique(g.d.Synonyms, word) }
func (g *WordGram) Synonyms() []string     { return slices.Clone(g.d.Synonyms) }
func (g *WordGram) HasSynonyms() bool      { return len(g.d.Synonyms) > 0 }

// AddSynonymID records another vertex with the same meaning. A vertex is
// never its own synonym.
func (g *WordGram) AddSynonymID(id string) {
	if id == g.id {
		return
	}
	g.d.SynonymIDs = addUnique(g.d.SynonymIDs, id)
}

func (g *WordGram) RemoveSynonymID(id string) { g.d.SynonymIDs = remove(g.d.SynonymIDs, id) }
func (g *WordGram) SynonymIDs() []string      { return slices.Clone(g.d.SynonymIDs) }

// AddRole records the semantic role the vertex plays in a sentence.
func (g *WordGram) AddRole(sentenceID, role string) {
	if g.d.Roles == nil {
		g.d.Roles = make(map[string]string)
	}
	g.d.Roles[sentenceID] = role
}

func (g *WordGram) Role(sentenceID string) string { return g.d.Roles[sentenceID] }
func (g *WordGram) Roles() map[string]string      { return maps.Clone(g.d.Roles) }

func (g *WordGram) AddSemanticFrameID(id string) {
	g.d.SemanticFrameIDs = addUnique(g.d.SemanticFrameIDs, id)
}

func (g *WordGram) SemanticFrameIDs() []string { return slices.Clone(g.d.SemanticFrameIDs) }
func (g *WordGram) HasSemanticFrames() bool    { return len(g.d.SemanticFrameIDs) > 0 }

func (g *WordGram) AddAttribute(a string)      { g.d.Attributes = addUnique(g.d.Attributes, a) }
func (g *WordGram) Attributes() []string       { return slices.Clone(g.d.Attributes) }
func (g *WordGram) HasAttribute(a string) bool { return slices.Contains(g.d.Attributes, a) }

// SetDaemon binds a handler token to one of the words of the gram.
func (g *WordGram) SetDaemon(wordID, token string) {
	if g.d.Daemons == nil {
		g.d.Daemons = make(map[string]string)
	}
	g.d.Daemons[wordID] = token
}

func (g *WordGram) Daemon(wordID string) string { return g.d.Daemons[wordID] }
func (g *WordGram) Daemons() map[string]string  { return maps.Clone(g.d.Daemons) }
