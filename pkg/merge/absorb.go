package merge

import (
	"github.com/topicquests/tqos-asr-api/pkg/gram"
)

// absorb copies b's state into a. List and set fields are unioned, map
// entries and scalars only fill gaps in a.
func absorb(a, b *gram.WordGram) {
	for _, l := range b.TopicLocators() {
		a.AddTopicLocator(l)
	}
	for _, id := range b.SentenceIDs() {
		a.AddSentenceID(id)
	}

	for _, id := range b.SynonymIDs() {
		a.AddSynonymID(id)
	}
	a.RemoveSynonymID(b.ID())
	for _, w := range b.Synonyms() {
		a.AddSynonym(w)
	}
	if b.Words() != a.Words() {
		a.AddSynonym(b.Words())
	}

	union(b.OntReferences(), a.AddOntReference)
	union(b.Hypernyms(), a.AddHypernym)
	union(b.Hyponyms(), a.AddHyponym)
	union(b.LexTypes(), a.AddLexType)
	union(b.Expectations(), a.AddExpectation)
	union(b.LatticeTypes(), a.AddLatticeType)
	union(b.Attributes(), a.AddAttribute)
	union(b.LensCodes(), a.AddLensCode)
	union(b.SemanticFrameIDs(), a.AddSemanticFrameID)
	union(b.WordIDs(), a.AddWordID)

	for sentence, role := range b.Roles() {
		if a.Role(sentence) == "" {
			a.AddRole(sentence, role)
		}
	}
	for word, token := range b.Daemons() {
		if a.Daemon(word) == "" {
			a.SetDaemon(word, token)
		}
	}

	fill(a.Lemma(), b.Lemma(), a.SetLemma)
	fill(a.DBPediaURI(), b.DBPediaURI(), a.SetDBPediaURI)
	fill(a.FormulaID(), b.FormulaID(), a.SetFormulaID)
	fill(a.PredicatePropertyType(), b.PredicatePropertyType(), a.SetPredicatePropertyType)
	fill(a.PredicateTense(), b.PredicateTense(), a.SetPredicateTense)

	// a vertex cannot contradict itself
	switch c := b.ContradictionPredicateID(); {
	case a.ContradictionPredicateID() == b.ID():
		a.SetContradictionPredicateID("")
	case c != "" && c != a.ID() && !a.HasContradictionPredicate():
		a.SetContradictionPredicateID(c)
	}
}

func union(values []string, add func(string)) {
	for _, v := range values {
		add(v)
	}
}

func fill(current, fallback string, set func(string)) {
	if current == "" && fallback != "" {
		set(fallback)
	}
}
