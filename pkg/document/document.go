// Package document implements the document entity that sentences and grams
// are harvested from. Documents are appended to and never deleted.
package document

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/topicquests/tqos-asr-api/pkg/versioned"
)

// DefaultLanguage is used for language-keyed content when no code is given.
const DefaultLanguage = "en"

func lang(code string) string {
	if code = strings.TrimSpace(code); code == "" {
		return DefaultLanguage
	}
	return code
}

// Paragraph is embedded in its document; it has no identity of its own in
// the store.
type Paragraph struct {
	ID          string   `json:"id"`
	Language    string   `json:"language"`
	Text        string   `json:"text"`
	SentenceIDs []string `json:"sentenceIds,omitempty"`
}

type Author struct {
	Title                string `json:"title,omitempty"`
	Initials             string `json:"initials,omitempty"`
	FirstName            string `json:"firstName,omitempty"`
	MiddleName           string `json:"middleName,omitempty"`
	LastName             string `json:"lastName,omitempty"`
	Suffix               string `json:"suffix,omitempty"`
	Degree               string `json:"degree,omitempty"`
	FullName             string `json:"fullName,omitempty"`
	AuthorLocator        string `json:"authorLocator,omitempty"`
	PublicationLocator   string `json:"publicationLocator,omitempty"`
	PublisherLocator     string `json:"publisherLocator,omitempty"`
	AffiliationLocator   string `json:"affiliationLocator,omitempty"`
	AffiliationName      string `json:"affiliationName,omitempty"`
	PublicationTitle     string `json:"publicationTitle,omitempty"`
	PublicationPublisher string `json:"publicationPublisher,omitempty"`
}

// IsA records that the subject gram was read as a kind of the object gram
// in this document.
type IsA struct {
	SubjectID string `json:"subjectId"`
	ObjectID  string `json:"objectId"`
}

type Publication struct {
	Title     string `json:"title,omitempty"`
	Name      string `json:"name,omitempty"`
	Publisher string `json:"publisher,omitempty"`
	Volume    string `json:"volume,omitempty"`
	Issue     string `json:"issue,omitempty"`
	Pages     string `json:"pages,omitempty"`
	Year      string `json:"year,omitempty"`
	Date      string `json:"date,omitempty"`
	ISSN      string `json:"issn,omitempty"`
	Locator   string `json:"locator,omitempty"`
}

type data struct {
	PMID                 string       `json:"pmid,omitempty"`
	PMCID                string       `json:"pmcid,omitempty"`
	NodeType             string       `json:"nodeType,omitempty"`
	DocType              string       `json:"docType,omitempty"`
	Language             string       `json:"language,omitempty"`
	TopicLocator         string       `json:"topicLocator,omitempty"`
	OntologyClassLocator string       `json:"ontologyClassLocator,omitempty"`
	Publication          *Publication `json:"publication,omitempty"`

	Paragraphs []Paragraph            `json:"paragraphs,omitempty"`
	Labels     map[string][]string    `json:"labels,omitempty"`
	Abstracts  map[string][]Paragraph `json:"abstracts,omitempty"`
	Details    map[string][]string    `json:"details,omitempty"`
	Authors    []Author               `json:"authors,omitempty"`
	Citations  []json.RawMessage      `json:"citations,omitempty"`
	CitedBy    []string               `json:"citedBy,omitempty"`
	Properties map[string][]string    `json:"properties,omitempty"`
	Metadata   map[string]string      `json:"metadata,omitempty"`

	TagNames         []string `json:"tagNames,omitempty"`
	TagGramIDs       []string `json:"tagGramIds,omitempty"`
	SubstanceNames   []string `json:"substanceNames,omitempty"`
	SubstanceGramIDs []string `json:"substanceGramIds,omitempty"`
	DBpediaURIs      []string `json:"dbpediaUris,omitempty"`
	WikidataURIs     []string `json:"wikidataUris,omitempty"`

	IsAs []IsA `json:"isAs,omitempty"`

	Histogram       map[string]int64 `json:"histogram,omitempty"`
	ReadSentenceIDs []string         `json:"readSentenceIds,omitempty"`
	SentenceIDs     []string         `json:"sentenceIds,omitempty"`
}

type Document struct {
	env       versioned.Envelope
	id        string
	creatorID string
	url       string
	createdAt int64
	editedAt  int64
	d         data
}

// New builds a document for the source at url. Nothing is persisted until
// Commit.
func New(id, url, creatorID string) (*Document, error) {
	if id == "" {
		return nil, fmt.Errorf("document id is empty")
	}
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("document url is empty")
	}
	if creatorID == "" {
		return nil, fmt.Errorf("document creator is empty")
	}
	return &Document{id: id, url: url, creatorID: creatorID}, nil
}

func (d *Document) ID() string                    { return d.id }
func (d *Document) Envelope() *versioned.Envelope { return &d.env }
func (d *Document) Version() int64                { return d.env.CurrentVersion() }
func (d *Document) IsNew() bool                   { return d.env.IsNew() }
func (d *Document) CreatorID() string             { return d.creatorID }
func (d *Document) URL() string                   { return d.url }

// CreatedAt is zero until the first commit.
func (d *Document) CreatedAt() time.Time { return millis(d.createdAt) }
func (d *Document) EditedAt() time.Time  { return millis(d.editedAt) }

func millis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// JSON renders the full document.
func (d *Document) JSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string `json:"id"`
		Version   int64  `json:"version"`
		CreatorID string `json:"creatorId"`
		URL       string `json:"url"`
		CreatedAt int64  `json:"createdAt"`
		EditedAt  int64  `json:"editedAt"`
		*data
	}{d.id, d.env.CurrentVersion(), d.creatorID, d.url, d.createdAt, d.editedAt, &d.d})
}

func addUnique(list []string, v string) []string {
	if v == "" || slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func (d *Document) SetPMID(id string)        { d.d.PMID = id }
func (d *Document) PMID() string             { return d.d.PMID }
func (d *Document) SetPMCID(id string)       { d.d.PMCID = id }
func (d *Document) PMCID() string            { return d.d.PMCID }
func (d *Document) SetNodeType(t string)     { d.d.NodeType = t }
func (d *Document) NodeType() string         { return d.d.NodeType }
func (d *Document) SetDocType(t string)      { d.d.DocType = t }
func (d *Document) DocType() string          { return d.d.DocType }
func (d *Document) SetTopicLocator(l string) { d.d.TopicLocator = l }
func (d *Document) TopicLocator() string     { return d.d.TopicLocator }

func (d *Document) SetOntologyClassLocator(l string) { d.d.OntologyClassLocator = l }
func (d *Document) OntologyClassLocator() string     { return d.d.OntologyClassLocator }

// Language is the document's primary language, DefaultLanguage when unset.
func (d *Document) Language() string        { return lang(d.d.Language) }
func (d *Document) SetLanguage(code string) { d.d.Language = lang(code) }

func (d *Document) SetPublication(p Publication) { d.d.Publication = &p }

// Publication returns the publication metadata, or nil when none was set.
func (d *Document) Publication() *Publication {
	if d.d.Publication == nil {
		return nil
	}
	p := *d.d.Publication
	return &p
}

// AddParagraph appends p and returns its position. An empty language is
// stored as DefaultLanguage.
func (d *Document) AddParagraph(p Paragraph) int {
	p.Language = lang(p.Language)
	p.SentenceIDs = slices.Clone(p.SentenceIDs)
	d.d.Paragraphs = append(d.d.Paragraphs, p)
	return len(d.d.Paragraphs) - 1
}

// UpdateParagraph replaces the paragraph at index as a whole.
func (d *Document) UpdateParagraph(index int, p Paragraph) error {
	if index < 0 || index >= len(d.d.Paragraphs) {
		return fmt.Errorf("%w: %d of %d", ErrParagraphIndex, index, len(d.d.Paragraphs))
	}
	p.Language = lang(p.Language)
	p.SentenceIDs = slices.Clone(p.SentenceIDs)
	d.d.Paragraphs[index] = p
	return nil
}

func (d *Document) Paragraphs() []Paragraph {
	return cloneParagraphs(d.d.Paragraphs)
}

func cloneParagraphs(ps []Paragraph) []Paragraph {
	if ps == nil {
		return nil
	}
	out := make([]Paragraph, len(ps))
	for i, p := range ps {
		p.SentenceIDs = slices.Clone(p.SentenceIDs)
		out[i] = p
	}
	return out
}

func (d *Document) AddLabel(label, language string) {
	if d.d.Labels == nil {
		d.d.Labels = make(map[string][]string)
	}
	code := lang(language)
	d.d.Labels[code] = addUnique(d.d.Labels[code], label)
}

func (d *Document) Labels(language string) []string {
	return slices.Clone(d.d.Labels[lang(language)])
}

// Label returns the first label in language, or "".
func (d *Document) Label(language string) string {
	if l := d.d.Labels[lang(language)]; len(l) > 0 {
		return l[0]
	}
	return ""
}

func (d *Document) AddAbstract(p Paragraph) {
	if d.d.Abstracts == nil {
		d.d.Abstracts = make(map[string][]Paragraph)
	}
	p.Language = lang(p.Language)
	p.SentenceIDs = slices.Clone(p.SentenceIDs)
	d.d.Abstracts[p.Language] = append(d.d.Abstracts[p.Language], p)
}

func (d *Document) Abstracts(language string) []Paragraph {
	return cloneParagraphs(d.d.Abstracts[lang(language)])
}

func (d *Document) AddDetails(details, language string) {
	if d.d.Details == nil {
		d.d.Details = make(map[string][]string)
	}
	code := lang(language)
	d.d.Details[code] = append(d.d.Details[code], details)
}

func (d *Document) Details(language string) []string {
	return slices.Clone(d.d.Details[lang(language)])
}

func (d *Document) AddAuthor(a Author) { d.d.Authors = append(d.d.Authors, a) }
func (d *Document) Authors() []Author  { return slices.Clone(d.d.Authors) }

// AddCitation appends an outbound citation. c must be a JSON object.
func (d *Document) AddCitation(c json.RawMessage) error {
	var obj map[string]any
	if err := json.Unmarshal(c, &obj); err != nil {
		return fmt.Errorf("citation is not a JSON object: %w", err)
	}
	d.d.Citations = append(d.d.Citations, slices.Clone(c))
	return nil
}

func (d *Document) Citations() []json.RawMessage {
	if d.d.Citations == nil {
		return nil
	}
	out := make([]json.RawMessage, len(d.d.Citations))
	for i, c := range d.d.Citations {
		out[i] = slices.Clone(c)
	}
	return out
}

// AddCitedBy records an inbound citation from the document identified by ref.
func (d *Document) AddCitedBy(ref string) { d.d.CitedBy = addUnique(d.d.CitedBy, ref) }
func (d *Document) CitedBy() []string     { return slices.Clone(d.d.CitedBy) }

func (d *Document) AddTagName(name string) { d.d.TagNames = addUnique(d.d.TagNames, name) }
func (d *Document) TagNames() []string     { return slices.Clone(d.d.TagNames) }
func (d *Document) AddTagGramID(id string) { d.d.TagGramIDs = addUnique(d.d.TagGramIDs, id) }
func (d *Document) TagGramIDs() []string   { return slices.Clone(d.d.TagGramIDs) }

func (d *Document) AddSubstanceName(name string) {
	d.d.SubstanceNames = addUnique(d.d.SubstanceNames, name)
}

func (d *Document) SubstanceNames() []string { return slices.Clone(d.d.SubstanceNames) }

func (d *Document) AddSubstanceGramID(id string) {
	d.d.SubstanceGramIDs = addUnique(d.d.SubstanceGramIDs, id)
}

func (d *Document) SubstanceGramIDs() []string { return slices.Clone(d.d.SubstanceGramIDs) }
func (d *Document) AddDBpediaURI(uri string)   { d.d.DBpediaURIs = addUnique(d.d.DBpediaURIs, uri) }
func (d *Document) DBpediaURIs() []string      { return slices.Clone(d.d.DBpediaURIs) }
func (d *Document) AddWikidataURI(uri string)  { d.d.WikidataURIs = addUnique(d.d.WikidataURIs, uri) }
func (d *Document) WikidataURIs() []string     { return slices.Clone(d.d.WikidataURIs) }
func (d *Document) AddSentenceID(id string)    { d.d.SentenceIDs = addUnique(d.d.SentenceIDs, id) }
func (d *Document) SentenceIDs() []string      { return slices.Clone(d.d.SentenceIDs) }

// RemoveSentenceID drops id from the document's sentences, read or not.
func (d *Document) RemoveSentenceID(id string) {
	d.d.SentenceIDs = remove(d.d.SentenceIDs, id)
	d.d.ReadSentenceIDs = remove(d.d.ReadSentenceIDs, id)
}

func remove(list []string, v string) []string {
	if i := slices.Index(list, v); i >= 0 {
		return slices.Delete(list, i, i+1)
	}
	return list
}

func (d *Document) AddReadSentenceID(id string) {
	d.d.ReadSentenceIDs = addUnique(d.d.ReadSentenceIDs, id)
}

func (d *Document) ReadSentenceIDs() []string      { return slices.Clone(d.d.ReadSentenceIDs) }
func (d *Document) SentenceWasRead(id string) bool { return slices.Contains(d.d.ReadSentenceIDs, id) }

// AddToHistogram counts one more occurrence of gramID in the document.
func (d *Document) AddToHistogram(gramID string) {
	if gramID == "" {
		return
	}
	if d.d.Histogram == nil {
		d.d.Histogram = make(map[string]int64)
	}
	d.d.Histogram[gramID]++
}

func (d *Document) HistogramCount(gramID string) int64 {
	return d.d.Histogram[gramID]
}

func (d *Document) Histogram() map[string]int64 {
	return maps.Clone(d.d.Histogram)
}

// AddProperty appends value to the multi-valued property key.
func (d *Document) AddProperty(key, value string) {
	if d.d.Properties == nil {
		d.d.Properties = make(map[string][]string)
	}
	d.d.Properties[key] = addUnique(d.d.Properties[key], value)
}

func (d *Document) Property(key string) []string {
	return slices.Clone(d.d.Properties[key])
}

func (d *Document) RemoveProperty(key string) {
	delete(d.d.Properties, key)
}

// RemovePropertyValue drops one value of key. A key left without values is
// removed.
func (d *Document) RemovePropertyValue(key, value string) {
	values := remove(d.d.Properties[key], value)
	if len(values) == 0 {
		delete(d.d.Properties, key)
		return
	}
	d.d.Properties[key] = values
}

// AddIsA records that subjectID is a kind of objectID, as found while
// reading this document.
func (d *Document) AddIsA(subjectID, objectID string) error {
	if subjectID == "" || objectID == "" {
		return fmt.Errorf("is-a needs a subject and an object gram id")
	}
	if subjectID == objectID {
		return fmt.Errorf("gram %s cannot be a kind of itself", subjectID)
	}
	if !d.IsA(subjectID, objectID) {
		d.d.IsAs = append(d.d.IsAs, IsA{SubjectID: subjectID, ObjectID: objectID})
	}
	return nil
}

func (d *Document) IsA(subjectID, objectID string) bool {
	return slices.Contains(d.d.IsAs, IsA{SubjectID: subjectID, ObjectID: objectID})
}

func (d *Document) IsAs() []IsA { return slices.Clone(d.d.IsAs) }

func (d *Document) RemoveIsA(subjectID, objectID string) {
	d.d.IsAs = slices.DeleteFunc(d.d.IsAs, func(r IsA) bool {
		return r.SubjectID == subjectID && r.ObjectID == objectID
	})
}

func (d *Document) SetMetadata(key, value string) {
	if d.d.Metadata == nil {
		d.d.Metadata = make(map[string]string)
	}
	d.d.Metadata[key] = value
}

func (d *Document) Metadata(key string) string {
	return d.d.Metadata[key]
}
