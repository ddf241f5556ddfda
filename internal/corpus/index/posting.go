package index

import "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"

// Posting is one term's occurrences in one document.
type Posting struct {
	DocID     string            `json:"doc_id"`
	Frequency int               `json:"frequency"`
	Positions []corpus.Position `json:"positions"`
}

type PostingList []Posting

type TermEntry struct {
	Term     string
	Postings PostingList
}

// Snapshot is a point-in-time, self-contained copy of the index contents.
type Snapshot struct {
	Tokenization corpus.Tokenization
	Documents    []corpus.Document
	Terms        []TermEntry
	TagInstances []corpus.TagInstance
}

// Stats summarises index contents.
type Stats struct {
	Documents    int `json:"documents"`
	Terms        int `json:"terms"`
	Tokens       int `json:"tokens"`
	TagInstances int `json:"tag_instances"`
}
