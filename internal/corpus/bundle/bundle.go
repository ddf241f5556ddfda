// Package bundle reads corpus source material, documents plus their tag
// instances, from JSON bundle files or directories and turns it into an
// index snapshot.
package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/errors"
)

const maxDocumentBytes = 64 << 20

// Bundle is the on-disk source format.
type Bundle struct {
	Tokenization corpus.Tokenization  `json:"tokenization"`
	Documents    []corpus.Document    `json:"documents"`
	TagInstances []corpus.TagInstance `json:"tag_instances"`
}

// ValidationError holds per-item validation failures.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	const shown = 5
	if len(e.Problems) <= shown {
		return strings.Join(e.Problems, "; ")
	}
	return fmt.Sprintf("%s; and %d more", strings.Join(e.Problems[:shown], "; "), len(e.Problems)-shown)
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

// Load reads a bundle from a JSON file, or merges every *.json bundle and
// *.txt document found directly in a directory. A .txt file becomes a
// document whose id is the file name without extension.
func Load(path string) (*Bundle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus source: %w", err)
	}
	if !info.IsDir() {
		return loadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", path, err)
	}
	merged := &Bundle{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		full := filepath.Join(path, e.Name())
		switch filepath.Ext(e.Name()) {
		case ".json":
			b, err := loadFile(full)
			if err != nil {
				return nil, err
			}
			if len(b.Tokenization.UnseparableSequences) > 0 || b.Tokenization.SeparatorChars != "" {
				merged.Tokenization = b.Tokenization
			}
			merged.Documents = append(merged.Documents, b.Documents...)
			merged.TagInstances = append(merged.TagInstances, b.TagInstances...)
		case ".txt":
			doc, err := loadText(full)
			if err != nil {
				return nil, err
			}
			merged.Documents = append(merged.Documents, doc)
		}
	}
	return merged, nil
}

func loadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bundle %s: %w", path, err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: parsing bundle %s: %w", apperrors.ErrInvalidInput, path, err)
	}
	return &b, nil
}

func loadText(path string) (corpus.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return corpus.Document{}, fmt.Errorf("reading document %s: %w", path, err)
	}
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return corpus.Document{ID: id, Title: id, Text: string(data)}, nil
}

// Validate checks ids, text sizes and that every tag instance points at an
// existing document with ranges inside its text.
func (b *Bundle) Validate() error {
	var problems []string
	lengths := make(map[string]int, len(b.Documents))
	for i, d := range b.Documents {
		switch {
		case strings.TrimSpace(d.ID) == "":
			problems = append(problems, fmt.Sprintf("documents[%d]: id is required", i))
			continue
		case len(d.Text) > maxDocumentBytes:
			problems = append(problems, fmt.Sprintf("document %s: text exceeds %d bytes", d.ID, maxDocumentBytes))
		case !utf8.ValidString(d.Text):
			problems = append(problems, fmt.Sprintf("document %s: text is not valid UTF-8", d.ID))
		}
		if _, dup := lengths[d.ID]; dup {
			problems = append(problems, fmt.Sprintf("document %s: duplicate id", d.ID))
		}
		lengths[d.ID] = utf8.RuneCountInString(d.Text)
	}

	seen := make(map[string]struct{}, len(b.TagInstances))
	for i, t := range b.TagInstances {
		if t.ID == "" {
			problems = append(problems, fmt.Sprintf("tag_instances[%d]: id is required", i))
			continue
		}
		if _, dup := seen[t.ID]; dup {
			problems = append(problems, fmt.Sprintf("tag instance %s: duplicate id", t.ID))
		}
		seen[t.ID] = struct{}{}
		n, ok := lengths[t.DocumentID]
		if !ok {
			problems = append(problems, fmt.Sprintf("tag instance %s: unknown document %q", t.ID, t.DocumentID))
			continue
		}
		if t.DefinitionName == "" && t.DefinitionPath == "" {
			problems = append(problems, fmt.Sprintf("tag instance %s: definition name or path is required", t.ID))
		}
		if len(t.Ranges) == 0 {
			problems = append(problems, fmt.Sprintf("tag instance %s: no ranges", t.ID))
		}
		for _, r := range t.Ranges {
			if r.Start < 0 || r.End <= r.Start || r.End > n {
				problems = append(problems, fmt.Sprintf("tag instance %s: range [%d,%d) outside document of %d characters", t.ID, r.Start, r.End, n))
			}
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Build validates b and indexes it. Documents are added in id order so
// that builds are reproducible.
func (b *Bundle) Build() (*index.MemoryIndex, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	docs := append([]corpus.Document(nil), b.Documents...)
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	idx := index.NewMemoryIndex(b.Tokenization)
	for _, d := range docs {
		if err := idx.AddDocument(d); err != nil {
			return nil, fmt.Errorf("indexing document %s: %w", d.ID, err)
		}
	}
	for _, t := range b.TagInstances {
		if err := idx.AddTagInstance(t); err != nil {
			return nil, fmt.Errorf("adding tag instance %s: %w", t.ID, err)
		}
	}
	return idx, nil
}
