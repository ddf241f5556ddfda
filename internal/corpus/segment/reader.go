// Package segment reads and writes .cqs corpus snapshot files: positional
// postings, a sorted term dictionary, and the documents and annotations the
// postings refer to, guarded by a checksum.
package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/index"
)

type Reader struct {
	file     *os.File
	filePath string
	header   Header
	dict     []DictEntry
	meta     meta
}

// OpenReader opens a snapshot file and verifies its header and checksum.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot file: %w", err)
	}
	r, err := openFile(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func openFile(f *os.File, path string) (*Reader, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading snapshot header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("invalid snapshot file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}

	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	metaBytes := make([]byte, header.MetaSize)
	if _, err := f.ReadAt(metaBytes, header.MetaOffset); err != nil {
		return nil, fmt.Errorf("reading documents and annotations: %w", err)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.MetaOffset+header.MetaSize); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	if want, got := binary.LittleEndian.Uint32(footer[0:4]), checksum(dictBytes, metaBytes); want != got {
		return nil, fmt.Errorf("snapshot checksum mismatch: want %08x, got %08x", want, got)
	}

	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}
	var m meta
	if err := json.Unmarshal(metaBytes, &m); err != nil {
		return nil, fmt.Errorf("parsing documents and annotations: %w", err)
	}
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
		meta:     m,
	}, nil
}

// Search reads the postings of a single term from disk.
func (r *Reader) Search(term string) (index.PostingList, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Term != term {
		return nil, nil
	}
	return r.readPostings(r.dict[idx])
}

func (r *Reader) readPostings(entry DictEntry) (index.PostingList, error) {
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings for %q: %w", entry.Term, err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings for %q: %w", entry.Term, err)
	}
	return postings, nil
}

// Snapshot materialises the whole file.
func (r *Reader) Snapshot() (index.Snapshot, error) {
	snap := index.Snapshot{
		Tokenization: r.meta.Tokenization,
		Documents:    r.meta.Documents,
		Terms:        make([]index.TermEntry, 0, len(r.dict)),
		TagInstances: r.meta.TagInstances,
	}
	for _, entry := range r.dict {
		postings, err := r.readPostings(entry)
		if err != nil {
			return index.Snapshot{}, err
		}
		snap.Terms = append(snap.Terms, index.TermEntry{Term: entry.Term, Postings: postings})
	}
	return snap, nil
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) CreatedAt() time.Time {
	return time.Unix(r.header.CreatedAt, 0)
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) Close() error {
	return r.file.Close()
}

// Load restores the snapshot at path into a fresh MemoryIndex.
func Load(path string) (*index.MemoryIndex, error) {
	r, err := OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	snap, err := r.Snapshot()
	if err != nil {
		return nil, err
	}
	m := index.NewMemoryIndex(snap.Tokenization)
	if err := m.Restore(snap); err != nil {
		return nil, fmt.Errorf("restoring %s: %w", path, err)
	}
	return m, nil
}
