package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/index"
)

// MagicBytes identifies a valid .cqs corpus snapshot file ("CQSX").
const (
	MagicBytes    uint32 = 0x43515358
	FormatVersion uint32 = 2
	HeaderSize    int    = 96
	FooterSize    int    = 16
	FileExtension        = ".cqs"
)

// Header is written at the start of every snapshot file. Offsets are
// absolute file offsets.
type Header struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	CreatedAt  int64
	PostOffset int64
	PostSize   int64
	DictOffset int64
	DictSize   int64
	MetaOffset int64
	MetaSize   int64
}

// DictEntry maps a term to its postings offset (relative to the postings
// section), length and document frequency.
type DictEntry struct {
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// meta is the section holding everything that is not a posting list.
type meta struct {
	Tokenization corpus.Tokenization `json:"tokenization"`
	Documents    []corpus.Document    `json:"documents"`
	TagInstances []corpus.TagInstance `json:"tag_instances"`
}

// Write atomically creates a snapshot file at path. It writes to a .tmp
// file first and renames on success. Terms must be sorted, as produced by
// MemoryIndex.Snapshot.
func Write(path string, snap index.Snapshot) error {
	if len(snap.Documents) == 0 {
		return fmt.Errorf("cannot write empty snapshot")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating snapshot directory: %w", err)
		}
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}
	defer f.Close()

	header := Header{
		Magic:     MagicBytes,
		Version:   FormatVersion,
		TermCount: uint32(len(snap.Terms)),
		DocCount:  uint32(len(snap.Documents)),
		CreatedAt: time.Now().Unix(),
	}
	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		return fmt.Errorf("writing header placeholder: %w", err)
	}

	header.PostOffset = int64(HeaderSize)
	offset := int64(0)
	dict := make([]DictEntry, 0, len(snap.Terms))
	for i, entry := range snap.Terms {
		if i > 0 && snap.Terms[i-1].Term >= entry.Term {
			return fmt.Errorf("terms not sorted at %q", entry.Term)
		}
		postingsData, err := json.Marshal(entry.Postings)
		if err != nil {
			return fmt.Errorf("marshaling postings for term %q: %w", entry.Term, err)
		}
		if _, err := f.Write(postingsData); err != nil {
			return fmt.Errorf("writing postings for term %q: %w", entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Term:       entry.Term,
			PostOffset: offset,
			PostLen:    len(postingsData),
			DocFreq:    len(entry.Postings),
		})
		offset += int64(len(postingsData))
	}
	header.PostSize = offset

	dictData, err := json.Marshal(dict)
	if err != nil {
		return fmt.Errorf("marshaling dictionary: %w", err)
	}
	header.DictOffset = header.PostOffset + header.PostSize
	header.DictSize = int64(len(dictData))
	if _, err := f.Write(dictData); err != nil {
		return fmt.Errorf("writing dictionary: %w", err)
	}

	metaData, err := json.Marshal(meta{
		Tokenization: snap.Tokenization,
		Documents:    snap.Documents,
		TagInstances: snap.TagInstances,
	})
	if err != nil {
		return fmt.Errorf("marshaling documents and annotations: %w", err)
	}
	header.MetaOffset = header.DictOffset + header.DictSize
	header.MetaSize = int64(len(metaData))
	if _, err := f.Write(metaData); err != nil {
		return fmt.Errorf("writing documents and annotations: %w", err)
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum(dictData, metaData))
	binary.LittleEndian.PutUint32(footer[4:8], MagicBytes)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(header.MetaOffset+header.MetaSize))
	if _, err := f.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	if _, err := f.WriteAt(encodeHeader(header), 0); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing snapshot file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming snapshot file: %w", err)
	}
	return nil
}

func checksum(dictData, metaData []byte) uint32 {
	sum := crc32.NewIEEE()
	sum.Write(dictData)
	sum.Write(metaData)
	return sum.Sum32()
}

func encodeHeader(h Header) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.MetaOffset))
	binary.LittleEndian.PutUint64(b[64:72], uint64(h.MetaSize))
	return b
}

func decodeHeader(b []byte) Header {
	return Header{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		TermCount:  binary.LittleEndian.Uint32(b[8:12]),
		DocCount:   binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[16:24])),
		PostOffset: int64(binary.LittleEndian.Uint64(b[24:32])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[32:40])),
		DictOffset: int64(binary.LittleEndian.Uint64(b[40:48])),
		DictSize:   int64(binary.LittleEndian.Uint64(b[48:56])),
		MetaOffset: int64(binary.LittleEndian.Uint64(b[56:64])),
		MetaSize:   int64(binary.LittleEndian.Uint64(b[64:72])),
	}
}
