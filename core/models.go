package core

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// Metadata keys attached to every document produced by the loader.
const (
	MetaPersonaID   = "persona_id"
	MetaUtteranceID = "utterance_id"
	MetaTerminate   = "terminate"
	MetaCategory    = "category"
	MetaTopic       = "topic"
	MetaFileID      = "file_id"
	MetaFileName    = "file_name"
	MetaSourceFile  = "source_file"
)

// NoneValue replaces null metadata values.
const NoneValue = "none"

type ID uint64

func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// String renders the ID the way vector index backends key documents.
func (id ID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// Document is one unit of conversational content plus its attributes.
type Document struct {
	Content  string
	Metadata map[string]any
}

// UnitID returns the utterance identifier, or "" when the document has none.
func (d *Document) UnitID() string {
	return MetadataString(d.Metadata, MetaUtteranceID)
}

// SourceFile returns the corpus file the document was loaded from.
func (d *Document) SourceFile() string {
	return MetadataString(d.Metadata, MetaSourceFile)
}

// IndexedDocument is a Document ready to be written to a vector index.
type IndexedDocument struct {
	ID       ID
	Content  string
	Metadata map[string]any
	Vector   []float32
}

// NewIndexedDocument derives the document ID from its unit id so repeated
// writes of the same utterance land on the same index entry.
func NewIndexedDocument(doc Document, vector []float32) IndexedDocument {
	key := doc.UnitID()
	if key == "" {
		key = doc.Content
	}
	return IndexedDocument{
		ID:       IDFromContent(key),
		Content:  doc.Content,
		Metadata: doc.Metadata,
		Vector:   vector,
	}
}

type IngestedFile struct {
	ID        int64
	FilePath  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ChatLogEntry struct {
	ID                int64
	UserID            string
	InputContent      string
	OutputContent     string // raw model output
	TranslatedContent string // reply extracted from OutputContent
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type SearchResult struct {
	Content  string
	Metadata map[string]any
	Score    float32
}

// MetadataString reads key from metadata as a string. Non-string primitives
// are formatted; missing keys yield "".
func MetadataString(metadata map[string]any, key string) string {
	v, ok := metadata[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
