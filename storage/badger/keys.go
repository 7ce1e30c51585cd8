package badger

import (
	"github.com/poiesic/tonerag/core"
	"github.com/poiesic/tonerag/storage"
)

// Key prefixes for different data types
const (
	documentPrefix  = "doc"
	dimensionPrefix = "dim"
)

// makeDocumentPrefix generates the iteration prefix for one collection.
// Format: doc:collection:
func makeDocumentPrefix(collection string) []byte {
	return []byte(documentPrefix + ":" + collection + ":")
}

// makeDocumentKey generates a key for a document by ID.
// Format: doc:collection:id (8 bytes, BigEndian)
func makeDocumentKey(collection string, id core.ID) []byte {
	prefix := makeDocumentPrefix(collection)
	buf := make([]byte, 0, len(prefix)+8)
	buf = append(buf, prefix...)
	return append(buf, storage.MarshalID(id)...)
}

// makeDimensionKey generates the key recording a collection's vector size.
func makeDimensionKey(collection string) []byte {
	return []byte(dimensionPrefix + ":" + collection)
}
