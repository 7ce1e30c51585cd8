// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/poiesic/tonerag/core"
)

// indexedRecord is the on-disk shape of an IndexedDocument in key-value backends.
type indexedRecord struct {
	ID       uint64            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Vector   []float32         `json:"vector"`
}

func MarshalID(id core.ID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func UnmarshalID(data []byte) (core.ID, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: id must be 8 bytes, got %d", ErrSerializationFailed, len(data))
	}
	return core.ID(binary.BigEndian.Uint64(data)), nil
}

// MarshalIndexedDocument encodes doc. Metadata is flattened to strings so
// every backend returns identical attribute values.
func MarshalIndexedDocument(doc *core.IndexedDocument) ([]byte, error) {
	data, err := json.Marshal(indexedRecord{
		ID:       uint64(doc.ID),
		Content:  doc.Content,
		Metadata: StringMetadata(doc.Metadata),
		Vector:   doc.Vector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

func UnmarshalIndexedDocument(data []byte) (*core.IndexedDocument, error) {
	var record indexedRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &core.IndexedDocument{
		ID:       core.ID(record.ID),
		Content:  record.Content,
		Metadata: AnyMetadata(record.Metadata),
		Vector:   record.Vector,
	}, nil
}
