package storage

import (
	"testing"

	"github.com/poiesic/tonerag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalID(t *testing.T) {
	id := core.IDFromContent("u-1")
	data := MarshalID(id)
	require.Len(t, data, 8)

	got, err := UnmarshalID(data)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = UnmarshalID([]byte{1, 2})
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestIndexedDocumentEncoding(t *testing.T) {
	doc := &core.IndexedDocument{
		ID:      core.IDFromContent("u-1"),
		Content: "오늘 많이 힘들었어",
		Metadata: map[string]any{
			core.MetaUtteranceID: "u-1",
			core.MetaTerminate:   false,
			"turn":               3,
		},
		Vector: []float32{0.5, -0.5},
	}

	data, err := MarshalIndexedDocument(doc)
	require.NoError(t, err)

	got, err := UnmarshalIndexedDocument(data)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, doc.Content, got.Content)
	assert.Equal(t, doc.Vector, got.Vector)
	assert.Equal(t, map[string]any{
		core.MetaUtteranceID: "u-1",
		core.MetaTerminate:   "false",
		"turn":               "3",
	}, got.Metadata)
}

func TestUnmarshalIndexedDocument_Corrupt(t *testing.T) {
	_, err := UnmarshalIndexedDocument([]byte("{not json"))
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestStringMetadata(t *testing.T) {
	got := StringMetadata(map[string]any{
		"s":   "x",
		"b":   true,
		"i":   42,
		"f":   1.5,
		"f32": float32(0.25),
		"nil": nil,
	})
	assert.Equal(t, map[string]string{
		"s":   "x",
		"b":   "true",
		"i":   "42",
		"f":   "1.5",
		"f32": "0.25",
	}, got)
}
