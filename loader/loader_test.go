package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/tonerag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const sampleCorpus = `{
  "info": {"id": 17, "name": "session-17", "category": "family", "topic": "dinner"},
  "utterances": [
    {"utterance_id": "u-1", "persona_id": 3, "text": "오늘 많이 힘들었어", "terminate": false},
    {"utterance_id": 2, "persona_id": "p-4", "text": "저녁 먹었어?", "terminate": true},
    {"persona_id": "p-4", "text": "no id here"}
  ]
}`

func TestLoadFile(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "a.json"), sampleCorpus)

	docs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "오늘 많이 힘들었어", docs[0].Content)
	assert.Equal(t, map[string]any{
		core.MetaPersonaID:   "3",
		core.MetaUtteranceID: "u-1",
		core.MetaTerminate:   false,
		core.MetaCategory:    "family",
		core.MetaTopic:       "dinner",
		core.MetaFileID:      "17",
		core.MetaFileName:    "session-17",
		core.MetaSourceFile:  path,
	}, docs[0].Metadata)

	assert.Equal(t, "2", docs[1].UnitID())
	assert.Equal(t, true, docs[1].Metadata[core.MetaTerminate])

	// Missing ids load as empty strings; the pipeline drops them.
	assert.Equal(t, "", docs[2].UnitID())
	assert.Equal(t, path, docs[2].SourceFile())
}

func TestLoadFile_MissingInfo(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "a.json"),
		`{"utterances": [{"utterance_id": "u-1", "text": "hi"}]}`)

	docs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "", docs[0].Metadata[core.MetaCategory])
	assert.Equal(t, "", docs[0].Metadata[core.MetaPersonaID])
	assert.Equal(t, false, docs[0].Metadata[core.MetaTerminate])
}

func TestLoadFile_EmptyUtterances(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "a.json"), `{"info": {}, "utterances": []}`)

	docs, err := LoadFile(path)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		contents string
		cause    error
	}{
		{"malformed json", `{"utterances": [`, nil},
		{"no utterances", `{"info": {}}`, ErrNoUtterances},
		{"null utterances", `{"utterances": null}`, ErrNoUtterances},
		{"missing text", `{"utterances": [{"utterance_id": "u-1"}]}`, ErrMissingText},
		{"non-string text", `{"utterances": [{"utterance_id": "u-1", "text": 5}]}`, ErrMissingText},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, filepath.Join(dir, fmt.Sprintf("%d.json", i)), tt.contents)

			docs, err := LoadFile(path)
			assert.Empty(t, docs)
			assert.ErrorIs(t, err, core.ErrLoad)

			var loadErr *LoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, path, loadErr.Path)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}

	_, err := LoadFile(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, core.ErrLoad)
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.json"), "{}")
	writeFile(t, filepath.Join(root, "a.json"), "{}")
	writeFile(t, filepath.Join(root, "nested", "deeper", "c.json"), "{}")
	writeFile(t, filepath.Join(root, "notes.txt"), "skip")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir.json"), 0o755))

	paths, err := Discover(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.json"),
		filepath.Join(root, "b.json"),
		filepath.Join(root, "nested", "deeper", "c.json"),
	}, paths)
}

func TestDiscover_MissingRoot(t *testing.T) {
	_, err := Discover(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, core.ErrFatalSetup)

	file := writeFile(t, filepath.Join(t.TempDir(), "a.json"), "{}")
	_, err = Discover(context.Background(), file)
	assert.ErrorIs(t, err, core.ErrFatalSetup)
}

func TestLoader_LoadAllKeepsOrder(t *testing.T) {
	root := t.TempDir()
	var paths []string
	for i := 0; i < 12; i++ {
		contents := fmt.Sprintf(`{"utterances": [{"utterance_id": "u-%d", "text": "t%d"}]}`, i, i)
		if i == 5 {
			contents = "not json"
		}
		paths = append(paths, writeFile(t, filepath.Join(root, fmt.Sprintf("%02d.json", i)), contents))
	}

	l, err := NewLoader(WithWorkers(4))
	require.NoError(t, err)
	defer l.Release()

	results, err := l.LoadAll(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, results, len(paths))

	for i, r := range results {
		assert.Equal(t, paths[i], r.Path)
		if i == 5 {
			assert.ErrorIs(t, r.Err, core.ErrLoad)
			assert.Empty(t, r.Documents)
			continue
		}
		require.NoError(t, r.Err)
		require.Len(t, r.Documents, 1)
		assert.Equal(t, fmt.Sprintf("u-%d", i), r.Documents[0].UnitID())
	}
}

func TestNewLoader_Workers(t *testing.T) {
	for _, n := range []int{0, -3} {
		_, err := NewLoader(WithWorkers(n))
		assert.ErrorIs(t, err, ErrInvalidWorkers, "workers=%d", n)
	}

	l, err := NewLoader(WithWorkers(1))
	require.NoError(t, err)
	l.Release()
}

func TestLoader_LoadAllCanceled(t *testing.T) {
	l, err := NewLoader()
	require.NoError(t, err)
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.LoadAll(ctx, []string{"a.json"})
	assert.ErrorIs(t, err, context.Canceled)
}
