package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/poiesic/tonerag/core"
)

// corpusFile is the on-disk layout of one conversation.
type corpusFile struct {
	Info       map[string]any   `json:"info"`
	Utterances []map[string]any `json:"utterances"`
}

// LoadFile parses one corpus file into one Document per utterance. On any
// parse failure it returns no documents and a *LoadError.
func LoadFile(path string) ([]core.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	var file corpusFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&file); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if file.Utterances == nil {
		return nil, &LoadError{Path: path, Err: ErrNoUtterances}
	}

	docs := make([]core.Document, 0, len(file.Utterances))
	for i, u := range file.Utterances {
		text, ok := u["text"].(string)
		if !ok {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("utterance %d: %w", i, ErrMissingText)}
		}
		docs = append(docs, core.Document{
			Content: text,
			Metadata: map[string]any{
				core.MetaPersonaID:   stringify(u["persona_id"]),
				core.MetaUtteranceID: stringify(u["utterance_id"]),
				core.MetaTerminate:   truthy(u["terminate"]),
				core.MetaCategory:    stringify(file.Info["category"]),
				core.MetaTopic:       stringify(file.Info["topic"]),
				core.MetaFileID:      stringify(file.Info["id"]),
				core.MetaFileName:    stringify(file.Info["name"]),
				core.MetaSourceFile:  path,
			},
		})
	}
	return docs, nil
}

// stringify renders a decoded JSON scalar. Missing and null values become "".
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case json.Number:
		f, err := val.Float64()
		return err == nil && f != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return false
	}
}
