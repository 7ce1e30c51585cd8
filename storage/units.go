package storage

import (
	"context"
	"fmt"

	"github.com/poiesic/tonerag/core"
)

// LoadKnownUnitIDs scans the index's own metadata for unit ids. The index,
// not the ledger, is authoritative for what is searchable.
func LoadKnownUnitIDs(ctx context.Context, index VectorIndex) (map[string]struct{}, error) {
	return collectMetadataValues(ctx, index, core.MetaUtteranceID)
}

// LoadIndexedSourceFiles returns the distinct source files referenced by the
// index's stored metadata.
func LoadIndexedSourceFiles(ctx context.Context, index VectorIndex) (map[string]struct{}, error) {
	return collectMetadataValues(ctx, index, core.MetaSourceFile)
}

func collectMetadataValues(ctx context.Context, index VectorIndex, key string) (map[string]struct{}, error) {
	if index == nil {
		return nil, ErrStorageClosed
	}
	all, err := index.AllMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading index metadata: %w", err)
	}
	values := make(map[string]struct{}, len(all))
	for _, metadata := range all {
		v := core.MetadataString(metadata, key)
		if v == "" || v == core.NoneValue {
			continue
		}
		values[v] = struct{}{}
	}
	return values, nil
}
