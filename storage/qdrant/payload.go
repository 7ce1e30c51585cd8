package qdrant

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/poiesic/tonerag/core"
	"github.com/poiesic/tonerag/storage"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Reserved payload keys. Metadata keys never collide with these because the
// loader does not produce them.
const (
	contentKey = "_content"
	docIDKey   = "_doc_id"
)

// pointID maps a document ID onto the UUID space Qdrant accepts. The mapping is
// name-based so re-adding a document overwrites its point.
func pointID(id core.ID) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id.String())).String()
}

func toPayload(doc *core.IndexedDocument) (map[string]*qdrant.Value, error) {
	fields := make(map[string]any, len(doc.Metadata)+2)
	for k, v := range storage.StringMetadata(doc.Metadata) {
		fields[k] = v
	}
	fields[contentKey] = doc.Content
	fields[docIDKey] = doc.ID.String()

	payload, err := qdrant.TryValueMap(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return payload, nil
}

// fromPayload splits a point payload into document content and metadata.
// Non-string values written by other clients are formatted as strings.
func fromPayload(payload map[string]*qdrant.Value) (string, map[string]any) {
	var content string
	metadata := make(map[string]any, len(payload))
	for k, v := range payload {
		switch k {
		case contentKey:
			content = v.GetStringValue()
		case docIDKey:
		default:
			metadata[k] = valueString(v)
		}
	}
	return content, metadata
}

func valueString(v *qdrant.Value) string {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return strconv.FormatInt(kind.IntegerValue, 10)
	case *qdrant.Value_DoubleValue:
		return strconv.FormatFloat(kind.DoubleValue, 'g', -1, 64)
	case *qdrant.Value_BoolValue:
		return strconv.FormatBool(kind.BoolValue)
	case *qdrant.Value_NullValue:
		return core.NoneValue
	default:
		return ""
	}
}

// classify marks gRPC failures worth retrying with core.ErrTransient.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
		return fmt.Errorf("%w: %w", core.ErrTransient, err)
	default:
		return err
	}
}
