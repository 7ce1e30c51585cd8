// Package loader turns a directory of conversation JSON files into documents.
//
// Each file has the shape
//
//	{"info": {"id": ..., "name": ..., "category": ..., "topic": ...},
//	 "utterances": [{"utterance_id": ..., "persona_id": ..., "text": ..., "terminate": ...}]}
//
// and yields one core.Document per utterance whose content is the utterance
// text. Per-file context from "info" is copied onto every document along with
// the path it came from, so the vector index can later be reconciled against
// the ingestion ledger.
package loader
