// Package ingestion indexes a corpus of conversation files into a vector
// index.
//
// A Pipeline run discovers JSON files under a corpus directory, skips files
// the ledger has already recorded, parses the rest concurrently and drops
// utterances whose id is already indexed. The remaining documents are
// embedded and written in fixed-size batches. Each batch is retried with
// exponential backoff on transient provider errors. A batch that still
// fails is recorded in the Summary and the run moves on.
//
// A file is marked in the ledger only once every one of its new documents
// has been written, so a file touched by a failed batch is retried on the
// next run. Files that parse but hold nothing new are marked immediately.
package ingestion
