package memory

import "errors"

// Sentinel errors for the memory core. Callers match with errors.Is;
// wrapped errors carry collection, id and hash context for diagnosis.
var (
	// ErrNotFound reports a lookup miss. It is a valid empty result, not
	// an infrastructure failure.
	ErrNotFound = errors.New("memory: record not found")

	// ErrDimensionMismatch reports an embedding whose length disagrees
	// with the collection's fixed dimension. The call fails and writes
	// nothing; vectors are never truncated or padded.
	ErrDimensionMismatch = errors.New("memory: embedding dimension mismatch")

	// ErrStoreUnavailable reports that the backing vector index could not
	// be reached. Transient and retryable by the caller.
	ErrStoreUnavailable = errors.New("memory: vector store unavailable")

	// ErrEmbeddingUnavailable reports that the external embedding provider
	// could not be reached. Transient and retryable by the caller.
	ErrEmbeddingUnavailable = errors.New("memory: embedding provider unavailable")

	// ErrDuplicateProbeFailed reports that the dedup pre-check could not
	// complete. Store.Add degrades to treating the content as new and logs
	// the failure; the error is surfaced only in that log line.
	ErrDuplicateProbeFailed = errors.New("memory: duplicate probe failed")
)
