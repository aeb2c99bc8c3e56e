// Package memory provides the long-term memory core for an agent:
// a content-addressed, deduplicating vector store over a pluggable
// nearest-neighbor index.
//
// Writes are idempotent per distinct content: the same text submitted any
// number of times (even with drifting embeddings) resolves to one canonical
// record id. Retrieval is by exact id or by ascending-distance similarity
// query.
//
// Architecture:
//   - Index: vector index backend (chromem-go embedded, Qdrant remote)
//   - Store: deduplicating write/read layer on top of an Index
//   - Embedder: text-to-vector conversion, supplied by the caller
//   - Episodic/Implicit/Context: thin façades composing Embedder + storage
//
// The package computes no embeddings itself and owns no wire protocol; it
// is a client of whatever index backend it is configured with.
package memory
