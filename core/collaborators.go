package core

import "context"

// Embedder converts text to vector embeddings and judges similarity.
// Implementations: mock (testing), ONNX MiniLM (local), API-based (production).
// The substrate never does similarity math itself; that stays with the
// collaborator so backends can use whatever metric matches their vectors.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Similarity scores two vectors in [0,1], higher meaning more similar.
	Similarity(a, b []float32) float64

	// Dimensions returns embedding vector size.
	Dimensions() int
}

// Summarizer produces a compact representation of a task context.
// Implementations: extractive (offline), Claude-backed (production).
type Summarizer interface {
	Summarize(ctx context.Context, tc TaskContext) (string, error)
}

// BlobStore is the narrow persistence interface the offloader and
// coordinator write through. Keys are opaque; callers namespace them.
// Failures surface as ErrStorageUnavailable (wrapped); missing keys as
// ErrNotFound.
type BlobStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix, in unspecified order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases resources.
	Close() error
}

// MemoryIndex is the vector search backend for contextual memories.
// Implementations: chromem-backed in-memory index (local), pgvector
// (production).
type MemoryIndex interface {
	// Add indexes a memory under its owning tenant. The memory must have
	// its embedding set.
	Add(ctx context.Context, mem ContextualMemory) error

	// Search returns up to limit memories for the tenant ranked by
	// similarity to the query embedding, highest first.
	Search(ctx context.Context, tenantID string, embedding []float32, limit int) ([]ContextualMemory, error)

	// Purge removes every memory owned by the tenant.
	Purge(ctx context.Context, tenantID string) error

	// Close releases resources.
	Close() error
}
