// Package memstore provides in-memory storage backends: a chromem-go vector
// index for contextual memories and a map-backed blob store. Both are meant
// for local use and tests; production deployments swap in pgvector and a real
// object store behind the same interfaces.
package memstore

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/locilabs/loci/core"
)

// Index implements core.MemoryIndex over chromem-go, a pure Go embedded
// vector database. Each tenant gets its own collection, so tenant isolation
// is structural: a search can only ever touch one tenant's documents.
type Index struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

func collectionName(tenantID string) string {
	return "tenant_" + tenantID
}

// collection returns the tenant's collection, creating it on first use.
func (ix *Index) collection(tenantID string) (*chromem.Collection, error) {
	ix.mu.RLock()
	col, exists := ix.collections[tenantID]
	ix.mu.RUnlock()
	if exists {
		return col, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// Double-check after acquiring the write lock
	if col, exists := ix.collections[tenantID]; exists {
		return col, nil
	}

	col, err := ix.db.CreateCollection(
		collectionName(tenantID),
		nil, // no collection metadata
		nil, // embeddings are provided by the caller, not computed here
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create collection: %v", core.ErrStorageUnavailable, err)
	}
	ix.collections[tenantID] = col
	return col, nil
}

// Add indexes a memory under its owning tenant.
func (ix *Index) Add(ctx context.Context, mem core.ContextualMemory) error {
	if mem.MemoryID == "" || mem.TenantID == "" {
		return fmt.Errorf("%w: memory id and tenant id are required", core.ErrInvalidConfig)
	}
	if len(mem.Embedding) == 0 {
		return fmt.Errorf("%w: memory has no embedding", core.ErrInvalidConfig)
	}

	col, err := ix.collection(mem.TenantID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        mem.MemoryID,
		Content:   mem.Content,
		Embedding: mem.Embedding,
		Metadata: map[string]string{
			"tenant_id":     mem.TenantID,
			"sharing_level": string(mem.SharingLevel),
			"context_ref":   mem.ContextRef,
			"created_at":    mem.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("%w: add document: %v", core.ErrStorageUnavailable, err)
	}
	return nil
}

// Search returns up to limit memories for the tenant ranked by similarity to
// the query embedding, highest first.
func (ix *Index) Search(ctx context.Context, tenantID string, embedding []float32, limit int) ([]core.ContextualMemory, error) {
	col, err := ix.collection(tenantID)
	if err != nil {
		return nil, err
	}

	// chromem requires nResults <= collection size.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	results, err := col.QueryEmbedding(ctx, embedding, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", core.ErrStorageUnavailable, err)
	}

	memories := make([]core.ContextualMemory, 0, len(results))
	for _, r := range results {
		createdAt, err := time.Parse(time.RFC3339Nano, r.Metadata["created_at"])
		if err != nil {
			createdAt = time.Time{}
		}
		memories = append(memories, core.ContextualMemory{
			MemoryID:       r.ID,
			TenantID:       tenantID,
			Content:        r.Content,
			RelevanceScore: core.Clamp01(float64(r.Similarity)),
			SharingLevel:   core.SharingLevel(r.Metadata["sharing_level"]),
			ContextRef:     r.Metadata["context_ref"],
			CreatedAt:      createdAt,
			Embedding:      r.Embedding,
		})
	}
	return memories, nil
}

// Purge drops the tenant's whole collection.
func (ix *Index) Purge(_ context.Context, tenantID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.collections[tenantID]; !exists {
		return nil
	}
	if err := ix.db.DeleteCollection(collectionName(tenantID)); err != nil {
		return fmt.Errorf("%w: delete collection: %v", core.ErrStorageUnavailable, err)
	}
	delete(ix.collections, tenantID)
	log.Printf("[MEMSTORE] Purged collection for tenant %s", tenantID)
	return nil
}

// Close releases resources. chromem keeps everything in memory, nothing to
// flush.
func (ix *Index) Close() error {
	return nil
}
