package memstore_test

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/locilabs/loci/core"
	"github.com/locilabs/loci/store/memstore"
)

func embed(text string) []float32 {
	vec := make([]float32, 16)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%16]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}

func addMemory(t *testing.T, ix *memstore.Index, tenantID, id, content string, level core.SharingLevel) {
	t.Helper()
	err := ix.Add(context.Background(), core.ContextualMemory{
		MemoryID:     id,
		TenantID:     tenantID,
		Content:      content,
		SharingLevel: level,
		CreatedAt:    time.Now().UTC(),
		Embedding:    embed(content),
	})
	if err != nil {
		t.Fatalf("Add(%s): %v", id, err)
	}
}

func TestIndexSearchRanksBySimilarity(t *testing.T) {
	ix := memstore.NewIndex()
	defer ix.Close()

	addMemory(t, ix, "acme", "m1", "database connection pool tuning", core.SharingPrivate)
	addMemory(t, ix, "acme", "m2", "kubernetes ingress configuration", core.SharingPrivate)

	results, err := ix.Search(context.Background(), "acme", embed("database connection pool"), 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].MemoryID != "m1" {
		t.Errorf("expected m1 ranked first, got %s", results[0].MemoryID)
	}
	if results[0].RelevanceScore < results[1].RelevanceScore {
		t.Error("results not sorted by relevance descending")
	}
	if results[0].SharingLevel != core.SharingPrivate {
		t.Errorf("sharing level lost in round trip: %q", results[0].SharingLevel)
	}
}

func TestIndexTenantsAreStructurallyIsolated(t *testing.T) {
	ix := memstore.NewIndex()
	defer ix.Close()

	addMemory(t, ix, "a", "m1", "secret alpha notes", core.SharingPrivate)

	results, err := ix.Search(context.Background(), "b", embed("secret alpha notes"), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("tenant b saw %d of tenant a's memories", len(results))
	}
}

func TestIndexLimitClampedToCollectionSize(t *testing.T) {
	ix := memstore.NewIndex()
	defer ix.Close()

	addMemory(t, ix, "acme", "m1", "only entry", core.SharingPrivate)

	results, err := ix.Search(context.Background(), "acme", embed("only entry"), 50)
	if err != nil {
		t.Fatalf("Search with oversized limit: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestIndexPurge(t *testing.T) {
	ix := memstore.NewIndex()
	defer ix.Close()
	ctx := context.Background()

	addMemory(t, ix, "acme", "m1", "to be removed", core.SharingPrivate)
	if err := ix.Purge(ctx, "acme"); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	// Purging an absent tenant is a no-op.
	if err := ix.Purge(ctx, "acme"); err != nil {
		t.Fatalf("second Purge: %v", err)
	}

	results, err := ix.Search(ctx, "acme", embed("to be removed"), 5)
	if err != nil {
		t.Fatalf("Search after purge: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty result after purge, got %d", len(results))
	}
}

func TestBlobStoreRoundTrip(t *testing.T) {
	s := memstore.NewBlobStore()
	ctx := context.Background()

	if err := s.Put(ctx, "offload/t1/a", []byte("one")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "offload/t1/b", []byte("two")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "offload/t2/c", []byte("three")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, err := s.Get(ctx, "offload/t1/a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "one" {
		t.Errorf("got %q, want %q", v, "one")
	}

	keys, err := s.List(ctx, "offload/t1/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys under offload/t1/, got %d", len(keys))
	}

	if err := s.Delete(ctx, "offload/t1/a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "offload/t1/a"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Get(ctx, "offload/t2/c"); !errors.Is(err, core.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable after close, got %v", err)
	}
}
