package offload_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/locilabs/loci/core"
	"github.com/locilabs/loci/offload"
)

// fakeStore is an in-memory BlobStore. failing makes every call return an
// injected error to exercise StorageUnavailable paths.
type fakeStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	failing bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]byte)}
}

func (s *fakeStore) Put(ctx context.Context, key string, value []byte) error {
	if s.failing {
		return errors.New("disk on fire")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	return nil
}

func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.failing {
		return nil, errors.New("disk on fire")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, core.ErrNotFound
	}
	return v, nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	if s.failing {
		return errors.New("disk on fire")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *fakeStore) List(ctx context.Context, prefix string) ([]string, error) {
	if s.failing {
		return nil, errors.New("disk on fire")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *fakeStore) Close() error { return nil }

// tokenEmbedder buckets words into a small vector so texts sharing words get
// real similarity, unlike a pure hash embedder.
type tokenEmbedder struct {
	dims    int
	failing bool
}

func (e *tokenEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.failing {
		return nil, errors.New("model offline")
	}
	vec := make([]float32, e.dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := 0
		for _, r := range w {
			h = h*31 + int(r)
		}
		if h < 0 {
			h = -h
		}
		vec[h%e.dims]++
	}
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		n := float32(math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}

func (e *tokenEmbedder) Similarity(a, b []float32) float64 {
	var dot float64
	for i := range a {
		if i < len(b) {
			dot += float64(a[i]) * float64(b[i])
		}
	}
	if dot < 0 {
		dot = 0
	}
	return dot
}

func (e *tokenEmbedder) Dimensions() int { return e.dims }

// echoSummarizer returns the context text unchanged, keeping similarity
// between a context and an identical query at 1.0.
type echoSummarizer struct{ failing bool }

func (s *echoSummarizer) Summarize(ctx context.Context, tc core.TaskContext) (string, error) {
	if s.failing {
		return "", errors.New("summarizer offline")
	}
	return tc.Text(), nil
}

func newOffloader(store *fakeStore, cfg offload.Config) (*offload.Offloader, *tokenEmbedder, *echoSummarizer) {
	emb := &tokenEmbedder{dims: 64}
	sum := &echoSummarizer{}
	return offload.New(store, emb, sum, cfg), emb, sum
}

func TestOffloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	o, _, _ := newOffloader(newFakeStore(), offload.DefaultConfig())

	tc := core.TaskContext{TaskID: "t1", Description: "refactor auth module"}
	oc, err := o.Offload(ctx, tc, "tenant1")
	if err != nil {
		t.Fatalf("Offload: %v", err)
	}
	if oc.CompressionRatio <= 0 || oc.CompressionRatio > 1 {
		t.Errorf("compression ratio %.3f out of (0,1]", oc.CompressionRatio)
	}

	// Retrieval with the identical query must clear the threshold and
	// return a non-empty payload.
	rc, err := o.Retrieve(ctx, oc.ID, "tenant1", tc)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if rc.RelevanceScore < o.RelevanceThreshold() {
		t.Errorf("relevance %.3f below threshold %.3f", rc.RelevanceScore, o.RelevanceThreshold())
	}
	if rc.Payload == nil || rc.Payload.Summary == "" {
		t.Fatal("round-trip returned empty payload")
	}
}

func TestRetrieve_BelowThresholdRefusal(t *testing.T) {
	ctx := context.Background()
	cfg := offload.DefaultConfig()
	cfg.RelevanceThreshold = 0.9
	o, _, _ := newOffloader(newFakeStore(), cfg)

	oc, err := o.Offload(ctx, core.TaskContext{TaskID: "t1", Description: "refactor auth module"}, "tenant1")
	if err != nil {
		t.Fatalf("Offload: %v", err)
	}

	rc, err := o.Retrieve(ctx, oc.ID, "tenant1",
		core.TaskContext{TaskID: "t2", Description: "bake sourdough bread"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if rc.Reason != offload.BelowThresholdReason {
		t.Errorf("reason = %q, want %q", rc.Reason, offload.BelowThresholdReason)
	}
	if rc.Payload != nil {
		t.Error("refusal must not carry a payload")
	}
	if rc.RelevanceScore >= 0.9 {
		t.Errorf("unexpected relevance %.3f for unrelated query", rc.RelevanceScore)
	}
}

func TestRetrieve_TenantOwnership(t *testing.T) {
	ctx := context.Background()
	o, _, _ := newOffloader(newFakeStore(), offload.DefaultConfig())

	oc, err := o.Offload(ctx, core.TaskContext{TaskID: "t1", Description: "private work"}, "owner")
	if err != nil {
		t.Fatalf("Offload: %v", err)
	}

	_, err = o.Retrieve(ctx, oc.ID, "intruder", core.TaskContext{Description: "private work"})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cross-tenant retrieve: got %v, want ErrNotFound", err)
	}
}

func TestRetrieve_EmbedderFailureDegrades(t *testing.T) {
	ctx := context.Background()
	o, emb, _ := newOffloader(newFakeStore(), offload.DefaultConfig())

	oc, err := o.Offload(ctx, core.TaskContext{TaskID: "t1", Description: "some work"}, "tenant1")
	if err != nil {
		t.Fatalf("Offload: %v", err)
	}

	emb.failing = true
	rc, err := o.Retrieve(ctx, oc.ID, "tenant1", core.TaskContext{Description: "some work"})
	if err != nil {
		t.Fatalf("Retrieve must degrade, not error: %v", err)
	}
	if rc.Reason != offload.BelowThresholdReason || rc.Payload != nil {
		t.Errorf("expected below-threshold refusal, got %+v", rc)
	}
}

func TestOffload_SummarizerFailure(t *testing.T) {
	ctx := context.Background()
	o, _, sum := newOffloader(newFakeStore(), offload.DefaultConfig())
	sum.failing = true

	_, err := o.Offload(ctx, core.TaskContext{TaskID: "t1", Description: "anything"}, "tenant1")
	if !errors.Is(err, core.ErrStorageUnavailable) {
		t.Errorf("got %v, want ErrStorageUnavailable", err)
	}
}

func TestOffload_StoreFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	o, _, _ := newOffloader(store, offload.DefaultConfig())
	store.failing = true

	_, err := o.Offload(ctx, core.TaskContext{TaskID: "t1", Description: "anything"}, "tenant1")
	if !errors.Is(err, core.ErrStorageUnavailable) {
		t.Errorf("got %v, want ErrStorageUnavailable", err)
	}
}

func TestQuarantinePartitioning(t *testing.T) {
	ctx := context.Background()
	cfg := offload.DefaultConfig()
	cfg.QuarantineThreshold = 0.1 // force quarantine
	o, _, _ := newOffloader(newFakeStore(), cfg)

	tc := core.TaskContext{
		TaskID:      "t1",
		Description: "mixed work item",
		Attributes: map[string]string{
			"auth.provider": "oidc",
			"auth.realm":    "internal",
			"billing.plan":  "enterprise",
			"billing.seats": "250",
		},
	}
	oc, err := o.Offload(ctx, tc, "tenant1")
	if err != nil {
		t.Fatalf("Offload: %v", err)
	}
	if oc.Partitions != 2 {
		t.Errorf("partitions = %d, want 2 (auth, billing)", oc.Partitions)
	}
}

func TestFindRelevant_RankedAndLimited(t *testing.T) {
	ctx := context.Background()
	o, _, _ := newOffloader(newFakeStore(), offload.DefaultConfig())

	contexts := []core.TaskContext{
		{TaskID: "a", Description: "refactor auth module login flow"},
		{TaskID: "b", Description: "refactor auth module"},
		{TaskID: "c", Description: "deploy billing service"},
	}
	for _, tc := range contexts {
		if _, err := o.Offload(ctx, tc, "tenant1"); err != nil {
			t.Fatalf("Offload %s: %v", tc.TaskID, err)
		}
	}

	got, err := o.FindRelevant(ctx, "tenant1", core.TaskContext{Description: "refactor auth module"}, 2)
	if err != nil {
		t.Fatalf("FindRelevant: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].TaskID != "b" {
		t.Errorf("top result = %s, want b (exact description match)", got[0].TaskID)
	}
	for _, oc := range got {
		if oc.TaskID == "c" {
			t.Error("unrelated context ranked into top 2")
		}
	}
}

func TestEnrichMemories_NeverDrops(t *testing.T) {
	ctx := context.Background()
	cfg := offload.DefaultConfig()
	cfg.RelevanceThreshold = 0.9
	o, _, _ := newOffloader(newFakeStore(), cfg)

	oc, err := o.Offload(ctx, core.TaskContext{TaskID: "t1", Description: "refactor auth module"}, "tenant1")
	if err != nil {
		t.Fatalf("Offload: %v", err)
	}

	memories := []core.ContextualMemory{
		{MemoryID: "m1", ContextRef: oc.ID},
		{MemoryID: "m2", ContextRef: "missing-context"},
		{MemoryID: "m3"}, // no offloaded context at all
	}

	// Unrelated query: m1's reconstruction falls below threshold.
	enriched := o.EnrichMemories(ctx, memories, "tenant1",
		core.TaskContext{Description: "bake sourdough bread"})
	if len(enriched) != 3 {
		t.Fatalf("enrichment dropped memories: got %d, want 3", len(enriched))
	}
	if !enriched[0].ContextUnavailable || !enriched[1].ContextUnavailable {
		t.Error("below-threshold and missing contexts must be marked unavailable")
	}
	if enriched[2].ContextUnavailable {
		t.Error("memory without a context ref must not be marked unavailable")
	}

	// Matching query: m1 gets its context back.
	enriched = o.EnrichMemories(ctx, memories, "tenant1",
		core.TaskContext{Description: "refactor auth module"})
	if enriched[0].EnrichedContext == nil {
		t.Error("matching query did not enrich m1")
	}
}

func TestCleanup_Idempotent(t *testing.T) {
	ctx := context.Background()
	cfg := offload.DefaultConfig()
	o, _, _ := newOffloader(newFakeStore(), cfg)

	if _, err := o.Offload(ctx, core.TaskContext{TaskID: "t1", Description: "old work"}, "tenant1"); err != nil {
		t.Fatalf("Offload: %v", err)
	}
	if _, err := o.Offload(ctx, core.TaskContext{TaskID: "t2", Description: "new work"}, "tenant1"); err != nil {
		t.Fatalf("Offload: %v", err)
	}

	// A tiny retention age makes everything just offloaded eligible after a
	// short wait.
	time.Sleep(20 * time.Millisecond)
	removed, err := o.Cleanup(ctx, "tenant1", 10*time.Millisecond, 0)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 2 {
		t.Errorf("first cleanup removed %d, want 2", removed)
	}

	removed, err = o.Cleanup(ctx, "tenant1", 10*time.Millisecond, 0)
	if err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}
	if removed != 0 {
		t.Errorf("second cleanup removed %d, want 0", removed)
	}
}

func TestPurgeTenant(t *testing.T) {
	ctx := context.Background()
	o, _, _ := newOffloader(newFakeStore(), offload.DefaultConfig())

	for i := 0; i < 3; i++ {
		tc := core.TaskContext{TaskID: fmt.Sprintf("t%d", i), Description: "work item"}
		if _, err := o.Offload(ctx, tc, "tenant1"); err != nil {
			t.Fatalf("Offload: %v", err)
		}
	}
	if _, err := o.Offload(ctx, core.TaskContext{TaskID: "x", Description: "other tenant"}, "tenant2"); err != nil {
		t.Fatalf("Offload: %v", err)
	}

	purged, err := o.PurgeTenant(ctx, "tenant1")
	if err != nil {
		t.Fatalf("PurgeTenant: %v", err)
	}
	if purged != 3 {
		t.Errorf("purged %d, want 3", purged)
	}

	st, err := o.TenantStats(ctx, "tenant2")
	if err != nil {
		t.Fatalf("TenantStats: %v", err)
	}
	if st.Count != 1 {
		t.Errorf("tenant2 lost contexts during tenant1 purge: count=%d", st.Count)
	}
}

func TestTenantStats(t *testing.T) {
	ctx := context.Background()
	o, _, _ := newOffloader(newFakeStore(), offload.DefaultConfig())

	tc := core.TaskContext{TaskID: "t1", Description: "refactor auth module"}
	oc, err := o.Offload(ctx, tc, "tenant1")
	if err != nil {
		t.Fatalf("Offload: %v", err)
	}
	if _, err := o.Retrieve(ctx, oc.ID, "tenant1", tc); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	st, err := o.TenantStats(ctx, "tenant1")
	if err != nil {
		t.Fatalf("TenantStats: %v", err)
	}
	if st.Count != 1 {
		t.Errorf("count = %d, want 1", st.Count)
	}
	if st.AvgAccessCount < 1 {
		t.Errorf("avg access count = %.1f, want >= 1 after retrieval", st.AvgAccessCount)
	}
	if st.AvgCompressionRatio <= 0 || st.AvgCompressionRatio > 1 {
		t.Errorf("avg compression ratio %.3f out of (0,1]", st.AvgCompressionRatio)
	}
}
