package offload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/locilabs/loci/core"
)

// Offloader keeps the working-context budget bounded by moving low-immediacy
// context into a compact, later-retrievable form, without losing the ability
// to judge whether it is still worth retrieving.
//
// Collaborators are injected, never constructed internally.
type Offloader struct {
	store      core.BlobStore
	embedder   core.Embedder
	summarizer core.Summarizer
	cfg        Config
}

// New creates an offloader over the given collaborators.
func New(store core.BlobStore, embedder core.Embedder, summarizer core.Summarizer, cfg Config) *Offloader {
	if cfg.RelevanceThreshold == 0 && cfg.QuarantineThreshold == 0 {
		cfg = DefaultConfig()
	}
	return &Offloader{store: store, embedder: embedder, summarizer: summarizer, cfg: cfg}
}

// RelevanceThreshold exposes the configured minimum similarity.
func (o *Offloader) RelevanceThreshold() float64 {
	return o.cfg.RelevanceThreshold
}

func contextKey(tenantID, contextID string) string {
	return "offload/" + tenantID + "/" + contextID
}

func tenantPrefix(tenantID string) string {
	return "offload/" + tenantID + "/"
}

// Offload compresses a context and stores it for later retrieval. Contexts
// above the quarantine threshold are partitioned first so unrelated
// information cannot contaminate a single summary.
func (o *Offloader) Offload(ctx context.Context, tc core.TaskContext, tenantID string) (*OffloadedContext, error) {
	if tc.Empty() {
		return nil, fmt.Errorf("%w: empty context", core.ErrInvalidConfig)
	}

	parts := []core.TaskContext{tc}
	score := complexityScore(tc)
	if score > o.cfg.QuarantineThreshold {
		parts = quarantine(tc)
		log.Printf("[OFFLOAD] Quarantined context %s (complexity=%.2f, partitions=%d)",
			tc.TaskID, score, len(parts))
	}

	summaries := make([]string, 0, len(parts))
	for _, part := range parts {
		s, err := o.summarizer.Summarize(ctx, part)
		if err != nil {
			return nil, fmt.Errorf("%w: summarize: %v", core.ErrStorageUnavailable, err)
		}
		summaries = append(summaries, s)
	}
	summary := strings.Join(summaries, partitionSeparator)

	embedding, err := o.embedder.Embed(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("%w: embed summary: %v", core.ErrEmbeddingUnavailable, err)
	}

	originalSize := tc.SerializedSize()
	ratio := 1.0
	if originalSize > 0 {
		ratio = core.Clamp01(float64(len(summary)) / float64(originalSize))
	}
	if ratio == 0 {
		ratio = 1.0 / float64(originalSize)
	}

	oc := &OffloadedContext{
		ID:               uuid.New().String(),
		TenantID:         tenantID,
		TaskID:           tc.TaskID,
		Summary:          summary,
		Embedding:        embedding,
		CompressionRatio: ratio,
		Partitions:       len(parts),
		CreatedAt:        time.Now().UTC(),
		LastAccessed:     time.Now().UTC(),
	}

	if err := o.persist(ctx, oc); err != nil {
		return nil, err
	}

	log.Printf("[OFFLOAD] Offloaded context %s for tenant %s (ratio=%.2f)",
		oc.ID, tenantID, oc.CompressionRatio)
	return oc, nil
}

// Retrieve reconstructs an offloaded context if it is still relevant to the
// caller's current context. Below-threshold reconstructions are refused
// explicitly, carrying the computed score; they never return partial data.
// Embedding collaborator failures degrade to a refusal rather than an error.
func (o *Offloader) Retrieve(ctx context.Context, contextID, tenantID string, query core.TaskContext) (*ReconstructedContext, error) {
	oc, err := o.load(ctx, tenantID, contextID)
	if err != nil {
		return nil, err
	}

	score := 0.0
	queryEmbedding, embErr := o.embedder.Embed(ctx, query.Text())
	if embErr == nil {
		score = core.Clamp01(o.embedder.Similarity(oc.Embedding, queryEmbedding))
	} else {
		log.Printf("[OFFLOAD] Embedding unavailable during retrieve of %s: %v (degrading to refusal)",
			contextID, embErr)
	}

	if score < o.cfg.RelevanceThreshold {
		return &ReconstructedContext{
			ContextID:      contextID,
			RelevanceScore: score,
			Reason:         BelowThresholdReason,
		}, nil
	}

	oc.AccessCount++
	oc.LastAccessed = time.Now().UTC()
	if err := o.persist(ctx, oc); err != nil {
		// Bookkeeping failure must not lose a successful reconstruction.
		log.Printf("[OFFLOAD] Access bookkeeping failed for %s: %v", contextID, err)
	}

	return &ReconstructedContext{
		ContextID:      contextID,
		RelevanceScore: score,
		Payload: &ReconstructedPayload{
			TaskID:           oc.TaskID,
			Summary:          oc.Summary,
			Partitions:       oc.Partitions,
			CompressionRatio: oc.CompressionRatio,
			OffloadedAt:      oc.CreatedAt,
		},
	}, nil
}

// FindRelevant returns up to limit offloaded contexts for the tenant ranked
// by similarity to the query, ties broken by most-recent access.
func (o *Offloader) FindRelevant(ctx context.Context, tenantID string, query core.TaskContext, limit int) ([]*OffloadedContext, error) {
	all, err := o.loadAll(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	queryEmbedding, err := o.embedder.Embed(ctx, query.Text())
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", core.ErrEmbeddingUnavailable, err)
	}

	scores := make(map[string]float64, len(all))
	for _, oc := range all {
		scores[oc.ID] = core.Clamp01(o.embedder.Similarity(oc.Embedding, queryEmbedding))
	}
	sort.SliceStable(all, func(i, j int) bool {
		si, sj := scores[all[i].ID], scores[all[j].ID]
		if si != sj {
			return si > sj
		}
		return all[i].LastAccessed.After(all[j].LastAccessed)
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// EnrichMemories attempts to reconstruct the offloaded context behind each
// memory. Memories whose reconstruction falls below threshold (or whose
// context cannot be loaded) are returned unchanged with ContextUnavailable
// set, never dropped.
func (o *Offloader) EnrichMemories(ctx context.Context, memories []core.ContextualMemory, tenantID string, query core.TaskContext) []core.ContextualMemory {
	out := make([]core.ContextualMemory, len(memories))
	for i, mem := range memories {
		out[i] = mem
		if mem.ContextRef == "" {
			continue
		}
		rc, err := o.Retrieve(ctx, mem.ContextRef, tenantID, query)
		if err != nil || rc.Payload == nil {
			out[i].ContextUnavailable = true
			continue
		}
		out[i].EnrichedContext = &core.TaskContext{
			TaskID:      rc.Payload.TaskID,
			Description: rc.Payload.Summary,
		}
	}
	return out
}

// Cleanup removes offloaded contexts past maxAge, or older than half maxAge
// with fewer than accessFloor accesses. Zero maxAge/accessFloor fall back to
// the offloader defaults. Idempotent: nothing eligible removes zero.
func (o *Offloader) Cleanup(ctx context.Context, tenantID string, maxAge time.Duration, accessFloor int) (int, error) {
	if maxAge <= 0 {
		maxAge = o.cfg.RetentionAge
	}
	if accessFloor <= 0 {
		accessFloor = o.cfg.AccessFloor
	}

	all, err := o.loadAll(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	removed := 0
	for _, oc := range all {
		age := now.Sub(oc.CreatedAt)
		expired := maxAge > 0 && age > maxAge
		cold := accessFloor > 0 && age > maxAge/2 && oc.AccessCount < accessFloor
		if !expired && !cold {
			continue
		}
		if err := o.store.Delete(ctx, contextKey(tenantID, oc.ID)); err != nil {
			return removed, fmt.Errorf("%w: delete %s: %v", core.ErrStorageUnavailable, oc.ID, err)
		}
		removed++
	}
	if removed > 0 {
		log.Printf("[OFFLOAD] Cleanup removed %d contexts for tenant %s", removed, tenantID)
	}
	return removed, nil
}

// PurgeTenant removes every offloaded context the tenant owns. Called on
// deregistration.
func (o *Offloader) PurgeTenant(ctx context.Context, tenantID string) (int, error) {
	keys, err := o.store.List(ctx, tenantPrefix(tenantID))
	if err != nil {
		return 0, fmt.Errorf("%w: list: %v", core.ErrStorageUnavailable, err)
	}
	for i, key := range keys {
		if err := o.store.Delete(ctx, key); err != nil {
			return i, fmt.Errorf("%w: delete %s: %v", core.ErrStorageUnavailable, key, err)
		}
	}
	return len(keys), nil
}

// TenantStats summarizes the tenant's offloaded set.
func (o *Offloader) TenantStats(ctx context.Context, tenantID string) (Stats, error) {
	all, err := o.loadAll(ctx, tenantID)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Count: len(all)}
	if len(all) == 0 {
		return st, nil
	}
	var ratioSum, accessSum float64
	for _, oc := range all {
		ratioSum += oc.CompressionRatio
		accessSum += float64(oc.AccessCount)
	}
	st.AvgCompressionRatio = ratioSum / float64(len(all))
	st.AvgAccessCount = accessSum / float64(len(all))
	return st, nil
}

func (o *Offloader) persist(ctx context.Context, oc *OffloadedContext) error {
	data, err := json.Marshal(oc)
	if err != nil {
		return fmt.Errorf("marshal offloaded context: %w", err)
	}
	if err := o.store.Put(ctx, contextKey(oc.TenantID, oc.ID), data); err != nil {
		return fmt.Errorf("%w: put: %v", core.ErrStorageUnavailable, err)
	}
	return nil
}

// load fetches a single context, enforcing tenant ownership: a context
// stored by a different tenant is indistinguishable from a missing one.
func (o *Offloader) load(ctx context.Context, tenantID, contextID string) (*OffloadedContext, error) {
	data, err := o.store.Get(ctx, contextKey(tenantID, contextID))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("%w: context %s", core.ErrNotFound, contextID)
		}
		return nil, fmt.Errorf("%w: get %s: %v", core.ErrStorageUnavailable, contextID, err)
	}
	var oc OffloadedContext
	if err := json.Unmarshal(data, &oc); err != nil {
		return nil, fmt.Errorf("unmarshal offloaded context %s: %w", contextID, err)
	}
	if oc.TenantID != tenantID {
		return nil, fmt.Errorf("%w: context %s", core.ErrNotFound, contextID)
	}
	return &oc, nil
}

func (o *Offloader) loadAll(ctx context.Context, tenantID string) ([]*OffloadedContext, error) {
	keys, err := o.store.List(ctx, tenantPrefix(tenantID))
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", core.ErrStorageUnavailable, err)
	}
	out := make([]*OffloadedContext, 0, len(keys))
	for _, key := range keys {
		data, err := o.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue // deleted concurrently
			}
			return nil, fmt.Errorf("%w: get %s: %v", core.ErrStorageUnavailable, key, err)
		}
		var oc OffloadedContext
		if err := json.Unmarshal(data, &oc); err != nil {
			log.Printf("[OFFLOAD] Skipping undecodable record %s: %v", key, err)
			continue
		}
		out = append(out, &oc)
	}
	return out, nil
}
