// Package coordinator composes tenant isolation with context offloading and
// memory storage behind a single façade. Every public operation clears the
// isolator first, then optionally engages the offloader, then talks to
// storage, and returns a uniform result envelope. The coordinator owns no
// persistent state beyond a short-lived operation cache, and never bypasses
// the isolator to reach stored data.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/locilabs/loci/core"
	"github.com/locilabs/loci/isolation"
	"github.com/locilabs/loci/offload"
)

// Config holds coordinator tuning.
type Config struct {
	// MaxTenants caps registrations (0 = unlimited).
	MaxTenants int `yaml:"max_tenants"`

	// OffloadEnabled is the global default for context offloading on store.
	OffloadEnabled bool `yaml:"offload_enabled"`

	// FederationEnabled gates the federated insight path and registration at
	// the federated isolation level.
	FederationEnabled bool `yaml:"federation_enabled"`

	// CacheTTL bounds how long a query result may be served from cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// FederationWeights tunes the confidence score of federated insights.
	FederationWeights FederationWeights `yaml:"federation_weights"`

	// MaxFederationSources bounds the candidate tenant pool per federated
	// query (0 = all registered tenants).
	MaxFederationSources int `yaml:"max_federation_sources"`

	// DefaultQueryLimit applies when a query does not set its own limit.
	DefaultQueryLimit int `yaml:"default_query_limit"`
}

// DefaultConfig returns coordinator defaults. Federation stays off until
// explicitly enabled.
func DefaultConfig() Config {
	return Config{
		MaxTenants:           100,
		OffloadEnabled:       true,
		FederationEnabled:    false,
		CacheTTL:             30 * time.Second,
		FederationWeights:    FederationWeights{SourceCount: 0.5, AvgRelevance: 0.5},
		MaxFederationSources: 5,
		DefaultQueryLimit:    10,
	}
}

// QueryOptions shapes a contextual memory query.
type QueryOptions struct {
	Limit            int
	IncludeShared    bool
	IncludeFederated bool
	MinRelevance     float64
	UseCache         bool
}

// StoreOptions shapes an experience store.
type StoreOptions struct {
	// OffloadContext requests offloading of the experience's context. Nil
	// means "use the global default".
	OffloadContext *bool

	// SharingLevel defaults to private.
	SharingLevel core.SharingLevel
}

// Coordinator is the façade agents call. Collaborators are injected, never
// constructed internally, so tests can substitute in-memory fakes.
type Coordinator struct {
	isolator  *isolation.Isolator
	offloader *offload.Offloader
	index     core.MemoryIndex
	store     core.BlobStore
	embedder  core.Embedder
	cache     *queryCache
	cfg       Config
}

// New creates a coordinator over the given collaborators. The offloader may
// be nil, in which case offload operations report themselves unimplemented
// rather than returning empty successes.
func New(iso *isolation.Isolator, off *offload.Offloader, index core.MemoryIndex, store core.BlobStore, embedder core.Embedder, cfg Config) (*Coordinator, error) {
	if iso == nil || index == nil || store == nil || embedder == nil {
		return nil, fmt.Errorf("%w: isolator, index, store and embedder are required", core.ErrInvalidConfig)
	}
	if cfg.DefaultQueryLimit <= 0 {
		cfg.DefaultQueryLimit = DefaultConfig().DefaultQueryLimit
	}
	if cfg.FederationWeights.SourceCount == 0 && cfg.FederationWeights.AvgRelevance == 0 {
		cfg.FederationWeights = DefaultConfig().FederationWeights
	}
	cache, err := newQueryCache(cfg.CacheTTL)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		isolator:  iso,
		offloader: off,
		index:     index,
		store:     store,
		embedder:  embedder,
		cache:     cache,
		cfg:       cfg,
	}, nil
}

// Isolator exposes the isolation engine for compliance tooling (audit log
// inspection, direct resource-scoped access checks).
func (c *Coordinator) Isolator() *isolation.Isolator {
	return c.isolator
}

// Close releases the operation cache.
func (c *Coordinator) Close() {
	c.cache.close()
}

func experienceKey(tenantID, id string) string {
	return "experience/" + tenantID + "/" + id
}

// RegisterTenant registers a tenant, enforcing the global tenant cap.
func (c *Coordinator) RegisterTenant(cfg isolation.TenantConfig) Result {
	start := time.Now()
	opID := uuid.New().String()

	if c.cfg.MaxTenants > 0 && c.isolator.TenantCount() >= c.cfg.MaxTenants {
		return fail(opID, cfg.TenantID, start, core.ErrInvalidConfig,
			fmt.Sprintf("tenant limit reached (%d)", c.cfg.MaxTenants))
	}
	if err := c.isolator.RegisterTenant(cfg); err != nil {
		return fail(opID, cfg.TenantID, start, err, err.Error())
	}
	return succeed(opID, cfg.TenantID, start, nil, Performance{})
}

// UpdateTenant applies the explicit config update path.
func (c *Coordinator) UpdateTenant(cfg isolation.TenantConfig) Result {
	start := time.Now()
	opID := uuid.New().String()

	if err := c.isolator.UpdateTenant(cfg); err != nil {
		return fail(opID, cfg.TenantID, start, err, err.Error())
	}
	c.cache.clear()
	return succeed(opID, cfg.TenantID, start, nil, Performance{})
}

// DeregisterTenant removes the tenant and purges everything it owns: audit
// trail, offloaded contexts, indexed memories, stored experiences.
func (c *Coordinator) DeregisterTenant(ctx context.Context, tenantID string) Result {
	start := time.Now()
	opID := uuid.New().String()

	if err := c.isolator.DeregisterTenant(tenantID); err != nil {
		return fail(opID, tenantID, start, err, err.Error())
	}

	if c.offloader != nil {
		if n, err := c.offloader.PurgeTenant(ctx, tenantID); err != nil {
			log.Printf("[COORDINATOR] Offload purge incomplete for %s after %d deletions: %v", tenantID, n, err)
		}
	}
	if err := c.index.Purge(ctx, tenantID); err != nil {
		log.Printf("[COORDINATOR] Index purge failed for %s: %v", tenantID, err)
	}
	keys, err := c.store.List(ctx, experienceKey(tenantID, ""))
	if err == nil {
		for _, key := range keys {
			if err := c.store.Delete(ctx, key); err != nil {
				log.Printf("[COORDINATOR] Experience delete failed for %s: %v", key, err)
			}
		}
	}
	c.cache.clear()
	log.Printf("[COORDINATOR] Deregistered tenant %s", tenantID)
	return succeed(opID, tenantID, start, nil, Performance{})
}

// StoreExperience records a task outcome for later recall. Write access is
// checked first; a non-private sharing level additionally requires the share
// (or federate) permission. When offloading applies, the experience's context
// is compressed out of the record and replaced by a reference.
func (c *Coordinator) StoreExperience(ctx context.Context, tenantID string, exp core.Experience, opts StoreOptions) Result {
	start := time.Now()
	opID := uuid.New().String()
	perf := Performance{}

	if dec := c.isolator.ValidateAccess(isolation.AccessRequest{
		TenantID:  tenantID,
		Operation: isolation.OpWrite,
	}); !dec.Allowed {
		return fail(opID, tenantID, start, dec.Err, dec.Reason)
	}

	level := opts.SharingLevel
	if level == "" {
		level = core.SharingPrivate
	}
	if level != core.SharingPrivate {
		op := isolation.OpShare
		if level == core.SharingFederated {
			op = isolation.OpFederate
		}
		if dec := c.isolator.ValidateAccess(isolation.AccessRequest{
			TenantID:  tenantID,
			Operation: op,
		}); !dec.Allowed {
			return fail(opID, tenantID, start, dec.Err, dec.Reason)
		}
	}

	if exp.ID == "" {
		exp.ID = uuid.New().String()
	}
	exp.TenantID = tenantID
	exp.Relevance = core.Clamp01(exp.Relevance)
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now().UTC()
	}

	offloadWanted := c.cfg.OffloadEnabled
	if opts.OffloadContext != nil {
		offloadWanted = *opts.OffloadContext
	}
	if offloadWanted && c.offloader != nil && !exp.Context.Empty() {
		oc, err := c.offloader.Offload(ctx, exp.Context, tenantID)
		if err != nil {
			return fail(opID, tenantID, start, err, fmt.Sprintf("offload context: %v", err))
		}
		exp.ContextRef = oc.ID
		exp.Context = core.TaskContext{}
		perf.Offloaded = true
	}

	embedding, err := c.embedder.Embed(ctx, exp.Content)
	if err != nil {
		return fail(opID, tenantID, start, core.ErrEmbeddingUnavailable,
			fmt.Sprintf("embed experience: %v", err))
	}

	data, err := json.Marshal(exp)
	if err != nil {
		return fail(opID, tenantID, start, core.ErrStorageUnavailable,
			fmt.Sprintf("encode experience: %v", err))
	}
	if err := c.store.Put(ctx, experienceKey(tenantID, exp.ID), data); err != nil {
		return fail(opID, tenantID, start, core.ErrStorageUnavailable,
			fmt.Sprintf("store experience: %v", err))
	}

	// Blob first, index second: a failure here must not leave a searchable
	// memory without its backing experience, so the blob is rolled back.
	mem := core.ContextualMemory{
		MemoryID:       exp.ID,
		TenantID:       tenantID,
		Content:        exp.Content,
		RelevanceScore: exp.Relevance,
		Source:         core.SourceLocal,
		SharingLevel:   level,
		ContextRef:     exp.ContextRef,
		CreatedAt:      exp.CreatedAt,
		Embedding:      embedding,
	}
	if err := c.index.Add(ctx, mem); err != nil {
		if delErr := c.store.Delete(ctx, experienceKey(tenantID, exp.ID)); delErr != nil {
			log.Printf("[COORDINATOR] Rollback of experience %s failed: %v", exp.ID, delErr)
		}
		return fail(opID, tenantID, start, core.ErrStorageUnavailable,
			fmt.Sprintf("index experience: %v", err))
	}

	c.cache.clear()
	log.Printf("[COORDINATOR] Stored experience %s for tenant %s (sharing=%s, offloaded=%t)",
		exp.ID, tenantID, level, perf.Offloaded)
	return succeed(opID, tenantID, start, exp, perf)
}

// GetExperience loads a stored experience by id.
func (c *Coordinator) GetExperience(ctx context.Context, tenantID, experienceID string) Result {
	start := time.Now()
	opID := uuid.New().String()

	if dec := c.isolator.ValidateAccess(isolation.AccessRequest{
		TenantID:   tenantID,
		Operation:  isolation.OpRead,
		ResourceID: experienceID,
	}); !dec.Allowed {
		return fail(opID, tenantID, start, dec.Err, dec.Reason)
	}

	data, err := c.store.Get(ctx, experienceKey(tenantID, experienceID))
	if err != nil {
		return fail(opID, tenantID, start, err, fmt.Sprintf("load experience: %v", err))
	}
	var exp core.Experience
	if err := json.Unmarshal(data, &exp); err != nil {
		return fail(opID, tenantID, start, core.ErrStorageUnavailable,
			fmt.Sprintf("decode experience: %v", err))
	}
	return succeed(opID, tenantID, start, exp, Performance{})
}

// GetContextualMemories gathers memories relevant to the query: tenant-local
// always, shared and federated on request. The merged set is filtered by
// minimum relevance, sorted descending, truncated, and enriched with
// reconstructed context where offloaded context is still relevant.
func (c *Coordinator) GetContextualMemories(ctx context.Context, tenantID string, query core.TaskContext, opts QueryOptions) Result {
	start := time.Now()
	opID := uuid.New().String()

	if dec := c.isolator.ValidateAccess(isolation.AccessRequest{
		TenantID:  tenantID,
		Operation: isolation.OpRead,
	}); !dec.Allowed {
		return fail(opID, tenantID, start, dec.Err, dec.Reason)
	}

	if opts.Limit <= 0 {
		opts.Limit = c.cfg.DefaultQueryLimit
	}

	cacheKey := c.cache.key(tenantID, query, opts)
	if opts.UseCache {
		if mems, ok := c.cache.get(cacheKey); ok {
			return succeed(opID, tenantID, start, mems, Performance{CacheHit: true})
		}
	}

	queryEmbedding, err := c.embedder.Embed(ctx, query.Text())
	if err != nil {
		return fail(opID, tenantID, start, core.ErrEmbeddingUnavailable,
			fmt.Sprintf("embed query: %v", err))
	}

	local, err := c.index.Search(ctx, tenantID, queryEmbedding, opts.Limit)
	if err != nil {
		return fail(opID, tenantID, start, core.ErrStorageUnavailable,
			fmt.Sprintf("search memories: %v", err))
	}
	merged := make([]core.ContextualMemory, 0, len(local))
	for _, m := range local {
		m.Source = core.SourceLocal
		merged = append(merged, m)
	}

	if opts.IncludeShared {
		shared, err := c.gatherShared(ctx, tenantID, queryEmbedding, opts.Limit)
		if err != nil {
			return fail(opID, tenantID, start, core.ErrStorageUnavailable,
				fmt.Sprintf("gather shared memories: %v", err))
		}
		merged = append(merged, shared...)
	}

	// The federated path has the same gate here as in GetFederatedInsights:
	// federation on globally AND the requester's level permits federate.
	if opts.IncludeFederated && c.canFederate(tenantID) {
		insights, err := c.gatherFederatedInsights(ctx, tenantID, query)
		if err != nil {
			log.Printf("[COORDINATOR] Federated gathering failed for %s: %v", tenantID, err)
		} else if insights.SourceCount > 0 {
			merged = append(merged, core.ContextualMemory{
				MemoryID: "federated/" + opID,
				TenantID: tenantID,
				Content: fmt.Sprintf("aggregate insight from %d sources (confidence %.2f)",
					insights.SourceCount, insights.Confidence),
				RelevanceScore: insights.Confidence,
				Source:         core.SourceFederated,
				CreatedAt:      time.Now().UTC(),
			})
		}
	}

	filtered := merged[:0]
	for _, m := range merged {
		if m.RelevanceScore >= opts.MinRelevance {
			filtered = append(filtered, m)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].RelevanceScore > filtered[j].RelevanceScore
	})
	if len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}

	if c.offloader != nil {
		filtered = c.offloader.EnrichMemories(ctx, filtered, tenantID, query)
	}

	if opts.UseCache {
		c.cache.set(cacheKey, filtered)
	}
	return succeed(opID, tenantID, start, filtered, Performance{})
}

// canFederate is the single gate for every entry into the federated path:
// federation enabled globally and the requester's isolation level permitting
// the federate operation.
func (c *Coordinator) canFederate(tenantID string) bool {
	if !c.cfg.FederationEnabled {
		return false
	}
	tctx, err := c.isolator.Context(tenantID)
	if err != nil {
		return false
	}
	return tctx.Permissions.CanFederate
}

// gatherShared collects non-private memories from tenants that pass the
// sharing check against the requester. Each source tenant is re-checked via
// canShare on every query; nothing about sharing is cached.
func (c *Coordinator) gatherShared(ctx context.Context, tenantID string, queryEmbedding []float32, limit int) ([]core.ContextualMemory, error) {
	sources := c.isolator.TenantIDs()
	sort.Strings(sources)

	var out []core.ContextualMemory
	for _, source := range sources {
		if source == tenantID {
			continue
		}
		if dec := c.isolator.CanShare(source, tenantID, "memory", ""); !dec.Allowed {
			continue
		}
		mems, err := c.index.Search(ctx, source, queryEmbedding, limit)
		if err != nil {
			return nil, err
		}
		for _, m := range mems {
			if m.SharingLevel == core.SharingPrivate || m.SharingLevel == "" {
				continue
			}
			m.Source = core.SourceShared
			m.SourceTenant = source
			out = append(out, m)
		}
	}
	return out, nil
}

// GetFederatedInsights aggregates anonymized cross-tenant signals. Disabled
// federation, or a tenant without the federate permission, yields an empty
// zero-confidence result rather than an error.
func (c *Coordinator) GetFederatedInsights(ctx context.Context, tenantID string, query core.TaskContext) Result {
	start := time.Now()
	opID := uuid.New().String()

	if _, err := c.isolator.Context(tenantID); err != nil {
		return fail(opID, tenantID, start, err, err.Error())
	}
	if !c.canFederate(tenantID) {
		return succeed(opID, tenantID, start, FederatedInsights{PrivacyPreserving: true}, Performance{})
	}

	insights, err := c.gatherFederatedInsights(ctx, tenantID, query)
	if err != nil {
		return fail(opID, tenantID, start, core.ErrEmbeddingUnavailable,
			fmt.Sprintf("gather insights: %v", err))
	}
	return succeed(opID, tenantID, start, insights, Performance{})
}

// OffloadContext compresses and stores a context for the tenant.
func (c *Coordinator) OffloadContext(ctx context.Context, tenantID string, tc core.TaskContext) Result {
	start := time.Now()
	opID := uuid.New().String()

	if c.offloader == nil {
		return fail(opID, tenantID, start, core.ErrUnimplemented, "context offloading is not wired up")
	}
	if dec := c.isolator.ValidateAccess(isolation.AccessRequest{
		TenantID:   tenantID,
		Operation:  isolation.OpWrite,
		ResourceID: tc.TaskID,
	}); !dec.Allowed {
		return fail(opID, tenantID, start, dec.Err, dec.Reason)
	}

	oc, err := c.offloader.Offload(ctx, tc, tenantID)
	if err != nil {
		return fail(opID, tenantID, start, err, err.Error())
	}
	return succeed(opID, tenantID, start, oc, Performance{Offloaded: true})
}

// RetrieveContext reconstructs a previously offloaded context when it is
// still relevant to the query. A below-threshold reconstruction is a
// successful operation carrying an explicit refusal, not an error.
func (c *Coordinator) RetrieveContext(ctx context.Context, tenantID, contextID string, query core.TaskContext) Result {
	start := time.Now()
	opID := uuid.New().String()

	if c.offloader == nil {
		return fail(opID, tenantID, start, core.ErrUnimplemented, "context offloading is not wired up")
	}
	if dec := c.isolator.ValidateAccess(isolation.AccessRequest{
		TenantID:   tenantID,
		Operation:  isolation.OpRead,
		ResourceID: contextID,
	}); !dec.Allowed {
		return fail(opID, tenantID, start, dec.Err, dec.Reason)
	}

	rc, err := c.offloader.Retrieve(ctx, contextID, tenantID, query)
	if err != nil {
		return fail(opID, tenantID, start, err, err.Error())
	}
	return succeed(opID, tenantID, start, rc, Performance{})
}

// TenantStats summarizes the tenant's offloaded set.
func (c *Coordinator) TenantStats(ctx context.Context, tenantID string) Result {
	start := time.Now()
	opID := uuid.New().String()

	if c.offloader == nil {
		return fail(opID, tenantID, start, core.ErrUnimplemented, "context offloading is not wired up")
	}
	if dec := c.isolator.ValidateAccess(isolation.AccessRequest{
		TenantID:  tenantID,
		Operation: isolation.OpRead,
	}); !dec.Allowed {
		return fail(opID, tenantID, start, dec.Err, dec.Reason)
	}

	st, err := c.offloader.TenantStats(ctx, tenantID)
	if err != nil {
		return fail(opID, tenantID, start, err, err.Error())
	}
	return succeed(opID, tenantID, start, st, Performance{})
}

// MaintenanceReport summarizes one maintenance sweep.
type MaintenanceReport struct {
	Tenants  int               `json:"tenants"`
	Removed  map[string]int    `json:"removed,omitempty"`
	Failures map[string]string `json:"failures,omitempty"`
}

// PerformMaintenance clears the operation cache and runs the retention sweep
// for every registered tenant, applying each tenant's own retention policy.
// One tenant's failure is recorded and does not abort the sweep for the rest.
func (c *Coordinator) PerformMaintenance(ctx context.Context) Result {
	start := time.Now()
	opID := uuid.New().String()

	c.cache.clear()

	report := MaintenanceReport{
		Removed:  make(map[string]int),
		Failures: make(map[string]string),
	}
	if c.offloader == nil {
		return succeed(opID, "", start, report, Performance{})
	}

	tenants := c.isolator.TenantIDs()
	sort.Strings(tenants)
	report.Tenants = len(tenants)
	for _, tenantID := range tenants {
		ret, err := c.isolator.Retention(tenantID)
		if err != nil {
			// Deregistered mid-sweep.
			continue
		}
		removed, err := c.offloader.Cleanup(ctx, tenantID, ret.MaxContextAge, ret.AccessFloor)
		if err != nil {
			log.Printf("[COORDINATOR] Maintenance failed for tenant %s: %v", tenantID, err)
			report.Failures[tenantID] = err.Error()
			continue
		}
		if removed > 0 {
			report.Removed[tenantID] = removed
		}
	}
	return succeed(opID, "", start, report, Performance{})
}

// AuditLogs returns the most recent limit audit entries for the tenant,
// newest first, for compliance and inspection tooling.
func (c *Coordinator) AuditLogs(tenantID string, limit int) []isolation.AuditEntry {
	return c.isolator.AuditLog(tenantID, limit)
}
