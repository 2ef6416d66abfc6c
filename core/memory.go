package core

import "time"

// MemorySource identifies where a contextual memory came from.
type MemorySource string

const (
	// SourceLocal is a memory owned by the querying tenant.
	SourceLocal MemorySource = "local"

	// SourceShared is a memory another tenant shared under a sharing rule.
	SourceShared MemorySource = "shared"

	// SourceFederated is an anonymized aggregate derived from multiple
	// tenants' local data.
	SourceFederated MemorySource = "federated"
)

// SharingLevel controls who may see a stored memory.
type SharingLevel string

const (
	SharingPrivate   SharingLevel = "private"
	SharingShared    SharingLevel = "shared"
	SharingFederated SharingLevel = "federated"
)

// ContextualMemory is a scored, tenant-scoped memory record.
type ContextualMemory struct {
	MemoryID       string       `json:"memory_id"`
	TenantID       string       `json:"tenant_id"`
	Content        string       `json:"content"`
	RelevanceScore float64      `json:"relevance_score"` // clamped to [0,1]
	Source         MemorySource `json:"source"`
	SharingLevel   SharingLevel `json:"sharing_level,omitempty"`
	SourceTenant   string       `json:"source_tenant,omitempty"`
	ContextRef     string       `json:"context_ref,omitempty"` // offloaded context id, if any
	CreatedAt      time.Time    `json:"created_at"`
	Embedding      []float32    `json:"-"`

	// EnrichedContext holds the reconstructed payload when enrichment
	// succeeded. ContextUnavailable is set instead when reconstruction fell
	// below the relevance threshold; the memory itself is never dropped.
	EnrichedContext    *TaskContext `json:"enriched_context,omitempty"`
	ContextUnavailable bool         `json:"context_unavailable,omitempty"`
}

// Experience is a completed task outcome a tenant records for later recall.
type Experience struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	TaskType  string            `json:"task_type"`
	Content   string            `json:"content"`
	Context   TaskContext       `json:"context"`
	Success   bool              `json:"success"`
	Relevance float64           `json:"relevance"` // importance at record time, [0,1]
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`

	// ContextRef points at the offloaded form of Context once the offloader
	// has evicted it from the record.
	ContextRef string `json:"context_ref,omitempty"`
}

// Clamp01 clamps a score or ratio to [0,1] at the point of computation.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
