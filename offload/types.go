package offload

import "time"

// OffloadedContext is the compact, retrievable form of a task context.
// Created on offload, read-only afterwards except for access bookkeeping;
// deleted only by the retention sweep or explicit cleanup.
type OffloadedContext struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	TaskID   string `json:"task_id,omitempty"`

	// Summary is the compressed representation produced by the
	// summarization collaborator. When the source context was quarantined,
	// partition summaries are joined with partitionSeparator.
	Summary   string    `json:"summary"`
	Embedding []float32 `json:"embedding"`

	// CompressionRatio = serialized summary size / serialized original
	// size, clamped to (0,1]. 1.0 means no reduction was achieved; that is
	// a weak cleanup signal, never an error.
	CompressionRatio float64 `json:"compression_ratio"`

	Partitions int       `json:"partitions"`
	CreatedAt  time.Time `json:"created_at"`

	// Access bookkeeping feeding the cleanup floor.
	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
}

// BelowThresholdReason is the refusal reason when a reconstruction's
// relevance falls under the configured threshold.
const BelowThresholdReason = "below_relevance_threshold"

// ReconstructedContext is the outcome of a retrieval: either a payload with
// its relevance score, or an explicit refusal carrying the score and reason.
// Partial data is never returned unmarked — Payload is nil whenever Reason
// is set.
type ReconstructedContext struct {
	ContextID      string  `json:"context_id"`
	RelevanceScore float64 `json:"relevance_score"`

	// Payload is the reconstructed context, nil when refused.
	Payload *ReconstructedPayload `json:"payload,omitempty"`

	// Reason is set on refusal (BelowThresholdReason).
	Reason string `json:"reason,omitempty"`
}

// ReconstructedPayload carries the recovered context plus reconstruction
// metadata.
type ReconstructedPayload struct {
	TaskID           string    `json:"task_id,omitempty"`
	Summary          string    `json:"summary"`
	Partitions       int       `json:"partitions"`
	CompressionRatio float64   `json:"compression_ratio"`
	OffloadedAt      time.Time `json:"offloaded_at"`
}

// Stats summarizes a tenant's offloaded set.
type Stats struct {
	Count               int     `json:"count"`
	AvgCompressionRatio float64 `json:"avg_compression_ratio"`
	AvgAccessCount      float64 `json:"avg_access_count"`
}

// Config holds offloader tuning.
type Config struct {
	// RelevanceThreshold is the minimum similarity for a reconstruction to
	// be returned instead of refused.
	RelevanceThreshold float64 `yaml:"relevance_threshold"`

	// QuarantineThreshold is the complexity score above which a context is
	// partitioned into independent sub-contexts before summarization, so
	// unrelated information cannot contaminate a single summary.
	QuarantineThreshold float64 `yaml:"quarantine_threshold"`

	// RetentionAge is the default maximum age for cleanup when the tenant
	// has no retention policy of its own.
	RetentionAge time.Duration `yaml:"retention_age"`

	// AccessFloor is the default minimum access count for cleanup.
	AccessFloor int `yaml:"access_floor"`
}

// DefaultConfig returns tuning suitable for local embedders. Tiny models
// produce lower similarity scores than production ones, so the threshold is
// deliberately modest.
func DefaultConfig() Config {
	return Config{
		RelevanceThreshold:  0.5,
		QuarantineThreshold: 0.7,
		RetentionAge:        30 * 24 * time.Hour,
		AccessFloor:         0,
	}
}
