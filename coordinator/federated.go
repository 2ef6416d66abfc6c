package coordinator

import (
	"context"
	"log"
	"sort"

	"github.com/locilabs/loci/core"
)

// FederatedInsight is one anonymized aggregate signal. It carries no tenant
// identity and no raw memory content.
type FederatedInsight struct {
	AvgRelevance float64 `json:"avg_relevance"`
	Support      int     `json:"support"` // number of memories behind the signal
}

// FederatedInsights is the aggregate result of a federated query.
type FederatedInsights struct {
	Insights          []FederatedInsight `json:"insights"`
	SourceCount       int                `json:"source_count"`
	Confidence        float64            `json:"confidence"`
	PrivacyPreserving bool               `json:"privacy_preserving"`
}

// FederationWeights balances source breadth against relevance when scoring
// confidence. The right balance is an open tuning question; both default to
// 0.5.
type FederationWeights struct {
	SourceCount  float64 `yaml:"source_count"`
	AvgRelevance float64 `yaml:"avg_relevance"`
}

// gatherFederatedInsights aggregates anonymized signals from candidate
// tenants that pass the sharing check against the requester. Candidates that
// fail canShare contribute nothing, even when they are in the pool.
func (c *Coordinator) gatherFederatedInsights(ctx context.Context, tenantID string, query core.TaskContext) (FederatedInsights, error) {
	out := FederatedInsights{PrivacyPreserving: true}
	if !c.cfg.FederationEnabled {
		return out, nil
	}

	queryEmbedding, err := c.embedder.Embed(ctx, query.Text())
	if err != nil {
		return out, err
	}

	// Bounded, deterministic candidate pool.
	candidates := c.isolator.TenantIDs()
	sort.Strings(candidates)
	pooled := 0

	var relevanceSum float64
	for _, candidate := range candidates {
		if candidate == tenantID {
			continue
		}
		if c.cfg.MaxFederationSources > 0 && pooled >= c.cfg.MaxFederationSources {
			break
		}
		pooled++

		if dec := c.isolator.CanShare(candidate, tenantID, "memory", ""); !dec.Allowed {
			continue
		}

		mems, err := c.index.Search(ctx, candidate, queryEmbedding, c.cfg.DefaultQueryLimit)
		if err != nil {
			log.Printf("[COORDINATOR] Federated search failed for candidate %s: %v", candidate, err)
			continue
		}

		var sum float64
		support := 0
		for _, m := range mems {
			if m.SharingLevel != core.SharingFederated {
				continue
			}
			sum += m.RelevanceScore
			support++
		}
		if support == 0 {
			continue
		}

		out.Insights = append(out.Insights, FederatedInsight{
			AvgRelevance: core.Clamp01(sum / float64(support)),
			Support:      support,
		})
		out.SourceCount++
		relevanceSum += sum / float64(support)
	}

	if out.SourceCount == 0 {
		return out, nil
	}

	maxSources := c.cfg.MaxFederationSources
	if maxSources <= 0 {
		maxSources = len(candidates)
	}
	breadth := float64(out.SourceCount) / float64(maxSources)
	if breadth > 1 {
		breadth = 1
	}
	avgRelevance := relevanceSum / float64(out.SourceCount)
	out.Confidence = core.Clamp01(
		c.cfg.FederationWeights.SourceCount*breadth +
			c.cfg.FederationWeights.AvgRelevance*avgRelevance)
	return out, nil
}
