package offload

import (
	"sort"
	"strings"

	"github.com/locilabs/loci/core"
)

// complexityScore estimates how heterogeneous a context is, in [0,1].
// Inputs: serialized size, attribute count, and lexical diversity of the
// combined text. High scores trigger quarantine partitioning.
func complexityScore(tc core.TaskContext) float64 {
	size := tc.SerializedSize()
	sizeScore := float64(size) / 4096.0

	attrScore := float64(len(tc.Attributes)) / 16.0

	words := strings.Fields(strings.ToLower(tc.Text()))
	diversity := 0.0
	if len(words) > 0 {
		seen := make(map[string]struct{}, len(words))
		for _, w := range words {
			seen[w] = struct{}{}
		}
		diversity = float64(len(seen)) / float64(len(words))
	}

	return core.Clamp01(0.4*sizeScore + 0.4*attrScore + 0.2*diversity)
}

// partitionSeparator joins partition summaries in quarantined contexts.
const partitionSeparator = "\n---\n"

// quarantine partitions a context into independent sub-contexts so each can
// be summarized without contamination from unrelated attributes. Attributes
// are grouped by key namespace (the segment before the first '.' or '_');
// the description anchors the first partition. Grouping is deterministic.
func quarantine(tc core.TaskContext) []core.TaskContext {
	if len(tc.Attributes) <= 1 {
		return []core.TaskContext{tc}
	}

	groups := make(map[string]map[string]string)
	for k, v := range tc.Attributes {
		ns := keyNamespace(k)
		if groups[ns] == nil {
			groups[ns] = make(map[string]string)
		}
		groups[ns][k] = v
	}
	if len(groups) == 1 {
		return []core.TaskContext{tc}
	}

	names := make([]string, 0, len(groups))
	for ns := range groups {
		names = append(names, ns)
	}
	sort.Strings(names)

	parts := make([]core.TaskContext, 0, len(names))
	for i, ns := range names {
		part := core.TaskContext{
			TaskID:     tc.TaskID,
			Attributes: groups[ns],
		}
		if i == 0 {
			part.Description = tc.Description
		}
		parts = append(parts, part)
	}
	return parts
}

func keyNamespace(key string) string {
	if i := strings.IndexAny(key, "._"); i > 0 {
		return key[:i]
	}
	return key
}
