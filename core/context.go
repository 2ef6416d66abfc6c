package core

import (
	"encoding/json"
	"sort"
	"strings"
)

// TaskContext is the working context of an agent task: a small identified
// core plus free-form attributes. This is the unit the offloader compresses
// out of the active working set.
type TaskContext struct {
	TaskID      string            `json:"task_id"`
	Description string            `json:"description"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Text renders the context as a single string for summarization and
// embedding. Attributes are emitted in key order so the rendering is
// deterministic.
func (tc TaskContext) Text() string {
	var b strings.Builder
	b.WriteString(tc.Description)
	keys := make([]string, 0, len(tc.Attributes))
	for k := range tc.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(tc.Attributes[k])
	}
	return b.String()
}

// SerializedSize is the JSON-encoded byte size of the context, used as the
// denominator of the compression ratio.
func (tc TaskContext) SerializedSize() int {
	data, err := json.Marshal(tc)
	if err != nil {
		return len(tc.Description)
	}
	return len(data)
}

// Empty reports whether the context carries no usable content.
func (tc TaskContext) Empty() bool {
	return tc.Description == "" && len(tc.Attributes) == 0
}
