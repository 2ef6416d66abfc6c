// Package extractive provides an offline summarizer that selects the most
// information-dense sentences of a context by word frequency. No model, no
// network; suitable for tests and air-gapped deployments.
package extractive

import (
	"context"
	"sort"
	"strings"

	"github.com/locilabs/loci/core"
)

// Summarizer scores sentences by the frequency of their words across the
// whole context and keeps the top scorers in original order.
type Summarizer struct {
	maxSentences int
}

// New creates an extractive summarizer keeping at most maxSentences
// sentences (default 3).
func New(maxSentences int) *Summarizer {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &Summarizer{maxSentences: maxSentences}
}

// Summarize returns the highest-scoring sentences of the context. Short
// contexts pass through unchanged.
func (s *Summarizer) Summarize(_ context.Context, tc core.TaskContext) (string, error) {
	text := tc.Text()
	sentences := splitSentences(text)
	if len(sentences) <= s.maxSentences {
		return text, nil
	}

	freq := make(map[string]int)
	for _, sentence := range sentences {
		for _, w := range words(sentence) {
			freq[w]++
		}
	}

	type scored struct {
		index int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, sentence := range sentences {
		ws := words(sentence)
		if len(ws) == 0 {
			ranked[i] = scored{index: i}
			continue
		}
		sum := 0
		for _, w := range ws {
			sum += freq[w]
		}
		// Normalize by length so long sentences don't win by volume alone.
		ranked[i] = scored{index: i, score: float64(sum) / float64(len(ws))}
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	keep := ranked[:s.maxSentences]
	sort.Slice(keep, func(i, j int) bool { return keep[i].index < keep[j].index })

	parts := make([]string, 0, len(keep))
	for _, k := range keep {
		parts = append(parts, sentences[k.index])
	}
	return strings.Join(parts, " "), nil
}

func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?', '\n':
			if s := strings.TrimSpace(text[start : i+1]); s != "" && s != "." {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "is": true, "it": true, "for": true, "on": true,
	"with": true, "as": true, "at": true, "by": true, "be": true, "this": true,
	"that": true, "was": true, "are": true, "from": true,
}

func words(sentence string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(sentence)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) < 2 || stopwords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}
