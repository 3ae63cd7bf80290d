// Package caption post-processes finalized caption text before broadcast.
//
// whisper.cpp occasionally hallucinates the same phrase for consecutive
// low-energy segments ("thank you for watching" and friends), which reads as
// a stuck overlay. The Filter suppresses a caption when it is a near-exact
// repeat of the previous one, measured by Jaro-Winkler similarity on the
// normalized text.
package caption

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultSimilarityThreshold is the Jaro-Winkler score at or above which a
// caption counts as a repeat of its predecessor. 1.0 is an exact match;
// 0.95 tolerates punctuation and casing jitter between two decodes of the
// same hallucination.
const DefaultSimilarityThreshold = 0.95

// Filter suppresses consecutive near-duplicate captions. It remembers only
// the last admitted caption, so an A-B-A sequence passes through intact.
//
// Filter is owned by the pipeline coordinator and is not safe for concurrent
// use.
type Filter struct {
	threshold float64
	last      string
}

// NewFilter creates a Filter with the given similarity threshold in (0, 1].
// Pass DefaultSimilarityThreshold unless tuning.
func NewFilter(threshold float64) *Filter {
	return &Filter{threshold: threshold}
}

// Admit reports whether text should be broadcast. Empty text is never
// admitted. An admitted caption becomes the new comparison baseline;
// suppressed repeats do not.
func (f *Filter) Admit(text string) bool {
	norm := normalize(text)
	if norm == "" {
		return false
	}
	if f.last != "" {
		if score := matchr.JaroWinkler(f.last, norm, false); score >= f.threshold {
			return false
		}
	}
	f.last = norm
	return true
}

// Reset forgets the comparison baseline. Called on mode-off so the first
// caption after re-enable is never suppressed against stale state.
func (f *Filter) Reset() {
	f.last = ""
}

// normalize lowercases and collapses whitespace so the similarity score
// reflects wording, not formatting.
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
