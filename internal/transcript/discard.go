package transcript

import "strings"

// NormalizePhrase lowercases text and strips everything but ASCII letters and digits
func NormalizePhrase(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DiscardFilter drops utterances that exactly match a configured phrase after normalization.
// Speech models tend to hallucinate stock phrases ("thank you", "you") on silence.
type DiscardFilter struct {
	phrases map[string]struct{}
}

// NewDiscardFilter builds a filter from raw phrases
func NewDiscardFilter(phrases []string) *DiscardFilter {
	f := &DiscardFilter{phrases: make(map[string]struct{}, len(phrases))}
	for _, p := range phrases {
		if n := NormalizePhrase(p); n != "" {
			f.phrases[n] = struct{}{}
		}
	}
	return f
}

// Match reports whether text should be discarded
func (f *DiscardFilter) Match(text string) bool {
	if f == nil || len(f.phrases) == 0 {
		return false
	}
	_, ok := f.phrases[NormalizePhrase(text)]
	return ok
}
