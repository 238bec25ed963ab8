package model

import "github.com/hupe1980/agentstep/core"

// imageMarker distinguishes an image turn from a text turn with equal content.
const imageMarker = " [Contains image]"

type historyKey struct{ role, content string }

func keyOf(m core.Message) historyKey {
	content := m.Content
	if len(m.Image) > 0 {
		content += imageMarker
	}
	return historyKey{role: m.Role, content: content}
}

// MergeHistory returns cached followed by every message of current whose
// (role, content) pair is not already in cached. Order is preserved; the
// inputs are not modified.
func MergeHistory(cached, current []core.Message) []core.Message {
	seen := make(map[historyKey]bool, len(cached))
	out := make([]core.Message, 0, len(cached)+len(current))
	for _, m := range cached {
		seen[keyOf(m)] = true
		out = append(out, m)
	}
	for _, m := range current {
		if seen[keyOf(m)] {
			continue
		}
		out = append(out, m)
	}
	return out
}
