package history

import "sort"

// Collate merges a direct (reply/thread) sequence and an ambient
// (channel) sequence into one chronological, de-duplicated sequence
// under the budget. The direct sequence has priority: it is trimmed to
// the budget first, and the ambient sequence only receives whatever
// depth and character allowance remains. Entries sharing an origin ID
// with the direct set are dropped from the ambient set.
//
// The result never exceeds budget.MaxDepth entries, and never exceeds
// budget.MaxChars total content length except when a single entry
// alone exceeds the budget; that entry is kept rather than silently
// dropped, since dropping it would leave the newest turn with no
// context at all.
func Collate(direct, ambient []Message, budget Budget) []Message {
	directKept := takeNewest(newestFirst(direct), budget.MaxDepth, budget.MaxChars, true)

	seen := make(map[string]bool, len(directKept))
	for _, m := range directKept {
		if m.OriginID != "" {
			seen[m.OriginID] = true
		}
	}

	remDepth := budget.MaxDepth - len(directKept)
	remChars := budget.MaxChars - totalSize(directKept)

	var candidates []Message
	for _, m := range newestFirst(ambient) {
		if m.OriginID != "" {
			if seen[m.OriginID] {
				continue
			}
			seen[m.OriginID] = true
		}
		candidates = append(candidates, m)
	}
	ambientKept := takeNewest(candidates, remDepth, remChars, len(directKept) == 0)

	merged := make([]Message, 0, len(directKept)+len(ambientKept))
	merged = append(merged, directKept...)
	merged = append(merged, ambientKept...)

	// Entries lacking a timestamp (CreatedAt == 0) sort as earliest.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt < merged[j].CreatedAt
	})
	return merged
}

// takeNewest admits entries from a newest-first sequence until either
// allowance runs out, then returns them in chronological order. When
// allowOversized is set, the single newest entry is admitted even if
// it alone exceeds maxChars.
func takeNewest(msgs []Message, maxDepth, maxChars int, allowOversized bool) []Message {
	var out []Message
	chars := 0
	for _, m := range msgs {
		if len(out) >= maxDepth {
			break
		}
		if chars+size(m) > maxChars {
			if len(out) == 0 && allowOversized {
				out = append(out, m)
			}
			break
		}
		out = append(out, m)
		chars += size(m)
	}
	reverse(out)
	return out
}

// newestFirst returns a reversed copy of a chronological sequence.
func newestFirst(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}
