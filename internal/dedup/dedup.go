// Package dedup collapses near-duplicate candidates from a ranked
// retrieval result and produces the final ordering. It is pure: identical
// inputs always yield identical outputs, including tie-breaks.
package dedup

import (
	"sort"
	"strings"
	"unicode"

	"github.com/mediascout/imagesearch/internal/domain"
)

// DefaultPriorities ranks media formats for duplicate survival and final
// ordering. Higher wins.
func DefaultPriorities() map[string]int {
	return map[string]int{
		"jpg":  3,
		"png":  2,
		"webp": 1,
		"svg":  0,
	}
}

// Deduplicator collapses duplicates using a configurable classification
// priority table.
type Deduplicator struct {
	priorities map[string]int
}

// New creates a Deduplicator. A nil priority table falls back to
// DefaultPriorities.
func New(priorities map[string]int) *Deduplicator {
	if priorities == nil {
		priorities = DefaultPriorities()
	}
	return &Deduplicator{priorities: priorities}
}

// NormalizeLabel lowercases, replaces punctuation with single spaces,
// collapses repeated whitespace, and trims. Two candidates with equal
// normalized labels are the same logical item.
func NormalizeLabel(label string) string {
	var b strings.Builder
	b.Grow(len(label))

	for _, r := range strings.ToLower(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

func (d *Deduplicator) priority(format string) int {
	return d.priorities[format]
}

// prefer reports whether a should survive over b when both carry the same
// normalized label. The order is total: classification priority, then
// lexical-match score, then retrieval score (lower is better).
func (d *Deduplicator) prefer(a, b domain.Candidate) bool {
	if pa, pb := d.priority(a.Format), d.priority(b.Format); pa != pb {
		return pa > pb
	}
	if a.MatchScore != b.MatchScore {
		return a.MatchScore > b.MatchScore
	}
	return a.Score < b.Score
}

// Apply filters by the optional classification allow-list, collapses
// duplicates by normalized label, orders the survivors, and truncates to
// maxResults. Candidates with an empty normalized label bypass duplicate
// collapsing entirely.
func (d *Deduplicator) Apply(candidates []domain.Candidate, allowList []string, maxResults int) []domain.Candidate {
	allowed := make(map[string]bool, len(allowList))
	for _, format := range allowList {
		allowed[format] = true
	}

	survivors := make([]domain.Candidate, 0, len(candidates))
	byLabel := make(map[string]int) // normalized label -> index in survivors

	for _, c := range candidates {
		if len(allowed) > 0 && !allowed[c.Format] {
			continue
		}

		label := NormalizeLabel(c.AltText)
		if label == "" {
			survivors = append(survivors, c)
			continue
		}

		if idx, seen := byLabel[label]; seen {
			if d.prefer(c, survivors[idx]) {
				survivors[idx] = c
			}
			continue
		}

		byLabel[label] = len(survivors)
		survivors = append(survivors, c)
	}

	d.sortResults(survivors, len(allowed) > 0)

	if maxResults > 0 && len(survivors) > maxResults {
		survivors = survivors[:maxResults]
	}
	return survivors
}

// sortResults orders by descending lexical-match score, then by
// classification priority (skipped when an allow-list fixed the
// classification), then by ascending retrieval score.
func (d *Deduplicator) sortResults(results []domain.Candidate, filtered bool) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.MatchScore != b.MatchScore {
			return a.MatchScore > b.MatchScore
		}
		if !filtered {
			if pa, pb := d.priority(a.Format), d.priority(b.Format); pa != pb {
				return pa > pb
			}
		}
		return a.Score < b.Score
	})
}
