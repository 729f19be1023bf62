package dedup

import "strings"

// Lexical-match weights. The full query matching inside the alt text is
// worth the most; individual token matches accumulate on top.
const (
	fullQueryAltWeight   = 2.0
	fullQueryTitleWeight = 1.0
	tokenAltWeight       = 0.5
	tokenTitleWeight     = 0.3
	minTokenLength       = 3
)

// LexicalMatchScore scores how well a candidate's alt text and title
// overlap with the query. The score is always >= 0 and increases
// monotonically with each matching query token.
func LexicalMatchScore(query, altText, title string) float64 {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return 0
	}

	alt := strings.ToLower(altText)
	titleLower := strings.ToLower(title)

	var score float64
	if alt != "" && strings.Contains(alt, query) {
		score += fullQueryAltWeight
	}
	if titleLower != "" && strings.Contains(titleLower, query) {
		score += fullQueryTitleWeight
	}

	for _, token := range strings.Fields(query) {
		if len(token) < minTokenLength {
			continue
		}
		if strings.Contains(alt, token) {
			score += tokenAltWeight
		}
		if strings.Contains(titleLower, token) {
			score += tokenTitleWeight
		}
	}

	return score
}
