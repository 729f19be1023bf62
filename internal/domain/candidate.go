// Package domain contains the core data types shared across the
// imagesearch service: extracted media candidates, the typed cache entry
// variants, and the common error values.
package domain

const (
	// MaxContextLength bounds the raw contextual text carried by a candidate.
	MaxContextLength = 2000

	// MaxURLLength bounds stored resource and page locators.
	MaxURLLength = 1000
)

// Candidate is one extracted media item competing for inclusion in a
// ranked, deduplicated search response.
type Candidate struct {
	// URL is the canonical resource locator of the media item.
	URL string `json:"url"`

	// Format is the classification tag (jpg, png, webp, svg, ...).
	Format string `json:"format"`

	// AltText is the label used for duplicate detection.
	AltText string `json:"alt_text"`

	// Title is the secondary label from the source markup.
	Title string `json:"title"`

	// SourceType records which markup element produced the candidate
	// ("img" or "source").
	SourceType string `json:"source_type"`

	// Media carries the media query attribute for source elements.
	Media string `json:"media,omitempty"`

	// Score is the retrieval score. It is engine-defined and opaque
	// except for its ordering: lower is better.
	Score float64 `json:"score"`

	// MatchScore is the lexical-match score derived from label/title
	// overlap with the query. Always >= 0.
	MatchScore float64 `json:"match_score"`

	// SourceURL is the page the candidate was extracted from.
	SourceURL string `json:"source_url"`

	// Context is the bounded contextual text surrounding the element.
	Context string `json:"context"`
}

// Truncate enforces the length bounds on locators and context.
func (c *Candidate) Truncate() {
	if len(c.URL) > MaxURLLength {
		c.URL = c.URL[:MaxURLLength]
	}
	if len(c.SourceURL) > MaxURLLength {
		c.SourceURL = c.SourceURL[:MaxURLLength]
	}
	if len(c.Context) > MaxContextLength {
		c.Context = c.Context[:MaxContextLength]
	}
}

// Page is one fetched page: its resolved URL and the raw markup the
// render service produced for it.
type Page struct {
	URL     string `json:"url"`
	RawHTML string `json:"raw_html"`
}
