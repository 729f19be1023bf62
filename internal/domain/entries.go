package domain

import "time"

// PageType classifies fetched content for TTL selection.
type PageType string

const (
	// PageTypeStatic marks content expected to change rarely.
	PageTypeStatic PageType = "static"

	// PageTypeDynamic marks frequently changing content.
	PageTypeDynamic PageType = "dynamic"
)

// ContentEntry is the cached form of a fetch: the raw pages plus the
// volatility classification and capture time. Entries are immutable once
// written; updates are full overwrites.
type ContentEntry struct {
	Pages      []Page    `json:"pages"`
	PageType   PageType  `json:"page_type"`
	CapturedAt time.Time `json:"captured_at"`
}

// QueryEntry is the cached form of one search: the ordered result list
// together with the query/namespace/filter tuple that produced it.
type QueryEntry struct {
	Query      string            `json:"query"`
	Namespace  string            `json:"namespace"`
	Filters    map[string]string `json:"filters,omitempty"`
	Results    []Candidate       `json:"results"`
	CapturedAt time.Time         `json:"captured_at"`
}

// VectorEntry is the cached form of one embedding computation.
type VectorEntry struct {
	Text       string    `json:"text"`
	Model      string    `json:"model"`
	Embedding  []float32 `json:"embedding"`
	CapturedAt time.Time `json:"captured_at"`
}
