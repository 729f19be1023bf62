package cache

import (
	"strconv"
	"strings"
	"time"

	"github.com/mediascout/imagesearch/internal/domain"
)

// TTLConfig holds the per-class TTL policy.
type TTLConfig struct {
	ContentStatic  time.Duration `yaml:"content_static"`
	ContentDynamic time.Duration `yaml:"content_dynamic"`
	QueryBase      time.Duration `yaml:"query_base"`
	QueryFiltered  time.Duration `yaml:"query_filtered"`
	QueryPopular   time.Duration `yaml:"query_popular"`
	Embedding      time.Duration `yaml:"embedding"`
}

// DefaultTTLConfig returns the standard TTL policy: static content lives
// for a week, volatile content a day, query results an hour (less when
// filter-qualified, more when popular), embeddings a month.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		ContentStatic:  7 * 24 * time.Hour,
		ContentDynamic: 24 * time.Hour,
		QueryBase:      time.Hour,
		QueryFiltered:  30 * time.Minute,
		QueryPopular:   6 * time.Hour,
		Embedding:      30 * 24 * time.Hour,
	}
}

// PopularityFunc reports whether a query should be treated as popular for
// TTL extension. The measurement mechanism is caller-supplied; the default
// treats nothing as popular.
type PopularityFunc func(query string) bool

// volatileTokens are URL fragments associated with frequently changing
// content.
var volatileTokens = []string{
	"news", "blog", "article", "post",
	"rss", "feed", "update", "latest",
}

const volatileYearFloor = 2020

// DetectPageType classifies a locator as static or dynamic for TTL
// selection. Date-like tokens or terms associated with frequently changing
// content mark the page dynamic; corporate/product pages default to static.
func DetectPageType(targetURL string, now time.Time) domain.PageType {
	lowered := strings.ToLower(targetURL)
	for _, token := range volatileTokens {
		if strings.Contains(lowered, token) {
			return domain.PageTypeDynamic
		}
	}

	for year := volatileYearFloor; year <= now.Year(); year++ {
		if strings.Contains(targetURL, strconv.Itoa(year)) {
			return domain.PageTypeDynamic
		}
	}

	return domain.PageTypeStatic
}

// contentTTL selects the content-class TTL from the volatility class.
func (c TTLConfig) contentTTL(pageType domain.PageType) time.Duration {
	if pageType == domain.PageTypeStatic {
		return c.ContentStatic
	}
	return c.ContentDynamic
}

// queryTTL selects the query-class TTL. Filter-qualified queries are more
// specific and more likely stale, so they expire sooner; popular queries
// are kept longer.
func (c TTLConfig) queryTTL(filtered, popular bool) time.Duration {
	switch {
	case popular:
		return c.QueryPopular
	case filtered:
		return c.QueryFiltered
	default:
		return c.QueryBase
	}
}
