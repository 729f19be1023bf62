package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Cache classes. Each class occupies a disjoint key prefix so that
// pattern-based invalidation can target one class without affecting the
// others.
const (
	ClassContent   = "content"
	ClassQuery     = "query"
	ClassEmbedding = "embedding"
)

const (
	hashLength = 8
	dayFormat  = "2006-01-02"
)

// hashString returns a short stable hex digest for cache key components.
func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLength]
}

// hashURL normalizes a locator before hashing: only host and path
// participate, and trailing slashes collapse so "/products/" and
// "/products" share an entry while the bare root stays "/".
func hashURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return hashString(raw)
	}

	path := parsed.Path
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}

	return hashString(parsed.Host + path)
}

// hashFilters produces an order-independent digest of a filter set: two
// sets with the same key/value pairs in different insertion order hash
// identically. Empty sets get a fixed marker.
func hashFilters(filters map[string]string) string {
	if len(filters) == 0 {
		return "no-filter"
	}

	// json.Marshal sorts map keys, giving a canonical form.
	data, err := json.Marshal(filters)
	if err != nil {
		return "no-filter"
	}
	return hashString(string(data))
}

// contentKey buckets content entries by day so long-lived static pages
// stay findable without unbounded key growth.
func contentKey(targetURL string, pageLimit int, day time.Time) string {
	return fmt.Sprintf("%s:%s:%d:%s", ClassContent, hashURL(targetURL), pageLimit, day.Format(dayFormat))
}

func queryKey(query, namespace string, filters map[string]string) string {
	return fmt.Sprintf("%s:%s:%s:%s", ClassQuery, hashString(query), namespace, hashFilters(filters))
}

func embeddingKey(text, model string) string {
	return fmt.Sprintf("%s:%s:%s", ClassEmbedding, hashString(text), model)
}
