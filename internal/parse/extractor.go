// Package parse extracts image candidates from raw HTML markup.
package parse

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mediascout/imagesearch/internal/domain"
)

// Attribute length caps applied during extraction.
const (
	maxAltLength     = 500
	maxTitleLength   = 200
	maxClassLength   = 300
	maxParentLength  = 150
	maxContextLength = 1000
)

// ImageExtractor extracts image candidates from HTML using goquery.
type ImageExtractor struct{}

// NewImageExtractor creates a new image extractor.
func NewImageExtractor() *ImageExtractor {
	return &ImageExtractor{}
}

// Extract parses the page markup and returns one candidate per image URL
// found in img and source elements. Lazy-loading attributes (data-src,
// data-lazy-src, data-srcset) are honored and relative URLs are resolved
// against the page URL.
func (e *ImageExtractor) Extract(page domain.Page) ([]domain.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.RawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	base := baseURL(page.URL)

	var candidates []domain.Candidate
	candidates = append(candidates, e.extractImgTags(doc, base, page.URL)...)
	candidates = append(candidates, e.extractSourceTags(doc, base, page.URL)...)
	return candidates, nil
}

func (e *ImageExtractor) extractImgTags(doc *goquery.Document, base, sourceURL string) []domain.Candidate {
	var candidates []domain.Candidate

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		raw := firstAttr(img, "src", "data-src", "data-lazy-src", "data-srcset")
		if raw == "" {
			return
		}

		alt := truncate(img.AttrOr("alt", ""), maxAltLength)
		title := truncate(img.AttrOr("title", ""), maxTitleLength)
		class := truncate(img.AttrOr("class", ""), maxClassLength)
		context := buildContext(alt, title, class, "", parentText(img))

		for _, u := range splitSrcset(raw) {
			resolved := resolveURL(u, base)
			if resolved == "" {
				continue
			}

			c := domain.Candidate{
				URL:        resolved,
				Format:     FormatFromURL(resolved),
				AltText:    alt,
				Title:      title,
				SourceType: "img",
				SourceURL:  sourceURL,
				Context:    context,
			}
			c.Truncate()
			candidates = append(candidates, c)
		}
	})

	return candidates
}

func (e *ImageExtractor) extractSourceTags(doc *goquery.Document, base, sourceURL string) []domain.Candidate {
	var candidates []domain.Candidate

	doc.Find("source").Each(func(_ int, source *goquery.Selection) {
		srcset := source.AttrOr("srcset", "")
		if srcset == "" {
			return
		}

		media := truncate(source.AttrOr("media", ""), maxTitleLength)

		// Alt, title, and class come from the sibling img inside the
		// enclosing picture element when there is one.
		var alt, title, class string
		if img := source.Closest("picture").Find("img").First(); img.Length() > 0 {
			alt = truncate(img.AttrOr("alt", ""), maxAltLength)
			title = truncate(img.AttrOr("title", ""), maxTitleLength)
			class = truncate(img.AttrOr("class", ""), maxClassLength)
		}
		context := buildContext(alt, title, class, media, parentText(source))

		for _, u := range splitSrcset(srcset) {
			resolved := resolveURL(u, base)
			if resolved == "" {
				continue
			}

			c := domain.Candidate{
				URL:        resolved,
				Format:     FormatFromURL(resolved),
				AltText:    alt,
				Title:      title,
				SourceType: "source",
				Media:      media,
				SourceURL:  sourceURL,
				Context:    context,
			}
			c.Truncate()
			candidates = append(candidates, c)
		}
	})

	return candidates
}

// FormatFromURL classifies an image URL by file extension.
func FormatFromURL(u string) string {
	lower := strings.ToLower(u)
	switch {
	case strings.Contains(lower, ".jpg"), strings.Contains(lower, ".jpeg"):
		return "jpg"
	case strings.Contains(lower, ".png"):
		return "png"
	case strings.Contains(lower, ".svg"):
		return "svg"
	case strings.Contains(lower, ".webp"):
		return "webp"
	case strings.Contains(lower, ".gif"):
		return "gif"
	default:
		return "unknown"
	}
}

// EmbeddingText builds the text embedded and indexed for a candidate.
func EmbeddingText(c domain.Candidate) string {
	text := fmt.Sprintf("Alt: %s | Title: %s | Context: %s", c.AltText, c.Title, c.Context)
	if len(text) > domain.MaxContextLength {
		text = text[:domain.MaxContextLength]
	}
	return text
}

// truncate clamps s to at most max bytes.
func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// splitSrcset splits a srcset-style value into its URL parts, dropping
// width/density descriptors.
func splitSrcset(raw string) []string {
	var urls []string
	for _, part := range strings.Split(raw, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		urls = append(urls, fields[0])
	}
	return urls
}

// resolveURL makes a candidate URL absolute. Data URIs and anything that
// cannot resolve to http(s) are dropped.
func resolveURL(u, base string) string {
	switch {
	case u == "" || strings.HasPrefix(u, "data:"):
		return ""
	case strings.HasPrefix(u, "//"):
		return "https:" + u
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		return u
	case strings.HasPrefix(u, "/"):
		return base + u
	default:
		return base + "/" + strings.TrimLeft(u, "/")
	}
}

// baseURL returns scheme://host for the page URL.
func baseURL(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimRight(pageURL, "/")
	}
	return parsed.Scheme + "://" + parsed.Host
}

func firstAttr(sel *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := sel.Attr(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parentText(sel *goquery.Selection) string {
	parent := sel.Parent()
	if parent.Length() == 0 {
		return ""
	}
	text := strings.Join(strings.Fields(parent.Text()), " ")
	if len(text) > maxParentLength {
		text = text[:maxParentLength] + "..."
	}
	return text
}

// buildContext assembles the labelled context string carried by a
// candidate.
func buildContext(alt, title, class, media, parent string) string {
	var parts []string
	if media != "" {
		parts = append(parts, "Media: "+media)
	}
	if alt != "" {
		parts = append(parts, "Alt: "+alt)
	}
	if title != "" {
		parts = append(parts, "Title: "+title)
	}
	if class != "" {
		parts = append(parts, "Class: "+class)
	}
	if parent != "" {
		parts = append(parts, "Parent text: "+parent)
	}

	context := strings.Join(parts, " | ")
	if len(context) > maxContextLength {
		context = context[:maxContextLength]
	}
	return context
}
