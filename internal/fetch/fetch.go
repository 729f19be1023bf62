// Package fetch retrieves rendered page markup from the external render
// service.
package fetch

import (
	"context"

	"github.com/mediascout/imagesearch/internal/domain"
)

// Fetcher retrieves the rendered pages reachable from a start URL, up to
// the page limit.
type Fetcher interface {
	Fetch(ctx context.Context, url string, limit int) ([]domain.Page, error)
}
