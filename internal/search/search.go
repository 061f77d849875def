// Package search defines the story search port the collection engine fetches
// through, plus the HTTP client that talks to the hosted search API.
package search

import (
	"context"

	"github.com/cstaal88/mina-pipeline/internal/models"
)

// Query selects stories for one topic over a date window, optionally scoped
// to specific sources and continued from a pagination token.
type Query struct {
	Text      string
	StartDate string
	EndDate   string
	SourceIDs []int64
	PageSize  int
	PageToken string
}

// Page is one page of story results. An empty NextToken means the result set
// is exhausted.
type Page struct {
	Stories   []models.Story
	NextToken string
}

// CountResult is the outcome of a story-count lookup. Confident is false
// when the API answered without a usable count field and the value fell back
// to zero; callers may still cache it but should surface the uncertainty.
type CountResult struct {
	Relevant  int
	Total     int
	Confident bool
}

// Searcher is the transport-side collaborator of the collection engine.
type Searcher interface {
	Stories(ctx context.Context, q Query) (*Page, error)
	Count(ctx context.Context, q Query) (*CountResult, error)
}
