// Package search serves similarity queries over the page index: embed the
// query text with the same model the crawler indexed with, then return the
// nearest pages.
package search

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"dragnet/internal/vector"
	"dragnet/pkg/api/common"
	"dragnet/pkg/api/lookout"
	"dragnet/pkg/logging"
)

// Embedder turns query text into a vector in the page-embedding space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index answers nearest-neighbour queries.
type Index interface {
	Search(ctx context.Context, embedding []float32, limit, offset uint64) ([]vector.Match, error)
}

// API exposes the search endpoint.
type API struct {
	embedder Embedder
	index    Index
	logger   logging.Logger
}

func NewAPI(embedder Embedder, index Index, logger logging.Logger) (*API, error) {
	if embedder == nil || index == nil {
		return nil, errors.New("embedder and index are required")
	}
	return &API{embedder: embedder, index: index, logger: logger}, nil
}

func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/v1/search", a.handleSearch)
}

// handleSearch embeds `q` and returns the nearest pages. limit and offset
// are optional; the index applies its own default and cap to limit.
func (a *API) handleSearch(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "query parameter q is required"})
		return
	}

	limit, ok := parsePositive(c.Query("limit"))
	if !ok {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "limit must be a non-negative integer"})
		return
	}
	offset, ok := parsePositive(c.Query("offset"))
	if !ok {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "offset must be a non-negative integer"})
		return
	}

	ctx := c.Request.Context()

	embedding, err := a.embedder.Embed(ctx, query)
	if err != nil {
		a.logger.WithError(err).Error("Failed to embed query")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "failed to embed query"})
		return
	}

	matches, err := a.index.Search(ctx, embedding, limit, offset)
	if err != nil {
		a.logger.WithError(err).Error("Search failed")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "search failed"})
		return
	}

	results := make([]lookout.SearchMatch, 0, len(matches))
	for _, m := range matches {
		results = append(results, lookout.SearchMatch{URL: m.URL, Title: m.Title})
	}

	a.logger.WithFields(logging.Fields{
		"query":   query,
		"matches": len(results),
	}).Debug("Search served")

	c.JSON(http.StatusOK, lookout.SearchResponse{Query: query, Matches: results})
}

// parsePositive parses an optional non-negative integer query parameter.
// Empty means zero.
func parsePositive(raw string) (uint64, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
