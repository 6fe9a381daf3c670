// Package server provides the optional admin HTTP API: health, metrics and
// read access to the cat cache.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"httpcat/internal/cache"
	"httpcat/internal/core"
)

// CatService is the part of the cat cache the API needs.
type CatService interface {
	Resolve(ctx context.Context, status core.StatusCode) (*core.MediaRef, error)
	Entries(ctx context.Context) ([]cache.Entry, error)
	Len() int
}

// Handler holds the HTTP handlers
type Handler struct {
	cats CatService
}

// NewHandler creates a new handler over the cat cache.
func NewHandler(cats CatService) *Handler {
	return &Handler{cats: cats}
}

// CatListResponse is returned by GET /v1/cats.
type CatListResponse struct {
	Object string        `json:"object"`
	Data   []cache.Entry `json:"data"`
	// Memory is the number of entries currently held in the memory tier.
	Memory int `json:"memory"`
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListCats handles GET /v1/cats
func (h *Handler) ListCats(c echo.Context) error {
	entries, err := h.cats.Entries(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	if entries == nil {
		entries = []cache.Entry{}
	}
	return c.JSON(http.StatusOK, CatListResponse{
		Object: "list",
		Data:   entries,
		Memory: h.cats.Len(),
	})
}

// GetCat handles GET /v1/cats/:status. It resolves through the cache, so an
// uncached status is fetched and uploaded like a chat command would.
func (h *Handler) GetCat(c echo.Context) error {
	raw := c.Param("status")
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_request_error", "invalid status code: "+raw))
	}

	ctx := core.WithRequestID(c.Request().Context(), c.Response().Header().Get(echo.HeaderXRequestID))
	ref, err := h.cats.Resolve(ctx, core.StatusCode(n))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, ref)
}

// handleError converts cache errors to HTTP responses.
func handleError(c echo.Context, err error) error {
	if ff, ok := core.AsFetchFailure(err); ok {
		body := errorBody("fetch_failure", ff.Error())
		body["error"]["status"] = int(ff.Status)
		body["error"]["upstream_status"] = ff.UpstreamStatus
		return c.JSON(ff.HTTPStatusCode(), body)
	}

	slog.Error("admin request failed", "path", c.Request().URL.Path, "error", err)
	return c.JSON(http.StatusInternalServerError, errorBody("internal_error", "an unexpected error occurred"))
}

func errorBody(errType, message string) map[string]map[string]interface{} {
	return map[string]map[string]interface{}{
		"error": {
			"type":    errType,
			"message": message,
		},
	}
}
