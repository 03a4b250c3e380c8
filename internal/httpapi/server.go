// Package httpapi implements the HTTP surface: echo handlers that
// validate input, call the core components, and translate errors to
// status codes (echo + middleware.Recover/RequestID,
// echo.NewHTTPError-based error translation).
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragserver/internal/catalog"
	"github.com/fyrsmithlabs/ragserver/internal/retriever"
	"github.com/fyrsmithlabs/ragserver/internal/syncmanager"
	"github.com/fyrsmithlabs/ragserver/internal/tenantauth"
)

// Server bundles the HTTP surface's collaborators, all adapters over
// the core components (spec.md §4.K: "handlers in this layer are
// adapters").
type Server struct {
	echo      *echo.Echo
	store     *catalog.Store
	sync      *syncmanager.Manager
	retriever *retriever.Retriever
	resolver  *tenantauth.Resolver
	log       *zap.Logger
}

// New builds the echo server and registers every route in spec.md
// §6's table.
func New(store *catalog.Store, sm *syncmanager.Manager, rt *retriever.Retriever, resolver *tenantauth.Resolver, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{echo: e, store: store, sync: sm, retriever: rt, resolver: resolver, log: log}
	s.routes()
	return s
}

// Echo exposes the underlying instance for tests and for the
// entrypoint's graceful-shutdown hook.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) routes() {
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	tenant := s.echo.Group("", s.resolver.Middleware())
	tenant.POST("/sync/trigger", s.handleSyncTrigger)
	tenant.GET("/sync/status", s.handleSyncStatus)
	tenant.GET("/sync/history", s.handleSyncHistory)
	tenant.POST("/sync/detect-changes", s.handleDetectChanges)
	tenant.POST("/sync/cleanup", s.handleSyncCleanup)
	tenant.POST("/sync/cancel", s.handleSyncCancel)
	tenant.POST("/query", s.handleQuery)
	tenant.POST("/query/search", s.handleQuerySearch)
	tenant.GET("/files", s.handleListFiles)

	admin := s.echo.Group("/admin", s.resolver.Middleware(), tenantauth.RequireAdmin)
	admin.GET("/tenants", s.handleAdminTenants)
	admin.POST("/tenants", s.handleCreateTenant)
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()

	select {
	case <-ctx.Done():
		return s.echo.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type syncTriggerRequest struct {
	ForceFullSync bool `json:"force_full_sync"`
}

func (s *Server) handleSyncTrigger(c echo.Context) error {
	var req syncTriggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.sync.RequestSync(c.Request().Context(), tenantauth.TenantSlug(c), req.ForceFullSync)
	if err != nil {
		if errors.Is(err, syncmanager.ErrRootUnreadable) {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if result.Status == "conflict" {
		body := map[string]interface{}{
			"status":  result.Status,
			"sync_id": result.SyncID,
		}
		if result.Conflict != nil {
			body["stage"] = result.Conflict.ProgressStage
			body["percentage"] = result.Conflict.ProgressPercentage
		}
		return c.JSON(http.StatusConflict, body)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":                    result.Status,
		"sync_id":                   result.SyncID,
		"expected_duration_seconds": result.ExpectedDurationSeconds,
		"total_files":               result.TotalFiles,
	})
}

func (s *Server) handleSyncStatus(c echo.Context) error {
	ctx := c.Request().Context()
	slug := tenantauth.TenantSlug(c)

	latest, ok, err := s.store.RunningSyncOperation(ctx, slug)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		history, err := s.store.SyncHistory(ctx, slug, 1)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if len(history) > 0 {
			latest = history[0]
		}
	}

	counts, total, err := s.store.FileStatusCounts(ctx, slug)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"latest": map[string]interface{}{
			"id":           latest.ID,
			"status":       latest.Status,
			"stage":        latest.ProgressStage,
			"percentage":   latest.ProgressPercentage,
			"current_file": latest.CurrentFileIndex,
			"total_files":  latest.TotalFilesToProcess,
			"heartbeat_at": latest.HeartbeatAt,
		},
		"file_status": map[string]interface{}{
			"pending":    counts[catalog.SyncStatusPending],
			"processing": counts[catalog.SyncStatusProcessing],
			"failed":     counts[catalog.SyncStatusFailed],
			"synced":     counts[catalog.SyncStatusSynced],
			"total":      total,
		},
	})
}

func (s *Server) handleSyncHistory(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	history, err := s.store.SyncHistory(c.Request().Context(), tenantauth.TenantSlug(c), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"history": history})
}

func (s *Server) handleDetectChanges(c echo.Context) error {
	plan, err := s.sync.DetectChanges(c.Request().Context(), tenantauth.TenantSlug(c), false)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"total":   plan.TotalChanges(),
		"new":     plan.CountByKind(catalog.ChangeCreated),
		"updated": plan.CountByKind(catalog.ChangeUpdated),
		"deleted": plan.CountByKind(catalog.ChangeDeleted),
		"changes": plan.Changes,
	})
}

func (s *Server) handleSyncCancel(c echo.Context) error {
	err := s.sync.CancelSync(c.Request().Context(), tenantauth.TenantSlug(c))
	if err != nil {
		if errors.Is(err, syncmanager.ErrSyncNotRunning) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "cancelling"})
}

func (s *Server) handleSyncCleanup(c echo.Context) error {
	n, err := s.sync.CleanupStuckOperations(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"operations_cleaned": n})
}

type queryRequest struct {
	Query              string  `json:"query"`
	MaxSources         int     `json:"max_sources"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// queryTimeout bounds the wall-clock a /query or /query/search request may
// take (spec.md §7), regardless of how long retrieval or generation runs.
const queryTimeout = 30 * time.Second

func (s *Server) handleQuery(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil || req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(c.Request().Context(), queryTimeout)
	defer cancel()

	result, err := s.retriever.Answer(ctx, retriever.SearchParams{
		TenantSlug:          tenantauth.TenantSlug(c),
		QueryText:           req.Query,
		TopK:                req.MaxSources,
		ConfidenceThreshold: req.ConfidenceThreshold,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"query":              req.Query,
		"answer":             result.Answer,
		"sources":            result.Sources,
		"confidence":         result.Confidence,
		"processing_time_ms": time.Since(start).Milliseconds(),
	})
}

type querySearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

func (s *Server) handleQuerySearch(c echo.Context) error {
	var req querySearchRequest
	if err := c.Bind(&req); err != nil || req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), queryTimeout)
	defer cancel()

	results, err := s.retriever.Search(ctx, retriever.SearchParams{
		TenantSlug: tenantauth.TenantSlug(c),
		QueryText:  req.Query,
		TopK:       req.MaxResults,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"query":         req.Query,
		"results":       results,
		"total_results": len(results),
	})
}

func (s *Server) handleListFiles(c echo.Context) error {
	page := 1
	if v := c.QueryParam("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	const pageSize = 50

	files, total, err := s.store.ListFilesPage(c.Request().Context(), tenantauth.TenantSlug(c), pageSize, (page-1)*pageSize)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"files": files,
		"total": total,
		"page":  page,
	})
}

func (s *Server) handleAdminTenants(c echo.Context) error {
	tenants, err := s.store.ListTenants(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"tenants": tenants})
}

type createTenantRequest struct {
	Slug        string `json:"slug"`
	DisplayName string `json:"display_name"`
	APIKey      string `json:"api_key"`
}

func (s *Server) handleCreateTenant(c echo.Context) error {
	var req createTenantRequest
	if err := c.Bind(&req); err != nil || req.Slug == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "slug is required")
	}
	if req.APIKey == "" {
		key, err := generateAPIKey()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		req.APIKey = key
	}

	t := catalog.Tenant{Slug: req.Slug, DisplayName: req.DisplayName, APIKey: req.APIKey}
	if err := s.store.CreateTenant(c.Request().Context(), t); err != nil {
		if errors.Is(err, catalog.ErrTenantExists) {
			return echo.NewHTTPError(http.StatusConflict, "tenant already exists")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"slug":         t.Slug,
		"display_name": t.DisplayName,
		"api_key":      t.APIKey,
	})
}

func generateAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
