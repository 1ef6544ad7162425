package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/variant-curation-server/internal/domain"
	"github.com/variant-curation-server/internal/middleware"
	"github.com/variant-curation-server/internal/service"
)

// Server represents the HTTP server
type Server struct {
	config       *domain.Config
	log          *logrus.Logger
	orchestrator *service.SearchOrchestrator
	discovery    *service.DiscoverySheetAggregator
	router       *gin.Engine
	server       *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *domain.Config, logger *logrus.Logger, orchestrator *service.SearchOrchestrator, discovery *service.DiscoverySheetAggregator) *Server {
	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.UserIdentity())

	server := &Server{
		config:       cfg,
		log:          logger,
		orchestrator: orchestrator,
		discovery:    discovery,
		router:       router,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.log.WithField("addr", addr).Info("HTTP server started")

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Handler returns the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/search/:searchHash", s.handleSearch)
		v1.GET("/search/variant/:variantId", s.handleSingleVariant)
		v1.GET("/saved_searches", s.handleListSavedSearches)
		v1.POST("/saved_searches", s.handleCreateSavedSearch)
		v1.POST("/projects/:projectGuid/reset_search_cache", s.handleResetSearchCache)
		v1.POST("/projects/:projectGuid/refresh_saved_variants", s.handleRefreshSavedVariants)
		v1.GET("/projects/:projectGuid/discovery_sheet", s.handleDiscoverySheet)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   "1.0.0",
	})
}

// handleSearch runs one page of a hashed search. The request body is
// required only the first time a hash is seen.
func (s *Server) handleSearch(c *gin.Context) {
	user := currentUser(c)
	searchHash := c.Param("searchHash")

	page, perPage, err := s.pagination(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var request *domain.SearchRequest
	if c.Request.ContentLength > 0 {
		request = &domain.SearchRequest{}
		if err := c.ShouldBindJSON(request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid search request: %v", err)})
			return
		}
	}

	response, err := s.orchestrator.QueryVariants(
		c.Request.Context(), user, searchHash, c.Query("sort"), page, perPage, request)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// handleSingleVariant looks up one variant by id for a family.
func (s *Server) handleSingleVariant(c *gin.Context) {
	user := currentUser(c)
	familyGUID := c.Query("familyGuid")
	if familyGUID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "familyGuid is required"})
		return
	}

	response, err := s.orchestrator.QuerySingleVariant(
		c.Request.Context(), user, familyGUID, c.Param("variantId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleListSavedSearches(c *gin.Context) {
	searches, err := s.orchestrator.SavedSearches(c.Request.Context(), currentUser(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"savedSearches": searches})
}

func (s *Server) handleCreateSavedSearch(c *gin.Context) {
	var body struct {
		Name   string          `json:"name"`
		Search json.RawMessage `json:"search"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid saved search: %v", err)})
		return
	}

	search, err := s.orchestrator.CreateSavedSearch(c.Request.Context(), currentUser(c), body.Name, body.Search)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, search)
}

// handleResetSearchCache clears cached search results after a data
// reload, so searches re-run against the new index.
func (s *Server) handleResetSearchCache(c *gin.Context) {
	user := currentUser(c)
	if !user.IsStaff {
		c.JSON(http.StatusForbidden, gin.H{"error": "staff access required"})
		return
	}

	projectGUID := c.Param("projectGuid")
	if err := s.orchestrator.ResetProjectCache(c.Request.Context(), projectGUID); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projectGuid": projectGUID})
}

func (s *Server) handleRefreshSavedVariants(c *gin.Context) {
	user := currentUser(c)
	if !user.IsStaff {
		c.JSON(http.StatusForbidden, gin.H{"error": "staff access required"})
		return
	}

	projectGUID := c.Param("projectGuid")
	updated, err := s.orchestrator.RefreshSavedVariantAnnotations(c.Request.Context(), projectGUID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projectGuid": projectGUID, "updated": updated})
}

// handleDiscoverySheet generates the per-family discovery report rows
// for a project.
func (s *Server) handleDiscoverySheet(c *gin.Context) {
	user := currentUser(c)
	if !user.IsStaff {
		c.JSON(http.StatusForbidden, gin.H{"error": "staff access required"})
		return
	}

	var asOf time.Time
	if raw := c.Query("asOf"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid asOf date: %v", err)})
			return
		}
		asOf = parsed
	}

	report, err := s.discovery.Generate(c.Request.Context(), c.Param("projectGuid"), asOf)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rows":   report.Rows,
		"errors": report.Errors,
	})
}

func (s *Server) pagination(c *gin.Context) (int, int, error) {
	page := 1
	if raw := c.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return 0, 0, fmt.Errorf("invalid page: %q", raw)
		}
		page = parsed
	}

	perPage := s.config.Search.DefaultPageSize
	if raw := c.Query("perPage"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return 0, 0, fmt.Errorf("invalid perPage: %q", raw)
		}
		perPage = parsed
	}
	if perPage > s.config.Search.MaxPageSize {
		perPage = s.config.Search.MaxPageSize
	}
	return page, perPage, nil
}

// respondError maps domain errors onto HTTP statuses.
func (s *Server) respondError(c *gin.Context, err error) {
	respondDomainError(c, s.log, err)
}

func respondDomainError(c *gin.Context, log *logrus.Logger, err error) {
	switch {
	case domain.IsInvalidSearch(err) || domain.IsInvalidIndex(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case domain.IsPermissionDenied(err):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func currentUser(c *gin.Context) *domain.User {
	if v, ok := c.Get(middleware.UserContextKey); ok {
		if user, ok := v.(*domain.User); ok {
			return user
		}
	}
	return &domain.User{}
}
