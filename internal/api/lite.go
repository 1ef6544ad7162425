package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/variant-curation-server/internal/config"
	"github.com/variant-curation-server/internal/domain"
	"github.com/variant-curation-server/internal/litestore"
	"github.com/variant-curation-server/internal/middleware"
	"github.com/variant-curation-server/pkg/xpos"
)

// LiteServer is the standalone single-node HTTP server. It serves the
// curation workflow from a local SQLite store and a single variant
// index, with no PostgreSQL, Redis, or upstream auth proxy.
type LiteServer struct {
	config  *config.LiteConfig
	log     *logrus.Logger
	store   *litestore.SQLiteStore
	gateway domain.VariantIndexGateway
	cache   *expirable.LRU[string, *domain.Variant]
	router  *gin.Engine
	server  *http.Server
}

// NewLiteServer creates the standalone server. Variant index lookups
// are cached in memory with the configured size and TTL.
func NewLiteServer(cfg *config.LiteConfig, logger *logrus.Logger, store *litestore.SQLiteStore, indexGateway domain.VariantIndexGateway) *LiteServer {
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())

	server := &LiteServer{
		config:  cfg,
		log:     logger,
		store:   store,
		gateway: indexGateway,
		cache:   expirable.NewLRU[string, *domain.Variant](cfg.CacheMaxItems, nil, cfg.CacheTTL),
		router:  router,
	}
	server.setupRoutes()
	return server
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *LiteServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Handler returns the router, used by tests.
func (s *LiteServer) Handler() http.Handler {
	return s.router
}

func (s *LiteServer) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "mode": "lite", "timestamp": time.Now()})
	})

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/search/variant/:variantId", s.handleVariantLookup)

		v1.POST("/saved_variants", s.handleSaveVariant)
		v1.PUT("/saved_variants/:guid/annotation", s.handleUpdateAnnotation)
		v1.POST("/saved_variants/:guid/tags", s.handleAddTag)
		v1.POST("/saved_variants/:guid/notes", s.handleAddNote)
		v1.POST("/saved_variants/:guid/functional_data", s.handleAddFunctionalData)

		v1.GET("/projects/:projectGuid/saved_variants", s.handleListSaved)
		v1.GET("/projects/:projectGuid/tagged_variants", s.handleListTagged)
		v1.POST("/projects/:projectGuid/refresh_saved_variants", s.handleRefresh)
		v1.GET("/projects/:projectGuid/export", s.handleExport)
		v1.POST("/import", s.handleImport)
	}
}

// handleVariantLookup fetches one variant from the index, through the
// in-memory cache.
func (s *LiteServer) handleVariantLookup(c *gin.Context) {
	familyGUID := c.Query("familyGuid")
	if familyGUID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "familyGuid is required"})
		return
	}

	variant, err := s.lookupVariant(c.Request.Context(), familyGUID, c.Param("variantId"))
	if err != nil {
		respondDomainError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, variant)
}

// handleSaveVariant creates (or returns) the saved variant record for a
// family and caches its current index annotation.
func (s *LiteServer) handleSaveVariant(c *gin.Context) {
	var body struct {
		VariantID   string `json:"variantId" binding:"required"`
		FamilyGUID  string `json:"familyGuid" binding:"required"`
		ProjectGUID string `json:"projectGuid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid saved variant: %v", err)})
		return
	}

	key, err := parseVariantID(body.VariantID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	saved, err := s.store.GetOrCreate(ctx, key, body.FamilyGUID, body.ProjectGUID)
	if err != nil {
		respondDomainError(c, s.log, err)
		return
	}

	if variant, err := s.lookupVariant(ctx, body.FamilyGUID, body.VariantID); err == nil {
		if annotation, err := json.Marshal(variant); err == nil {
			if err := s.store.UpdateAnnotation(ctx, saved.GUID, annotation); err != nil {
				s.log.WithError(err).WithField("guid", saved.GUID).Warn("Failed to cache variant annotation")
			}
		}
	} else {
		s.log.WithError(err).WithFields(logrus.Fields{
			"variant_id":  body.VariantID,
			"family_guid": body.FamilyGUID,
		}).Warn("Saved variant without index annotation")
	}

	c.JSON(http.StatusCreated, saved)
}

func (s *LiteServer) handleUpdateAnnotation(c *gin.Context) {
	var annotation json.RawMessage
	if err := c.ShouldBindJSON(&annotation); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid annotation: %v", err)})
		return
	}

	if err := s.store.UpdateAnnotation(c.Request.Context(), c.Param("guid"), annotation); err != nil {
		respondDomainError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"variantGuid": c.Param("guid")})
}

func (s *LiteServer) handleAddTag(c *gin.Context) {
	var tag domain.VariantTag
	if err := c.ShouldBindJSON(&tag); err != nil || tag.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tag name is required"})
		return
	}

	if err := s.store.AddTag(c.Request.Context(), c.Param("guid"), tag); err != nil {
		respondDomainError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"variantGuid": c.Param("guid")})
}

func (s *LiteServer) handleAddNote(c *gin.Context) {
	var note domain.VariantNote
	if err := c.ShouldBindJSON(&note); err != nil || note.Note == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "note text is required"})
		return
	}

	if err := s.store.AddNote(c.Request.Context(), c.Param("guid"), note); err != nil {
		respondDomainError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"variantGuid": c.Param("guid")})
}

func (s *LiteServer) handleAddFunctionalData(c *gin.Context) {
	var fd domain.VariantFunctionalData
	if err := c.ShouldBindJSON(&fd); err != nil || fd.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "functional data name is required"})
		return
	}

	if err := s.store.AddFunctionalData(c.Request.Context(), c.Param("guid"), fd); err != nil {
		respondDomainError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"variantGuid": c.Param("guid")})
}

func (s *LiteServer) handleListSaved(c *gin.Context) {
	variants, err := s.store.ListForProject(c.Request.Context(), c.Param("projectGuid"))
	if err != nil {
		respondDomainError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"savedVariants": variants})
}

func (s *LiteServer) handleListTagged(c *gin.Context) {
	variants, err := s.store.ListTagged(c.Request.Context(), c.Param("projectGuid"))
	if err != nil {
		respondDomainError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"savedVariants": variants})
}

// handleRefresh re-fetches index annotations for every saved variant in
// a project, typically after a data reload.
func (s *LiteServer) handleRefresh(c *gin.Context) {
	ctx := c.Request.Context()
	projectGUID := c.Param("projectGuid")

	saved, err := s.store.ListForProject(ctx, projectGUID)
	if err != nil {
		respondDomainError(c, s.log, err)
		return
	}
	if len(saved) == 0 {
		c.JSON(http.StatusOK, gin.H{"projectGuid": projectGUID, "updated": 0})
		return
	}

	familySet := map[string]bool{}
	keySet := map[domain.VariantKey]bool{}
	var families []string
	var keys []domain.VariantKey
	for _, sv := range saved {
		if !familySet[sv.FamilyGUID] {
			familySet[sv.FamilyGUID] = true
			families = append(families, sv.FamilyGUID)
		}
		if !keySet[sv.Key()] {
			keySet[sv.Key()] = true
			keys = append(keys, sv.Key())
		}
	}

	variants, err := s.gateway.VariantsForKeys(ctx, families, keys)
	if err != nil {
		respondDomainError(c, s.log, err)
		return
	}

	byKey := make(map[domain.VariantKey]*domain.Variant, len(variants))
	for _, v := range variants {
		byKey[v.Key()] = v
	}

	updated := 0
	for _, sv := range saved {
		variant, ok := byKey[sv.Key()]
		if !ok {
			continue
		}
		annotation, err := json.Marshal(variant)
		if err != nil {
			continue
		}
		if err := s.store.UpdateAnnotation(ctx, sv.GUID, annotation); err != nil {
			s.log.WithError(err).WithField("guid", sv.GUID).Warn("Failed to refresh variant annotation")
			continue
		}
		updated++
	}

	s.log.WithFields(logrus.Fields{
		"project_guid": projectGUID,
		"updated":      updated,
		"total":        len(saved),
	}).Info("Refreshed saved variant annotations")
	c.JSON(http.StatusOK, gin.H{"projectGuid": projectGUID, "updated": updated})
}

// handleExport streams the project's curation data as a JSON download.
func (s *LiteServer) handleExport(c *gin.Context) {
	projectGUID := c.Param("projectGuid")
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s_curation.json", projectGUID))

	if err := s.store.ExportJSON(c.Request.Context(), projectGUID, c.Writer); err != nil {
		s.log.WithError(err).WithField("project_guid", projectGUID).Error("Failed to export curation data")
		c.Status(http.StatusInternalServerError)
	}
}

func (s *LiteServer) handleImport(c *gin.Context) {
	imported, skipped, err := s.store.ImportJSON(c.Request.Context(), c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid import: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": imported, "skipped": skipped})
}

func (s *LiteServer) lookupVariant(ctx context.Context, familyGUID, variantID string) (*domain.Variant, error) {
	cacheKey := familyGUID + "|" + variantID
	if variant, ok := s.cache.Get(cacheKey); ok {
		return variant, nil
	}

	variant, err := s.gateway.SingleVariant(ctx, []string{familyGUID}, variantID)
	if err != nil {
		return nil, err
	}
	s.cache.Add(cacheKey, variant)
	return variant, nil
}

// parseVariantID converts a "chrom-pos-ref-alt" id into a variant key.
func parseVariantID(variantID string) (domain.VariantKey, error) {
	parts := strings.SplitN(variantID, "-", 4)
	if len(parts) != 4 || parts[2] == "" || parts[3] == "" {
		return domain.VariantKey{}, domain.NewInvalidSearchError("invalid variant id %q", variantID)
	}
	pos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return domain.VariantKey{}, domain.NewInvalidSearchError("invalid variant id %q", variantID)
	}
	encoded, err := xpos.Encode(parts[0], pos)
	if err != nil {
		return domain.VariantKey{}, domain.NewInvalidSearchError("invalid variant id %q", variantID)
	}
	return domain.VariantKey{Xpos: encoded, Ref: parts[2], Alt: parts[3]}, nil
}
