package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/variant-curation-server/internal/domain"
	"github.com/variant-curation-server/internal/service"
)

type stubResultStore struct {
	descriptors map[string]*domain.SearchResultDescriptor
	nextID      int64
}

func (s *stubResultStore) Get(_ context.Context, hash, sort string) (*domain.SearchResultDescriptor, error) {
	return s.descriptors[hash+"|"+sort], nil
}

func (s *stubResultStore) GetAnySort(_ context.Context, hash string) (*domain.SearchResultDescriptor, error) {
	for _, d := range s.descriptors {
		if d.SearchHash == hash {
			return d, nil
		}
	}
	return nil, nil
}

func (s *stubResultStore) CreateOrGet(_ context.Context, d *domain.SearchResultDescriptor) (*domain.SearchResultDescriptor, error) {
	s.nextID++
	d.ID = s.nextID
	s.descriptors[d.SearchHash+"|"+d.Sort] = d
	return d, nil
}

func (s *stubResultStore) SetResults(context.Context, int64, int64, string) error { return nil }
func (s *stubResultStore) ResetForProject(context.Context, string) error          { return nil }
func (s *stubResultStore) SavedSearches(context.Context, string) ([]*domain.VariantSearch, error) {
	return nil, nil
}
func (s *stubResultStore) CreateSavedSearch(context.Context, *domain.VariantSearch) error {
	return nil
}

type stubGateway struct{}

func (stubGateway) Search(context.Context, *domain.SearchResultDescriptor, int, int) (*domain.SearchPage, error) {
	return &domain.SearchPage{Index: "variants_v1"}, nil
}
func (stubGateway) SingleVariant(context.Context, []string, string) (*domain.Variant, error) {
	return nil, domain.ErrNotFound
}
func (stubGateway) VariantsForKeys(context.Context, []string, []domain.VariantKey) ([]*domain.Variant, error) {
	return nil, nil
}

type stubSavedStore struct{}

func (stubSavedStore) FindForKeys(context.Context, []string, []domain.VariantKey) ([]*domain.SavedVariant, error) {
	return nil, nil
}
func (stubSavedStore) GetOrCreate(context.Context, domain.VariantKey, string, string) (*domain.SavedVariant, error) {
	return nil, domain.ErrNotFound
}
func (stubSavedStore) UpdateAnnotation(context.Context, string, []byte) error { return nil }
func (stubSavedStore) ListTagged(context.Context, string) ([]*domain.SavedVariant, error) {
	return nil, nil
}
func (stubSavedStore) ListForProject(context.Context, string) ([]*domain.SavedVariant, error) {
	return nil, nil
}

type stubProjectRepo struct{}

func (stubProjectRepo) Project(context.Context, string) (*domain.Project, error) {
	return nil, domain.ErrNotFound
}
func (stubProjectRepo) FamiliesByGUID(_ context.Context, guids []string) ([]*domain.Family, error) {
	families := make([]*domain.Family, len(guids))
	for i, guid := range guids {
		families[i] = &domain.Family{GUID: guid, ProjectGUID: "R0001_test"}
	}
	return families, nil
}
func (stubProjectRepo) FamiliesForProject(context.Context, string) ([]*domain.Family, error) {
	return nil, nil
}
func (stubProjectRepo) IndividualsForFamilies(context.Context, []string) ([]*domain.Individual, error) {
	return nil, nil
}
func (stubProjectRepo) LoadedSamples(context.Context, string, time.Time) ([]*domain.Sample, error) {
	return nil, nil
}
func (stubProjectRepo) ProjectGUIDsForFamilies(context.Context, []string) ([]string, error) {
	return []string{"R0001_test"}, nil
}
func (stubProjectRepo) LocusListsForProject(context.Context, string) ([]*domain.LocusList, error) {
	return nil, nil
}
func (stubProjectRepo) HasMatchmakerSubmission(context.Context, string, string) (bool, error) {
	return false, nil
}

type stubGeneRepo struct{}

func (stubGeneRepo) GenesByID(context.Context, []string) (map[string]*domain.Gene, error) {
	return map[string]*domain.Gene{}, nil
}

type stubPermissions struct{}

func (stubPermissions) CheckAccess(context.Context, *domain.User, string) error { return nil }

func newTestServer() *Server {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &domain.Config{
		Search:  domain.SearchConfig{DefaultPageSize: 100, MaxPageSize: 1000},
		Logging: domain.LoggingConfig{Level: "info"},
	}

	orchestrator := service.NewSearchOrchestrator(
		logger,
		&stubResultStore{descriptors: map[string]*domain.SearchResultDescriptor{}},
		stubGateway{},
		stubSavedStore{},
		stubProjectRepo{},
		stubGeneRepo{},
		stubPermissions{},
	)
	discovery := service.NewDiscoverySheetAggregator(
		logger, stubProjectRepo{}, stubSavedStore{}, stubGeneRepo{}, nil)

	return NewServer(cfg, logger, orchestrator, discovery)
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestSearchUnknownHashWithoutBody(t *testing.T) {
	server := newTestServer()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search/abc123", nil)
	req.Header.Set("X-User-ID", "u1")
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid search")
}

func TestSearchCreatesDescriptor(t *testing.T) {
	server := newTestServer()

	body := `{"search":{"inheritance":{"mode":"recessive"}},"projectFamilies":[{"projectGuid":"R0001_test","familyGuids":["F000001"]}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search/abc123", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u1")
	server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"totalResults":0`)
	assert.Contains(t, w.Body.String(), `"projectGuid":"R0001_test"`)
}

func TestSearchInvalidPagination(t *testing.T) {
	server := newTestServer()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search/abc123?page=zero", nil)
	req.Header.Set("X-User-ID", "u1")
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid page")
}

func TestSingleVariantRequiresFamily(t *testing.T) {
	server := newTestServer()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search/variant/1-100-A-G", nil)
	req.Header.Set("X-User-ID", "u1")
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "familyGuid is required")
}

func TestSingleVariantNotFound(t *testing.T) {
	server := newTestServer()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search/variant/1-100-A-G?familyGuid=F000001", nil)
	req.Header.Set("X-User-ID", "u1")
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDiscoverySheetRequiresStaff(t *testing.T) {
	server := newTestServer()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/R0001_test/discovery_sheet", nil)
	req.Header.Set("X-User-ID", "u1")
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDiscoverySheetUnknownProject(t *testing.T) {
	server := newTestServer()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/R0404_missing/discovery_sheet", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Staff", "true")
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResetSearchCacheRequiresStaff(t *testing.T) {
	server := newTestServer()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/R0001_test/reset_search_cache", nil)
	req.Header.Set("X-User-ID", "u1")
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/projects/R0001_test/reset_search_cache", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Staff", "true")
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
