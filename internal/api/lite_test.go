package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/variant-curation-server/internal/config"
	"github.com/variant-curation-server/internal/domain"
	"github.com/variant-curation-server/internal/litestore"
)

type countingGateway struct {
	lookups int32
}

func (g *countingGateway) Search(context.Context, *domain.SearchResultDescriptor, int, int) (*domain.SearchPage, error) {
	return &domain.SearchPage{}, nil
}

func (g *countingGateway) SingleVariant(_ context.Context, _ []string, variantID string) (*domain.Variant, error) {
	atomic.AddInt32(&g.lookups, 1)
	parts := strings.SplitN(variantID, "-", 4)
	if len(parts) != 4 {
		return nil, domain.ErrNotFound
	}
	return &domain.Variant{
		VariantID: variantID,
		Chrom:     parts[0],
		Ref:       parts[2],
		Alt:       parts[3],
	}, nil
}

func (g *countingGateway) VariantsForKeys(_ context.Context, _ []string, keys []domain.VariantKey) ([]*domain.Variant, error) {
	variants := make([]*domain.Variant, len(keys))
	for i, key := range keys {
		variants[i] = &domain.Variant{Xpos: key.Xpos, Ref: key.Ref, Alt: key.Alt}
	}
	return variants, nil
}

func newLiteTestServer(t *testing.T) (*LiteServer, *countingGateway) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := litestore.NewSQLiteStore(filepath.Join(t.TempDir(), "curation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.DefaultLiteConfig()
	cfg.CacheMaxItems = 100
	cfg.CacheTTL = time.Minute

	gw := &countingGateway{}
	return NewLiteServer(cfg, logger, store, gw), gw
}

func liteRequest(t *testing.T, server *LiteServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	server.Handler().ServeHTTP(w, req)
	return w
}

func TestLiteHealthEndpoint(t *testing.T) {
	server, _ := newLiteTestServer(t)

	w := liteRequest(t, server, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mode":"lite"`)
}

func TestLiteSaveVariant(t *testing.T) {
	server, _ := newLiteTestServer(t)

	w := liteRequest(t, server, http.MethodPost, "/api/v1/saved_variants",
		`{"variantId":"1-248367227-TC-T","familyGuid":"F000001","projectGuid":"R0001_test"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"variantGuid":"SV`)
	assert.Contains(t, w.Body.String(), `"familyGuid":"F000001"`)

	list := liteRequest(t, server, http.MethodGet, "/api/v1/projects/R0001_test/saved_variants", "")
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), `"ref":"TC"`)
}

func TestLiteSaveVariantInvalidID(t *testing.T) {
	server, _ := newLiteTestServer(t)

	w := liteRequest(t, server, http.MethodPost, "/api/v1/saved_variants",
		`{"variantId":"not-a-variant","familyGuid":"F000001","projectGuid":"R0001_test"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLiteTagWorkflow(t *testing.T) {
	server, _ := newLiteTestServer(t)

	w := liteRequest(t, server, http.MethodPost, "/api/v1/saved_variants",
		`{"variantId":"2-103343353-GAGA-G","familyGuid":"F000001","projectGuid":"R0001_test"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	guid := extractField(w.Body.String(), "variantGuid")
	require.NotEmpty(t, guid)

	tagged := liteRequest(t, server, http.MethodGet, "/api/v1/projects/R0001_test/tagged_variants", "")
	require.Equal(t, http.StatusOK, tagged.Code)
	assert.NotContains(t, tagged.Body.String(), guid, "untagged variants are excluded")

	tag := liteRequest(t, server, http.MethodPost, "/api/v1/saved_variants/"+guid+"/tags",
		`{"name":"Tier 1 - Novel gene and phenotype","category":"CMG Discovery Tags"}`)
	require.Equal(t, http.StatusCreated, tag.Code)

	tagged = liteRequest(t, server, http.MethodGet, "/api/v1/projects/R0001_test/tagged_variants", "")
	require.Equal(t, http.StatusOK, tagged.Code)
	assert.Contains(t, tagged.Body.String(), guid)
	assert.Contains(t, tagged.Body.String(), "Tier 1 - Novel gene and phenotype")
}

func TestLiteVariantLookupCached(t *testing.T) {
	server, gw := newLiteTestServer(t)

	for i := 0; i < 2; i++ {
		w := liteRequest(t, server, http.MethodGet,
			"/api/v1/search/variant/1-46859832-G-A?familyGuid=F000001", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"variantId":"1-46859832-G-A"`)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&gw.lookups), "second lookup served from cache")
}

func TestLiteRefreshSavedVariants(t *testing.T) {
	server, _ := newLiteTestServer(t)

	w := liteRequest(t, server, http.MethodPost, "/api/v1/saved_variants",
		`{"variantId":"1-46859832-G-A","familyGuid":"F000001","projectGuid":"R0001_test"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	refresh := liteRequest(t, server, http.MethodPost, "/api/v1/projects/R0001_test/refresh_saved_variants", "")
	require.Equal(t, http.StatusOK, refresh.Code)
	assert.Contains(t, refresh.Body.String(), `"updated":1`)
}

func TestLiteExportImportRoundTrip(t *testing.T) {
	server, _ := newLiteTestServer(t)

	w := liteRequest(t, server, http.MethodPost, "/api/v1/saved_variants",
		`{"variantId":"X-48367227-C-T","familyGuid":"F000002","projectGuid":"R0002_test"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	export := liteRequest(t, server, http.MethodGet, "/api/v1/projects/R0002_test/export", "")
	require.Equal(t, http.StatusOK, export.Code)
	assert.Contains(t, export.Header().Get("Content-Disposition"), "R0002_test_curation.json")

	// Importing into a fresh store recreates the record; importing the
	// same payload again skips it.
	fresh, _ := newLiteTestServer(t)
	imported := liteRequest(t, fresh, http.MethodPost, "/api/v1/import", export.Body.String())
	require.Equal(t, http.StatusOK, imported.Code)
	assert.Contains(t, imported.Body.String(), `"imported":1`)

	again := liteRequest(t, fresh, http.MethodPost, "/api/v1/import", export.Body.String())
	require.Equal(t, http.StatusOK, again.Code)
	assert.Contains(t, again.Body.String(), `"skipped":1`)
}

// extractField pulls a string field's value out of a flat JSON body.
func extractField(body, field string) string {
	marker := `"` + field + `":"`
	start := strings.Index(body, marker)
	if start < 0 {
		return ""
	}
	rest := body[start+len(marker):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return ""
	}
	return rest[:end]
}
