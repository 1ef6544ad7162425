package service

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/variant-curation-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func searchVariant(xpos int64, chrom string, pos int64, gene string) *domain.Variant {
	return &domain.Variant{
		VariantID:   "test",
		Xpos:        xpos,
		Chrom:       chrom,
		Pos:         pos,
		Ref:         "A",
		Alt:         "G",
		FamilyGUIDs: []string{"F000001", "F000002"},
		Transcripts: map[string][]domain.Transcript{gene: {{GeneID: gene}}},
	}
}

type orchestratorEnv struct {
	orchestrator *SearchOrchestrator
	results      *fakeResultStore
	gateway      *fakeGateway
	saved        *fakeSavedVariantStore
	projects     *fakeProjectRepo
	genes        *fakeGeneRepo
	permissions  *fakePermissions
}

func newOrchestratorEnv() *orchestratorEnv {
	projects := newFakeProjectRepo()
	projects.projects["R0001_test"] = &domain.Project{GUID: "R0001_test", Name: "Test Project"}
	projects.families = []*domain.Family{
		{GUID: "F000001", FamilyID: "fam1", ProjectGUID: "R0001_test"},
		{GUID: "F000002", FamilyID: "fam2", ProjectGUID: "R0001_test"},
	}

	env := &orchestratorEnv{
		results:     newFakeResultStore(),
		gateway:     &fakeGateway{page: &domain.SearchPage{Variants: nil, Total: 0, Index: "variants_v1"}},
		saved:       newFakeSavedVariantStore(),
		projects:    projects,
		genes:       &fakeGeneRepo{genes: map[string]*domain.Gene{}},
		permissions: &fakePermissions{denied: map[string]struct{}{}},
	}
	env.orchestrator = NewSearchOrchestrator(
		testLogger(), env.results, env.gateway, env.saved, env.projects, env.genes, env.permissions)
	return env
}

func testSearchRequest() *domain.SearchRequest {
	return &domain.SearchRequest{
		Search: json.RawMessage(`{"inheritance":{"mode":"recessive"}}`),
		ProjectFamilies: []domain.ProjectFamilies{
			{ProjectGUID: "R0001_test", FamilyGUIDs: []string{"F000001", "F000002"}},
		},
	}
}

func TestQueryVariantsUnknownHashWithoutBody(t *testing.T) {
	env := newOrchestratorEnv()
	user := &domain.User{ID: "u1"}

	_, err := env.orchestrator.QueryVariants(context.Background(), user, "abc123", "", 1, 100, nil)
	require.Error(t, err)
	assert.True(t, domain.IsInvalidSearch(err))
}

func TestQueryVariantsEmptyProjectFamilies(t *testing.T) {
	env := newOrchestratorEnv()
	user := &domain.User{ID: "u1"}
	req := &domain.SearchRequest{Search: json.RawMessage(`{}`)}

	_, err := env.orchestrator.QueryVariants(context.Background(), user, "abc123", "", 1, 100, req)
	require.Error(t, err)
	assert.True(t, domain.IsInvalidSearch(err))
}

func TestQueryVariantsCreatesAndReusesDescriptor(t *testing.T) {
	env := newOrchestratorEnv()
	user := &domain.User{ID: "u1"}

	resp, err := env.orchestrator.QueryVariants(context.Background(), user, "abc123", "", 1, 100, testSearchRequest())
	require.NoError(t, err)
	require.NotNil(t, resp.Search)
	assert.Equal(t, int64(0), resp.Search.TotalResults)

	// the hash now resolves without a request body
	_, err = env.orchestrator.QueryVariants(context.Background(), user, "abc123", "", 2, 100, nil)
	require.NoError(t, err)
	assert.Len(t, env.results.descriptors, 1)
}

func TestQueryVariantsSortSibling(t *testing.T) {
	env := newOrchestratorEnv()
	user := &domain.User{ID: "u1"}

	_, err := env.orchestrator.QueryVariants(context.Background(), user, "abc123", "", 1, 100, testSearchRequest())
	require.NoError(t, err)

	// a new sort on a known hash derives a sibling without a body
	_, err = env.orchestrator.QueryVariants(context.Background(), user, "abc123", domain.SortPathogenicity, 1, 100, nil)
	require.NoError(t, err)

	require.Len(t, env.results.descriptors, 2)
	original := env.results.descriptors[descriptorKey("abc123", domain.SortXpos)]
	sibling := env.results.descriptors[descriptorKey("abc123", domain.SortPathogenicity)]
	require.NotNil(t, original)
	require.NotNil(t, sibling)
	assert.Equal(t, original.FamilyGUIDs, sibling.FamilyGUIDs)
	assert.Equal(t, original.Search, sibling.Search)
	assert.NotEqual(t, original.ID, sibling.ID)
}

func TestQueryVariantsStaffSortUpgrade(t *testing.T) {
	env := newOrchestratorEnv()
	staff := &domain.User{ID: "u1", IsStaff: true}

	_, err := env.orchestrator.QueryVariants(context.Background(), staff, "abc123", domain.SortPathogenicity, 1, 100, testSearchRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.SortPathogenicityHGMD, env.gateway.lastSort)
}

func TestQueryVariantsPermissionDenied(t *testing.T) {
	env := newOrchestratorEnv()
	env.permissions.denied["R0001_test"] = struct{}{}
	user := &domain.User{ID: "u1"}

	_, err := env.orchestrator.QueryVariants(context.Background(), user, "abc123", "", 1, 100, testSearchRequest())
	require.Error(t, err)
	assert.True(t, domain.IsPermissionDenied(err))
	assert.Zero(t, env.gateway.searchHits, "denied request must not reach the index")
}

func TestQueryVariantsInvalidIndexSurfaces(t *testing.T) {
	env := newOrchestratorEnv()
	env.gateway.err = &domain.InvalidIndexError{Index: "variants_v1", Message: "no such index"}
	user := &domain.User{ID: "u1"}

	_, err := env.orchestrator.QueryVariants(context.Background(), user, "abc123", "", 1, 100, testSearchRequest())
	require.Error(t, err)
	assert.True(t, domain.IsInvalidIndex(err))
}

func TestQueryVariantsTotalResultsImmutable(t *testing.T) {
	env := newOrchestratorEnv()
	env.gateway.page = &domain.SearchPage{Total: 7, Index: "variants_v1"}
	user := &domain.User{ID: "u1"}

	_, err := env.orchestrator.QueryVariants(context.Background(), user, "abc123", "", 1, 100, testSearchRequest())
	require.NoError(t, err)

	// second page: metadata already recorded, no further writes
	_, err = env.orchestrator.QueryVariants(context.Background(), user, "abc123", "", 2, 100, nil)
	require.NoError(t, err)
	assert.Len(t, env.results.setResultsFor, 1)

	descriptor := env.results.descriptors[descriptorKey("abc123", domain.SortXpos)]
	require.NotNil(t, descriptor.TotalResults)
	assert.Equal(t, int64(7), *descriptor.TotalResults)
}

func TestQueryVariantsSavedVariantMerge(t *testing.T) {
	env := newOrchestratorEnv()
	variant := searchVariant(1000000100, "1", 100, "ENSG00000001")
	env.gateway.page = &domain.SearchPage{Variants: []*domain.Variant{variant}, Total: 1, Index: "variants_v1"}
	env.saved.variants = []*domain.SavedVariant{{
		GUID:        "SV0000001",
		Xpos:        1000000100,
		Ref:         "A",
		Alt:         "G",
		FamilyGUID:  "F000002",
		ProjectGUID: "R0001_test",
		Tags:        []domain.VariantTag{{GUID: "VT1", Name: "Tier 1 - Novel gene"}},
	}}
	env.genes.genes["ENSG00000001"] = &domain.Gene{GeneID: "ENSG00000001", Symbol: "GENEA"}
	user := &domain.User{ID: "u1"}

	resp, err := env.orchestrator.QueryVariants(context.Background(), user, "abc123", "", 1, 100, testSearchRequest())
	require.NoError(t, err)

	require.Contains(t, resp.SavedVariantsByGUID, "SV0000001")
	detail := resp.SavedVariantsByGUID["SV0000001"]
	// search data wins field-wise, but the saved record keeps its family
	assert.Equal(t, int64(1000000100), detail.Xpos)
	assert.Equal(t, []string{"F000002"}, detail.FamilyGUIDs)
	assert.Len(t, detail.Tags, 1)

	require.Contains(t, resp.GenesByID, "ENSG00000001")
	assert.Equal(t, "GENEA", resp.GenesByID["ENSG00000001"].Symbol)
}

func TestQueryVariantsLocusListEnrichment(t *testing.T) {
	env := newOrchestratorEnv()
	variant := searchVariant(1000000100, "1", 100, "ENSG00000001")
	env.gateway.page = &domain.SearchPage{Variants: []*domain.Variant{variant}, Total: 1, Index: "variants_v1"}
	env.projects.locusLists["R0001_test"] = []*domain.LocusList{
		{GUID: "LL00001", Name: "Candidate genes", GeneIDs: []string{"ENSG00000001"}},
	}
	user := &domain.User{ID: "u1"}

	resp, err := env.orchestrator.QueryVariants(context.Background(), user, "abc123", "", 1, 100, testSearchRequest())
	require.NoError(t, err)
	require.Len(t, resp.SearchedVariants, 1)
	assert.Equal(t, []string{"LL00001"}, resp.SearchedVariants[0].LocusListGUIDs)
}

func TestQuerySingleVariant(t *testing.T) {
	env := newOrchestratorEnv()
	env.gateway.single = searchVariant(1000000100, "1", 100, "ENSG00000001")
	user := &domain.User{ID: "u1"}

	resp, err := env.orchestrator.QuerySingleVariant(context.Background(), user, "F000001", "1-100-A-G")
	require.NoError(t, err)
	require.Len(t, resp.SearchedVariants, 1)
	assert.Nil(t, resp.Search)
}

func TestCreateSavedSearch(t *testing.T) {
	env := newOrchestratorEnv()
	user := &domain.User{ID: "u1"}

	saved, err := env.orchestrator.CreateSavedSearch(context.Background(), user, "De novo search", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.GUID)
	assert.Equal(t, "u1", saved.CreatedBy)

	_, err = env.orchestrator.CreateSavedSearch(context.Background(), user, "", json.RawMessage(`{}`))
	assert.True(t, domain.IsInvalidSearch(err))

	searches, err := env.orchestrator.SavedSearches(context.Background(), user)
	require.NoError(t, err)
	assert.Len(t, searches, 1)
}

func TestResetProjectCache(t *testing.T) {
	env := newOrchestratorEnv()
	require.NoError(t, env.orchestrator.ResetProjectCache(context.Background(), "R0001_test"))
	assert.Equal(t, []string{"R0001_test"}, env.results.resetProjects)
}

func TestRefreshSavedVariantAnnotations(t *testing.T) {
	env := newOrchestratorEnv()
	env.saved.variants = []*domain.SavedVariant{
		{GUID: "SV1", Xpos: 1000000100, Ref: "A", Alt: "G", FamilyGUID: "F000001", ProjectGUID: "R0001_test"},
		{GUID: "SV2", Xpos: 2000000200, Ref: "C", Alt: "T", FamilyGUID: "F000001", ProjectGUID: "R0001_test"},
	}
	env.gateway.byKey = []*domain.Variant{
		{VariantID: "1-100-A-G", Xpos: 1000000100, Chrom: "1", Pos: 100, Ref: "A", Alt: "G"},
	}

	updated, err := env.orchestrator.RefreshSavedVariantAnnotations(context.Background(), "R0001_test")
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	assert.Contains(t, env.saved.updated, "SV1")
	assert.NotContains(t, env.saved.updated, "SV2")
}
