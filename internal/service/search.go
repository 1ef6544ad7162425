package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/variant-curation-server/internal/domain"
)

// SearchOrchestrator coordinates search execution: descriptor resolution,
// permission enforcement, index queries and result enrichment.
type SearchOrchestrator struct {
	logger      *logrus.Logger
	results     domain.SearchResultStore
	gateway     domain.VariantIndexGateway
	saved       domain.SavedVariantStore
	projects    domain.ProjectRepository
	genes       domain.GeneRepository
	permissions domain.PermissionChecker
}

// NewSearchOrchestrator creates a new search orchestrator
func NewSearchOrchestrator(
	logger *logrus.Logger,
	results domain.SearchResultStore,
	gateway domain.VariantIndexGateway,
	saved domain.SavedVariantStore,
	projects domain.ProjectRepository,
	genes domain.GeneRepository,
	permissions domain.PermissionChecker,
) *SearchOrchestrator {
	return &SearchOrchestrator{
		logger:      logger,
		results:     results,
		gateway:     gateway,
		saved:       saved,
		projects:    projects,
		genes:       genes,
		permissions: permissions,
	}
}

// QueryVariants resolves the descriptor for (searchHash, sort), enforces
// project permissions, fetches one page from the variant index and
// returns the enriched response. req may be nil for previously-executed
// hashes; a first-time hash without a request body is an invalid search.
func (o *SearchOrchestrator) QueryVariants(ctx context.Context, user *domain.User, searchHash, sortKey string, page, perPage int, req *domain.SearchRequest) (*domain.SearchResponse, error) {
	sortKey = normalizeSort(user, sortKey)
	if page < 1 {
		page = 1
	}

	descriptor, err := o.resolveDescriptor(ctx, searchHash, sortKey, req)
	if err != nil {
		return nil, err
	}
	if err := o.checkFamilyPermissions(ctx, user, descriptor.FamilyGUIDs); err != nil {
		return nil, err
	}

	o.logger.WithFields(logrus.Fields{
		"search_hash": searchHash,
		"sort":        sortKey,
		"page":        page,
		"per_page":    perPage,
	}).Info("Executing variant search")

	results, err := o.gateway.Search(ctx, descriptor, page, perPage)
	if err != nil {
		return nil, err
	}

	if descriptor.TotalResults == nil {
		if err := o.results.SetResults(ctx, descriptor.ID, results.Total, results.Index); err != nil {
			o.logger.WithError(err).Warn("Failed to record search results metadata")
		}
	}

	response, err := o.buildResponse(ctx, user, descriptor.FamilyGUIDs, results.Variants)
	if err != nil {
		return nil, err
	}
	searchContext, err := o.searchContext(ctx, descriptor, results.Total)
	if err != nil {
		return nil, err
	}
	response.Search = searchContext
	return response, nil
}

// QuerySingleVariant fetches one variant by its "chrom-pos-ref-alt" id
// within a single family and returns it enriched like a search page.
func (o *SearchOrchestrator) QuerySingleVariant(ctx context.Context, user *domain.User, familyGUID, variantID string) (*domain.SearchResponse, error) {
	familyGUIDs := []string{familyGUID}
	if err := o.checkFamilyPermissions(ctx, user, familyGUIDs); err != nil {
		return nil, err
	}

	variant, err := o.gateway.SingleVariant(ctx, familyGUIDs, variantID)
	if err != nil {
		return nil, err
	}
	return o.buildResponse(ctx, user, familyGUIDs, []*domain.Variant{variant})
}

// SavedSearches lists the user's named searches.
func (o *SearchOrchestrator) SavedSearches(ctx context.Context, user *domain.User) ([]*domain.VariantSearch, error) {
	return o.results.SavedSearches(ctx, user.ID)
}

// CreateSavedSearch persists a named search for the user.
func (o *SearchOrchestrator) CreateSavedSearch(ctx context.Context, user *domain.User, name string, search json.RawMessage) (*domain.VariantSearch, error) {
	if name == "" {
		return nil, domain.NewInvalidSearchError("saved search name is required")
	}
	saved := &domain.VariantSearch{
		GUID:      fmt.Sprintf("VS_%s", uuid.New().String()[:8]),
		Name:      name,
		Search:    search,
		CreatedBy: user.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.results.CreateSavedSearch(ctx, saved); err != nil {
		return nil, fmt.Errorf("creating saved search: %w", err)
	}
	return saved, nil
}

// ResetProjectCache clears cached result metadata for every descriptor
// scoped to the project. Called after the project's index data reloads.
func (o *SearchOrchestrator) ResetProjectCache(ctx context.Context, projectGUID string) error {
	o.logger.WithField("project_guid", projectGUID).Info("Resetting cached search results")
	return o.results.ResetForProject(ctx, projectGUID)
}

// RefreshSavedVariantAnnotations re-fetches current index annotations for
// every saved variant in the project and replaces the cached blobs.
func (o *SearchOrchestrator) RefreshSavedVariantAnnotations(ctx context.Context, projectGUID string) (int, error) {
	savedVariants, err := o.saved.ListForProject(ctx, projectGUID)
	if err != nil {
		return 0, fmt.Errorf("listing saved variants: %w", err)
	}
	if len(savedVariants) == 0 {
		return 0, nil
	}

	familySet := make(map[string]struct{})
	keys := make([]domain.VariantKey, 0, len(savedVariants))
	seen := make(map[domain.VariantKey]struct{})
	for _, sv := range savedVariants {
		familySet[sv.FamilyGUID] = struct{}{}
		key := sv.Key()
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	familyGUIDs := sortedKeys(familySet)

	variants, err := o.gateway.VariantsForKeys(ctx, familyGUIDs, keys)
	if err != nil {
		return 0, fmt.Errorf("fetching variant annotations: %w", err)
	}
	variantsByKey := make(map[domain.VariantKey]*domain.Variant, len(variants))
	for _, v := range variants {
		variantsByKey[v.Key()] = v
	}

	updated := 0
	for _, sv := range savedVariants {
		variant, ok := variantsByKey[sv.Key()]
		if !ok {
			if id, idErr := domain.VariantIDFromKey(sv.Key()); idErr == nil {
				o.logger.WithFields(logrus.Fields{
					"variant_id":  id,
					"family_guid": sv.FamilyGUID,
				}).Warn("Saved variant missing from index")
			}
			continue
		}
		blob, err := json.Marshal(variant)
		if err != nil {
			return updated, fmt.Errorf("encoding variant %s: %w", variant.VariantID, err)
		}
		if err := o.saved.UpdateAnnotation(ctx, sv.GUID, blob); err != nil {
			return updated, fmt.Errorf("updating saved variant %s: %w", sv.GUID, err)
		}
		updated++
	}
	o.logger.WithFields(logrus.Fields{
		"project_guid": projectGUID,
		"updated":      updated,
		"total":        len(savedVariants),
	}).Info("Refreshed saved variant annotations")
	return updated, nil
}

// resolveDescriptor implements the descriptor state machine: reuse the
// exact (hash, sort) row; else derive a sort sibling from any descriptor
// sharing the hash; else create from the request body.
func (o *SearchOrchestrator) resolveDescriptor(ctx context.Context, searchHash, sortKey string, req *domain.SearchRequest) (*domain.SearchResultDescriptor, error) {
	descriptor, err := o.results.Get(ctx, searchHash, sortKey)
	if err != nil {
		return nil, fmt.Errorf("loading search descriptor: %w", err)
	}
	if descriptor != nil {
		return descriptor, nil
	}

	sibling, err := o.results.GetAnySort(ctx, searchHash)
	if err != nil {
		return nil, fmt.Errorf("loading search descriptor: %w", err)
	}
	if sibling != nil {
		// same search, new sort order: share the search spec and family
		// scope, leave the sibling untouched
		return o.results.CreateOrGet(ctx, &domain.SearchResultDescriptor{
			SearchHash:  searchHash,
			Sort:        sortKey,
			SearchGUID:  sibling.SearchGUID,
			Search:      sibling.Search,
			FamilyGUIDs: sibling.FamilyGUIDs,
		})
	}

	if req == nil || len(req.Search) == 0 {
		return nil, domain.NewInvalidSearchError("search hash %s not found", searchHash)
	}
	familySet := make(map[string]struct{})
	for _, pf := range req.ProjectFamilies {
		for _, guid := range pf.FamilyGUIDs {
			familySet[guid] = struct{}{}
		}
	}
	if len(familySet) == 0 {
		return nil, domain.NewInvalidSearchError("no projects/families specified")
	}

	return o.results.CreateOrGet(ctx, &domain.SearchResultDescriptor{
		SearchHash:  searchHash,
		Sort:        sortKey,
		Search:      req.Search,
		FamilyGUIDs: sortedKeys(familySet),
	})
}

// checkFamilyPermissions enforces access to every project covering the
// families; one denied project fails the whole request.
func (o *SearchOrchestrator) checkFamilyPermissions(ctx context.Context, user *domain.User, familyGUIDs []string) error {
	projectGUIDs, err := o.projects.ProjectGUIDsForFamilies(ctx, familyGUIDs)
	if err != nil {
		return fmt.Errorf("resolving projects for families: %w", err)
	}
	sort.Strings(projectGUIDs)
	for _, projectGUID := range projectGUIDs {
		if err := o.permissions.CheckAccess(ctx, user, projectGUID); err != nil {
			return err
		}
	}
	return nil
}

// buildResponse enriches searched variants with saved-variant records,
// gene metadata and project locus lists.
func (o *SearchOrchestrator) buildResponse(ctx context.Context, user *domain.User, familyGUIDs []string, variants []*domain.Variant) (*domain.SearchResponse, error) {
	if err := o.attachLocusLists(ctx, familyGUIDs, variants); err != nil {
		return nil, err
	}

	savedByGUID, err := o.savedVariantDetails(ctx, familyGUIDs, variants)
	if err != nil {
		return nil, err
	}

	geneSet := make(map[string]struct{})
	for _, v := range variants {
		for geneID := range v.Transcripts {
			geneSet[geneID] = struct{}{}
		}
	}
	genesByID := map[string]*domain.Gene{}
	if len(geneSet) > 0 {
		genesByID, err = o.genes.GenesByID(ctx, sortedKeys(geneSet))
		if err != nil {
			return nil, fmt.Errorf("loading genes: %w", err)
		}
	}

	return &domain.SearchResponse{
		SearchedVariants:    variants,
		SavedVariantsByGUID: savedByGUID,
		GenesByID:           genesByID,
	}, nil
}

// savedVariantDetails merges saved variants with the fresh search data:
// search fields win, but the saved variant's own family stays
// authoritative on the merged record.
func (o *SearchOrchestrator) savedVariantDetails(ctx context.Context, familyGUIDs []string, variants []*domain.Variant) (map[string]*domain.SavedVariantDetail, error) {
	if len(variants) == 0 {
		return map[string]*domain.SavedVariantDetail{}, nil
	}
	keys := make([]domain.VariantKey, 0, len(variants))
	byKey := make(map[domain.VariantKey]*domain.Variant, len(variants))
	for _, v := range variants {
		keys = append(keys, v.Key())
		byKey[v.Key()] = v
	}

	savedVariants, err := o.saved.FindForKeys(ctx, familyGUIDs, keys)
	if err != nil {
		return nil, fmt.Errorf("loading saved variants: %w", err)
	}

	details := make(map[string]*domain.SavedVariantDetail, len(savedVariants))
	for _, sv := range savedVariants {
		searched, ok := byKey[sv.Key()]
		if !ok {
			continue
		}
		detail := &domain.SavedVariantDetail{
			Variant:        *searched,
			VariantGUID:    sv.GUID,
			Tags:           sv.Tags,
			Notes:          sv.Notes,
			FunctionalData: sv.FunctionalData,
		}
		detail.FamilyGUIDs = []string{sv.FamilyGUID}
		details[sv.GUID] = detail
	}
	return details, nil
}

// attachLocusLists marks variants whose genes appear in a locus list
// attached to any project covering the families.
func (o *SearchOrchestrator) attachLocusLists(ctx context.Context, familyGUIDs []string, variants []*domain.Variant) error {
	if len(variants) == 0 {
		return nil
	}
	projectGUIDs, err := o.projects.ProjectGUIDsForFamilies(ctx, familyGUIDs)
	if err != nil {
		return fmt.Errorf("resolving projects for families: %w", err)
	}
	listsByGene := make(map[string][]string)
	for _, projectGUID := range projectGUIDs {
		lists, err := o.projects.LocusListsForProject(ctx, projectGUID)
		if err != nil {
			return fmt.Errorf("loading locus lists: %w", err)
		}
		for _, list := range lists {
			for _, geneID := range list.GeneIDs {
				listsByGene[geneID] = append(listsByGene[geneID], list.GUID)
			}
		}
	}
	if len(listsByGene) == 0 {
		return nil
	}
	for _, v := range variants {
		guidSet := make(map[string]struct{})
		for geneID := range v.Transcripts {
			for _, guid := range listsByGene[geneID] {
				guidSet[guid] = struct{}{}
			}
		}
		if len(guidSet) > 0 {
			v.LocusListGUIDs = sortedKeys(guidSet)
		}
	}
	return nil
}

func (o *SearchOrchestrator) searchContext(ctx context.Context, descriptor *domain.SearchResultDescriptor, total int64) (*domain.SearchContext, error) {
	families, err := o.projects.FamiliesByGUID(ctx, descriptor.FamilyGUIDs)
	if err != nil {
		return nil, fmt.Errorf("loading families: %w", err)
	}
	byProject := make(map[string][]string)
	for _, f := range families {
		byProject[f.ProjectGUID] = append(byProject[f.ProjectGUID], f.GUID)
	}
	projectFamilies := make([]domain.ProjectFamilies, 0, len(byProject))
	for _, projectGUID := range sortedKeys(setOf(byProject)) {
		guids := byProject[projectGUID]
		sort.Strings(guids)
		projectFamilies = append(projectFamilies, domain.ProjectFamilies{
			ProjectGUID: projectGUID,
			FamilyGUIDs: guids,
		})
	}
	return &domain.SearchContext{
		Search:          descriptor.Search,
		ProjectFamilies: projectFamilies,
		TotalResults:    total,
	}, nil
}

// normalizeSort defaults to the position sort and upgrades the
// pathogenicity sort for staff, who may see HGMD data.
func normalizeSort(user *domain.User, sortKey string) string {
	if sortKey == "" {
		return domain.SortXpos
	}
	if sortKey == domain.SortPathogenicity && user != nil && user.IsStaff {
		return domain.SortPathogenicityHGMD
	}
	return sortKey
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setOf(m map[string][]string) map[string]struct{} {
	set := make(map[string]struct{}, len(m))
	for k := range m {
		set[k] = struct{}{}
	}
	return set
}
