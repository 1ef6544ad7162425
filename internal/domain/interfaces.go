package domain

import (
	"context"
	"time"
)

// SearchPage is one page of index results together with the total hit
// count across all pages and the index that served the query.
type SearchPage struct {
	Variants []*Variant
	Total    int64
	Index    string
}

// VariantIndexGateway executes searches against the external variant
// index. Implementations return *InvalidIndexError when the backing index
// is missing or incompatible.
type VariantIndexGateway interface {
	// Search runs one page of the descriptor's search.
	Search(ctx context.Context, descriptor *SearchResultDescriptor, page, perPage int) (*SearchPage, error)
	// SingleVariant looks up one variant by its "chrom-pos-ref-alt" id
	// within the given families. Returns ErrNotFound when absent.
	SingleVariant(ctx context.Context, familyGUIDs []string, variantID string) (*Variant, error)
	// VariantsForKeys fetches current annotations for the given
	// (xpos, ref, alt) keys within the given families.
	VariantsForKeys(ctx context.Context, familyGUIDs []string, keys []VariantKey) ([]*Variant, error)
}

// SearchResultStore persists search-result descriptors and their backing
// search specifications.
type SearchResultStore interface {
	// Get returns the descriptor for (hash, sort), or nil when absent.
	Get(ctx context.Context, searchHash, sort string) (*SearchResultDescriptor, error)
	// GetAnySort returns any descriptor sharing the hash regardless of
	// sort, or nil when absent. Used to create sort siblings.
	GetAnySort(ctx context.Context, searchHash string) (*SearchResultDescriptor, error)
	// CreateOrGet atomically inserts the descriptor or returns the
	// existing row for its (hash, sort).
	CreateOrGet(ctx context.Context, descriptor *SearchResultDescriptor) (*SearchResultDescriptor, error)
	// SetResults records total hit count and index name for a descriptor
	// whose results have not been recorded yet; later calls are no-ops.
	SetResults(ctx context.Context, id int64, totalResults int64, esIndex string) error
	// ResetForProject clears cached result metadata on every descriptor
	// scoped to the project, after an index reload.
	ResetForProject(ctx context.Context, projectGUID string) error
	// SavedSearches lists the named searches visible to the user.
	SavedSearches(ctx context.Context, userID string) ([]*VariantSearch, error)
	// CreateSavedSearch persists a named search for the user.
	CreateSavedSearch(ctx context.Context, search *VariantSearch) error
}

// SavedVariantStore persists curated variants with their tags, notes and
// functional data.
type SavedVariantStore interface {
	// FindForKeys returns saved variants in the given families matching
	// any of the keys.
	FindForKeys(ctx context.Context, familyGUIDs []string, keys []VariantKey) ([]*SavedVariant, error)
	// GetOrCreate returns the saved variant for (key, family), creating
	// a bare record when absent.
	GetOrCreate(ctx context.Context, key VariantKey, familyGUID, projectGUID string) (*SavedVariant, error)
	// UpdateAnnotation replaces the cached annotation blob.
	UpdateAnnotation(ctx context.Context, guid string, annotation []byte) error
	// ListTagged returns the project's saved variants carrying at least
	// one discovery tag, with tags, notes and functional data populated.
	ListTagged(ctx context.Context, projectGUID string) ([]*SavedVariant, error)
	// ListForProject returns every saved variant in the project.
	ListForProject(ctx context.Context, projectGUID string) ([]*SavedVariant, error)
}

// ProjectRepository provides read-only access to projects, families,
// individuals, samples and locus lists.
type ProjectRepository interface {
	Project(ctx context.Context, projectGUID string) (*Project, error)
	FamiliesByGUID(ctx context.Context, familyGUIDs []string) ([]*Family, error)
	FamiliesForProject(ctx context.Context, projectGUID string) ([]*Family, error)
	IndividualsForFamilies(ctx context.Context, familyGUIDs []string) ([]*Individual, error)
	// LoadedSamples returns the project's samples in loaded status whose
	// load date is strictly before the cutoff.
	LoadedSamples(ctx context.Context, projectGUID string, before time.Time) ([]*Sample, error)
	ProjectGUIDsForFamilies(ctx context.Context, familyGUIDs []string) ([]string, error)
	LocusListsForProject(ctx context.Context, projectGUID string) ([]*LocusList, error)
	// HasMatchmakerSubmission reports whether the family has been
	// submitted to the matchmaker exchange.
	HasMatchmakerSubmission(ctx context.Context, projectGUID, familyID string) (bool, error)
}

// GeneRepository resolves gene metadata by gene id.
type GeneRepository interface {
	GenesByID(ctx context.Context, geneIDs []string) (map[string]*Gene, error)
}

// PermissionChecker enforces per-project access. CheckAccess returns a
// *PermissionDeniedError when the user cannot see the project.
type PermissionChecker interface {
	CheckAccess(ctx context.Context, user *User, projectGUID string) error
}

// PhenotypicSeriesLookup resolves an OMIM number to its phenotypic-series
// id, best effort.
type PhenotypicSeriesLookup interface {
	PhenotypicSeriesID(ctx context.Context, omimNumber string) (string, error)
}
