package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/variant-curation-server/internal/domain"
)

// SearchResultStore persists search descriptors and saved searches.
// Descriptors are unique on (search_hash, sort); result metadata is
// written once and never overwritten.
type SearchResultStore struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewSearchResultStore creates a new search result store
func NewSearchResultStore(db *pgxpool.Pool, logger *logrus.Logger) *SearchResultStore {
	return &SearchResultStore{
		db:  db,
		log: logger,
	}
}

const descriptorColumns = `
	r.id, r.search_hash, r.sort, r.search_guid, r.search,
	r.total_results, r.es_index, r.created_at,
	COALESCE(
		array_agg(f.family_guid ORDER BY f.family_guid)
			FILTER (WHERE f.family_guid IS NOT NULL),
		'{}'
	)`

// Get retrieves the descriptor for a (hash, sort) pair, or nil if none
// has been recorded.
func (s *SearchResultStore) Get(ctx context.Context, hash, sort string) (*domain.SearchResultDescriptor, error) {
	query := `
		SELECT ` + descriptorColumns + `
		FROM search_results r
		LEFT JOIN search_result_families f ON f.search_result_id = r.id
		WHERE r.search_hash = $1 AND r.sort = $2
		GROUP BY r.id`

	descriptor, err := s.scanDescriptor(s.db.QueryRow(ctx, query, hash, sort))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		s.log.WithFields(logrus.Fields{
			"search_hash": hash,
			"sort":        sort,
			"error":       err,
		}).Error("Failed to get search descriptor")
		return nil, fmt.Errorf("getting search descriptor: %w", err)
	}
	return descriptor, nil
}

// GetAnySort retrieves any descriptor recorded for the hash, regardless
// of sort order, or nil if the hash is unknown.
func (s *SearchResultStore) GetAnySort(ctx context.Context, hash string) (*domain.SearchResultDescriptor, error) {
	query := `
		SELECT ` + descriptorColumns + `
		FROM search_results r
		LEFT JOIN search_result_families f ON f.search_result_id = r.id
		WHERE r.search_hash = $1
		GROUP BY r.id
		ORDER BY r.id
		LIMIT 1`

	descriptor, err := s.scanDescriptor(s.db.QueryRow(ctx, query, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		s.log.WithFields(logrus.Fields{
			"search_hash": hash,
			"error":       err,
		}).Error("Failed to get search descriptor by hash")
		return nil, fmt.Errorf("getting search descriptor by hash: %w", err)
	}
	return descriptor, nil
}

// CreateOrGet records a new descriptor, or returns the existing one if
// another request won the (search_hash, sort) race.
func (s *SearchResultStore) CreateOrGet(ctx context.Context, d *domain.SearchResultDescriptor) (*domain.SearchResultDescriptor, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO search_results (search_hash, sort, search_guid, search)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (search_hash, sort) DO NOTHING
		RETURNING id, created_at`

	err = tx.QueryRow(ctx, insert, d.SearchHash, d.Sort, d.SearchGUID, d.Search).
		Scan(&d.ID, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// lost the race, the committed row wins
		return s.Get(ctx, d.SearchHash, d.Sort)
	}
	if err != nil {
		return nil, fmt.Errorf("creating search descriptor: %w", err)
	}

	for _, familyGUID := range d.FamilyGUIDs {
		_, err = tx.Exec(ctx,
			`INSERT INTO search_result_families (search_result_id, family_guid) VALUES ($1, $2)`,
			d.ID, familyGUID)
		if err != nil {
			return nil, fmt.Errorf("recording descriptor family: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing search descriptor: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"search_hash": d.SearchHash,
		"sort":        d.Sort,
		"families":    len(d.FamilyGUIDs),
	}).Info("Search descriptor created")

	return d, nil
}

// SetResults records the total count and index once. A descriptor that
// already has results keeps them.
func (s *SearchResultStore) SetResults(ctx context.Context, id, total int64, esIndex string) error {
	query := `
		UPDATE search_results
		SET total_results = $2, es_index = $3
		WHERE id = $1 AND total_results IS NULL`

	result, err := s.db.Exec(ctx, query, id, total, esIndex)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"descriptor_id": id,
			"error":         err,
		}).Error("Failed to record search results")
		return fmt.Errorf("recording search results: %w", err)
	}

	if result.RowsAffected() > 0 {
		s.log.WithFields(logrus.Fields{
			"descriptor_id": id,
			"total_results": total,
			"es_index":      esIndex,
		}).Info("Search results recorded")
	}
	return nil
}

// ResetForProject clears the cached result metadata on every descriptor
// scoped to a family of the project, forcing the next search to re-run
// against the index. Descriptor rows themselves are never deleted.
func (s *SearchResultStore) ResetForProject(ctx context.Context, projectGUID string) error {
	query := `
		UPDATE search_results r
		SET total_results = NULL, es_index = NULL
		FROM search_result_families f, families fam
		WHERE f.search_result_id = r.id
		  AND f.family_guid = fam.guid
		  AND fam.project_guid = $1`

	result, err := s.db.Exec(ctx, query, projectGUID)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"project_guid": projectGUID,
			"error":        err,
		}).Error("Failed to reset search descriptors")
		return fmt.Errorf("resetting search descriptors: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"project_guid": projectGUID,
		"descriptors":  result.RowsAffected(),
	}).Info("Search descriptors reset for project")

	return nil
}

// SavedSearches lists the user's named searches.
func (s *SearchResultStore) SavedSearches(ctx context.Context, userID string) ([]*domain.VariantSearch, error) {
	query := `
		SELECT guid, name, search, created_by, created_at
		FROM variant_searches
		WHERE created_by = $1 AND name <> ''
		ORDER BY created_at`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing saved searches: %w", err)
	}
	defer rows.Close()

	var searches []*domain.VariantSearch
	for rows.Next() {
		var search domain.VariantSearch
		if err := rows.Scan(&search.GUID, &search.Name, &search.Search, &search.CreatedBy, &search.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning saved search row: %w", err)
		}
		searches = append(searches, &search)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating saved search rows: %w", err)
	}
	return searches, nil
}

// CreateSavedSearch persists a named search.
func (s *SearchResultStore) CreateSavedSearch(ctx context.Context, search *domain.VariantSearch) error {
	query := `
		INSERT INTO variant_searches (guid, name, search, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := s.db.QueryRow(ctx, query, search.GUID, search.Name, search.Search, search.CreatedBy).
		Scan(&search.CreatedAt)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"search_guid": search.GUID,
			"error":       err,
		}).Error("Failed to create saved search")
		return fmt.Errorf("creating saved search: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"search_guid": search.GUID,
		"name":        search.Name,
	}).Info("Saved search created")

	return nil
}

func (s *SearchResultStore) scanDescriptor(row pgx.Row) (*domain.SearchResultDescriptor, error) {
	var d domain.SearchResultDescriptor
	err := row.Scan(
		&d.ID,
		&d.SearchHash,
		&d.Sort,
		&d.SearchGUID,
		&d.Search,
		&d.TotalResults,
		&d.ESIndex,
		&d.CreatedAt,
		&d.FamilyGUIDs,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
