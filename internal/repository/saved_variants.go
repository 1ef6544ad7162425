package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/variant-curation-server/internal/domain"
)

// SavedVariantRepository persists curated variants with their tags,
// notes and functional data. Saved variants are unique per
// (xpos, ref, alt, family).
type SavedVariantRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewSavedVariantRepository creates a new saved variant repository
func NewSavedVariantRepository(db *pgxpool.Pool, logger *logrus.Logger) *SavedVariantRepository {
	return &SavedVariantRepository{
		db:  db,
		log: logger,
	}
}

// FindForKeys retrieves saved variants matching any of the keys within
// the given families.
func (r *SavedVariantRepository) FindForKeys(ctx context.Context, familyGUIDs []string, keys []domain.VariantKey) ([]*domain.SavedVariant, error) {
	if len(familyGUIDs) == 0 || len(keys) == 0 {
		return nil, nil
	}

	xposes := make([]int64, len(keys))
	refs := make([]string, len(keys))
	alts := make([]string, len(keys))
	for i, key := range keys {
		xposes[i] = key.Xpos
		refs[i] = key.Ref
		alts[i] = key.Alt
	}

	query := `
		SELECT guid, xpos, xpos_end, ref, alt, family_guid, project_guid,
			   annotation, created_at, updated_at
		FROM saved_variants
		WHERE family_guid = ANY($1)
		  AND (xpos, ref, alt) IN (
			SELECT * FROM unnest($2::bigint[], $3::text[], $4::text[])
		  )
		ORDER BY xpos, ref, alt`

	rows, err := r.db.Query(ctx, query, familyGUIDs, xposes, refs, alts)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"families": len(familyGUIDs),
			"keys":     len(keys),
			"error":    err,
		}).Error("Failed to find saved variants")
		return nil, fmt.Errorf("finding saved variants: %w", err)
	}
	defer rows.Close()

	variants, err := r.collectVariants(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachDetails(ctx, variants); err != nil {
		return nil, err
	}
	return variants, nil
}

// GetOrCreate returns the saved variant for the key within the family,
// creating a bare record if none exists.
func (r *SavedVariantRepository) GetOrCreate(ctx context.Context, key domain.VariantKey, familyGUID, projectGUID string) (*domain.SavedVariant, error) {
	guid := "SV" + uuid.New().String()[:10]
	query := `
		INSERT INTO saved_variants (guid, xpos, xpos_end, ref, alt, family_guid, project_guid)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (xpos, ref, alt, family_guid) DO NOTHING
		RETURNING guid, xpos, xpos_end, ref, alt, family_guid, project_guid,
				  annotation, created_at, updated_at`

	sv, err := r.scanVariant(r.db.QueryRow(ctx, query,
		guid, key.Xpos, key.Xpos, key.Ref, key.Alt, familyGUID, projectGUID))
	if errors.Is(err, pgx.ErrNoRows) {
		return r.getByKey(ctx, key, familyGUID)
	}
	if err != nil {
		return nil, fmt.Errorf("creating saved variant: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"variant_guid": sv.GUID,
		"family_guid":  familyGUID,
	}).Info("Saved variant created")

	return sv, nil
}

// UpdateAnnotation replaces the cached annotation blob.
func (r *SavedVariantRepository) UpdateAnnotation(ctx context.Context, guid string, annotation []byte) error {
	query := `
		UPDATE saved_variants
		SET annotation = $2, updated_at = NOW()
		WHERE guid = $1`

	result, err := r.db.Exec(ctx, query, guid, annotation)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"variant_guid": guid,
			"error":        err,
		}).Error("Failed to update saved variant annotation")
		return fmt.Errorf("updating saved variant annotation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("saved variant not found: %w", domain.ErrNotFound)
	}
	return nil
}

// ListTagged retrieves the project's saved variants that carry at least
// one discovery tag.
func (r *SavedVariantRepository) ListTagged(ctx context.Context, projectGUID string) ([]*domain.SavedVariant, error) {
	query := `
		SELECT DISTINCT sv.guid, sv.xpos, sv.xpos_end, sv.ref, sv.alt,
			   sv.family_guid, sv.project_guid, sv.annotation,
			   sv.created_at, sv.updated_at
		FROM saved_variants sv
		JOIN variant_tags t ON t.saved_variant_guid = sv.guid
		WHERE sv.project_guid = $1
		  AND (t.category = $2 OR t.name = $3)
		ORDER BY sv.xpos, sv.ref, sv.alt`

	return r.listVariants(ctx, query, projectGUID, domain.DiscoveryTagCategory, domain.ShareWithKOMPTag)
}

// ListForProject retrieves every saved variant in the project.
func (r *SavedVariantRepository) ListForProject(ctx context.Context, projectGUID string) ([]*domain.SavedVariant, error) {
	query := `
		SELECT guid, xpos, xpos_end, ref, alt, family_guid, project_guid,
			   annotation, created_at, updated_at
		FROM saved_variants
		WHERE project_guid = $1
		ORDER BY xpos, ref, alt`

	return r.listVariants(ctx, query, projectGUID)
}

func (r *SavedVariantRepository) listVariants(ctx context.Context, query, projectGUID string, extraArgs ...interface{}) ([]*domain.SavedVariant, error) {
	args := append([]interface{}{projectGUID}, extraArgs...)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"project_guid": projectGUID,
			"error":        err,
		}).Error("Failed to list saved variants")
		return nil, fmt.Errorf("listing saved variants: %w", err)
	}
	defer rows.Close()

	variants, err := r.collectVariants(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachDetails(ctx, variants); err != nil {
		return nil, err
	}
	return variants, nil
}

func (r *SavedVariantRepository) getByKey(ctx context.Context, key domain.VariantKey, familyGUID string) (*domain.SavedVariant, error) {
	query := `
		SELECT guid, xpos, xpos_end, ref, alt, family_guid, project_guid,
			   annotation, created_at, updated_at
		FROM saved_variants
		WHERE xpos = $1 AND ref = $2 AND alt = $3 AND family_guid = $4`

	sv, err := r.scanVariant(r.db.QueryRow(ctx, query, key.Xpos, key.Ref, key.Alt, familyGUID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("saved variant not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting saved variant: %w", err)
	}
	return sv, nil
}

func (r *SavedVariantRepository) collectVariants(rows pgx.Rows) ([]*domain.SavedVariant, error) {
	var variants []*domain.SavedVariant
	for rows.Next() {
		sv, err := r.scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning saved variant row: %w", err)
		}
		variants = append(variants, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating saved variant rows: %w", err)
	}
	return variants, nil
}

func (r *SavedVariantRepository) scanVariant(row pgx.Row) (*domain.SavedVariant, error) {
	var sv domain.SavedVariant
	err := row.Scan(
		&sv.GUID,
		&sv.Xpos,
		&sv.XposEnd,
		&sv.Ref,
		&sv.Alt,
		&sv.FamilyGUID,
		&sv.ProjectGUID,
		&sv.AnnotationJSON,
		&sv.CreatedAt,
		&sv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sv, nil
}

// attachDetails loads tags, notes and functional data for the batch.
func (r *SavedVariantRepository) attachDetails(ctx context.Context, variants []*domain.SavedVariant) error {
	if len(variants) == 0 {
		return nil
	}
	byGUID := make(map[string]*domain.SavedVariant, len(variants))
	guids := make([]string, len(variants))
	for i, sv := range variants {
		byGUID[sv.GUID] = sv
		guids[i] = sv.GUID
	}

	tagQuery := `
		SELECT saved_variant_guid, guid, name, category, created_by, created_at
		FROM variant_tags
		WHERE saved_variant_guid = ANY($1)
		ORDER BY created_at`
	rows, err := r.db.Query(ctx, tagQuery, guids)
	if err != nil {
		return fmt.Errorf("loading variant tags: %w", err)
	}
	for rows.Next() {
		var ownerGUID string
		var tag domain.VariantTag
		if err := rows.Scan(&ownerGUID, &tag.GUID, &tag.Name, &tag.Category, &tag.CreatedBy, &tag.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scanning variant tag row: %w", err)
		}
		byGUID[ownerGUID].Tags = append(byGUID[ownerGUID].Tags, tag)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating variant tag rows: %w", err)
	}

	noteQuery := `
		SELECT saved_variant_guid, guid, note, created_by, created_at
		FROM variant_notes
		WHERE saved_variant_guid = ANY($1)
		ORDER BY created_at`
	rows, err = r.db.Query(ctx, noteQuery, guids)
	if err != nil {
		return fmt.Errorf("loading variant notes: %w", err)
	}
	for rows.Next() {
		var ownerGUID string
		var note domain.VariantNote
		if err := rows.Scan(&ownerGUID, &note.GUID, &note.Note, &note.CreatedBy, &note.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scanning variant note row: %w", err)
		}
		byGUID[ownerGUID].Notes = append(byGUID[ownerGUID].Notes, note)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating variant note rows: %w", err)
	}

	functionalQuery := `
		SELECT saved_variant_guid, guid, name, metadata
		FROM variant_functional_data
		WHERE saved_variant_guid = ANY($1)
		ORDER BY guid`
	rows, err = r.db.Query(ctx, functionalQuery, guids)
	if err != nil {
		return fmt.Errorf("loading variant functional data: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ownerGUID string
		var fd domain.VariantFunctionalData
		if err := rows.Scan(&ownerGUID, &fd.GUID, &fd.Name, &fd.Metadata); err != nil {
			return fmt.Errorf("scanning functional data row: %w", err)
		}
		byGUID[ownerGUID].FunctionalData = append(byGUID[ownerGUID].FunctionalData, fd)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating functional data rows: %w", err)
	}

	return nil
}
