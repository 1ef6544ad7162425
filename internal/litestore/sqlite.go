// Package litestore provides a SQLite-backed saved variant store for
// single-node deployments that run without PostgreSQL.
package litestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/variant-curation-server/internal/domain"
)

// SQLiteStore implements the saved variant store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite saved variant store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSavedVariant(s scanner) (*domain.SavedVariant, error) {
	sv := &domain.SavedVariant{}
	var annotation []byte

	err := s.Scan(
		&sv.GUID, &sv.Xpos, &sv.XposEnd, &sv.Ref, &sv.Alt,
		&sv.FamilyGUID, &sv.ProjectGUID, &annotation,
		&sv.CreatedAt, &sv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(annotation) > 0 {
		sv.AnnotationJSON = json.RawMessage(annotation)
	}
	return sv, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS saved_variants (
		guid TEXT PRIMARY KEY,
		xpos INTEGER NOT NULL,
		xpos_end INTEGER NOT NULL DEFAULT 0,
		ref TEXT NOT NULL,
		alt TEXT NOT NULL,
		family_guid TEXT NOT NULL,
		project_guid TEXT NOT NULL,
		annotation TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(xpos, ref, alt, family_guid)
	);

	CREATE TABLE IF NOT EXISTS variant_tags (
		guid TEXT PRIMARY KEY,
		saved_variant_guid TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT DEFAULT '',
		created_by TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS variant_notes (
		guid TEXT PRIMARY KEY,
		saved_variant_guid TEXT NOT NULL,
		note TEXT NOT NULL,
		created_by TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS variant_functional_data (
		guid TEXT PRIMARY KEY,
		saved_variant_guid TEXT NOT NULL,
		name TEXT NOT NULL,
		metadata TEXT DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_saved_variants_project ON saved_variants(project_guid);
	CREATE INDEX IF NOT EXISTS idx_saved_variants_family ON saved_variants(family_guid);
	CREATE INDEX IF NOT EXISTS idx_variant_tags_variant ON variant_tags(saved_variant_guid);
	CREATE INDEX IF NOT EXISTS idx_variant_notes_variant ON variant_notes(saved_variant_guid);
	CREATE INDEX IF NOT EXISTS idx_functional_data_variant ON variant_functional_data(saved_variant_guid);
	`

	_, err := db.Exec(schema)
	return err
}

const savedVariantColumns = `guid, xpos, xpos_end, ref, alt, family_guid, project_guid, annotation, created_at, updated_at`

// FindForKeys retrieves saved variants matching any of the keys within
// the given families.
func (s *SQLiteStore) FindForKeys(ctx context.Context, familyGUIDs []string, keys []domain.VariantKey) ([]*domain.SavedVariant, error) {
	if len(familyGUIDs) == 0 || len(keys) == 0 {
		return nil, nil
	}

	var args []interface{}
	familyMarks := make([]string, len(familyGUIDs))
	for i, guid := range familyGUIDs {
		familyMarks[i] = "?"
		args = append(args, guid)
	}
	keyClauses := make([]string, len(keys))
	for i, key := range keys {
		keyClauses[i] = "(xpos = ? AND ref = ? AND alt = ?)"
		args = append(args, key.Xpos, key.Ref, key.Alt)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM saved_variants
		WHERE family_guid IN (%s) AND (%s)
		ORDER BY xpos, ref, alt`,
		savedVariantColumns,
		strings.Join(familyMarks, ", "),
		strings.Join(keyClauses, " OR "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	variants, err := collectVariants(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachDetails(ctx, variants); err != nil {
		return nil, err
	}
	return variants, nil
}

// GetOrCreate returns the saved variant for the key within the family,
// creating a bare record if none exists.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, key domain.VariantKey, familyGUID, projectGUID string) (*domain.SavedVariant, error) {
	existing, err := s.getByKey(ctx, key, familyGUID)
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check existing: %w", err)
	}

	guid := "SV" + uuid.New().String()[:10]
	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO saved_variants (guid, xpos, xpos_end, ref, alt, family_guid, project_guid, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(xpos, ref, alt, family_guid) DO NOTHING
	`, guid, key.Xpos, key.Xpos, key.Ref, key.Alt, familyGUID, projectGUID, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert: %w", err)
	}

	// re-read: either our row or the one that won the race
	sv, err := s.getByKey(ctx, key, familyGUID)
	if err != nil {
		return nil, fmt.Errorf("failed to read back: %w", err)
	}
	return sv, nil
}

// UpdateAnnotation replaces the cached annotation blob.
func (s *SQLiteStore) UpdateAnnotation(ctx context.Context, guid string, annotation []byte) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE saved_variants SET annotation = ?, updated_at = ? WHERE guid = ?
	`, string(annotation), time.Now(), guid)
	if err != nil {
		return fmt.Errorf("failed to update: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("saved variant not found: %w", domain.ErrNotFound)
	}
	return nil
}

// ListTagged retrieves the project's saved variants that carry at least
// one discovery tag.
func (s *SQLiteStore) ListTagged(ctx context.Context, projectGUID string) ([]*domain.SavedVariant, error) {
	query := `
		SELECT DISTINCT sv.guid, sv.xpos, sv.xpos_end, sv.ref, sv.alt,
			sv.family_guid, sv.project_guid, sv.annotation, sv.created_at, sv.updated_at
		FROM saved_variants sv
		JOIN variant_tags t ON t.saved_variant_guid = sv.guid
		WHERE sv.project_guid = ?
		  AND (t.category = ? OR t.name = ?)
		ORDER BY sv.xpos, sv.ref, sv.alt`
	return s.listVariants(ctx, query, projectGUID, domain.DiscoveryTagCategory, domain.ShareWithKOMPTag)
}

// ListForProject retrieves every saved variant in the project.
func (s *SQLiteStore) ListForProject(ctx context.Context, projectGUID string) ([]*domain.SavedVariant, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM saved_variants
		WHERE project_guid = ?
		ORDER BY xpos, ref, alt`, savedVariantColumns)
	return s.listVariants(ctx, query, projectGUID)
}

func (s *SQLiteStore) listVariants(ctx context.Context, query, projectGUID string, extraArgs ...interface{}) ([]*domain.SavedVariant, error) {
	args := append([]interface{}{projectGUID}, extraArgs...)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	variants, err := collectVariants(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachDetails(ctx, variants); err != nil {
		return nil, err
	}
	return variants, nil
}

func (s *SQLiteStore) getByKey(ctx context.Context, key domain.VariantKey, familyGUID string) (*domain.SavedVariant, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM saved_variants
		WHERE xpos = ? AND ref = ? AND alt = ? AND family_guid = ?
		LIMIT 1`, savedVariantColumns),
		key.Xpos, key.Ref, key.Alt, familyGUID)
	return scanSavedVariant(row)
}

func collectVariants(rows *sql.Rows) ([]*domain.SavedVariant, error) {
	var variants []*domain.SavedVariant
	for rows.Next() {
		sv, err := scanSavedVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		variants = append(variants, sv)
	}
	return variants, rows.Err()
}

// AddTag attaches a tag to a saved variant.
func (s *SQLiteStore) AddTag(ctx context.Context, savedVariantGUID string, tag domain.VariantTag) error {
	if tag.GUID == "" {
		tag.GUID = "VT" + uuid.New().String()[:10]
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variant_tags (guid, saved_variant_guid, name, category, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tag.GUID, savedVariantGUID, tag.Name, tag.Category, tag.CreatedBy, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert tag: %w", err)
	}
	return nil
}

// AddNote attaches a note to a saved variant.
func (s *SQLiteStore) AddNote(ctx context.Context, savedVariantGUID string, note domain.VariantNote) error {
	if note.GUID == "" {
		note.GUID = "VN" + uuid.New().String()[:10]
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variant_notes (guid, saved_variant_guid, note, created_by, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, note.GUID, savedVariantGUID, note.Note, note.CreatedBy, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert note: %w", err)
	}
	return nil
}

// AddFunctionalData attaches a functional evidence entry to a saved
// variant.
func (s *SQLiteStore) AddFunctionalData(ctx context.Context, savedVariantGUID string, fd domain.VariantFunctionalData) error {
	if fd.GUID == "" {
		fd.GUID = "FD" + uuid.New().String()[:10]
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variant_functional_data (guid, saved_variant_guid, name, metadata)
		VALUES (?, ?, ?, ?)
	`, fd.GUID, savedVariantGUID, fd.Name, fd.Metadata)
	if err != nil {
		return fmt.Errorf("failed to insert functional data: %w", err)
	}
	return nil
}

func (s *SQLiteStore) attachDetails(ctx context.Context, variants []*domain.SavedVariant) error {
	byGUID := make(map[string]*domain.SavedVariant, len(variants))
	for _, sv := range variants {
		byGUID[sv.GUID] = sv
	}
	for _, sv := range variants {
		rows, err := s.db.QueryContext(ctx, `
			SELECT guid, name, category, created_by, created_at
			FROM variant_tags WHERE saved_variant_guid = ? ORDER BY created_at
		`, sv.GUID)
		if err != nil {
			return fmt.Errorf("failed to query tags: %w", err)
		}
		for rows.Next() {
			var tag domain.VariantTag
			if err := rows.Scan(&tag.GUID, &tag.Name, &tag.Category, &tag.CreatedBy, &tag.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan tag: %w", err)
			}
			sv.Tags = append(sv.Tags, tag)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate tags: %w", err)
		}

		rows, err = s.db.QueryContext(ctx, `
			SELECT guid, note, created_by, created_at
			FROM variant_notes WHERE saved_variant_guid = ? ORDER BY created_at
		`, sv.GUID)
		if err != nil {
			return fmt.Errorf("failed to query notes: %w", err)
		}
		for rows.Next() {
			var note domain.VariantNote
			if err := rows.Scan(&note.GUID, &note.Note, &note.CreatedBy, &note.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan note: %w", err)
			}
			sv.Notes = append(sv.Notes, note)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate notes: %w", err)
		}

		rows, err = s.db.QueryContext(ctx, `
			SELECT guid, name, metadata
			FROM variant_functional_data WHERE saved_variant_guid = ? ORDER BY guid
		`, sv.GUID)
		if err != nil {
			return fmt.Errorf("failed to query functional data: %w", err)
		}
		for rows.Next() {
			var fd domain.VariantFunctionalData
			if err := rows.Scan(&fd.GUID, &fd.Name, &fd.Metadata); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan functional data: %w", err)
			}
			sv.FunctionalData = append(sv.FunctionalData, fd)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate functional data: %w", err)
		}
	}
	return nil
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// CurationExport is the portable JSON envelope for saved variants.
type CurationExport struct {
	Version     string                 `json:"version"`
	ExportedAt  time.Time              `json:"exportedAt"`
	ProjectGUID string                 `json:"projectGuid"`
	Count       int                    `json:"count"`
	Variants    []*domain.SavedVariant `json:"variants"`
}

// ExportJSON exports a project's saved variants to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, projectGUID string, writer io.Writer) error {
	variants, err := s.ListForProject(ctx, projectGUID)
	if err != nil {
		return fmt.Errorf("failed to list saved variants: %w", err)
	}
	if len(variants) > maxExportLimit {
		variants = variants[:maxExportLimit]
	}

	export := &CurationExport{
		Version:     "1.0",
		ExportedAt:  time.Now(),
		ProjectGUID: projectGUID,
		Count:       len(variants),
		Variants:    variants,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// ImportJSON imports saved variants from a JSON reader. Variants that
// already exist for their (key, family) are skipped.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	var export CurationExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, sv := range export.Variants {
		_, err := s.getByKey(ctx, sv.Key(), sv.FamilyGUID)
		if err == nil {
			skipped++
			continue
		}
		if err != sql.ErrNoRows {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}

		created, err := s.GetOrCreate(ctx, sv.Key(), sv.FamilyGUID, sv.ProjectGUID)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		if len(sv.AnnotationJSON) > 0 {
			if err := s.UpdateAnnotation(ctx, created.GUID, sv.AnnotationJSON); err != nil {
				return imported, skipped, fmt.Errorf("failed to save annotation: %w", err)
			}
		}
		for _, tag := range sv.Tags {
			if err := s.AddTag(ctx, created.GUID, tag); err != nil {
				return imported, skipped, err
			}
		}
		for _, note := range sv.Notes {
			if err := s.AddNote(ctx, created.GUID, note); err != nil {
				return imported, skipped, err
			}
		}
		for _, fd := range sv.FunctionalData {
			if err := s.AddFunctionalData(ctx, created.GUID, fd); err != nil {
				return imported, skipped, err
			}
		}
		imported++
	}

	return imported, skipped, nil
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
