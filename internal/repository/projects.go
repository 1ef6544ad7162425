package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/variant-curation-server/internal/domain"
)

// ProjectRepository reads project, family, individual and sample
// records.
type ProjectRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *pgxpool.Pool, logger *logrus.Logger) *ProjectRepository {
	return &ProjectRepository{
		db:  db,
		log: logger,
	}
}

// Project retrieves a project by GUID.
func (r *ProjectRepository) Project(ctx context.Context, guid string) (*domain.Project, error) {
	query := `SELECT guid, name, description FROM projects WHERE guid = $1`

	var project domain.Project
	err := r.db.QueryRow(ctx, query, guid).Scan(&project.GUID, &project.Name, &project.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("project not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"project_guid": guid,
			"error":        err,
		}).Error("Failed to get project")
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return &project, nil
}

const familyColumns = `
	guid, family_id, project_guid,
	COALESCE(coded_phenotype, ''), COALESCE(analysis_summary, ''),
	COALESCE(pedigree_image_url, ''), COALESCE(post_discovery_omim_number, '')`

// FamiliesByGUID retrieves the named families.
func (r *ProjectRepository) FamiliesByGUID(ctx context.Context, guids []string) ([]*domain.Family, error) {
	query := `SELECT ` + familyColumns + ` FROM families WHERE guid = ANY($1) ORDER BY guid`
	return r.queryFamilies(ctx, query, guids)
}

// FamiliesForProject retrieves every family in the project.
func (r *ProjectRepository) FamiliesForProject(ctx context.Context, projectGUID string) ([]*domain.Family, error) {
	query := `SELECT ` + familyColumns + ` FROM families WHERE project_guid = $1 ORDER BY guid`
	return r.queryFamilies(ctx, query, projectGUID)
}

func (r *ProjectRepository) queryFamilies(ctx context.Context, query string, arg interface{}) ([]*domain.Family, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("querying families: %w", err)
	}
	defer rows.Close()

	var families []*domain.Family
	for rows.Next() {
		var f domain.Family
		err := rows.Scan(&f.GUID, &f.FamilyID, &f.ProjectGUID,
			&f.CodedPhenotype, &f.AnalysisSummary, &f.PedigreeImageURL, &f.PostDiscoveryOmimNumber)
		if err != nil {
			return nil, fmt.Errorf("scanning family row: %w", err)
		}
		families = append(families, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating family rows: %w", err)
	}
	return families, nil
}

// IndividualsForFamilies retrieves the individuals of the named
// families, with their phenotype records.
func (r *ProjectRepository) IndividualsForFamilies(ctx context.Context, familyGUIDs []string) ([]*domain.Individual, error) {
	query := `
		SELECT guid, individual_id, family_guid, affected, COALESCE(sex, ''), phenotype
		FROM individuals
		WHERE family_guid = ANY($1)
		ORDER BY guid`

	rows, err := r.db.Query(ctx, query, familyGUIDs)
	if err != nil {
		return nil, fmt.Errorf("querying individuals: %w", err)
	}
	defer rows.Close()

	var individuals []*domain.Individual
	for rows.Next() {
		var ind domain.Individual
		var phenotype []byte
		if err := rows.Scan(&ind.GUID, &ind.IndividualID, &ind.FamilyGUID, &ind.Affected, &ind.Sex, &phenotype); err != nil {
			return nil, fmt.Errorf("scanning individual row: %w", err)
		}
		if len(phenotype) > 0 {
			var record domain.PhenotypeRecord
			if err := json.Unmarshal(phenotype, &record); err != nil {
				r.log.WithFields(logrus.Fields{
					"individual_guid": ind.GUID,
					"error":           err,
				}).Warn("Skipping unreadable phenotype record")
			} else {
				ind.Phenotype = &record
			}
		}
		individuals = append(individuals, &ind)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating individual rows: %w", err)
	}
	return individuals, nil
}

// LoadedSamples retrieves the project's loaded samples with a load date
// before the cutoff, oldest first.
func (r *ProjectRepository) LoadedSamples(ctx context.Context, projectGUID string, before time.Time) ([]*domain.Sample, error) {
	query := `
		SELECT s.guid, s.individual_guid, s.family_guid, s.sample_type,
			   COALESCE(s.dataset_type, ''), s.status, s.loaded_date, COALESCE(s.es_index, '')
		FROM samples s
		JOIN families f ON f.guid = s.family_guid
		WHERE f.project_guid = $1
		  AND s.status = $2
		  AND s.loaded_date IS NOT NULL
		  AND s.loaded_date < $3
		ORDER BY s.loaded_date`

	rows, err := r.db.Query(ctx, query, projectGUID, domain.SampleStatusLoaded, before)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"project_guid": projectGUID,
			"error":        err,
		}).Error("Failed to query loaded samples")
		return nil, fmt.Errorf("querying loaded samples: %w", err)
	}
	defer rows.Close()

	var samples []*domain.Sample
	for rows.Next() {
		var s domain.Sample
		err := rows.Scan(&s.GUID, &s.IndividualGUID, &s.FamilyGUID, &s.SampleType,
			&s.DatasetType, &s.Status, &s.LoadedDate, &s.ESIndex)
		if err != nil {
			return nil, fmt.Errorf("scanning sample row: %w", err)
		}
		samples = append(samples, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sample rows: %w", err)
	}
	return samples, nil
}

// ProjectGUIDsForFamilies retrieves the distinct projects the families
// belong to.
func (r *ProjectRepository) ProjectGUIDsForFamilies(ctx context.Context, familyGUIDs []string) ([]string, error) {
	query := `
		SELECT DISTINCT project_guid FROM families
		WHERE guid = ANY($1)
		ORDER BY project_guid`

	rows, err := r.db.Query(ctx, query, familyGUIDs)
	if err != nil {
		return nil, fmt.Errorf("querying family projects: %w", err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var guid string
		if err := rows.Scan(&guid); err != nil {
			return nil, fmt.Errorf("scanning project guid: %w", err)
		}
		projects = append(projects, guid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating project guids: %w", err)
	}
	return projects, nil
}

// LocusListsForProject retrieves the project's locus lists with their
// gene memberships.
func (r *ProjectRepository) LocusListsForProject(ctx context.Context, projectGUID string) ([]*domain.LocusList, error) {
	query := `
		SELECT l.guid, l.name,
			   COALESCE(
				   array_agg(g.gene_id ORDER BY g.gene_id) FILTER (WHERE g.gene_id IS NOT NULL),
				   '{}'
			   )
		FROM locus_lists l
		JOIN locus_list_projects lp ON lp.locus_list_guid = l.guid
		LEFT JOIN locus_list_genes g ON g.locus_list_guid = l.guid
		WHERE lp.project_guid = $1
		GROUP BY l.guid, l.name
		ORDER BY l.guid`

	rows, err := r.db.Query(ctx, query, projectGUID)
	if err != nil {
		return nil, fmt.Errorf("querying locus lists: %w", err)
	}
	defer rows.Close()

	var lists []*domain.LocusList
	for rows.Next() {
		var list domain.LocusList
		if err := rows.Scan(&list.GUID, &list.Name, &list.GeneIDs); err != nil {
			return nil, fmt.Errorf("scanning locus list row: %w", err)
		}
		lists = append(lists, &list)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating locus list rows: %w", err)
	}
	return lists, nil
}

// HasMatchmakerSubmission reports whether the family has a matchmaker
// submission on record.
func (r *ProjectRepository) HasMatchmakerSubmission(ctx context.Context, projectGUID, familyID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM mme_submissions
			WHERE project_guid = $1 AND family_id = $2
		)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, projectGUID, familyID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking matchmaker submission: %w", err)
	}
	return exists, nil
}
