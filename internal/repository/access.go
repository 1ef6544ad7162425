package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/variant-curation-server/internal/domain"
)

// AccessRepository checks project-level permissions. Staff users can
// access every project; other users need an access grant.
type AccessRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewAccessRepository creates a new access repository
func NewAccessRepository(db *pgxpool.Pool, logger *logrus.Logger) *AccessRepository {
	return &AccessRepository{
		db:  db,
		log: logger,
	}
}

// CheckAccess verifies the user can access the project.
func (r *AccessRepository) CheckAccess(ctx context.Context, user *domain.User, projectGUID string) error {
	if user.IsStaff {
		return nil
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM project_access
			WHERE user_id = $1 AND project_guid = $2
		)`

	var granted bool
	if err := r.db.QueryRow(ctx, query, user.ID, projectGUID).Scan(&granted); err != nil {
		return fmt.Errorf("checking project access: %w", err)
	}
	if !granted {
		r.log.WithFields(logrus.Fields{
			"user_id":      user.ID,
			"project_guid": projectGUID,
		}).Warn("Project access denied")
		return &domain.PermissionDeniedError{UserID: user.ID, ProjectGUID: projectGUID}
	}
	return nil
}
