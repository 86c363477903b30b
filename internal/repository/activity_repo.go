package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/translation-studio/collab/internal/model"
)

// ActivityRepository provides data access for the project activity feed.
type ActivityRepository struct {
	db *sql.DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *sql.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Create inserts a new activity entry into the database.
func (r *ActivityRepository) Create(ctx context.Context, entry *model.ActivityEntry) error {
	query := `
		INSERT INTO activity_log (id, project_id, user_id, segment_id, category, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.ProjectID,
		entry.UserID,
		entry.SegmentID,
		entry.Category,
		entry.Message,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create activity entry: %w", err)
	}

	return nil
}

// ListByProject retrieves the most recent activity entries for a project,
// newest first. A non-positive limit defaults to 50.
func (r *ActivityRepository) ListByProject(ctx context.Context, projectID string, limit int) ([]*model.ActivityEntry, error) {
	if projectID == "" {
		return nil, model.ErrProjectRequired
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, project_id, user_id, segment_id, category, message, created_at
		FROM activity_log
		WHERE project_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var entries []*model.ActivityEntry
	for rows.Next() {
		entry := &model.ActivityEntry{}
		var segmentID sql.NullString

		err := rows.Scan(
			&entry.ID,
			&entry.ProjectID,
			&entry.UserID,
			&segmentID,
			&entry.Category,
			&entry.Message,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}

		if segmentID.Valid {
			entry.SegmentID = segmentID.String
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity entries: %w", err)
	}

	return entries, nil
}

// CountByCategory returns how many entries of one category a project has.
func (r *ActivityRepository) CountByCategory(ctx context.Context, projectID, category string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM activity_log
		WHERE project_id = ? AND category = ?
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, projectID, category).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count activity: %w", err)
	}

	return count, nil
}
