package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/sakconstructions/storefront/pkg/blob"
	"github.com/sakconstructions/storefront/pkg/database"
)

const fileColumns = `id, plan_id, tier, name, object_key, content_type, size_bytes, created_at`

func scanFile(row rowScanner) (*PlanFile, error) {
	f := &PlanFile{}
	if err := row.Scan(&f.ID, &f.PlanID, &f.Tier, &f.Name, &f.ObjectKey, &f.ContentType, &f.SizeBytes, &f.CreatedAt); err != nil {
		return nil, err
	}
	return f, nil
}

// AddPlanFile stores content under plans/<planID>/<tier>/<uuid>-<name> and records it
func (s *Service) AddPlanFile(ctx context.Context, planID int64, tier Tier, name, contentType string, content io.Reader) (*PlanFile, error) {
	if _, err := ParseTier(string(tier)); err != nil {
		return nil, err
	}
	if _, err := s.GetPlan(ctx, planID, true); err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := blob.PlanFileKey(planID, string(tier), name)
	size, err := s.store.Put(ctx, key, content, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store plan file: %w", err)
	}

	f, err := scanFile(s.db.QueryRowContext(ctx, `
		INSERT INTO plan_files (plan_id, tier, name, object_key, content_type, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+fileColumns,
		planID, tier, blob.SanitizeFilename(name), key, contentType, size, database.Now(),
	))
	if err != nil {
		// don't leave an orphaned object behind
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.logger.WithError(delErr).WithField("object_key", key).Warn("Failed to remove orphaned object")
		}
		return nil, fmt.Errorf("failed to record plan file: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"plan_id": planID, "file_id": f.ID, "tier": tier, "size_bytes": size,
	}).Info("Plan file uploaded")
	return f, nil
}

// ListPlanFiles lists a plan's files ordered by tier then name
func (s *Service) ListPlanFiles(ctx context.Context, planID int64) ([]*PlanFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM plan_files WHERE plan_id = $1
		ORDER BY CASE tier WHEN 'basic' THEN 1 WHEN 'standard' THEN 2 ELSE 3 END, name, id`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan files: %w", err)
	}
	defer rows.Close()

	files := []*PlanFile{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetPlanFile returns one file row
func (s *Service) GetPlanFile(ctx context.Context, fileID int64) (*PlanFile, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM plan_files WHERE id = $1`, fileID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan file: %w", err)
	}
	return f, nil
}

// DeletePlanFile removes a file row and its stored object
func (s *Service) DeletePlanFile(ctx context.Context, planID, fileID int64) error {
	f, err := s.GetPlanFile(ctx, fileID)
	if err != nil {
		return err
	}
	if f.PlanID != planID {
		return ErrFileNotFound
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM plan_files WHERE id = $1", fileID); err != nil {
		return fmt.Errorf("failed to delete plan file: %w", err)
	}
	if err := s.store.Delete(ctx, f.ObjectKey); err != nil {
		s.logger.WithError(err).WithField("object_key", f.ObjectKey).Warn("Failed to delete plan file object")
	}
	return nil
}
