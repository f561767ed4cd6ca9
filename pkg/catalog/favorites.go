package catalog

import (
	"context"
	"fmt"

	"github.com/sakconstructions/storefront/pkg/database"
)

// AddFavorite saves a published plan for a profile. Saving twice is a no-op.
func (s *Service) AddFavorite(ctx context.Context, profileID, planID int64) error {
	if _, err := s.GetPlan(ctx, planID, false); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO favorites (user_id, plan_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, plan_id) DO NOTHING`,
		profileID, planID, database.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to add favorite: %w", err)
	}
	return nil
}

// RemoveFavorite unsaves a plan; removing a missing favorite is not an error
func (s *Service) RemoveFavorite(ctx context.Context, profileID, planID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM favorites WHERE user_id = $1 AND plan_id = $2", profileID, planID)
	if err != nil {
		return fmt.Errorf("failed to remove favorite: %w", err)
	}
	return nil
}

// ListFavorites returns the profile's saved plans that are still published,
// most recently saved first
func (s *Service) ListFavorites(ctx context.Context, profileID int64) ([]*Plan, error) {
	rows, err := s.db.QueryContext(ctx, planSelect+`
		JOIN favorites f ON f.plan_id = p.id
		WHERE f.user_id = $1 AND p.published = $2
		ORDER BY f.created_at DESC, f.id DESC`,
		profileID, true,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list favorites: %w", err)
	}
	defer rows.Close()

	plans := []*Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}
