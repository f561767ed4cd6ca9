package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sakconstructions/storefront/pkg/database"
)

const reviewSelect = `SELECT rv.id, rv.plan_id, rv.user_id, COALESCE(pr.full_name, ''), rv.rating, rv.comment,
	rv.verified_purchase, rv.created_at, rv.updated_at
	FROM reviews rv
	LEFT JOIN profiles pr ON pr.id = rv.user_id`

func scanReview(row rowScanner) (*Review, error) {
	r := &Review{}
	err := row.Scan(&r.ID, &r.PlanID, &r.UserID, &r.AuthorName, &r.Rating, &r.Comment,
		&r.VerifiedPurchase, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// UpsertReview creates or replaces profileID's review of a published plan.
// The review is marked as a verified purchase when the profile holds a
// completed order for the plan.
func (s *Service) UpsertReview(ctx context.Context, planID, profileID int64, req *ReviewRequest) (*Review, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, ErrInvalidRating
	}
	if _, err := s.GetPlan(ctx, planID, false); err != nil {
		return nil, err
	}

	var completed int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM orders WHERE user_id = $1 AND plan_id = $2 AND status = 'completed'",
		profileID, planID,
	).Scan(&completed)
	if err != nil {
		return nil, fmt.Errorf("failed to check purchase: %w", err)
	}

	now := database.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reviews (plan_id, user_id, rating, comment, verified_purchase, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (plan_id, user_id) DO UPDATE SET
			rating = excluded.rating,
			comment = excluded.comment,
			verified_purchase = excluded.verified_purchase,
			updated_at = excluded.updated_at`,
		planID, profileID, req.Rating, strings.TrimSpace(req.Comment), completed > 0, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save review: %w", err)
	}

	// rating aggregates live on the cached plan
	s.invalidate(ctx, planID)

	r, err := scanReview(s.db.QueryRowContext(ctx, reviewSelect+" WHERE rv.plan_id = $1 AND rv.user_id = $2", planID, profileID))
	if err != nil {
		return nil, fmt.Errorf("failed to read review: %w", err)
	}
	return r, nil
}

// ListReviews returns a page of a plan's reviews, newest first, and the total count.
// Reviews of an unpublished plan are ErrPlanNotFound unless includeUnpublished.
func (s *Service) ListReviews(ctx context.Context, planID int64, includeUnpublished bool, limit, offset int) ([]*Review, int64, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if _, err := s.GetPlan(ctx, planID, includeUnpublished); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reviews WHERE plan_id = $1", planID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count reviews: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		reviewSelect+" WHERE rv.plan_id = $1 ORDER BY rv.created_at DESC, rv.id DESC LIMIT $2 OFFSET $3",
		planID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	reviews := []*Review{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read reviews: %w", err)
	}
	return reviews, total, nil
}

// DeleteReview removes a review. Only its author or an admin may delete it.
func (s *Service) DeleteReview(ctx context.Context, reviewID, profileID int64, isAdmin bool) error {
	var planID, authorID int64
	err := s.db.QueryRowContext(ctx, "SELECT plan_id, user_id FROM reviews WHERE id = $1", reviewID).Scan(&planID, &authorID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrReviewNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get review: %w", err)
	}
	if authorID != profileID && !isAdmin {
		return ErrNotReviewOwner
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM reviews WHERE id = $1", reviewID); err != nil {
		return fmt.Errorf("failed to delete review: %w", err)
	}
	s.invalidate(ctx, planID)
	return nil
}
