package orders

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakconstructions/storefront/pkg/catalog"
	"github.com/sakconstructions/storefront/pkg/database"
)

// Unlocks reports whether an order for orderTier grants files of fileTier.
// Higher tiers include every file of the tiers below them.
func Unlocks(orderTier, fileTier catalog.Tier) bool {
	return fileTier.Rank() > 0 && fileTier.Rank() <= orderTier.Rank()
}

// ownedCompletedOrder loads an order the caller may download from
func (s *Service) ownedCompletedOrder(ctx context.Context, userID, orderID int64, isAdmin bool) (*Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID && !isAdmin {
		// don't reveal other users' orders
		return nil, ErrOrderNotFound
	}
	if order.Status != StatusCompleted {
		return nil, ErrOrderNotCompleted
	}
	return order, nil
}

// ListOrderFiles returns the plan files a completed order unlocks
func (s *Service) ListOrderFiles(ctx context.Context, userID, orderID int64, isAdmin bool) ([]*catalog.PlanFile, error) {
	order, err := s.ownedCompletedOrder(ctx, userID, orderID, isAdmin)
	if err != nil {
		return nil, err
	}
	files, err := s.files.ListPlanFiles(ctx, order.PlanID)
	if err != nil {
		return nil, err
	}

	unlocked := []*catalog.PlanFile{}
	for _, f := range files {
		if Unlocks(order.Tier, f.Tier) {
			unlocked = append(unlocked, f)
		}
	}
	return unlocked, nil
}

// AuthorizeDownload checks that the order entitles the caller to the file,
// records the download and returns a presigned URL for it
func (s *Service) AuthorizeDownload(ctx context.Context, userID, orderID, fileID int64, isAdmin bool) (*DownloadLink, error) {
	order, err := s.ownedCompletedOrder(ctx, userID, orderID, isAdmin)
	if err != nil {
		return nil, err
	}
	file, err := s.files.GetPlanFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.PlanID != order.PlanID {
		return nil, ErrFileNotInOrder
	}
	if !Unlocks(order.Tier, file.Tier) {
		return nil, fmt.Errorf("%w: %s order, %s file", ErrTierLocked, order.Tier, file.Tier)
	}

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO downloads (user_id, order_id, plan_id, file_id, file_name, tier, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
			userID, order.ID, order.PlanID, file.ID, file.Name, string(file.Tier), s.now(),
		); err != nil {
			return fmt.Errorf("failed to record download: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE plans SET download_count = download_count + 1 WHERE id = $1", order.PlanID,
		); err != nil {
			return fmt.Errorf("failed to count download: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	url, err := s.presigner.PresignGet(ctx, file.ObjectKey, s.presignTTL, file.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to presign download: %w", err)
	}

	if s.metrics != nil {
		s.metrics.DownloadsTotal.WithLabelValues(string(file.Tier)).Inc()
	}
	s.logger.WithFields(map[string]interface{}{
		"user_id": userID, "order_id": order.ID, "file_id": file.ID,
	}).Info("Download authorized")

	return &DownloadLink{URL: url, ExpiresAt: s.now().Add(s.presignTTL), File: file}, nil
}

// ListUserDownloads returns a profile's download history, newest first.
// Entries outlive their plan file; FileID is nil once the file is deleted.
func (s *Service) ListUserDownloads(ctx context.Context, userID int64, limit, offset int) ([]*Download, error) {
	if limit <= 0 {
		limit = catalog.DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.user_id, d.order_id, d.plan_id, COALESCE(p.title, ''), d.file_id,
			d.file_name, d.tier, d.created_at
		FROM downloads d
		LEFT JOIN plans p ON p.id = d.plan_id
		WHERE d.user_id = $1
		ORDER BY d.created_at DESC, d.id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}
	defer rows.Close()

	downloads := []*Download{}
	for rows.Next() {
		d := &Download{}
		var fileID sql.NullInt64
		if err := rows.Scan(&d.ID, &d.UserID, &d.OrderID, &d.PlanID, &d.PlanTitle, &fileID,
			&d.FileName, &d.Tier, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}
		if fileID.Valid {
			d.FileID = &fileID.Int64
		}
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}
