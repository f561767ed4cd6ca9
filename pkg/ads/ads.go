// Package ads serves the storefront's advertisement slots and counts their
// impressions and clicks.
package ads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sakconstructions/storefront/pkg/database"
	"github.com/sakconstructions/storefront/pkg/observability"
)

var (
	ErrAdNotFound     = errors.New("ad not found")
	ErrInvalidWindow  = errors.New("ad must end after it starts")
	ErrPlacementEmpty = errors.New("placement is required")
)

// Ad is an advertisement shown in a named placement
type Ad struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	ImageURL    string     `json:"image_url"`
	LinkURL     string     `json:"link_url"`
	Placement   string     `json:"placement"`
	Active      bool       `json:"active"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Impressions int64      `json:"impressions"`
	Clicks      int64      `json:"clicks"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AdRequest creates or replaces an ad
type AdRequest struct {
	Title     string     `json:"title" validate:"required,max=255"`
	ImageURL  string     `json:"image_url" validate:"required,url,max=2048"`
	LinkURL   string     `json:"link_url" validate:"omitempty,url,max=2048"`
	Placement string     `json:"placement" validate:"required,max=64"`
	Active    *bool      `json:"active"`
	StartsAt  *time.Time `json:"starts_at"`
	EndsAt    *time.Time `json:"ends_at"`
}

func (r *AdRequest) validate() error {
	if strings.TrimSpace(r.Placement) == "" {
		return ErrPlacementEmpty
	}
	if r.StartsAt != nil && r.EndsAt != nil && !r.EndsAt.After(*r.StartsAt) {
		return ErrInvalidWindow
	}
	return nil
}

const adColumns = `id, title, image_url, link_url, placement, active, starts_at, ends_at, impressions, clicks,
	created_at, updated_at`

// Service manages ads
type Service struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewService creates an ad service
func NewService(db *sql.DB, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Service{db: db, logger: logger.WithField("component", "ads")}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAd(row rowScanner) (*Ad, error) {
	a := &Ad{}
	var startsAt, endsAt sql.NullTime
	err := row.Scan(&a.ID, &a.Title, &a.ImageURL, &a.LinkURL, &a.Placement, &a.Active, &startsAt, &endsAt,
		&a.Impressions, &a.Clicks, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.StartsAt = nullTime(startsAt)
	a.EndsAt = nullTime(endsAt)
	return a, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// timeArg converts an optional time to a query argument
func timeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Truncate(time.Microsecond)
}

// CreateAd creates an ad. Ads are active unless the request says otherwise.
func (s *Service) CreateAd(ctx context.Context, req *AdRequest) (*Ad, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := database.Now()
	a, err := scanAd(s.db.QueryRowContext(ctx, `
		INSERT INTO ads (title, image_url, link_url, placement, active, starts_at, ends_at, impressions, clicks,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, $8, $8)
		RETURNING `+adColumns,
		strings.TrimSpace(req.Title), req.ImageURL, req.LinkURL, strings.TrimSpace(req.Placement), active,
		timeArg(req.StartsAt), timeArg(req.EndsAt), now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create ad: %w", err)
	}
	return a, nil
}

// UpdateAd replaces an ad's content and schedule, keeping its counters
func (s *Service) UpdateAd(ctx context.Context, id int64, req *AdRequest) (*Ad, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	current, err := s.GetAd(ctx, id)
	if err != nil {
		return nil, err
	}
	active := current.Active
	if req.Active != nil {
		active = *req.Active
	}

	a, err := scanAd(s.db.QueryRowContext(ctx, `
		UPDATE ads SET title = $1, image_url = $2, link_url = $3, placement = $4, active = $5,
			starts_at = $6, ends_at = $7, updated_at = $8
		WHERE id = $9
		RETURNING `+adColumns,
		strings.TrimSpace(req.Title), req.ImageURL, req.LinkURL, strings.TrimSpace(req.Placement), active,
		timeArg(req.StartsAt), timeArg(req.EndsAt), database.Now(), id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAdNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update ad: %w", err)
	}
	return a, nil
}

// DeleteAd removes an ad
func (s *Service) DeleteAd(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM ads WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete ad: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAdNotFound
	}
	return nil
}

// GetAd returns an ad by id
func (s *Service) GetAd(ctx context.Context, id int64) (*Ad, error) {
	a, err := scanAd(s.db.QueryRowContext(ctx, "SELECT "+adColumns+" FROM ads WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAdNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ad: %w", err)
	}
	return a, nil
}

// ListAds returns every ad for the admin console, newest first
func (s *Service) ListAds(ctx context.Context) ([]*Ad, error) {
	return s.query(ctx, "SELECT "+adColumns+" FROM ads ORDER BY created_at DESC, id DESC")
}

// ListActive returns the ads a placement should show at now: active and
// inside their optional schedule window
func (s *Service) ListActive(ctx context.Context, placement string, now time.Time) ([]*Ad, error) {
	now = now.UTC().Truncate(time.Microsecond)
	return s.query(ctx, `
		SELECT `+adColumns+` FROM ads
		WHERE placement = $1 AND active = $2
			AND (starts_at IS NULL OR starts_at <= $3)
			AND (ends_at IS NULL OR ends_at > $3)
		ORDER BY created_at DESC, id DESC`,
		placement, true, now,
	)
}

func (s *Service) query(ctx context.Context, query string, args ...interface{}) ([]*Ad, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ads: %w", err)
	}
	defer rows.Close()

	ads := []*Ad{}
	for rows.Next() {
		a, err := scanAd(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ad: %w", err)
		}
		ads = append(ads, a)
	}
	return ads, rows.Err()
}

// RecordImpression counts one view of an ad
func (s *Service) RecordImpression(ctx context.Context, id int64) error {
	return s.increment(ctx, id, "impressions")
}

// RecordClick counts one click on an ad
func (s *Service) RecordClick(ctx context.Context, id int64) error {
	return s.increment(ctx, id, "clicks")
}

func (s *Service) increment(ctx context.Context, id int64, column string) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE ads SET %[1]s = %[1]s + 1 WHERE id = $1 AND active = $2", column), id, true)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAdNotFound
	}
	return nil
}

// DeactivateExpired switches off active ads whose window ended before now
func (s *Service) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	now = now.UTC().Truncate(time.Microsecond)
	res, err := s.db.ExecContext(ctx,
		"UPDATE ads SET active = $1, updated_at = $2 WHERE active = $3 AND ends_at IS NOT NULL AND ends_at <= $2",
		false, now, true,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired ads: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired ads: %w", err)
	}
	if n > 0 {
		s.logger.WithField("count", n).Info("Deactivated expired ads")
	}
	return n, nil
}
