package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sakconstructions/storefront/pkg/blob"
	"github.com/sakconstructions/storefront/pkg/cache"
	"github.com/sakconstructions/storefront/pkg/database"
	"github.com/sakconstructions/storefront/pkg/observability"
)

// PlanCache is the cache the catalog reads through
type PlanCache = cache.PlanCache[Plan, PlanList]

const planColumns = `p.id, p.slug, p.title, p.description, p.category, p.style, p.bedrooms, p.bathrooms,
	p.floors, p.area_sqft, p.basic_price, p.standard_price, p.premium_price, p.currency, p.images,
	p.featured, p.published, p.download_count, p.created_at, p.updated_at`

const planSelect = `SELECT ` + planColumns + `,
	COALESCE(r.avg_rating, 0), COALESCE(r.review_count, 0)
	FROM plans p
	LEFT JOIN (
		SELECT plan_id, CAST(AVG(rating) AS DOUBLE PRECISION) AS avg_rating, COUNT(*) AS review_count
		FROM reviews GROUP BY plan_id
	) r ON r.plan_id = p.id`

// Page size bounds for list operations
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// recentReviews is how many reviews GetPlanDetail includes
const recentReviews = 10

// Service manages the plan catalog
type Service struct {
	db       *sql.DB
	store    blob.Store
	cache    *PlanCache
	currency string
	logger   *observability.Logger
}

// NewService creates a catalog service. planCache may be nil.
func NewService(db *sql.DB, store blob.Store, planCache *PlanCache, currency string, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Service{
		db:       db,
		store:    store,
		cache:    planCache,
		currency: strings.ToUpper(currency),
		logger:   logger.WithField("component", "catalog"),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row rowScanner) (*Plan, error) {
	p := &Plan{}
	var images string
	err := row.Scan(
		&p.ID, &p.Slug, &p.Title, &p.Description, &p.Category, &p.Style, &p.Bedrooms, &p.Bathrooms,
		&p.Floors, &p.AreaSqft, &p.BasicPrice, &p.StandardPrice, &p.PremiumPrice, &p.Currency, &images,
		&p.Featured, &p.Published, &p.DownloadCount, &p.CreatedAt, &p.UpdatedAt,
		&p.AverageRating, &p.ReviewCount,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(images), &p.Images); err != nil {
		return nil, fmt.Errorf("failed to unmarshal images: %w", err)
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	return p, nil
}

func (s *Service) invalidate(ctx context.Context, planID int64) {
	if s.cache == nil {
		return
	}
	if planID > 0 {
		s.cache.InvalidatePlan(ctx, planID)
	}
	s.cache.InvalidateAll(ctx)
}

// ListPlans returns one page of plans matching req
func (s *Service) ListPlans(ctx context.Context, req PlanListRequest) (*PlanList, error) {
	orderBy, err := sortClause(req.Sort)
	if err != nil {
		return nil, err
	}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	cacheable := s.cache != nil && !req.IncludeUnpublished
	if cacheable {
		if list, ok := s.cache.GetList(ctx, req); ok {
			return list, nil
		}
	}

	var conditions []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if !req.IncludeUnpublished {
		add("p.published = $%d", true)
	}
	if req.Category != "" {
		add("LOWER(p.category) = $%d", strings.ToLower(req.Category))
	}
	if req.Style != "" {
		add("LOWER(p.style) = $%d", strings.ToLower(req.Style))
	}
	if req.MinBedrooms > 0 {
		add("p.bedrooms >= $%d", req.MinBedrooms)
	}
	if req.MaxPrice > 0 {
		add("p.basic_price <= $%d", req.MaxPrice)
	}
	if req.Featured != nil {
		add("p.featured = $%d", *req.Featured)
	}
	if search := strings.TrimSpace(req.Search); search != "" {
		args = append(args, database.ContainsPattern(search))
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(`(LOWER(p.title) LIKE $%d ESCAPE '\' OR LOWER(p.description) LIKE $%d ESCAPE '\')`, n, n))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	list := &PlanList{Items: []*Plan{}}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM plans p"+where, args...).Scan(&list.Total); err != nil {
		return nil, fmt.Errorf("failed to count plans: %w", err)
	}

	args = append(args, req.Limit, req.Offset)
	query := fmt.Sprintf("%s%s ORDER BY %s LIMIT $%d OFFSET $%d", planSelect, where, orderBy, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		list.Items = append(list.Items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read plans: %w", err)
	}

	if cacheable {
		s.cache.SetList(ctx, req, list)
	}
	return list, nil
}

func sortClause(sort string) (string, error) {
	switch sort {
	case "", SortNewest:
		return "p.created_at DESC, p.id DESC", nil
	case SortPriceAsc:
		return "p.basic_price ASC, p.id ASC", nil
	case SortPriceDesc:
		return "p.basic_price DESC, p.id DESC", nil
	case SortPopular:
		return "p.download_count DESC, p.id DESC", nil
	case SortRating:
		return "COALESCE(r.avg_rating, 0) DESC, COALESCE(r.review_count, 0) DESC, p.id DESC", nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSort, sort)
}

// GetPlan returns a plan by id. Unpublished plans are returned only when
// includeUnpublished is set.
func (s *Service) GetPlan(ctx context.Context, id int64, includeUnpublished bool) (*Plan, error) {
	var plan *Plan
	if s.cache != nil {
		plan, _ = s.cache.GetPlan(ctx, id)
	}
	if plan == nil {
		p, err := scanPlan(s.db.QueryRowContext(ctx, planSelect+" WHERE p.id = $1", id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get plan: %w", err)
		}
		plan = p
		if s.cache != nil {
			s.cache.SetPlan(ctx, id, plan)
		}
	}

	if !plan.Published && !includeUnpublished {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}

// GetPlanBySlug returns a plan by slug with the same visibility rule as GetPlan
func (s *Service) GetPlanBySlug(ctx context.Context, slug string, includeUnpublished bool) (*Plan, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM plans WHERE slug = $1", strings.ToLower(slug)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve slug: %w", err)
	}
	return s.GetPlan(ctx, id, includeUnpublished)
}

// GetPlanDetail fetches a plan, its files and its recent reviews concurrently
func (s *Service) GetPlanDetail(ctx context.Context, id int64, includeUnpublished bool) (*PlanDetail, error) {
	detail := &PlanDetail{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		plan, err := s.GetPlan(gctx, id, includeUnpublished)
		detail.Plan = plan
		return err
	})
	g.Go(func() error {
		files, err := s.ListPlanFiles(gctx, id)
		detail.Files = files
		return err
	})
	g.Go(func() error {
		reviews, _, err := s.ListReviews(gctx, id, includeUnpublished, recentReviews, 0)
		detail.Reviews = reviews
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return detail, nil
}

// CreatePlan creates a plan. An empty slug is derived from the title and
// made unique with a numeric suffix.
func (s *Service) CreatePlan(ctx context.Context, req *CreatePlanRequest) (*Plan, error) {
	if err := validatePrices(req.BasicPrice, req.StandardPrice, req.PremiumPrice); err != nil {
		return nil, err
	}

	slug, err := s.resolveSlug(ctx, req.Slug, req.Title, 0)
	if err != nil {
		return nil, err
	}

	images, err := marshalImages(req.Images)
	if err != nil {
		return nil, err
	}

	floors := req.Floors
	if floors == 0 {
		floors = 1
	}

	now := database.Now()
	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO plans (slug, title, description, category, style, bedrooms, bathrooms, floors, area_sqft,
			basic_price, standard_price, premium_price, currency, images, featured, published,
			download_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 0, $17, $17)
		RETURNING id`,
		slug, strings.TrimSpace(req.Title), req.Description, req.Category, req.Style, req.Bedrooms, req.Bathrooms,
		floors, req.AreaSqft, req.BasicPrice, req.StandardPrice, req.PremiumPrice, s.currency, images,
		req.Featured, req.Published, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}

	s.invalidate(ctx, 0)
	s.logger.WithFields(map[string]interface{}{"plan_id": id, "slug": slug}).Info("Plan created")
	return s.GetPlan(ctx, id, true)
}

// UpdatePlan applies a partial update
func (s *Service) UpdatePlan(ctx context.Context, id int64, req *UpdatePlanRequest) (*Plan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx, planSelect+" WHERE p.id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	if req.Slug != nil && *req.Slug != p.Slug {
		slug, err := s.resolveSlug(ctx, *req.Slug, p.Title, id)
		if err != nil {
			return nil, err
		}
		p.Slug = slug
	}
	setString(&p.Title, req.Title)
	setString(&p.Description, req.Description)
	setString(&p.Category, req.Category)
	setString(&p.Style, req.Style)
	setInt(&p.Bedrooms, req.Bedrooms)
	setInt(&p.Bathrooms, req.Bathrooms)
	setInt(&p.Floors, req.Floors)
	setInt(&p.AreaSqft, req.AreaSqft)
	if req.BasicPrice != nil {
		p.BasicPrice = *req.BasicPrice
	}
	if req.StandardPrice != nil {
		p.StandardPrice = *req.StandardPrice
	}
	if req.PremiumPrice != nil {
		p.PremiumPrice = *req.PremiumPrice
	}
	if req.Images != nil {
		p.Images = *req.Images
	}
	if req.Featured != nil {
		p.Featured = *req.Featured
	}
	if req.Published != nil {
		p.Published = *req.Published
	}

	if err := validatePrices(p.BasicPrice, p.StandardPrice, p.PremiumPrice); err != nil {
		return nil, err
	}
	images, err := marshalImages(p.Images)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE plans SET slug = $1, title = $2, description = $3, category = $4, style = $5, bedrooms = $6,
			bathrooms = $7, floors = $8, area_sqft = $9, basic_price = $10, standard_price = $11,
			premium_price = $12, images = $13, featured = $14, published = $15, updated_at = $16
		WHERE id = $17`,
		p.Slug, p.Title, p.Description, p.Category, p.Style, p.Bedrooms, p.Bathrooms, p.Floors, p.AreaSqft,
		p.BasicPrice, p.StandardPrice, p.PremiumPrice, images, p.Featured, p.Published, database.Now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}

	s.invalidate(ctx, id)
	return s.GetPlan(ctx, id, true)
}

// DeletePlan removes a plan that has never been ordered, along with its stored files
func (s *Service) DeletePlan(ctx context.Context, id int64) error {
	var orders int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders WHERE plan_id = $1", id).Scan(&orders); err != nil {
		return fmt.Errorf("failed to count plan orders: %w", err)
	}
	if orders > 0 {
		return ErrPlanHasOrders
	}

	files, err := s.ListPlanFiles(ctx, id)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM plans WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPlanNotFound
	}

	for _, f := range files {
		if err := s.store.Delete(ctx, f.ObjectKey); err != nil {
			s.logger.WithError(err).WithField("object_key", f.ObjectKey).Warn("Failed to delete plan file object")
		}
	}

	s.invalidate(ctx, id)
	s.logger.WithField("plan_id", id).Info("Plan deleted")
	return nil
}

// resolveSlug validates a requested slug or derives one from the title.
// excludeID is the plan being updated, 0 on create.
func (s *Service) resolveSlug(ctx context.Context, requested, title string, excludeID int64) (string, error) {
	if requested != "" {
		slug := generateSlug(requested)
		if slug == "" {
			return "", ErrInvalidSlug
		}
		taken, err := s.slugTaken(ctx, slug, excludeID)
		if err != nil {
			return "", err
		}
		if taken {
			return "", ErrSlugTaken
		}
		return slug, nil
	}

	base := generateSlug(title)
	if base == "" {
		base = "plan"
	}
	slug := base
	for i := 2; ; i++ {
		taken, err := s.slugTaken(ctx, slug, excludeID)
		if err != nil {
			return "", err
		}
		if !taken {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

func (s *Service) slugTaken(ctx context.Context, slug string, excludeID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM plans WHERE slug = $1 AND id <> $2", slug, excludeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return n > 0, nil
}

// generateSlug lowercases, hyphenates and strips everything but [a-z0-9-]
func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Join(strings.Fields(slug), "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	return strings.Trim(slug, "-")
}

func marshalImages(images []string) (string, error) {
	if images == nil {
		images = []string{}
	}
	data, err := json.Marshal(images)
	if err != nil {
		return "", fmt.Errorf("failed to marshal images: %w", err)
	}
	return string(data), nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
