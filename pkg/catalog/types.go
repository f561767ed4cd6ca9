package catalog

import (
	"errors"
	"fmt"
	"time"
)

// Tier is a price tier; higher tiers unlock more plan files
type Tier string

const (
	TierBasic    Tier = "basic"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// Tiers lists all tiers from lowest to highest
var Tiers = []Tier{TierBasic, TierStandard, TierPremium}

var (
	ErrPlanNotFound   = errors.New("plan not found")
	ErrFileNotFound   = errors.New("plan file not found")
	ErrReviewNotFound = errors.New("review not found")
	ErrInvalidTier    = errors.New("invalid tier")
	ErrInvalidPrices  = errors.New("prices must be non-negative and basic <= standard <= premium")
	ErrSlugTaken      = errors.New("slug already in use")
	ErrInvalidSlug    = errors.New("slug must contain letters or digits")
	ErrPlanHasOrders  = errors.New("plan has orders; unpublish it instead")
	ErrNotReviewOwner = errors.New("only the author or an admin can delete a review")
	ErrInvalidSort    = errors.New("invalid sort")
	ErrInvalidRating  = errors.New("rating must be between 1 and 5")
)

// ParseTier validates a tier name
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierBasic, TierStandard, TierPremium:
		return Tier(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
}

// Rank orders tiers: basic < standard < premium
func (t Tier) Rank() int {
	switch t {
	case TierBasic:
		return 1
	case TierStandard:
		return 2
	case TierPremium:
		return 3
	}
	return 0
}

// Plan is a sellable house plan
type Plan struct {
	ID            int64     `json:"id"`
	Slug          string    `json:"slug"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	Style         string    `json:"style"`
	Bedrooms      int       `json:"bedrooms"`
	Bathrooms     int       `json:"bathrooms"`
	Floors        int       `json:"floors"`
	AreaSqft      int       `json:"area_sqft"`
	BasicPrice    int64     `json:"basic_price"`
	StandardPrice int64     `json:"standard_price"`
	PremiumPrice  int64     `json:"premium_price"`
	Currency      string    `json:"currency"`
	Images        []string  `json:"images"`
	Featured      bool      `json:"featured"`
	Published     bool      `json:"published"`
	DownloadCount int64     `json:"download_count"`
	AverageRating float64   `json:"average_rating"`
	ReviewCount   int64     `json:"review_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PriceFor returns the plan's price for a tier in minor units
func (p *Plan) PriceFor(t Tier) (int64, error) {
	switch t {
	case TierBasic:
		return p.BasicPrice, nil
	case TierStandard:
		return p.StandardPrice, nil
	case TierPremium:
		return p.PremiumPrice, nil
	}
	return 0, ErrInvalidTier
}

func validatePrices(basic, standard, premium int64) error {
	if basic < 0 || standard < basic || premium < standard {
		return ErrInvalidPrices
	}
	return nil
}

// PlanFile is a downloadable file attached to a plan tier
type PlanFile struct {
	ID          int64     `json:"id"`
	PlanID      int64     `json:"plan_id"`
	Tier        Tier      `json:"tier"`
	Name        string    `json:"name"`
	ObjectKey   string    `json:"-"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// Review is a buyer's rating of a plan
type Review struct {
	ID               int64     `json:"id"`
	PlanID           int64     `json:"plan_id"`
	UserID           int64     `json:"user_id"`
	AuthorName       string    `json:"author_name"`
	Rating           int       `json:"rating"`
	Comment          string    `json:"comment"`
	VerifiedPurchase bool      `json:"verified_purchase"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PlanDetail is a plan with its file listing and most recent reviews
type PlanDetail struct {
	Plan    *Plan       `json:"plan"`
	Files   []*PlanFile `json:"files"`
	Reviews []*Review   `json:"reviews"`
}

// Sort orders for ListPlans
const (
	SortNewest    = "newest"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortPopular   = "popular"
	SortRating    = "rating"
)

// PlanListRequest filters and pages the plan catalog
type PlanListRequest struct {
	Category    string `json:"category,omitempty"`
	Style       string `json:"style,omitempty"`
	MinBedrooms int    `json:"min_bedrooms,omitempty"`
	// MaxPrice applies to the basic price
	MaxPrice           int64  `json:"max_price,omitempty"`
	Featured           *bool  `json:"featured,omitempty"`
	Search             string `json:"search,omitempty"`
	Sort               string `json:"sort,omitempty"`
	Limit              int    `json:"limit"`
	Offset             int    `json:"offset"`
	IncludeUnpublished bool   `json:"include_unpublished,omitempty"`
}

// PlanList is one page of plans plus the total match count
type PlanList struct {
	Items []*Plan `json:"items"`
	Total int64   `json:"total"`
}

// CreatePlanRequest creates a plan
type CreatePlanRequest struct {
	Slug          string   `json:"slug" yaml:"slug" validate:"omitempty,max=255"`
	Title         string   `json:"title" yaml:"title" validate:"required,max=255"`
	Description   string   `json:"description" yaml:"description"`
	Category      string   `json:"category" yaml:"category" validate:"max=64"`
	Style         string   `json:"style" yaml:"style" validate:"max=64"`
	Bedrooms      int      `json:"bedrooms" yaml:"bedrooms" validate:"min=0"`
	Bathrooms     int      `json:"bathrooms" yaml:"bathrooms" validate:"min=0"`
	Floors        int      `json:"floors" yaml:"floors" validate:"min=0"`
	AreaSqft      int      `json:"area_sqft" yaml:"area_sqft" validate:"min=0"`
	BasicPrice    int64    `json:"basic_price" yaml:"basic_price" validate:"min=0"`
	StandardPrice int64    `json:"standard_price" yaml:"standard_price" validate:"min=0"`
	PremiumPrice  int64    `json:"premium_price" yaml:"premium_price" validate:"min=0"`
	Images        []string `json:"images" yaml:"images" validate:"dive,url"`
	Featured      bool     `json:"featured" yaml:"featured"`
	Published     bool     `json:"published" yaml:"published"`
}

// UpdatePlanRequest is a partial plan update; nil fields are left unchanged
type UpdatePlanRequest struct {
	Slug          *string   `json:"slug" validate:"omitempty,min=1,max=255"`
	Title         *string   `json:"title" validate:"omitempty,min=1,max=255"`
	Description   *string   `json:"description"`
	Category      *string   `json:"category" validate:"omitempty,max=64"`
	Style         *string   `json:"style" validate:"omitempty,max=64"`
	Bedrooms      *int      `json:"bedrooms" validate:"omitempty,min=0"`
	Bathrooms     *int      `json:"bathrooms" validate:"omitempty,min=0"`
	Floors        *int      `json:"floors" validate:"omitempty,min=0"`
	AreaSqft      *int      `json:"area_sqft" validate:"omitempty,min=0"`
	BasicPrice    *int64    `json:"basic_price" validate:"omitempty,min=0"`
	StandardPrice *int64    `json:"standard_price" validate:"omitempty,min=0"`
	PremiumPrice  *int64    `json:"premium_price" validate:"omitempty,min=0"`
	Images        *[]string `json:"images" validate:"omitempty,dive,url"`
	Featured      *bool     `json:"featured"`
	Published     *bool     `json:"published"`
}

// ReviewRequest creates or replaces the caller's review of a plan
type ReviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}
