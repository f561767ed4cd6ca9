package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/sakconstructions/storefront/pkg/catalog"
)

// Status is an order's lifecycle state
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusExpired   Status = "expired"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrNotOrderOwner     = errors.New("order belongs to another user")
	ErrOrderNotCompleted = errors.New("order is not completed")
	ErrFileNotInOrder    = errors.New("file does not belong to the ordered plan")
	ErrTierLocked        = errors.New("file tier is not unlocked by this order")
)

// transitions lists the states each state may move to
var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusFailed, StatusExpired},
	StatusCompleted: {StatusRefunded},
}

// ParseStatus validates a status name
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded, StatusExpired:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// CanTransition reports whether an order may move from one status to another
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Order is a purchase of one plan tier
type Order struct {
	ID               int64        `json:"id"`
	UserID           int64        `json:"user_id"`
	PlanID           int64        `json:"plan_id"`
	PlanTitle        string       `json:"plan_title"`
	Tier             catalog.Tier `json:"tier"`
	Amount           int64        `json:"amount"`
	Currency         string       `json:"currency"`
	Provider         string       `json:"provider"`
	PaymentReference string       `json:"payment_reference"`
	Status           Status       `json:"status"`
	Email            string       `json:"email"`
	PaidAt           *time.Time   `json:"paid_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// CreateOrderRequest holds the fields of a new order
type CreateOrderRequest struct {
	UserID    int64
	PlanID    int64
	Tier      catalog.Tier
	Amount    int64
	Currency  string
	Provider  string
	Reference string
	Email     string
}

// ListOrdersRequest filters the admin order listing. Zero values match everything.
type ListOrdersRequest struct {
	Status   Status
	Provider string
	PlanID   int64
	UserID   int64
	Limit    int
	Offset   int
}

// PlanSales summarizes completed orders for one plan
type PlanSales struct {
	PlanID  int64  `json:"plan_id"`
	Title   string `json:"title"`
	Orders  int64  `json:"orders"`
	Revenue int64  `json:"revenue"`
}

// Stats is the admin dashboard summary
type Stats struct {
	OrdersByStatus    map[Status]int64 `json:"orders_by_status"`
	RevenueByCurrency map[string]int64 `json:"revenue_by_currency"`
	TopPlans          []PlanSales      `json:"top_plans"`
	Downloads         int64            `json:"downloads"`
	Profiles          int64            `json:"profiles"`
	PublishedPlans    int64            `json:"published_plans"`
}

// Download is one recorded file download
type Download struct {
	ID        int64        `json:"id"`
	UserID    int64        `json:"user_id"`
	OrderID   int64        `json:"order_id"`
	PlanID    int64        `json:"plan_id"`
	PlanTitle string       `json:"plan_title"`
	FileID    *int64       `json:"file_id"`
	FileName  string       `json:"file_name"`
	Tier      catalog.Tier `json:"tier"`
	CreatedAt time.Time    `json:"created_at"`
}

// DownloadLink is a short-lived URL for one plan file
type DownloadLink struct {
	URL       string            `json:"url"`
	ExpiresAt time.Time         `json:"expires_at"`
	File      *catalog.PlanFile `json:"file"`
}
