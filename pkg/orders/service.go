package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sakconstructions/storefront/pkg/catalog"
	"github.com/sakconstructions/storefront/pkg/database"
	"github.com/sakconstructions/storefront/pkg/observability"
)

const orderSelect = `SELECT o.id, o.user_id, o.plan_id, COALESCE(p.title, ''), o.tier, o.amount, o.currency,
	o.provider, o.payment_reference, o.status, o.email, o.paid_at, o.created_at, o.updated_at
	FROM orders o
	LEFT JOIN plans p ON p.id = o.plan_id`

// topPlans is how many plans Stats ranks
const topPlans = 5

// PlanFiles is the part of the catalog entitlements read from
type PlanFiles interface {
	GetPlanFile(ctx context.Context, fileID int64) (*catalog.PlanFile, error)
	ListPlanFiles(ctx context.Context, planID int64) ([]*catalog.PlanFile, error)
}

// Presigner issues temporary download URLs
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration, filename string) (string, error)
}

// Service manages orders and the downloads they unlock
type Service struct {
	db         *sql.DB
	files      PlanFiles
	presigner  Presigner
	presignTTL time.Duration
	metrics    *observability.Metrics
	logger     *observability.Logger
	now        func() time.Time
}

// NewService creates an order service. metrics may be nil.
func NewService(db *sql.DB, files PlanFiles, presigner Presigner, presignTTL time.Duration, metrics *observability.Metrics, logger *observability.Logger) *Service {
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Service{
		db:         db,
		files:      files,
		presigner:  presigner,
		presignTTL: presignTTL,
		metrics:    metrics,
		logger:     logger.WithField("component", "orders"),
		now:        database.Now,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*Order, error) {
	o := &Order{}
	var paidAt sql.NullTime
	err := row.Scan(&o.ID, &o.UserID, &o.PlanID, &o.PlanTitle, &o.Tier, &o.Amount, &o.Currency,
		&o.Provider, &o.PaymentReference, &o.Status, &o.Email, &paidAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	return o, nil
}

func (s *Service) insert(ctx context.Context, req *CreateOrderRequest, status Status, ignoreConflict bool) (bool, error) {
	if _, err := catalog.ParseTier(string(req.Tier)); err != nil {
		return false, err
	}
	if req.Provider == "" || req.Reference == "" {
		return false, errors.New("provider and payment reference are required")
	}

	now := s.now()
	var paidAt interface{}
	if status == StatusCompleted {
		paidAt = now
	}

	query := `INSERT INTO orders (user_id, plan_id, tier, amount, currency, provider, payment_reference,
			status, email, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`
	if ignoreConflict {
		query += " ON CONFLICT (provider, payment_reference) DO NOTHING"
	}

	res, err := s.db.ExecContext(ctx, query,
		req.UserID, req.PlanID, req.Tier, req.Amount, strings.ToUpper(req.Currency), req.Provider, req.Reference,
		status, strings.ToLower(strings.TrimSpace(req.Email)), paidAt, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create order: %w", err)
	}
	return n > 0, nil
}

// CreatePending records an order awaiting payment
func (s *Service) CreatePending(ctx context.Context, req *CreateOrderRequest) (*Order, error) {
	if _, err := s.insert(ctx, req, StatusPending, false); err != nil {
		return nil, err
	}
	order, err := s.GetByReference(ctx, req.Provider, req.Reference)
	if err != nil {
		return nil, err
	}
	s.recordStatus(order)
	return order, nil
}

// CreateCompleted inserts a paid order, or returns the existing order for
// the same provider reference. created reports whether a row was inserted.
func (s *Service) CreateCompleted(ctx context.Context, req *CreateOrderRequest) (order *Order, created bool, err error) {
	created, err = s.insert(ctx, req, StatusCompleted, true)
	if err != nil {
		return nil, false, err
	}
	order, err = s.GetByReference(ctx, req.Provider, req.Reference)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.recordStatus(order)
	}
	return order, created, nil
}

// GetOrder returns an order by id
func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return s.getOne(ctx, " WHERE o.id = $1", id)
}

// GetByReference returns the order for a provider's payment reference
func (s *Service) GetByReference(ctx context.Context, provider, reference string) (*Order, error) {
	return s.getOne(ctx, " WHERE o.provider = $1 AND o.payment_reference = $2", provider, reference)
}

func (s *Service) getOne(ctx context.Context, where string, args ...interface{}) (*Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, orderSelect+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// Transition moves an order to a new status. Completing an order stamps paid_at.
func (s *Service) Transition(ctx context.Context, id int64, to Status) (*Order, error) {
	if _, err := ParseStatus(string(to)); err != nil {
		return nil, err
	}

	var from Status
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, "SELECT status FROM orders WHERE id = $1", id).Scan(&from)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read order status: %w", err)
		}
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}

		now := s.now()
		query := "UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4"
		if to == StatusCompleted {
			query = "UPDATE orders SET status = $1, updated_at = $2, paid_at = $2 WHERE id = $3 AND status = $4"
		}
		res, err := tx.ExecContext(ctx, query, to, now, id, from)
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// someone else moved it first
			return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, from)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordStatus(order)
	s.logger.WithFields(map[string]interface{}{
		"order_id": id, "from": from, "to": to, "provider": order.Provider,
	}).Info("Order status changed")
	return order, nil
}

func (s *Service) recordStatus(o *Order) {
	if s.metrics == nil {
		return
	}
	s.metrics.OrdersTotal.WithLabelValues(o.Provider, string(o.Status)).Inc()
	if o.Status == StatusCompleted {
		s.metrics.RevenueMinorTotal.WithLabelValues(o.Currency).Add(float64(o.Amount))
	}
}

// ListOrders returns a filtered page of orders, newest first, and the total count
func (s *Service) ListOrders(ctx context.Context, req ListOrdersRequest) ([]*Order, int64, error) {
	var conditions []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if req.Status != "" {
		add("o.status = $%d", req.Status)
	}
	if req.Provider != "" {
		add("o.provider = $%d", req.Provider)
	}
	if req.PlanID > 0 {
		add("o.plan_id = $%d", req.PlanID)
	}
	if req.UserID > 0 {
		add("o.user_id = $%d", req.UserID)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders o"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = catalog.DefaultLimit
	}
	args = append(args, limit, req.Offset)
	query := fmt.Sprintf("%s%s ORDER BY o.created_at DESC, o.id DESC LIMIT $%d OFFSET $%d",
		orderSelect, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	list := []*Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan order: %w", err)
		}
		list = append(list, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read orders: %w", err)
	}
	return list, total, nil
}

// ListUserOrders returns one profile's orders, newest first
func (s *Service) ListUserOrders(ctx context.Context, userID int64, limit, offset int) ([]*Order, int64, error) {
	return s.ListOrders(ctx, ListOrdersRequest{UserID: userID, Limit: limit, Offset: offset})
}

// ExpireStalePending marks pending orders created more than olderThan ago as expired
func (s *Service) ExpireStalePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = $2 WHERE status = $3 AND created_at < $4",
		StatusExpired, now, StatusPending, now.Add(-olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending orders: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending orders: %w", err)
	}
	if n > 0 {
		s.logger.WithField("count", n).Info("Expired stale pending orders")
	}
	return n, nil
}

// Stats summarizes orders, revenue and downloads for the admin dashboard
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		OrdersByStatus:    map[Status]int64{},
		RevenueByCurrency: map[string]int64{},
		TopPlans:          []PlanSales{},
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM orders GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	for rows.Next() {
		var status Status
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order count: %w", err)
		}
		stats.OrdersByStatus[status] = n
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT currency, CAST(SUM(amount) AS BIGINT) FROM orders WHERE status = $1 GROUP BY currency", StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to sum revenue: %w", err)
	}
	for rows.Next() {
		var currency string
		var total int64
		if err := rows.Scan(&currency, &total); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan revenue: %w", err)
		}
		stats.RevenueByCurrency[currency] = total
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to sum revenue: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT o.plan_id, COALESCE(p.title, ''), COUNT(*), CAST(SUM(o.amount) AS BIGINT)
		FROM orders o LEFT JOIN plans p ON p.id = o.plan_id
		WHERE o.status = $1
		GROUP BY o.plan_id, p.title
		ORDER BY COUNT(*) DESC, o.plan_id ASC
		LIMIT $2`, StatusCompleted, topPlans)
	if err != nil {
		return nil, fmt.Errorf("failed to rank plans: %w", err)
	}
	for rows.Next() {
		var ps PlanSales
		if err := rows.Scan(&ps.PlanID, &ps.Title, &ps.Orders, &ps.Revenue); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan plan sales: %w", err)
		}
		stats.TopPlans = append(stats.TopPlans, ps)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to rank plans: %w", err)
	}

	counts := []struct {
		query string
		args  []interface{}
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM downloads", nil, &stats.Downloads},
		{"SELECT COUNT(*) FROM profiles", nil, &stats.Profiles},
		{"SELECT COUNT(*) FROM plans WHERE published = $1", []interface{}{true}, &stats.PublishedPlans},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to read stats: %w", err)
		}
	}
	return stats, nil
}
