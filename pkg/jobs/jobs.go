package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/sakconstructions/storefront/pkg/catalog"
	"github.com/sakconstructions/storefront/pkg/config"
	"github.com/sakconstructions/storefront/pkg/observability"
)

// Job names
const (
	ExpirePendingOrdersJob  = "expire-pending-orders"
	DeactivateExpiredAdsJob = "deactivate-expired-ads"
	WarmPlanCacheJob        = "warm-plan-cache"
)

// DefaultTimeout bounds a single job run
const DefaultTimeout = 5 * time.Minute

// warmConcurrency is how many plans WarmPlanCache loads at once
const warmConcurrency = 4

// OrderExpirer expires abandoned checkouts
type OrderExpirer interface {
	ExpireStalePending(ctx context.Context, olderThan time.Duration) (int64, error)
}

// AdDeactivator switches off ads past their end date
type AdDeactivator interface {
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// PlanWarmer reads plans through the catalog cache
type PlanWarmer interface {
	ListPlans(ctx context.Context, req catalog.PlanListRequest) (*catalog.PlanList, error)
	GetPlan(ctx context.Context, id int64, includeUnpublished bool) (*catalog.Plan, error)
}

// Job is one named maintenance task with its cron schedule
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Runner runs jobs with a timeout and panic recovery, on demand or on a cron schedule
type Runner struct {
	jobs    map[string]Job
	timeout time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// NewRunner creates a job runner. metrics may be nil.
func NewRunner(timeout time.Duration, metrics *observability.Metrics, logger *observability.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Runner{
		jobs:    make(map[string]Job),
		timeout: timeout,
		metrics: metrics,
		logger:  logger.WithField("component", "jobs"),
		now:     time.Now,
	}
}

// Register adds a job, replacing any job with the same name
func (r *Runner) Register(job Job) {
	r.jobs[job.Name] = job
}

// Names lists registered jobs in name order
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes one job by name
func (r *Runner) Run(ctx context.Context, name string) error {
	job, ok := r.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return r.run(ctx, job)
}

// RunAll executes every registered job once, in name order, and returns
// the first error after all have run
func (r *Runner) RunAll(ctx context.Context) error {
	var firstErr error
	for _, name := range r.Names() {
		if err := r.run(ctx, r.jobs[name]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Schedule adds every job with a schedule to c
func (r *Runner) Schedule(ctx context.Context, c *cron.Cron) error {
	for _, name := range r.Names() {
		job := r.jobs[name]
		if job.Schedule == "" {
			continue
		}
		if _, err := c.AddFunc(job.Schedule, func() { r.run(ctx, job) }); err != nil {
			return fmt.Errorf("failed to schedule %s (%q): %w", job.Name, job.Schedule, err)
		}
		r.logger.WithField("job", job.Name).WithField("schedule", job.Schedule).Info("Job scheduled")
	}
	return nil
}

func (r *Runner) run(parent context.Context, job Job) (err error) {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	log := r.logger.WithField("job", job.Name)
	start := r.now()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, p)
			log.WithField("stack", string(debug.Stack())).Error("Job panicked")
		}

		status := "success"
		if err != nil {
			status = "error"
			log.WithError(err).Error("Job failed")
		} else {
			log.WithField("duration_ms", r.now().Sub(start).Milliseconds()).Info("Job completed")
		}
		if r.metrics != nil {
			r.metrics.JobRunsTotal.WithLabelValues(job.Name, status).Inc()
		}
	}()

	return job.Run(ctx)
}

// ExpirePendingOrders marks checkouts that were never paid as expired
func ExpirePendingOrders(orders OrderExpirer, ttl time.Duration, schedule string, logger *observability.Logger) Job {
	return Job{
		Name:     ExpirePendingOrdersJob,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			n, err := orders.ExpireStalePending(ctx, ttl)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.WithField("expired", n).WithField("ttl", ttl.String()).Info("Expired stale pending orders")
			}
			return nil
		},
	}
}

// DeactivateExpiredAds switches off ads whose window has ended
func DeactivateExpiredAds(ads AdDeactivator, schedule string, logger *observability.Logger) Job {
	return Job{
		Name:     DeactivateExpiredAdsJob,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			n, err := ads.DeactivateExpired(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			if n > 0 {
				logger.WithField("deactivated", n).Info("Deactivated expired ads")
			}
			return nil
		},
	}
}

// WarmPlanCache loads the storefront's landing queries and every featured
// plan so the first visitors after a deploy or invalidation hit the cache
func WarmPlanCache(plans PlanWarmer, schedule string, logger *observability.Logger) Job {
	return Job{
		Name:     WarmPlanCacheJob,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			featured := true
			list, err := plans.ListPlans(ctx, catalog.PlanListRequest{Featured: &featured, Limit: catalog.MaxLimit})
			if err != nil {
				return fmt.Errorf("failed to list featured plans: %w", err)
			}
			for _, order := range []string{catalog.SortNewest, catalog.SortPopular} {
				if _, err := plans.ListPlans(ctx, catalog.PlanListRequest{Sort: order}); err != nil {
					return fmt.Errorf("failed to warm %s listing: %w", order, err)
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(warmConcurrency)
			for _, p := range list.Items {
				id := p.ID
				g.Go(func() error {
					_, err := plans.GetPlan(gctx, id, false)
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return fmt.Errorf("failed to warm featured plan: %w", err)
			}

			logger.WithField("featured", len(list.Items)).Debug("Plan cache warmed")
			return nil
		},
	}
}

// Deps are the services the standard jobs run against
type Deps struct {
	Orders OrderExpirer
	Ads    AdDeactivator
	Plans  PlanWarmer
	// SharedCache reports whether Plans caches in Redis, where API
	// processes read it. Cache warming is registered only then.
	SharedCache bool
}

// NewStandardRunner registers the storefront's maintenance jobs with their configured schedules
func NewStandardRunner(cfg config.JobsConfig, deps Deps, metrics *observability.Metrics, logger *observability.Logger) *Runner {
	r := NewRunner(DefaultTimeout, metrics, logger)
	r.Register(ExpirePendingOrders(deps.Orders, cfg.PendingOrderTTL, cfg.ExpirePendingSchedule, r.logger))
	r.Register(DeactivateExpiredAds(deps.Ads, cfg.DeactivateAdsSchedule, r.logger))
	if deps.Plans != nil && deps.SharedCache {
		r.Register(WarmPlanCache(deps.Plans, cfg.WarmCacheSchedule, r.logger))
	} else {
		r.logger.Info("No shared plan cache configured, not registering " + WarmPlanCacheJob)
	}
	return r
}
