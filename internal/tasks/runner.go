package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/couponmesh/registry-node/internal/application"
	"github.com/couponmesh/registry-node/internal/config"
	"github.com/couponmesh/registry-node/internal/domain/site"
	"github.com/couponmesh/registry-node/internal/syncer"
)

const pollInterval = 2 * time.Second

// task is one periodic job with its own interval. lastRun advances
// even on failure so a broken dependency cannot turn the loop into a
// tight retry.
type task struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
	lastRun  time.Time
}

// Runner executes the maintenance jobs sequentially in a fixed order:
// metagraph nodes, sites, categories, coupon sync, revalidation with
// the expiry sweep, weights. Order matters: admission checks depend on
// a fresh node mirror, and sync needs the peer list before it runs.
type Runner struct {
	registry     application.ChainRegistry
	metagraph    *application.MetagraphService
	sites        *application.SiteService
	categories   site.CategoryRepository
	syncer       *syncer.Syncer
	revalidation *application.RevalidationService
	coupons      *application.CouponService
	weights      *application.WeightService
	firstSync    bool
	tasks        []*task
	logger       *zap.Logger
}

func NewRunner(
	registry application.ChainRegistry,
	metagraphSvc *application.MetagraphService,
	siteSvc *application.SiteService,
	categories site.CategoryRepository,
	sync *syncer.Syncer,
	revalidation *application.RevalidationService,
	coupons *application.CouponService,
	weights *application.WeightService,
	syncCfg config.SyncConfig,
	couponCfg config.CouponConfig,
	weightsCfg config.WeightsConfig,
	logger *zap.Logger,
) *Runner {
	r := &Runner{
		registry:     registry,
		metagraph:    metagraphSvc,
		sites:        siteSvc,
		categories:   categories,
		syncer:       sync,
		revalidation: revalidation,
		coupons:      coupons,
		weights:      weights,
		firstSync:    true,
		logger:       logger,
	}
	r.tasks = []*task{
		{name: "sync_nodes", interval: syncCfg.NodesInterval, run: r.metagraph.SyncNodes},
		{name: "sync_sites", interval: syncCfg.SitesInterval, run: r.syncSites},
		{name: "sync_categories", interval: syncCfg.CategoriesInterval, run: r.syncCategories},
		{name: "sync_coupons", interval: syncCfg.Interval, run: r.syncCoupons},
		{name: "validate_pending", interval: couponCfg.ValidateInterval, run: r.validatePending},
		{name: "validate_outdated", interval: couponCfg.ValidateOutdatedInterval, run: r.revalidation.ValidateOutdated},
		{name: "calculate_weights", interval: weightsCfg.Interval, run: r.calculateWeights},
	}
	return r
}

// Run loops until the context is cancelled, waking every couple of
// seconds to execute due tasks in order.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("task runner started", zap.Int("tasks", len(r.tasks)))
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		for _, t := range r.tasks {
			if time.Since(t.lastRun) < t.interval {
				continue
			}
			r.runTask(ctx, t)
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			r.logger.Info("task runner stopped")
			return
		case <-ticker.C:
		}
	}
}

// runTask executes one task with panic isolation: a crashing job must
// not take the loop down.
func (r *Runner) runTask(ctx context.Context, t *task) {
	defer func() {
		t.lastRun = time.Now()
		if rec := recover(); rec != nil {
			r.logger.Error("task panicked",
				zap.String("task", t.name),
				zap.Any("panic", rec),
			)
		}
	}()

	r.logger.Debug("running task", zap.String("task", t.name))
	if err := t.run(ctx); err != nil {
		r.logger.Error("task failed",
			zap.String("task", t.name),
			zap.Error(err),
		)
	}
}

func (r *Runner) syncSites(ctx context.Context) error {
	fetched, err := r.registry.FetchSites(ctx)
	if err != nil {
		return err
	}
	processed := 0
	for _, input := range fetched {
		if err := r.sites.UpsertFromRegistry(ctx, input); err != nil {
			r.logger.Error("failed to upsert site",
				zap.Int64("store_id", input.StoreID),
				zap.Error(err),
			)
			continue
		}
		processed++
	}
	r.logger.Info("sites synced", zap.Int("count", processed))
	return nil
}

func (r *Runner) syncCategories(ctx context.Context) error {
	fetched, err := r.registry.FetchCategories(ctx)
	if err != nil {
		return err
	}
	for _, input := range fetched {
		if err := r.categories.Upsert(ctx, &site.Category{ID: input.ID, Name: input.Name}); err != nil {
			r.logger.Error("failed to upsert category",
				zap.Int64("category_id", input.ID),
				zap.Error(err),
			)
		}
	}
	r.logger.Info("categories synced", zap.Int("count", len(fetched)))
	return nil
}

// syncCoupons runs the peer sync; the very first successful pass is
// the bootstrap.
func (r *Runner) syncCoupons(ctx context.Context) error {
	err := r.syncer.Run(ctx, r.firstSync)
	if err == nil {
		r.firstSync = false
	}
	return err
}

// validatePending also carries the expiry sweep so overdue coupons
// stop occupying slots on the same cadence as validation.
func (r *Runner) validatePending(ctx context.Context) error {
	if _, err := r.coupons.ExpireOverdue(ctx); err != nil {
		r.logger.Error("expiry sweep failed", zap.Error(err))
	}
	return r.revalidation.ValidatePending(ctx)
}

func (r *Runner) calculateWeights(ctx context.Context) error {
	_, err := r.weights.CalculateWeights(ctx)
	return err
}
