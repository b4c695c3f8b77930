package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/couponmesh/registry-node/internal/application"
	"github.com/couponmesh/registry-node/internal/config"
	"github.com/couponmesh/registry-node/internal/domain/metagraph"
	"github.com/couponmesh/registry-node/internal/domain/syncstate"
	"github.com/couponmesh/registry-node/internal/metrics"
	"github.com/couponmesh/registry-node/internal/peer"
)

// Syncer pulls coupon feeds from every other validator and merges them
// through the last-action-wins path. The first run after an empty
// database is a bootstrap: progress is persisted (which suspends local
// submissions), peers are drained sequentially, and peers that are
// themselves bootstrapping are waited out before being read.
type Syncer struct {
	coupons   *application.CouponService
	metagraph *application.MetagraphService
	cursors   syncstate.CursorRepository
	state     syncstate.StateRepository
	client    *peer.Client
	metrics   *metrics.Metrics
	cfg       config.SyncConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewSyncer(
	coupons *application.CouponService,
	metagraphSvc *application.MetagraphService,
	cursors syncstate.CursorRepository,
	state syncstate.StateRepository,
	client *peer.Client,
	m *metrics.Metrics,
	cfg config.SyncConfig,
	logger *zap.Logger,
) *Syncer {
	return &Syncer{
		coupons:   coupons,
		metagraph: metagraphSvc,
		cursors:   cursors,
		state:     state,
		client:    client,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// tally collects run counters. Guarded by its own mutex because
// steady-state runs sync peers concurrently.
type tally struct {
	mu                    sync.Mutex
	responded             int
	validatorsWithCoupons int
	errors                int
	emptyResponses        int
	couponsFetched        int
	couponsSynced         int
}

// Run performs one sync pass over all peers. firstSync selects
// bootstrap behavior.
func (s *Syncer) Run(ctx context.Context, firstSync bool) error {
	peers, err := s.metagraph.PeerValidators(ctx)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		s.logger.Warn("no peer validators found, skipping coupon sync")
		return nil
	}

	if firstSync {
		s.metrics.BootstrapActive.Set(1)
		defer s.metrics.BootstrapActive.Set(0)
		if err := s.initProgress(ctx, peers); err != nil {
			s.logger.Error("failed to initialize sync progress", zap.Error(err))
		}
	}

	counters := &tally{}
	if firstSync {
		// Sequential during bootstrap: progress updates are
		// read-modify-write on a single record.
		for _, node := range peers {
			s.syncPeer(ctx, node, firstSync, counters)
		}
	} else {
		var wg sync.WaitGroup
		for _, node := range peers {
			wg.Add(1)
			go func(node metagraph.Node) {
				defer wg.Done()
				s.syncPeer(ctx, node, false, counters)
			}(node)
		}
		wg.Wait()
	}

	return s.finalize(ctx, len(peers), counters)
}

func (s *Syncer) initProgress(ctx context.Context, peers []metagraph.Node) error {
	progress := &syncstate.Progress{
		StartedAt:       s.now(),
		TotalValidators: len(peers),
		Validators:      make(map[string]syncstate.PeerProgress, len(peers)),
	}
	for _, node := range peers {
		progress.Validators[node.Hotkey] = syncstate.PeerProgress{
			IP:     node.IP,
			Port:   node.Port,
			Status: syncstate.PeerPending,
		}
	}
	s.logger.Info("first coupon sync detected, initialized bootstrap progress",
		zap.Int("validators", len(peers)),
	)
	return s.state.SetProgress(ctx, progress)
}

func (s *Syncer) syncPeer(ctx context.Context, node metagraph.Node, firstSync bool, counters *tally) {
	endpoint := node.Endpoint()
	logger := s.logger.With(zap.String("peer", node.Hotkey), zap.String("endpoint", endpoint))

	var cursor *time.Time
	if stored, err := s.cursors.Get(ctx, node.Hotkey); err != nil {
		logger.Error("failed to load sync cursor", zap.Error(err))
	} else if stored != nil {
		cursor = stored.LastActionDate
	}

	if firstSync {
		s.updatePeerProgress(ctx, node.Hotkey, func(p *syncstate.PeerProgress) {
			p.IP = node.IP
			p.Port = node.Port
			p.Status = syncstate.PeerInProgress
			p.LastSynced = cursor
		})
		if s.cfg.RespectPeerSync {
			s.waitForPeerBootstrap(ctx, endpoint, logger)
		}
	}

	responded := false
	hadCoupons := false
	fetched := 0
	merged := 0

	for {
		batch, err := s.client.FetchCoupons(ctx, endpoint, cursor, 1)
		if err != nil {
			logger.Error("failed to fetch coupons from peer", zap.Error(err))
			s.metrics.SyncErrors.Inc()
			counters.mu.Lock()
			counters.errors++
			counters.mu.Unlock()
			if firstSync {
				s.updatePeerProgress(ctx, node.Hotkey, func(p *syncstate.PeerProgress) {
					p.Status = syncstate.PeerError
					p.Error = err.Error()
				})
			}
			return
		}
		if !responded {
			responded = true
			counters.mu.Lock()
			counters.responded++
			counters.mu.Unlock()
		}

		if len(batch) == 0 {
			if !hadCoupons {
				logger.Warn("peer returned no coupons")
				counters.mu.Lock()
				counters.emptyResponses++
				counters.mu.Unlock()
			}
			break
		}
		if !hadCoupons {
			hadCoupons = true
			counters.mu.Lock()
			counters.validatorsWithCoupons++
			counters.mu.Unlock()
		}

		logger.Info("processing coupons from peer", zap.Int("count", len(batch)))
		s.metrics.SyncFetched.Add(float64(len(batch)))
		applied := s.coupons.MergeRemoteBatch(ctx, batch, node.Hotkey)

		fetched += len(batch)
		merged += applied
		counters.mu.Lock()
		counters.couponsFetched += len(batch)
		counters.couponsSynced += applied
		counters.mu.Unlock()

		// Advance the cursor to the newest action seen so equal
		// timestamps are not refetched forever.
		maxAction := batch[0].LastActionAt
		for _, record := range batch[1:] {
			if record.LastActionAt.After(maxAction) {
				maxAction = record.LastActionAt
			}
		}
		if err := s.cursors.Set(ctx, node.Hotkey, maxAction); err != nil {
			logger.Error("failed to store sync cursor", zap.Error(err))
		}
		cursor = &maxAction
	}

	if firstSync && responded {
		s.updatePeerProgress(ctx, node.Hotkey, func(p *syncstate.PeerProgress) {
			p.Status = syncstate.PeerDone
			p.CouponsFetched = fetched
			p.CouponsSynced = merged
			p.LastSynced = cursor
		})
	}
}

// waitForPeerBootstrap polls the peer's sync info and holds off while
// it reports an in-flight bootstrap, so we do not read a feed that is
// still being assembled. Unreachable peers fall through to the fetch
// path, which handles the failure.
func (s *Syncer) waitForPeerBootstrap(ctx context.Context, endpoint string, logger *zap.Logger) {
	deadline := s.now().Add(s.cfg.PreflightMaxWait)
	for s.now().Before(deadline) {
		info, err := s.client.FetchSyncInfo(ctx, endpoint)
		if err == nil && !info.InBootstrap() {
			return
		}
		if err == nil {
			logger.Info("peer is bootstrapping, waiting before sync")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.PreflightInterval):
		}
	}
}

func (s *Syncer) updatePeerProgress(ctx context.Context, hotkey string, mutate func(*syncstate.PeerProgress)) {
	progress, err := s.state.GetProgress(ctx)
	if err != nil || progress == nil {
		return
	}
	if progress.Validators == nil {
		progress.Validators = map[string]syncstate.PeerProgress{}
	}
	entry := progress.Validators[hotkey]
	mutate(&entry)
	progress.Validators[hotkey] = entry
	if err := s.state.SetProgress(ctx, progress); err != nil {
		s.logger.Error("failed to update sync progress",
			zap.String("peer", hotkey),
			zap.Error(err),
		)
	}
}

// finalize stores the run summary and clears the bootstrap record,
// re-enabling local submissions.
func (s *Syncer) finalize(ctx context.Context, totalPeers int, counters *tally) error {
	status := "ok"
	switch {
	case counters.errors > 0:
		status = "error"
	case counters.couponsSynced == 0 && counters.validatorsWithCoupons == 0:
		status = "empty"
	}

	result := &syncstate.Result{
		FinishedAt:           s.now(),
		Status:               status,
		ValidatorsTotal:      totalPeers,
		RespondedValidators:  counters.responded,
		ValidatorsWithCoupon: counters.validatorsWithCoupons,
		Errors:               counters.errors,
		EmptyResponses:       counters.emptyResponses,
		CouponsFetched:       counters.couponsFetched,
		CouponsSynced:        counters.couponsSynced,
	}
	if err := s.state.SetLastResult(ctx, result); err != nil {
		s.logger.Error("failed to store sync result", zap.Error(err))
	}
	if err := s.state.ClearProgress(ctx); err != nil {
		s.logger.Error("failed to clear sync progress", zap.Error(err))
		return err
	}

	s.metrics.SyncRuns.WithLabelValues(status).Inc()
	s.logger.Info("coupon sync finished",
		zap.String("status", status),
		zap.Int("validators", totalPeers),
		zap.Int("fetched", counters.couponsFetched),
		zap.Int("synced", counters.couponsSynced),
		zap.Int("errors", counters.errors),
	)
	return nil
}
