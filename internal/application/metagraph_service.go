package application

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/couponmesh/registry-node/internal/domain"
	"github.com/couponmesh/registry-node/internal/domain/metagraph"
)

// ChainRegistry is the outbound port to the chain registry API.
// Satisfied by chain.RegistryClient.
type ChainRegistry interface {
	FetchNodes(ctx context.Context) ([]metagraph.Node, error)
	FetchSites(ctx context.Context) ([]RegistrySiteInput, error)
	FetchCategories(ctx context.Context) ([]RegistryCategoryInput, error)
}

// RegistryCategoryInput is a category row as served by the chain
// registry.
type RegistryCategoryInput struct {
	ID   int64
	Name string
}

// MetagraphService mirrors the chain registry's node table locally so
// admission checks and peer discovery never block on the registry API.
type MetagraphService struct {
	nodes     metagraph.NodeRepository
	registry  ChainRegistry
	ownHotkey string
	minStake  float64
	logger    *zap.Logger
}

func NewMetagraphService(
	nodes metagraph.NodeRepository,
	registry ChainRegistry,
	ownHotkey string,
	minStake float64,
	logger *zap.Logger,
) *MetagraphService {
	return &MetagraphService{
		nodes:     nodes,
		registry:  registry,
		ownHotkey: ownHotkey,
		minStake:  minStake,
		logger:    logger,
	}
}

// SyncNodes refreshes the local mirror from the chain registry. Nodes
// no longer present on chain are removed so deregistered hotkeys lose
// submission rights immediately.
func (s *MetagraphService) SyncNodes(ctx context.Context) error {
	fetched, err := s.registry.FetchNodes(ctx)
	if err != nil {
		return err
	}

	hotkeys := make([]string, 0, len(fetched))
	for _, node := range fetched {
		node.IsValidator = node.Stake >= s.minStake
		if err := s.nodes.Upsert(ctx, node); err != nil {
			return err
		}
		hotkeys = append(hotkeys, node.Hotkey)
	}
	if err := s.nodes.DeleteMissing(ctx, hotkeys); err != nil {
		return err
	}

	s.logger.Info("metagraph nodes synced", zap.Int("count", len(fetched)))
	return nil
}

// PeerValidators returns reachable validators other than this node,
// the peer set for coupon synchronization.
func (s *MetagraphService) PeerValidators(ctx context.Context) ([]metagraph.Node, error) {
	validators, err := s.nodes.ListValidators(ctx)
	if err != nil {
		return nil, err
	}
	peers := make([]metagraph.Node, 0, len(validators))
	for _, v := range validators {
		if v.Hotkey == s.ownHotkey || v.Endpoint() == "" {
			continue
		}
		peers = append(peers, v)
	}
	return peers, nil
}

// IsKnownValidator reports whether the hotkey belongs to a registered
// validator, used to grant peers the submit-window feed bypass.
func (s *MetagraphService) IsKnownValidator(ctx context.Context, hotkey string) (bool, error) {
	node, err := s.nodes.FindByHotkey(ctx, hotkey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return node.IsValidator, nil
}
