package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/couponmesh/registry-node/internal/domain"
	"github.com/couponmesh/registry-node/internal/domain/metagraph"
)

// NodeModel is the GORM persistence model for the metagraph_nodes
// table, the local mirror of registered network participants.
type NodeModel struct {
	Hotkey           string  `gorm:"primaryKey;type:varchar(64)"`
	Coldkey          string  `gorm:"type:varchar(64);not null"`
	Netuid           int     `gorm:"not null"`
	AlphaStake       float64 `gorm:"not null;default:0"`
	TaoStake         float64 `gorm:"not null;default:0"`
	Stake            float64 `gorm:"not null;default:0"`
	IP               string  `gorm:"type:varchar(45)"`
	IPType           int
	Protocol         int
	Port             int
	ValidatorVersion string `gorm:"type:varchar(32)"`
	IsEnoughWeight   bool   `gorm:"not null;default:false"`
	IsValidator      bool   `gorm:"not null;default:false;index"`
	UpdatedAt        time.Time `gorm:"type:timestamptz;not null"`
}

// TableName specifies the table name for GORM.
func (NodeModel) TableName() string {
	return "metagraph_nodes"
}

// NodeRepositoryImpl is the GORM-based implementation of
// metagraph.NodeRepository.
type NodeRepositoryImpl struct {
	db *gorm.DB
}

// NewNodeRepository creates a new GORM-based metagraph node repository.
func NewNodeRepository(db *gorm.DB) *NodeRepositoryImpl {
	return &NodeRepositoryImpl{db: db}
}

// Upsert inserts or refreshes one mirrored node.
func (r *NodeRepositoryImpl) Upsert(ctx context.Context, node metagraph.Node) error {
	model := nodeToModel(node)
	return dbFrom(ctx, r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hotkey"}},
			UpdateAll: true,
		}).
		Create(&model).Error
}

// FindByHotkey retrieves a node by hotkey.
func (r *NodeRepositoryImpl) FindByHotkey(ctx context.Context, hotkey string) (*metagraph.Node, error) {
	var model NodeModel
	if err := dbFrom(ctx, r.db).Where("hotkey = ?", hotkey).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Node", hotkey)
		}
		return nil, err
	}
	node := nodeToDomain(&model)
	return &node, nil
}

// ListValidators retrieves all mirrored validator nodes.
func (r *NodeRepositoryImpl) ListValidators(ctx context.Context) ([]metagraph.Node, error) {
	var models []NodeModel
	if err := dbFrom(ctx, r.db).Where("is_validator = ?", true).Find(&models).Error; err != nil {
		return nil, err
	}
	return nodesToDomain(models), nil
}

// List retrieves every mirrored node.
func (r *NodeRepositoryImpl) List(ctx context.Context) ([]metagraph.Node, error) {
	var models []NodeModel
	if err := dbFrom(ctx, r.db).Find(&models).Error; err != nil {
		return nil, err
	}
	return nodesToDomain(models), nil
}

// DeleteMissing removes mirrored nodes no longer present on the chain.
func (r *NodeRepositoryImpl) DeleteMissing(ctx context.Context, keepHotkeys []string) error {
	if len(keepHotkeys) == 0 {
		return dbFrom(ctx, r.db).Where("1 = 1").Delete(&NodeModel{}).Error
	}
	return dbFrom(ctx, r.db).Where("hotkey NOT IN ?", keepHotkeys).Delete(&NodeModel{}).Error
}

func nodesToDomain(models []NodeModel) []metagraph.Node {
	nodes := make([]metagraph.Node, len(models))
	for i := range models {
		nodes[i] = nodeToDomain(&models[i])
	}
	return nodes
}

func nodeToDomain(model *NodeModel) metagraph.Node {
	return metagraph.Node{
		Hotkey:           model.Hotkey,
		Coldkey:          model.Coldkey,
		Netuid:           model.Netuid,
		AlphaStake:       model.AlphaStake,
		TaoStake:         model.TaoStake,
		Stake:            model.Stake,
		IP:               model.IP,
		IPType:           model.IPType,
		Protocol:         model.Protocol,
		Port:             model.Port,
		ValidatorVersion: model.ValidatorVersion,
		IsEnoughWeight:   model.IsEnoughWeight,
		IsValidator:      model.IsValidator,
		UpdatedAt:        model.UpdatedAt,
	}
}

func nodeToModel(node metagraph.Node) NodeModel {
	return NodeModel{
		Hotkey:           node.Hotkey,
		Coldkey:          node.Coldkey,
		Netuid:           node.Netuid,
		AlphaStake:       node.AlphaStake,
		TaoStake:         node.TaoStake,
		Stake:            node.Stake,
		IP:               node.IP,
		IPType:           node.IPType,
		Protocol:         node.Protocol,
		Port:             node.Port,
		ValidatorVersion: node.ValidatorVersion,
		IsEnoughWeight:   node.IsEnoughWeight,
		IsValidator:      node.IsValidator,
		UpdatedAt:        node.UpdatedAt,
	}
}
