package metagraph

import (
	"context"
	"fmt"
	"time"
)

// Node is a registered network participant mirrored from the chain
// registry. A node with enough stake acts as a validator; everything
// else is a miner for admission purposes.
type Node struct {
	Hotkey           string
	Coldkey          string
	Netuid           int
	AlphaStake       float64
	TaoStake         float64
	Stake            float64
	IP               string
	IPType           int
	Protocol         int
	Port             int
	ValidatorVersion string
	IsEnoughWeight   bool
	IsValidator      bool
	UpdatedAt        time.Time
}

// Endpoint renders the node's peer API base URL.
func (n Node) Endpoint() string {
	if n.IP == "" || n.Port == 0 {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", n.IP, n.Port)
}

// NodeRepository defines persistence operations for the local
// metagraph mirror.
type NodeRepository interface {
	Upsert(ctx context.Context, node Node) error
	FindByHotkey(ctx context.Context, hotkey string) (*Node, error)
	ListValidators(ctx context.Context) ([]Node, error)
	List(ctx context.Context) ([]Node, error)
	DeleteMissing(ctx context.Context, keepHotkeys []string) error
}
