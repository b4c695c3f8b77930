package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/couponmesh/registry-node/internal/application"
	"github.com/couponmesh/registry-node/internal/domain/metagraph"
)

const defaultPageLimit = 100

// RegistryClient fetches nodes, sites and product categories from the
// chain registry API. All listings are paged with the same envelope.
type RegistryClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewRegistryClient(baseURL string, timeout time.Duration, logger *zap.Logger) *RegistryClient {
	return &RegistryClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type pagedResponse[T any] struct {
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	Total       int  `json:"total"`
	HasNextPage bool `json:"hasNextPage"`
	Data        []T  `json:"data"`
}

type nodeRow struct {
	Hotkey           string  `json:"hotkey"`
	Coldkey          string  `json:"coldkey"`
	Netuid           int     `json:"netuid"`
	AlphaStake       float64 `json:"alpha_stake"`
	TaoStake         float64 `json:"tao_stake"`
	Stake            float64 `json:"stake"`
	IP               string  `json:"ip"`
	IPType           int     `json:"ip_type"`
	Protocol         int     `json:"protocol"`
	Port             int     `json:"port"`
	ValidatorVersion string  `json:"validator_version"`
	IsEnoughWeight   bool    `json:"is_enough_weight"`
}

type siteRow struct {
	StoreID          int64           `json:"store_id"`
	StoreDomain      string          `json:"store_domain"`
	StoreStatus      int             `json:"store_status"`
	MinerHotkey      *string         `json:"miner_hotkey"`
	APIURL           *string         `json:"api_url"`
	Config           json.RawMessage `json:"config"`
	TotalCouponSlots int             `json:"total_coupon_slots"`
}

type categoryRow struct {
	CategoryID   int64  `json:"category_id"`
	CategoryName string `json:"category_name"`
}

func (c *RegistryClient) FetchNodes(ctx context.Context) ([]metagraph.Node, error) {
	rows, err := fetchAllPages[nodeRow](ctx, c, "/nodes")
	if err != nil {
		return nil, err
	}
	nodes := make([]metagraph.Node, len(rows))
	for i, row := range rows {
		nodes[i] = metagraph.Node{
			Hotkey:           row.Hotkey,
			Coldkey:          row.Coldkey,
			Netuid:           row.Netuid,
			AlphaStake:       row.AlphaStake,
			TaoStake:         row.TaoStake,
			Stake:            row.Stake,
			IP:               row.IP,
			IPType:           row.IPType,
			Protocol:         row.Protocol,
			Port:             row.Port,
			ValidatorVersion: row.ValidatorVersion,
			IsEnoughWeight:   row.IsEnoughWeight,
		}
	}
	return nodes, nil
}

func (c *RegistryClient) FetchSites(ctx context.Context) ([]application.RegistrySiteInput, error) {
	rows, err := fetchAllPages[siteRow](ctx, c, "/sites")
	if err != nil {
		return nil, err
	}
	sites := make([]application.RegistrySiteInput, len(rows))
	for i, row := range rows {
		sites[i] = application.RegistrySiteInput{
			StoreID:     row.StoreID,
			StoreDomain: row.StoreDomain,
			StoreStatus: row.StoreStatus,
			MinerHotkey: row.MinerHotkey,
			APIURL:      row.APIURL,
			Config:      row.Config,
			TotalSlots:  row.TotalCouponSlots,
		}
	}
	return sites, nil
}

func (c *RegistryClient) FetchCategories(ctx context.Context) ([]application.RegistryCategoryInput, error) {
	rows, err := fetchAllPages[categoryRow](ctx, c, "/product-categories")
	if err != nil {
		return nil, err
	}
	categories := make([]application.RegistryCategoryInput, len(rows))
	for i, row := range rows {
		categories[i] = application.RegistryCategoryInput{
			ID:   row.CategoryID,
			Name: row.CategoryName,
		}
	}
	return categories, nil
}

func fetchAllPages[T any](ctx context.Context, c *RegistryClient, path string) ([]T, error) {
	var all []T
	for page := 1; ; page++ {
		resp, err := fetchPage[T](ctx, c, path, page)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Data...)
		if !resp.HasNextPage {
			return all, nil
		}
	}
}

func fetchPage[T any](ctx context.Context, c *RegistryClient, path string, page int) (*pagedResponse[T], error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(defaultPageLimit))
	endpoint := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry request %s: unexpected status %d", path, resp.StatusCode)
	}
	var parsed pagedResponse[T]
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("registry response %s: %w", path, err)
	}
	return &parsed, nil
}
