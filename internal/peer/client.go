package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couponmesh/registry-node/internal/application"
	"github.com/couponmesh/registry-node/internal/auth"
)

// SyncInfo is a peer's answer to GET /info/sync: a non-nil progress
// means the peer is still bootstrapping and its feed is incomplete.
type SyncInfo struct {
	Progress   json.RawMessage `json:"progress"`
	LastResult json.RawMessage `json:"last_result"`
}

// InBootstrap reports whether the peer is inside its first sync.
func (s SyncInfo) InBootstrap() bool {
	return len(s.Progress) > 0 && string(s.Progress) != "null"
}

// Client fetches coupon feeds from other validators. Requests carry a
// signed Authorization header so peers lift the submit-window filter
// for us.
type Client struct {
	client   *http.Client
	keypair  *auth.Keypair
	pageSize int
	now      func() time.Time
}

func NewClient(keypair *auth.Keypair, timeout time.Duration, pageSize int) *Client {
	return &Client{
		client:   &http.Client{Timeout: timeout},
		keypair:  keypair,
		pageSize: pageSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FetchCoupons retrieves one page of the peer's feed ordered by
// last_action_date, starting strictly after the cursor.
func (c *Client) FetchCoupons(ctx context.Context, endpoint string, lastActionFrom *time.Time, pageNumber int) ([]application.CouponDTO, error) {
	query := url.Values{}
	query.Set("sort_by", "last_action_date")
	query.Set("page_size", strconv.Itoa(c.pageSize))
	query.Set("page_number", strconv.Itoa(pageNumber))
	if lastActionFrom != nil {
		query.Set("last_action_from", lastActionFrom.UTC().Format(time.RFC3339Nano))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/v1/coupons?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	header, err := c.keypair.SignPeerAuth(c.now().UnixMilli())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", header)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer feed %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	var envelope struct {
		Data []application.CouponDTO `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("peer feed %s: %w", endpoint, err)
	}
	return envelope.Data, nil
}

// FetchSyncInfo asks the peer whether it is mid-bootstrap.
func (c *Client) FetchSyncInfo(ctx context.Context, endpoint string) (*SyncInfo, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint+"/info/sync", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer sync info %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	var info SyncInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}
