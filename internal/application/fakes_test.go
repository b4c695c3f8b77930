package application

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couponmesh/registry-node/internal/auth"
	"github.com/couponmesh/registry-node/internal/domain"
	"github.com/couponmesh/registry-node/internal/domain/coupon"
	"github.com/couponmesh/registry-node/internal/domain/metagraph"
	"github.com/couponmesh/registry-node/internal/domain/ownership"
	"github.com/couponmesh/registry-node/internal/domain/site"
	"github.com/couponmesh/registry-node/internal/domain/syncstate"
)

// newSigner generates a throwaway ed25519 identity with its SS58
// address, so tests exercise the real signature path end to end.
func newSigner(t *testing.T) (string, *auth.Keypair) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	address, err := auth.EncodeSS58(pub, 42)
	require.NoError(t, err)
	kp, err := auth.NewKeypair(address, hex.EncodeToString(priv.Seed()))
	require.NoError(t, err)
	return address, kp
}

func couponMapKey(siteID int64, code, minerHotkey string) string {
	return fmt.Sprintf("%d|%s|%s", siteID, strings.ToLower(code), minerHotkey)
}

// memCouponRepo is an in-memory CouponRepository. It stores snapshots
// and hands out reconstituted copies, like a real row mapper would.
type memCouponRepo struct {
	mu      sync.Mutex
	rows    map[string]coupon.Snapshot
	actions []coupon.ActionLog
}

func newMemCouponRepo() *memCouponRepo {
	return &memCouponRepo{rows: make(map[string]coupon.Snapshot)}
}

func (r *memCouponRepo) put(c *coupon.Coupon) {
	s := c.Snapshot()
	r.rows[couponMapKey(s.SiteID, s.Code, s.MinerHotkey)] = s
}

func (r *memCouponRepo) Save(_ context.Context, c *coupon.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(c)
	return nil
}

func (r *memCouponRepo) Update(_ context.Context, c *coupon.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(c)
	return nil
}

func (r *memCouponRepo) FindByKey(_ context.Context, key coupon.Key) (*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[couponMapKey(key.SiteID, key.Code, key.MinerHotkey)]
	if !ok {
		return nil, domain.NewNotFoundError("coupon", key.String())
	}
	return coupon.Reconstitute(s), nil
}

func (r *memCouponRepo) FindActiveByCode(_ context.Context, siteID int64, code string) (*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		if s.SiteID == siteID && strings.EqualFold(s.Code, code) && s.DeletedAt == nil {
			return coupon.Reconstitute(s), nil
		}
	}
	return nil, nil
}

func (r *memCouponRepo) CountActiveForMiner(_ context.Context, siteID int64, minerHotkey string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.rows {
		if s.SiteID == siteID && s.MinerHotkey == minerHotkey && s.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

func (r *memCouponRepo) CountOccupying(_ context.Context, siteID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.rows {
		if s.SiteID == siteID && coupon.Reconstitute(s).IsActive() {
			n++
		}
	}
	return n, nil
}

func (r *memCouponRepo) List(_ context.Context, filter coupon.ListFilter) ([]*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*coupon.Coupon
	for _, s := range r.rows {
		c := coupon.Reconstitute(s)
		if filter.MinerHotkey != nil && c.MinerHotkey() != *filter.MinerHotkey {
			continue
		}
		if filter.SiteID != nil && c.SiteID() != *filter.SiteID {
			continue
		}
		if filter.Status != nil && c.Status() != *filter.Status {
			continue
		}
		lastActionAt := time.UnixMilli(c.LastActionDate()).UTC()
		if filter.LastActionBefore != nil && !lastActionAt.Before(*filter.LastActionBefore) {
			continue
		}
		if filter.LastActionFrom != nil && !lastActionAt.After(*filter.LastActionFrom) {
			continue
		}
		if filter.UpdatedFrom != nil && !c.UpdatedAt().After(*filter.UpdatedFrom) {
			continue
		}
		if filter.CreatedFrom != nil && !c.CreatedAt().After(*filter.CreatedFrom) {
			continue
		}
		if filter.LastCheckedTo != nil && c.LastCheckedAt() != nil && !c.LastCheckedAt().Before(*filter.LastCheckedTo) {
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		switch filter.SortBy {
		case coupon.SortByCreatedAt:
			return out[i].CreatedAt().Before(out[j].CreatedAt())
		case coupon.SortByLastActionDate:
			return out[i].LastActionDate() < out[j].LastActionDate()
		default:
			return out[i].UpdatedAt().Before(out[j].UpdatedAt())
		}
	})

	if filter.PageSize > 0 {
		page := filter.PageNumber
		if page < 1 {
			page = 1
		}
		start := (page - 1) * filter.PageSize
		if start >= len(out) {
			return nil, nil
		}
		end := start + filter.PageSize
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, nil
}

func (r *memCouponRepo) ListExpired(_ context.Context, now time.Time) ([]*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*coupon.Coupon
	for _, s := range r.rows {
		c := coupon.Reconstitute(s)
		until := c.Attributes().ValidUntil
		if c.IsActive() && until != nil && until.Before(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memCouponRepo) LogAction(_ context.Context, log coupon.ActionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, log)
	return nil
}

// memOwnershipRepo is an in-memory OwnershipRepository.
type memOwnershipRepo struct {
	mu   sync.Mutex
	rows map[string]*ownership.Ownership
}

func newMemOwnershipRepo() *memOwnershipRepo {
	return &memOwnershipRepo{rows: make(map[string]*ownership.Ownership)}
}

func ownershipMapKey(siteID int64, code string) string {
	return fmt.Sprintf("%d|%s", siteID, strings.ToLower(code))
}

func (r *memOwnershipRepo) Save(_ context.Context, o *ownership.Ownership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[ownershipMapKey(o.SiteID(), o.Code())] = o
	return nil
}

func (r *memOwnershipRepo) Update(_ context.Context, o *ownership.Ownership) error {
	return r.Save(context.Background(), o)
}

func (r *memOwnershipRepo) Find(_ context.Context, siteID int64, code string) (*ownership.Ownership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[ownershipMapKey(siteID, code)], nil
}

// memSiteRepo is an in-memory SiteRepository.
type memSiteRepo struct {
	mu   sync.Mutex
	rows map[int64]site.Site
}

func newMemSiteRepo() *memSiteRepo {
	return &memSiteRepo{rows: make(map[int64]site.Site)}
}

func (r *memSiteRepo) Save(_ context.Context, s *site.Site) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[s.ID] = *s
	return nil
}

func (r *memSiteRepo) Update(_ context.Context, s *site.Site) error {
	return r.Save(context.Background(), s)
}

func (r *memSiteRepo) FindByID(_ context.Context, id int64) (*site.Site, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, domain.NewNotFoundError("site", id)
	}
	copied := s
	return &copied, nil
}

func (r *memSiteRepo) List(_ context.Context, pageSize, pageNumber int) ([]*site.Site, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.rows))
	for id := range r.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*site.Site, 0, len(ids))
	for _, id := range ids {
		s := r.rows[id]
		copied := s
		out = append(out, &copied)
	}
	total := int64(len(out))

	if pageSize > 0 {
		if pageNumber < 1 {
			pageNumber = 1
		}
		start := (pageNumber - 1) * pageSize
		if start >= len(out) {
			return nil, total, nil
		}
		end := start + pageSize
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, total, nil
}

// memCategoryRepo is an in-memory CategoryRepository.
type memCategoryRepo struct {
	mu   sync.Mutex
	rows map[int64]site.Category
}

func newMemCategoryRepo() *memCategoryRepo {
	return &memCategoryRepo{rows: make(map[int64]site.Category)}
}

func (r *memCategoryRepo) Upsert(_ context.Context, c *site.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[c.ID] = *c
	return nil
}

func (r *memCategoryRepo) FindByID(_ context.Context, id int64) (*site.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok {
		return nil, domain.NewNotFoundError("category", id)
	}
	copied := c
	return &copied, nil
}

func (r *memCategoryRepo) List(_ context.Context) ([]*site.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*site.Category, 0, len(r.rows))
	for _, c := range r.rows {
		copied := c
		out = append(out, &copied)
	}
	return out, nil
}

// memNodeRepo is an in-memory NodeRepository.
type memNodeRepo struct {
	mu   sync.Mutex
	rows map[string]metagraph.Node
}

func newMemNodeRepo() *memNodeRepo {
	return &memNodeRepo{rows: make(map[string]metagraph.Node)}
}

func (r *memNodeRepo) Upsert(_ context.Context, node metagraph.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[node.Hotkey] = node
	return nil
}

func (r *memNodeRepo) FindByHotkey(_ context.Context, hotkey string) (*metagraph.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.rows[hotkey]
	if !ok {
		return nil, domain.NewNotFoundError("node", hotkey)
	}
	copied := n
	return &copied, nil
}

func (r *memNodeRepo) ListValidators(_ context.Context) ([]metagraph.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []metagraph.Node
	for _, n := range r.rows {
		if n.IsValidator {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hotkey < out[j].Hotkey })
	return out, nil
}

func (r *memNodeRepo) List(_ context.Context) ([]metagraph.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []metagraph.Node
	for _, n := range r.rows {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hotkey < out[j].Hotkey })
	return out, nil
}

func (r *memNodeRepo) DeleteMissing(_ context.Context, keepHotkeys []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	keep := make(map[string]struct{}, len(keepHotkeys))
	for _, hk := range keepHotkeys {
		keep[hk] = struct{}{}
	}
	for hk := range r.rows {
		if _, ok := keep[hk]; !ok {
			delete(r.rows, hk)
		}
	}
	return nil
}

// memStateRepo is an in-memory syncstate.StateRepository.
type memStateRepo struct {
	mu       sync.Mutex
	progress *syncstate.Progress
	result   *syncstate.Result
}

func (r *memStateRepo) GetProgress(_ context.Context) (*syncstate.Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress, nil
}

func (r *memStateRepo) SetProgress(_ context.Context, p *syncstate.Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = p
	return nil
}

func (r *memStateRepo) ClearProgress(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = nil
	return nil
}

func (r *memStateRepo) GetLastResult(_ context.Context) (*syncstate.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, nil
}

func (r *memStateRepo) SetLastResult(_ context.Context, res *syncstate.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result = res
	return nil
}

// memCursorRepo is an in-memory syncstate.CursorRepository.
type memCursorRepo struct {
	mu   sync.Mutex
	rows map[string]syncstate.Cursor
}

func newMemCursorRepo() *memCursorRepo {
	return &memCursorRepo{rows: make(map[string]syncstate.Cursor)}
}

func (r *memCursorRepo) Get(_ context.Context, validatorHotkey string) (*syncstate.Cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[validatorHotkey]
	if !ok {
		return nil, nil
	}
	copied := c
	return &copied, nil
}

func (r *memCursorRepo) Set(_ context.Context, validatorHotkey string, lastActionDate time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[validatorHotkey] = syncstate.Cursor{
		ValidatorHotkey:    validatorHotkey,
		LastActionDate:     &lastActionDate,
		LastSuccessfulSync: time.Now().UTC(),
	}
	return nil
}

// noopTransactor runs the function directly; the fakes have no
// transactional semantics to join.
type noopTransactor struct{}

func (noopTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// capturingPublisher records published events for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	Type string
	Key  string
	Data any
}

func (p *capturingPublisher) Publish(_ context.Context, eventType, key string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Type: eventType, Key: key, Data: data})
}

func (p *capturingPublisher) byType(eventType string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
