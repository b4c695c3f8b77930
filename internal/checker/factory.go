package checker

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/couponmesh/registry-node/internal/domain/site"
)

var (
	errNoBrowserScript = errors.New("site config has no usable browser script")
	errNoChecker       = errors.New("site has no api_url or checker config")
)

// Factory builds the checker for a site from its config. Selection
// order: an explicit browser script wins, then the check API, then the
// probabilistic stub for sites flagged as test sites.
type Factory struct {
	storefrontPassword string
	logger             *zap.Logger
}

func NewFactory(storefrontPassword string, logger *zap.Logger) *Factory {
	return &Factory{storefrontPassword: storefrontPassword, logger: logger}
}

func (f *Factory) ForSite(st *site.Site) (Checker, error) {
	if hasBrowserScript(st) {
		browser, err := NewBrowserChecker(st, f.logger)
		if err == nil {
			return browser, nil
		}
		f.logger.Warn("browser script misconfigured, falling back",
			zap.Int64("site_id", st.ID),
			zap.Error(err),
		)
	}
	if st.APIURL != nil && *st.APIURL != "" {
		return NewAPIChecker(st, f.storefrontPassword, f.logger), nil
	}
	if hasRandomConfig(st) {
		return NewRandomChecker(st, time.Now().UnixNano()), nil
	}
	return nil, errNoChecker
}

func hasBrowserScript(st *site.Site) bool {
	if len(st.Config) == 0 {
		return false
	}
	var cfg struct {
		Browser *browserScript `json:"browser"`
	}
	if err := json.Unmarshal(st.Config, &cfg); err != nil {
		return false
	}
	return cfg.Browser != nil && cfg.Browser.valid()
}

func hasRandomConfig(st *site.Site) bool {
	if len(st.Config) == 0 {
		return false
	}
	var cfg struct {
		ValidCouponProbability *float64 `json:"valid_coupon_probability"`
	}
	if err := json.Unmarshal(st.Config, &cfg); err != nil {
		return false
	}
	return cfg.ValidCouponProbability != nil
}
