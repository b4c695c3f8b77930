package checker

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/couponmesh/registry-node/internal/domain/coupon"
	"github.com/couponmesh/registry-node/internal/domain/site"
)

// browserScript describes how to drive a storefront checkout page.
// Stored in the site's config JSON under "browser".
type browserScript struct {
	CheckoutURL      string `json:"checkout_url"`
	CodeSelector     string `json:"code_selector"`
	ApplySelector    string `json:"apply_selector"`
	SuccessSelector  string `json:"success_selector"`
	FailureSelector  string `json:"failure_selector"`
	SettleDelayMilli int    `json:"settle_delay_ms"`
}

func (s browserScript) valid() bool {
	return s.CheckoutURL != "" && s.CodeSelector != "" && s.ApplySelector != ""
}

func (s browserScript) settleDelay() time.Duration {
	if s.SettleDelayMilli <= 0 {
		return 2 * time.Second
	}
	return time.Duration(s.SettleDelayMilli) * time.Millisecond
}

// BrowserChecker drives a headless browser through the storefront's
// checkout flow and reads the page's reaction to the code. Used for
// sites without a check API.
type BrowserChecker struct {
	site    *site.Site
	script  browserScript
	timeout time.Duration
	logger  *zap.Logger
}

func NewBrowserChecker(st *site.Site, logger *zap.Logger) (*BrowserChecker, error) {
	var cfg struct {
		Browser browserScript `json:"browser"`
	}
	if err := json.Unmarshal(st.Config, &cfg); err != nil {
		return nil, err
	}
	if !cfg.Browser.valid() {
		return nil, errNoBrowserScript
	}
	return &BrowserChecker{
		site:    st,
		script:  cfg.Browser,
		timeout: 2 * time.Minute,
		logger:  logger,
	}, nil
}

func (c *BrowserChecker) Check(ctx context.Context, coupons []*coupon.Coupon) ([]Outcome, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.NoSandbox,
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	outcomes := make([]Outcome, 0, len(coupons))
	for _, cp := range coupons {
		outcomes = append(outcomes, Outcome{
			Coupon: cp,
			Result: c.probe(allocCtx, cp),
		})
	}
	return outcomes, nil
}

// probe runs one checkout attempt in a fresh tab so a broken page
// cannot poison the next coupon's session.
func (c *BrowserChecker) probe(allocCtx context.Context, cp *coupon.Coupon) Result {
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, c.timeout)
	defer cancelTimeout()

	var bodyText string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(c.script.CheckoutURL),
		chromedp.WaitVisible(c.script.CodeSelector, chromedp.ByQuery),
		chromedp.SendKeys(c.script.CodeSelector, cp.Code(), chromedp.ByQuery),
		chromedp.Click(c.script.ApplySelector, chromedp.ByQuery),
		chromedp.Sleep(c.script.settleDelay()),
		chromedp.Text("body", &bodyText, chromedp.ByQuery),
	)
	if err != nil {
		c.logger.Error("browser check failed",
			zap.String("code", cp.Code()),
			zap.Int64("site_id", c.site.ID),
			zap.Error(err),
		)
		return ResultUnknown
	}

	if c.script.SuccessSelector != "" {
		if visible := c.selectorVisible(tabCtx, c.script.SuccessSelector); visible {
			return ResultValid
		}
	}
	if c.script.FailureSelector != "" {
		if visible := c.selectorVisible(tabCtx, c.script.FailureSelector); visible {
			return ResultInvalid
		}
	}

	lowered := strings.ToLower(bodyText)
	switch {
	case strings.Contains(lowered, "discount applied") || strings.Contains(lowered, "coupon applied"):
		return ResultValid
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "expired") || strings.Contains(lowered, "cannot be applied"):
		return ResultInvalid
	default:
		return ResultUnknown
	}
}

func (c *BrowserChecker) selectorVisible(ctx context.Context, selector string) bool {
	shortCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var text string
	err := chromedp.Run(shortCtx,
		chromedp.Text(selector, &text, chromedp.ByQuery),
	)
	return err == nil && strings.TrimSpace(text) != ""
}
