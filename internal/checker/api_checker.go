package checker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/couponmesh/registry-node/internal/domain/coupon"
	"github.com/couponmesh/registry-node/internal/domain/site"
)

// APIChecker probes coupons through a site's HTTP check endpoint. The
// site's api_url may carry a {CODE} placeholder that is replaced with
// the URL-encoded coupon code:
//
//	https://example-store.com/apps/coupon-check?code={CODE}
//
// Password-protected storefronts are logged into once per batch and
// the session cookie is reused for the remaining coupons.
type APIChecker struct {
	site               *site.Site
	storefrontPassword string
	client             *http.Client
	loggedIn           bool
	logger             *zap.Logger
	now                func() time.Time
}

func NewAPIChecker(st *site.Site, storefrontPassword string, logger *zap.Logger) *APIChecker {
	jar, _ := cookiejar.New(nil)
	return &APIChecker{
		site:               st,
		storefrontPassword: storefrontPassword,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (c *APIChecker) Check(ctx context.Context, coupons []*coupon.Coupon) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(coupons))
	for _, cp := range coupons {
		result, rule := c.probe(ctx, cp)
		outcomes = append(outcomes, Outcome{Coupon: cp, Result: result, Rule: rule})
	}
	return outcomes, nil
}

// probe checks one coupon. Transport failures and undecidable
// responses both come back Unknown so a flaky endpoint cannot
// invalidate a coupon.
func (c *APIChecker) probe(ctx context.Context, cp *coupon.Coupon) (Result, json.RawMessage) {
	checkURL := c.buildURL(cp)
	if checkURL == "" {
		c.logger.Error("site has no api_url configured", zap.Int64("site_id", c.site.ID))
		return ResultUnknown, nil
	}

	resp, body, err := c.get(ctx, checkURL)
	if err != nil {
		c.logger.Error("coupon check request failed",
			zap.String("code", cp.Code()),
			zap.String("url", checkURL),
			zap.Error(err),
		)
		return ResultUnknown, nil
	}

	if c.looksLikePasswordGate(resp, body) {
		if err := c.storefrontLogin(ctx); err != nil {
			c.logger.Warn("storefront login failed",
				zap.Int64("site_id", c.site.ID),
				zap.Error(err),
			)
			return ResultUnknown, nil
		}
		resp, body, err = c.get(ctx, checkURL)
		if err != nil {
			return ResultUnknown, nil
		}
	}

	var data map[string]any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(body, &data)
	}
	if data == nil {
		_ = json.Unmarshal(body, &data)
	}

	var rule json.RawMessage
	if data != nil {
		if _, ok := data["rule"].(map[string]any); ok {
			rule = json.RawMessage(body)
		}
	}

	switch interpretResponse(string(body), data, c.now()) {
	case boolTrue:
		return ResultValid, rule
	case boolFalse:
		return ResultInvalid, rule
	default:
		c.logger.Debug("coupon check returned no definitive result",
			zap.String("code", cp.Code()),
			zap.Int("status", resp.StatusCode),
		)
		return ResultUnknown, rule
	}
}

func (c *APIChecker) buildURL(cp *coupon.Coupon) string {
	if c.site.APIURL == nil {
		return ""
	}
	template := strings.TrimSpace(*c.site.APIURL)
	if template == "" {
		return ""
	}
	raw := strings.ReplaceAll(template, "{CODE}", url.QueryEscape(cp.Code()))

	// Tag the request with the submitting miner for storefront logs.
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	query := parsed.Query()
	if query.Get("hot_key") == "" {
		query.Set("hot_key", cp.MinerHotkey())
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func (c *APIChecker) get(ctx context.Context, rawURL string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json, text/plain;q=0.8, */*;q=0.5")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func (c *APIChecker) looksLikePasswordGate(resp *http.Response, body []byte) bool {
	if resp.Request != nil && strings.Contains(resp.Request.URL.Path, "/password") {
		return true
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return true
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		snippet := strings.ToLower(string(body[:min(len(body), 1000)]))
		if strings.Contains(snippet, "storefront_password") || strings.Contains(snippet, `name="password"`) {
			return true
		}
	}
	return false
}

// storefrontLogin performs the storefront password handshake: fetch
// the password form, replay its hidden inputs with the password filled
// in, then confirm the gate is gone.
func (c *APIChecker) storefrontLogin(ctx context.Context) error {
	if c.loggedIn {
		return nil
	}
	password := c.resolvePassword()
	if password == "" {
		return errNoStorefrontPassword
	}
	base := c.storeBase()
	if base == "" {
		return errNoStorefrontPassword
	}

	passwordURL := strings.TrimRight(base, "/") + "/password"
	_, formBody, err := c.get(ctx, passwordURL)
	if err != nil {
		return err
	}

	payload := parsePasswordForm(formBody)
	payload.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, passwordURL, strings.NewReader(payload.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", passwordURL)
	req.Header.Set("Origin", base)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	accessResp, _, err := c.get(ctx, strings.TrimRight(base, "/")+"/")
	if err != nil {
		return err
	}
	if accessResp.Request != nil && strings.Contains(accessResp.Request.URL.Path, "/password") {
		return errStorefrontStillGated
	}

	c.logger.Info("storefront login successful", zap.String("base", base))
	c.loggedIn = true
	return nil
}

func (c *APIChecker) resolvePassword() string {
	if c.storefrontPassword != "" {
		return c.storefrontPassword
	}
	if len(c.site.Config) > 0 {
		var cfg map[string]any
		if err := json.Unmarshal(c.site.Config, &cfg); err == nil {
			if pwd, ok := cfg["storefront_password"].(string); ok {
				return pwd
			}
		}
	}
	return ""
}

func (c *APIChecker) storeBase() string {
	if c.site.APIURL == nil {
		return ""
	}
	parsed, err := url.Parse(*c.site.APIURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// parsePasswordForm extracts the hidden inputs of the storefront
// password form so the submission carries any CSRF tokens the theme
// added. Falls back to the canonical field set when no form is found.
func parsePasswordForm(body []byte) url.Values {
	payload := url.Values{}
	payload.Set("form_type", "storefront_password")
	payload.Set("utf8", "✓")

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return payload
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "input" {
			var name, value string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "name":
					name = attr.Val
				case "value":
					value = attr.Val
				}
			}
			if name != "" {
				payload.Set(name, value)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	payload.Set("form_type", firstNonEmpty(payload.Get("form_type"), "storefront_password"))
	payload.Set("utf8", firstNonEmpty(payload.Get("utf8"), "✓"))
	return payload
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
