package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/couponmesh/registry-node/internal/domain/coupon"
	"github.com/couponmesh/registry-node/internal/domain/site"
)

func testCoupon(code, miner string) *coupon.Coupon {
	return coupon.New(coupon.Key{SiteID: 1, Code: code, MinerHotkey: miner},
		coupon.Attributes{}, coupon.Signing{}, "5Validator", time.Now().UnixMilli(), "sig")
}

func apiSite(serverURL string) *site.Site {
	apiURL := serverURL + "/apps/coupon-check?code={CODE}"
	return &site.Site{ID: 1, BaseURL: "shop.example.com", Status: site.StatusActive, APIURL: &apiURL}
}

func TestAPIChecker_InterpretsResponsesPerCoupon(t *testing.T) {
	var hotkeys []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hotkeys = append(hotkeys, r.URL.Query().Get("hot_key"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("code") {
		case "GOOD":
			fmt.Fprint(w, `{"ok":true,"applicable":true}`)
		case "BAD":
			fmt.Fprint(w, `{"ok":true,"applicable":false}`)
		default:
			fmt.Fprint(w, `{"something":"else"}`)
		}
	}))
	defer server.Close()

	checker := NewAPIChecker(apiSite(server.URL), "", zap.NewNop())
	outcomes, err := checker.Check(context.Background(), []*coupon.Coupon{
		testCoupon("GOOD", "5MinerA"),
		testCoupon("BAD", "5MinerA"),
		testCoupon("SHRUG", "5MinerA"),
	})

	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, ResultValid, outcomes[0].Result)
	assert.Equal(t, ResultInvalid, outcomes[1].Result)
	assert.Equal(t, ResultUnknown, outcomes[2].Result, "undecidable response must not invalidate")
	assert.Equal(t, []string{"5MinerA", "5MinerA", "5MinerA"}, hotkeys, "requests carry the submitting miner")
}

func TestAPIChecker_EncodesCodeInURL(t *testing.T) {
	var gotCode string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCode = r.URL.Query().Get("code")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true,"applicable":true}`)
	}))
	defer server.Close()

	checker := NewAPIChecker(apiSite(server.URL), "", zap.NewNop())
	_, err := checker.Check(context.Background(), []*coupon.Coupon{testCoupon("50%+OFF", "5MinerA")})

	require.NoError(t, err)
	assert.Equal(t, "50%+OFF", gotCode)
}

func TestAPIChecker_CapturesRulePayload(t *testing.T) {
	body := `{"ok":true,"applicable":true,"rule":{"value_type":"percentage","is_for_all_customers":true}}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	checker := NewAPIChecker(apiSite(server.URL), "", zap.NewNop())
	outcomes, err := checker.Check(context.Background(), []*coupon.Coupon{testCoupon("RULED", "5MinerA")})

	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, ResultValid, outcomes[0].Result)
	assert.JSONEq(t, body, string(outcomes[0].Rule))
}

func TestAPIChecker_TransportFailureIsUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	checker := NewAPIChecker(apiSite(server.URL), "", zap.NewNop())
	outcomes, err := checker.Check(context.Background(), []*coupon.Coupon{testCoupon("ANY", "5MinerA")})

	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, ResultUnknown, outcomes[0].Result)
}

// passwordGate simulates a password-protected storefront: every page
// except /password redirects there until the session cookie is set.
type passwordGate struct {
	password  string
	formToken string
	logins    int
}

func (g *passwordGate) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authed := false
		if c, err := r.Cookie("storefront_session"); err == nil && c.Value == "ok" {
			authed = true
		}

		switch {
		case r.URL.Path == "/password" && r.Method == http.MethodGet:
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, `<html><body><form action="/password" method="post">
				<input type="hidden" name="form_type" value="storefront_password"/>
				<input type="hidden" name="authenticity_token" value=%q/>
				<input type="password" name="password"/>
			</form></body></html>`, g.formToken)
		case r.URL.Path == "/password" && r.Method == http.MethodPost:
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, g.formToken, r.PostFormValue("authenticity_token"), "hidden inputs are replayed")
			if r.PostFormValue("password") == g.password {
				g.logins++
				http.SetCookie(w, &http.Cookie{Name: "storefront_session", Value: "ok", Path: "/"})
			}
			http.Redirect(w, r, "/", http.StatusFound)
		case !authed:
			http.Redirect(w, r, "/password", http.StatusFound)
		case r.URL.Path == "/apps/coupon-check":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"ok":true,"applicable":true}`)
		default:
			fmt.Fprint(w, "<html>store</html>")
		}
	}
}

func TestAPIChecker_LogsIntoPasswordProtectedStorefront(t *testing.T) {
	gate := &passwordGate{password: "sesame", formToken: "tok-123"}
	server := httptest.NewServer(gate.handler(t))
	defer server.Close()

	checker := NewAPIChecker(apiSite(server.URL), "sesame", zap.NewNop())
	outcomes, err := checker.Check(context.Background(), []*coupon.Coupon{
		testCoupon("FIRST", "5MinerA"),
		testCoupon("SECOND", "5MinerA"),
	})

	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, ResultValid, outcomes[0].Result)
	assert.Equal(t, ResultValid, outcomes[1].Result)
	assert.Equal(t, 1, gate.logins, "session is reused across the batch")
}

func TestAPIChecker_PasswordFromSiteConfig(t *testing.T) {
	gate := &passwordGate{password: "from-config", formToken: "tok-456"}
	server := httptest.NewServer(gate.handler(t))
	defer server.Close()

	st := apiSite(server.URL)
	st.Config = json.RawMessage(`{"storefront_password":"from-config"}`)

	checker := NewAPIChecker(st, "", zap.NewNop())
	outcomes, err := checker.Check(context.Background(), []*coupon.Coupon{testCoupon("ANY", "5MinerA")})

	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, ResultValid, outcomes[0].Result)
}

func TestAPIChecker_WrongStorefrontPasswordIsUnknown(t *testing.T) {
	gate := &passwordGate{password: "sesame", formToken: "tok-789"}
	server := httptest.NewServer(gate.handler(t))
	defer server.Close()

	checker := NewAPIChecker(apiSite(server.URL), "wrong", zap.NewNop())
	outcomes, err := checker.Check(context.Background(), []*coupon.Coupon{testCoupon("ANY", "5MinerA")})

	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, ResultUnknown, outcomes[0].Result)
}

func TestRandomChecker_Probability(t *testing.T) {
	always := NewRandomChecker(&site.Site{Config: json.RawMessage(`{"valid_coupon_probability":1.0}`)}, 1)
	never := NewRandomChecker(&site.Site{Config: json.RawMessage(`{"valid_coupon_probability":0.0}`)}, 1)

	coupons := []*coupon.Coupon{testCoupon("A", "5M"), testCoupon("B", "5M"), testCoupon("C", "5M")}

	outcomes, err := always.Check(context.Background(), coupons)
	require.NoError(t, err)
	for _, o := range outcomes {
		assert.Equal(t, ResultValid, o.Result)
	}

	outcomes, err = never.Check(context.Background(), coupons)
	require.NoError(t, err)
	for _, o := range outcomes {
		assert.Equal(t, ResultInvalid, o.Result)
	}
}

func TestFactory_SelectionOrder(t *testing.T) {
	factory := NewFactory("", zap.NewNop())
	apiURL := "https://shop.example.com/apps/coupon-check?code={CODE}"

	// API URL present: API checker.
	got, err := factory.ForSite(&site.Site{ID: 1, APIURL: &apiURL})
	require.NoError(t, err)
	assert.IsType(t, &APIChecker{}, got)

	// Probability config only: random checker.
	got, err = factory.ForSite(&site.Site{ID: 2, Config: json.RawMessage(`{"valid_coupon_probability":0.5}`)})
	require.NoError(t, err)
	assert.IsType(t, &RandomChecker{}, got)

	// Nothing usable: error.
	_, err = factory.ForSite(&site.Site{ID: 3})
	assert.ErrorIs(t, err, errNoChecker)
}
