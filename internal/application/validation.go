package application

import (
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/couponmesh/registry-node/internal/domain"
)

// reservedCodeChars are the URL-reserved characters a coupon code may
// not contain.
const reservedCodeChars = "/?#[]@!$&'()*+,;="

// iso3166Alpha2 is the embedded set of valid ISO 3166-1 alpha-2
// country codes.
var iso3166Alpha2 = func() map[string]struct{} {
	codes := strings.Fields(`
		AD AE AF AG AI AL AM AO AQ AR AS AT AU AW AX AZ BA BB BD BE BF BG
		BH BI BJ BL BM BN BO BQ BR BS BT BV BW BY BZ CA CC CD CF CG CH CI
		CK CL CM CN CO CR CU CV CW CX CY CZ DE DJ DK DM DO DZ EC EE EG EH
		ER ES ET FI FJ FK FM FO FR GA GB GD GE GF GG GH GI GL GM GN GP GQ
		GR GS GT GU GW GY HK HM HN HR HT HU ID IE IL IM IN IO IQ IR IS IT
		JE JM JO JP KE KG KH KI KM KN KP KR KW KY KZ LA LB LC LI LK LR LS
		LT LU LV LY MA MC MD ME MF MG MH MK ML MM MN MO MP MQ MR MS MT MU
		MV MW MX MY MZ NA NC NE NF NG NI NL NO NP NR NU NZ OM PA PE PF PG
		PH PK PL PM PN PR PS PT PW PY QA RE RO RS RU RW SA SB SC SD SE SG
		SH SI SJ SK SL SM SN SO SR SS ST SV SX SY SZ TC TD TF TG TH TJ TK
		TL TM TN TO TR TT TV TW TZ UA UG UM US UY UZ VA VC VE VG VI VN VU
		WF WS YE YT ZA ZM ZW
	`)
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}()

// validateCode enforces the coupon code rules: 1..100 characters,
// letters of any language and digits allowed, no whitespace, none of
// the URL-reserved characters.
func validateCode(code string) error {
	if len(code) == 0 || len(code) > 100 {
		return domain.NewValidationError("coupon code must be between 1 and 100 characters")
	}
	for _, ch := range code {
		if unicode.IsSpace(ch) {
			return domain.NewValidationError("coupon code must not contain whitespace")
		}
		if strings.ContainsRune(reservedCodeChars, ch) {
			return domain.NewValidationError("coupon code contains forbidden URL-reserved characters")
		}
	}
	return nil
}

// validateCountryCode accepts nil or a valid ISO 3166-1 alpha-2 code
// and returns the upper-cased form.
func validateCountryCode(code *string) (*string, error) {
	if code == nil {
		return nil, nil
	}
	upper := strings.ToUpper(*code)
	if _, ok := iso3166Alpha2[upper]; !ok {
		return nil, domain.NewValidationError("country code must be a valid ISO 3166-1 alpha-2 code")
	}
	return &upper, nil
}

// validateProductURL checks that rawURL parses and its host equals the
// site's base domain or a subdomain of it.
func validateProductURL(rawURL, baseDomain string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return domain.NewValidationError("used_on_product_url must be a valid http(s) URL")
	}
	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	base := strings.TrimSuffix(strings.ToLower(baseDomain), ".")
	if host != base && !strings.HasSuffix(host, "."+base) {
		return domain.NewValidationError("used_on_product_url %s is not valid for site %s", rawURL, baseDomain)
	}
	return nil
}

// parseValidUntil accepts nil or an ISO timestamp that lies in the
// future. Naive timestamps are treated as UTC.
func parseValidUntil(value *string, now time.Time) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	raw := *value
	var parsed time.Time
	var err error
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		parsed, err = time.Parse(layout, raw)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, domain.NewValidationError("valid_until must be a valid ISO format datetime string")
	}
	parsed = parsed.UTC()
	if parsed.Before(now) {
		return nil, domain.NewValidationError("valid_until must be in the future")
	}
	return &parsed, nil
}
