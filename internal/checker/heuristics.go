package checker

import (
	"errors"
	"strings"
	"time"
)

var (
	errNoStorefrontPassword = errors.New("no storefront password configured")
	errStorefrontStillGated = errors.New("storefront password not accepted")
)

// triBool is a nullable boolean for response interpretation.
type triBool int

const (
	boolUndecided triBool = iota
	boolTrue
	boolFalse
)

// interpretResponse maps a storefront check response to a verdict.
//
// Recognized shapes, in priority order:
//   - explicit validity bounds (starts_at/ends_at, top level or under
//     rule), enforced strictly against now
//   - canonical format {ok: true, applicable: bool}
//   - a status string (valid/applicable/ok/active/enabled vs
//     invalid/not_applicable/error)
//   - boolean-ish candidate keys (couponIsValid, is_valid, isValid,
//     valid, success, result)
//   - as a last resort, exact "true"/"false"/"invalid" body text
//
// A rule with is_for_all_customers=false downgrades any positive
// verdict: such codes are unusable for the network's audience.
func interpretResponse(text string, data map[string]any, now time.Time) triBool {
	if data != nil {
		lowered := make(map[string]any, len(data))
		for k, v := range data {
			lowered[strings.ToLower(k)] = v
		}

		startsAt, endsAt := validityBounds(data)
		if startsAt != nil && now.Before(*startsAt) {
			return boolFalse
		}
		if endsAt != nil && now.After(*endsAt) {
			return boolFalse
		}

		if ok, isOk := lowered["ok"].(bool); isOk && ok {
			if applicable, isBool := lowered["applicable"].(bool); isBool {
				if applicable && violatesAllCustomersRule(data) {
					return boolFalse
				}
				return toTriBool(applicable)
			}
		}

		if status, isStr := lowered["status"].(string); isStr {
			switch strings.ToLower(strings.TrimSpace(status)) {
			case "valid", "applicable", "ok", "active", "enabled":
				if violatesAllCustomersRule(data) {
					return boolFalse
				}
				return boolTrue
			case "invalid", "not_applicable", "error":
				return boolFalse
			}
		}

		for _, key := range []string{"couponisvalid", "is_valid", "isvalid", "valid", "success", "result"} {
			verdict := interpretCandidate(lowered[key])
			if verdict == boolUndecided {
				continue
			}
			if verdict == boolTrue && violatesAllCustomersRule(data) {
				return boolFalse
			}
			return verdict
		}
	}

	switch body := strings.ToLower(strings.TrimSpace(text)); {
	case body == "invalid",
		strings.Contains(body, `"status":"invalid"`),
		strings.Contains(body, `"applicable":false`):
		return boolFalse
	case body == "true":
		return boolTrue
	case body == "false":
		return boolFalse
	case strings.Contains(body, `"applicable":true`):
		return boolTrue
	}
	return boolUndecided
}

func interpretCandidate(value any) triBool {
	switch v := value.(type) {
	case bool:
		return toTriBool(v)
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "valid", "ok", "yes", "1":
			return boolTrue
		case "false", "invalid", "no", "0":
			return boolFalse
		}
	case float64:
		if v == 1 {
			return boolTrue
		}
		if v == 0 {
			return boolFalse
		}
	}
	return boolUndecided
}

func toTriBool(b bool) triBool {
	if b {
		return boolTrue
	}
	return boolFalse
}

// validityBounds pulls starts_at/ends_at from the payload or its rule
// object. Unparseable values are ignored rather than failing the
// verdict.
func validityBounds(data map[string]any) (*time.Time, *time.Time) {
	rule, _ := data["rule"].(map[string]any)

	pick := func(key string) *time.Time {
		if v, ok := data[key].(string); ok {
			if t := parseISOTime(v); t != nil {
				return t
			}
		}
		if rule != nil {
			if v, ok := rule[key].(string); ok {
				return parseISOTime(v)
			}
		}
		return nil
	}
	return pick("starts_at"), pick("ends_at")
}

func parseISOTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func violatesAllCustomersRule(data map[string]any) bool {
	rule, ok := data["rule"].(map[string]any)
	if !ok {
		return false
	}
	isAll, ok := rule["is_for_all_customers"].(bool)
	return ok && !isAll
}
