package store

import (
	"fmt"
	"regexp"
	"strings"
)

// Operator and ClaimMatcher live canonically here (rather than in the
// parent access package) so this package can be a DTO-only leaf with no
// dependency on access's aggregate; access re-exports them as aliases.

// Operator enumerates the comparison an AccessPolicy's ClaimMatcher applies.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpRegex      Operator = "regex"
	OpInList     Operator = "in_list"
)

// ClaimMatcher compares a named JWT claim path against an expected value
// using a named operator (§3 Access Policy).
type ClaimMatcher struct {
	ClaimPath string   `json:"claim_path"`
	Operator  Operator `json:"operator"`
	Expected  any      `json:"expected"`
}

// Matches extracts the claim named by m.ClaimPath from claims (a
// JSON-pointer-like dotted path, §4.3 step 2) and evaluates m.Operator
// against m.Expected.
func (m ClaimMatcher) Matches(claims map[string]any) bool {
	value, ok := ExtractClaim(claims, m.ClaimPath)
	if !ok {
		return false
	}
	switch m.Operator {
	case OpEquals:
		return fmt.Sprintf("%v", value) == fmt.Sprintf("%v", m.Expected)
	case OpContains:
		return containsValue(value, m.Expected)
	case OpStartsWith:
		s, ok := value.(string)
		if !ok {
			return false
		}
		exp, _ := m.Expected.(string)
		return strings.HasPrefix(s, exp)
	case OpRegex:
		s, ok := value.(string)
		if !ok {
			return false
		}
		pattern, _ := m.Expected.(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	case OpInList:
		list, ok := m.Expected.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if fmt.Sprintf("%v", item) == fmt.Sprintf("%v", value) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// ExtractClaim walks a dotted path (e.g. "realm_access.roles") through a
// decoded claims map.
func ExtractClaim(claims map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = claims
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func containsValue(value, expected any) bool {
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			if fmt.Sprintf("%v", item) == fmt.Sprintf("%v", expected) {
				return true
			}
		}
		return false
	case string:
		exp, _ := expected.(string)
		return strings.Contains(v, exp)
	default:
		return false
	}
}
