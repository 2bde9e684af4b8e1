// Package strutil provides small string helpers for space-delimited OAuth2
// parameter values (scope, response_type, prompt).
package strutil

import "strings"

// SplitFields splits a space-delimited parameter value into its members,
// dropping empty entries and duplicates while preserving order.
func SplitFields(value string) []string {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Join renders a member list back into its space-delimited wire form.
func Join(values []string) string {
	return strings.Join(values, " ")
}
