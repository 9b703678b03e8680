// Package enrich derives annotations from probe data: interesting key paths
// in JSON samples and WAF vendor hints in response headers.
package enrich

import (
	"slices"
	"strings"
)

// arrayFanout is how many elements of each array are inspected.
const arrayFanout = 3

// JSONKeys returns the dotted key paths of a decoded JSON value whose names
// suggest credentials, e-mail addresses, identifiers or accounts. Objects
// are walked recursively, arrays only through their first few elements.
// The result is sorted and free of duplicates.
func JSONKeys(v any) []string {
	found := collectKeys(v)
	slices.Sort(found)
	return slices.Compact(found)
}

func collectKeys(v any) []string {
	var found []string
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if interestingKey(k) {
				found = append(found, k)
			}
			for _, sub := range collectKeys(val) {
				found = append(found, k+"."+sub)
			}
		}
	case []any:
		for _, item := range t[:min(len(t), arrayFanout)] {
			found = append(found, collectKeys(item)...)
		}
	}
	return found
}

func interestingKey(k string) bool {
	lk := strings.ToLower(k)
	switch {
	case strings.Contains(lk, "token"), strings.Contains(lk, "auth"):
		return true
	case strings.Contains(lk, "mail"):
		return true
	case lk == "id", strings.HasSuffix(lk, "_id"):
		return true
	case strings.Contains(lk, "user"), strings.Contains(lk, "account"):
		return true
	}
	return false
}
