// Package filter implements the category filter semantics shared by the
// implication repository and the suggestion miner: values prefixed with
// "-" exclude a category outright, plain values form an inclusion set,
// and the "all" sentinel (or no values at all) disables filtering.
package filter

import "strings"

// All is the sentinel value that disables filtering.
const All = "all"

// ExclusionMarker prefixes a filter value that removes a category even
// when inclusion values are present.
const ExclusionMarker = "-"

// CategoryFilter holds parsed inclusion and exclusion sets.
type CategoryFilter struct {
	include map[string]struct{}
	exclude map[string]struct{}
}

// Parse builds a CategoryFilter from raw values. Values may arrive as a
// comma-separated string from a query parameter; commas are split here
// so callers can pass either form.
func Parse(values ...string) CategoryFilter {
	f := CategoryFilter{
		include: make(map[string]struct{}),
		exclude: make(map[string]struct{}),
	}
	for _, raw := range values {
		for _, v := range strings.Split(raw, ",") {
			v = strings.TrimSpace(v)
			if v == "" || v == All {
				continue
			}
			if strings.HasPrefix(v, ExclusionMarker) {
				name := strings.TrimPrefix(v, ExclusionMarker)
				if name != "" {
					f.exclude[name] = struct{}{}
				}
				continue
			}
			f.include[v] = struct{}{}
		}
	}
	return f
}

// Empty reports whether the filter passes everything.
func (f CategoryFilter) Empty() bool {
	return len(f.include) == 0 && len(f.exclude) == 0
}

// Match reports whether a category passes the filter. Exclusions win
// over inclusions; an empty inclusion set admits every non-excluded
// category.
func (f CategoryFilter) Match(category string) bool {
	if _, excluded := f.exclude[category]; excluded {
		return false
	}
	if len(f.include) == 0 {
		return true
	}
	_, ok := f.include[category]
	return ok
}

// Excluded reports whether a category is explicitly excluded.
func (f CategoryFilter) Excluded(category string) bool {
	_, ok := f.exclude[category]
	return ok
}

// Include returns the inclusion set as a slice, for SQL IN clauses.
func (f CategoryFilter) Include() []string {
	out := make([]string, 0, len(f.include))
	for c := range f.include {
		out = append(out, c)
	}
	return out
}

// Exclude returns the exclusion set as a slice.
func (f CategoryFilter) Exclude() []string {
	out := make([]string, 0, len(f.exclude))
	for c := range f.exclude {
		out = append(out, c)
	}
	return out
}
