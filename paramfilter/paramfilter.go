// Package paramfilter deep-filters request parameters against a list of
// sensitive key patterns before they leave the process inside error
// reports.
package paramfilter

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

const (
	// FilteredValue replaces every value whose key matches a pattern.
	FilteredValue = "[FILTERED]"

	maxDepth        = 10
	maxSeqElems     = 100
	truncatedKey    = "__truncated__"
	truncatedReason = "max depth exceeded"
)

// DefaultPatterns are the sensitive key names filtered when a host
// configures nothing else.
var DefaultPatterns = []string{ //nolint:gochecknoglobals // package defaults
	"password",
	"password_confirmation",
	"token",
	"secret",
	"api_key",
	"access_token",
}

// Filterer matches keys against a fixed set of string and regexp patterns.
// A string pattern matches case-insensitively in both substring directions;
// a regexp pattern matches with its own semantics. Filterer is safe for
// concurrent use.
type Filterer struct {
	substrings []string
	regexps    []*regexp.Regexp
}

// New builds a Filterer from string and *regexp.Regexp patterns; values of
// any other type are ignored. With no usable patterns the defaults apply.
func New(patterns ...any) *Filterer {
	f := &Filterer{}

	for _, p := range patterns {
		switch pat := p.(type) {
		case string:
			if pat != "" {
				f.substrings = append(f.substrings, strings.ToLower(pat))
			}
		case *regexp.Regexp:
			if pat != nil {
				f.regexps = append(f.regexps, pat)
			}
		}
	}

	if len(f.substrings) == 0 && len(f.regexps) == 0 {
		f.substrings = lo.Map(DefaultPatterns, func(p string, _ int) string {
			return strings.ToLower(p)
		})
	}

	return f
}

// Default returns a Filterer over the default sensitive key names.
func Default() *Filterer {
	return New()
}

// Matches reports whether key hits any configured pattern.
func (f *Filterer) Matches(key string) bool {
	lower := strings.ToLower(key)
	for _, sub := range f.substrings {
		if strings.Contains(lower, sub) || strings.Contains(sub, lower) {
			return true
		}
	}
	for _, re := range f.regexps {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

// Filter walks params up to 10 levels deep, replacing the value of every
// matching key with "[FILTERED]". Sequences are capped at their first 100
// elements; nested mappings inside sequences are filtered in place. The
// input is never mutated.
func (f *Filterer) Filter(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	return f.filterMap(params, 0)
}

func (f *Filterer) filterMap(params map[string]any, depth int) map[string]any {
	if depth >= maxDepth {
		return map[string]any{truncatedKey: truncatedReason}
	}

	out := make(map[string]any, len(params))
	for key, value := range params {
		switch {
		case f.Matches(key):
			out[key] = FilteredValue
		default:
			out[key] = f.filterValue(value, depth)
		}
	}
	return out
}

func (f *Filterer) filterValue(value any, depth int) any {
	switch v := value.(type) {
	case map[string]any:
		return f.filterMap(v, depth+1)
	case []any:
		elems := lo.Slice(v, 0, maxSeqElems)
		return lo.Map(elems, func(elem any, _ int) any {
			if nested, ok := elem.(map[string]any); ok {
				return f.filterMap(nested, depth+1)
			}
			return elem
		})
	default:
		return value
	}
}
