package console

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yourusername/unreal-server-manager/internal/logbuffer"
)

// Filter types accepted by NewOutputFilter.
const (
	FilterNone     = "none"
	FilterErrors   = "errors"
	FilterWarnings = "warnings"
	FilterSearch   = "search"
	FilterRegex    = "regex"
)

// OutputFilter selects captured lines for display
type OutputFilter struct {
	FilterType    string
	Pattern       string
	CaseSensitive bool
	regex         *regexp.Regexp
}

// FilterResult represents the result of filtering a line
type FilterResult struct {
	Include   bool
	Highlight []int // Start/end byte offsets of the match
}

// NewOutputFilter creates a new output filter
func NewOutputFilter(filterType, pattern string, caseSensitive bool) (*OutputFilter, error) {
	if filterType == "" {
		filterType = FilterNone
	}

	filter := &OutputFilter{
		FilterType:    filterType,
		Pattern:       pattern,
		CaseSensitive: caseSensitive,
	}

	switch filterType {
	case FilterNone, FilterErrors, FilterWarnings, FilterSearch:
	case FilterRegex:
		if pattern != "" {
			flags := ""
			if !caseSensitive {
				flags = "(?i)"
			}
			compiled, err := regexp.Compile(flags + pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern: %w", err)
			}
			filter.regex = compiled
		}
	default:
		return nil, fmt.Errorf("unknown filter type %q", filterType)
	}

	return filter, nil
}

// Filter applies the filter to one entry
func (f *OutputFilter) Filter(entry logbuffer.Entry) FilterResult {
	result := FilterResult{Include: true}

	switch f.FilterType {
	case FilterErrors:
		result.Include = entry.Level == logbuffer.LevelError
		return result

	case FilterWarnings:
		result.Include = entry.Level == logbuffer.LevelError || entry.Level == logbuffer.LevelWarning
		return result

	case FilterSearch:
		if f.Pattern == "" {
			return result
		}

		line := entry.Text
		pattern := f.Pattern
		if !f.CaseSensitive {
			line = strings.ToLower(line)
			pattern = strings.ToLower(pattern)
		}

		if idx := strings.Index(line, pattern); idx >= 0 {
			result.Highlight = []int{idx, idx + len(pattern)}
		} else {
			result.Include = false
		}
		return result

	case FilterRegex:
		if f.regex == nil {
			return result
		}

		if match := f.regex.FindStringIndex(entry.Text); match != nil {
			result.Highlight = match
		} else {
			result.Include = false
		}
		return result

	default:
		return result
	}
}

// Apply returns the matching entries, keeping their order. limit > 0 keeps
// only the newest matches.
func (f *OutputFilter) Apply(entries []logbuffer.Entry, limit int) []logbuffer.Entry {
	filtered := make([]logbuffer.Entry, 0, len(entries))
	for _, entry := range entries {
		if f.Filter(entry).Include {
			filtered = append(filtered, entry)
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}
