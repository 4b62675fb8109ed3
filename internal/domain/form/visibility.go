package form

import "strings"

// ValueSource supplies the posted values for a component key. Multi-select
// sources return every checked value; single-value sources return zero or
// one entry.
type ValueSource interface {
	Values(key string) []string
}

// MapValues adapts an in-memory answer set to a ValueSource for tests and
// for re-evaluation against stored answers.
type MapValues map[string][]string

func (m MapValues) Values(key string) []string { return m[key] }

// IsVisible evaluates the component's visibility rule against the posted
// values. A component with no rule, no source key or an empty match set is
// always visible. The match succeeds when any posted value of the source
// equals any match value; show_if_match shows on a match, hide_if_match
// hides on a match.
func IsVisible(c *Component, values ValueSource) bool {
	if !c.HasVisibilityRule() {
		return true
	}
	matched := false
	posted := values.Values(c.VisibilitySource)
	for _, want := range c.VisibilityMatch {
		want = strings.TrimSpace(want)
		if want == "" {
			continue
		}
		for _, got := range posted {
			if strings.TrimSpace(got) == want {
				matched = true
				break
			}
		}
		if matched {
			break
		}
	}
	if c.VisibilityMode == VisibilityHideIfMatch {
		return !matched
	}
	return matched
}
