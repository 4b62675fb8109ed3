package form

import "testing"

func TestIsVisibleNoRule(t *testing.T) {
	vals := MapValues{}
	if !IsVisible(&Component{Key: "a"}, vals) {
		t.Fatal("component without rule must be visible")
	}
	if !IsVisible(&Component{Key: "a", VisibilitySource: "b"}, vals) {
		t.Fatal("empty match set must leave the component visible")
	}
	if !IsVisible(&Component{Key: "a", VisibilityMatch: []string{"x"}}, vals) {
		t.Fatal("missing source must leave the component visible")
	}
}

func TestIsVisibleShowIfMatch(t *testing.T) {
	c := &Component{
		Key:              "extra",
		VisibilitySource: "choice",
		VisibilityMode:   VisibilityShowIfMatch,
		VisibilityMatch:  []string{"Other", "Custom"},
	}
	if !IsVisible(c, MapValues{"choice": {"Other"}}) {
		t.Fatal("matching value must show")
	}
	if IsVisible(c, MapValues{"choice": {"Standard"}}) {
		t.Fatal("non-matching value must hide")
	}
	if IsVisible(c, MapValues{"choice": nil}) {
		t.Fatal("unanswered source must hide under show_if_match")
	}
}

func TestIsVisibleHideIfMatch(t *testing.T) {
	c := &Component{
		Key:              "extra",
		VisibilitySource: "choice",
		VisibilityMode:   VisibilityHideIfMatch,
		VisibilityMatch:  []string{"None"},
	}
	if IsVisible(c, MapValues{"choice": {"None"}}) {
		t.Fatal("matching value must hide")
	}
	if !IsVisible(c, MapValues{"choice": {"Some"}}) {
		t.Fatal("non-matching value must show")
	}
}

func TestIsVisibleMultiValueSource(t *testing.T) {
	c := &Component{
		Key:              "extra",
		VisibilitySource: "tags",
		VisibilityMode:   VisibilityShowIfMatch,
		VisibilityMatch:  []string{"b"},
	}
	if !IsVisible(c, MapValues{"tags": {"a", "b", "c"}}) {
		t.Fatal("any checked value matching must show")
	}
	if IsVisible(c, MapValues{"tags": {"a", "c"}}) {
		t.Fatal("no checked value matching must hide")
	}
}

func TestIsVisibleTrimsValues(t *testing.T) {
	c := &Component{
		Key:              "extra",
		VisibilitySource: "choice",
		VisibilityMode:   VisibilityShowIfMatch,
		VisibilityMatch:  []string{" Yes "},
	}
	if !IsVisible(c, MapValues{"choice": {"Yes "}}) {
		t.Fatal("comparison must trim both sides")
	}
}
