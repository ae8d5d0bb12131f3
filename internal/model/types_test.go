package model

import "testing"

func TestParseEventTypeNormalizesSpelling(t *testing.T) {
	cases := map[string]EventType{
		"click":                  EventClick,
		"Long-Click":             EventLongClick,
		"item.selected":          EventItemSelected,
		"focus gained":           EventFocusGained,
		"content-region-changed": EventContentChanged,
		"window_changed":         EventWindowChanged,
		"VIEW_CLICKED":           EventClick,
		"window_state_changed":   EventWindowChanged,
		"scrolled":               EventOther,
		"":                       EventOther,
	}
	for in, want := range cases {
		if got := ParseEventType(in); got != want {
			t.Fatalf("ParseEventType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeSource(t *testing.T) {
	if got := NormalizeSource("  com.example.app "); got != "com.example.app" {
		t.Fatalf("unexpected trim result %q", got)
	}
	if got := NormalizeSource(""); got != SourceOther {
		t.Fatalf("blank source should be %q, got %q", SourceOther, got)
	}
}
