package model

import (
	"strings"
	"time"
)

// EventType is the raw tag carried by an inbound interaction event.
type EventType string

const (
	EventClick          EventType = "click"
	EventLongClick      EventType = "long_click"
	EventItemSelected   EventType = "item_selected"
	EventFocusGained    EventType = "focus_gained"
	EventContentChanged EventType = "content_changed"
	EventWindowChanged  EventType = "window_changed"
	EventOther          EventType = "other"
)

// Category is the classifier's view of an event.
type Category string

const (
	CategoryPrimaryAction Category = "primary_action"
	CategoryFocusEcho     Category = "focus_echo"
	CategoryContentDrift  Category = "content_drift"
	CategoryWindowChange  Category = "window_change"
	CategoryIgnored       Category = "ignored"
)

const (
	// SourceOther replaces an absent or blank originating process identifier.
	SourceOther = "other"
	// SourceUnknown is what some hosts report for windows without an owner.
	SourceUnknown = "unknown"
)

type Decision string

const (
	DecisionCounted      Decision = "counted"
	DecisionDebounced    Decision = "debounced"
	DecisionSelfSource   Decision = "self_source"
	DecisionIgnored      Decision = "ignored"
	DecisionWindowChange Decision = "window_change"
)

type RawEvent struct {
	EventID    string
	Type       EventType
	SourceID   string
	Timestamp  int64
	ReceivedAt time.Time
}

type Event struct {
	EventID   string
	Category  Category
	SourceID  string
	Timestamp int64
}

// Memo is the most recently accepted tap. Valid is false until the first
// acceptance; a zero Timestamp is a legal accepted value.
type Memo struct {
	SourceID  string
	Timestamp int64
	Valid     bool
}

type CounterState struct {
	TapCount               int64
	PermissionPromptIssued bool
	PromptRequested        bool
	ObserverReady          bool
	Memo                   Memo
}

type Outcome struct {
	Event           Event
	Decision        Decision
	Count           int64
	PromptRequested bool
	PersistErr      error
}

func (o Outcome) Counted() bool {
	return o.Decision == DecisionCounted
}

// ParseEventType maps loosely formatted tags ("long-click", "Focus.Gained")
// onto the known set. Anything unrecognised becomes EventOther.
func ParseEventType(raw string) EventType {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, ".", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	switch EventType(normalized) {
	case EventClick, EventLongClick, EventItemSelected, EventFocusGained, EventContentChanged, EventWindowChanged:
		return EventType(normalized)
	}
	switch normalized {
	case "clicked", "view_clicked":
		return EventClick
	case "long_clicked", "view_long_clicked":
		return EventLongClick
	case "selected", "view_selected":
		return EventItemSelected
	case "focused", "view_focused", "focus":
		return EventFocusGained
	case "content_region_changed", "window_content_changed":
		return EventContentChanged
	case "window_state_changed", "foreground_changed":
		return EventWindowChanged
	}
	return EventOther
}

// NormalizeSource trims the identifier and substitutes SourceOther when absent.
func NormalizeSource(source string) string {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return SourceOther
	}
	return trimmed
}
