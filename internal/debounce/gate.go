package debounce

import (
	"time"

	"github.com/g960059/tapmon/internal/model"
)

// Gate is a single-slot comparator against the last accepted tap. It cannot
// see duplicates more than one acceptance back.
type Gate struct {
	FocusWindow time.Duration
	DriftWindow time.Duration
}

func DefaultGate() Gate {
	return Gate{
		FocusWindow: 300 * time.Millisecond,
		DriftWindow: 1200 * time.Millisecond,
	}
}

// Accept returns the acceptance decision and the memo to carry forward. On
// rejection the input memo is returned unchanged.
func (g Gate) Accept(ev model.Event, memo model.Memo) (bool, model.Memo) {
	switch ev.Category {
	case model.CategoryPrimaryAction:
		return true, remember(ev)
	case model.CategoryFocusEcho:
		if withinWindow(ev, memo, g.FocusWindow) {
			return false, memo
		}
		return true, remember(ev)
	case model.CategoryContentDrift:
		if withinWindow(ev, memo, g.DriftWindow) {
			return false, memo
		}
		return true, remember(ev)
	default:
		return false, memo
	}
}

func (g Gate) windowFor(category model.Category) time.Duration {
	switch category {
	case model.CategoryFocusEcho:
		return g.FocusWindow
	case model.CategoryContentDrift:
		return g.DriftWindow
	default:
		return 0
	}
}

// Remaining reports how long a same-source event of the given category would
// still be suppressed at timestamp now. Zero means it would pass.
func (g Gate) Remaining(category model.Category, memo model.Memo, source string, now int64) time.Duration {
	window := g.windowFor(category)
	if window <= 0 || !memo.Valid || memo.SourceID != source {
		return 0
	}
	elapsed, forward := elapsedMillis(memo.Timestamp, now)
	if !forward {
		return window
	}
	limit := uint64(window.Milliseconds())
	if elapsed >= limit {
		return 0
	}
	return time.Duration(limit-elapsed) * time.Millisecond
}

// A negative delta means the clock ran backwards; it is treated as inside the
// window so a replayed echo cannot be counted twice.
func withinWindow(ev model.Event, memo model.Memo, window time.Duration) bool {
	if !memo.Valid || memo.SourceID != ev.SourceID {
		return false
	}
	elapsed, forward := elapsedMillis(memo.Timestamp, ev.Timestamp)
	if !forward {
		return true
	}
	return elapsed < uint64(window.Milliseconds())
}

// elapsedMillis returns now-then without int64 overflow. forward is false
// when now precedes then.
func elapsedMillis(then, now int64) (uint64, bool) {
	if now < then {
		return 0, false
	}
	return uint64(now) - uint64(then), true
}

func remember(ev model.Event) model.Memo {
	return model.Memo{SourceID: ev.SourceID, Timestamp: ev.Timestamp, Valid: true}
}
