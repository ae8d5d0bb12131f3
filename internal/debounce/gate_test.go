package debounce

import (
	"math"
	"testing"
	"time"

	"github.com/g960059/tapmon/internal/model"
)

func ev(category model.Category, source string, ts int64) model.Event {
	return model.Event{Category: category, SourceID: source, Timestamp: ts}
}

func run(g Gate, events ...model.Event) (int, model.Memo) {
	var memo model.Memo
	accepted := 0
	for _, e := range events {
		ok, next := g.Accept(e, memo)
		if ok {
			accepted++
		}
		memo = next
	}
	return accepted, memo
}

func TestPrimaryActionIsNeverDebounced(t *testing.T) {
	g := DefaultGate()
	got, memo := run(g,
		ev(model.CategoryPrimaryAction, "a", 0),
		ev(model.CategoryPrimaryAction, "a", 0),
		ev(model.CategoryPrimaryAction, "a", 1),
		ev(model.CategoryPrimaryAction, "b", 2),
	)
	if got != 4 {
		t.Fatalf("expected every primary action accepted, got %d", got)
	}
	if memo != (model.Memo{SourceID: "b", Timestamp: 2, Valid: true}) {
		t.Fatalf("memo should track last acceptance, got %+v", memo)
	}
}

func TestFocusEchoWindowBoundary(t *testing.T) {
	g := DefaultGate()
	cases := []struct {
		delta int64
		want  int
	}{
		{0, 1},
		{100, 1},
		{299, 1},
		{300, 2},
		{301, 2},
	}
	for _, tc := range cases {
		got, _ := run(g, ev(model.CategoryFocusEcho, "a", 1000), ev(model.CategoryFocusEcho, "a", 1000+tc.delta))
		if got != tc.want {
			t.Fatalf("delta=%d: accepted %d, want %d", tc.delta, got, tc.want)
		}
	}
}

func TestContentDriftWindowBoundary(t *testing.T) {
	g := DefaultGate()
	cases := []struct {
		delta int64
		want  int
	}{
		{400, 1},
		{1199, 1},
		{1200, 2},
	}
	for _, tc := range cases {
		got, _ := run(g, ev(model.CategoryContentDrift, "b", 0), ev(model.CategoryContentDrift, "b", tc.delta))
		if got != tc.want {
			t.Fatalf("delta=%d: accepted %d, want %d", tc.delta, got, tc.want)
		}
	}
}

func TestContentDriftBurstScenario(t *testing.T) {
	g := Gate{FocusWindow: 300 * time.Millisecond, DriftWindow: 1200 * time.Millisecond}
	got, memo := run(g,
		ev(model.CategoryContentDrift, "B", 0),
		ev(model.CategoryContentDrift, "B", 400),
		ev(model.CategoryContentDrift, "B", 1300),
	)
	if got != 2 {
		t.Fatalf("expected 2 accepted, got %d", got)
	}
	if memo.Timestamp != 1300 {
		t.Fatalf("memo should hold last accepted timestamp, got %+v", memo)
	}
}

func TestDifferentSourceIsNotSuppressed(t *testing.T) {
	g := DefaultGate()
	got, _ := run(g,
		ev(model.CategoryFocusEcho, "a", 0),
		ev(model.CategoryFocusEcho, "b", 10),
		ev(model.CategoryContentDrift, "c", 20),
	)
	if got != 3 {
		t.Fatalf("expected 3 accepted, got %d", got)
	}
}

func TestFocusEchoAfterPrimaryActionCollapses(t *testing.T) {
	g := DefaultGate()
	got, _ := run(g,
		ev(model.CategoryPrimaryAction, "a", 0),
		ev(model.CategoryFocusEcho, "a", 100),
	)
	if got != 1 {
		t.Fatalf("click-then-focus pair should count once, got %d", got)
	}
}

func TestRejectionLeavesMemoUnchanged(t *testing.T) {
	g := DefaultGate()
	memo := model.Memo{SourceID: "a", Timestamp: 500, Valid: true}
	ok, next := g.Accept(ev(model.CategoryFocusEcho, "a", 600), memo)
	if ok {
		t.Fatalf("expected rejection")
	}
	if next != memo {
		t.Fatalf("memo changed on rejection: %+v", next)
	}
}

func TestZeroTimestampMemoStillSuppresses(t *testing.T) {
	g := DefaultGate()
	memo := model.Memo{SourceID: "a", Timestamp: 0, Valid: true}
	if ok, _ := g.Accept(ev(model.CategoryFocusEcho, "a", 10), memo); ok {
		t.Fatalf("a memo at t=0 is valid and should suppress")
	}
	if ok, _ := g.Accept(ev(model.CategoryFocusEcho, "a", 10), model.Memo{}); !ok {
		t.Fatalf("an empty memo should never suppress")
	}
}

func TestBackwardsClockIsInsideWindow(t *testing.T) {
	g := DefaultGate()
	memo := model.Memo{SourceID: "a", Timestamp: 5000, Valid: true}
	if ok, _ := g.Accept(ev(model.CategoryContentDrift, "a", 1000), memo); ok {
		t.Fatalf("out-of-order drift should not be counted again")
	}
}

func TestExtremeTimestampsDoNotWrap(t *testing.T) {
	g := DefaultGate()
	tests := []struct {
		name string
		memo int64
		ts   int64
		want bool
	}{
		{"far past memo", math.MinInt64, math.MaxInt64, true},
		{"memo just below zero", -1, math.MaxInt64, true},
		{"far future memo", math.MaxInt64, math.MinInt64, false},
		{"max timestamps inside window", math.MaxInt64 - 100, math.MaxInt64, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memo := model.Memo{SourceID: "a", Timestamp: tt.memo, Valid: true}
			ok, _ := g.Accept(ev(model.CategoryContentDrift, "a", tt.ts), memo)
			if ok != tt.want {
				t.Fatalf("Accept = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestNonCountableCategoriesAreRejected(t *testing.T) {
	g := DefaultGate()
	for _, c := range []model.Category{model.CategoryWindowChange, model.CategoryIgnored} {
		if ok, memo := g.Accept(ev(c, "a", 0), model.Memo{}); ok || memo.Valid {
			t.Fatalf("category %q should be rejected without memo change", c)
		}
	}
}

func TestRemaining(t *testing.T) {
	g := DefaultGate()
	memo := model.Memo{SourceID: "a", Timestamp: 1000, Valid: true}
	if got := g.Remaining(model.CategoryContentDrift, memo, "a", 1400); got != 800*time.Millisecond {
		t.Fatalf("unexpected remaining drift window: %v", got)
	}
	if got := g.Remaining(model.CategoryFocusEcho, memo, "a", 1400); got != 0 {
		t.Fatalf("focus window should be elapsed, got %v", got)
	}
	if got := g.Remaining(model.CategoryContentDrift, memo, "b", 1001); got != 0 {
		t.Fatalf("other source is never suppressed, got %v", got)
	}
	if got := g.Remaining(model.CategoryPrimaryAction, memo, "a", 1001); got != 0 {
		t.Fatalf("primary actions have no window, got %v", got)
	}
	if got := g.Remaining(model.CategoryContentDrift, memo, "a", 500); got != 1200*time.Millisecond {
		t.Fatalf("backwards clock should report the full window, got %v", got)
	}
	far := model.Memo{SourceID: "a", Timestamp: math.MinInt64, Valid: true}
	if got := g.Remaining(model.CategoryContentDrift, far, "a", math.MaxInt64); got != 0 {
		t.Fatalf("extreme gap should not wrap, got %v", got)
	}
}
