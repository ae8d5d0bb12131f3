package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/g960059/tapmon/internal/classify"
	"github.com/g960059/tapmon/internal/config"
	"github.com/g960059/tapmon/internal/counter"
	"github.com/g960059/tapmon/internal/debounce"
	"github.com/g960059/tapmon/internal/logging"
	"github.com/g960059/tapmon/internal/model"
)

// Engine runs classify -> eligibility -> debounce -> persist for one event at
// a time. The memo lives in process; the store only mirrors it.
type Engine struct {
	mu           sync.Mutex
	store        *counter.Store
	classifier   classify.Classifier
	gate         debounce.Gate
	logger       *slog.Logger
	memo         model.Memo
	promptIssued bool
	now          func() time.Time
}

func NewEngine(store *counter.Store, cfg config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	classifier := classify.New(cfg.OwnSourceID)
	classifier.PromptOnWindowChange = cfg.PromptOnWindowChange
	return &Engine{
		store:      store,
		classifier: classifier,
		gate:       debounce.Gate{FocusWindow: cfg.FocusWindow, DriftWindow: cfg.DriftWindow},
		logger:     logger,
		now:        time.Now,
	}
}

// Restore loads the persisted memo and prompt flag, for use after a restart.
func (e *Engine) Restore(ctx context.Context) model.Memo {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.memo = e.store.LoadMemo(ctx)
	e.promptIssued = e.store.IsPermissionPromptIssued(ctx)
	if e.memo.Valid {
		e.logger.Info("restored debounce memo", "source", e.memo.SourceID, "ts", e.memo.Timestamp)
	}
	return e.memo
}

func (e *Engine) Memo() model.Memo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.memo
}

// Process handles one raw event to completion. Persistence failures are
// logged and reported on the outcome, never returned: the engine prefers
// dropping a tap to counting one twice.
func (e *Engine) Process(ctx context.Context, raw model.RawEvent) model.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	if raw.EventID == "" {
		raw.EventID = uuid.NewString()
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = e.now().UTC()
	}
	ev := classify.Classify(raw)
	out := model.Outcome{Event: ev}
	log := e.logger.With("event_id", ev.EventID, "category", string(ev.Category), "source", ev.SourceID, "ts", ev.Timestamp)

	switch {
	case ev.Category == model.CategoryIgnored:
		out.Decision = model.DecisionIgnored
		return out
	case ev.Category == model.CategoryWindowChange:
		out.Decision = model.DecisionWindowChange
		if e.classifier.IsSelf(ev) || ev.SourceID == model.SourceUnknown {
			log.Debug("window changed to own or unknown app")
		} else {
			log.Debug("window changed to foreign app")
		}
		e.checkPrompt(ctx, ev, &out, log)
		return out
	case !e.classifier.Eligible(ev):
		out.Decision = model.DecisionSelfSource
		log.Debug("self-originated event excluded")
		return out
	}

	e.checkPrompt(ctx, ev, &out, log)

	accepted, next := e.gate.Accept(ev, e.memo)
	if !accepted {
		out.Decision = model.DecisionDebounced
		log.Debug("event debounced",
			"last_source", e.memo.SourceID,
			"last_ts", e.memo.Timestamp,
			"suppressed_for", e.gate.Remaining(ev.Category, e.memo, ev.SourceID, ev.Timestamp),
		)
		return out
	}

	// Memo first: a failure after this point under-counts instead of
	// opening a fresh debounce window for the same tap.
	e.memo = next
	out.Decision = model.DecisionCounted
	if err := e.store.SaveMemo(ctx, next); err != nil {
		log.Error("persist debounce memo failed", "err", err)
		out.PersistErr = err
	}
	count, err := e.store.Increment(ctx)
	if err != nil {
		log.Error("persist tap count failed", "err", err)
		out.PersistErr = errors.Join(out.PersistErr, err)
	}
	out.Count = count
	log.Debug("tap counted", "count", count)
	return out
}

func (e *Engine) checkPrompt(ctx context.Context, ev model.Event, out *model.Outcome, log *slog.Logger) {
	if e.promptIssued || !e.classifier.TriggersPrompt(ev) {
		return
	}
	changed, err := e.store.MarkPermissionPromptIssued(ctx)
	if err != nil {
		log.Error("persist permission prompt failed", "err", err)
		out.PersistErr = errors.Join(out.PersistErr, err)
		return
	}
	e.promptIssued = true
	if changed {
		out.PromptRequested = true
		log.Info("foreign-app interaction observed, permission prompt requested")
	}
}
