package observer

import (
	"context"

	"github.com/g960059/tapmon/internal/model"
)

type Processor interface {
	Process(ctx context.Context, raw model.RawEvent) model.Outcome
}

type Stats struct {
	Processed       int
	Counted         int
	Debounced       int
	SelfSource      int
	Ignored         int
	WindowChanges   int
	PromptRequests  int
	PersistFailures int
}

func (s *Stats) Add(out model.Outcome) {
	s.Processed++
	switch out.Decision {
	case model.DecisionCounted:
		s.Counted++
	case model.DecisionDebounced:
		s.Debounced++
	case model.DecisionSelfSource:
		s.SelfSource++
	case model.DecisionIgnored:
		s.Ignored++
	case model.DecisionWindowChange:
		s.WindowChanges++
	}
	if out.PromptRequested {
		s.PromptRequests++
	}
	if out.PersistErr != nil {
		s.PersistFailures++
	}
}

// Run feeds events to p one at a time until the channel closes or ctx is
// done. An event already taken off the channel is always processed to
// completion. onOutcome may be nil.
func Run(ctx context.Context, p Processor, events <-chan model.RawEvent, onOutcome func(model.Outcome)) Stats {
	var stats Stats
	for {
		select {
		case <-ctx.Done():
			return stats
		case ev, ok := <-events:
			if !ok {
				return stats
			}
			out := p.Process(context.WithoutCancel(ctx), ev)
			stats.Add(out)
			if onOutcome != nil {
				onOutcome(out)
			}
		}
	}
}
