package classify

import (
	"strings"

	"github.com/g960059/tapmon/internal/model"
)

type Classifier struct {
	OwnSourceID          string
	PromptOnWindowChange bool
}

func New(ownSourceID string) Classifier {
	return Classifier{OwnSourceID: strings.TrimSpace(ownSourceID)}
}

func Classify(raw model.RawEvent) model.Event {
	return model.Event{
		EventID:   raw.EventID,
		Category:  categoryFor(raw.Type),
		SourceID:  model.NormalizeSource(raw.SourceID),
		Timestamp: raw.Timestamp,
	}
}

func categoryFor(t model.EventType) model.Category {
	switch t {
	case model.EventClick, model.EventLongClick, model.EventItemSelected:
		return model.CategoryPrimaryAction
	case model.EventFocusGained:
		return model.CategoryFocusEcho
	case model.EventContentChanged:
		return model.CategoryContentDrift
	case model.EventWindowChanged:
		return model.CategoryWindowChange
	default:
		return model.CategoryIgnored
	}
}

func (c Classifier) IsSelf(ev model.Event) bool {
	return c.OwnSourceID != "" && ev.SourceID == c.OwnSourceID
}

// Eligible reports whether ev may be handed to the debounce gate.
// Window changes are never counted and self-originated events are never
// counted, whatever their category.
func (c Classifier) Eligible(ev model.Event) bool {
	switch ev.Category {
	case model.CategoryPrimaryAction, model.CategoryFocusEcho, model.CategoryContentDrift:
		return !c.IsSelf(ev)
	default:
		return false
	}
}

// TriggersPrompt reports whether ev should move the permission prompt flag.
// The decision is made before debouncing, so a debounced event still counts.
func (c Classifier) TriggersPrompt(ev model.Event) bool {
	if c.Eligible(ev) {
		return true
	}
	if ev.Category != model.CategoryWindowChange || !c.PromptOnWindowChange {
		return false
	}
	if c.IsSelf(ev) {
		return false
	}
	return ev.SourceID != model.SourceUnknown && ev.SourceID != model.SourceOther
}
