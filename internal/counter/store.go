package counter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/g960059/tapmon/internal/logging"
	"github.com/g960059/tapmon/internal/model"
	"github.com/g960059/tapmon/internal/prefs"
)

// Keys are shared with the collaborator that renders the count and drives the
// permission flow.
type Keys struct {
	TapCount      string
	PromptIssued  string
	PromptRequest string
	LastTapSource string
	LastTapTime   string
	ObserverReady string
}

func KeysWithPrefix(prefix string) Keys {
	return Keys{
		TapCount:      prefix + "monitoring_tapCount",
		PromptIssued:  prefix + "accessibility_permission_requested",
		PromptRequest: prefix + "should_request_accessibility",
		LastTapSource: prefix + "last_tap_package",
		LastTapTime:   prefix + "last_tap_time",
		ObserverReady: prefix + "accessibility_service_ready",
	}
}

// Store wraps a prefs backend with the counter's tolerant read path. All
// read-modify-write cycles hold mu so concurrent readers never see a torn
// count.
type Store struct {
	mu      sync.Mutex
	backend prefs.Backend
	keys    Keys
	logger  *slog.Logger
}

func NewStore(backend prefs.Backend, keys Keys, logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Store{backend: backend, keys: keys, logger: logger}
}

func (s *Store) Keys() Keys {
	return s.keys
}

// Read never fails; anything it cannot decode is reported as 0.
func (s *Store) Read(ctx context.Context) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readCountLocked(ctx)
}

func (s *Store) readCountLocked(ctx context.Context) int64 {
	v, ok, err := s.backend.Get(ctx, s.keys.TapCount)
	if err != nil {
		s.logger.Warn("read tap count failed", "key", s.keys.TapCount, "err", err)
		return 0
	}
	if !ok {
		return 0
	}
	n, strategy, ok := DecodeCount(v)
	if !ok {
		s.logger.Warn("undecodable tap count", "key", s.keys.TapCount, "kind", string(v.Kind), "value", v.String())
		return 0
	}
	if strategy != DecodeStrategies[0].Name {
		s.logger.Debug("tap count read from alternate encoding", "strategy", strategy, "count", n)
	}
	return n
}

// Increment replaces the stored count with read()+1 as a native integer.
func (s *Store) Increment(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.readCountLocked(ctx) + 1
	if err := s.backend.Apply(ctx, []prefs.Write{prefs.Put(s.keys.TapCount, prefs.Int(next))}); err != nil {
		return next - 1, fmt.Errorf("persist tap count: %w", err)
	}
	return next, nil
}

func (s *Store) IsPermissionPromptIssued(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readFlagLocked(ctx, s.keys.PromptIssued)
}

// MarkPermissionPromptIssued performs the one-way NotRequested -> Requested
// transition and raises the request signal for the collaborator. It reports
// whether this call made the transition.
func (s *Store) MarkPermissionPromptIssued(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readFlagLocked(ctx, s.keys.PromptIssued) {
		return false, nil
	}
	err := s.backend.Apply(ctx, []prefs.Write{
		prefs.Put(s.keys.PromptIssued, prefs.Bool(true)),
		prefs.Put(s.keys.PromptRequest, prefs.Bool(true)),
	})
	if err != nil {
		return false, fmt.Errorf("persist permission prompt: %w", err)
	}
	return true, nil
}

func (s *Store) IsPromptRequested(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readFlagLocked(ctx, s.keys.PromptRequest)
}

// ConsumePromptRequest is the collaborator's read-and-clear of the request
// signal. The issued flag is left alone.
func (s *Store) ConsumePromptRequest(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.readFlagLocked(ctx, s.keys.PromptRequest) {
		return false, nil
	}
	if err := s.backend.Apply(ctx, []prefs.Write{prefs.Put(s.keys.PromptRequest, prefs.Bool(false))}); err != nil {
		return false, fmt.Errorf("clear prompt request: %w", err)
	}
	return true, nil
}

func (s *Store) MarkObserverReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Apply(ctx, []prefs.Write{prefs.Put(s.keys.ObserverReady, prefs.Bool(true))}); err != nil {
		return fmt.Errorf("mark observer ready: %w", err)
	}
	return nil
}

// LoadMemo restores the last accepted tap. A source without a decodable time
// is treated as no memo at all.
func (s *Store) LoadMemo(ctx context.Context) model.Memo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadMemoLocked(ctx)
}

func (s *Store) loadMemoLocked(ctx context.Context) model.Memo {
	src, ok, err := s.backend.Get(ctx, s.keys.LastTapSource)
	if err != nil || !ok || src.Kind != prefs.KindString || src.Str == "" {
		return model.Memo{}
	}
	raw, ok, err := s.backend.Get(ctx, s.keys.LastTapTime)
	if err != nil || !ok {
		return model.Memo{}
	}
	ts, ok := decodeTimestamp(raw)
	if !ok {
		return model.Memo{}
	}
	return model.Memo{SourceID: src.Str, Timestamp: ts, Valid: true}
}

// SaveMemo writes both memo keys in one batch. The time is stored as a
// decimal string.
func (s *Store) SaveMemo(ctx context.Context, memo model.Memo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var writes []prefs.Write
	if memo.Valid {
		writes = []prefs.Write{
			prefs.Put(s.keys.LastTapSource, prefs.String(memo.SourceID)),
			prefs.Put(s.keys.LastTapTime, prefs.String(strconv.FormatInt(memo.Timestamp, 10))),
		}
	} else {
		writes = []prefs.Write{prefs.Delete(s.keys.LastTapSource), prefs.Delete(s.keys.LastTapTime)}
	}
	if err := s.backend.Apply(ctx, writes); err != nil {
		return fmt.Errorf("persist debounce memo: %w", err)
	}
	return nil
}

func (s *Store) Snapshot(ctx context.Context) model.CounterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CounterState{
		TapCount:               s.readCountLocked(ctx),
		PermissionPromptIssued: s.readFlagLocked(ctx, s.keys.PromptIssued),
		PromptRequested:        s.readFlagLocked(ctx, s.keys.PromptRequest),
		ObserverReady:          s.readFlagLocked(ctx, s.keys.ObserverReady),
		Memo:                   s.loadMemoLocked(ctx),
	}
}

func (s *Store) readFlagLocked(ctx context.Context, key string) bool {
	v, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Warn("read flag failed", "key", key, "err", err)
		return false
	}
	if !ok {
		return false
	}
	b, ok := decodeFlag(v)
	return ok && b
}
