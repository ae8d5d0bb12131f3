package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/g960059/tapmon/internal/config"
	"github.com/g960059/tapmon/internal/counter"
	"github.com/g960059/tapmon/internal/db"
	"github.com/g960059/tapmon/internal/ingest"
	"github.com/g960059/tapmon/internal/logging"
	"github.com/g960059/tapmon/internal/model"
	"github.com/g960059/tapmon/internal/observer"
	"github.com/g960059/tapmon/internal/prefs"
)

var ErrAlreadyRunning = errors.New("another observer holds the state lock")

type Service struct {
	cfg      config.Config
	logger   *slog.Logger
	backend  prefs.Backend
	store    *counter.Store
	engine   *ingest.Engine
	mu       sync.Mutex
	lockFile *os.File
	shutdown sync.Once
	closeErr error
}

// OpenBackend opens the persistence backend named by cfg.Backend. SQLite
// stores are migrated on open.
func OpenBackend(ctx context.Context, cfg config.Config) (prefs.Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return db.OpenMigrated(ctx, cfg.DBPath)
	case config.BackendJSON:
		return prefs.OpenJSONFile(cfg.PrefsPath)
	case config.BackendMemory:
		return prefs.NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, cfg.Backend)
	}
}

func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewService(ctx, cfg, backend, logger), nil
}

// NewService wires an already opened backend. The service owns it from here.
func NewService(ctx context.Context, cfg config.Config, backend prefs.Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	store := counter.NewStore(backend, counter.KeysWithPrefix(cfg.KeyPrefix), logger)
	engine := ingest.NewEngine(store, cfg, logger)
	engine.Restore(ctx)
	return &Service{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		store:   store,
		engine:  engine,
	}
}

func (s *Service) Store() *counter.Store {
	return s.store
}

func (s *Service) Engine() *ingest.Engine {
	return s.engine
}

// Start takes the single-writer lock, marks the observer ready and processes
// events from r until EOF or cancellation. The event in flight at
// cancellation is still persisted.
func (s *Service) Start(ctx context.Context, r io.Reader, onOutcome func(model.Outcome)) (observer.Stats, error) {
	if err := s.Lock(); err != nil {
		return observer.Stats{}, err
	}
	if err := s.store.MarkObserverReady(ctx); err != nil {
		s.logger.Error("mark observer ready failed", "err", err)
	}
	s.logger.Info("observer ready", "own_source", s.cfg.OwnSourceID, "backend", s.cfg.Backend)

	events := make(chan model.RawEvent)
	pumpErr := make(chan error, 1)
	go func() {
		pumpErr <- observer.Pump(ctx, r, events, s.logger)
	}()
	stats := observer.Run(ctx, s.engine, events, onOutcome)

	var err error
	select {
	case err = <-pumpErr:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.logger.Info("observer stopped",
		"processed", stats.Processed,
		"counted", stats.Counted,
		"debounced", stats.Debounced,
		"persist_failures", stats.PersistFailures,
	)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return stats, err
}

func (s *Service) Close() error {
	s.shutdown.Do(func() {
		var errs []error
		if err := s.releaseLock(); err != nil {
			errs = append(errs, err)
		}
		if s.backend != nil {
			if err := s.backend.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *Service) lockPath() string {
	switch s.cfg.Backend {
	case config.BackendSQLite:
		return s.cfg.DBPath + ".lock"
	case config.BackendJSON:
		return s.cfg.PrefsPath + ".lock"
	default:
		return ""
	}
}

// Lock takes the single-writer lock next to the persisted state. Any process
// that feeds events to an engine must hold it; a second holder gets
// ErrAlreadyRunning. The memory backend has nothing to share and is never
// locked. Lock is a no-op once held; Close releases it.
func (s *Service) Lock() error {
	lockPath := s.lockPath()
	if lockPath == "" {
		return nil
	}
	s.mu.Lock()
	held := s.lockFile != nil
	s.mu.Unlock()
	if held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		return ErrAlreadyRunning
	}
	s.mu.Lock()
	s.lockFile = f
	s.mu.Unlock()
	return nil
}

func (s *Service) releaseLock() error {
	s.mu.Lock()
	f := s.lockFile
	s.lockFile = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}
