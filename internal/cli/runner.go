package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/g960059/tapmon/internal/config"
	"github.com/g960059/tapmon/internal/counter"
	"github.com/g960059/tapmon/internal/daemon"
	"github.com/g960059/tapmon/internal/logging"
	"github.com/g960059/tapmon/internal/prefs"
)

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// Runner carries the resolved configuration and output streams shared by
// every subcommand.
type Runner struct {
	out    io.Writer
	errOut io.Writer
	cfg    config.Config
	logger *slog.Logger

	configPath string
	overrides  config.Config
}

func NewRunner(out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{out: out, errOut: errOut, cfg: config.DefaultConfig()}
}

// Run executes args and maps the result onto exit codes: 0 ok, 1 runtime
// failure, 2 usage error.
func (r *Runner) Run(ctx context.Context, args []string) int {
	root := r.RootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		var ue usageError
		if errors.As(err, &ue) || errors.Is(err, config.ErrInvalid) {
			return 2
		}
		return 1
	}
	return 0
}

func (r *Runner) RootCmd() *cobra.Command {
	defaults := config.DefaultConfig()
	root := &cobra.Command{
		Use:   "tapmon",
		Short: "Inspect and drive the tap counter state",
		Long: `tapmon reads the persisted tap count and auxiliary flags shared with the
display collaborator, replays recorded event streams through the counting
engine, and manages the SQLite schema.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: r.resolveConfig,
	}
	root.SetOut(r.out)
	root.SetErr(r.errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&r.configPath, "config", "", "YAML config file")
	pf.StringVar(&r.overrides.Backend, "backend", defaults.Backend, "state backend: sqlite, json or memory")
	pf.StringVar(&r.overrides.DBPath, "db", defaults.DBPath, "SQLite path")
	pf.StringVar(&r.overrides.PrefsPath, "prefs", defaults.PrefsPath, "JSON prefs path")
	pf.StringVar(&r.overrides.KeyPrefix, "prefix", defaults.KeyPrefix, "key prefix shared with the display collaborator")
	pf.StringVar(&r.overrides.OwnSourceID, "own-source", defaults.OwnSourceID, "identity of the hosting process")
	pf.StringVar(&r.overrides.LogLevel, "log-level", "warn", "debug, info, warn or error")

	root.AddCommand(r.countCmd())
	root.AddCommand(r.statusCmd())
	root.AddCommand(r.promptCmd())
	root.AddCommand(r.replayCmd())
	root.AddCommand(r.migrateCmd())
	return root
}

// resolveConfig layers defaults, the optional file and explicitly set flags.
func (r *Runner) resolveConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFile(r.configPath, config.DefaultConfig())
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = r.overrides.Backend
	}
	if flags.Changed("db") {
		cfg.DBPath = r.overrides.DBPath
	}
	if flags.Changed("prefs") {
		cfg.PrefsPath = r.overrides.PrefsPath
	}
	if flags.Changed("prefix") {
		cfg.KeyPrefix = r.overrides.KeyPrefix
	}
	if flags.Changed("own-source") {
		cfg.OwnSourceID = r.overrides.OwnSourceID
	}
	// The CLI keeps quiet unless asked; the file level is for the daemon.
	cfg.LogLevel = r.overrides.LogLevel
	r.cfg = cfg

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: "text", Output: r.errOut})
	if err != nil {
		return usageError{err: err}
	}
	r.logger = logger
	return nil
}

// openStore opens the configured backend for read-mostly commands that do
// not need an own source identity.
func (r *Runner) openStore(ctx context.Context) (*counter.Store, prefs.Backend, error) {
	switch r.cfg.Backend {
	case config.BackendSQLite, config.BackendJSON:
	case config.BackendMemory:
		return nil, nil, usageError{err: errors.New("memory backend holds no persisted state")}
	default:
		return nil, nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, r.cfg.Backend)
	}
	backend, err := daemon.OpenBackend(ctx, r.cfg)
	if err != nil {
		return nil, nil, err
	}
	return counter.NewStore(backend, counter.KeysWithPrefix(r.cfg.KeyPrefix), r.logger), backend, nil
}
