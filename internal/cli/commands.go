package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/g960059/tapmon/internal/config"
	"github.com/g960059/tapmon/internal/daemon"
	"github.com/g960059/tapmon/internal/db"
	"github.com/g960059/tapmon/internal/model"
	"github.com/g960059/tapmon/internal/observer"
)

func (r *Runner) countCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the persisted tap count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, backend, err := r.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close() //nolint:errcheck
			_, err = fmt.Fprintln(r.out, store.Read(cmd.Context()))
			return err
		},
	}
}

type statusView struct {
	TapCount               int64  `json:"tap_count"`
	PermissionPromptIssued bool   `json:"permission_prompt_issued"`
	PromptRequested        bool   `json:"prompt_requested"`
	ObserverReady          bool   `json:"observer_ready"`
	LastTapSource          string `json:"last_tap_source,omitempty"`
	LastTapTime            *int64 `json:"last_tap_time,omitempty"`
	Backend                string `json:"backend"`
}

func (r *Runner) statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the counter and collaborator flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			store, backend, err := r.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close() //nolint:errcheck

			snap := store.Snapshot(cmd.Context())
			view := statusView{
				TapCount:               snap.TapCount,
				PermissionPromptIssued: snap.PermissionPromptIssued,
				PromptRequested:        snap.PromptRequested,
				ObserverReady:          snap.ObserverReady,
				Backend:                r.cfg.Backend,
			}
			if snap.Memo.Valid {
				ts := snap.Memo.Timestamp
				view.LastTapSource = snap.Memo.SourceID
				view.LastTapTime = &ts
			}
			if asJSON {
				enc := json.NewEncoder(r.out)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}
			r.printStatus(view)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print machine-readable JSON")
	return cmd
}

func (r *Runner) printStatus(v statusView) {
	bold := color.New(color.Bold)
	_, _ = fmt.Fprintf(r.out, "Taps:              %s\n", bold.Sprint(v.TapCount))
	_, _ = fmt.Fprintf(r.out, "Observer ready:    %s\n", yesNo(v.ObserverReady))
	_, _ = fmt.Fprintf(r.out, "Prompt issued:     %s\n", yesNo(v.PermissionPromptIssued))
	_, _ = fmt.Fprintf(r.out, "Prompt requested:  %s\n", yesNo(v.PromptRequested))
	if v.LastTapTime != nil {
		_, _ = fmt.Fprintf(r.out, "Last tap:          %s @ %d\n", color.New(color.FgCyan).Sprint(v.LastTapSource), *v.LastTapTime)
	} else {
		_, _ = fmt.Fprintf(r.out, "Last tap:          %s\n", color.New(color.Faint).Sprint("(none)"))
	}
	_, _ = fmt.Fprintf(r.out, "Backend:           %s\n", v.Backend)
}

func yesNo(v bool) string {
	if v {
		return color.New(color.FgGreen).Sprint("yes")
	}
	return color.New(color.FgYellow).Sprint("no")
}

func (r *Runner) promptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Permission prompt signal shared with the display collaborator",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "consume",
		Short: "Read and clear the prompt request signal",
		Long: `Prints "requested" when the engine asked for the permission prompt since
the last consume, otherwise "none". The issued flag is never cleared.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, backend, err := r.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close() //nolint:errcheck
			requested, err := store.ConsumePromptRequest(cmd.Context())
			if err != nil {
				return err
			}
			if requested {
				_, err = fmt.Fprintln(r.out, "requested")
			} else {
				_, err = fmt.Fprintln(r.out, "none")
			}
			return err
		},
	})
	return cmd
}

func (r *Runner) replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Run a recorded NDJSON event stream through the engine",
		Long: `Replays events against the configured store and prints one decision per
event. Use --backend memory for a dry run that persists nothing.

Usage:
  tapmon replay --own-source com.example.tapmon events.ndjson
  tapmon replay --backend memory --own-source self - < events.ndjson`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quiet, _ := cmd.Flags().GetBool("quiet")
			var in io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open events: %w", err)
				}
				defer f.Close() //nolint:errcheck
				in = f
			}

			svc, err := daemon.Open(cmd.Context(), r.cfg, r.logger)
			if err != nil {
				return err
			}
			defer svc.Close() //nolint:errcheck
			if err := svc.Lock(); err != nil {
				return err
			}

			engine := svc.Engine()
			dec := observer.NewDecoder(in, r.logger)
			var stats observer.Stats
			for {
				raw, err := dec.Next()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
				out := engine.Process(cmd.Context(), raw)
				stats.Add(out)
				if !quiet {
					r.printOutcome(out)
				}
			}
			_, _ = fmt.Fprintf(r.out, "processed=%d counted=%d debounced=%d self=%d ignored=%d window=%d prompts=%d persist_failures=%d total=%d\n",
				stats.Processed, stats.Counted, stats.Debounced, stats.SelfSource, stats.Ignored,
				stats.WindowChanges, stats.PromptRequests, stats.PersistFailures, svc.Store().Read(cmd.Context()))
			if stats.PersistFailures > 0 {
				return fmt.Errorf("%d events failed to persist", stats.PersistFailures)
			}
			return nil
		},
	}
	cmd.Flags().BoolP("quiet", "q", false, "Only print the summary line")
	return cmd
}

func (r *Runner) printOutcome(out model.Outcome) {
	decision := string(out.Decision)
	switch out.Decision {
	case model.DecisionCounted:
		decision = color.New(color.FgGreen).Sprintf("%-13s", decision)
	case model.DecisionDebounced:
		decision = color.New(color.FgYellow).Sprintf("%-13s", decision)
	default:
		decision = color.New(color.Faint).Sprintf("%-13s", decision)
	}
	line := fmt.Sprintf("%s %-14s %-32s ts=%d", decision, out.Event.Category, out.Event.SourceID, out.Event.Timestamp)
	if out.Counted() {
		line += fmt.Sprintf(" count=%d", out.Count)
	}
	if out.PromptRequested {
		line += " " + color.New(color.FgMagenta).Sprint("prompt")
	}
	if out.PersistErr != nil {
		line += " " + color.New(color.FgRed).Sprintf("persist_err=%q", out.PersistErr.Error())
	}
	_, _ = fmt.Fprintln(r.out, strings.TrimRight(line, " "))
}

func (r *Runner) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQLite schema",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := r.resolveConfig(cmd, args); err != nil {
				return err
			}
			if r.cfg.Backend != config.BackendSQLite {
				return usageError{err: fmt.Errorf("migrate requires the sqlite backend, got %q", r.cfg.Backend)}
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := db.Open(cmd.Context(), r.cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck
			version, err := db.SchemaVersion(cmd.Context(), store.DB())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(r.out, "schema version %d\n", version)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := db.OpenMigrated(cmd.Context(), r.cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck
			version, err := db.SchemaVersion(cmd.Context(), store.DB())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(r.out, "schema version %d\n", version)
			return err
		},
	})
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration, dropping persisted state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return usageError{err: errors.New("migrate down drops the tap count; pass --yes to confirm")}
			}
			store, err := db.Open(cmd.Context(), r.cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck
			if err := db.RollbackAll(cmd.Context(), store.DB()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(r.out, color.New(color.FgYellow).Sprint("rolled back all migrations"))
			return err
		},
	}
	down.Flags().Bool("yes", false, "Confirm dropping all persisted state")
	cmd.AddCommand(down)
	return cmd
}
