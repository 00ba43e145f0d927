// Command spm is the thin CLI wrapper around the core engine (spec §6:
// "listed for completeness but not part of the core contract"). Every verb
// defaults to a dry plan; --execute applies changes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"sourcepm/internal/buildinfo"
	"sourcepm/internal/config"
	"sourcepm/internal/db"
	"sourcepm/internal/history"
	"sourcepm/internal/hooks"
	"sourcepm/internal/index"
	"sourcepm/internal/installer"
	"sourcepm/internal/log"
	"sourcepm/internal/privexec"
	"sourcepm/internal/remover"
	"sourcepm/internal/report"
)

var (
	executeFlag     bool
	forceFlag       bool
	concurrencyFlag int
	confFlag        string
)

var globalCtx context.Context
var globalCancel context.CancelFunc

// app bundles the wired components every command needs. Built once in
// PersistentPreRunE and shared across verbs, mirroring the teacher's
// single `loader` package variable wired in main's init.
type app struct {
	cfg      *config.Config
	index    *index.Index
	db       *db.DB
	executor *privexec.Executor
	hooksD   *hooks.Dispatcher
	inst     *installer.Installer
	rm       *remover.Remover
	hist     *history.Log
	printer  *report.Printer
}

var theApp *app

func newApp() (*app, error) {
	cfg, err := config.DefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare sourcepm home: %w", err)
	}

	idx := index.New(cfg.RecipesDir, filepath.Join(cfg.IndexCache, "index.json"))
	if err := idx.Refresh(false); err != nil {
		return nil, fmt.Errorf("refresh recipe index: %w", err)
	}

	database := db.New(cfg.InstalledDBPath())
	executor := privexec.New(privexec.WithRetryBackoffBase(config.GetRetryBackoffBase()), privexec.WithLogger(log.Default()))
	dispatcher := hooks.New(executor, cfg.HooksDir)

	return &app{
		cfg:      cfg,
		index:    idx,
		db:       database,
		executor: executor,
		hooksD:   dispatcher,
		inst:     installer.New(database, dispatcher, executor),
		rm:       remover.New(database, dispatcher, executor),
		hist:     history.New(cfg.HistoryLogPath()),
		printer:  report.NewPrinter(os.Stdout),
	}, nil
}

var rootCmd = &cobra.Command{
	Use:   "spm",
	Short: "A source-based package manager",
	Long: `spm builds packages from recipes in sandboxed environments, caches
the resulting artifacts by content address, and installs them into the
host filesystem with transactional rollback safety.`,
	Version: buildinfo.Version(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		theApp = a
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&executeFlag, "execute", false, "apply changes (default is a dry plan)")
	rootCmd.PersistentFlags().BoolVar(&forceFlag, "force", false, "override refusal checks (downgrade, reverse-deps, reinstall)")
	rootCmd.PersistentFlags().IntVar(&concurrencyFlag, "concurrency", 0, "worker pool size (0 = default)")
	rootCmd.PersistentFlags().StringVar(&confFlag, "conf", "", "path to a configuration file (accepted but not read; settings come from SOURCEPM_* environment variables)")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(deepcleanCmd)
}

func main() {
	globalCtx, globalCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer globalCancel()

	if err := rootCmd.ExecuteContext(globalCtx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
}
