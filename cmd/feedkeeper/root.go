package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"feedkeeper/pkg/config"
	"feedkeeper/pkg/logger"
	"feedkeeper/pkg/store"
	"feedkeeper/pkg/ui"
)

var (
	// Version information
	version   = "0.1.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile   string
	logLevel     string
	databasePath string
	accountName  string
	strictMedia  bool
	noColor      bool
	quiet        bool
)

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Archive posts and their photos from a social feed",
	Long: `feedkeeper keeps a personal archive of posts from a social feed.

It records timelines, likes and individual posts into a local SQLite
database, skipping everything it has already seen, and downloads the
attached photos exactly once.

  feedkeeper record --user alice      record alice's new posts
  feedkeeper record --likes alice     record alice's latest likes
  feedkeeper download                 download photos not yet on disk
  feedkeeper forget --gc              drop records whose photos are saved`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		p := ui.NewPrinter(false)
		p.Plain = noColor
		p.Error("Error: %v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.feedkeeper.yaml or the user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error, disabled)")
	rootCmd.PersistentFlags().StringVar(&databasePath, "database", "", "path to the archive database")
	rootCmd.PersistentFlags().StringVarP(&accountName, "account", "a", "", "stored account whose token is used")
	rootCmd.PersistentFlags().BoolVar(&strictMedia, "strict-media", false, "fail on malformed media instead of skipping the record")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except results and errors")

	rootCmd.SetVersionTemplate(`feedkeeper {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// app carries what every command needs once the configuration is loaded
type app struct {
	cfg *config.Config
	log logger.Logger
	out *ui.Printer
}

// newApp loads the configuration with the global flags and the command's
// own flags layered on top, and initializes logging.
func newApp(cmd *cobra.Command, flags map[string]interface{}) (*app, error) {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	if databasePath != "" {
		flags["database"] = databasePath
	}
	if accountName != "" {
		flags["account"] = accountName
	}
	if cmd.Flags().Changed("strict-media") {
		flags["strict-media"] = strictMedia
	}
	if noColor {
		flags["no-color"] = true
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	out := ui.NewPrinter(quiet)
	out.Plain = cfg.Logging.NoColor
	out.Out = cmd.OutOrStdout()
	out.Err = cmd.ErrOrStderr()

	return &app{cfg: cfg, log: logger.GetLogger(), out: out}, nil
}

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, a.cfg.Store.Path, store.Options{
		StrictMedia: a.cfg.Store.StrictMedia,
		Logger:      a.log,
	})
}
