package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/djlord-it/morning-brief/internal/config"
	"github.com/djlord-it/morning-brief/internal/logging"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func invalidConfig(err error) error {
	return &exitError{code: exitInvalidConfig, err: fmt.Errorf("configuration error: %w", err)}
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		return exitRuntimeError
	}
	return exitSuccess
}

type rootOptions struct {
	envFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "briefd",
		Short: "briefd - daily briefing scheduler and dispatcher",
		Long: `briefd assembles each user's calendar, tasks and inbox signals into a
short narrative and delivers it once per local day over Slack, Telegram,
SMS or in-app notifications.

Configuration is read from the environment, seeded from --env-file or
a .env file in the working directory. Run "briefd config" to see every
recognised variable.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "load environment from this file (default .env when present)")

	root.AddCommand(serveCmd(opts))
	root.AddCommand(tickCmd(opts))
	root.AddCommand(runCmd(opts))
	root.AddCommand(historyCmd(opts))
	root.AddCommand(migrateCmd(opts))
	root.AddCommand(validateCmd(opts))
	root.AddCommand(configCmd(opts))
	root.AddCommand(versionCmd())
	return root
}

// loadConfig loads and validates configuration. A load or validation
// failure exits with exitInvalidConfig.
func (o *rootOptions) loadConfig(requireDB bool) (config.Config, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return config.Config{}, invalidConfig(err)
	}
	if err := config.Validate(cfg, requireDB); err != nil {
		return config.Config{}, invalidConfig(err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*zap.Logger, func(), error) {
	return logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
}
