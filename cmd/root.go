// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/internal/config"
	"github.com/xkilldash9x/forceps/internal/observability"
)

// configKeyType keeps the context key private to this package.
type configKeyType struct{}

var configKey = configKeyType{}

var cfgFile string

// flagBindings maps CLI flag names to the viper keys they override. A flag is
// bound only when the executing command defines it and the user set it, so
// flag defaults never shadow config file or environment values.
var flagBindings = map[string]string{
	"engine":      "engine.kind",
	"headless":    "engine.headless",
	"concurrency": "runner.concurrency",
	"junit":       "runner.junit_file",
	"data":        "data.file",
}

// NewRootCommand assembles the forceps command tree. Every call returns a
// fresh instance so flag state never leaks between executions.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "forceps",
		Short: "Forceps drives flaky web UIs through declarative scenarios.",
		Long: `Forceps runs declarative UI scenarios against live pages and absorbs the
usual flakiness: elements that render late, banners that may or may not
appear, prices wrapped in marketing text. Failures that retrying cannot fix
are reported as verdicts, not stack traces.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v); err != nil {
				// A fallback logger so the failure is at least visible.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "forceps"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "forceps"})
				return err
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Info("Starting forceps", zap.String("version", Version))

			// Subcommands read the validated config from the context; there is
			// no package-level config singleton.
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default searches . and $HOME/.forceps)")
	root.SetVersionTemplate(`{{printf "forceps version %s\n" .Version}}`)

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	return root
}

// Execute runs the root command under ctx and returns its error. Cancellation
// through the signal context is an expected outcome and is logged calmly;
// scenario failures already told their story through the run summary.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err == nil {
		return nil
	}

	logger := observability.GetLogger()
	switch {
	case errors.Is(err, context.Canceled):
		logger.Warn("Command aborted by signal.")
	case errors.Is(err, errRunsFailed):
	default:
		logger.Error("Command execution failed", zap.Error(err))
	}
	return err
}

// initializeConfig wires the config file, FORCEPS_* environment variables and
// any set CLI flags into v, in ascending precedence.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".forceps"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("FORCEPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagBindings {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag --%s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file anywhere is fine; defaults and env carry the day.
	}
	return nil
}

// configFromContext retrieves the config stored by the root PersistentPreRunE.
func configFromContext(cmd *cobra.Command) (config.Interface, error) {
	cfg, ok := cmd.Context().Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration missing from command context")
	}
	return cfg, nil
}
