package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nightwatch-sec/nightwatch/pkg/config"
	"github.com/nightwatch-sec/nightwatch/pkg/nwerrors"
	"github.com/nightwatch-sec/nightwatch/pkg/version"
)

var (
	cfgFile string
	verbose bool
	v       = viper.New()
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:     "nightwatch",
	Short:   "Behavioral insider-threat detector for AI-assistant and file-service audit logs",
	Version: version.Current,
}

// Execute runs the root command, translating any returned error into the
// CLI's exit-code contract (§6) before exiting the process.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	if ec, ok := err.(*exitCodeError); ok {
		os.Exit(ec.code)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(nwerrors.ExitCode(err))
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (default: ./nightwatch.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		// Dev/--verbose gets human-readable text logs at debug level;
		// production gets structured JSON at warn level, matching the
		// teacher's slog.NewJSONHandler production logging.
		var handler slog.Handler
		if verbose {
			handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
		} else {
			handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})
		}
		logger = slog.New(handler)
	}

	rootCmd.AddCommand(runCmd)
}

func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("nightwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.nightwatch")
	}

	v.SetEnvPrefix("NIGHTWATCH")
	v.AutomaticEnv()

	// Absence of a config file is not fatal: the engine runs on defaults.
	// A malformed one surfaces later, in loadConfig, as a ConfigError.
	_ = v.ReadInConfig()
}

func loadConfig(flags *pflag.FlagSet) (config.EngineConfig, error) {
	if err := config.BindFlags(v, flags); err != nil {
		return config.EngineConfig{}, nwerrors.Wrap(nwerrors.KindConfig, "loadConfig", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return config.EngineConfig{}, nwerrors.Wrap(nwerrors.KindConfig, "loadConfig", err)
	}
	return cfg, nil
}
