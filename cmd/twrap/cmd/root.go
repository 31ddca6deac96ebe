package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/twrap/internal/config"
	"github.com/psantana5/twrap/internal/runner"
	"github.com/psantana5/twrap/pkg/logging"
)

// Set at build time with -ldflags "-X github.com/psantana5/twrap/cmd/twrap/cmd.version=...".
var version = "dev"

var (
	cfgFile   string
	debug     bool
	logFormat string

	// configErr holds a config file read failure; commands that need the
	// configuration report it.
	configErr error
	// exitCode is what Execute returns once the command has finished.
	exitCode int
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "twrap",
	Short: "Supervised execution wrapper for batch jobs",
	Long: `twrap runs a job command under supervision: lifecycle actions before and
after the run, retries, timeouts with graceful termination, signal forwarding
and best-effort run metrics.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	return exitCode
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (default from log.format)")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix("TWRAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		configErr = &config.Error{Field: "config", Msg: cfgFile, Err: err}
	}
}

// loadConfig returns the validated configuration.
func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	return config.Load(viper.GetViper())
}

// newLogger honours --debug and --log-format over the log.* keys. cfg may be
// nil when the configuration could not be loaded.
func newLogger(cfg *config.Config) *logging.Logger {
	level := logging.INFO
	format := logFormat
	dir := ""
	if cfg != nil {
		level = logging.ParseLevel(cfg.Log.Level)
		if format == "" {
			format = cfg.Log.Format
		}
		dir = cfg.Log.Dir
	}
	if debug {
		level = logging.DEBUG
	}
	jsonFormat := strings.EqualFold(format, "json")

	if dir != "" {
		if l, err := logging.NewFileLogger(dir, "twrap", level, jsonFormat); err == nil {
			return l
		}
	}
	return logging.NewLogger(level, jsonFormat)
}

// fail records the exit code for a setup failure and returns err for cobra
// to print.
func fail(log *logging.Logger, err error) error {
	exitCode = runner.ExitCodeFor(err)
	var cerr *config.Error
	if log != nil && errors.As(err, &cerr) {
		log.Error("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}
	return err
}
