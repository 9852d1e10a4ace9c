package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/coursemart/authclient/config"
)

var (
	apiURL      string
	dataDir     string
	debug       bool
	logLevel    string
	showMetrics bool
)

var rootCmd = &cobra.Command{
	Use:   "coursectl",
	Short: "coursectl talks to the CourseMart API with a persistent session",
	Long: `A command line client for the CourseMart marketplace API.
Sessions survive between invocations when you log in with --remember.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	def := config.FromEnv()
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", def.BaseURL, "Base URL of the API ("+config.EnvAPIURL+")")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", def.DataDir, "Directory for the session store and device key ("+config.EnvDataDir+")")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", def.Debug, "Log expected failures and server error detail ("+config.EnvDebug+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", def.LogLevel, "Log level: debug, info, warn, error ("+config.EnvLogLevel+")")
	rootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "Write request and refresh counters to stderr on exit")
}

// loadConfig applies the persistent flags on top of the environment.
func loadConfig() (config.Config, error) {
	cfg := config.FromEnv()
	cfg.BaseURL = apiURL
	cfg.DataDir = dataDir
	cfg.Debug = debug
	cfg.LogLevel = logLevel
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
