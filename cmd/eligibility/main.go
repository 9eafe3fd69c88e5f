package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/eligibility/internal/config"
)

const (
	appName = "eligibility"
	version = "v0.3.0"
)

var (
	configPath string
	logLevel   string
	overrides  *config.Overrides
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Onchain airdrop eligibility scoring engine",
	Long: `Scores wallet addresses across several chains from holdings diversity,
activity, token risk and MEV behaviour, with exit-liquidity and supply checks.

Examples:
  eligibility serve --config config.yaml
  eligibility check 0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045 --chains 1,137
  eligibility gas 1`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration (defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	overrides = config.BindFlags(rootCmd.PersistentFlags())
}

func setupLogging() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// loadConfig reads the YAML file and environment, then applies explicit flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := overrides.Apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to read .env")
	}
	setupLogging()

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(exitCode(err))
	}
}
