package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dgnsrekt/exchange-calendar-service/internal/client"
	"github.com/dgnsrekt/exchange-calendar-service/internal/config"
)

var (
	cfgFile string
	baseURL string
	verbose bool
	logger  *zap.Logger
	cfg     *config.Config
)

func setupLogger(verbose bool, logCfg *config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if verbose {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
		zapConfig.OutputPaths = []string{"stderr"}
	}

	// Set log level from config
	if !verbose && logCfg != nil && logCfg.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(logCfg.Level)); err == nil {
			zapConfig.Level = zap.NewAtomicLevelAt(level)
		}
	}

	return zapConfig.Build()
}

func newClient() *client.HTTPClient {
	url := cfg.Client.BaseURL
	if baseURL != "" {
		url = baseURL
	}
	return client.NewClient(
		url,
		cfg.Client.APIKey,
		cfg.Client.RatePerSecond,
		cfg.Client.Timeout(),
		time.Duration(cfg.Client.RetryDelay)*time.Second,
		cfg.Client.RetryCount,
		logger,
	)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "calctl",
		Short:         "Query and update an exchange calendar service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip config loading for help commands
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				var err error
				logger, err = setupLogger(verbose, nil)
				return err
			}

			// Load config
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}

			// Setup logger with config
			logger, err = setupLogger(verbose, &cfg.Logging)
			if err != nil {
				return err
			}

			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("EXCHANGE_CALENDAR_SERVICE_CONFIG"), "config file path (or set EXCHANGE_CALENDAR_SERVICE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "", "service base URL (overrides client.base_url)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(venuesCmd())
	rootCmd.AddCommand(timezonesCmd())
	rootCmd.AddCommand(specialDaysCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(nextCmd())
	rootCmd.AddCommand(updateCmd())

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
