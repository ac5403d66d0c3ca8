package main

import (
	"context"
	"io"
	"log"

	"github.com/amirphl/Kura/app/bootstrap"
	"github.com/amirphl/Kura/app/services"
	businessflow "github.com/amirphl/Kura/business_flow"
	"github.com/amirphl/Kura/config"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:           "kuractl",
	Short:         "Kura operator CLI",
	Long:          "Inspect and adjust collection counters and issue admin tokens for the Kura API.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log connection details")

	rootCmd.AddCommand(counterCmd)
	rootCmd.AddCommand(tokenCmd)
}

// loadConfig reads the same environment as the server
var loadConfig = config.LoadProductionConfig

// openCounterAdmin connects the configured stores and returns the counter flow on top of them
var openCounterAdmin = func(ctx context.Context, cfg *config.ProductionConfig) (businessflow.CounterAdminFlow, func() error, error) {
	logger := cliLogger()

	stores, err := bootstrap.OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	registry, err := config.LoadCollectionRegistry(cfg.IDGen.CollectionsFile, cfg.IDGen)
	if err != nil {
		_ = stores.Close()
		return nil, nil, err
	}

	ids := services.NewIDService(stores.Counters, logger)
	return businessflow.NewCounterAdminFlow(ids, registry, logger), stores.Close, nil
}

func cliLogger() *log.Logger {
	if verbose {
		return log.New(rootCmd.ErrOrStderr(), "kuractl: ", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}
