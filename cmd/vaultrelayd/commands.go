package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultbridge/relay-node/relayer/aggregator"
	"github.com/vaultbridge/relay-node/relayer/config"
	"github.com/vaultbridge/relay-node/relayer/cursor"
	"github.com/vaultbridge/relay-node/relayer/db"
	"github.com/vaultbridge/relay-node/relayer/destination"
	"github.com/vaultbridge/relay-node/relayer/feed"
	"github.com/vaultbridge/relay-node/relayer/logger"
	"github.com/vaultbridge/relay-node/relayer/orchestrator"
	"github.com/vaultbridge/relay-node/relayer/registry"
	"github.com/vaultbridge/relay-node/relayer/relayerr"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const defaultHomeDir = ".vaultrelay"

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("home", "", "node home directory (default: ~/.vaultrelay)")

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(initConfigCmd())
	rootCmd.AddCommand(versionCmd())
}

func resolveHome(cmd *cobra.Command) (string, error) {
	home, err := cmd.Flags().GetString("home")
	if err != nil {
		return "", err
	}
	if home != "" {
		return home, nil
	}

	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(userHome, defaultHomeDir), nil
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the vault bridge relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := resolveHome(cmd)
			if err != nil {
				return err
			}

			// A configuration fault is fatal before any processing loop starts.
			cfg, err := config.Load(home)
			if err != nil {
				return fmt.Errorf("configuration fault: %w", err)
			}

			log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)

			database, err := db.OpenFileDB(filepath.Join(home, "data"), cfg.DatabaseFile, true)
			if err != nil {
				return err
			}
			defer database.Close()

			feedClient := feed.NewSubgraphFeed(cfg.SubgraphURL, log)

			dest, err := destination.NewClient(cfg.DestinationRPCURLs, log)
			if err != nil {
				return err
			}
			defer dest.Close()

			retryCfg := &relayerr.RetryConfig{
				MaxAttempts:  cfg.SubmitMaxAttempts,
				InitialDelay: time.Duration(cfg.SubmitBackoffSeconds) * time.Second,
				MaxDelay:     time.Duration(cfg.SubmitBackoffMaxSeconds) * time.Second,
				Multiplier:   2.0,
			}

			cursors := cursor.NewStore(database)
			reg := registry.New(database, log)
			agg := aggregator.New(database, destination.NewABIShareDecoder(), dest, retryCfg, log)

			orch := orchestrator.New(database, cursors, reg, agg, feedClient, dest, orchestrator.Options{
				EventNames:           cfg.EventNames,
				EventPollingInterval: time.Duration(cfg.EventPollingIntervalSeconds) * time.Second,
				BatchPollingInterval: time.Duration(cfg.BatchPollingIntervalSeconds) * time.Second,
				FeedBatchSize:        cfg.FeedBatchSize,
				FinalizationDeadline: time.Duration(cfg.FinalizationDeadlineSeconds) * time.Second,
				OrphanRetention:      time.Duration(cfg.OrphanRetentionSeconds) * time.Second,
			}, log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := orch.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			return orch.Stop()
		},
	}
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write the default configuration to the node home",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := resolveHome(cmd)
			if err != nil {
				return err
			}

			cfg, err := config.LoadDefaultConfig()
			if err != nil {
				return err
			}
			if err := config.Save(cfg, home); err != nil {
				return err
			}

			fmt.Printf("config written to %s\n", filepath.Join(home, "config"))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print vaultrelayd version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vaultrelayd %s\n", Version)
		},
	}
}
