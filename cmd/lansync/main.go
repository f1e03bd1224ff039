package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lancachetools/lansync/internal/common/config"
	"github.com/lancachetools/lansync/internal/engine"
	"github.com/lancachetools/lansync/pkg/logger"
	"github.com/lancachetools/lansync/pkg/version"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of lansync",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lansync version %s\n", version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "lansync",
		Short: "LAN cache state sync daemon",
		Long:  `lansync mirrors a lancache server's live state over its push channel and serves a local snapshot API`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", "", "path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func run() {
	cfgName := configPath
	if cfgName == "" {
		cfgName = "configs/lansync.yaml"
	}
	cfg, cfgPath, err := config.LoadConfig(cfgName)
	if err != nil {
		log.Fatalf("Failed to load configuration from %s: %v", cfgPath, err)
	}

	zapLogger, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()

	zapLogger.Info("starting lansync",
		zap.String("version", version.Get()),
		zap.String("config", cfgPath),
		zap.String("server", cfg.Server.BaseURL))

	eng, err := engine.New(zapLogger, cfg)
	if err != nil {
		zapLogger.Fatal("Failed to build engine", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Run(ctx); err != nil {
		zapLogger.Fatal("engine exited", zap.Error(err))
	}
	zapLogger.Info("shutdown complete")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
