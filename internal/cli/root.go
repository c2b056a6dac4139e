package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/reactor/internal/automation/health"
	"github.com/vietddude/reactor/internal/control"
	"github.com/vietddude/reactor/internal/core/worker"
	"github.com/vietddude/reactor/internal/infra/chain"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "reactor",
	Short: "Reactive on-chain rule engine",
	Long:  `Reactor discovers rules from a registry contract, watches their conditions and executes them through the executor contract.`,
	Run:   runEngine,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

func runEngine(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := openGateway(ctx, cfg)
	if err != nil {
		slog.Error("Failed to connect to node", "error", err)
		os.Exit(1)
	}
	defer gw.Close()

	deps, err := openDeps(ctx, cfg, gw)
	if err != nil {
		slog.Error("Failed to initialize engine", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	engCfg, err := engineConfig(cfg)
	if err != nil {
		slog.Error("Invalid engine config", "error", err)
		os.Exit(1)
	}
	engine := control.NewEngine(engCfg, gw, deps.executor)

	go worker.NewPruner(cfg.Journal.Retention, deps.journal).Start(ctx)

	monitor := health.NewMonitor(engine, chain.NewHeadCache(gw, 5*time.Second), 10*time.Second)
	if deps.db != nil {
		monitor.WithDatabase(deps.db)
	}
	healthServer := health.NewServer(monitor, cfg.Server.Port, cfg.Server.GRPCPort)
	go func() {
		if err := healthServer.Start(); err != nil {
			slog.Error("Health server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := engine.Start(ctx); err != nil {
		slog.Error("Failed to start engine", "error", err)
		os.Exit(1)
	}
	healthServer.SetServing(true)
	slog.Info("Reactor started", "config", cfgPath, "signer", deps.signer.Address().Hex())

	exitCode := 0
	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
	case err := <-engine.Fatal():
		slog.Error("Engine halted, shutting down", "error", err)
		exitCode = 1
	}
	healthServer.SetServing(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := engine.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		exitCode = 1
	}
	if err := healthServer.Stop(shutdownCtx); err != nil {
		slog.Warn("Failed to stop health server", "error", err)
	}
	if exitCode != 0 {
		deps.Close()
		gw.Close()
		os.Exit(exitCode)
	}
	slog.Info("Reactor stopped gracefully")
}
