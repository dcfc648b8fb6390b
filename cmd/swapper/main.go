package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/devlongs/amm-swap-engine/internal/config"
)

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "swapper",
	Short:         "Constant-product AMM swap quote and execution engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./config.yaml)")
	rootCmd.AddCommand(serveCmd, quoteCmd, tokensCmd, swapCmd)
}

// withEngine builds and starts the engine, runs fn and shuts down
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *Engine) error) error {
	engine, err := NewEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	engine.Start(ctx)
	return fn(ctx, engine)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Swapper error")
		stop()
		os.Exit(1)
	}
}
