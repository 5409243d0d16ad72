package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tentangblockchain/bukitcuan.fun/internal/config"
	"github.com/tentangblockchain/bukitcuan.fun/internal/engine"
	"github.com/tentangblockchain/bukitcuan.fun/internal/store"
)

// cliRequester keys the pending question an observe run opens and answers.
const cliRequester = "cli"

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:           "ceklink",
		Short:         "Website uptime and ISP block monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "ceklink.yaml", "settings file")

	rootCmd.AddCommand(
		serveCommand(),
		addCommand(),
		editCommand(),
		deleteCommand(),
		listCommand(),
		checkCommand(),
		checkAllCommand(),
		statsCommand(),
		exportCommand(),
		observeCommand(),
		createPHPCommand(),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		reportError(err)
		stop()
		os.Exit(1)
	}
}

// loadSettings reads .env, the settings file and the environment, then
// configures the global logger.
func loadSettings() (config.Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to read .env: %v\n", err)
	}

	s, err := config.Load(cfgFile, log.Logger)
	if err != nil {
		return s, fmt.Errorf("failed to load settings: %w", err)
	}
	setupLogger(s)
	return s, nil
}

func setupLogger(s config.Settings) {
	level, err := zerolog.ParseLevel(strings.ToLower(s.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if s.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

// reportError prints err for the operator. Engine errors carry their code,
// corruption points at the preserved copy.
func reportError(err error) {
	var corrupted *store.CorruptedError
	if errors.As(err, &corrupted) {
		fmt.Fprintf(os.Stderr, "❌ Configuration file %s is corrupted, a copy was kept at %s\n   %v\n",
			corrupted.Path, corrupted.BackupPath, corrupted.Err)
		return
	}
	if appErr, ok := engine.AsAppError(err); ok {
		fmt.Fprintf(os.Stderr, "❌ %s: %s\n", appErr.Code, appErr.Message)
		return
	}
	fmt.Fprintf(os.Stderr, "❌ %v\n", err)
}
