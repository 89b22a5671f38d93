package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/livecontrol/go/internal/config"
	"github.com/mcdev12/livecontrol/go/internal/telemetry"
)

var version = "0.1.0"

var (
	configPath string
	envFile    string
	cfg        *config.Config
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "livecontrol",
		Short:         "Live content control server and clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["config"] == "none" {
				setupLogging(config.Default())
				return nil
			}

			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			loaded, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			setupLogging(cfg)

			return telemetry.Init(telemetry.Options{
				DSN:         cfg.Sentry.DSN,
				Release:     version,
				Environment: cfg.Sentry.Environment,
			})
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			telemetry.Flush()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: livecontrol.{yaml,yml,toml,json} in ., ~ or ~/.config)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(
		newServeCommand(),
		newAdminCommand(),
		newViewerCommand(),
		newInitConfigCommand(),
		newCheckConfigCommand(),
		newHashPasswordCommand(),
		newRequestsCommand(),
		&cobra.Command{
			Use:         "version",
			Short:       "Print the version",
			Annotations: map[string]string{"config": "none"},
			Run: func(cmd *cobra.Command, args []string) {
				cmd.Printf("livecontrol %s\n", version)
			},
		},
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("livecontrol failed")
		telemetry.CaptureError(err)
		telemetry.Flush()
		stop()
		os.Exit(1)
	}
}
