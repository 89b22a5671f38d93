package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/livecontrol/go/internal/config"
)

func loadConfig(path string) (*config.Config, error) {
	c, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if c.Source == "" {
		log.Debug().Msg("no config file found, using defaults and environment")
	}
	return c, nil
}

// setupLogging configures the global zerolog logger from c.
func setupLogging(c *config.Config) {
	lvl, err := c.LogLevel()
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if c.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func newInitConfigCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:         "initconfig",
		Short:       "Write a config template with a fresh JWT secret",
		Annotations: map[string]string{"config": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "-" {
				tmpl, err := config.Template()
				if err != nil {
					return err
				}
				return config.WriteTemplate(cmd.OutOrStdout(), tmpl)
			}
			if err := config.WriteTemplateFile(out); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", config.Name+".toml", `file to write, "-" for stdout`)
	return cmd
}

func newCheckConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "checkconfig",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			source := cfg.Source
			if source == "" {
				source = "defaults and environment"
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%s: %w", source, err)
			}
			cmd.Printf("%s: ok\n", source)
			return nil
		},
	}
}
