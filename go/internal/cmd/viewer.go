package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/livecontrol/go/internal/live/viewer"
)

// writerDisplay prints every rendered page content on its own line.
type writerDisplay struct {
	mu  sync.Mutex
	out io.Writer
}

func (d *writerDisplay) Render(content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintln(d.out, content)
	log.Debug().Str("content", content).Msg("rendered")
}

func newViewerCommand() *cobra.Command {
	var original string
	cmd := &cobra.Command{
		Use:   "viewer",
		Short: "Follow the public page from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runViewer(cmd.Context(), cmd.OutOrStdout(), cfg.Client.Origin, original)
		},
	}
	cmd.Flags().StringVar(&original, "original", "", "content shown while nothing is active")
	return cmd
}

func runViewer(ctx context.Context, out io.Writer, origin, original string) error {
	v, err := viewer.New(viewer.Config{Origin: origin, Original: original}, &writerDisplay{out: out})
	if err != nil {
		return err
	}
	if err := v.Connect(ctx); err != nil {
		return err
	}
	log.Info().Str("origin", origin).Msg("viewer connected")

	select {
	case <-ctx.Done():
		return v.Disconnect()
	case <-v.Closed():
		log.Info().Msg("server closed the channel")
		return nil
	}
}
