package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcdev12/livecontrol/go/internal/requestlog"
)

func newRequestsCommand() *cobra.Command {
	var limit, keep int
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Show recent entries of the request log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Locations.Database == "" {
				return errors.New("locations.database is not configured")
			}
			l, err := setupRequestLog(cfg.Locations.Database)
			if err != nil {
				return err
			}
			defer l.Close()

			if cmd.Flags().Changed("prune") {
				removed, err := l.Prune(cmd.Context(), keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d requests\n", removed)
			}

			recs, err := l.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printRequests(cmd.OutOrStdout(), recs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of requests to show")
	cmd.Flags().IntVar(&keep, "prune", 0, "delete all but the newest N requests first")
	return cmd
}

func printRequests(w io.Writer, recs []requestlog.Record) {
	for _, rec := range recs {
		fmt.Fprintf(w, "%s %d %s %s %s %s\n",
			rec.Received.Format(time.RFC3339),
			rec.Status,
			rec.Method,
			rec.URL,
			rec.Elapsed.Round(time.Microsecond),
			rec.Client,
		)
	}
}
