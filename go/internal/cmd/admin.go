package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/livecontrol/go/clients/livecontrol_client"
	"github.com/mcdev12/livecontrol/go/internal/config"
	"github.com/mcdev12/livecontrol/go/internal/live/admin"
	"github.com/mcdev12/livecontrol/go/internal/live/authbridge"
	"github.com/mcdev12/livecontrol/go/internal/live/entity"
)

// logRow renders an admin row as log lines.
type logRow struct {
	uid string
}

func (r logRow) SetActive(active bool) {
	log.Info().Str("uid", r.uid).Bool("active", active).Msg("row active")
}

func (r logRow) SetText(text string) {
	log.Info().Str("uid", r.uid).Str("content", text).Msg("row content")
}

func (r logRow) Remove() {
	log.Info().Str("uid", r.uid).Msg("row removed")
}

// adminOp is one line typed at the admin prompt.
type adminOp struct {
	name    string
	uid     string
	content string
}

var errUsage = errors.New("usage: list | refresh | activate <uid> | deactivate <uid> | toggle <uid> | update <uid> <content> | logout | quit")

func parseAdminLine(line string) (adminOp, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return adminOp{}, errUsage
	}
	op := adminOp{name: strings.ToLower(fields[0])}
	switch op.name {
	case "list", "refresh", "logout", "quit":
		return op, nil
	case "activate", "deactivate", "toggle":
		if len(fields) != 2 {
			return adminOp{}, errUsage
		}
		op.uid = fields[1]
		return op, nil
	case "update":
		if len(fields) < 2 {
			return adminOp{}, errUsage
		}
		op.uid = fields[1]
		// content is everything after the uid, inner spacing kept
		rest := strings.TrimSpace(line)
		rest = strings.TrimSpace(rest[len(fields[0]):])
		op.content = strings.TrimPrefix(rest[len(op.uid):], " ")
		return op, nil
	}
	return adminOp{}, errUsage
}

func newAdminCommand() *cobra.Command {
	var username, password string
	var legacy bool

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Run the headless admin controller, reading commands from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				username = cfg.Client.Username
			}
			if password == "" {
				password = os.Getenv("LIVECONTROL_PASSWORD")
			}
			return runAdmin(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), username, password, legacy || cfg.Client.LegacyLogin)
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "admin username (default client.username)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "admin password (default $LIVECONTROL_PASSWORD)")
	cmd.Flags().BoolVar(&legacy, "legacy-login", false, "use the /login flow instead of /auth/token")
	return cmd
}

func runAdmin(ctx context.Context, in io.Reader, out io.Writer, username, password string, legacy bool) error {
	client, err := livecontrol_client.NewLiveControlClient(cfg.Client.Origin)
	if err != nil {
		return err
	}
	client.SetHeader("User-Agent", "livecontrol/"+version)
	if cfg.Client.Timeout.Duration > 0 {
		client.SetTimeout(cfg.Client.Timeout.Duration)
	}
	bridge := authbridge.New(client)
	if legacy {
		err = bridge.LegacyLogin(ctx, username, password)
	} else {
		err = bridge.Login(ctx, username, password)
	}
	if err != nil {
		return err
	}
	log.Info().Str("origin", cfg.Client.Origin).Str("username", username).Msg("logged in")

	sink := admin.ErrorSinkFunc(func(err error) {
		fmt.Fprintf(out, "error: %v\n", err)
	})
	rows := func(uid string) entity.Row { return logRow{uid: uid} }
	ctrl, err := admin.New(adminConfig(cfg), bridge, rows, sink)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			op, err := parseAdminLine(line)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			if op.name == "quit" {
				break loop
			}
			if op.name == "logout" {
				cancel()
				<-done
				if err := ctrl.Logout(context.Background()); err != nil {
					return err
				}
				fmt.Fprintf(out, "logged out, continue at %s%s\n", cfg.Client.Origin, livecontrol_client.IndexPage)
				return nil
			}
			err = runAdminOp(ctx, ctrl, out, op)
			switch {
			case errors.Is(err, admin.ErrUnknownEntity):
				fmt.Fprintf(out, "error: %v\n", err)
			case err != nil:
				// dispatch failures already went to the sink
				log.Debug().Err(err).Str("op", op.name).Msg("admin command failed")
			}
		}
	}

	cancel()
	return <-done
}

// adminConfig maps the client section onto the admin controller.
func adminConfig(c *config.Config) admin.Config {
	return admin.Config{
		Origin:       c.Client.Origin,
		PollInterval: c.Client.PollInterval.Duration,
		Policy:       entity.Policy{ApplyContentWhileActive: c.Client.ApplyContentWhileActive},
	}
}

func runAdminOp(ctx context.Context, ctrl *admin.Controller, out io.Writer, op adminOp) error {
	switch op.name {
	case "list":
		uids := ctrl.Tracked()
		sort.Strings(uids)
		for _, uid := range uids {
			m, ok := ctrl.Entity(uid)
			if !ok {
				continue
			}
			active, content := m.State()
			fmt.Fprintf(out, "%s active=%t content=%q\n", uid, active, content)
		}
		return nil
	case "refresh":
		res, err := ctrl.Refresh(ctx)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return err
		}
		fmt.Fprintf(out, "created=%d removed=%d\n", len(res.Created), len(res.Removed))
		return nil
	case "activate":
		return ctrl.Activate(ctx, op.uid)
	case "deactivate":
		return ctrl.Deactivate(ctx, op.uid)
	case "toggle":
		return ctrl.Toggle(ctx, op.uid)
	case "update":
		return ctrl.Update(ctx, op.uid, op.content)
	}
	return errUsage
}
