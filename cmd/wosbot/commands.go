package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"wosbot/internal/api"
	"wosbot/internal/app"
	"wosbot/internal/config"
	"wosbot/internal/task/scheduler"
)

func newValidateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(*cfgPath).Parse()
			if err != nil {
				return fmt.Errorf("parse %s: %w", *cfgPath, err)
			}
			if err := app.ValidateConfig(cfg); err != nil {
				return err
			}
			ps, err := cfg.ProfileList()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d profiles)\n", *cfgPath, len(ps))
			return nil
		},
	}
}

func newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List task names a profile can enable",
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range app.TaskNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

type statusView struct {
	Version  string                    `json:"version"`
	State    string                    `json:"state"`
	Profiles []scheduler.ProfileStatus `json:"profiles"`
}

func newStatusCmd() *cobra.Command {
	var (
		addr    string
		token   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running bot over its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			st, err := fetchStatus(ctx, addr, token)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", api.DefaultAddr, "API address")
	cmd.Flags().StringVar(&token, "token", "", "API bearer token")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func fetchStatus(ctx context.Context, addr, token string) (statusView, error) {
	url := addr
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(url, "/")+"/status", nil)
	if err != nil {
		return statusView{}, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return statusView{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return statusView{}, fmt.Errorf("status: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var st statusView
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return statusView{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

func printStatus(w io.Writer, st statusView) error {
	fmt.Fprintf(w, "bot: %s", st.State)
	if st.Version != "" {
		fmt.Fprintf(w, " (version %s)", st.Version)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROFILE\tNAME\tSTATE\tREASON\tNEXT TASK\tNEXT RUN")
	for _, p := range st.Profiles {
		next, at := "-", "-"
		var soonest time.Time
		for _, u := range p.Units {
			if soonest.IsZero() || u.NextRun.Before(soonest) {
				soonest = u.NextRun
				next, at = string(u.Type), u.NextRun.Local().Format(time.DateTime)
			}
		}
		reason := p.Queue.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Queue.State, reason, next, at)
	}
	return tw.Flush()
}
