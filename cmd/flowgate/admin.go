package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
)

// withApp loads the config, wires the services and runs fn.
func withApp(ctx context.Context, load loadFunc, fn func(ctx context.Context, a *app) error) error {
	cfg, flush, err := load()
	if err != nil {
		return err
	}
	defer flush()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newSweepCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue pending approvals once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), load, func(ctx context.Context, a *app) error {
				n, err := a.sweeper.Sweep(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d request(s)\n", n)
				return err
			})
		},
	}
}

func newApprovalCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "approval",
		Aliases: []string{"approvals"},
		Short:   "Inspect and decide approval requests",
	}

	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List approval requests, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), load, func(ctx context.Context, a *app) error {
				reqs, err := a.approvals.List(ctx, hitl.Filter{Status: hitl.Status(status), Limit: limit})
				if err != nil {
					return err
				}
				printRequests(cmd.OutOrStdout(), reqs)
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status (pending, approved, rejected, modified, timed_out)")
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of requests")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print one approval request as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), load, func(ctx context.Context, a *app) error {
				req, err := a.approvals.Get(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(req)
			})
		},
	})

	cmd.AddCommand(newDecideCmd(load, hitl.ActionApprove), newDecideCmd(load, hitl.ActionReject))
	return cmd
}

// newDecideCmd decides a request as the local operator. The CLI is a
// trusted channel, so no webhook secret is needed.
func newDecideCmd(load loadFunc, action hitl.Action) *cobra.Command {
	var reason, params string
	c := &cobra.Command{
		Use:   string(action) + " <id>",
		Short: strings.ToUpper(string(action[:1])) + string(action[1:]) + " a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cb := hitl.Callback{
				Action:    string(action),
				RequestID: args[0],
				ActorID:   operator(),
				Reason:    reason,
			}
			if params != "" {
				cb.Action = string(hitl.ActionModify)
				cb.ModifiedParams = json.RawMessage(params)
			}
			return withApp(cmd.Context(), load, func(ctx context.Context, a *app) error {
				res, err := a.resolver.ResolveTrusted(ctx, cb)
				switch {
				case err == nil:
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.RequestID, res.Status)
					if res.Status == hitl.StatusApproved || res.Status == hitl.StatusModified {
						fmt.Fprintln(cmd.ErrOrStderr(), "running workflow...")
					}
					return nil
				case errors.Is(err, domain.ErrAlreadyDecided), errors.Is(err, domain.ErrExpired):
					return fmt.Errorf("%s is already %s", res.RequestID, res.Status)
				}
				return err
			})
		},
	}
	c.Flags().StringVar(&reason, "reason", "", "reason recorded with the decision")
	if action == hitl.ActionApprove {
		c.Flags().StringVar(&params, "params", "", "replacement workflow parameters as a JSON object")
	}
	return c
}

func operator() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return "cli:" + name
	}
	return "cli"
}

func printRequests(out io.Writer, reqs []hitl.Request) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWORKFLOW\tSTATUS\tCREATED\tEXPIRES\tDECIDED BY")
	for i := range reqs {
		r := &reqs[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.WorkflowName, r.Status,
			r.CreatedAt.Local().Format(time.DateTime),
			r.ExpiresAt.Local().Format(time.DateTime),
			r.DecidedBy)
	}
	_ = w.Flush()
}
