package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	fgnats "github.com/Strob0t/flowgate/internal/adapter/nats"
	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/port/messagequeue"
)

func newEventsCmd(load loadFunc) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail approval lifecycle events from NATS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, flush, err := load()
			if err != nil {
				return err
			}
			defer flush()
			if cfg.NATS.URL == "" {
				return fmt.Errorf("nats.url is not configured")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			q, err := fgnats.Connect(ctx, cfg.NATS.URL)
			if err != nil {
				return err
			}
			defer func() { _ = q.Close() }()

			out := cmd.OutOrStdout()
			cancel, err := q.Subscribe(ctx, messagequeue.SubjectHITLAll, func(_ context.Context, subject string, data []byte) error {
				if raw {
					fmt.Fprintf(out, "%s %s\n", subject, data)
					return nil
				}
				var ev hitl.Event
				if err := json.Unmarshal(data, &ev); err != nil {
					fmt.Fprintf(out, "%s (undecodable) %s\n", subject, data)
					return nil
				}
				fmt.Fprintf(out, "%s  %-9s %s  %s  %s", ev.At.Local().Format("15:04:05"), ev.Type, ev.RequestID, ev.Workflow, ev.Status)
				if ev.Actor != "" {
					fmt.Fprintf(out, "  by %s", ev.Actor)
				}
				if ev.Detail != "" {
					fmt.Fprintf(out, "  (%s)", ev.Detail)
				}
				fmt.Fprintln(out)
				return nil
			})
			if err != nil {
				return err
			}
			defer cancel()

			fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s, press Ctrl-C to stop\n", messagequeue.SubjectHITLAll)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the raw JSON payloads")
	return cmd
}
