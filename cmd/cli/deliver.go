package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcelsud/webhook-dispatch/subscribers"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/transform"
)

const defaultWait = 2 * time.Minute

func parseData(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("parsing --data as JSON: %w", err)
	}
	return data, nil
}

func newSendCmd(a *app) *cobra.Command {
	var (
		url, event, data string
		secret, expr     string
		userID           string
		headers          map[string]string
		maxRetries       int
		wait             time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Deliver one event to one URL and wait for the outcome",
		Example: `  webhook-cli send --url https://example.com/hook --event user.created --data '{"id":1}'
  webhook-cli send --url http://localhost:9000/in --event ping --secret whsec_... -H X-Team=core`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payloadData, err := parseData(data)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			dispatcher, service, err := a.newEngine(store, subscribers.NewLoader())
			if err != nil {
				return err
			}

			opts := webhook.SendOptions{
				UserID:    userID,
				Headers:   headers,
				Transform: expr,
				Secret:    secret,
			}
			if maxRetries >= 0 {
				policy := a.cfg.RetryPolicy()
				policy.MaxRetries = maxRetries
				opts.RetryPolicy = &policy
			}

			delivery, err := service.Send(ctx, url, event, payloadData, opts)
			if err != nil {
				return err
			}
			a.logger.Debug().Str("delivery_id", delivery.ID).Msg("queued")

			return drain(ctx, dispatcher, webhook.SystemClock{})
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "destination URL")
	cmd.Flags().StringVar(&event, "event", "", "event type")
	cmd.Flags().StringVar(&data, "data", "", "event data as JSON")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret")
	cmd.Flags().StringVar(&expr, "transform", "", "CEL expression applied to the payload")
	cmd.Flags().StringVar(&userID, "user", "", "owning user id")
	cmd.Flags().StringToStringVarP(&headers, "header", "H", nil, "custom header, key=value")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "override WEBHOOK_MAX_RETRIES")
	cmd.Flags().DurationVar(&wait, "wait", defaultWait, "how long to wait for retries to finish")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

func newBroadcastCmd(a *app) *cobra.Command {
	var (
		data, file     string
		userID, source string
		wait           time.Duration
	)

	cmd := &cobra.Command{
		Use:   "broadcast <event>",
		Short: "Deliver an event to every matching subscriber",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payloadData, err := parseData(data)
			if err != nil {
				return err
			}
			if file == "" {
				file = a.cfg.SubscribersFile
			}

			engine, err := transform.NewEngine()
			if err != nil {
				return fmt.Errorf("creating transform engine: %w", err)
			}
			loader := subscribers.NewLoader(
				subscribers.WithDefaultPolicy(a.cfg.RetryPolicy()),
				subscribers.WithCompiler(engine),
			)
			if err := loader.Load(file); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			dispatcher, service, err := a.newEngine(store, loader)
			if err != nil {
				return err
			}

			deliveries, err := service.Broadcast(ctx, args[0], payloadData, webhook.BroadcastOptions{
				UserID:       userID,
				SourceUserID: source,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%d deliveries queued for %s\n", len(deliveries), args[0])

			return drain(ctx, dispatcher, webhook.SystemClock{})
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "event data as JSON")
	cmd.Flags().StringVar(&file, "subscribers", "", "subscribers file (default SUBSCRIBERS_FILE)")
	cmd.Flags().StringVar(&userID, "user", "", "only deliver to this user's subscribers")
	cmd.Flags().StringVar(&source, "source-user", "", "user whose action produced the event")
	cmd.Flags().DurationVar(&wait, "wait", defaultWait, "how long to wait for retries to finish")

	return cmd
}
