package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marcelsud/webhook-dispatch/subscribers"
	"github.com/marcelsud/webhook-dispatch/webhook"
)

type statsView struct {
	Range                 string    `json:"range" yaml:"range"`
	Since                 time.Time `json:"since" yaml:"since"`
	TotalDeliveries       int       `json:"total_deliveries" yaml:"total_deliveries"`
	SuccessRate           float64   `json:"success_rate" yaml:"success_rate"`
	AverageResponseTimeMs int64     `json:"average_response_time_ms" yaml:"average_response_time_ms"`
	FailedDeliveries      int       `json:"failed_deliveries" yaml:"failed_deliveries"`
}

type deliveryView struct {
	ID             string     `json:"id" yaml:"id"`
	URL            string     `json:"url" yaml:"url"`
	Event          string     `json:"event" yaml:"event"`
	Status         string     `json:"status" yaml:"status"`
	Attempt        int        `json:"attempt" yaml:"attempt"`
	StatusCode     int        `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	ResponseTimeMs int64      `json:"response_time_ms,omitempty" yaml:"response_time_ms,omitempty"`
	Error          string     `json:"error,omitempty" yaml:"error,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty" yaml:"delivered_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at" yaml:"created_at"`
}

func render(out io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown format %q (json, yaml)", format)
	}
}

func newStatsCmd(a *app) *cobra.Command {
	var timeRange, format string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize stored deliveries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			_, service, err := a.newEngine(store, subscribers.NewLoader())
			if err != nil {
				return err
			}

			stats, err := service.Stats(ctx, webhook.TimeRange(timeRange))
			if err != nil {
				return err
			}

			return render(a.out, format, statsView{
				Range:                 string(stats.Range),
				Since:                 stats.Since,
				TotalDeliveries:       stats.TotalDeliveries,
				SuccessRate:           stats.SuccessRate,
				AverageResponseTimeMs: stats.AverageResponseTime.Milliseconds(),
				FailedDeliveries:      stats.FailedDeliveries,
			})
		},
	}

	cmd.Flags().StringVar(&timeRange, "range", string(webhook.RangeDay), "hour, day, week or month")
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format (json, yaml)")
	return cmd
}

func newDeliveriesCmd(a *app) *cobra.Command {
	var (
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "List the most recent stored deliveries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			_, service, err := a.newEngine(store, subscribers.NewLoader())
			if err != nil {
				return err
			}

			deliveries, err := service.RecentDeliveries(ctx, limit)
			if err != nil {
				return err
			}

			views := make([]deliveryView, 0, len(deliveries))
			for _, d := range deliveries {
				views = append(views, deliveryView{
					ID:             d.ID,
					URL:            d.WebhookURL,
					Event:          d.Event,
					Status:         d.Status.String(),
					Attempt:        d.Attempt,
					StatusCode:     d.StatusCode,
					ResponseTimeMs: d.ResponseTime.Milliseconds(),
					Error:          d.ErrorMessage,
					DeliveredAt:    d.DeliveredAt,
					CreatedAt:      d.CreatedAt,
				})
			}
			return render(a.out, format, views)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", webhook.DefaultRecentLimit, "number of deliveries")
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format (json, yaml)")
	return cmd
}
