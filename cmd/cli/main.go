package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/marcelsud/webhook-dispatch/config"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/breaker"
	"github.com/marcelsud/webhook-dispatch/webhook/dispatch"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/marcelsud/webhook-dispatch/webhook/postgres"
	"github.com/marcelsud/webhook-dispatch/webhook/redis"
	"github.com/marcelsud/webhook-dispatch/webhook/transform"
)

/* webhook-cli runs the delivery engine in-process against the configured store
 * Useful to smoke test a subscriber endpoint or inspect recent deliveries
 */

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	out    io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var (
		envDir  string
		verbose bool
	)

	root := &cobra.Command{
		Use:          "webhook-cli",
		Short:        "Send, inspect and verify webhook deliveries",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.out = cmd.OutOrStdout()

			level := zerolog.InfoLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			a.logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).
				Level(level).
				With().Timestamp().Logger()

			cfg, err := config.Load(envDir)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&envDir, "env-dir", ".", "directory holding the .env file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newSendCmd(a),
		newBroadcastCmd(a),
		newStatsCmd(a),
		newDeliveriesCmd(a),
		newSecretCmd(a),
	)
	return root
}

func (a *app) openStore(ctx context.Context) (webhook.Store, error) {
	switch a.cfg.StoreDriver {
	case config.DriverRedis:
		repo, err := redis.NewRepository(
			a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB,
			redis.WithTTL(a.cfg.DeliveredTTL(), a.cfg.FailedTTL()),
			redis.WithLogger(a.logger),
		)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.DriverPostgres:
		repo, err := postgres.NewRepository(a.cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := repo.Migrate(ctx); err != nil {
			_ = repo.Close(ctx)
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.cfg.StoreDriver)
	}
}

// newEngine builds a dispatcher that reports every finished delivery to
// a.out before storing it, and a service feeding it
func (a *app) newEngine(store webhook.Store, resolver webhook.Resolver) (*dispatch.Dispatcher, *webhook.Service, error) {
	engine, err := transform.NewEngine()
	if err != nil {
		return nil, nil, fmt.Errorf("creating transform engine: %w", err)
	}

	clock := webhook.SystemClock{}
	dispatcher := dispatch.NewDispatcher(
		&printingWriter{next: store, out: a.out},
		dispatch.NewHTTPExecutor(clock),
		dispatch.WithClock(clock),
		dispatch.WithBreakers(breaker.NewRegistry(clock.Now)),
		dispatch.WithLogger(a.logger),
	)

	service := webhook.NewService(
		store,
		dispatcher,
		resolver,
		payload.NewBuilder(a.cfg.PayloadVersion, a.cfg.Source, a.cfg.Environment),
		webhook.WithTransformer(engine),
		webhook.WithBreakers(dispatcher),
		webhook.WithDefaultPolicy(a.cfg.RetryPolicy()),
		webhook.WithLogger(a.logger),
	)
	return dispatcher, service, nil
}

// printingWriter reports terminal results, then forwards them
type printingWriter struct {
	next webhook.Writer
	out  io.Writer
}

func (w *printingWriter) SaveResult(ctx context.Context, d webhook.Delivery) error {
	line := fmt.Sprintf("%s %s status=%s attempts=%d", d.ID, webhook.MaskURL(d.WebhookURL), d.Status, d.Attempt)
	if d.StatusCode != 0 {
		line += fmt.Sprintf(" code=%d", d.StatusCode)
	}
	if d.ResponseTime > 0 {
		line += fmt.Sprintf(" time=%s", d.ResponseTime.Round(time.Millisecond))
	}
	if d.ErrorMessage != "" {
		line += fmt.Sprintf(" error=%q", d.ErrorMessage)
	}
	fmt.Fprintln(w.out, line)

	if w.next == nil {
		return nil
	}
	return w.next.SaveResult(ctx, d)
}

// drain processes queued deliveries, retries included, until none is left
func drain(ctx context.Context, d *dispatch.Dispatcher, clock webhook.Clock) error {
	for {
		d.ProcessDue(ctx)

		next, ok := d.Queue().NextDue()
		if !ok {
			return nil
		}

		wait := next.Sub(clock.Now())
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("waiting for %d pending deliveries: %w", d.Len(), ctx.Err())
		case <-timer.C:
		}
	}
}
