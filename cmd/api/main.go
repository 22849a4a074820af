package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httplog"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marcelsud/webhook-dispatch/config"
	"github.com/marcelsud/webhook-dispatch/internal/http/chi"
	"github.com/marcelsud/webhook-dispatch/metrics"
	"github.com/marcelsud/webhook-dispatch/subscribers"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/breaker"
	"github.com/marcelsud/webhook-dispatch/webhook/dispatch"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/marcelsud/webhook-dispatch/webhook/transform"
)

const TIMEOUT = 30 * time.Second

/* main wires everything and owns process lifetime
 * Imports flow one way: the binary imports the business layer, which
 * imports the storage layer
 */

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	logger := httplog.NewLogger("webhook-dispatch", httplog.Options{
		JSON: true,
	})
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("webhook-dispatch stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	instanceID := cfg.InstanceID
	if instanceID == "" {
		host, _ := os.Hostname()
		instanceID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	logger = logger.With().Str("instance_id", instanceID).Logger()

	b, err := openBackend(ctx, cfg, logger, instanceID)
	if err != nil {
		return err
	}
	defer b.store.Close(context.Background())

	engine, err := transform.NewEngine()
	if err != nil {
		return fmt.Errorf("creating transform engine: %w", err)
	}

	loader := subscribers.NewLoader(
		subscribers.WithDefaultPolicy(cfg.RetryPolicy()),
		subscribers.WithCompiler(engine),
	)
	if err := loader.Load(cfg.SubscribersFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		logger.Warn().Str("file", cfg.SubscribersFile).Msg("subscribers file not found, broadcasts reach nobody")
	}
	go reloadOnHangup(ctx, loader, cfg.SubscribersFile, logger)
	if cfg.SubscribersWatch {
		watcher, err := subscribers.NewWatcher(loader, cfg.SubscribersFile, logger.With().Str("component", "subscribers").Logger())
		if err != nil {
			logger.Warn().Err(err).Msg("subscribers file watch disabled")
		} else {
			go watcher.Run(ctx)
		}
	}

	clock := webhook.SystemClock{}
	dispatcher := dispatch.NewDispatcher(
		b.store,
		dispatch.NewHTTPExecutor(clock),
		dispatch.WithClock(clock),
		dispatch.WithBreakers(breaker.NewRegistry(clock.Now)),
		dispatch.WithIdleInterval(cfg.IdleInterval()),
		dispatch.WithLogger(logger.With().Str("component", "dispatcher").Logger()),
	)

	service := webhook.NewService(
		b.store,
		dispatcher,
		loader,
		payload.NewBuilder(cfg.PayloadVersion, cfg.Source, cfg.Environment),
		webhook.WithTransformer(engine),
		webhook.WithAuditor(b.auditor),
		webhook.WithBreakers(dispatcher),
		webhook.WithDefaultPolicy(cfg.RetryPolicy()),
		webhook.WithLogger(logger.With().Str("component", "service").Logger()),
	)

	collector := metrics.NewDeliveryCollector(dispatcher, b.store, b.heartbeats, clock)
	exporter, err := metrics.NewOTelExporter(collector)
	if err != nil {
		return fmt.Errorf("creating metrics exporter: %w", err)
	}
	defer exporter.Shutdown(context.Background())

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		if err := dispatcher.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("dispatcher stopped")
		}
	}()
	b.start(ctx, dispatcher)

	r := chi.Handlers(logger, chi.Dependencies{
		Webhooks:    service,
		Subscribers: loader,
		Metrics:     exporter.ServeHTTP(),
		Health:      b.health,
	})
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      r,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)

	logger.Info().
		Str("port", cfg.Port).
		Str("store", cfg.StoreDriver).
		Int("subscribers", len(loader.List())).
		Msg("listening")

	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	if err := <-errShutdown; err != nil {
		return err
	}

	<-dispatcherDone
	return nil
}

// reloadOnHangup reloads the subscribers file on SIGHUP. A bad file is
// logged and the previous subscribers stay active.
func reloadOnHangup(ctx context.Context, loader *subscribers.Loader, path string, logger zerolog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := loader.Load(path); err != nil {
				logger.Error().Err(err).Str("file", path).Msg("reloading subscribers")
				continue
			}
			logger.Info().Int("subscribers", len(loader.List())).Msg("subscribers reloaded")
		}
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("shutting down server: %w", err)
	}
}
