package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/bus"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/cybersponse"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/logging"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Enrich events from Redis Streams with CyberSponse incidents",
	Long: `Consume OCSF events from the "events" stream, look up every observable they
carry and publish matches to the "enrichments" stream.

The config file is watched: changes to the cybersponse.* connection options
apply to the next event without a restart.

Examples:
  cybersponse-lookup serve --redis redis://localhost:6379`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	logger := newLogger(cfg, "serve")

	if cfg.Redis.URL == "" {
		return errors.New("serve needs a Redis URL (--redis or redis.url)")
	}

	svc, err := startService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	eventBus := bus.NewBus(bus.Options{
		RedisURL:          cfg.Redis.URL,
		RedeliverInterval: cfg.Serve.RedeliverInterval,
		MaxDeliveries:     cfg.Serve.MaxDeliveries,
	}, logger)
	defer eventBus.Close()

	logBusState(ctx, eventBus, logger, "bus ready")

	enricher := worker.NewEnricher(svc, eventBus, cfg.CyberSponse, cfg.Serve.Observables, logger)

	if viper.ConfigFileUsed() != "" {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadOptions(enricher, e, logger)
		})
		viper.WatchConfig()
	}

	logger.Info("starting worker", "group", cfg.Serve.Group, "consumer", cfg.Serve.Consumer, "host", cfg.CyberSponse.Host)

	err = eventBus.ReadEvents(ctx, cfg.Serve.Group, cfg.Serve.Consumer, enricher.HandleEvent)

	m := enricher.Metrics()
	logger.Info("worker stopped",
		"events", m.EventsProcessed, "enrichments", m.EnrichmentsAdded,
		"skipped", m.EventsSkipped, "lookup_errors", m.LookupErrors,
		"publish_errors", m.PublishErrors, "avg", m.AverageProcessTime)

	// ctx is usually cancelled by now
	statsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logBusState(statsCtx, eventBus, logger, "bus final state")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// logBusState logs the bus health and stream statistics.
func logBusState(ctx context.Context, b bus.Bus, logger logging.Logger, msg string) {
	if err := b.HealthCheck(ctx); err != nil {
		logger.Warn("bus health check failed", "error", err)
	}

	stats, err := b.GetStats(ctx)
	if err != nil {
		logger.Warn("failed to get bus stats", "error", err)
		return
	}

	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]interface{}, 0, 2*len(keys))
	for _, k := range keys {
		fields = append(fields, k, stats[k])
	}
	logger.Info(msg, fields...)
}

// reloadOptions applies connection options from the changed config file.
// Invalid options are ignored and the previous ones stay in effect.
func reloadOptions(enricher *worker.Enricher, e fsnotify.Event, logger logging.Logger) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}

	opts := GetConfig().CyberSponse
	if errs := cybersponse.ValidateOptions(opts); len(errs) > 0 {
		logger.Warn("ignoring config change", "file", e.Name, "error", fmt.Sprint(errs))
		return
	}

	enricher.SetOptions(opts)
	logger.Info("reloaded connection options", "file", e.Name, "host", opts.Host)
}
