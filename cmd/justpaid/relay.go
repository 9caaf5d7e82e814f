package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/justpaid/adapters/clock"
	"github.com/artpar/justpaid/adapters/kafka"
	"github.com/artpar/justpaid/adapters/metrics"
	"github.com/artpar/justpaid/app"
	"github.com/artpar/justpaid/config"
	"github.com/artpar/justpaid/ports"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay usage batches from Kafka into JustPaid",
	Long: `Consume usage batches from a Kafka topic and submit them to JustPaid.

Each message value is an events document, {"events": [...]}. A batch is
submitted as a background job and the message offset is committed once the
job has finished. Messages that can never be ingested are published to the
dead-letter topic, when one is configured, and skipped.

When the configuration comes from a file, polling settings and the log level
are reloaded when the file changes or on SIGHUP.

Environment variables:
  JUSTPAID_RELAY_BROKERS    - Comma-separated Kafka brokers (required)
  JUSTPAID_RELAY_TOPIC      - Topic carrying usage batches (required)
  JUSTPAID_RELAY_GROUP_ID   - Consumer group (default: justpaid-relay)
  JUSTPAID_RELAY_DLQ_TOPIC  - Dead-letter topic
  JUSTPAID_METRICS_ENABLED  - Serve Prometheus metrics

Examples:
  justpaid relay --config /etc/justpaid/relay.yaml
  JUSTPAID_API_TOKEN=... JUSTPAID_RELAY_BROKERS=kafka:9092 \
      JUSTPAID_RELAY_TOPIC=usage justpaid relay`,
	RunE: runRelay,
}

var relayHotReload bool

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().BoolVar(&relayHotReload, "hot-reload", true, "reload polling and logging settings when the config file changes")
}

func runRelay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, holder, err := loadRelayConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Relay.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, cmd.ErrOrStderr()).With().Str("component", "relay").Logger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg)

	poll := func() app.PollConfig { return pollConfig(cfg.Polling) }
	if holder != nil {
		defer holder.Stop()
		holder.OnChange(func(c *config.Config) {
			setLogLevel(c.Logging.Level)
			collector.ConfigReloads.Inc()
		})
		if relayHotReload {
			if err := holder.WatchFile(); err != nil {
				logger.Warn().Err(err).Msg("config file watch disabled")
			}
			holder.WatchSignals()
		}
		poll = func() app.PollConfig { return pollConfig(holder.Get().Polling) }
	}

	source, err := kafka.NewSource(kafka.SourceConfig{
		Brokers: cfg.Relay.Brokers,
		Topic:   cfg.Relay.Topic,
		GroupID: cfg.Relay.GroupID,
	})
	if err != nil {
		return err
	}
	defer source.Close()

	var deadLetter ports.DeadLetterSink
	if cfg.Relay.DeadLetterTopic != "" {
		dl := kafka.NewDeadLetter(cfg.Relay.Brokers, cfg.Relay.DeadLetterTopic)
		defer dl.Close()
		deadLetter = dl
	}

	api := newAPI(cfg.API, logger, collector)
	relay := app.NewRelay(app.RelayConfig{
		Source:   source,
		Ingester: api,
		Waiter: app.NewJobWaiter(app.JobWaiterConfig{
			Jobs:    api,
			Clock:   clock.Real{},
			Logger:  logger,
			Metrics: collector,
			Poll:    poll(),
		}),
		DeadLetter: deadLetter,
		Poll:       poll,
		Clock:      clock.Real{},
		RetryDelay: cfg.Relay.RetryDelay,
		Logger:     logger,
		Metrics:    collector,
	})

	if cfg.Metrics.Enabled {
		srv := startMetricsServer(cfg.Metrics, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().
		Strs("brokers", cfg.Relay.Brokers).
		Str("topic", cfg.Relay.Topic).
		Str("group_id", cfg.Relay.GroupID).
		Str("dead_letter_topic", cfg.Relay.DeadLetterTopic).
		Msg("starting relay")
	return relay.Run(ctx)
}

// loadRelayConfig prefers a reloadable config file and falls back to the
// environment. The holder is nil in the latter case.
func loadRelayConfig(cmd *cobra.Command) (*config.Config, *config.Holder, error) {
	if _, err := os.Stat(cfgFile); err == nil {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, nil, err
		}
		holder, err := config.NewHolder(cfgFile, newLogger(cfg.Logging, cmd.ErrOrStderr()).With().Str("component", "config").Logger())
		if err != nil {
			return nil, nil, err
		}
		return holder.Get(), holder, nil
	}
	if !config.HasEnvConfig() {
		return nil, nil, fmt.Errorf("no configuration found: create %s or set JUSTPAID_API_TOKEN", cfgFile)
	}
	cfg, err := config.LoadFromEnv()
	return cfg, nil, err
}

func startMetricsServer(c config.MetricsConfig, g prometheus.Gatherer, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(c.Path, metrics.Handler(g))
	srv := &http.Server{
		Addr:              c.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", c.Addr).Str("path", c.Path).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server")
		}
	}()
	return srv
}
