// Command weaver-ingest runs the Firehose Ingester (spec §4.A), the
// background gap validator (spec §7 Recovery), and the periodic
// denormalized-view refresh scheduler (spec §4.B) as one long-running
// consumer process bound to a single consumer_id.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rsform/weaver/internal/config"
	"github.com/rsform/weaver/internal/federation"
	"github.com/rsform/weaver/internal/ingest"
	"github.com/rsform/weaver/internal/logging"
	"github.com/rsform/weaver/internal/store/analytical"
	"github.com/rsform/weaver/internal/validate"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "weaver-ingest",
		Short: "Weaver firehose ingester and analytical tier maintenance",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a configuration file")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("firehose-url", defaults.GetString("ingest.firehose_url"), "firehose websocket URL")
	cmd.PersistentFlags().String("consumer-id", defaults.GetString("ingest.consumer_id"), "firehose consumer id / cursor key")
	cmd.PersistentFlags().Int("dlq-capacity", defaults.GetInt("ingest.dlq_capacity"), "dead-letter queue capacity")
	cmd.PersistentFlags().Int("batch-size", defaults.GetInt("ingest.batch_size"), "analytical tier commit batch size")
	cmd.PersistentFlags().Duration("batch-interval", defaults.GetDuration("ingest.batch_interval"), "analytical tier commit interval")
	cmd.PersistentFlags().Duration("reconnect-min-delay", defaults.GetDuration("ingest.reconnect_min_delay"), "minimum firehose reconnect backoff")
	cmd.PersistentFlags().Duration("reconnect-max-delay", defaults.GetDuration("ingest.reconnect_max_delay"), "maximum firehose reconnect backoff")
	cmd.PersistentFlags().String("analytical-dsn", defaults.GetString("analytical.dsn"), "analytical tier Postgres DSN")
	cmd.PersistentFlags().Duration("head-refresh-period", defaults.GetDuration("analytical.head_refresh_period"), "edit DAG head materialized-view refresh period")
	cmd.PersistentFlags().String("federation-base-url", defaults.GetString("federation.base_url"), "federation protocol base URL used by the gap validator")
	cmd.PersistentFlags().String("federation-auth-token", defaults.GetString("federation.auth_token"), "federation protocol auth token")

	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "ingest.firehose_url", "firehose-url")
	bindFlag(cmd, "ingest.consumer_id", "consumer-id")
	bindFlag(cmd, "ingest.dlq_capacity", "dlq-capacity")
	bindFlag(cmd, "ingest.batch_size", "batch-size")
	bindFlag(cmd, "ingest.batch_interval", "batch-interval")
	bindFlag(cmd, "ingest.reconnect_min_delay", "reconnect-min-delay")
	bindFlag(cmd, "ingest.reconnect_max_delay", "reconnect-max-delay")
	bindFlag(cmd, "analytical.dsn", "analytical-dsn")
	bindFlag(cmd, "analytical.head_refresh_period", "head-refresh-period")
	bindFlag(cmd, "federation.base_url", "federation-base-url")
	bindFlag(cmd, "federation.auth_token", "federation-auth-token")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" && !errors.As(err, &notFound) {
			return err
		}
	}
	return nil
}

func run(ctx context.Context) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	store, err := analytical.Open(ctx, cfg.AnalyticalDSN, log)
	if err != nil {
		return err
	}
	defer store.Close()

	schemas, err := validate.NewRegistry()
	if err != nil {
		return err
	}
	decoder := ingest.NewDecoder(schemas)
	dlq := ingest.NewDeadLetter(store, log)
	revs := ingest.NewRevTracker(store)
	batch := analytical.NewBatchInserter(store, log, cfg.BatchSize, cfg.BatchInterval)

	consumer := ingest.NewConsumer(ingest.ConsumerOptions{
		URL:               cfg.FirehoseURL,
		ConsumerID:        cfg.ConsumerID,
		Store:             store,
		Decoder:           decoder,
		DeadLetter:        dlq,
		RevTracker:        revs,
		Batch:             batch,
		Log:               log,
		ReconnectMinDelay: cfg.ReconnectMinDelay,
		ReconnectMaxDelay: cfg.ReconnectMaxDelay,
	})

	fetcher := federation.NewClient(federation.Options{BaseURL: cfg.FederationBaseURL, AuthToken: cfg.FederationAuthToken})
	validator := ingest.NewValidator(store, fetcher, decoder, log, cfg.HeadRefreshPeriod)
	refresh := analytical.NewRefreshScheduler(store, log, cfg.HeadRefreshPeriod)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("weaver-ingest consumer starting", zap.String("consumer_id", cfg.ConsumerID))
		errCh <- consumer.Run(signalCtx)
	}()
	go validator.Run(signalCtx)
	go refresh.Run(signalCtx)

	select {
	case <-signalCtx.Done():
		log.Info("weaver-ingest shutting down")
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}
