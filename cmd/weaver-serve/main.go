// Command weaver-serve runs the Query Interface (spec §4.F) and the
// collaboration websocket upgrade (spec §4.D) over one HTTP listener,
// reading the analytical tier other processes keep fresh and brokering
// live editing sessions through the in-process collab hub.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rsform/weaver/internal/collab"
	"github.com/rsform/weaver/internal/config"
	"github.com/rsform/weaver/internal/editdag"
	"github.com/rsform/weaver/internal/federation"
	"github.com/rsform/weaver/internal/httpapi"
	"github.com/rsform/weaver/internal/logging"
	"github.com/rsform/weaver/internal/query"
	"github.com/rsform/weaver/internal/store/analytical"
)

var cfgFile string

const shutdownGrace = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "weaver-serve",
		Short: "Weaver Query Interface and collaboration server",
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
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("analytical-dsn", defaults.GetString("analytical.dsn"), "analytical tier Postgres DSN")
	cmd.PersistentFlags().String("shard-base-dir", defaults.GetString("shard.base_dir"), "hot-tier shard storage directory")
	cmd.PersistentFlags().String("gossip-secret", defaults.GetString("gossip.secret"), "collaboration gossip HMAC secret")
	cmd.PersistentFlags().String("admin-jwt-secret", defaults.GetString("admin.jwt_secret"), "admin status endpoint JWT secret")
	cmd.PersistentFlags().String("federation-base-url", defaults.GetString("federation.base_url"), "federation protocol base URL")
	cmd.PersistentFlags().String("federation-auth-token", defaults.GetString("federation.auth_token"), "federation protocol auth token")
	cmd.PersistentFlags().String("collab-publisher-did", defaults.GetString("federation.publisher_did"), "did this process publishes converged snapshots under")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "analytical.dsn", "analytical-dsn")
	bindFlag(cmd, "shard.base_dir", "shard-base-dir")
	bindFlag(cmd, "gossip.secret", "gossip-secret")
	bindFlag(cmd, "admin.jwt_secret", "admin-jwt-secret")
	bindFlag(cmd, "federation.base_url", "federation-base-url")
	bindFlag(cmd, "federation.auth_token", "federation-auth-token")
	bindFlag(cmd, "federation.publisher_did", "collab-publisher-did")
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

	graphs := editdag.NewGraphLoader(store.DB())

	var hub *collab.Hub
	if len(cfg.GossipSecret) > 0 {
		client := federation.NewClient(federation.Options{BaseURL: cfg.FederationBaseURL, AuthToken: cfg.FederationAuthToken})
		bridge := federation.NewSnapshotBridge(client, graphs, cfg.CollabPublisherDID)
		hub = collab.NewHub(collab.HubOptions{
			Secret:       []byte(cfg.GossipSecret),
			Publisher:    bridge,
			Loader:       bridge,
			Log:          log,
			PresenceTTL:  cfg.GossipIdleTTL,
			SaveInterval: cfg.SessionTTL,
		})
	}

	svc := query.NewService(store, graphs, hub, log)
	server := httpapi.NewServer(svc, hub, store, httpapi.ServerConfigFromConfig(cfg), log)

	httpServer := &http.Server{Addr: cfg.HTTPAddress, Handler: server}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("weaver-serve listening", zap.String("address", cfg.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		log.Info("weaver-serve shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
