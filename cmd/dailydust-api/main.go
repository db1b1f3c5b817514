package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/dailydust/internal/auth"
	"github.com/MarcoPoloResearchLab/dailydust/internal/chain"
	"github.com/MarcoPoloResearchLab/dailydust/internal/config"
	"github.com/MarcoPoloResearchLab/dailydust/internal/database"
	"github.com/MarcoPoloResearchLab/dailydust/internal/indexer"
	"github.com/MarcoPoloResearchLab/dailydust/internal/localstore"
	"github.com/MarcoPoloResearchLab/dailydust/internal/logging"
	"github.com/MarcoPoloResearchLab/dailydust/internal/notes"
	"github.com/MarcoPoloResearchLab/dailydust/internal/publish"
	"github.com/MarcoPoloResearchLab/dailydust/internal/reconcile"
	"github.com/MarcoPoloResearchLab/dailydust/internal/server"
	"github.com/MarcoPoloResearchLab/dailydust/internal/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	autosaveDelay   = 750 * time.Millisecond
	shutdownTimeout = 10 * time.Second
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dailydust-api",
		Short: "DailyDust notes caching and publishing service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
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
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("indexer-url", "", "Indexer query endpoint")
	cmd.PersistentFlags().String("world-address", "", "World contract address")
	cmd.PersistentFlags().String("namespace", defaults.GetString("indexer.namespace"), "World namespace of the note tables")
	cmd.PersistentFlags().String("relay-url", "", "Transaction relay endpoint")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Duration("nearby-interval", defaults.GetDuration("nearby.interval"), "Nearby scan interval")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "indexer.url", "indexer-url")
	bindFlag(cmd, "indexer.world_address", "world-address")
	bindFlag(cmd, "indexer.namespace", "namespace")
	bindFlag(cmd, "chain.relay_url", "relay-url")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "nearby.interval", "nearby-interval")
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
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

type runnable interface {
	Run(ctx context.Context) error
}

type stores struct {
	notes       *localstore.NotesStore
	drafts      *localstore.DraftsStore
	waypoints   *localstore.WaypointsStore
	collections *localstore.CollectionsStore
	links       *localstore.LinksStore
}

func (s stores) all() []runnable {
	return []runnable{s.notes, s.drafts, s.waypoints, s.collections, s.links}
}

func openStores(ctx context.Context, cfg localstore.Config) (stores, error) {
	var (
		opened stores
		err    error
	)
	if opened.notes, err = localstore.NewNotesStore(cfg); err != nil {
		return stores{}, err
	}
	if opened.drafts, err = localstore.NewDraftsStore(cfg); err != nil {
		return stores{}, err
	}
	if opened.waypoints, err = localstore.NewWaypointsStore(cfg); err != nil {
		return stores{}, err
	}
	if opened.collections, err = localstore.NewCollectionsStore(cfg); err != nil {
		return stores{}, err
	}
	if opened.links, err = localstore.NewLinksStore(cfg); err != nil {
		return stores{}, err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, load := range []func(context.Context) error{
		opened.notes.Load,
		opened.drafts.Load,
		opened.waypoints.Load,
		opened.collections.Load,
		opened.links.Load,
	} {
		group.Go(func() error {
			return load(groupCtx)
		})
	}
	if err := group.Wait(); err != nil {
		return stores{}, err
	}
	return opened, nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := storage.NewSQLiteBackend(db)
	if err != nil {
		return err
	}
	bus := storage.NewBroadcaster()
	local, err := openStores(signalCtx, localstore.Config{
		Backend: backend,
		Bus:     bus,
		IDs:     notes.NewUUIDProvider(),
		Clock:   time.Now,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	indexerClient, err := indexer.NewClient(indexer.ClientConfig{
		Endpoint: appConfig.IndexerURL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	notesService, err := notes.NewService(notes.ServiceConfig{
		Indexer:      indexerClient,
		WorldAddress: appConfig.WorldAddress,
		Namespace:    appConfig.Namespace,
		Clock:        time.Now,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	relay, err := chain.NewRelayClient(chain.RelayConfig{URL: appConfig.RelayURL, Logger: logger})
	if err != nil {
		return err
	}
	publisher, err := publish.NewPublisher(publish.PublisherConfig{
		Submitter: relay,
		Namespace: appConfig.Namespace,
		Drafts:    local.drafts,
		Waypoints: local.waypoints,
		Links:     local.links,
		Notes:     local.notes,
		Routes:    notesService,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	hydrator, err := publish.NewHydrator(publish.HydratorConfig{
		Notes:     notesService,
		Drafts:    local.drafts,
		Waypoints: local.waypoints,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	provider, err := reconcile.NewIndexerSpatialProvider(reconcile.IndexerProviderConfig{
		Indexer:      indexerClient,
		WorldAddress: appConfig.WorldAddress,
		Namespace:    appConfig.NearbyTableNamespace,
		Table:        appConfig.NearbyTableName,
	})
	if err != nil {
		return err
	}
	scanner, err := reconcile.NewNearbyScanner(reconcile.ScannerConfig{
		Provider:  provider,
		Notes:     local.notes,
		Waypoints: local.waypoints,
		Links:     local.links,
		Step:      appConfig.NearbyStep,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	tracker, err := reconcile.NewNearbyTracker(reconcile.TrackerConfig{
		Scanner:  scanner,
		Radius:   appConfig.NearbyRadius,
		Interval: appConfig.NearbyInterval,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	autosaver := localstore.NewAutosaver(local.drafts, autosaveDelay, logger)
	defer func() {
		if err := autosaver.Flush(context.Background()); err != nil {
			logger.Warn("final draft autosave failed", zap.Error(err))
		}
	}()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Notes:       notesService,
		LocalNotes:  local.notes,
		Drafts:      local.drafts,
		Waypoints:   local.waypoints,
		Collections: local.collections,
		Links:       local.links,
		Autosaver:   autosaver,
		Publisher:   publisher,
		Hydrator:    hydrator,
		Nearby:      tracker,
		Changes:     bus,
		Sessions:    sessions,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	group, groupCtx := errgroup.WithContext(signalCtx)
	for _, store := range local.all() {
		group.Go(func() error {
			return ignoreCancel(store.Run(groupCtx))
		})
	}
	group.Go(func() error {
		return ignoreCancel(tracker.Run(groupCtx))
	})
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
