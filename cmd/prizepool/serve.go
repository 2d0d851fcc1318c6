package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	app "github.com/R3E-Network/prizepool/internal/app"
	"github.com/R3E-Network/prizepool/internal/app/httpapi"
	"github.com/R3E-Network/prizepool/internal/app/keeper"
	"github.com/R3E-Network/prizepool/internal/app/services/params"
	"github.com/R3E-Network/prizepool/internal/app/services/randomness"
	"github.com/R3E-Network/prizepool/internal/app/storage"
	"github.com/R3E-Network/prizepool/internal/app/storage/postgres"
	"github.com/R3E-Network/prizepool/internal/config"
	"github.com/R3E-Network/prizepool/pkg/logger"
)

func newServeCommand() *cobra.Command {
	var envFiles []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the round keeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringSliceVar(&envFiles, "env", []string{".env"}, "dotenv files to load before reading the environment")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(logger.Config{Component: "prizepool", Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	admin, set, err := config.LoadParams(cfg.Params.File, cfg.Params.Admin)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeStore()

	source, err := buildSource(cfg.Randomness, set, log)
	if err != nil {
		return err
	}

	opts := app.Options{Admin: admin, Params: set, Store: store, Source: source}
	if cfg.Keeper.Enabled {
		opts.Keeper = &keeper.Config{
			Schedule: cfg.Keeper.Schedule,
			Executor: common.HexToAddress(cfg.Keeper.Executor),
			Timeout:  cfg.Keeper.Timeout,
		}
	}
	application, err := app.New(ctx, opts, log)
	if err != nil {
		return err
	}

	handlerOpts := []httpapi.Option{httpapi.WithLogger(log.Named("httpapi"))}
	if cfg.HTTP.RateLimit > 0 {
		handlerOpts = append(handlerOpts, httpapi.WithRateLimiter(httpapi.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst, log.Named("ratelimit"))))
	}
	if !cfg.HTTP.VaultEndpoints {
		handlerOpts = append(handlerOpts, httpapi.WithVault(nil))
	}
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           application.Handler(handlerOpts...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serverErr:
		log.WithError(err).Error("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Warn("http shutdown")
	}
	if stopErr := application.Stop(shutdownCtx); stopErr != nil {
		log.WithError(stopErr).Warn("stop application")
	}
	return err
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (storage.Store, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		log.Warn("PRIZEPOOL_DATABASE_URL not set; round history is kept in memory")
		return nil, func() {}, nil
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return postgres.New(db), func() { db.Close() }, nil
}

func buildSource(cfg config.RandomnessConfig, set params.Set, log *logger.Logger) (randomness.Source, error) {
	if endpoint := strings.TrimSpace(cfg.URL); endpoint != "" {
		client := &http.Client{Timeout: 10 * time.Second}
		return randomness.NewHTTPSource(client, endpoint, cfg.APIKey, cfg.Interval, log.Named("randomness"))
	}

	var secret *uint256.Int
	if raw := strings.TrimSpace(cfg.Secret); raw != "" {
		v, err := uint256.FromHex(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: PRIZEPOOL_RANDOMNESS_SECRET: %v", config.ErrInvalidConfig, err)
		}
		secret = v
	} else {
		log.Warn("PRIZEPOOL_RANDOMNESS_SECRET not set; local seeds use a random secret")
	}
	return randomness.NewPhaseSource(randomness.PhaseConfig{
		BlockTime: set.BlockTime,
		Interval:  cfg.Interval,
		Secret:    secret,
	})
}
