package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/joho/godotenv"
	"github.com/penguhub/marketplace/api"
	"github.com/penguhub/marketplace/api/background"
	"github.com/penguhub/marketplace/config"
	"github.com/penguhub/marketplace/core/auth"
	"github.com/penguhub/marketplace/database"
	"github.com/penguhub/marketplace/rate"
	"github.com/penguhub/marketplace/realtime"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var build = "develop"

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if err := Run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	const prefix = "PENGU"
	cfg := config.Config{
		Version: conf.Version{
			Build: build,
			Desc:  "pengu marketplace api",
		},
	}
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	if err := setupLogger(logger, cfg.Log); err != nil {
		return err
	}

	logger.WithField("build", build).Info("starting server")
	defer logger.Info("shutdown complete")

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	loc, err := time.LoadLocation(cfg.Withdrawal.TimeZone)
	if err != nil {
		return fmt.Errorf("loading withdrawal time zone %q: %w", cfg.Withdrawal.TimeZone, err)
	}

	db, err := database.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open db connection: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate db: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		if rdb, err = realtime.NewRedis(ctx, cfg.Redis.URL); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	} else {
		logger.Warn("redis not configured, realtime events stay on this instance")
	}

	rt := realtime.NewService(logger, realtime.NewHub(logger), rdb, cfg.Redis.Channel)
	defer rt.Close()

	rtErrors := make(chan error, 1)
	go func() {
		if err := rt.Run(ctx); err != nil {
			rtErrors <- err
		}
	}()

	bg := background.New(logger)

	limiter := rate.NewLimiter(cfg.Withdrawal.RateBurst, cfg.Withdrawal.RateEvery, cfg.Withdrawal.RateExpiry)
	defer limiter.Stop()

	mux := api.APIMux(api.APIConfig{
		CorsOrigin:          cfg.Cors.Origin,
		Log:                 logger,
		DB:                  db,
		Verifier:            auth.NewVerifier(cfg.Auth.JWTSecret),
		Background:          bg,
		Realtime:            rt,
		CPXSecret:           cfg.CPX.Secret,
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
		WithdrawalLimiter:   limiter,
		TimeZone:            loc,
	})

	api := http.Server{
		Handler:      mux,
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting api router at %s", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case err := <-rtErrors:
		return fmt.Errorf("realtime bridge stopped: %w", err)

	case sig := <-shutdown:
		logger.Infof("shutting down: signal %s", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}

		if err := bg.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not complete all background tasks: %w", err)
		}
	}
	return nil
}

func setupLogger(logger *logrus.Logger, cfg config.Log) error {
	lvl, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	logger.SetLevel(lvl)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return nil
}
