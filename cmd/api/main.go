package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/iamgideonidoko/geoshield/internal/classifier"
	"github.com/iamgideonidoko/geoshield/internal/config"
	"github.com/iamgideonidoko/geoshield/internal/handlers"
	"github.com/iamgideonidoko/geoshield/internal/middleware"
	"github.com/iamgideonidoko/geoshield/internal/recognition"
	"github.com/iamgideonidoko/geoshield/internal/repository"
	"github.com/iamgideonidoko/geoshield/internal/services"
	"github.com/iamgideonidoko/geoshield/pkg/cache"
	"github.com/iamgideonidoko/geoshield/pkg/dataset"
	"github.com/iamgideonidoko/geoshield/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	logger.SetFormat(cfg.Monitoring.LogFormat, os.Stdout)
	logger.SetLevel(logger.ParseLevel(cfg.Monitoring.LogLevel))
	logger.Info("Starting GeoShield", map[string]any{
		"version":     "1.0.0",
		"environment": cfg.API.Environment,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// IP range classifiers
	countries := classifier.NewCountryClassifier(dataset.Source{
		URL:          cfg.GeoIP.CountryURL,
		CachePath:    cfg.GeoIP.CountryCachePath,
		FallbackPath: cfg.GeoIP.CountryFallbackPath,
		MaxAge:       cfg.GeoIP.RefreshInterval,
	}, dataset.NewFetcher("country-dataset", cfg.GeoIP.CountryTimeout))

	vpns := classifier.NewVPNClassifier(dataset.Source{
		URL:          cfg.GeoIP.VPNURL,
		CachePath:    cfg.GeoIP.VPNCachePath,
		FallbackPath: cfg.GeoIP.VPNFallbackPath,
		MaxAge:       cfg.GeoIP.RefreshInterval,
	}, dataset.NewFetcher("vpn-dataset", cfg.GeoIP.VPNTimeout))

	if err := countries.Init(ctx); err != nil {
		logger.Warn("Country classifier unavailable, lookups will retry lazily", map[string]any{"error": err.Error()})
	}
	if err := vpns.Init(ctx); err != nil {
		logger.Warn("VPN classifier unavailable", map[string]any{"error": err.Error()})
	}
	go countries.Run(ctx, cfg.GeoIP.RefreshInterval)
	go vpns.Run(ctx, cfg.GeoIP.RefreshInterval)

	// Device history
	storage, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open device history storage", map[string]any{
			"backend": cfg.Tracking.Backend,
			"error":   err.Error(),
		})
		os.Exit(1)
	}
	defer closeStorage()
	store := recognition.New(ctx, storage)

	// Optional Redis cache
	var redisCache *cache.Cache
	if cfg.Redis.Enabled {
		err = recognition.Retry(ctx, recognition.DefaultConnectBackoff, "connect to Redis", func(context.Context) error {
			var retryErr error
			redisCache, retryErr = cache.NewCache(
				cfg.Redis.URL,
				cfg.Redis.Password,
				cfg.Redis.DB,
				cfg.Redis.CacheTTL,
			)
			return retryErr
		})
		if err != nil {
			logger.Error("Failed to connect to Redis", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
		defer redisCache.Close()
		logger.Info("Connected to Redis")
	}

	var reporter services.Reporter = services.NopReporter{}
	if cfg.Discord.Enabled() {
		reporter = services.NewDiscordReporter(cfg.Discord.WebhookURL)
		logger.Info("Discord visit logging enabled")
	}

	redirect := services.NewRedirectService(countries, vpns, &cfg.Redirect)
	tracking := services.NewTrackingService(store, redisCache, reporter)
	handler := handlers.NewHandler(redirect, tracking, &cfg.Redirect, countries, vpns)

	rateLimiter := middleware.NewRateLimiter(redisCache, &cfg.RateLimit)
	app := handlers.NewApp(handler, cfg, rateLimiter)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-sigChan
		logger.Info("Shutting down gracefully...")
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = app.ShutdownWithContext(shutdownCtx)
		tracking.Wait()
		logger.Info("Server shutdown complete")
	}()

	addr := cfg.API.Address()
	logger.Info("GeoShield started", map[string]any{
		"address":   addr,
		"honeypots": cfg.Redirect.HoneypotCountries,
		"test_flag": cfg.Redirect.TestFlag,
	})

	if err := app.Listen(addr); err != nil {
		logger.Error("Server error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	<-done
}

// openStorage returns the configured device history backend and a function
// releasing it.
func openStorage(ctx context.Context, cfg *config.Config) (recognition.Storage, func(), error) {
	switch cfg.Tracking.Backend {
	case config.BackendBadger:
		db, err := recognition.OpenBadger(cfg.Tracking.BadgerDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using Badger device history", map[string]any{"dir": cfg.Tracking.BadgerDir})
		storage := recognition.WithRetries(recognition.NewBadgerStorage(db), recognition.DefaultSaveBackoff)
		return storage, func() { _ = db.Close() }, nil

	case config.BackendPostgres:
		var repo *repository.Repository
		err := recognition.Retry(ctx, recognition.DefaultConnectBackoff, "connect to PostgreSQL", func(context.Context) error {
			var retryErr error
			repo, retryErr = repository.NewRepository(
				cfg.Database.URL,
				cfg.Database.MaxConns,
				cfg.Database.MaxIdleConns,
			)
			return retryErr
		})
		if err != nil {
			return nil, nil, err
		}
		if err := repo.HealthCheck(ctx); err != nil {
			_ = repo.Close()
			return nil, nil, err
		}
		if err := repo.Migrate(ctx); err != nil {
			_ = repo.Close()
			return nil, nil, err
		}
		logger.Info("Connected to PostgreSQL")
		storage := recognition.WithRetries(repo, recognition.DefaultSaveBackoff)
		return storage, func() { _ = repo.Close() }, nil

	default:
		logger.Info("Using file device history", map[string]any{"path": cfg.Tracking.FilePath})
		return recognition.NewFileStorage(cfg.Tracking.FilePath), func() {}, nil
	}
}
