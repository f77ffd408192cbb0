package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jengzang/fleet-records-go/internal/analysis/annotation"
	"github.com/jengzang/fleet-records-go/internal/analysis/behavior"
	"github.com/jengzang/fleet-records-go/internal/analysis/foundation"
	"github.com/jengzang/fleet-records-go/internal/analysis/stats"
	"github.com/jengzang/fleet-records-go/internal/api"
	"github.com/jengzang/fleet-records-go/internal/cache"
	"github.com/jengzang/fleet-records-go/internal/config"
	"github.com/jengzang/fleet-records-go/internal/database"
	"github.com/jengzang/fleet-records-go/internal/geocoding"
	"github.com/jengzang/fleet-records-go/internal/handler"
	"github.com/jengzang/fleet-records-go/internal/repository"
	"github.com/jengzang/fleet-records-go/internal/service"
)

const (
	geocodeFrontTTL    = 10 * time.Minute
	geocodePurgePeriod = time.Hour
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// 初始化数据库
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal("Failed to create database directory:", err)
		}
	}
	db, err := database.Open(database.Config{Path: cfg.DBPath})
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer db.Close()

	behavior.RegisterTripBackfill(cfg.Backfill())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 反向地理编码
	geocodeRepo := repository.NewGeocodeCacheRepository(db)
	var geocodeStore cache.Store = geocodeRepo
	if cfg.RedisEnabled {
		redisCache, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Printf("[Main] Redis unavailable, using sqlite geocode cache: %v", err)
		} else {
			defer redisCache.Close()
			geocodeStore = cache.NewTiered(cache.NewMemoryCache(0), redisCache, geocodeFrontTTL)
		}
	}
	go purgeGeocodeCache(ctx, geocodeRepo)

	var reverse annotation.ReverseGeocoder
	if cfg.GeocoderURL != "" {
		client := geocoding.NewNominatimClient(cfg.Geocoder())
		defer client.Close()
		reverse = geocoding.NewCachedGeocoder(client, geocodeStore, cfg.GeocodeCacheTTL)
	}

	// 仓库与服务
	trips := repository.NewTripRepository(db)
	points := repository.NewRoutePointRepository(db)

	geoService := service.NewGeocodingService(repository.NewClientLocationRepository(db), reverse)
	if count, _, err := geoService.ReloadGazetteer(ctx); err != nil {
		log.Printf("[Main] Gazetteer load failed: %v", err)
	} else {
		log.Printf("[Main] Loaded %d client locations", count)
	}

	telemetryService := service.NewTelemetryService(
		foundation.NewNormalizer(cfg.Normalizer()),
		behavior.NewStopDetector(cfg.Stop()),
		repository.NewTelemetryRepository(db), trips, points)
	tripService := service.NewTripService(trips, points, behavior.NewConsolidator(cfg.Consolidation()))
	productivityService := service.NewProductivityService(
		stats.NewProductivityAggregator(cfg.Productivity(), geoService),
		tripService, trips, repository.NewProductivityRepository(db), cfg.ProductivityFreshness)
	taskService := service.NewAnalysisTaskService(repository.NewAnalysisTaskRepository(db), db)

	// 初始化路由
	router, limiter := api.SetupRouter(api.Handlers{
		Telemetry:    handler.NewTelemetryHandler(telemetryService),
		Trips:        handler.NewTripHandler(tripService, productivityService),
		Productivity: handler.NewProductivityHandler(productivityService),
		Geocoding:    handler.NewGeocodingHandler(geoService),
		Tasks:        handler.NewAnalysisTaskHandler(taskService),
	}, cfg.APIRateLimit)
	if limiter != nil {
		defer limiter.Close()
	}

	srv := &http.Server{
		Addr:              cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 启动服务器
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	taskService.Shutdown()
	log.Println("Server stopped")
}

func purgeGeocodeCache(ctx context.Context, repo *repository.GeocodeCacheRepository) {
	ticker := time.NewTicker(geocodePurgePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.PurgeExpired(ctx)
			if err != nil {
				log.Printf("[Main] Geocode cache purge failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[Main] Purged %d expired geocode entries", n)
			}
		}
	}
}
