package main

import (
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"

	"rumbify-server/config"
	"rumbify-server/handlers"
	_ "rumbify-server/migrations"
	"rumbify-server/monitoring"
	"rumbify-server/security"
	"rumbify-server/services"
	"rumbify-server/storage"
	"rumbify-server/store"
	"rumbify-server/utils"
)

func main() {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	logLevel := slog.LevelInfo
	if cfg.Environment == "development" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	// Redis backs the shared preview cache and the rate limiter. Both
	// degrade gracefully when it is absent.
	var redisClient *redis.Client
	if cfg.PreviewBackend == "redis" {
		redisClient = utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	}

	// Initialize PubNub
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	var pn *pubnub.PubNub
	if cfg.PubNubPublishKey != "" {
		pn = pubnub.NewPubNub(pnConfig)
	}

	// Preview cache backend
	var cache services.PreviewCache
	var cacheSizer monitoring.CacheSizer
	if redisClient != nil {
		cache = services.NewRedisPreviewCache(redisClient)
	} else {
		memCache := services.NewMemoryPreviewCache()
		cache = memCache
		cacheSizer = memCache
	}

	// Blob storage backend for ticket images
	var blobs storage.BlobStore
	if cfg.BlobBackend == "cloudinary" && cfg.CloudinaryURL != "" {
		cloudinaryStore, err := storage.NewCloudinaryBlobStore(cfg.CloudinaryURL)
		if err != nil {
			log.Fatalf("Failed to initialize cloudinary: %v", err)
		}
		blobs = cloudinaryStore
	} else {
		blobs = storage.NewLocalBlobStore(cfg.BlobDir, cfg.BlobBaseURL)
	}

	// Initialize services
	pbStore := store.NewPBStore(app)
	realtime := services.NewRealtimeService(pn, logger)
	codeService := services.NewCodeService(pbStore, cache, cfg, logger)
	qrService := services.NewQRService(pbStore, blobs, cfg, logger)
	redemptionService := services.NewRedemptionService(pbStore, cache, qrService, realtime, cfg, logger)
	scanService := services.NewScanService(pbStore, realtime, logger)
	guestService := services.NewGuestService(pbStore, logger)

	// Initialize handlers
	codeHandler := handlers.NewCodeHandler(codeService, redemptionService)
	qrHandler := handlers.NewQRHandler(qrService, scanService)
	guestHandler := handlers.NewGuestHandler(guestService)

	limiter := security.NewRateLimiter(redisClient, cfg)

	if cfg.EnableMetrics {
		monitoring.NewMonitor(redisClient, cacheSizer)
	}

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		if redisClient != nil {
			redisClient.Close()
		}
		return e.Next()
	})

	// Register routes
	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Code endpoints
		e.Router.POST("/api/codes/generate", codeHandler.Generate).BindFunc(limiter.Limit("generate"))
		e.Router.POST("/api/codes/validate", codeHandler.Validate)
		e.Router.POST("/api/codes/use", codeHandler.Use)
		e.Router.POST("/api/codes/verify", codeHandler.Redeem).BindFunc(limiter.Limit("redeem"), limiter.BlockBots())
		e.Router.GET("/api/parties/{partyId}/codes", codeHandler.ListPartyCodes)

		// QR endpoints
		e.Router.GET("/api/parties/{partyId}/qr", qrHandler.GetTicket)
		e.Router.POST("/api/qr/scan", qrHandler.Scan)

		// Guest ledger endpoints
		e.Router.GET("/api/parties/{partyId}/guests", guestHandler.List)
		e.Router.GET("/api/parties/{partyId}/guests/summary", guestHandler.Summary)
		e.Router.PATCH("/api/parties/{partyId}/guests/{guestId}", guestHandler.UpdateStatus)

		// Prometheus metrics
		if cfg.EnableMetrics {
			e.Router.GET("/metrics", func(re *core.RequestEvent) error {
				promhttp.Handler().ServeHTTP(re.Response, re.Request)
				return nil
			})
		}

		// Health check
		e.Router.GET("/health", func(re *core.RequestEvent) error {
			if err := pbStore.HealthCheck(re.Request.Context()); err != nil {
				return re.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			if redisClient != nil {
				if err := utils.RedisHealthCheck(redisClient); err != nil {
					return re.JSON(http.StatusServiceUnavailable, map[string]string{
						"status": "unhealthy",
						"error":  err.Error(),
					})
				}
			}
			return re.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}
