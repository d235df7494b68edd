package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boxoffice/config"
	"boxoffice/internal/handlers"
	"boxoffice/internal/services"
	"boxoffice/internal/services/gateway"
	"boxoffice/monitoring"
	"boxoffice/security"
	"boxoffice/utils"

	_ "boxoffice/migrations"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"
)

func Start() error {
	app := pocketbase.New()

	cfg := config.LoadConfig()

	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := gateway.New(ctx, gateway.Provider(cfg.GatewayProvider), &gateway.Config{
		BaseURL:       cfg.GatewayBaseURL,
		KeyID:         cfg.GatewayKeyID,
		KeySecret:     cfg.GatewayKeySecret,
		WebhookSecret: cfg.GatewayWebhookSecret,
		NotifySubKey:  cfg.GatewayNotifySubKey,
		NotifyChannel: cfg.GatewayNotifyChannel,
		NotifyUUID:    cfg.GatewayNotifyUUID,
	})
	if err != nil {
		return err
	}

	monitor := monitoring.NewMonitor(redisClient)

	queueService := services.NewQueueService(redisClient, pn, cfg, monitor)
	pricingService := services.NewPricingService()
	reservationService := services.NewReservationService(app, cfg, monitor)
	checkoutService := services.NewCheckoutService(app, cfg, pricingService, gw, queueService, pn, monitor)
	scannerService := services.NewScannerService(app, cfg.TicketSecret, monitor)
	sweeperService := services.NewSweeperService(app, cfg, monitor)

	// the gateway's realtime capture notifications are the third
	// confirmation path; they converge on the same idempotent confirm
	captureChan := make(chan *gateway.Capture, 16)
	gw.SetCaptureChannel(captureChan)
	go func() {
		for {
			select {
			case capture := <-captureChan:
				slog.Info("gateway capture received", "intent", capture.IntentID, "payment", capture.PaymentID)
				checkoutService.HandleCapture(ctx, capture)

			case <-ctx.Done():
				return
			}
		}
	}()

	queueHandler := handlers.NewQueueHandler(queueService)
	reservationHandler := handlers.NewReservationHandler(app, reservationService, queueService)
	checkoutHandler := handlers.NewCheckoutHandler(checkoutService)
	paymentHandler := handlers.NewPaymentHandler(checkoutService, gw)
	scanHandler := handlers.NewScanHandler(scannerService)
	adminHandler := handlers.NewAdminHandler(queueService)

	limiter := security.NewRateLimiter(redisClient)

	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	sweeperService.Start()

	go handleShutdown(cancel)

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		sweeperService.Shutdown()
		queueService.Shutdown()
		if err := gw.Close(ctx); err != nil {
			slog.Error("gateway close", "error", err)
		}
		cancel()
		return e.Next()
	})

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		syncActiveEvents(app, redisClient)
		go restoreQueueState(redisClient, queueService)

		// Queue endpoints
		e.Router.POST("/api/v1/queue/join", queueHandler.Join).BindFunc(limiter.AntiBot())
		e.Router.GET("/api/v1/queue/status", queueHandler.Status)
		e.Router.POST("/api/v1/queue/heartbeat", queueHandler.Heartbeat)
		e.Router.POST("/api/v1/queue/leave", queueHandler.Leave)

		// Reservation endpoints
		e.Router.POST("/api/v1/reservations", reservationHandler.Create).BindFunc(limiter.Limit("reserve", 20, time.Minute))
		e.Router.GET("/api/v1/reservations/{id}", reservationHandler.Get)

		// Pricing and checkout endpoints
		e.Router.POST("/api/v1/price", checkoutHandler.Price)
		e.Router.POST("/api/v1/checkout", checkoutHandler.Checkout)
		e.Router.GET("/api/v1/orders/{id}", checkoutHandler.GetOrder)
		e.Router.GET("/api/v1/orders/{id}/credentials", scanHandler.Credentials)

		// Payment endpoints
		e.Router.POST("/api/v1/payments/confirm", paymentHandler.Confirm)
		e.Router.POST("/api/v1/payments/webhook", paymentHandler.Webhook)

		// Door scanning
		e.Router.POST("/api/v1/scan", scanHandler.Scan)

		// Admin endpoints
		e.Router.GET("/api/v1/admin/queue-dashboard", adminHandler.QueueDashboard)
		e.Router.POST("/api/v1/admin/remove-from-queue", adminHandler.RemoveFromQueue)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		setupEventHooks(app, redisClient)

		return e.Next()
	})

	if cfg.EnableMetrics {
		go serveMetrics(cfg.MetricsPort)
	}

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	slog.Info("metrics server listening", "port", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		slog.Error("metrics server", "error", err)
	}
}

// syncActiveEvents mirrors the on-sale event ids into Redis so queue
// state survives restarts.
func syncActiveEvents(app *pocketbase.PocketBase, redisClient *redis.Client) {
	ctx := context.Background()

	var records []dbx.NullStringMap
	if err := app.DB().NewQuery(
		"SELECT id FROM events WHERE status IN ('published', 'started')",
	).All(&records); err != nil {
		slog.Error("sync active events", "error", err)
		return
	}

	redisClient.Del(ctx, "active_events")

	var eventIDs []interface{}
	for _, record := range records {
		if id := record["id"].String; id != "" {
			eventIDs = append(eventIDs, id)
		}
	}

	if len(eventIDs) > 0 {
		redisClient.SAdd(ctx, "active_events", eventIDs...)
		slog.Info("synced active events to redis", "count", len(eventIDs))
	}
}

func setupEventHooks(app *pocketbase.PocketBase, redisClient *redis.Client) {
	onSale := func(status string) bool {
		return status == "published" || status == "started"
	}

	app.OnRecordCreateRequest("events").BindFunc(func(e *core.RecordRequestEvent) error {
		if onSale(e.Record.GetString("status")) {
			if err := redisClient.SAdd(e.Request.Context(), "active_events", e.Record.Id).Err(); err != nil {
				slog.Error("redis sync on event create", "event", e.Record.Id, "error", err)
			}
		}
		return e.Next()
	})

	app.OnRecordUpdateRequest("events").BindFunc(func(e *core.RecordRequestEvent) error {
		ctx := e.Request.Context()
		if onSale(e.Record.GetString("status")) {
			if err := redisClient.SAdd(ctx, "active_events", e.Record.Id).Err(); err != nil {
				slog.Error("redis sync on event update", "event", e.Record.Id, "error", err)
			}
		} else {
			if err := redisClient.SRem(ctx, "active_events", e.Record.Id).Err(); err != nil {
				slog.Error("redis sync on event update", "event", e.Record.Id, "error", err)
			}
		}
		return e.Next()
	})

	app.OnRecordDeleteRequest("events").BindFunc(func(e *core.RecordRequestEvent) error {
		if err := redisClient.SRem(e.Request.Context(), "active_events", e.Record.Id).Err(); err != nil {
			slog.Error("redis sync on event delete", "event", e.Record.Id, "error", err)
		}
		return e.Next()
	})
}

// restoreQueueState kicks the admission loop for every active event
// after a restart; admitted users and tokens live in Redis and survive
// on their own.
func restoreQueueState(redisClient *redis.Client, queueService *services.QueueService) {
	ctx := context.Background()

	eventIDs, err := redisClient.SMembers(ctx, "active_events").Result()
	if err != nil {
		slog.Error("restore queue state", "error", err)
		return
	}

	for _, eventID := range eventIDs {
		queueService.ProcessQueue(ctx, eventID)
	}

	slog.Info("queue state restored", "events", len(eventIDs))
}

func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
