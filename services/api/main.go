package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agrilink/internal/advisory"
	"github.com/agrilink/internal/callserver"
	"github.com/agrilink/internal/chat"
	"github.com/agrilink/internal/config"
	"github.com/agrilink/internal/handler"
	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/media"
	"github.com/agrilink/internal/metrics"
	"github.com/agrilink/internal/middleware"
	"github.com/agrilink/internal/model"
	"github.com/agrilink/internal/moderation"
	"github.com/agrilink/internal/notify"
	"github.com/agrilink/internal/push"
	"github.com/agrilink/internal/repository"
	"github.com/agrilink/internal/startup"
	"github.com/agrilink/internal/storage"
	"github.com/agrilink/internal/ws"
)

func main() {
	logger.SetPrefix("api")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL as the document store")
	store := flag.String("store", "", "override STORAGE_BACKEND (memory|redis|pebble|postgres)")
	migrate := flag.Bool("migrate", false, "apply postgres migrations and exit")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	if *store != "" {
		cfg.Storage.Backend = strings.ToLower(*store)
	}

	if *dev {
		embeddedDB, err := startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	kv, err := startup.OpenStore(cfg.Storage, 60*time.Second)
	if err != nil {
		logger.Errorf("storage: %v", err)
		os.Exit(1)
	}
	defer kv.Close()
	if *migrate {
		logger.Info("migrations done")
		return
	}

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 10*time.Second)
	msgRepo := repository.NewMessageRepository(kv)
	notifRepo := repository.NewNotificationRepository(kv)
	feedbackRepo := repository.NewFeedbackRepository(kv)
	for name, load := range map[string]func(context.Context) error{
		storage.KeyMessages:      msgRepo.Load,
		storage.KeyNotifications: notifRepo.Load,
		storage.KeyFeedbacks:     feedbackRepo.Load,
	} {
		if err := load(loadCtx); err != nil {
			logger.Errorf("load %s: %v", name, err)
			os.Exit(1)
		}
	}
	loadCancel()
	users := repository.NewUserDirectory(cfg.Users)

	m := metrics.New("api")
	pushClient := push.NewClient(cfg.PushServiceURL)
	advisor := advisory.NewClient(cfg.Advisory.URL, cfg.Advisory.APIKey, cfg.Advisory.Model, cfg.Advisory.Timeout).
		WithCounter(m)
	if !advisor.Enabled() {
		logger.Info("advisory: no API key, using canned suggestions")
	}

	notifier := notify.NewRouter(notifRepo).WithCounter(m)
	if pushClient.Enabled() {
		notifier.WithPusher(pushClient)
	}
	chatSvc := chat.NewService(msgRepo, users, feedbackRepo, moderation.NewFilter(cfg.Chat.BannedWords), notifier, advisor,
		chat.Config{DeleteWindow: cfg.Chat.DeleteWindow, MediatorHistory: cfg.Chat.MediatorHistory}).
		WithMetrics(m)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(chatSvc, cfg.MaxWSConnections).WithGauge(m)
	chatSvc.WithPublisher(hub)
	notifier.WithPublisher(hub)

	callSvc := callserver.NewService(chatSvc, notifier, users, media.NewManager(nil), callserver.Config{
		RingTimeout:     cfg.Call.RingTimeout,
		NetworkInterval: cfg.Call.NetworkSampleInterval,
	}).WithObserver(m)
	defer callSvc.Close()

	var bgWg sync.WaitGroup
	bgWg.Add(1)
	go func() {
		defer bgWg.Done()
		hub.Run(hubCtx)
	}()
	// Другие процессы (второй экземпляр api, services/call) пишут в те же ключи; собственные записи watch пропускает.
	watch := func(name string, fn func(context.Context, func()) error, onChange func()) {
		bgWg.Add(1)
		go func() {
			defer bgWg.Done()
			if err := fn(hubCtx, onChange); err != nil && hubCtx.Err() == nil {
				logger.Errorf("watch %s: %v", name, err)
			}
		}()
	}
	watch(storage.KeyMessages, msgRepo.Watch, func() { hub.BroadcastChanged(storage.KeyMessages) })
	watch(storage.KeyNotifications, notifRepo.Watch, func() { hub.BroadcastChanged(storage.KeyNotifications) })
	watch(storage.KeyFeedbacks, feedbackRepo.Watch, nil)

	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
	callHub := callserver.NewHub(callSvc, callserver.ValidateLocal(users.Authenticate)).WithOriginCheck(wsH.CheckOrigin)
	chatH := handler.NewChatHandler(chatSvc)
	msgH := handler.NewMessageHandler(chatSvc)
	feedbackH := handler.NewFeedbackHandler(chatSvc)
	notifH := handler.NewNotificationHandler(notifier)
	callH := handler.NewCallHandler(callSvc)
	userH := handler.NewUserHandler(users)
	advisoryH := handler.NewAdvisoryHandler(advisor)
	configH := handler.NewConfigHandler(cfg)
	pushH := handler.NewPushHandler(pushClient)
	limiter := middleware.NewRateLimiter(0, 0)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-Id", "X-Password"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Handle("/metrics", m.Handler())
	r.Get("/api/config/push", configH.GetPushConfig)
	r.Get("/api/config/call", configH.GetCallConfig)
	r.Get("/call/ws", callHub.ServeWS)
	r.With(middleware.InternalOnly(cfg.InternalSecret)).Post("/internal/notifications", notifH.Create)

	r.Group(func(r chi.Router) {
		r.Use(middleware.DemoAuth(users.Authenticate))
		r.Use(limiter.Handler)
		r.Get("/api/call/validate", handler.CallValidate)
		r.Get("/api/me", userH.GetProfile)
		r.Get("/api/users", userH.ListUsers)
		r.Get("/api/users/{id}", userH.GetUser)

		r.Get("/api/chats", chatH.ListChats)
		r.Get("/api/chats/{partnerId}/messages", chatH.Thread)
		r.Post("/api/chats/{partnerId}/read", chatH.ReadThread)
		r.Post("/api/chats/{partnerId}/offers", chatH.SendOffer)
		r.Post("/api/chats/{partnerId}/mediate", chatH.Mediate)
		r.Post("/api/chats/{partnerId}/negotiation", chatH.NegotiationTip)
		r.Post("/api/chats/{partnerId}/location", chatH.ShareLocation)
		r.Get("/api/unread", chatH.Unread)
		r.Post("/api/messages", msgH.Send)
		r.Post("/api/messages/{id}/read", msgH.MarkRead)
		r.Post("/api/messages/{id}/accept", msgH.AcceptOffer)
		r.Delete("/api/messages/{id}", msgH.Delete)

		r.Get("/api/notifications", notifH.List)
		r.Post("/api/notifications/{id}/read", notifH.MarkRead)
		r.Post("/api/notifications/read-all", notifH.MarkAllRead)

		r.With(middleware.RequireRole(model.RoleBuyer)).Post("/api/feedback", feedbackH.Create)
		r.Get("/api/farmers/{farmerId}/feedback", feedbackH.ForFarmer)

		r.Post("/api/calls", callH.Start)
		r.Get("/api/calls/active", callH.Active)
		r.Post("/api/calls/{id}/accept", callH.Accept)
		r.Post("/api/calls/{id}/reject", callH.Reject)
		r.Post("/api/calls/{id}/cancel", callH.Cancel)
		r.Post("/api/calls/{id}/end", callH.End)

		r.Post("/api/advisory/damage", advisoryH.Damage)
		r.Post("/api/advisory/weather", advisoryH.Weather)
		r.Post("/api/advisory/assistant", advisoryH.Assist)
		r.Post("/api/advisory/harvest", advisoryH.Harvest)

		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Post("/api/push/unsubscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s (storage=%s)", cfg.ServerAddr, cfg.Storage.Backend)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	bgWg.Wait()
	logger.Info("hub and watchers stopped")
	logger.Flush()
}

// startEmbeddedPostgres поднимает локальный PostgreSQL и переключает хранилище на него.
func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5433
		user     = "agrilink"
		password = "agrilink_secret"
		database = "agrilink"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "agrilink-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Storage.Backend = config.BackendPostgres
	cfg.Storage.DatabaseURL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
