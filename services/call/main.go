// Микросервис звонков: сигнализация поверх того же хранилища документов, что и api.
// Системные сообщения и уведомления о пропущенных звонках пишутся в общие ключи,
// api узнаёт о них через Watch.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/agrilink/internal/callserver"
	"github.com/agrilink/internal/config"
	"github.com/agrilink/internal/handler"
	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/media"
	"github.com/agrilink/internal/metrics"
	"github.com/agrilink/internal/middleware"
	"github.com/agrilink/internal/notify"
	"github.com/agrilink/internal/push"
	"github.com/agrilink/internal/repository"
	"github.com/agrilink/internal/startup"
)

func main() {
	logger.SetPrefix("call")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	addr := os.Getenv("CALL_SERVER_ADDR")
	if addr == "" {
		addr = ":8085"
	}
	logger.Infof("starting call service: api_url=%s addr=%s storage=%s", cfg.APIURL, addr, cfg.Storage.Backend)
	if cfg.Storage.Backend == config.BackendMemory {
		logger.Warnf("call: memory storage is not shared with api, call messages stay local")
	}

	kv, err := startup.OpenStore(cfg.Storage, 60*time.Second)
	if err != nil {
		logger.Errorf("storage: %v", err)
		os.Exit(1)
	}
	defer kv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgRepo := repository.NewMessageRepository(kv)
	notifRepo := repository.NewNotificationRepository(kv)
	if err := msgRepo.Load(ctx); err != nil {
		logger.Errorf("load messages: %v", err)
		os.Exit(1)
	}
	if err := notifRepo.Load(ctx); err != nil {
		logger.Errorf("load notifications: %v", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	for name, watch := range map[string]func(context.Context, func()) error{
		"messages":      msgRepo.Watch,
		"notifications": notifRepo.Watch,
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watch(ctx, nil); err != nil && ctx.Err() == nil {
				logger.Errorf("watch %s: %v", name, err)
			}
		}()
	}

	m := metrics.New("call")
	notifier := notify.NewRouter(notifRepo).WithCounter(m)
	if pc := push.NewClient(cfg.PushServiceURL); pc.Enabled() {
		notifier.WithPusher(pc)
	}
	svc := callserver.NewService(msgRepo, notifier, repository.NewUserDirectory(cfg.Users), media.NewManager(nil), callserver.Config{
		RingTimeout:     cfg.Call.RingTimeout,
		NetworkInterval: cfg.Call.NetworkSampleInterval,
	}).WithObserver(m)
	defer svc.Close()

	validate := callserver.ValidateViaHTTP(cfg.APIURL, &http.Client{Timeout: 5 * time.Second})
	hub := callserver.NewHub(svc, validate).WithOriginCheck(func(r *http.Request) bool {
		return handler.OriginAllowed(cfg.CORSAllowedOrigins, r)
	})

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Handle("/metrics", m.Handler())
	r.Get("/call/ws", hub.ServeWS)

	srv := &http.Server{Addr: addr, Handler: r, ReadTimeout: 15 * time.Second, WriteTimeout: 30 * time.Second}
	go func() {
		logger.Infof("call service listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("call: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("call service shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
	}
	cancel()
	wg.Wait()
	logger.Info("call service stopped")
	logger.Flush()
}
