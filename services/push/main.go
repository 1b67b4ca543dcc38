// Микросервис пуш-уведомлений (Web Push): подписки в Redis, отправка через VAPID.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/middleware"
	"github.com/agrilink/internal/push"
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	logger.SetPrefix("push")
	genVAPID := flag.Bool("gen-vapid", false, "print a new VAPID key pair and exit")
	flag.Parse()
	if *genVAPID {
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			logger.Errorf("generate VAPID: %v", err)
			os.Exit(1)
		}
		logger.Infof("VAPID_PUBLIC_KEY=%s", pub)
		logger.Infof("VAPID_PRIVATE_KEY=%s", priv)
		logger.Flush()
		return
	}

	addr := getEnv("SERVER_ADDR", ":8082")
	apiURL := getEnv("API_URL", "http://localhost:8080")
	logger.SetLevel(getEnv("LOG_LEVEL", "info"))
	logger.Info("starting push service")

	keys := &push.VAPIDKeys{PublicKey: os.Getenv("VAPID_PUBLIC_KEY"), PrivateKey: os.Getenv("VAPID_PRIVATE_KEY")}
	if keys.PublicKey == "" || keys.PrivateKey == "" {
		loaded, err := push.EnsureVAPIDKeys("")
		if err != nil {
			logger.Warnf("VAPID keys unavailable (%v), push delivery disabled", err)
			keys = &push.VAPIDKeys{}
		} else {
			keys = loaded
		}
	}
	var sender push.Sender
	if keys.PublicKey != "" && keys.PrivateKey != "" {
		sender = push.NewWebPushSender(keys)
	}

	var store push.Store
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Errorf("redis url: %v", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Errorf("redis ping: %v", err)
			os.Exit(1)
		}
		defer rdb.Close()
		store = push.NewRedisStore(rdb)
		logger.Info("redis connected")
	} else {
		logger.Warnf("REDIS_URL not set, subscriptions kept in memory")
		store = push.NewMemoryStore()
	}

	s := push.NewServer(store, sender, keys.PublicKey)
	internal := middleware.InternalOnly(os.Getenv("INTERNAL_SECRET"))

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/vapid-public", s.VAPIDPublic)
	r.Route("/api", func(r chi.Router) {
		r.With(internal).Post("/subscribe", s.Subscribe)
		r.With(internal).Delete("/subscribe", s.Unsubscribe)
		r.With(internal).Post("/notify", s.Notify)
		// Браузер может подписаться напрямую со своей демо-учёткой.
		r.With(middleware.RemoteAuth(apiURL, nil)).Post("/me/subscribe", s.SubscribeUser(middleware.GetUserID))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Infof("push server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("push server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Info("push server stopped")
	logger.Flush()
}
