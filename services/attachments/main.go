// Микросервис вложений чата: загрузка фото, видео и голосовых, раздача по ссылке.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/agrilink/internal/attachments"
	"github.com/agrilink/internal/config"
	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/middleware"
)

func main() {
	logger.SetPrefix("attachments")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	uploadDir := os.Getenv("UPLOAD_DIR")
	if uploadDir == "" {
		uploadDir = "./uploads"
	}
	maxMB := 25
	if v := os.Getenv("MAX_UPLOAD_SIZE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxMB = n
		}
	}
	addr := os.Getenv("ATTACHMENTS_ADDR")
	if addr == "" {
		addr = ":8083"
	}
	logger.Infof("starting attachments service: upload_dir=%s max_upload_mb=%d api_url=%s", uploadDir, maxMB, cfg.APIURL)

	svc := attachments.New(uploadDir, os.Getenv("ATTACHMENTS_PUBLIC_URL"), int64(maxMB)<<20)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.With(middleware.RemoteAuth(cfg.APIURL, nil)).Post("/attachments", svc.Upload)
	r.Get("/attachments/{filename}", func(w http.ResponseWriter, r *http.Request) {
		svc.Serve(w, r, chi.URLParam(r, "filename"))
	})

	srv := &http.Server{Addr: addr, Handler: r, ReadTimeout: 60 * time.Second, WriteTimeout: 60 * time.Second}
	go func() {
		logger.Infof("attachments listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("attachments: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("attachments shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
	}
	logger.Info("attachments stopped")
	logger.Flush()
}
