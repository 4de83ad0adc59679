package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subtrack/internal/config"
	"subtrack/internal/handlers"
	httpx "subtrack/internal/infra/http"
	"subtrack/internal/infra/logger"
	"subtrack/internal/localcache"
	"subtrack/internal/models"
	"subtrack/internal/remote"
	"subtrack/internal/session"
	"subtrack/internal/store"
)

func setupRouter(h *handlers.Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/session", h.GetSession)
	mux.HandleFunc("POST /api/signout", h.SignOut)
	mux.HandleFunc("GET /api/subscriptions", h.ListSubscriptions)
	mux.HandleFunc("POST /api/subscriptions", h.CreateSubscription)
	mux.HandleFunc("POST /api/subscriptions/refresh", h.RefreshSubscriptions)
	mux.HandleFunc("PUT /api/subscriptions/{id}", h.UpdateSubscription)
	mux.HandleFunc("DELETE /api/subscriptions/{id}", h.DeleteSubscription)
	mux.HandleFunc("GET /api/stats", h.Stats)
	return mux
}

func main() {
	configPath := os.Getenv("SUBTRACK_CONFIG")
	if configPath == "" {
		configPath = "config/example.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env)

	cache, err := localcache.NewCache(cfg.Cache.Path)
	if err != nil {
		log.Error("cache open failed", "path", cfg.Cache.Path, "err", err)
		return
	}
	defer cache.Close()
	log.Info("local cache ready", "path", cfg.Cache.Path)

	rc := remote.NewSupabase(cfg.Backend.URL, cfg.Backend.AnonKey, log)
	if cfg.Backend.AccessToken != "" {
		rc.SetSession(&models.Session{
			AccessToken:  cfg.Backend.AccessToken,
			RefreshToken: cfg.Backend.RefreshToken,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.New(rc, cache, log)
	sm := session.New(rc, log, func(reason string) {
		log.Info("session ended", "reason", reason)
		st.SetUser("")
	})
	defer sm.Close()

	if user := sm.Start(ctx); user != nil {
		log.Info("session established", "user", user.ID)
		st.SetUser(user.ID)
		st.Refresh(ctx)
	} else {
		log.Warn("no session at startup", "err", sm.Err())
	}

	h := handlers.NewHandlers(sm, st, log)
	srv := httpx.New(cfg.HTTP.Addr, cfg.Metrics.Enabled, setupRouter(h))
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}
