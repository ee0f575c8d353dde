package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"colegio/panel/internal/app"
	"colegio/panel/internal/assets"
	"colegio/panel/internal/backend"
	"colegio/panel/internal/config"
	"colegio/panel/internal/email"
	"colegio/panel/internal/export"
	"colegio/panel/internal/search"
	"colegio/panel/internal/session"
	"colegio/panel/internal/site"
)

func main() {
	cfg := config.Load()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var store session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for session storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		store = redisStore
	} else {
		log.Printf("Using in-memory session storage; sessions are lost on restart")
		memoryStore := session.NewMemoryStore()
		go sweepSessions(ctx, memoryStore, 5*time.Minute)
		store = memoryStore
	}
	defer store.Close()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient)
	defer searchService.Close()

	logo, err := assets.New(assets.Options{
		Path:      cfg.LogoPath,
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
		Region:    cfg.MinioRegion,
		Bucket:    cfg.LogoBucket,
		Object:    cfg.LogoObject,
	})
	switch {
	case errors.Is(err, assets.ErrNotConfigured):
		log.Printf("No export logo configured")
	case err != nil:
		log.Printf("WARNING: export logo disabled: %v", err)
	}
	exports := export.NewService(logo, cfg.BulletinSource, export.ChromiumRenderer(cfg.ChromiumTimeout))

	publicClient, err := backend.New(backend.Options{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.RequestTimeout,
	}, nil)
	if err != nil {
		log.Fatalf("backend configuration invalid: %v", err)
	}
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		log.Printf("SMTP not configured; the contact form is disabled")
	}
	siteService := site.NewService(publicClient, searchService, mailer, cfg.ContactTo)

	views := search.NewViewRegistry(search.DefaultIdleTimeout)
	defer views.Close()
	go views.Run(ctx, time.Minute)

	service := app.New(cfg, store, views, exports, siteService)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Panel gateway listening on %s (backend %s)", cfg.Addr, backend.APIRoot(cfg.BackendURL))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func sweepSessions(ctx context.Context, store *session.MemoryStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := store.Sweep(); n > 0 {
				log.Printf("session: swept %d expired sessions", n)
			}
		}
	}
}
