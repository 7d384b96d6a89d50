package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"social-outreach/internal/api"
	"social-outreach/internal/browser"
	"social-outreach/internal/config"
	"social-outreach/internal/leads"
	"social-outreach/internal/progress"
	"social-outreach/internal/ratelimit"
	"social-outreach/internal/runner"
	"social-outreach/internal/store"
	"social-outreach/internal/telemetry"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	publisher := progress.NewRedisPublisher(redisClient)
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	dialer := browser.NewDialer(browser.Config{
		Headless:          cfg.BrowserHeadless,
		NavigationTimeout: cfg.NavigationTimeout,
	})

	manager := runner.NewManager(ctx, st, publisher, dialer)

	importer, err := leads.NewImporter(ctx, cfg)
	if err != nil {
		log.Fatalf("init lead importer: %v", err)
	}

	server := api.New(cfg, st, manager, importer, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)

	// Waits for in-flight sends to notice cancellation and record their state.
	manager.Shutdown()
}
