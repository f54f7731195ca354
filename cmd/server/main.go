// The server binary runs the HTTP gateway: inbound webhook validation and
// enqueue, whitelist verification, and the authenticated account routes.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/mailagent/internal/api"
	"github.com/ignite/mailagent/internal/auth"
	"github.com/ignite/mailagent/internal/config"
	"github.com/ignite/mailagent/internal/delivery"
	"github.com/ignite/mailagent/internal/handles"
	"github.com/ignite/mailagent/internal/kv"
	"github.com/ignite/mailagent/internal/model"
	"github.com/ignite/mailagent/internal/pkg/logger"
	"github.com/ignite/mailagent/internal/plan"
	"github.com/ignite/mailagent/internal/queue"
	"github.com/ignite/mailagent/internal/ratelimit"
	"github.com/ignite/mailagent/internal/validate"
	"github.com/ignite/mailagent/internal/whitelist"
)

func main() {
	log.Println("Starting mailagent server...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(logger.ParseLevel(cfg.Log.Level), cfg.Log.RedactPII)

	// The router config is a hard startup requirement.
	modelCfg, err := model.LoadConfig(cfg.Models.ConfigPath, cfg.Models.DefaultGroup)
	if err != nil {
		log.Fatalf("Failed to load model config: %v", err)
	}
	router := model.NewRouter(modelCfg, cfg.Models.DefaultGroup)

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	cancel()

	store := kv.New(kv.Config{
		Host:     cfg.Redis.Host,
		Port:     strconv.Itoa(cfg.Redis.Port),
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	})
	defer store.Close()
	if err := pingRedis(store); err != nil {
		log.Printf("Warning: Redis unreachable at startup: %v", err)
	}

	queueDB := db
	if cfg.Broker.Enabled() {
		queueDB, err = sql.Open("postgres", cfg.QueueDSN())
		if err != nil {
			log.Fatalf("Failed to open queue database: %v", err)
		}
		defer queueDB.Close()
	}
	q := queue.New(queueDB)
	if err := ensure(q.EnsureSchema); err != nil {
		log.Fatalf("Failed to ensure queue schema: %v", err)
	}

	wl := whitelist.NewStore(db)
	limiter := ratelimit.New(store.Client())
	plans := plan.NewStaticOracle(cfg.Plans.ProSenders)
	resolver := handles.NewResolver()
	pipeline := validate.New(resolver, limiter, plans, wl, store, cfg.Whitelist.Enabled)

	composer := &delivery.Composer{
		FromName:      cfg.Delivery.FromName,
		ServiceDomain: cfg.Delivery.ServiceDomain,
	}
	deliverer, err := buildDeliverer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize delivery: %v", err)
	}

	handlers := api.NewHandlers(pipeline, q, limiter, resolver, composer, deliverer,
		wl, router, plans, db, store.Client(), api.HandlersConfig{
			APIKey:           cfg.Server.APIKey,
			AttachmentsDir:   cfg.Worker.AttachmentsDir,
			VerifyBaseURL:    cfg.Whitelist.VerifyBaseURL,
			SuggestionsGroup: cfg.Models.SuggestionsGroup,
			SkipDelivery:     cfg.Delivery.Skip,
		})

	var verifier *auth.Verifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.Auth.JWTSecret)
	}

	server := api.NewServer(cfg.Server, handlers, verifier)
	logger.Info("server listening",
		"host", cfg.Server.Host,
		"port", strconv.Itoa(cfg.Server.Port),
		"whitelist_enabled", fmt.Sprintf("%t", cfg.Whitelist.Enabled))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %v, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func buildDeliverer(cfg *config.Config) (delivery.Deliverer, error) {
	if cfg.Delivery.Skip || cfg.SES.AccessKey == "" {
		return delivery.SkipDeliverer{}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return delivery.NewSESDeliverer(ctx, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
}

func ensure(fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return fn(ctx)
}

func pingRedis(store *kv.Store) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return store.Ping(ctx)
}

