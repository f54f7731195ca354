// The worker binary runs the processing pool and the scheduled-task engine:
// it claims queued emails, drives the agent, sends replies, and fires cron
// tasks back into the queue.
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

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/ignite/mailagent/internal/agent"
	"github.com/ignite/mailagent/internal/config"
	"github.com/ignite/mailagent/internal/delivery"
	"github.com/ignite/mailagent/internal/handles"
	"github.com/ignite/mailagent/internal/kv"
	"github.com/ignite/mailagent/internal/model"
	"github.com/ignite/mailagent/internal/pkg/logger"
	"github.com/ignite/mailagent/internal/queue"
	"github.com/ignite/mailagent/internal/report"
	"github.com/ignite/mailagent/internal/schedule"
	"github.com/ignite/mailagent/internal/tools"
	"github.com/ignite/mailagent/internal/worker"
)

func main() {
	log.Println("Starting mailagent worker...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(logger.ParseLevel(cfg.Log.Level), cfg.Log.RedactPII)

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

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
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

	queueDB := db
	if cfg.Broker.Enabled() {
		queueDB, err = sql.Open("postgres", cfg.QueueDSN())
		if err != nil {
			log.Fatalf("Failed to open queue database: %v", err)
		}
		defer queueDB.Close()
	}
	q := queue.New(queueDB)
	taskStore := schedule.NewTaskStore(db)
	for name, fn := range map[string]func(context.Context) error{
		"queue": q.EnsureSchema,
		"tasks": taskStore.EnsureSchema,
	} {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := fn(ctx)
		cancel()
		if err != nil {
			log.Fatalf("Failed to ensure %s schema: %v", name, err)
		}
	}

	scheduler := schedule.NewScheduler(taskStore, q, store.Client(), db)
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	if err := scheduler.Start(rootCtx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewAttachmentTool())
	registry.Register(tools.NewMeetingTool())
	registry.Register(tools.NewScheduledTasksTool(scheduler))
	registry.Register(tools.NewDeleteScheduledTasksTool(scheduler))

	resolver := handles.NewResolver()
	formatter := report.NewGoldmark()
	processor := agent.New(router, registry, formatter, resolver)

	composer := &delivery.Composer{
		FromName:      cfg.Delivery.FromName,
		ServiceDomain: cfg.Delivery.ServiceDomain,
	}
	deliverer, err := buildDeliverer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize delivery: %v", err)
	}

	hostname, _ := os.Hostname()
	pool := worker.NewPool(q, store, processor, resolver, composer, deliverer, taskStore,
		worker.Options{
			WorkerID:      fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
			NumWorkers:    cfg.Worker.Concurrency,
			SkipDelivery:  cfg.Delivery.Skip,
			SkipAddresses: cfg.Delivery.SkipAddresses,
		})
	pool.Start(rootCtx)
	logger.Info("worker running",
		"concurrency", strconv.Itoa(cfg.Worker.Concurrency),
		"skip_delivery", fmt.Sprintf("%t", cfg.Delivery.Skip))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down", sig)

	scheduler.Stop()
	pool.Stop()
	processed, failed := pool.Stats()
	logger.Info("worker stopped",
		"processed", strconv.FormatInt(processed, 10),
		"failed", strconv.FormatInt(failed, 10))
}

func buildDeliverer(cfg *config.Config) (delivery.Deliverer, error) {
	if cfg.Delivery.Skip || cfg.SES.AccessKey == "" {
		return delivery.SkipDeliverer{}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return delivery.NewSESDeliverer(ctx, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
}
