// The worker runs the sync scheduler without the HTTP surface: polling stale
// sources and renewing provider watches. Deployments that terminate webhooks
// elsewhere run this alongside a push-only server.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carebridge/inbox-triage/internal/classifier"
	"github.com/carebridge/inbox-triage/internal/config"
	"github.com/carebridge/inbox-triage/internal/pipeline"
	"github.com/carebridge/inbox-triage/internal/provider/google"
	"github.com/carebridge/inbox-triage/internal/repository/postgres"
	"github.com/carebridge/inbox-triage/internal/scheduler"
	"github.com/carebridge/inbox-triage/internal/suppression"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

func main() {
	log.Println("CareBridge inbox triage worker starting")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database.url is required (or set DATABASE_URL)")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Database ping failed: %v", err)
	}
	pingCancel()
	log.Println("Database connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var supCache *suppression.Cache
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v — suppression cache disabled", cfg.Redis.Addr, err)
			redisClient.Close()
			redisClient = nil
		} else {
			supCache = suppression.NewCache(redisClient, cfg.Suppression.CacheTTL())
			log.Printf("Redis connected: %s", cfg.Redis.Addr)
		}
		pingCancel()
	}

	sourceRepo := postgres.NewSourceRepo(db)
	taskRepo := postgres.NewTaskRepo(db)
	suppressionRepo := postgres.NewSuppressionRepo(db)
	eventRepo := postgres.NewEventRepo(db)
	learner := suppression.NewLearner(suppressionRepo, supCache, cfg.Suppression.Threshold)
	supView := suppression.NewView(suppressionRepo, supCache)

	var clf classifier.Classifier
	if cfg.Bedrock.Enabled {
		bedrock, err := classifier.NewBedrockClassifier(ctx, cfg.Bedrock.Region, cfg.Bedrock.ModelID, cfg.Bedrock.Timeout())
		if err != nil {
			log.Fatalf("Failed to initialize Bedrock classifier: %v", err)
		}
		clf = bedrock
	} else {
		log.Println("Bedrock classifier disabled — running heuristics-only")
		clf = classifier.Func(func(ctx context.Context, in classifier.Input) classifier.Result {
			return classifier.Result{Err: "classifier disabled"}
		})
	}

	mailPipe := &pipeline.MailPipeline{
		Tasks:           taskRepo,
		Suppression:     supView,
		Classifier:      clf,
		Ignores:         learner,
		MaxMessageBytes: cfg.Sync.MaxMessageBytes,
		HistoryPageSize: cfg.Sync.HistoryPageSize,
	}
	calPipe := &pipeline.CalendarPipeline{
		Tasks:    taskRepo,
		PageSize: cfg.Sync.HistoryPageSize,
	}

	factory := google.NewFactory(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.Timeout())
	sched := scheduler.New(sourceRepo, eventRepo, factory, mailPipe, calPipe, cfg.Sync, cfg.Google)
	wg := sched.Start(ctx)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	log.Println("Shutting down...")
	cancel()
	wg.Wait()
	if redisClient != nil {
		redisClient.Close()
	}
	db.Close()
	log.Println("Worker stopped")
}
