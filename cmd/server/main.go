package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/api/idtoken"

	"github.com/carebridge/inbox-triage/internal/api"
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

// checkPortAvailable verifies the target port is not already in use, so a
// stale process does not silently swallow webhook traffic.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("CareBridge inbox triage server starting")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}
	if cfg.Database.URL == "" {
		log.Fatal("database.url is required (or set DATABASE_URL)")
	}

	if err := checkPortAvailable(cfg.Server.GetHost(), cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
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

	// Redis backs the suppressed-domain cache. Optional; the view falls back
	// to the database when it is absent.
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
			log.Printf("Redis connected: %s (suppression cache enabled)", cfg.Redis.Addr)
		}
		pingCancel()
	} else {
		log.Println("Redis not configured — suppression reads go straight to Postgres")
	}

	sourceRepo := postgres.NewSourceRepo(db)
	taskRepo := postgres.NewTaskRepo(db)
	suppressionRepo := postgres.NewSuppressionRepo(db)
	eventRepo := postgres.NewEventRepo(db)

	learner := suppression.NewLearner(suppressionRepo, supCache, cfg.Suppression.Threshold)
	supView := suppression.NewView(suppressionRepo, supCache)

	// The classifier degrades to heuristics-only when Bedrock is disabled:
	// every call reports failure, and routing falls back to the parsed record.
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

	// Pub/sub push JWTs are only verifiable when we know the audience they
	// were issued for; without one, webhook auth relies on the network edge.
	var validator api.PushTokenValidator
	if cfg.Google.PubSubAudience != "" {
		validator = func(ctx context.Context, token, audience string) error {
			_, err := idtoken.Validate(ctx, token, audience)
			return err
		}
		log.Printf("Push JWT verification enabled (audience: %s)", cfg.Google.PubSubAudience)
	} else {
		log.Println("Warning: push JWT verification disabled (no pubsub_audience configured)")
	}

	server := api.NewServer(cfg.Server, cfg.Google, sched, taskRepo, sourceRepo, learner, db, validator)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized — server is ready")

	<-done
	log.Println("Shutting down...")

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}
	db.Close()

	log.Println("Server stopped")
}
