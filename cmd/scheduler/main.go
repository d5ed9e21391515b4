package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/smukkama/airquality-server/internal/database"
	"github.com/smukkama/airquality-server/internal/gaps"
	"github.com/smukkama/airquality-server/internal/guard"
	"github.com/smukkama/airquality-server/internal/imputation"
	"github.com/smukkama/airquality-server/internal/ingest"
	"github.com/smukkama/airquality-server/internal/predictor"
	"github.com/smukkama/airquality-server/internal/quality"
	"github.com/smukkama/airquality-server/internal/queue"
	"github.com/smukkama/airquality-server/internal/scheduler"
	"github.com/smukkama/airquality-server/internal/server"
	"github.com/smukkama/airquality-server/pkg/config"
)

// trainer adapts the predictor client to the refresh job
type trainer struct {
	pred predictor.SequencePredictor
}

func (t *trainer) Fit(ctx context.Context, stationID, parameter string) error {
	result, err := t.pred.Fit(ctx, stationID, parameter)
	if err != nil {
		return err
	}
	if result.Status != predictor.FitCompleted {
		return fmt.Errorf("fit ended with status %s", result.Status)
	}
	fmt.Printf("Model %s trained for %s/%s (%d samples)\n",
		result.ModelVersion, stationID, parameter, result.Samples)
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Imputation Scheduler Service...")

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	fmt.Println("Connected to Redis")

	// Topic for raw readings
	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, cfg.Kafka.NumPartitions, 1); err != nil {
		fmt.Printf("Topic creation: %v (may already exist)\n", err)
	}

	producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings)
	defer producer.Close()

	fetcher := ingest.NewFetcher(cfg.Upstream.BaseURL, cfg.Upstream.FetchTimeout,
		producer, cfg.Upstream.RetryAttempts, cfg.Upstream.RetryBackoff)

	// Predictor with Redis-cached model versions
	pred := predictor.NewCachedPredictor(
		predictor.NewClient(cfg.Predictor.BaseURL, cfg.Predictor.RequestTimeout),
		redisClient, cfg.Predictor.VersionTTL)

	policy := imputation.NewPolicy(cfg.Imputation.ShortGapHours, cfg.Imputation.MediumGapHours, cfg.Imputation.MaxGapHours)
	windows := imputation.NewWindowBuilder(cfg.Imputation.SequenceLength, cfg.Imputation.MaxContextGapHours)
	detector := gaps.NewDetector(cfg.Imputation.ShortGapHours, cfg.Imputation.MaxGapHours)
	orchestrator := imputation.NewOrchestrator(db, pred, policy, windows, detector)

	// Station leases outlive the per-station timeout so a wedged worker
	// cannot hold a station forever
	stationGuard := guard.NewStationGuard(redisClient, 2*cfg.Scheduler.StationTimeout, uuid.New().String())

	pipeline := scheduler.NewPipeline(db, fetcher, orchestrator, stationGuard,
		cfg.Imputation.StationWorkers, cfg.Scheduler.LookbackHours, cfg.Scheduler.StationTimeout)

	snapshots := quality.NewSnapshotStore(redisClient, 2*cfg.Scheduler.QualityEvery)
	scanner := quality.NewScanner(db, snapshots, cfg.Scheduler.LookbackHours)

	sched := scheduler.New(cfg.Scheduler.HistorySize)
	sched.Register("hourly-pipeline", func(now time.Time) time.Time {
		return scheduler.NextHourly(now, cfg.Scheduler.HourlyOffset)
	}, pipeline.Run)
	sched.Register("quality-scan", scheduler.NextInterval(cfg.Scheduler.QualityEvery),
		scheduler.QualityJob(scanner))
	sched.Register("model-refresh", func(now time.Time) time.Time {
		next, err := scheduler.NextDaily(now, cfg.Scheduler.RefreshTime)
		if err != nil {
			// Validated at startup; fall back to 24h just in case
			return now.Add(24 * time.Hour)
		}
		return next
	}, scheduler.RefreshJob(db, &trainer{pred: pred}))

	if _, err := scheduler.NextDaily(time.Now(), cfg.Scheduler.RefreshTime); err != nil {
		log.Fatalf("Invalid SCHEDULER_REFRESH_TIME: %v", err)
	}

	sched.Start()
	fmt.Println("Scheduler started")

	admin := server.NewAdminServer(cfg.Admin.Addr, sched, snapshots, db)
	if err := admin.Start(); err != nil {
		log.Fatalf("Failed to start admin server: %v", err)
	}
	fmt.Printf("Admin API listening on %s\n", cfg.Admin.Addr)

	fmt.Println("\n✓ Imputation Scheduler Service is running")
	fmt.Println("✓ Jobs: hourly-pipeline, quality-scan, model-refresh")
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	admin.Stop()
	sched.Stop()
	fmt.Println("Imputation Scheduler Service stopped")
}
