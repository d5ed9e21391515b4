package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/airquality-server/internal/database"
	"github.com/smukkama/airquality-server/internal/gaps"
	"github.com/smukkama/airquality-server/internal/imputation"
	"github.com/smukkama/airquality-server/internal/predictor"
	"github.com/smukkama/airquality-server/internal/validation"
	"github.com/smukkama/airquality-server/pkg/config"
)

func usage() {
	fmt.Println("Usage: imputectl <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  impute    Fill gaps for one station and parameter")
	fmt.Println("  rollback  Revert imputed values in a time range")
	fmt.Println("  validate  Benchmark the predictor against naive estimators")
	fmt.Println("  trigger   Trigger a scheduled job on the running service")
	fmt.Println("  status    Show recent job executions")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	switch os.Args[1] {
	case "impute":
		runImpute(cfg, os.Args[2:])
	case "rollback":
		runRollback(cfg, os.Args[2:])
	case "validate":
		runValidate(cfg, os.Args[2:])
	case "trigger":
		runTrigger(cfg, os.Args[2:])
	case "status":
		runStatus(cfg, os.Args[2:])
	default:
		usage()
	}
}

func connect(cfg *config.Config) *database.DB {
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	return db
}

func newPredictor(cfg *config.Config) predictor.SequencePredictor {
	client := predictor.NewClient(cfg.Predictor.BaseURL, cfg.Predictor.RequestTimeout)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		// Degrade to the uncached client when Redis is unreachable
		fmt.Printf("Redis unavailable (%v), model version caching disabled\n", err)
		return client
	}
	return predictor.NewCachedPredictor(client, redisClient, cfg.Predictor.VersionTTL)
}

func parseRange(fromStr, toStr string) (time.Time, time.Time) {
	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		log.Fatalf("Invalid -from: %v", err)
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		log.Fatalf("Invalid -to: %v", err)
	}
	if !to.After(from) {
		log.Fatal("-to must be after -from")
	}
	return from, to
}

func runImpute(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("impute", flag.ExitOnError)
	station := fs.String("station", "", "station ID (required)")
	parameter := fs.String("parameter", "", "parameter name (required)")
	fromStr := fs.String("from", "", "range start, RFC3339 (required)")
	toStr := fs.String("to", "", "range end, RFC3339 (required)")
	method := fs.String("method", "auto", "imputation method: auto, lstm, linear, forward_fill")
	fs.Parse(args)

	if *station == "" || *parameter == "" || *fromStr == "" || *toStr == "" {
		fs.Usage()
		os.Exit(1)
	}
	switch imputation.Method(*method) {
	case imputation.MethodAuto, imputation.MethodPredictor, imputation.MethodLinear, imputation.MethodForwardFill:
	default:
		log.Fatalf("Unknown method: %s", *method)
	}
	from, to := parseRange(*fromStr, *toStr)

	db := connect(cfg)
	defer db.Close()

	orchestrator := imputation.NewOrchestrator(
		db,
		newPredictor(cfg),
		imputation.NewPolicy(cfg.Imputation.ShortGapHours, cfg.Imputation.MediumGapHours, cfg.Imputation.MaxGapHours),
		imputation.NewWindowBuilder(cfg.Imputation.SequenceLength, cfg.Imputation.MaxContextGapHours),
		gaps.NewDetector(cfg.Imputation.ShortGapHours, cfg.Imputation.MaxGapHours),
	)

	summary, err := orchestrator.ImputeStationGaps(context.Background(), *station, *parameter, from, to, imputation.Method(*method))
	if err != nil {
		log.Fatalf("Imputation failed: %v", err)
	}

	fmt.Printf("Imputation complete for %s/%s\n", *station, *parameter)
	fmt.Printf("  Imputed: %d hours\n", summary.Imputed)
	fmt.Printf("  Skipped: %d hours\n", summary.Skipped)
	fmt.Printf("  Failed:  %d hours\n", summary.Failed)
	if summary.MethodUsed != "" {
		fmt.Printf("  Method:  %s\n", summary.MethodUsed)
	}
}

func runRollback(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	station := fs.String("station", "", "station ID (required)")
	parameter := fs.String("parameter", "", "parameter name (required)")
	fromStr := fs.String("from", "", "range start, RFC3339 (required)")
	toStr := fs.String("to", "", "range end, RFC3339 (required)")
	fs.Parse(args)

	if *station == "" || *parameter == "" || *fromStr == "" || *toStr == "" {
		fs.Usage()
		os.Exit(1)
	}
	from, to := parseRange(*fromStr, *toStr)

	db := connect(cfg)
	defer db.Close()

	reverted, err := db.RollbackImputed(context.Background(), *station, *parameter, from, to)
	if err != nil {
		log.Fatalf("Rollback failed: %v", err)
	}

	fmt.Printf("Reverted %d imputed values for %s/%s (audit log preserved)\n", reverted, *station, *parameter)
}

func runValidate(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	station := fs.String("station", "", "station ID (required)")
	parameter := fs.String("parameter", "", "parameter name (required)")
	fromStr := fs.String("from", "", "range start, RFC3339 (required)")
	toStr := fs.String("to", "", "range end, RFC3339 (required)")
	maskFraction := fs.Float64("mask", 0.1, "fraction of known points to mask")
	seed := fs.Int64("seed", 42, "mask sampling seed")
	fs.Parse(args)

	if *station == "" || *parameter == "" || *fromStr == "" || *toStr == "" {
		fs.Usage()
		os.Exit(1)
	}
	from, to := parseRange(*fromStr, *toStr)

	db := connect(cfg)
	defer db.Close()

	harness := validation.NewHarness(db, newPredictor(cfg),
		imputation.NewWindowBuilder(cfg.Imputation.SequenceLength, cfg.Imputation.MaxContextGapHours))

	report, err := harness.Validate(context.Background(), *station, *parameter, from, to, *maskFraction, *seed)
	if err != nil {
		log.Fatalf("Validation failed: %v", err)
	}

	fmt.Printf("Validation report for %s/%s (model %s)\n", report.StationID, report.Parameter, report.ModelVersion)
	fmt.Printf("  Masked points:  %d (evaluated %d)\n", report.MaskedCount, report.EvaluatedCount)
	fmt.Printf("  Model:          RMSE=%.4f MAE=%.4f\n", report.Model.RMSE, report.Model.MAE)
	fmt.Printf("  Linear:         RMSE=%.4f MAE=%.4f\n", report.Linear.RMSE, report.Linear.MAE)
	fmt.Printf("  Forward fill:   RMSE=%.4f MAE=%.4f\n", report.ForwardFill.RMSE, report.ForwardFill.MAE)
	fmt.Printf("  Improvement vs linear:       %.1f%%\n", report.ImprovementVsLinear)
	fmt.Printf("  Improvement vs forward fill: %.1f%%\n", report.ImprovementVsForwardFill)
	fmt.Printf("  Negative predictions: %d\n", report.NegativePredictions)
	if report.PassedAcceptance {
		fmt.Println("  Acceptance: PASSED")
	} else {
		fmt.Println("  Acceptance: FAILED")
		os.Exit(2)
	}
}

func adminURL(cfg *config.Config, path string) string {
	addr := cfg.Admin.Addr
	if addr != "" && addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

func runTrigger(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	job := fs.String("job", "hourly-pipeline", "job name to trigger")
	fs.Parse(args)

	resp, err := http.Post(adminURL(cfg, "/v1/jobs/"+*job+"/trigger"), "application/json", nil)
	if err != nil {
		log.Fatalf("Failed to reach scheduler service: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Fatalf("Failed to decode response: %v", err)
	}

	if resp.StatusCode != http.StatusAccepted {
		log.Fatalf("Trigger rejected: %s", body["error"])
	}
	fmt.Printf("Job %s triggered (execution %s)\n", *job, body["job_id"])
}

func runStatus(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jobID := fs.String("id", "", "show one execution instead of the recent list")
	fs.Parse(args)

	path := "/v1/executions"
	if *jobID != "" {
		path += "/" + *jobID
	}

	resp, err := http.Get(adminURL(cfg, path))
	if err != nil {
		log.Fatalf("Failed to reach scheduler service: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		log.Fatalf("Execution %s not found", *jobID)
	}

	type execution struct {
		JobID            string     `json:"job_id"`
		JobName          string     `json:"job_name"`
		Status           string     `json:"status"`
		StartedAt        time.Time  `json:"started_at"`
		CompletedAt      *time.Time `json:"completed_at"`
		RecordsProcessed int        `json:"records_processed"`
		GapsFilled       int        `json:"gaps_filled"`
		Error            string     `json:"error"`
	}

	printExec := func(e execution) {
		fmt.Printf("%s  %-16s %-9s started=%s records=%d gaps=%d",
			e.JobID, e.JobName, e.Status, e.StartedAt.Format("2006-01-02 15:04:05"),
			e.RecordsProcessed, e.GapsFilled)
		if e.Error != "" {
			fmt.Printf(" error=%q", e.Error)
		}
		fmt.Println()
	}

	if *jobID != "" {
		var e execution
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
			log.Fatalf("Failed to decode response: %v", err)
		}
		printExec(e)
		return
	}

	var executions []execution
	if err := json.NewDecoder(resp.Body).Decode(&executions); err != nil {
		log.Fatalf("Failed to decode response: %v", err)
	}
	if len(executions) == 0 {
		fmt.Println("No executions recorded yet")
		return
	}
	for _, e := range executions {
		printExec(e)
	}
}
