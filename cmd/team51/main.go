package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/a8cteam51/team51-cli-new/internal/connector"
	"github.com/a8cteam51/team51-cli-new/internal/dashboard"
	"github.com/a8cteam51/team51-cli-new/internal/dispatch"
	"github.com/a8cteam51/team51-cli-new/internal/history"
	"github.com/a8cteam51/team51-cli-new/internal/progress"
	"github.com/a8cteam51/team51-cli-new/pkg/tasks"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments set the environment directly.
	godotenv.Load()

	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	var (
		targetsPath   = flag.String("targets", "", "path to a JSON file with target descriptors (required)")
		command       = flag.String("command", "", "pre-escaped command line to run on every target (required)")
		concurrency   = flag.Int("concurrency", getEnvInt("DISPATCH_CONCURRENCY", 8), "max simultaneously running workers")
		timeout       = flag.Duration("timeout", getEnvDuration("DISPATCH_TASK_TIMEOUT", 5*time.Minute), "per-task execution deadline (0 disables)")
		connectorName = flag.String("connector", getEnv("DISPATCH_CONNECTOR", "ssh"), "session connector: ssh, agent, or local")
	)
	flag.Parse()

	if *targetsPath == "" || *command == "" {
		flag.Usage()
		os.Exit(2)
	}

	slog.Info("starting batch dispatch", "version", version, "connector", *connectorName)

	batch, err := loadTasks(*targetsPath, *command)
	if err != nil {
		slog.Error("failed to load targets", "error", err)
		os.Exit(1)
	}

	conn, err := buildConnector(*connectorName)
	if err != nil {
		slog.Error("failed to build connector", "error", err)
		os.Exit(1)
	}

	runID := uuid.NewString()
	stream := progress.NewStream(1000)
	metrics := dispatch.NewMetrics(prometheus.DefaultRegisterer)

	// Optional run archive.
	var store *history.Store
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Ping(); err != nil {
			slog.Error("failed to ping database", "error", err)
			os.Exit(1)
		}

		store = history.NewStore(db)
		if err := store.EnsureSchema(context.Background()); err != nil {
			slog.Error("failed to ensure history schema", "error", err)
			os.Exit(1)
		}
	}

	// Metrics, health and dashboard on a side port for the duration of the run.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			body := map[string]interface{}{
				"status":  "healthy",
				"run_id":  runID,
				"version": version,
			}
			if latest, ok := stream.Latest(); ok {
				body["progress"] = latest
			}
			json.NewEncoder(w).Encode(body)
		})
		dashboard.NewHandler(dashboard.NewService(store, stream)).RegisterRoutes(mux)

		addr := ":" + getEnv("METRICS_PORT", "9090")
		slog.Info("dashboard and metrics server listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	onProgress := func(completed, total, failed int) {
		fmt.Fprintf(os.Stderr, "\r[%d/%d] %d failed", completed, total, failed)
		if completed == total {
			fmt.Fprintln(os.Stderr)
		}
		stream.Publish(progress.Event{
			RunID:     runID,
			Completed: completed,
			Total:     total,
			Failed:    failed,
		})
	}

	dispatcher, err := dispatch.New(conn,
		dispatch.Config{Concurrency: *concurrency, PerTaskTimeout: *timeout},
		dispatch.WithMetrics(metrics),
		dispatch.WithProgress(onProgress),
	)
	if err != nil {
		slog.Error("failed to build dispatcher", "error", err)
		os.Exit(1)
	}

	// SIGINT/SIGTERM aborts the batch: in-flight workers are cancelled and
	// unlaunched tasks are reported as failures.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report, err := dispatcher.Run(ctx, batch)
	if err != nil {
		slog.Error("dispatch aborted", "error", err)
		os.Exit(1)
	}

	if store != nil {
		archiveCtx, archiveCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer archiveCancel()
		if err := store.RecordRun(archiveCtx, runID, *command, report); err != nil {
			slog.Error("failed to archive run", "run_id", runID, "error", err)
		}
	}

	printReport(report)
	if len(report.Failures) > 0 {
		os.Exit(1)
	}
}

// loadTasks reads the target descriptors and builds validated tasks.
// Validation failures here are construction-time errors and abort the run.
func loadTasks(path, command string) ([]tasks.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}

	var targets []tasks.TargetDescriptor
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, fmt.Errorf("parse targets file: %w", err)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("targets file %s is empty", path)
	}

	batch := make([]tasks.Task, 0, len(targets))
	for _, target := range targets {
		task, err := tasks.NewTask(target, command)
		if err != nil {
			return nil, err
		}
		batch = append(batch, task)
	}
	return batch, nil
}

func buildConnector(name string) (connector.Connector, error) {
	switch name {
	case "ssh":
		return connector.NewSSHConnector(connector.SSHConfig{
			User:        getEnv("SSH_USER", ""),
			KeyPath:     getEnv("SSH_KEY_PATH", ""),
			Password:    getEnv("SSH_PASSWORD", ""),
			DialTimeout: getEnvDuration("SSH_DIAL_TIMEOUT", 15*time.Second),
		})
	case "agent":
		return connector.NewAgentConnector(connector.AgentConfig{
			SignatureSecret: getEnv("AGENT_SIGNATURE_SECRET", ""),
		})
	case "local":
		return &connector.LocalConnector{}, nil
	}
	return nil, fmt.Errorf("unknown connector %q", name)
}

func printReport(report *dispatch.Report) {
	out := struct {
		Successes map[string]json.RawMessage `json:"successes"`
		Failures  map[string]tasks.Failure   `json:"failures"`
		Duration  string                     `json:"duration"`
	}{
		Successes: report.Successes,
		Failures:  report.Failures,
		Duration:  report.Finished.Sub(report.Started).Round(time.Millisecond).String(),
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.Encode(out)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
