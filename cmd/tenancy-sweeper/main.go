// tenancy-sweeper removes expired invitations on a schedule.
//
// Expired invitations are inert either way, since status is derived from
// timestamps on every read; the sweeper only keeps the table from growing
// without bound.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/meridianhq/tenancy/pkg/config"
	"github.com/meridianhq/tenancy/pkg/observability"
	"github.com/meridianhq/tenancy/pkg/orgs"
	"github.com/meridianhq/tenancy/pkg/storage/postgres"
)

var (
	dbURL         = flag.String("db-url", getEnv("TENANCY_DATABASE_URL", "postgres://localhost/tenancy?sslmode=disable"), "PostgreSQL connection URL")
	sweepSchedule = flag.String("sweep-schedule", "*/15 * * * *", "Cron schedule for the invitation sweep (default: every 15 minutes)")
	metricsAddr   = flag.String("metrics-addr", getEnv("TENANCY_METRICS_ADDR", ":9090"), "Address for the Prometheus metrics endpoint; empty disables it")
	runOnce       = flag.Bool("run-once", false, "Run one sweep and exit (for testing)")
	migrate       = flag.Bool("migrate", false, "Apply pending schema migrations before sweeping")
)

func main() {
	flag.Parse()

	db, err := postgres.Connect(*dbURL, postgres.DefaultConnectOptions())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if *migrate {
		if err := postgres.RunMigrations(context.Background(), db); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Migrations applied")
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	service := orgs.NewPostgresService(db, cfg, nil, nil, orgs.WithMetrics(metrics))

	// Run once mode (for testing or manual sweeps)
	if *runOnce {
		swept, err := service.CleanupExpiredInvitations(context.Background())
		if err != nil {
			log.Fatalf("Sweep failed: %v", err)
		}
		log.Printf("Sweep completed, removed %d expired invitations", swept)
		return
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler(registry))
		server := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server failed: %v", err)
			}
		}()
		defer server.Shutdown(context.Background())
	}

	c := cron.New()
	_, err = c.AddFunc(*sweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		swept, err := service.CleanupExpiredInvitations(ctx)
		if err != nil {
			log.Printf("Sweep failed: %v", err)
			return
		}
		if swept > 0 {
			log.Printf("Removed %d expired invitations", swept)
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule sweep: %v", err)
	}

	c.Start()
	log.Println("Tenancy invitation sweeper started")
	log.Printf("Sweep schedule: %s", *sweepSchedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down gracefully...")

	ctx := c.Stop()
	<-ctx.Done()

	log.Println("Sweeper stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
