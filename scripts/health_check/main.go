package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"autotrade-core/internal/gateway"
	"autotrade-core/pkg/broker/rest"
	"autotrade-core/pkg/config"
	"autotrade-core/pkg/db"
)

// health_check reports whether the database, the venue gateway and the admin
// API of a deployment are reachable.
//
// Usage:
//   go run ./scripts/health_check [--json]

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

const (
	healthy   = "HEALTHY"
	degraded  = "DEGRADED"
	unhealthy = "UNHEALTHY"
)

var requiredTables = []string{"strategies", "sessions", "session_positions", "audit_entries"}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.Load()
	report := HealthReport{Overall: healthy}
	if err != nil {
		report.Services = append(report.Services, status("Configuration", unhealthy, fmt.Sprintf("load failed: %v", err)))
	} else {
		report.Services = append(report.Services,
			status("Configuration", healthy, fmt.Sprintf("port=%s paper=%t", cfg.Port, cfg.PaperTrading)),
			checkDatabase(ctx, cfg),
			checkGateway(ctx, cfg),
			checkAPIServer(ctx, cfg),
		)
	}

	for _, svc := range report.Services {
		if svc.Status == unhealthy {
			report.Overall = unhealthy
			break
		} else if svc.Status == degraded {
			report.Overall = degraded
		}
	}

	if len(os.Args) > 1 && os.Args[1] == "--json" {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
	} else {
		for _, svc := range report.Services {
			fmt.Printf("%-14s %-10s %s\n", svc.Service, svc.Status, svc.Message)
		}
		fmt.Printf("\nOverall: %s\n", report.Overall)
	}

	if report.Overall == unhealthy {
		os.Exit(1)
	}
}

func status(service, state, msg string) HealthStatus {
	return HealthStatus{Service: service, Status: state, Message: msg, Timestamp: time.Now()}
}

// checkDatabase pings the store and verifies the schema without migrating it.
func checkDatabase(ctx context.Context, cfg *config.Config) HealthStatus {
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return status("Database", unhealthy, fmt.Sprintf("open failed: %v", err))
	}
	defer database.Close()

	if err := database.Ping(); err != nil {
		return status("Database", unhealthy, fmt.Sprintf("ping failed: %v", err))
	}
	var missing []string
	for _, table := range requiredTables {
		var name string
		err := database.DB.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return status("Database", degraded, fmt.Sprintf("missing tables %v (start the core once to migrate)", missing))
	}
	return status("Database", healthy, cfg.DBPath)
}

func checkGateway(ctx context.Context, cfg *config.Config) HealthStatus {
	if cfg.PaperTrading {
		return status("Gateway", healthy, "paper venue")
	}
	client := rest.New(gateway.RESTConfig(cfg))
	if err := client.Ping(ctx); err != nil {
		return status("Gateway", unhealthy, err.Error())
	}
	used, limit, pct := client.Usage()
	return status("Gateway", healthy, fmt.Sprintf("%s budget %d/%d (%.0f%%)", cfg.GatewayBaseURL, used, limit, pct))
}

func checkAPIServer(ctx context.Context, cfg *config.Config) HealthStatus {
	resp, err := resty.New().SetTimeout(5 * time.Second).R().
		SetContext(ctx).
		Get(fmt.Sprintf("http://localhost:%s/health", cfg.Port))
	if err != nil {
		return status("Admin API", unhealthy, fmt.Sprintf("not reachable: %v", err))
	}
	if resp.IsError() {
		return status("Admin API", degraded, fmt.Sprintf("HTTP %d", resp.StatusCode()))
	}
	return status("Admin API", healthy, "running")
}
