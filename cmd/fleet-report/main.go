package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"fleet-telemetry/common/database"
	logpkg "fleet-telemetry/common/logger"
	rediscommon "fleet-telemetry/common/redis"
	"fleet-telemetry/internal/aggregator"
	"fleet-telemetry/internal/config"
	"fleet-telemetry/internal/report"
	"fleet-telemetry/internal/repository"

	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

func main() {
	now := time.Now().UTC()
	from := flag.String("from", now.AddDate(0, 0, -7).Format(dateLayout), "window start (YYYY-MM-DD, UTC)")
	to := flag.String("to", now.Format(dateLayout), "window end, inclusive (YYYY-MM-DD, UTC)")
	device := flag.String("device", "", "limit the report to one device id")
	out := flag.String("out", "fleet-report.xlsx", "output xlsx path")
	peek := flag.Bool("peek", false, "print per-device position counts and exit")
	noCache := flag.Bool("no-cache", false, "do not use the redis aggregation cache")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logpkg.NewLogger(cfg.Log.Level, "console", "fleet-report")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)
	store := repository.NewPostgresStore(db, log)

	ctx := context.Background()

	if *peek {
		if err := printPeek(ctx, store); err != nil {
			log.Fatal("Failed to load store summary", zap.Error(err))
		}
		return
	}

	window, err := parseWindow(*from, *to)
	if err != nil {
		log.Fatal("Invalid window", zap.Error(err))
	}

	// Redis 不可用时不缓存
	var kv aggregator.KVStore
	if !*noCache {
		client, err := rediscommon.Connect(ctx, &cfg.Redis)
		if err != nil {
			log.Warn("Redis unavailable, aggregation cache disabled", zap.Error(err))
		} else {
			defer rediscommon.Close(client)
			kv = aggregator.NewRedisKVStore(client)
		}
	}

	engine := aggregator.NewEngine(store, kv, aggregator.Options{
		CacheTTL:          cfg.Aggregation.CacheTTL,
		CorrelationWindow: cfg.Aggregation.CorrelationWindow,
	}, log)

	rep, err := report.NewBuilder(engine, store, log).Build(ctx, window, *device)
	if err != nil {
		log.Fatal("Failed to build report", zap.Error(err))
	}

	data, err := report.GenerateExcel(rep)
	if err != nil {
		log.Fatal("Failed to generate excel", zap.Error(err))
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		log.Fatal("Failed to write report", zap.String("path", *out), zap.Error(err))
	}

	log.Info("Report written",
		zap.String("path", *out),
		zap.Float64("total_km", rep.Distance.TotalKm),
		zap.Int("incidents", len(rep.Incidents)),
	)
}

// parseWindow 结束日期包含当天全天
func parseWindow(from, to string) (aggregator.Window, error) {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return aggregator.Window{}, fmt.Errorf("bad -from: %w", err)
	}
	end, err := time.Parse(dateLayout, to)
	if err != nil {
		return aggregator.Window{}, fmt.Errorf("bad -to: %w", err)
	}
	end = end.Add(24*time.Hour - time.Microsecond)
	if end.Before(start) {
		return aggregator.Window{}, fmt.Errorf("window end %s is before start %s", to, from)
	}
	return aggregator.Window{From: start, To: end}, nil
}

func printPeek(ctx context.Context, store repository.PositionsRepository) error {
	stats, err := store.PositionStats(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tNAME\tPOINTS\tFIRST FIX (UTC)\tLAST FIX (UTC)")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.DeviceID, s.DeviceName, s.Count,
			s.FirstFix.UTC().Format(time.RFC3339), s.LastFix.UTC().Format(time.RFC3339))
	}
	return w.Flush()
}
