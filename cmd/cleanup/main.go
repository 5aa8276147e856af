// Command cleanup runs a one-off retention sweep against the change trail,
// for operators and cron jobs that do not want the HTTP endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"changetrail/internal/changelog/models"
	"changetrail/internal/changelog/retention"
	pgstore "changetrail/internal/changelog/store/postgres"
	"changetrail/internal/platform/config"
	"changetrail/internal/platform/logger"
	"changetrail/internal/platform/postgres"
)

func main() {
	var (
		days   = flag.Int("days", 0, "delete records older than this many days (0 uses the configured horizon)")
		before = flag.String("before", "", "delete records before this date (YYYY-MM-DD)")
		from   = flag.String("from", "", "start of an inclusive date range to delete (YYYY-MM-DD)")
		to     = flag.String("to", "", "end of an inclusive date range to delete (YYYY-MM-DD)")
		force  = flag.Bool("force", false, "run even when retention is disabled in config")
		dryRun = flag.Bool("dry-run", false, "count matching records without deleting")
	)
	flag.Parse()

	cfg := config.FromEnv()
	log := logger.New()

	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL must be set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	store := pgstore.New(db)
	engine := retention.New(store, cfg.Retention, log)

	var deleted int64
	switch {
	case *from != "" || *to != "":
		start, end, perr := parseRange(*from, *to)
		if perr != nil {
			fmt.Fprintln(os.Stderr, perr)
			os.Exit(2)
		}
		if *dryRun {
			deleted, err = store.Count(ctx, models.Filter{StartDate: start, EndDate: end})
		} else {
			deleted, err = engine.CleanupByDateRange(ctx, start, end)
		}
	case *before != "":
		cutoff, perr := time.Parse(time.DateOnly, *before)
		if perr != nil {
			fmt.Fprintf(os.Stderr, "-before must be YYYY-MM-DD: %v\n", perr)
			os.Exit(2)
		}
		if *dryRun {
			deleted, err = store.Count(ctx, models.Filter{EndDate: cutoff.AddDate(0, 0, -1)})
		} else {
			deleted, err = engine.CleanupBeforeDate(ctx, cutoff)
		}
	default:
		horizon := *days
		if horizon <= 0 {
			horizon = cfg.Retention.Days
		}
		if *dryRun {
			deleted, err = store.Count(ctx, models.Filter{}.OlderThanDays(horizon, time.Now()))
		} else {
			deleted, err = engine.Cleanup(ctx, horizon, *force)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
		os.Exit(1)
	}

	verb := "deleted"
	if *dryRun {
		verb = "would delete"
	}
	fmt.Printf("%s %d change records\n", verb, deleted)
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	start, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("-from must be YYYY-MM-DD: %w", err)
	}
	end, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("-to must be YYYY-MM-DD: %w", err)
	}
	return start, end, nil
}
