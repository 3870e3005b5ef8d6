// One-shot reconciliation cycle runner, meant for cron / Cloud Scheduler jobs
// that don't go through the API server. Exits non-zero when the cycle failed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Gouzman/PharmaGo/config"
	"github.com/Gouzman/PharmaGo/geodata"
	"github.com/Gouzman/PharmaGo/models"
	"github.com/Gouzman/PharmaGo/pharmasync"
	"github.com/Gouzman/PharmaGo/roster"
	"github.com/Gouzman/PharmaGo/snapshot"
)

func main() {
	triggeredBy := flag.String("triggered-by", models.SyncTriggeredSystem, "Recorded on the sync run (system or manual).")
	timeout := flag.Duration("timeout", 20*time.Minute, "Hard deadline for the whole cycle.")
	skipRedis := flag.Bool("skip-redis", false, "Run without Redis (no cycle lock, no snapshot cache).")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Explicit connects; config never dials from init().
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	if !*skipRedis {
		config.ConnectRedisWithRetry()
	}
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	}

	worker := pharmasync.NewWorker(
		pharmasync.GormStore{},
		geodata.NewClient(),
		roster.NewClient(),
		snapshot.NewPublisher(nil),
		pharmasync.NewPubSubPublisher(),
	)

	report, err := pharmasync.RunCycleLocked(ctx, worker, time.Now().UTC(), *triggeredBy)
	if err != nil {
		if errors.Is(err, pharmasync.ErrCycleInProgress) {
			fmt.Fprintln(os.Stderr, "another cycle is already running; nothing to do")
			return
		}
		fmt.Fprintf(os.Stderr, "cycle failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	if report.Status == models.SyncRunStatusPartial {
		os.Exit(2)
	}
}
