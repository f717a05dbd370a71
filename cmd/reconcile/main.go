package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/yungbote/fabline-backend/internal/app"
)

func main() {
	var sweepOnly bool
	var timeout time.Duration
	flag.BoolVar(&sweepOnly, "sweep-only", false, "report lock drift without rebuilding locks")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline")
	flag.Parse()

	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if !sweepOnly {
		res := application.Lifecycle.Reconcile(ctx)
		fmt.Printf("reconciled=%d skipped=%d already_held=%d\n", res.Reconciled, res.Skipped, res.AlreadyHeld)
	}

	report, err := application.Locks.Sweep(ctx, application.Backends.Store)
	if err != nil {
		fmt.Printf("sweep: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("locks=%d orphaned=%d unlocked=%d\n", report.Locks, len(report.Orphans), len(report.Unlocked))
	if len(report.Orphans) > 0 {
		fmt.Printf("orphaned lock keys:\n  %s\n", strings.Join(report.Orphans, "\n  "))
	}
	if len(report.Unlocked) > 0 {
		fmt.Printf("occupied units without a lock:\n  %s\n", strings.Join(report.Unlocked, "\n  "))
	}
}
