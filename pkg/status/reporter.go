package status

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/bmolabs/bmo-agent/pkg/logger"
)

// Snapshot gathers the numbers for one report: memory counts per category
// plus total.
type Snapshot struct {
	Total      int
	ByCategory map[string]int
}

// Reporter logs a periodic memory report on a cron schedule.
type Reporter struct {
	expr     string
	tracker  *Tracker
	snapshot func(ctx context.Context) (Snapshot, error)
	lastFire string
}

// NewReporter validates the cron expression and builds the reporter.
func NewReporter(expr string, tracker *Tracker, snapshot func(ctx context.Context) (Snapshot, error)) (*Reporter, error) {
	gron := gronx.New()
	if !gron.IsValid(expr) {
		return nil, fmt.Errorf("invalid report cron expression: %q", expr)
	}
	return &Reporter{expr: expr, tracker: tracker, snapshot: snapshot}, nil
}

// Run checks the schedule every 30 seconds until ctx is canceled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.maybeReport(ctx, now)
		}
	}
}

func (r *Reporter) maybeReport(ctx context.Context, now time.Time) {
	minute := now.Format("2006-01-02T15:04")
	if minute == r.lastFire {
		return
	}

	// gronx matches a 5-field expression only at second zero, so ticks that
	// land mid-minute must be truncated or the schedule never fires.
	gron := gronx.New()
	due, err := gron.IsDue(r.expr, now.Truncate(time.Minute))
	if err != nil || !due {
		return
	}
	r.lastFire = minute

	snap, err := r.snapshot(ctx)
	if err != nil {
		logger.WarnCF("status", "Memory report snapshot failed", map[string]interface{}{"error": err.Error()})
		return
	}

	fields := map[string]interface{}{
		"memories_total":     snap.Total,
		"llm_requests_today": r.tracker.RequestsToday(),
	}
	for category, count := range snap.ByCategory {
		fields["memories_"+category] = count
	}
	logger.InfoCF("status", "Memory report", fields)
}
