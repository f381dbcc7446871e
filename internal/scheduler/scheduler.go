package scheduler

import (
	"context"
	"log/slog"
	"time"
)

type Task func(ctx context.Context) error

// Every runs task immediately and then on each tick until ctx ends.
// A failing run is logged and does not stop the schedule.
func Every(ctx context.Context, log *slog.Logger, interval time.Duration, name string, task Task) {
	t := time.NewTicker(interval)
	defer t.Stop()

	run := func() {
		if err := task(ctx); err != nil && ctx.Err() == nil {
			log.Error("scheduled task failed", "task", name, "err", err)
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			run()
		}
	}
}
