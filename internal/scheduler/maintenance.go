package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// ScheduleMaintenance registers Maintenance on c. Overlapping runs are
// collapsed into one.
func (s *Scheduler) ScheduleMaintenance(ctx context.Context, c *cron.Cron, expr string) error {
	_, err := c.AddFunc(expr, func() { s.runMaintenance(ctx) })
	if err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", expr, err)
	}
	return nil
}

// runMaintenance collapses overlapping runs on this scheduler into one.
func (s *Scheduler) runMaintenance(ctx context.Context) {
	_, _, _ = s.maintenance.Do("maintenance", func() (any, error) {
		slog.Debug("running maintenance")
		s.Maintenance(ctx)
		return nil, nil
	})
}
