package api

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	sessionPurgeSchedule = "@every 1h"
	slotExpirySchedule   = "5 0 * * *"
)

// PurgeExpiredSessions deletes sessions whose moving expiration has passed.
func (s *Server) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM admin_sessions WHERE expires_at < ?", s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StartHousekeeping schedules the periodic jobs. The daily slot sweep runs
// in the application time zone. Stop the returned scheduler on shutdown.
func (s *Server) StartHousekeeping(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(s.loc))
	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) (int64, error)
	}{
		{"purge_sessions", sessionPurgeSchedule, s.PurgeExpiredSessions},
		{"expire_slots", slotExpirySchedule, s.ExpireFinishedSlots},
	}
	for _, job := range jobs {
		job := job
		if _, err := c.AddFunc(job.schedule, func() { s.runJob(ctx, job.name, job.run) }); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}
	c.Start()
	return c, nil
}

func (s *Server) runJob(ctx context.Context, name string, run func(context.Context) (int64, error)) {
	if ctx.Err() != nil {
		return
	}
	jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	started := s.now()
	n, err := run(jobCtx)
	if err != nil {
		s.log.Error("housekeeping job failed", zap.String("job", name), zap.Error(err))
		return
	}
	s.log.Info("housekeeping job done",
		zap.String("job", name),
		zap.Int64("affected", n),
		zap.Duration("took", s.now().Sub(started)))
}
