package sync

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"pos-sync-service/internal/config"
	"pos-sync-service/internal/logger"
)

// Scheduler fires periodic drain triggers so entries that missed a
// connectivity edge (or are waiting out a backoff) still get retried.
type Scheduler struct {
	cfg     config.SchedulerConfig
	engine  *Engine
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, engine *Engine) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		engine: engine,
		cron:   cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		logger.Log.Info("Sync scheduler is disabled")
		return
	}

	logger.Log.Info("Starting sync scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, s.triggerDrain)
	if err != nil {
		logger.Log.Error("Failed to schedule sync job", zap.Error(err))
		return
	}

	s.entryID = id
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Stopped sync scheduler")
}

func (s *Scheduler) triggerDrain() {
	if s.engine.Status() == StatusDraining {
		logger.Log.Debug("Drain already running, skipping scheduled trigger")
		return
	}
	logger.Log.Debug("Triggering scheduled drain")
	s.engine.TriggerDrain()
}
