package scheduler

import (
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Substrate is the periodic-execution facility triggers are installed on.
// The registry keeps the trigger set consistent with active tasks; the
// substrate decides when a trigger actually fires.
type Substrate interface {
	// ScheduleRecurring installs a trigger under key, replacing any
	// trigger already present for that key
	ScheduleRecurring(key, expression string, cmd func()) error

	// Unschedule removes the trigger under key; no-op if absent
	Unschedule(key string)
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// CronSubstrate implements Substrate on an in-process cron runner
type CronSubstrate struct {
	logger   *zap.Logger
	cron     *cron.Cron
	entryIDs sync.Map
}

// NewCronSubstrate creates a new cron-backed substrate
func NewCronSubstrate(logger *zap.Logger) *CronSubstrate {
	cronLogger := &cronLogger{logger: logger.Named("cron")}
	cronOptions := []cron.Option{
		cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger), cron.Recover(cronLogger)),
	}

	return &CronSubstrate{
		logger: logger.Named("substrate"),
		cron:   cron.New(cronOptions...),
	}
}

// Start starts the substrate
func (s *CronSubstrate) Start() {
	s.cron.Start()
}

// Stop stops the substrate and waits for running triggers to finish
func (s *CronSubstrate) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// ScheduleRecurring implements Substrate.ScheduleRecurring
func (s *CronSubstrate) ScheduleRecurring(key, expression string, cmd func()) error {
	entryID, err := s.cron.AddFunc(expression, cmd)
	if err != nil {
		return err
	}

	if previous, ok := s.entryIDs.Load(key); ok {
		s.cron.Remove(previous.(cron.EntryID))
	}
	s.entryIDs.Store(key, entryID)

	s.logger.Info("Installed trigger",
		zap.String("key", key),
		zap.String("expression", expression))
	return nil
}

// Unschedule implements Substrate.Unschedule
func (s *CronSubstrate) Unschedule(key string) {
	entryID, ok := s.entryIDs.Load(key)
	if !ok {
		return
	}

	s.cron.Remove(entryID.(cron.EntryID))
	s.entryIDs.Delete(key)

	s.logger.Info("Removed trigger", zap.String("key", key))
}
