package processor

import (
	"context"
	"time"

	"bookreview/bookreview-service/internal/app/bookreview/service"
	"bookreview/pkg/logger"
	"bookreview/pkg/metrics"

	"github.com/robfig/cron/v3"
)

// cronLogger направляет сообщения cron в zerolog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

type CronScheduler struct {
	cron       *cron.Cron
	reconciler service.ReconcilerInterface
}

// NewCronScheduler создает планировщик с полем секунд в расписании.
// Следующий проход сверки пропускается, пока не закончился предыдущий.
func NewCronScheduler(reconciler service.ReconcilerInterface) *CronScheduler {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)

	return &CronScheduler{
		cron:       c,
		reconciler: reconciler,
	}
}

// Start регистрирует сверку по расписанию; runNow - сразу выполнить один проход
func (s *CronScheduler) Start(ctx context.Context, schedule string, runNow bool) error {
	logger.Info().Str("schedule", schedule).Msg("Starting cron scheduler")

	if _, err := s.cron.AddFunc(schedule, func() { s.reconcile(ctx) }); err != nil {
		return err
	}

	s.cron.Start()

	if runNow {
		logger.Info().Msg("Performing initial rating reconciliation")
		s.reconcile(ctx)
	}

	return nil
}

func (s *CronScheduler) Stop() {
	logger.Info().Msg("Stopping cron scheduler")
	<-s.cron.Stop().Done()
	logger.Info().Msg("Cron scheduler stopped")
}

func (s *CronScheduler) GetEntries() []cron.Entry {
	return s.cron.Entries()
}

func (s *CronScheduler) reconcile(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	report, err := s.reconciler.Run(ctx)
	if err != nil {
		metrics.WorkerReconcileRuns.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("Rating reconciliation failed")
		return
	}

	metrics.WorkerReconcileRuns.WithLabelValues("success").Inc()
	logger.Info().
		Int("books_checked", report.BooksChecked).
		Int("corrections", report.Corrections).
		Int("failures", report.Failures).
		Int64("orphans_removed", report.OrphansRemoved).
		Dur("duration", time.Since(start)).
		Msg("Rating reconciliation completed")
}
