// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// ワーカープロセスがcron式のスケジュールで実行する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRunTimeout は1回の削除処理に許す最大時間。
const DefaultRunTimeout = time.Minute

// SessionPurger は期限切れセッションの削除に必要なインターフェース。
// repository.SessionRepositoryが満たす。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Job は期限切れセッションを削除するジョブ。
// 削除対象がない場合もエラーにせず、何度実行しても結果は変わらない。
type Job struct {
	sessions   SessionPurger
	logger     *slog.Logger
	RunTimeout time.Duration
}

// NewJob は新しいJobを生成する。
func NewJob(sessions SessionPurger, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{sessions: sessions, logger: logger, RunTimeout: DefaultRunTimeout}
}

// Run は期限切れセッションを削除し、削除件数をログに記録する。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()
	if j.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.RunTimeout)
		defer cancel()
	}

	deleted, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("セッションクリーンアップに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to clean up sessions: %w", err)
	}

	j.logger.Info("セッションクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Scheduler はJobをcron式のスケジュールで実行する。
type Scheduler struct {
	cron     *cron.Cron
	job      *Job
	schedule string
	logger   *slog.Logger

	// ctx はStartで渡されたコンテキスト。各実行の親になる。
	ctx context.Context
}

// NewScheduler はscheduleを検証してSchedulerを生成する。
// scheduleは標準の5フィールド形式または "@daily" などの記述子。
func NewScheduler(job *Job, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		job:      job,
		schedule: schedule,
		logger:   logger,
		ctx:      context.Background(),
	}
	if _, err := s.cron.AddFunc(schedule, s.runJob); err != nil {
		return nil, fmt.Errorf("failed to register cleanup job: %w", err)
	}
	return s, nil
}

func (s *Scheduler) runJob() {
	// エラーはRunの中でログに記録済み
	_ = s.job.Run(s.ctx)
}

// Start は起動直後に1回ジョブを実行してからスケジュールを開始する。
// ctxがキャンセルされるまでブロックし、実行中のジョブの完了を待って戻る。
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.logger.Info("クリーンアップスケジューラを開始しました", slog.String("schedule", s.schedule))

	s.runJob()
	s.cron.Start()

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("クリーンアップスケジューラを停止しました")
}

// cronLogger はcronの内部ログをslogに流す。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err.Error())...)
}
