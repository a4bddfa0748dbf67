// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 期限切れのセッションと、保持期間（デフォルト7日）を超過した
// 未使用の確認トークンを、プライマリDBと全テナントDBから削除する。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Recorder は削除件数を記録するフック。
type Recorder interface {
	RecordCleanupDeleted(target string, count int64)
}

// CleanupJob は1つのDBに対する削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	logger             *slog.Logger
	recorder           Recorder
	TokenRetentionDays int // 確認トークンの保持日数（デフォルト: 7）
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(logger *slog.Logger, recorder Recorder) *CleanupJob {
	return &CleanupJob{
		logger:             logger,
		recorder:           recorder,
		TokenRetentionDays: 7,
	}
}

// Run はdbから期限切れセッションと古い確認トークンを削除する。
// nameはログとメトリクスに使うDBの識別名。
func (j *CleanupJob) Run(ctx context.Context, name string, db Executor) error {
	start := time.Now()

	sessions, err := j.exec(ctx, db, "sessions",
		`DELETE FROM sessions WHERE expires_at < now()`)
	if err != nil {
		j.logger.Error("session cleanup failed",
			slog.String("target", name),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to delete expired sessions on %s: %w", name, err)
	}

	interval := fmt.Sprintf("%d days", j.TokenRetentionDays)
	tokens, err := j.exec(ctx, db, "user_token",
		`DELETE FROM user_token WHERE created_at < now() - $1::interval`, interval)
	if err != nil {
		j.logger.Error("confirmation token cleanup failed",
			slog.String("target", name),
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.TokenRetentionDays),
		)
		return fmt.Errorf("failed to delete stale confirmation tokens on %s: %w", name, err)
	}

	j.logger.Info("cleanup completed",
		slog.String("target", name),
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_tokens", tokens),
		slog.Int("retention_days", j.TokenRetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

func (j *CleanupJob) exec(ctx context.Context, db Executor, table, query string, args ...interface{}) (int64, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if j.recorder != nil {
		j.recorder.RecordCleanupDeleted(table, n)
	}
	return n, nil
}

// Target はクリーンアップ対象のDB。
type Target struct {
	Name string
	DB   Executor
}

// TargetLister はプライマリと全テナントの対象DBを列挙する。
type TargetLister func(ctx context.Context) ([]Target, error)

// Sweeper は全対象DBに対してCleanupJobを実行する。
// テナント数が多い場合にDBへ負荷が集中しないよう、limiterで対象ごとの開始間隔を制御する。
type Sweeper struct {
	job     *CleanupJob
	targets TargetLister
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewSweeper はSweeperを生成する。perSecondは1秒あたりに処理を開始する対象数。
func NewSweeper(job *CleanupJob, targets TargetLister, perSecond float64, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		job:     job,
		targets: targets,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  logger,
	}
}

// Sweep は全対象を1巡する。1つの対象の失敗で残りの対象は止めず、失敗をまとめて返す。
func (s *Sweeper) Sweep(ctx context.Context) error {
	targets, err := s.targets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cleanup targets: %w", err)
	}

	var errs []error
	for _, t := range targets {
		if err := s.limiter.Wait(ctx); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := s.job.Run(ctx, t.Name, t.DB); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info("cleanup sweep finished",
		slog.Int("targets", len(targets)),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

// Start はintervalごとにSweepを実行する。起動直後に1回実行し、ctxがキャンセルされるまでブロックする。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("cleanup sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
