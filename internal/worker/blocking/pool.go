// Package blocking はCPU負荷の高い処理（パスワードハッシュ等）を
// リクエスト処理とは別枠で実行するための上限付きワーカープールを提供する。
package blocking

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Observer はジョブの実行時間を受け取るフック。メトリクス記録に使用する。
type Observer func(kind string, d time.Duration)

// Pool は同時実行数を制限したブロッキングジョブ用のプール。
// スロット待ちの間はコンテキストのキャンセルに応答する。
type Pool struct {
	sem       *semaphore.Weighted
	size      int64
	observer  Observer
	completed atomic.Int64
}

// NewPool は同時実行数sizeのPoolを生成する。
// sizeが0以下の場合はruntime.NumCPU()を使用する。
func NewPool(size int, observer Observer) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{
		sem:      semaphore.NewWeighted(int64(size)),
		size:     int64(size),
		observer: observer,
	}
}

// Size はプールの同時実行数を返す。
func (p *Pool) Size() int { return int(p.size) }

// Completed は完了したジョブ数を返す。
func (p *Pool) Completed() int64 { return p.completed.Load() }

// Run はfnをプールのスロット上で実行し、結果を返す。
// スロット取得前にctxがキャンセルされた場合はctx.Err()を返す。
// 実行開始後のジョブは中断されず、結果を待たずに戻る場合もスロットはジョブ完了時に解放される。
func Run[T any](ctx context.Context, p *Pool, kind string, fn func() (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer p.sem.Release(1)
		start := time.Now()
		v, err := fn()
		p.completed.Add(1)
		if p.observer != nil {
			p.observer(kind, time.Since(start))
		}
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
