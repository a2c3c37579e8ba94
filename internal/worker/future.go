package worker

import (
	"context"
	"sync"
)

// Future 表示一个尚未结束的后台任务。
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewFuture 创建未完成的 Future。
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve 结束 Future，只有第一次调用生效。
func (f *Future) Resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done 在任务结束后关闭。
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait 等待任务结束并返回其错误；ctx 先结束时返回 ctx.Err()，任务本身不受影响。
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err 返回任务错误，任务未结束时返回 nil。
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}
