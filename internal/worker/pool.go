// Package worker 提供后台入库使用的固定大小协程池。
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"docqa-go/pkg/log"
	"docqa-go/pkg/tasks"
)

// ErrPoolClosed 在 Close 之后提交任务时返回。
var ErrPoolClosed = errors.New("worker pool is closed")

// Task 是池中执行的一个工作单元。
type Task func(ctx context.Context) error

type job struct {
	name   string
	task   Task
	future *Future
}

// Pool 用 N 个 goroutine 消费有界队列。任务使用与提交方无关的 context 运行，
// 已开始的任务不会被取消。
type Pool struct {
	queue  chan job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewPool 启动 workers 个 goroutine，队列容量为 queueSize。
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{queue: make(chan job, queueSize)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.loop(i)
	}
	log.Infof("[WorkerPool] 已启动 %d 个 worker, 队列容量: %d", workers, queueSize)
	return p
}

func (p *Pool) loop(id int) {
	defer p.wg.Done()
	for j := range p.queue {
		log.Debugf("[WorkerPool] worker %d 开始执行任务 %s", id, j.name)
		err := run(j.task)
		if err != nil {
			log.Warnf("[WorkerPool] 任务 %s 执行失败: %v", j.name, err)
		}
		j.future.Resolve(err)
	}
}

// run 执行任务，panic 会被转换为错误返回。
func run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			log.Errorf("[WorkerPool] 任务 panic: %v\n%s", r, debug.Stack())
		}
	}()
	return task(context.Background())
}

// Submit 把任务放入队列。队列满时阻塞，直到有空位或 ctx 结束。
func (p *Pool) Submit(ctx context.Context, name string, task Task) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	f := NewFuture()
	select {
	case p.queue <- job{name: name, task: task, future: f}:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close 停止接收新任务，并等待队列中已有任务全部执行完。
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
	log.Info("[WorkerPool] 已关闭")
}

// PoolDispatcher 把入库任务交给进程内的 Pool 执行。
type PoolDispatcher struct {
	pool      *Pool
	processor tasks.Processor
}

// NewPoolDispatcher 创建基于 Pool 的分发器。
func NewPoolDispatcher(pool *Pool, processor tasks.Processor) *PoolDispatcher {
	return &PoolDispatcher{pool: pool, processor: processor}
}

// Dispatch 提交任务并返回对应的 Future。
func (d *PoolDispatcher) Dispatch(ctx context.Context, task tasks.IngestTask) (*Future, error) {
	return d.pool.Submit(ctx, task.DocumentID, func(ctx context.Context) error {
		return d.processor.Process(ctx, task)
	})
}

// Close 关闭底层 Pool。
func (d *PoolDispatcher) Close() error {
	d.pool.Close()
	return nil
}
