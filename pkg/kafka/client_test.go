package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-go/internal/config"
	"docqa-go/pkg/tasks"
)

// memBroker 同时充当 writer 与 reader，消息经由内存 channel 传递。
type memBroker struct {
	ch        chan kafka.Message
	mu        sync.Mutex
	committed []int64
	writeErr  error
	offset    int64
}

func newMemBroker() *memBroker { return &memBroker{ch: make(chan kafka.Message, 16)} }

func (b *memBroker) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if b.writeErr != nil {
		return b.writeErr
	}
	for _, m := range msgs {
		b.mu.Lock()
		m.Offset = b.offset
		b.offset++
		b.mu.Unlock()
		b.ch <- m
	}
	return nil
}

func (b *memBroker) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-b.ch:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (b *memBroker) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range msgs {
		b.committed = append(b.committed, m.Offset)
	}
	return nil
}

func (b *memBroker) Close() error { return nil }

func (b *memBroker) commits() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.committed...)
}

type recordingProcessor struct {
	mu    sync.Mutex
	seen  []string
	fail  map[string]error
	panic string
}

func (p *recordingProcessor) Process(_ context.Context, task tasks.IngestTask) error {
	p.mu.Lock()
	p.seen = append(p.seen, task.DocumentID)
	p.mu.Unlock()
	if task.DocumentID == p.panic {
		panic("boom")
	}
	return p.fail[task.DocumentID]
}

func TestDispatcher_RoundTrip(t *testing.T) {
	broker := newMemBroker()
	errBad := errors.New("extraction failed")
	proc := &recordingProcessor{fail: map[string]error{"doc-bad": errBad}, panic: "doc-panic"}
	d := newDispatcher(broker, broker, proc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	okF, err := d.Dispatch(context.Background(), tasks.IngestTask{DocumentID: "doc-ok", FileName: "a.txt"})
	require.NoError(t, err)
	badF, err := d.Dispatch(context.Background(), tasks.IngestTask{DocumentID: "doc-bad", FileName: "b.pdf"})
	require.NoError(t, err)
	panicF, err := d.Dispatch(context.Background(), tasks.IngestTask{DocumentID: "doc-panic"})
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	assert.NoError(t, okF.Wait(waitCtx))
	assert.ErrorIs(t, badF.Wait(waitCtx), errBad)
	assert.ErrorContains(t, panicF.Wait(waitCtx), "boom")

	cancel()
	require.NoError(t, <-done)
	// 失败的任务同样提交 offset
	assert.Equal(t, []int64{0, 1, 2}, broker.commits())
}

func TestDispatcher_MalformedMessageIsCommitted(t *testing.T) {
	broker := newMemBroker()
	proc := &recordingProcessor{}
	d := newDispatcher(broker, broker, proc)
	broker.ch <- kafka.Message{Offset: 7, Value: []byte("{not json")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	assert.Eventually(t, func() bool { return len(broker.commits()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.Empty(t, proc.seen)
}

func TestDispatcher_WriteFailure(t *testing.T) {
	broker := newMemBroker()
	broker.writeErr = errors.New("broker down")
	d := newDispatcher(broker, broker, &recordingProcessor{})

	_, err := d.Dispatch(context.Background(), tasks.IngestTask{DocumentID: "x"})
	require.Error(t, err)
	_, ok := d.pending.Load("x")
	assert.False(t, ok)
}

func TestDispatcher_CloseResolvesPending(t *testing.T) {
	broker := newMemBroker()
	d := newDispatcher(broker, broker, &recordingProcessor{})
	f, err := d.Dispatch(context.Background(), tasks.IngestTask{DocumentID: "never-consumed"})
	require.NoError(t, err)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Error(t, f.Wait(context.Background()))
}

func TestNewDispatcher_RequiresBrokers(t *testing.T) {
	_, err := NewDispatcher(config.KafkaConfig{Brokers: " , "}, &recordingProcessor{})
	assert.Error(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitBrokers("a:9092, b:9092,"))
}
