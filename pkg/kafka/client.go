// Package kafka 提供了通过 Kafka 分发入库任务的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"

	"docqa-go/internal/config"
	"docqa-go/internal/worker"
	"docqa-go/pkg/log"
	"docqa-go/pkg/tasks"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Dispatcher 把入库任务发送到 Kafka，并在同一进程内消费。
// 本进程发出的任务可以通过返回的 Future 等待结果。
type Dispatcher struct {
	writer    messageWriter
	reader    messageReader
	processor tasks.Processor
	pending   sync.Map // document id -> *worker.Future
	closeOnce sync.Once
}

// NewDispatcher 初始化 Kafka 生产者与消费者。
func NewDispatcher(cfg config.KafkaConfig, processor tasks.Processor) (*Dispatcher, error) {
	brokers := splitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka.brokers 未配置")
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	log.Info("Kafka 生产者初始化成功")
	return newDispatcher(w, r, processor), nil
}

func newDispatcher(w messageWriter, r messageReader, processor tasks.Processor) *Dispatcher {
	return &Dispatcher{writer: w, reader: r, processor: processor}
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Dispatch 发送一个入库任务到 Kafka。
func (d *Dispatcher) Dispatch(ctx context.Context, task tasks.IngestTask) (*worker.Future, error) {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	f := worker.NewFuture()
	d.pending.Store(task.DocumentID, f)
	err = d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.DocumentID),
		Value: taskBytes,
	})
	if err != nil {
		d.pending.Delete(task.DocumentID)
		return nil, fmt.Errorf("发送 Kafka 消息失败: %w", err)
	}
	return f, nil
}

// Run 消费入库任务直到 ctx 结束。每条消息处理后都会提交 offset，
// 失败的任务已在 registry 中标记为 failed，不再重试。
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Info("Kafka 消费者已启动")
	for {
		m, err := d.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("从 Kafka 读取消息失败", err)
			return err
		}
		log.Infof("收到 Kafka 消息: offset %d", m.Offset)
		d.handle(ctx, m)
		if err := d.reader.CommitMessages(context.Background(), m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, m kafka.Message) {
	var task tasks.IngestTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		return
	}

	logger := log.With("document_id", task.DocumentID, "file_name", task.FileName, "offset", m.Offset)
	logger.Info("开始处理入库任务")
	err := d.process(ctx, task)
	if err != nil {
		logger.Errorw("处理入库任务失败", "error", err)
	} else {
		logger.Info("入库任务处理成功")
	}
	if v, ok := d.pending.LoadAndDelete(task.DocumentID); ok {
		v.(*worker.Future).Resolve(err)
	}
}

func (d *Dispatcher) process(ctx context.Context, task tasks.IngestTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return d.processor.Process(context.WithoutCancel(ctx), task)
}

// Close 关闭生产者与消费者，未完成的 Future 以错误结束。
func (d *Dispatcher) Close() error {
	var errs []error
	d.closeOnce.Do(func() {
		if err := d.writer.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := d.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭 Kafka 消费者失败: %w", err))
		}
		d.pending.Range(func(k, v interface{}) bool {
			v.(*worker.Future).Resolve(worker.ErrPoolClosed)
			d.pending.Delete(k)
			return true
		})
	})
	return errors.Join(errs...)
}
