// Package service 包含了应用的业务逻辑层。App 在启动时构建一次，
// 由 HTTP handler 和命令行共用。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"docqa-go/internal/chunker"
	"docqa-go/internal/config"
	"docqa-go/internal/loader"
	"docqa-go/internal/pipeline"
	"docqa-go/internal/rag"
	"docqa-go/internal/registry"
	"docqa-go/internal/vectorindex"
	"docqa-go/internal/worker"
	"docqa-go/pkg/database"
	"docqa-go/pkg/embedding"
	"docqa-go/pkg/es"
	"docqa-go/pkg/kafka"
	"docqa-go/pkg/llm"
	"docqa-go/pkg/log"
	"docqa-go/pkg/storage"
	"docqa-go/pkg/tasks"
	"docqa-go/pkg/tika"
)

// Dispatcher 把入库任务交给后台执行。
type Dispatcher interface {
	Dispatch(ctx context.Context, task tasks.IngestTask) (*worker.Future, error)
	Close() error
}

// App 持有所有组件。
type App struct {
	cfg        config.Config
	registry   *registry.Registry
	index      *vectorindex.Manager
	engine     *rag.Engine
	store      storage.FileStore
	loader     *loader.Loader
	processor  *pipeline.Processor
	dispatcher Dispatcher
	rdb        *redis.Client

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type appOptions struct {
	embedder embedding.Client
	llm      llm.Client
	backend  vectorindex.Backend
	store    storage.FileStore
	counter  rag.TokenCounter
}

// Option 替换 App 默认创建的外部依赖，主要用于测试。
type Option func(*appOptions)

// WithEmbedder 使用给定的 embedding 客户端。
func WithEmbedder(c embedding.Client) Option { return func(o *appOptions) { o.embedder = c } }

// WithLLM 使用给定的生成客户端。
func WithLLM(c llm.Client) Option { return func(o *appOptions) { o.llm = c } }

// WithBackend 使用给定的向量索引后端。
func WithBackend(b vectorindex.Backend) Option { return func(o *appOptions) { o.backend = b } }

// WithStore 使用给定的文件存储。
func WithStore(s storage.FileStore) Option { return func(o *appOptions) { o.store = s } }

// WithTokenCounter 使用给定的 token 计数器。
func WithTokenCounter(c rag.TokenCounter) Option { return func(o *appOptions) { o.counter = c } }

// NewApp 按配置初始化全部组件，并接管已有的向量索引。
func NewApp(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := &appOptions{}
	for _, opt := range opts {
		opt(o)
	}
	app := &App{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	// 1. Redis（可选，仅用于 embedding 缓存）
	if cfg.Embedding.RedisCache {
		rdb, err := database.InitRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		app.rdb = rdb
	}

	// 2. 文件存储
	app.store = o.store
	if app.store == nil {
		s, err := storage.New(ctx, cfg.Storage, cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("初始化文件存储失败: %w", err)
		}
		app.store = s
	}

	// 3. embedding 客户端 + 缓存
	embedder := o.embedder
	if embedder == nil {
		embedder = embedding.NewClient(cfg.Embedding)
	}
	embedder = embedding.WrapWithCache(embedder, cfg.Embedding.Model, cfg.Embedding.CacheSize,
		time.Duration(cfg.Embedding.CacheTTLMinutes)*time.Minute, app.rdb)

	// 4. 向量索引
	backend := o.backend
	if backend == nil {
		b, err := newBackend(cfg)
		if err != nil {
			return nil, err
		}
		backend = b
	}
	app.index = vectorindex.NewManager(backend, embedder, cfg.Embedding.Model,
		vectorindex.WithEmbedConcurrency(cfg.Ingestion.EmbedConcurrency),
		vectorindex.WithDimensions(cfg.Embedding.Dimensions),
	)
	if err := app.index.Open(ctx); err != nil {
		return nil, err
	}

	// 5. 加载、切分与入库流程
	var extractor loader.TextExtractor
	if tc := tika.NewClient(cfg.Tika); tc != nil {
		extractor = tc
	}
	app.registry = registry.New()
	splitter := chunker.New(chunker.WithChunkSize(cfg.Ingestion.ChunkSize), chunker.WithOverlap(cfg.Ingestion.ChunkOverlap))
	app.loader = loader.New(app.store, extractor)
	app.processor = pipeline.NewProcessor(app.loader, splitter, app.index, app.registry)

	// 6. 问答引擎
	generator := o.llm
	if generator == nil {
		generator = llm.NewClient(cfg.LLM)
	}
	engineOpts := []rag.Option{rag.WithGenerationParams(llm.ParamsFromConfig(cfg.LLM.Generation))}
	if o.counter != nil {
		engineOpts = append(engineOpts, rag.WithTokenCounter(o.counter))
	}
	app.engine = rag.NewEngine(app.index, app.registry, generator, cfg.Retrieval, cfg.LLM.Prompt, engineOpts...)

	// 7. 后台任务分发
	if err := app.startDispatcher(); err != nil {
		return nil, err
	}

	ok = true
	log.Infof("应用初始化完成, vector_store: %s, storage: %s, dispatcher: %s",
		cfg.VectorStore.Type, cfg.Storage.Type, cfg.Ingestion.Dispatcher)
	return app, nil
}

func newBackend(cfg config.Config) (vectorindex.Backend, error) {
	switch strings.ToLower(cfg.VectorStore.Type) {
	case "", "memory":
		return vectorindex.NewMemStore(cfg.VectorStore.SnapshotPath)
	case "elasticsearch":
		s, err := es.NewStore(cfg.Elasticsearch)
		if err != nil {
			return nil, err
		}
		log.Infof("向量后端使用 Elasticsearch, index: %s", s.IndexName())
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported vector_store type: %s", cfg.VectorStore.Type)
	}
}

func (a *App) startDispatcher() error {
	switch strings.ToLower(a.cfg.Ingestion.Dispatcher) {
	case "", "pool":
		pool := worker.NewPool(a.cfg.Ingestion.Workers, a.cfg.Ingestion.QueueSize)
		a.dispatcher = worker.NewPoolDispatcher(pool, a.processor)
	case "kafka":
		d, err := kafka.NewDispatcher(a.cfg.Kafka, a.processor)
		if err != nil {
			return err
		}
		runCtx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := d.Run(runCtx); err != nil {
				log.Error("Kafka 消费者异常退出", err)
			}
		}()
		a.dispatcher = d
	default:
		return fmt.Errorf("unsupported ingestion dispatcher: %s", a.cfg.Ingestion.Dispatcher)
	}
	return nil
}

// Close 停止后台任务并释放连接。已在执行的入库任务会先完成。
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		if a.dispatcher != nil {
			if err := a.dispatcher.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		a.wg.Wait()
		if a.rdb != nil {
			if err := a.rdb.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Config 返回生效的配置。
func (a *App) Config() config.Config { return a.cfg }

// Registry 返回文档登记表。
func (a *App) Registry() *registry.Registry { return a.registry }

// Index 返回向量索引管理器。
func (a *App) Index() *vectorindex.Manager { return a.index }
