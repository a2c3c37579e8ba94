// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Ingestion     IngestionConfig     `mapstructure:"ingestion"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Storage       StorageConfig       `mapstructure:"storage"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	VectorStore   VectorStoreConfig   `mapstructure:"vector_store"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// IngestionConfig 控制文档切块与后台处理。
type IngestionConfig struct {
	ChunkSize          int    `mapstructure:"chunk_size"`
	ChunkOverlap       int    `mapstructure:"chunk_overlap"`
	LargeFileThreshold int64  `mapstructure:"large_file_threshold"` // 字节，超过则转入后台处理
	Dispatcher         string `mapstructure:"dispatcher"`           // pool | kafka
	Workers            int    `mapstructure:"workers"`
	QueueSize          int    `mapstructure:"queue_size"`
	EmbedConcurrency   int    `mapstructure:"embed_concurrency"`
}

// RetrievalConfig 控制检索与提示词构建。
type RetrievalConfig struct {
	TopK              int    `mapstructure:"top_k"`
	ExcerptLength     int    `mapstructure:"excerpt_length"`
	MaxContextTokens  int    `mapstructure:"max_context_tokens"`
	TokenizerEncoding string `mapstructure:"tokenizer_encoding"`
}

// StorageConfig 选择上传文件的存储后端。
type StorageConfig struct {
	Type     string `mapstructure:"type"` // local | minio
	LocalDir string `mapstructure:"local_dir"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// VectorStoreConfig 选择向量索引后端。
type VectorStoreConfig struct {
	Type         string `mapstructure:"type"` // memory | elasticsearch
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL      string `mapstructure:"server_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	Dimensions        int     `mapstructure:"dimensions"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	CacheSize         int     `mapstructure:"cache_size"`
	CacheTTLMinutes   int     `mapstructure:"cache_ttl_minutes"`
	RedisCache        bool    `mapstructure:"redis_cache"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// Load 读取配置文件与环境变量。配置文件不存在时仅使用默认值与环境变量。
func Load(configPath string) (Config, error) {
	// .env 只用于本地开发，缺失时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DOCQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default 返回只包含默认值的配置，测试与命令行工具使用。
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("ingestion.chunk_size", 1000)
	v.SetDefault("ingestion.chunk_overlap", 200)
	v.SetDefault("ingestion.large_file_threshold", 5*1024*1024)
	v.SetDefault("ingestion.dispatcher", "pool")
	v.SetDefault("ingestion.workers", 2)
	v.SetDefault("ingestion.queue_size", 64)
	v.SetDefault("ingestion.embed_concurrency", 4)

	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("retrieval.excerpt_length", 300)
	v.SetDefault("retrieval.max_context_tokens", 3000)
	v.SetDefault("retrieval.tokenizer_encoding", "cl100k_base")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_dir", "uploaded_docs")

	v.SetDefault("vector_store.type", "memory")
	v.SetDefault("vector_store.snapshot_path", "vector_db/index.json")
	v.SetDefault("elasticsearch.index_name", "docqa_chunks")

	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "uploads")

	v.SetDefault("elasticsearch.addresses", "")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")

	v.SetDefault("tika.server_url", "")
	v.SetDefault("tika.timeout_seconds", 60)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "docqa-ingest")
	v.SetDefault("kafka.group_id", "docqa-ingest-consumer")

	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.cache_size", 1024)
	v.SetDefault("embedding.cache_ttl_minutes", 60)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.prompt.ref_start", "<<REF>>")
	v.SetDefault("llm.prompt.ref_end", "<<END>>")
	v.SetDefault("llm.prompt.no_result_text", "(no relevant context was retrieved)")
}

func (c Config) validate() error {
	if c.Ingestion.ChunkSize <= 0 {
		return fmt.Errorf("ingestion.chunk_size 必须大于 0")
	}
	if c.Ingestion.ChunkOverlap < 0 {
		return fmt.Errorf("ingestion.chunk_overlap 不能为负数")
	}
	switch c.Ingestion.Dispatcher {
	case "pool", "kafka":
	default:
		return fmt.Errorf("ingestion.dispatcher 必须是 pool 或 kafka, 实际为 %q", c.Ingestion.Dispatcher)
	}
	switch c.Storage.Type {
	case "local", "minio":
	default:
		return fmt.Errorf("storage.type 必须是 local 或 minio, 实际为 %q", c.Storage.Type)
	}
	switch c.VectorStore.Type {
	case "memory", "elasticsearch":
	default:
		return fmt.Errorf("vector_store.type 必须是 memory 或 elasticsearch, 实际为 %q", c.VectorStore.Type)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k 必须大于 0")
	}
	return nil
}
