// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Log         LogConfig         `mapstructure:"log"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Ingestion   IngestionConfig   `mapstructure:"ingestion"`
	Tika        TikaConfig        `mapstructure:"tika"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	MinIO       MinIOConfig       `mapstructure:"minio"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval"`
	Chat        ChatConfig        `mapstructure:"chat"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	CORS        CORSConfig        `mapstructure:"cors"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储关系库与 Redis 的连接配置。
// Driver 取值 mysql 或 postgres。
type DatabaseConfig struct {
	Driver string      `mapstructure:"driver"`
	DSN    string      `mapstructure:"dsn"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                   string `mapstructure:"secret"`
	AccessTokenExpireMinutes int    `mapstructure:"access_token_expire_minutes"`
	RefreshTokenExpireDays   int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// IngestionConfig 控制文档入库流程。
// Mode 为 inline 时在上传请求内同步完成入库，为 kafka 时投递任务异步处理。
type IngestionConfig struct {
	Mode             string `mapstructure:"mode"`
	ChunkSize        int    `mapstructure:"chunk_size"`
	ChunkOverlap     int    `mapstructure:"chunk_overlap"`
	EmbedBatchSize   int    `mapstructure:"embed_batch_size"`
	EmbedConcurrency int    `mapstructure:"embed_concurrency"`
	MaxFileSizeMB    int64  `mapstructure:"max_file_size_mb"`
	MaxAttempts      int64  `mapstructure:"max_attempts"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL      string `mapstructure:"server_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// VectorStoreConfig 选择向量库实现：elasticsearch、qdrant 或 memory。
type VectorStoreConfig struct {
	Driver        string              `mapstructure:"driver"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Qdrant        QdrantConfig        `mapstructure:"qdrant"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses          string `mapstructure:"addresses"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// QdrantConfig 存储 Qdrant gRPC 连接配置。
type QdrantConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	UseTLS bool   `mapstructure:"use_tls"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint             string `mapstructure:"endpoint"`
	AccessKeyID          string `mapstructure:"access_key_id"`
	SecretAccessKey      string `mapstructure:"secret_access_key"`
	UseSSL               bool   `mapstructure:"use_ssl"`
	BucketName           string `mapstructure:"bucket_name"`
	PresignExpiryMinutes int    `mapstructure:"presign_expiry_minutes"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Model          string              `mapstructure:"model"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
	Prompt         LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置回答中使用的固定拒答文本。
type LLMPromptConfig struct {
	RefusalText string `mapstructure:"refusal_text"`
}

// RetrievalConfig 控制检索策略参数。
type RetrievalConfig struct {
	DefaultMode     string  `mapstructure:"default_mode"`
	TopK            int     `mapstructure:"top_k"`
	FetchK          int     `mapstructure:"fetch_k"`
	MMRLambda       float64 `mapstructure:"mmr_lambda"`
	MultiQueryCount int     `mapstructure:"multi_query_count"`
}

// ChatConfig 控制会话历史。HistoryLimit 为 0 表示不限制。
type ChatConfig struct {
	HistoryLimit int `mapstructure:"history_limit"`
}

// RateLimitConfig 控制每个用户的提问频率。
type RateLimitConfig struct {
	AskPerMinute float64 `mapstructure:"ask_per_minute"`
	Burst        int     `mapstructure:"burst"`
}

// CORSConfig 存储跨域配置。
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Load 读取 .env 与 YAML 配置文件并返回解析后的配置。
// 环境变量以 SYNAPSE_ 为前缀覆盖同名配置项，例如 SYNAPSE_LLM_API_KEY。
func Load(configPath string) (Config, error) {
	var cfg Config

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SYNAPSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化全局配置 Conf，失败时直接 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_expire_minutes", 60)
	v.SetDefault("jwt.refresh_token_expire_days", 7)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "source-ingestion")
	v.SetDefault("kafka.group_id", "synapse-ingestion")

	v.SetDefault("ingestion.mode", "inline")
	v.SetDefault("ingestion.chunk_size", 1000)
	v.SetDefault("ingestion.chunk_overlap", 100)
	v.SetDefault("ingestion.embed_batch_size", 64)
	v.SetDefault("ingestion.embed_concurrency", 4)
	v.SetDefault("ingestion.max_file_size_mb", 50)
	v.SetDefault("ingestion.max_attempts", 3)

	v.SetDefault("tika.server_url", "http://localhost:9998")
	v.SetDefault("tika.timeout_seconds", 120)

	v.SetDefault("vector_store.driver", "elasticsearch")
	v.SetDefault("vector_store.elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("vector_store.elasticsearch.username", "")
	v.SetDefault("vector_store.elasticsearch.password", "")
	v.SetDefault("vector_store.elasticsearch.insecure_skip_verify", false)
	v.SetDefault("vector_store.qdrant.host", "localhost")
	v.SetDefault("vector_store.qdrant.port", 6334)
	v.SetDefault("vector_store.qdrant.api_key", "")
	v.SetDefault("vector_store.qdrant.use_tls", false)

	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "synapse-sources")
	v.SetDefault("minio.presign_expiry_minutes", 15)

	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 0)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("llm.generation.temperature", 0.5)
	v.SetDefault("llm.generation.top_p", 0)
	v.SetDefault("llm.generation.max_tokens", 0)
	v.SetDefault("llm.prompt.refusal_text", "I could not find information about this in your documents.")

	v.SetDefault("retrieval.default_mode", "mmr")
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.fetch_k", 20)
	v.SetDefault("retrieval.mmr_lambda", 0.5)
	v.SetDefault("retrieval.multi_query_count", 3)

	v.SetDefault("chat.history_limit", 20)

	v.SetDefault("rate_limit.ask_per_minute", 30)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("cors.allow_origins", []string{"*"})
}
