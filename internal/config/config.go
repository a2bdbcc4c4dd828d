// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	RAG           RAGConfig           `mapstructure:"rag"`
	Upload        UploadConfig        `mapstructure:"upload"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
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
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL  string `mapstructure:"server_url"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	// BatchSize 是单次 API 调用最多携带的文本条数。
	BatchSize int `mapstructure:"batch_size"`
	// MaxRetries 与 RetryBaseMS 控制瞬时错误（限流、超时）的指数退避重试。
	MaxRetries  int `mapstructure:"max_retries"`
	RetryBaseMS int `mapstructure:"retry_base_ms"`
	TimeoutSec  int `mapstructure:"timeout_sec"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey      string              `mapstructure:"api_key"`
	BaseURL     string              `mapstructure:"base_url"`
	Model       string              `mapstructure:"model"`
	MaxRetries  int                 `mapstructure:"max_retries"`
	RetryBaseMS int                 `mapstructure:"retry_base_ms"`
	TimeoutSec  int                 `mapstructure:"timeout_sec"`
	Generation  LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// RAGConfig 配置检索增强生成管道的参数。
type RAGConfig struct {
	// ChunkSize 与 ChunkOverlap 以 rune 为单位。
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
	TopK         int `mapstructure:"top_k"`
	// MaxStructureChars 是结构抽取分析的全文前缀长度（rune）。
	MaxStructureChars int `mapstructure:"max_structure_chars"`
}

// UploadConfig 存储上传限制相关的配置。
type UploadConfig struct {
	MaxUploadMB int64 `mapstructure:"max_upload_mb"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults()
}

// applyDefaults 为缺省的管道参数补齐默认值。
func applyDefaults() {
	if Conf.RAG.ChunkSize <= 0 {
		Conf.RAG.ChunkSize = 400
	}
	if Conf.RAG.ChunkOverlap < 0 || Conf.RAG.ChunkOverlap >= Conf.RAG.ChunkSize {
		Conf.RAG.ChunkOverlap = 50
	}
	if Conf.RAG.TopK <= 0 {
		Conf.RAG.TopK = 5
	}
	if Conf.RAG.MaxStructureChars <= 0 {
		Conf.RAG.MaxStructureChars = 8000
	}
	if Conf.Embedding.Dimensions <= 0 {
		Conf.Embedding.Dimensions = 1536
	}
	if Conf.Embedding.BatchSize <= 0 {
		Conf.Embedding.BatchSize = 16
	}
	if Conf.Embedding.MaxRetries <= 0 {
		Conf.Embedding.MaxRetries = 3
	}
	if Conf.Embedding.RetryBaseMS <= 0 {
		Conf.Embedding.RetryBaseMS = 500
	}
	if Conf.Embedding.TimeoutSec <= 0 {
		Conf.Embedding.TimeoutSec = 30
	}
	if Conf.LLM.MaxRetries <= 0 {
		Conf.LLM.MaxRetries = 2
	}
	if Conf.LLM.RetryBaseMS <= 0 {
		Conf.LLM.RetryBaseMS = 1000
	}
	if Conf.LLM.TimeoutSec <= 0 {
		Conf.LLM.TimeoutSec = 60
	}
	if Conf.Tika.TimeoutSec <= 0 {
		// 大体积 PDF 的解析可能较慢，给足余量
		Conf.Tika.TimeoutSec = 120
	}
	if Conf.Upload.MaxUploadMB <= 0 {
		Conf.Upload.MaxUploadMB = 50
	}
}
