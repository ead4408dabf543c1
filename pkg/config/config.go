package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Milvus    MilvusConfig
	Neo4j     Neo4jConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Retrieval RetrievalConfig
	Rerank    RerankConfig
	Prompt    PromptConfig
	Chunking  ChunkingConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	MaxQueryLength int
	AllowOrigins   string
}

type SQLiteConfig struct {
	Path string
}

type MilvusConfig struct {
	Endpoint         string
	APIKey           string
	CollectionPrefix string
	VectorDim        int
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type LLMConfig struct {
	Model             string
	APIKey            string
	BaseURL           string
	Temperature       float32
	MaxTokens         int
	TimeoutSec        int
	EmbeddingModel    string
	EmbeddingAPIKey   string
	EmbeddingBaseURL  string
	EmbeddingDim      int
	EmbeddingPrefix   bool
	EmbeddingRetries  int
	CompletionRetries int
}

type RetrievalConfig struct {
	TopK                 int
	ScoreThreshold       float32
	EmbeddingConcurrency int
}

type RerankConfig struct {
	Provider    string
	Endpoint    string
	TimeoutSec  int
	FallbackCap int
}

type PromptConfig struct {
	TPMLimit       int
	TokenizerModel string
}

type ChunkingConfig struct {
	MaxChunkSize int
	OverlapSize  int
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/legal-rag")

	v.SetEnvPrefix("LEGAL_RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Chunking.MaxChunkSize <= 0 {
		return fmt.Errorf("invalid config: chunking.maxChunkSize must be positive")
	}
	if c.Chunking.OverlapSize < 0 || c.Chunking.OverlapSize >= c.Chunking.MaxChunkSize {
		return fmt.Errorf("invalid config: chunking.overlapSize must be in [0, maxChunkSize)")
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("invalid config: retrieval.topK must be positive")
	}
	if c.Prompt.TPMLimit <= 0 {
		return fmt.Errorf("invalid config: prompt.tpmLimit must be positive")
	}
	switch c.Rerank.Provider {
	case "http", "local", "none":
	default:
		return fmt.Errorf("invalid config: unknown rerank provider %q", c.Rerank.Provider)
	}
	if c.Rerank.Provider == "http" && c.Rerank.Endpoint == "" {
		return fmt.Errorf("invalid config: rerank.endpoint is required for the http provider")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.maxQueryLength", 4000)
	v.SetDefault("server.allowOrigins", "*")

	v.SetDefault("sqlite.path", "./data/legalrag.db")

	v.SetDefault("milvus.endpoint", "localhost:19530")
	v.SetDefault("milvus.collectionPrefix", "legal_")
	v.SetDefault("milvus.vectorDim", 1024)

	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlHours", 168)

	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 10000)
	v.SetDefault("llm.timeoutSec", 120)
	v.SetDefault("llm.embeddingModel", "intfloat/multilingual-e5-large")
	v.SetDefault("llm.embeddingBaseURL", "https://api.deepinfra.com/v1/openai")
	v.SetDefault("llm.embeddingDim", 1024)
	v.SetDefault("llm.embeddingPrefix", true)
	v.SetDefault("llm.embeddingRetries", 3)
	v.SetDefault("llm.completionRetries", 2)

	v.SetDefault("retrieval.topK", 10)
	v.SetDefault("retrieval.scoreThreshold", 0.5)
	v.SetDefault("retrieval.embeddingConcurrency", 4)

	v.SetDefault("rerank.provider", "local")
	v.SetDefault("rerank.timeoutSec", 15)
	v.SetDefault("rerank.fallbackCap", 20)

	v.SetDefault("prompt.tpmLimit", 30000)
	v.SetDefault("prompt.tokenizerModel", "gpt-4o")

	v.SetDefault("chunking.maxChunkSize", 1500)
	v.SetDefault("chunking.overlapSize", 100)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requestsPerMinute", 60)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
