package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Milvus       MilvusConfig
	SQLite       SQLiteConfig
	Redis        RedisConfig
	LLM          LLMConfig
	Conversation ConversationConfig
	Retrieval    RetrievalConfig
	Session      SessionConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
	IndexType      string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// TTLs in seconds
	EmbeddingTTL int
	AnswerTTL    int
}

type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

// ConversationConfig bounds the per-session conversation state.
type ConversationConfig struct {
	MaxKeyEntities           int
	MaxConstraints           int
	MaxTurnHistory           int
	PhaseConfidenceThreshold float64
	RecentTurnWindow         int
}

// RetrievalConfig holds every tunable of the multi-query retrieval path:
// query generation bounds, the relaxation stage table, the initial-context
// boost, adaptive-confidence parameters and orchestrator limits.
type RetrievalConfig struct {
	MaxQueriesPerRequest    int
	MinQueryLength          int
	MaxQueryLength          int
	MaxConcurrentRetrievals int
	PerQueryTimeoutSec      int

	Stages             []StageConfig
	StageTurnWidth     int
	InitialBoostTurns  int
	BoostTopK          int
	BoostThreshold     float64
	BoostContextWeight float64
	MinSimilarity      float64
	MaxContextWeight   float64

	HighWaterConfidence float64
	LowWaterConfidence  float64

	BaseConfidenceThreshold float64
	MinConfidenceThreshold  float64
	MaxConfidenceThreshold  float64
	TurnDecay               float64
	QualityBonus            float64
	ComplexityPenalty       float64
	AdjustmentDecay         float64
	MaxAdjustment           float64
}

type StageConfig struct {
	Name                string
	TopK                int
	SimilarityThreshold float64
	ContextWeight       float64
}

type SessionConfig struct {
	IdleTimeoutSec     int
	CleanupIntervalSec int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/convorag")

	viper.SetEnvPrefix("CONVORAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(config.Retrieval.Stages) == 0 {
		config.Retrieval.Stages = DefaultStages()
	}

	return &config, nil
}

// DefaultStages is the built-in relaxation table, ordered from most
// selective to most permissive.
func DefaultStages() []StageConfig {
	return []StageConfig{
		{Name: "focused", TopK: 4, SimilarityThreshold: 0.75, ContextWeight: 0.9},
		{Name: "balanced", TopK: 6, SimilarityThreshold: 0.65, ContextWeight: 0.8},
		{Name: "broad", TopK: 8, SimilarityThreshold: 0.55, ContextWeight: 0.7},
		{Name: "exploratory", TopK: 12, SimilarityThreshold: 0.45, ContextWeight: 0.6},
	}
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "knowledge_chunks")
	viper.SetDefault("milvus.vectorDim", 1536)
	viper.SetDefault("milvus.indexType", "IVF_FLAT")

	viper.SetDefault("sqlite.path", "./data/convorag.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.embeddingTTL", 86400)
	viper.SetDefault("redis.answerTTL", 3600)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 60)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)

	viper.SetDefault("conversation.maxKeyEntities", 12)
	viper.SetDefault("conversation.maxConstraints", 8)
	viper.SetDefault("conversation.maxTurnHistory", 20)
	viper.SetDefault("conversation.phaseConfidenceThreshold", 0.4)
	viper.SetDefault("conversation.recentTurnWindow", 3)

	viper.SetDefault("retrieval.maxQueriesPerRequest", 6)
	viper.SetDefault("retrieval.minQueryLength", 3)
	viper.SetDefault("retrieval.maxQueryLength", 512)
	viper.SetDefault("retrieval.maxConcurrentRetrievals", 4)
	viper.SetDefault("retrieval.perQueryTimeoutSec", 10)
	viper.SetDefault("retrieval.stageTurnWidth", 3)
	viper.SetDefault("retrieval.initialBoostTurns", 2)
	viper.SetDefault("retrieval.boostTopK", 3)
	viper.SetDefault("retrieval.boostThreshold", 0.1)
	viper.SetDefault("retrieval.boostContextWeight", 0.1)
	viper.SetDefault("retrieval.minSimilarity", 0.2)
	viper.SetDefault("retrieval.maxContextWeight", 1.0)
	viper.SetDefault("retrieval.highWaterConfidence", 0.8)
	viper.SetDefault("retrieval.lowWaterConfidence", 0.35)
	viper.SetDefault("retrieval.baseConfidenceThreshold", 0.7)
	viper.SetDefault("retrieval.minConfidenceThreshold", 0.3)
	viper.SetDefault("retrieval.maxConfidenceThreshold", 0.9)
	viper.SetDefault("retrieval.turnDecay", 0.02)
	viper.SetDefault("retrieval.qualityBonus", 0.1)
	viper.SetDefault("retrieval.complexityPenalty", 0.1)
	viper.SetDefault("retrieval.adjustmentDecay", 0.8)
	viper.SetDefault("retrieval.maxAdjustment", 0.15)

	viper.SetDefault("session.idleTimeoutSec", 1800)
	viper.SetDefault("session.cleanupIntervalSec", 300)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
