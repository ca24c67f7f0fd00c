package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convorag_chat_duration_seconds",
			Help:    "Chat turn processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"strategy"},
	)

	ChatTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convorag_chat_total",
			Help: "Total number of chat turns processed",
		},
		[]string{"status"},
	)

	QueriesGenerated = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convorag_queries_generated",
			Help:    "Number of retrieval queries generated per turn",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8},
		},
		[]string{"strategy"},
	)

	RetrievalHits = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convorag_retrieval_hits",
			Help:    "Number of merged context passages per turn",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"stage"},
	)

	StageUsage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convorag_context_stage_total",
			Help: "Context relaxation stage used per turn",
		},
		[]string{"stage"},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "convorag_confidence_score",
			Help:    "Turn confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convorag_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convorag_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convorag_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "convorag_documents_processed_total",
			Help: "Total documents ingested",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "convorag_active_sessions",
			Help: "Sessions currently held in memory",
		},
	)
)

func Init() {
	prometheus.MustRegister(ChatDuration)
	prometheus.MustRegister(ChatTotal)
	prometheus.MustRegister(QueriesGenerated)
	prometheus.MustRegister(RetrievalHits)
	prometheus.MustRegister(StageUsage)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(DocumentsProcessed)
	prometheus.MustRegister(ActiveSessions)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
