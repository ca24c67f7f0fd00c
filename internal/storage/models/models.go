package models

import "time"

type Document struct {
	ID        string
	Source    string
	Title     string
	Summary   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DocumentChunk struct {
	ID         string
	DocID      string
	ChunkIndex int
	Text       string
	CreatedAt  time.Time
}

// ChatRecord is one answered turn, persisted for the history endpoint and
// offline diagnostics. It is deliberately separate from the in-memory turn
// ring buffer, which is capped and volatile.
type ChatRecord struct {
	ID             string
	SessionID      string
	TurnNumber     int
	Question       string
	Answer         string
	Strategy       string
	ContextStage   string
	QueriesUsed    int
	SourcesUsed    int
	Confidence     float64
	PersonaPresent bool
	LatencyMS      int
	CreatedAt      time.Time
}

type ChatSource struct {
	ID          int
	ChatID      string
	Source      string
	ChunkIndex  int
	Score       float64
	OriginQuery string
}
