package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/convorag/backend/internal/storage/models"
	"github.com/convorag/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		source TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL,
		summary TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON document_chunks(doc_id);

	CREATE TABLE IF NOT EXISTS chat_history (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		turn_number INTEGER NOT NULL,
		question TEXT NOT NULL,
		answer TEXT,
		strategy TEXT,
		context_stage TEXT,
		queries_used INTEGER,
		sources_used INTEGER,
		confidence REAL,
		persona_present INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_session ON chat_history(session_id);
	CREATE INDEX IF NOT EXISTS idx_chat_created ON chat_history(created_at);

	CREATE TABLE IF NOT EXISTS chat_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id TEXT NOT NULL,
		source TEXT,
		chunk_index INTEGER,
		score REAL,
		origin_query TEXT,
		FOREIGN KEY (chat_id) REFERENCES chat_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_chat ON chat_sources(chat_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}

func (c *Client) InsertDocument(doc *models.Document) error {
	_, err := c.db.Exec(`
		INSERT INTO documents (id, source, title, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Source, doc.Title, doc.Summary,
		doc.CreatedAt.Unix(), doc.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (c *Client) DeleteDocument(docID string) error {
	_, err := c.db.Exec(`DELETE FROM documents WHERE id = ?`, docID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (c *Client) InsertChunk(chunk *models.DocumentChunk) error {
	_, err := c.db.Exec(`
		INSERT OR REPLACE INTO document_chunks (id, doc_id, chunk_index, text, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		chunk.ID, chunk.DocID, chunk.ChunkIndex, chunk.Text, chunk.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	return nil
}

func (c *Client) DeleteChunksByDocument(docID string) error {
	_, err := c.db.Exec(`DELETE FROM document_chunks WHERE doc_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (c *Client) InsertChatRecord(record *models.ChatRecord) error {
	persona := 0
	if record.PersonaPresent {
		persona = 1
	}

	_, err := c.db.Exec(`
		INSERT INTO chat_history (
			id, session_id, turn_number, question, answer, strategy,
			context_stage, queries_used, sources_used, confidence,
			persona_present, latency_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.SessionID, record.TurnNumber, record.Question,
		record.Answer, record.Strategy, record.ContextStage, record.QueriesUsed,
		record.SourcesUsed, record.Confidence, persona, record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat record: %w", err)
	}
	return nil
}

func (c *Client) InsertChatSource(source *models.ChatSource) error {
	_, err := c.db.Exec(`
		INSERT INTO chat_sources (chat_id, source, chunk_index, score, origin_query)
		VALUES (?, ?, ?, ?, ?)`,
		source.ChatID, source.Source, source.ChunkIndex, source.Score, source.OriginQuery,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat source: %w", err)
	}
	return nil
}

func (c *Client) GetChatHistory(sessionID string, limit int) ([]*models.ChatRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := c.db.Query(`
		SELECT id, session_id, turn_number, question, answer, strategy,
		       context_stage, queries_used, sources_used, confidence,
		       persona_present, latency_ms, created_at
		FROM chat_history
		WHERE session_id = ?
		ORDER BY turn_number ASC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer rows.Close()

	records := make([]*models.ChatRecord, 0)
	for rows.Next() {
		var r models.ChatRecord
		var persona int
		var createdAt int64

		err := rows.Scan(&r.ID, &r.SessionID, &r.TurnNumber, &r.Question,
			&r.Answer, &r.Strategy, &r.ContextStage, &r.QueriesUsed,
			&r.SourcesUsed, &r.Confidence, &persona, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat record: %w", err)
		}

		r.PersonaPresent = persona == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, &r)
	}

	return records, rows.Err()
}
