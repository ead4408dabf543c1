package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/legal-rag/backend/internal/chunk"
	"github.com/legal-rag/backend/internal/storage/models"
	"github.com/legal-rag/backend/pkg/logger"
)

const (
	settingIncludeScraping = "include_scraping"
	settingIncludeManual   = "include_manual"
)

var ErrNotFound = errors.New("not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func categoryTable(category models.Category) (string, error) {
	if _, err := models.ParseCategory(string(category)); err != nil {
		return "", err
	}
	return `"` + string(category) + `"`, nil
}

func (c *Client) InitSchema() error {
	var b strings.Builder
	for _, category := range models.AllCategories {
		fmt.Fprintf(&b, `
	CREATE TABLE IF NOT EXISTS "%[1]s" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chunk_id TEXT NOT NULL UNIQUE,
		content_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL,
		language TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_content ON "%[1]s"(content_id);
	`, category)
	}

	b.WriteString(`
	CREATE TABLE IF NOT EXISTS settings (
		title TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		query_text TEXT NOT NULL,
		response TEXT,
		language TEXT,
		degraded INTEGER DEFAULT 0,
		candidates INTEGER,
		evicted INTEGER,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);

	CREATE TABLE IF NOT EXISTS query_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		category TEXT NOT NULL,
		chunk_row_id TEXT,
		document_id TEXT,
		title TEXT,
		source_rank INTEGER,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_query ON query_sources(query_id);

	CREATE TABLE IF NOT EXISTS vector_sync_failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT NOT NULL,
		document_id TEXT NOT NULL,
		chunk_row_id TEXT,
		operation TEXT NOT NULL,
		error TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sync_created ON vector_sync_failures(created_at);
	`)

	_, err := c.db.Exec(b.String())
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// InsertChunks writes a chunk family in one transaction and returns the
// generated row ids in input order.
func (c *Client) InsertChunks(ctx context.Context, category models.Category, chunks []models.Chunk) ([]int64, error) {
	table, err := categoryTable(category)
	if err != nil {
		return nil, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids, err := insertChunksTx(ctx, tx, table, chunks)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit chunks: %w", err)
	}

	logger.Debug("Chunks inserted",
		zap.String("category", string(category)),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

// DeleteDocumentChunks removes the whole chunk family of documentID and
// returns the deleted row ids.
func (c *Client) DeleteDocumentChunks(ctx context.Context, category models.Category, documentID string) ([]int64, error) {
	table, err := categoryTable(category)
	if err != nil {
		return nil, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids, err := deleteFamilyTx(ctx, tx, table, documentID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}

	logger.Debug("Chunk family deleted",
		zap.String("category", string(category)),
		zap.String("document_id", documentID),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

// ReplaceChunks swaps the chunk family of documentID for chunks in a single
// transaction. When the family does not exist nothing is written and deleted
// is empty. On any error the previous family is left intact.
func (c *Client) ReplaceChunks(ctx context.Context, category models.Category, documentID string, chunks []models.Chunk) (deleted, inserted []int64, err error) {
	table, err := categoryTable(category)
	if err != nil {
		return nil, nil, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deleted, err = deleteFamilyTx(ctx, tx, table, documentID)
	if err != nil {
		return nil, nil, err
	}
	if len(deleted) == 0 {
		return nil, nil, nil
	}

	inserted, err = insertChunksTx(ctx, tx, table, chunks)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit replace: %w", err)
	}

	logger.Debug("Chunk family replaced",
		zap.String("category", string(category)),
		zap.String("document_id", documentID),
		zap.Int("deleted", len(deleted)),
		zap.Int("inserted", len(inserted)),
	)
	return deleted, inserted, nil
}

func insertChunksTx(ctx context.Context, tx *sql.Tx, table string, chunks []models.Chunk) ([]int64, error) {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+table+` (chunk_id, content_id, title, content, type, language, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(chunks))
	for _, ch := range chunks {
		res, err := stmt.ExecContext(ctx,
			ch.ChunkID,
			ch.DocumentID,
			ch.Title,
			ch.Content,
			string(ch.Type),
			string(ch.Language),
			ch.CreatedAt.Unix(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert chunk %s: %w", ch.ChunkID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read row id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func deleteFamilyTx(ctx context.Context, tx *sql.Tx, table, documentID string) ([]int64, error) {
	pattern := escapeLike(documentID+"_") + "%"

	rows, err := tx.QueryContext(ctx, `SELECT id FROM `+table+` WHERE chunk_id LIKE ? ESCAPE '\'`, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to select chunk family: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunk family: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE chunk_id LIKE ? ESCAPE '\'`, pattern); err != nil {
		return nil, fmt.Errorf("failed to delete chunk family: %w", err)
	}
	return ids, nil
}

// FirstChunkIDs lists the chunk ids with sequence index 0.
func (c *Client) FirstChunkIDs(ctx context.Context, category models.Category) ([]string, error) {
	table, err := categoryTable(category)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `SELECT chunk_id FROM `+table+` WHERE chunk_id LIKE ? ESCAPE '\'`, `%\_0`)
	if err != nil {
		return nil, fmt.Errorf("failed to list first chunks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c *Client) GetDocumentChunks(ctx context.Context, category models.Category, documentID string) ([]models.Chunk, error) {
	table, err := categoryTable(category)
	if err != nil {
		return nil, err
	}

	pattern := escapeLike(documentID+"_") + "%"
	return c.queryChunks(ctx, `SELECT id, chunk_id, content_id, title, content, type, language, created_at FROM `+table+` WHERE chunk_id LIKE ? ESCAPE '\' ORDER BY id`, category, pattern)
}

func (c *Client) ListChunks(ctx context.Context, category models.Category) ([]models.Chunk, error) {
	table, err := categoryTable(category)
	if err != nil {
		return nil, err
	}

	return c.queryChunks(ctx, `SELECT id, chunk_id, content_id, title, content, type, language, created_at FROM `+table+` ORDER BY id`, category)
}

func (c *Client) queryChunks(ctx context.Context, query string, category models.Category, args ...interface{}) ([]models.Chunk, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s chunks: %w", category, err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var ch models.Chunk
		var docType, language string
		var createdAt int64
		if err := rows.Scan(&ch.RowID, &ch.ChunkID, &ch.DocumentID, &ch.Title, &ch.Content, &docType, &language, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ch.Type = models.DocumentType(docType)
		ch.Language = models.Language(language)
		ch.CreatedAt = time.Unix(createdAt, 0)
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

// GetChunk looks up one chunk row by its row id, the key shared with the
// vector index.
func (c *Client) GetChunk(ctx context.Context, category models.Category, rowID string) (*models.Chunk, error) {
	table, err := categoryTable(category)
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(rowID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid row id %q: %w", rowID, err)
	}

	chunks, err := c.queryChunks(ctx, `SELECT id, chunk_id, content_id, title, content, type, language, created_at FROM `+table+` WHERE id = ?`, category, id)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("chunk %s/%s: %w", category, rowID, ErrNotFound)
	}
	return &chunks[0], nil
}

// GetSettings reads the source toggles. Any value other than "false" is true.
func (c *Client) GetSettings(ctx context.Context) (models.Settings, error) {
	settings := models.DefaultSettings()

	rows, err := c.db.QueryContext(ctx, `SELECT title, value FROM settings WHERE title IN (?, ?)`, settingIncludeScraping, settingIncludeManual)
	if err != nil {
		return settings, fmt.Errorf("failed to read settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var title, value string
		if err := rows.Scan(&title, &value); err != nil {
			return models.DefaultSettings(), fmt.Errorf("failed to scan setting: %w", err)
		}
		enabled := value != "false"
		switch title {
		case settingIncludeScraping:
			settings.IncludeScraping = enabled
		case settingIncludeManual:
			settings.IncludeManual = enabled
		}
	}
	if err := rows.Err(); err != nil {
		return models.DefaultSettings(), fmt.Errorf("failed to read settings: %w", err)
	}
	return settings, nil
}

func (c *Client) SetSetting(ctx context.Context, title, value string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO settings (title, value) VALUES (?, ?)
		ON CONFLICT(title) DO UPDATE SET value = excluded.value
	`, title, value)
	if err != nil {
		return fmt.Errorf("failed to store setting: %w", err)
	}

	logger.Info("Setting updated", zap.String("title", title), zap.String("value", value))
	return nil
}

func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	degraded := 0
	if record.Degraded {
		degraded = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO query_history (id, user_id, query_text, response, language, degraded,
			candidates, evicted, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.UserID,
		record.QueryText,
		record.Response,
		string(record.Language),
		degraded,
		record.Candidates,
		record.Evicted,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	for _, s := range record.Sources {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO query_sources (query_id, category, chunk_row_id, document_id, title, source_rank) VALUES (?, ?, ?, ?, ?, ?)`,
			record.ID, string(s.Category), s.ChunkRowID, s.DocumentID, s.Title, s.Rank,
		)
		if err != nil {
			return fmt.Errorf("failed to insert query source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit query record: %w", err)
	}

	logger.Info("Query recorded",
		zap.String("query_id", record.ID),
		zap.Int("sources", len(record.Sources)),
		zap.Bool("degraded", record.Degraded),
	)
	return nil
}

func (c *Client) GetQueryHistory(ctx context.Context, limit int) ([]models.QueryRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, COALESCE(user_id, ''), query_text, COALESCE(response, ''), COALESCE(language, ''),
			degraded, COALESCE(candidates, 0), COALESCE(evicted, 0), COALESCE(latency_ms, 0), created_at
		FROM query_history
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var language string
		var degraded int
		var createdAt int64

		err := rows.Scan(&r.ID, &r.UserID, &r.QueryText, &r.Response, &language,
			&degraded, &r.Candidates, &r.Evicted, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Language = models.Language(language)
		r.Degraded = degraded == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}

func (c *Client) RecordSyncFailure(ctx context.Context, f *models.SyncFailure) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	res, err := c.db.ExecContext(ctx,
		`INSERT INTO vector_sync_failures (category, document_id, chunk_row_id, operation, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(f.Category), f.DocumentID, f.ChunkRowID, string(f.Operation), f.Error, f.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record sync failure: %w", err)
	}
	f.ID, _ = res.LastInsertId()
	return nil
}

func (c *Client) ListSyncFailures(ctx context.Context, limit int) ([]models.SyncFailure, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, category, document_id, COALESCE(chunk_row_id, ''), operation, error, created_at
		FROM vector_sync_failures
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync failures: %w", err)
	}
	defer rows.Close()

	var failures []models.SyncFailure
	for rows.Next() {
		var f models.SyncFailure
		var category, operation string
		var createdAt int64
		if err := rows.Scan(&f.ID, &category, &f.DocumentID, &f.ChunkRowID, &operation, &f.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		f.Category = models.Category(category)
		f.Operation = models.SyncOperation(operation)
		f.CreatedAt = time.Unix(createdAt, 0)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// MergedDocuments reassembles stored chunk rows into documents.
func MergedDocuments(category models.Category, chunks []models.Chunk) []models.Document {
	pieces := make([]chunk.Piece, len(chunks))
	created := make(map[string]time.Time, len(chunks))
	for i, ch := range chunks {
		pieces[i] = chunk.Piece{
			ChunkID:  ch.ChunkID,
			Title:    ch.Title,
			Content:  ch.Content,
			Type:     string(ch.Type),
			Language: string(ch.Language),
		}
		if _, ok := created[ch.DocumentID]; !ok {
			created[ch.DocumentID] = ch.CreatedAt
		}
	}

	merged := chunk.MergeChunks(pieces)
	docs := make([]models.Document, len(merged))
	for i, m := range merged {
		docs[i] = models.Document{
			ID:         m.DocumentID,
			Category:   category,
			Title:      m.Title,
			Content:    m.Content,
			Type:       models.DocumentType(m.Type),
			Language:   models.Language(m.Language),
			CreatedAt:  created[m.DocumentID],
			ChunkCount: m.ChunkCount,
			IsMerged:   m.IsMerged,
		}
	}
	return docs
}
