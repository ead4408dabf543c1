// Package ingestion runs the document lifecycle across the relational store,
// the vector index and the citation graph.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/legal-rag/backend/internal/chunk"
	"github.com/legal-rag/backend/internal/metrics"
	"github.com/legal-rag/backend/internal/storage/models"
	"github.com/legal-rag/backend/internal/storage/sqlite"
	"github.com/legal-rag/backend/internal/vector/zilliz"
	"github.com/legal-rag/backend/pkg/logger"
)

var (
	ErrInvalidInput     = errors.New("invalid document input")
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
)

type ChunkStore interface {
	InsertChunks(ctx context.Context, category models.Category, chunks []models.Chunk) ([]int64, error)
	DeleteDocumentChunks(ctx context.Context, category models.Category, documentID string) ([]int64, error)
	ReplaceChunks(ctx context.Context, category models.Category, documentID string, chunks []models.Chunk) (deleted, inserted []int64, err error)
	FirstChunkIDs(ctx context.Context, category models.Category) ([]string, error)
	GetDocumentChunks(ctx context.Context, category models.Category, documentID string) ([]models.Chunk, error)
	ListChunks(ctx context.Context, category models.Category) ([]models.Chunk, error)
	RecordSyncFailure(ctx context.Context, f *models.SyncFailure) error
}

type VectorStore interface {
	Upsert(ctx context.Context, category models.Category, records []zilliz.Record) error
	DeleteByContentID(ctx context.Context, category models.Category, contentID string) error
}

type Embedder interface {
	EmbedPassage(ctx context.Context, text string) ([]float32, error)
}

type CitationGraph interface {
	BuildFromDocument(ctx context.Context, doc *models.Document) error
	RemoveDocument(ctx context.Context, category models.Category, id string) error
}

type DocumentInput struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	HTML     string `json:"html"`
	Type     string `json:"type"`
	Language string `json:"language"`
}

type Result struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Embedded   int    `json:"embedded"`
	Failed     int    `json:"failed"`
	// VectorSynced is false when any chunk is missing from the vector index.
	VectorSynced bool `json:"vector_synced"`
}

type Options struct {
	MaxChunkSize int
	OverlapSize  int
	Concurrency  int
}

type Processor struct {
	store       ChunkStore
	vectors     VectorStore
	embedder    Embedder
	graph       CitationGraph
	chunkSize   int
	overlap     int
	concurrency int

	// allocMu serializes id allocation with the insert that claims the id.
	// Lock order is allocMu, then the document lock.
	allocMu sync.Mutex
	docs    docLocks
}

func docKey(category models.Category, id string) string {
	return string(category) + "/" + id
}

// NewProcessor wires the lifecycle. graph may be nil when the citation graph
// is disabled.
func NewProcessor(store ChunkStore, vectors VectorStore, embedder Embedder, graph CitationGraph, opts Options) *Processor {
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = chunk.DefaultMaxChunkSize
	}
	if opts.OverlapSize < 0 {
		opts.OverlapSize = chunk.DefaultOverlapSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	return &Processor{
		store:       store,
		vectors:     vectors,
		embedder:    embedder,
		graph:       graph,
		chunkSize:   opts.MaxChunkSize,
		overlap:     opts.OverlapSize,
		concurrency: opts.Concurrency,
	}
}

type validated struct {
	title    string
	content  string
	docType  models.DocumentType
	language models.Language
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func (p *Processor) validate(in DocumentInput) (*validated, error) {
	title := strings.TrimSpace(in.Title)
	content := in.Content

	if strings.TrimSpace(content) == "" && strings.TrimSpace(in.HTML) != "" {
		htmlTitle, text, err := ExtractHTML(in.HTML)
		if err != nil {
			return nil, invalid("%v", err)
		}
		content = text
		if title == "" {
			title = htmlTitle
		}
	}

	if title == "" {
		return nil, invalid("title is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, invalid("content is required")
	}
	if in.Type == "" {
		return nil, invalid("type is required")
	}
	if in.Language == "" {
		return nil, invalid("language is required")
	}

	docType, err := models.ParseDocumentType(in.Type)
	if err != nil {
		return nil, invalid("%v", err)
	}
	lang, err := models.ParseLanguage(in.Language)
	if err != nil {
		return nil, invalid("%v", err)
	}

	return &validated{title: title, content: content, docType: docType, language: lang}, nil
}

// Create stores a new document. Without an explicit id the next numeric id
// of the category is allocated.
func (p *Processor) Create(ctx context.Context, category models.Category, in DocumentInput) (*Result, error) {
	v, err := p.validate(in)
	if err != nil {
		return nil, err
	}

	p.allocMu.Lock()
	docID := strings.TrimSpace(in.ID)
	if docID == "" {
		firsts, err := p.store.FirstChunkIDs(ctx, category)
		if err != nil {
			p.allocMu.Unlock()
			return nil, fmt.Errorf("failed to allocate document id: %w", err)
		}
		docID = chunk.NextDocumentID(firsts)
	} else {
		if err := chunk.ValidateDocumentID(docID); err != nil {
			p.allocMu.Unlock()
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		existing, err := p.store.GetDocumentChunks(ctx, category, docID)
		if err != nil {
			p.allocMu.Unlock()
			return nil, fmt.Errorf("failed to check document %s: %w", docID, err)
		}
		if len(existing) > 0 {
			p.allocMu.Unlock()
			return nil, fmt.Errorf("%w: %s/%s", ErrDocumentExists, category, docID)
		}
	}

	unlock := p.docs.lock(docKey(category, docID))
	defer unlock()

	chunks := p.buildChunks(docID, v)
	rowIDs, err := p.store.InsertChunks(ctx, category, chunks)
	p.allocMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to insert chunks: %w", err)
	}
	p.attachRowIDs(category, docID, chunks, rowIDs)

	res := p.syncDerived(ctx, category, docID, v, chunks, rowIDs)
	metrics.DocumentsProcessed.WithLabelValues(string(category), "create").Inc()
	return res, nil
}

// Update replaces the whole chunk family of an existing document. The
// relational swap is atomic; old vector records are dropped only after it
// commits.
func (p *Processor) Update(ctx context.Context, category models.Category, id string, in DocumentInput) (*Result, error) {
	v, err := p.validate(in)
	if err != nil {
		return nil, err
	}
	if err := chunk.ValidateDocumentID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	unlock := p.docs.lock(docKey(category, id))
	defer unlock()

	chunks := p.buildChunks(id, v)
	deleted, rowIDs, err := p.store.ReplaceChunks(ctx, category, id, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to replace chunks: %w", err)
	}
	if len(deleted) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, category, id)
	}
	p.attachRowIDs(category, id, chunks, rowIDs)

	if err := p.vectors.DeleteByContentID(ctx, category, id); err != nil {
		p.recordFailure(ctx, category, id, "", models.SyncDelete, err)
	}

	res := p.syncDerived(ctx, category, id, v, chunks, rowIDs)
	metrics.DocumentsProcessed.WithLabelValues(string(category), "update").Inc()
	return res, nil
}

func (p *Processor) buildChunks(docID string, v *validated) []models.Chunk {
	parts := chunk.Split(v.content, p.chunkSize, p.overlap)
	now := time.Now()

	chunks := make([]models.Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = models.Chunk{
			ChunkID:    chunk.GenerateChunkID(docID, i),
			DocumentID: docID,
			Title:      v.title,
			Content:    part,
			Type:       v.docType,
			Language:   v.language,
			CreatedAt:  now,
		}
	}
	return chunks
}

func (p *Processor) attachRowIDs(category models.Category, docID string, chunks []models.Chunk, rowIDs []int64) {
	for i := range chunks {
		chunks[i].RowID = rowIDs[i]
	}
	logger.Info("Document chunked",
		zap.String("category", string(category)),
		zap.String("document_id", docID),
		zap.Int("chunks", len(chunks)),
	)
}

// syncDerived embeds and upserts every chunk, then updates the citation
// graph. Failures are recorded for repair and never undo the relational write.
func (p *Processor) syncDerived(ctx context.Context, category models.Category, docID string, v *validated, chunks []models.Chunk, rowIDs []int64) *Result {
	embeddings := make([][]float32, len(chunks))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range chunks {
		i := i
		g.Go(func() error {
			vec, err := p.embedder.EmbedPassage(ctx, chunks[i].Content)
			if err != nil {
				p.recordFailure(ctx, category, docID, strconv.FormatInt(rowIDs[i], 10), models.SyncUpsert, err)
				return nil
			}
			embeddings[i] = vec
			return nil
		})
	}
	_ = g.Wait()

	records := make([]zilliz.Record, 0, len(chunks))
	for i, vec := range embeddings {
		if vec == nil {
			continue
		}
		records = append(records, zilliz.Record{
			ID:        strconv.FormatInt(rowIDs[i], 10),
			Values:    vec,
			ContentID: docID,
		})
	}

	res := &Result{
		DocumentID: docID,
		Chunks:     len(chunks),
		Embedded:   len(records),
		Failed:     len(chunks) - len(records),
	}

	if len(records) > 0 {
		if err := p.vectors.Upsert(ctx, category, records); err != nil {
			for _, r := range records {
				p.recordFailure(ctx, category, docID, r.ID, models.SyncUpsert, err)
			}
			res.Failed = len(chunks)
			res.Embedded = 0
		}
	}
	res.VectorSynced = res.Failed == 0

	if p.graph != nil {
		doc := &models.Document{ID: docID, Category: category, Title: v.title, Content: v.content}
		if err := p.graph.BuildFromDocument(ctx, doc); err != nil {
			p.recordFailure(ctx, category, docID, "", models.SyncGraph, err)
		}
	}

	logger.Info("Document ingested",
		zap.String("category", string(category)),
		zap.String("document_id", docID),
		zap.Int("chunks", res.Chunks),
		zap.Int("embedded", res.Embedded),
		zap.Int("failed", res.Failed),
	)
	return res
}

// Delete removes the relational rows, vector records and graph node of a
// document. Only the relational delete can fail the call.
func (p *Processor) Delete(ctx context.Context, category models.Category, id string) error {
	unlock := p.docs.lock(docKey(category, id))
	defer unlock()

	deleted, err := p.store.DeleteDocumentChunks(ctx, category, id)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if len(deleted) == 0 {
		return fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, category, id)
	}

	if err := p.vectors.DeleteByContentID(ctx, category, id); err != nil {
		p.recordFailure(ctx, category, id, "", models.SyncDelete, err)
	}

	if p.graph != nil {
		if err := p.graph.RemoveDocument(ctx, category, id); err != nil {
			p.recordFailure(ctx, category, id, "", models.SyncGraph, err)
		}
	}

	metrics.DocumentsProcessed.WithLabelValues(string(category), "delete").Inc()
	logger.Info("Document deleted",
		zap.String("category", string(category)),
		zap.String("document_id", id),
		zap.Int("chunks", len(deleted)),
	)
	return nil
}

func (p *Processor) Get(ctx context.Context, category models.Category, id string) (*models.Document, error) {
	chunks, err := p.store.GetDocumentChunks(ctx, category, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	docs := sqlite.MergedDocuments(category, chunks)
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, category, id)
	}
	return &docs[0], nil
}

func (p *Processor) List(ctx context.Context, category models.Category) ([]models.Document, error) {
	chunks, err := p.store.ListChunks(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return sqlite.MergedDocuments(category, chunks), nil
}

func (p *Processor) recordFailure(ctx context.Context, category models.Category, docID, rowID string, op models.SyncOperation, cause error) {
	metrics.VectorSyncFailures.WithLabelValues(string(category), string(op)).Inc()
	logger.Error("Store synchronization failed",
		zap.String("category", string(category)),
		zap.String("document_id", docID),
		zap.String("chunk_row_id", rowID),
		zap.String("operation", string(op)),
		zap.Error(cause),
	)

	err := p.store.RecordSyncFailure(context.WithoutCancel(ctx), &models.SyncFailure{
		Category:   category,
		DocumentID: docID,
		ChunkRowID: rowID,
		Operation:  op,
		Error:      cause.Error(),
	})
	if err != nil {
		logger.Error("Failed to record sync failure", zap.Error(err))
	}
}
