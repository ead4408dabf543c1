package zilliz

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/legal-rag/backend/internal/chunk"
	"github.com/legal-rag/backend/internal/storage/models"
	"github.com/legal-rag/backend/pkg/logger"
)

const (
	fieldID        = "id"
	fieldEmbedding = "embedding"
	fieldContentID = "content_id"
)

// Client keeps one collection per source category. Record ids are the
// relational row ids of the chunks, as strings.
type Client struct {
	client    client.Client
	prefix    string
	vectorDim int
}

type Record struct {
	ID        string
	Values    []float32
	ContentID string
}

type Match struct {
	ID    string
	Score float32
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionPrefix string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection_prefix", collectionPrefix),
	)

	return &Client{
		client:    c,
		prefix:    collectionPrefix,
		vectorDim: vectorDim,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) CollectionName(category models.Category) string {
	return z.prefix + string(category)
}

// EnsureCollections creates and loads the collection of every category.
func (z *Client) EnsureCollections(ctx context.Context) error {
	for _, category := range models.AllCategories {
		if err := z.ensureCollection(ctx, category); err != nil {
			return err
		}
	}
	return nil
}

func (z *Client) ensureCollection(ctx context.Context, category models.Category) error {
	name := z.CollectionName(category)

	has, err := z.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", name, err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", name))
		return z.client.LoadCollection(ctx, name, false)
	}

	schema := &entity.Schema{
		CollectionName: name,
		Description:    fmt.Sprintf("%s chunk embeddings", category.Label()),
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     fieldEmbedding,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(z.vectorDim),
				},
			},
			{
				Name:     fieldContentID,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": strconv.Itoa(chunk.MaxDocumentIDLength),
				},
			},
		},
	}

	err = z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, 16, 200)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	err = z.client.CreateIndex(ctx, name, fieldEmbedding, idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index on %s: %w", name, err)
	}

	err = z.client.LoadCollection(ctx, name, false)
	if err != nil {
		return fmt.Errorf("failed to load collection %s: %w", name, err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", name))
	return nil
}

func (z *Client) Upsert(ctx context.Context, category models.Category, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, len(records))
	embeddings := make([][]float32, len(records))
	contentIDs := make([]string, len(records))

	for i, r := range records {
		if len(r.Values) != z.vectorDim {
			return fmt.Errorf("record %s has dimension %d, want %d", r.ID, len(r.Values), z.vectorDim)
		}
		ids[i] = r.ID
		embeddings[i] = r.Values
		contentIDs[i] = r.ContentID
	}

	name := z.CollectionName(category)
	_, err := z.client.Upsert(
		ctx,
		name,
		"",
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, z.vectorDim, embeddings),
		entity.NewColumnVarChar(fieldContentID, contentIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", name, err)
	}

	logger.Debug("Vectors upserted",
		zap.String("collection", name),
		zap.Int("count", len(records)),
	)
	return nil
}

// Search returns the topK nearest records by cosine similarity, best first.
func (z *Client) Search(ctx context.Context, category models.Category, vector []float32, topK int) ([]Match, error) {
	sp, err := entity.NewIndexHNSWSearchParam(searchEf(topK))
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	name := z.CollectionName(category)
	searchResult, err := z.client.Search(
		ctx,
		name,
		[]string{},
		"",
		[]string{fieldContentID},
		[]entity.Vector{entity.FloatVector(vector)},
		fieldEmbedding,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", name, err)
	}

	matches := make([]Match, 0, topK)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			raw, err := sr.IDs.Get(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read result id: %w", err)
			}
			id, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected id type %T", raw)
			}
			matches = append(matches, Match{ID: id, Score: sr.Scores[i]})
		}
	}

	logger.Debug("Vector search completed",
		zap.String("collection", name),
		zap.Int("topK", topK),
		zap.Int("results", len(matches)),
	)
	return matches, nil
}

func (z *Client) DeleteByIDs(ctx context.Context, category models.Category, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return z.delete(ctx, category, idsExpr(ids))
}

// DeleteByContentID removes every record of one document.
func (z *Client) DeleteByContentID(ctx context.Context, category models.Category, contentID string) error {
	return z.delete(ctx, category, contentIDExpr(contentID))
}

func (z *Client) delete(ctx context.Context, category models.Category, expr string) error {
	name := z.CollectionName(category)
	if err := z.client.Delete(ctx, name, "", expr); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", name, err)
	}

	logger.Debug("Vectors deleted", zap.String("collection", name), zap.String("expr", expr))
	return nil
}

func searchEf(topK int) int {
	if topK < 64 {
		return 64
	}
	return topK
}

func quote(s string) string {
	return strconv.Quote(s)
}

func idsExpr(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = quote(id)
	}
	return fmt.Sprintf("%s in [%s]", fieldID, strings.Join(quoted, ", "))
}

func contentIDExpr(contentID string) string {
	return fmt.Sprintf("%s == %s", fieldContentID, quote(contentID))
}
