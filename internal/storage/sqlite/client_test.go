package sqlite

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legal-rag/backend/internal/chunk"
	"github.com/legal-rag/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func family(docID string, parts ...string) []models.Chunk {
	out := make([]models.Chunk, len(parts))
	for i, p := range parts {
		out[i] = models.Chunk{
			ChunkID:    chunk.GenerateChunkID(docID, i),
			DocumentID: docID,
			Title:      "Title " + docID,
			Content:    p,
			Type:       models.DocTypeLaw,
			Language:   models.LanguageEnglish,
			CreatedAt:  time.Unix(1700000000, 0),
		}
	}
	return out
}

func TestInsertChunks_ReturnsRowIDsInOrder(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	ids, err := c.InsertChunks(ctx, models.CategoryLaw, family("1", "A", "B", "C"))
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	got, err := c.GetChunk(ctx, models.CategoryLaw, strconv.FormatInt(ids[1], 10))
	require.NoError(t, err)
	assert.Equal(t, "1_1", got.ChunkID)
	assert.Equal(t, "B", got.Content)
}

func TestGetChunk_NotFound(t *testing.T) {
	c := newTestClient(t)
	_, err := c.GetChunk(context.Background(), models.CategoryPost, "999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDocumentChunks_OnlyRemovesFamily(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.InsertChunks(ctx, models.CategoryRule, family("1", "A", "B"))
	require.NoError(t, err)
	_, err = c.InsertChunks(ctx, models.CategoryRule, family("11", "C"))
	require.NoError(t, err)

	deleted, err := c.DeleteDocumentChunks(ctx, models.CategoryRule, "1")
	require.NoError(t, err)
	assert.Len(t, deleted, 2)

	remaining, err := c.ListChunks(ctx, models.CategoryRule)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "11_0", remaining[0].ChunkID)
}

func TestFirstChunkIDs_FeedsNextDocumentID(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.InsertChunks(ctx, models.CategoryManual, family("3", "A", "B"))
	require.NoError(t, err)
	_, err = c.InsertChunks(ctx, models.CategoryManual, family("7", "C"))
	require.NoError(t, err)

	ids, err := c.FirstChunkIDs(ctx, models.CategoryManual)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"3_0", "7_0"}, ids)
	assert.Equal(t, "8", chunk.NextDocumentID(ids))
}

func TestMergedDocuments(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.InsertChunks(ctx, models.CategoryLaw, family("5", "A", "B"))
	require.NoError(t, err)

	chunks, err := c.GetDocumentChunks(ctx, models.CategoryLaw, "5")
	require.NoError(t, err)

	docs := MergedDocuments(models.CategoryLaw, chunks)
	require.Len(t, docs, 1)
	assert.Equal(t, "AB", docs[0].Content)
	assert.Equal(t, 2, docs[0].ChunkCount)
	assert.True(t, docs[0].IsMerged)
	assert.Equal(t, models.CategoryLaw, docs[0].Category)
}

func TestSettings(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	s, err := c.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), s)

	require.NoError(t, c.SetSetting(ctx, "include_manual", "false"))
	require.NoError(t, c.SetSetting(ctx, "include_scraping", "no"))

	s, err = c.GetSettings(ctx)
	require.NoError(t, err)
	assert.True(t, s.IncludeScraping, "only the literal false disables a source")
	assert.False(t, s.IncludeManual)
}

func TestQueryHistory(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for i, q := range []string{"first", "second"} {
		err := c.InsertQueryRecord(ctx, &models.QueryRecord{
			ID:        "q-" + q,
			QueryText: q,
			Language:  models.LanguageEnglish,
			CreatedAt: time.Unix(int64(1700000000+i), 0),
			Sources:   []models.QuerySource{{Category: models.CategoryLaw, ChunkRowID: "1", DocumentID: "1", Rank: 0}},
		})
		require.NoError(t, err)
	}

	records, err := c.GetQueryHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "second", records[0].QueryText)
}

func TestSyncFailures(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	f := &models.SyncFailure{Category: models.CategoryPost, DocumentID: "4", Operation: models.SyncDelete, Error: "timeout"}
	require.NoError(t, c.RecordSyncFailure(ctx, f))
	assert.NotZero(t, f.ID)

	failures, err := c.ListSyncFailures(ctx, 5)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, models.SyncDelete, failures[0].Operation)
	assert.Equal(t, "4", failures[0].DocumentID)
}

func TestUnknownCategoryRejected(t *testing.T) {
	c := newTestClient(t)
	_, err := c.ListChunks(context.Background(), models.Category("users; DROP TABLE law"))
	assert.Error(t, err)
}

func TestReplaceChunks_SwapsFamily(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	old, err := c.InsertChunks(ctx, models.CategoryLaw, family("4", "A", "B"))
	require.NoError(t, err)

	deleted, inserted, err := c.ReplaceChunks(ctx, models.CategoryLaw, "4", family("4", "X", "Y", "Z"))
	require.NoError(t, err)
	assert.Equal(t, old, deleted)
	assert.Len(t, inserted, 3)

	got, err := c.GetDocumentChunks(ctx, models.CategoryLaw, "4")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "X", got[0].Content)
}

func TestReplaceChunks_MissingFamilyWritesNothing(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	deleted, inserted, err := c.ReplaceChunks(ctx, models.CategoryLaw, "8", family("8", "A"))
	require.NoError(t, err)
	assert.Empty(t, deleted)
	assert.Empty(t, inserted)

	got, err := c.GetDocumentChunks(ctx, models.CategoryLaw, "8")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReplaceChunks_FailedInsertKeepsOldFamily(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.InsertChunks(ctx, models.CategoryLaw, family("2", "A", "B"))
	require.NoError(t, err)

	// Repeated chunk_id violates the unique constraint mid-insert.
	replacement := family("2", "X", "Y")
	replacement[1].ChunkID = replacement[0].ChunkID

	_, _, err = c.ReplaceChunks(ctx, models.CategoryLaw, "2", replacement)
	require.Error(t, err)

	got, err := c.GetDocumentChunks(ctx, models.CategoryLaw, "2")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Content)
	assert.Equal(t, "B", got[1].Content)
}
