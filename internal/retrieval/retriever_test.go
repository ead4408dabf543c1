package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legal-rag/backend/internal/storage/models"
	"github.com/legal-rag/backend/internal/vector/zilliz"
)

type fakeVectors struct {
	matches map[models.Category][]zilliz.Match
	fail    map[models.Category]bool
	topK    int
}

func (f *fakeVectors) Search(_ context.Context, category models.Category, _ []float32, topK int) ([]zilliz.Match, error) {
	f.topK = topK
	if f.fail[category] {
		return nil, errors.New("index unavailable")
	}
	return f.matches[category], nil
}

type fakeStore struct {
	missing map[string]bool
	empty   map[string]bool
}

func (f *fakeStore) GetChunk(_ context.Context, category models.Category, rowID string) (*models.Chunk, error) {
	key := string(category) + "/" + rowID
	if f.missing[key] {
		return nil, fmt.Errorf("chunk %s: not found", key)
	}
	id, _ := strconv.ParseInt(rowID, 10, 64)
	ch := &models.Chunk{
		RowID:      id,
		ChunkID:    "d" + rowID + "_0",
		DocumentID: "d" + rowID,
		Title:      "Title " + rowID,
		Content:    "Content " + rowID,
	}
	if f.empty[key] {
		ch.Title, ch.Content = "", ""
	}
	return ch, nil
}

func TestFilterByScore(t *testing.T) {
	kept := FilterByScore([]zilliz.Match{{ID: "a", Score: 0.8}, {ID: "b", Score: 0.4}, {ID: "c", Score: 0.6}}, 0.5)
	require.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].ID)
	assert.Equal(t, "c", kept[1].ID)

	assert.Len(t, FilterByScore([]zilliz.Match{{ID: "x", Score: 0.5}}, 0.5), 1, "threshold is inclusive")
}

func TestRetrieve_ThresholdAndHydration(t *testing.T) {
	vectors := &fakeVectors{matches: map[models.Category][]zilliz.Match{
		models.CategoryLaw: {{ID: "1", Score: 0.8}, {ID: "2", Score: 0.4}, {ID: "3", Score: 0.6}},
	}}
	r := NewRetriever(vectors, &fakeStore{}, 10, 0.5)

	got, err := r.Retrieve(context.Background(), []float32{1}, []models.Category{models.CategoryLaw})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
	assert.Equal(t, models.CategoryLaw, got[0].Category)
	assert.Equal(t, "d1", got[0].DocumentID)
	assert.Equal(t, "Content 1", got[0].Content)
	assert.Equal(t, 10, vectors.topK)
}

func TestRetrieve_IsolatesFailures(t *testing.T) {
	vectors := &fakeVectors{
		matches: map[models.Category][]zilliz.Match{
			models.CategoryRule: {{ID: "1", Score: 0.9}, {ID: "2", Score: 0.9}, {ID: "4", Score: 0.9}},
			models.CategoryPost: {{ID: "5", Score: 0.9}},
		},
		fail: map[models.Category]bool{models.CategoryLaw: true},
	}
	store := &fakeStore{
		missing: map[string]bool{"rule/2": true},
		empty:   map[string]bool{"rule/4": true},
	}
	r := NewRetriever(vectors, store, 10, 0.5)

	got, err := r.Retrieve(context.Background(), []float32{1},
		[]models.Category{models.CategoryRule, models.CategoryLaw, models.CategoryPost})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.CategoryRule, got[0].Category)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, models.CategoryPost, got[1].Category)
}

func TestRetrieve_EmptySourcesAreNotErrors(t *testing.T) {
	r := NewRetriever(&fakeVectors{}, &fakeStore{}, 10, 0.5)

	got, err := r.Retrieve(context.Background(), []float32{1}, []models.Category{models.CategoryManual})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = r.Retrieve(context.Background(), []float32{1}, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieve_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRetriever(&fakeVectors{}, &fakeStore{}, 10, 0.5).Retrieve(ctx, []float32{1}, []models.Category{models.CategoryLaw})
	assert.ErrorIs(t, err, context.Canceled)
}
