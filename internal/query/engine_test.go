package query

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legal-rag/backend/internal/language"
	"github.com/legal-rag/backend/internal/llm"
	"github.com/legal-rag/backend/internal/prompt"
	"github.com/legal-rag/backend/internal/rerank"
	"github.com/legal-rag/backend/internal/retrieval"
	"github.com/legal-rag/backend/internal/storage/models"
	"github.com/legal-rag/backend/internal/vector/zilliz"
)

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeCompleter struct {
	mu     sync.Mutex
	system string
	user   string
	reply  string
	err    error
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.system, f.user = system, user
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.reply}, nil
}

type fakeVectors struct {
	mu       sync.Mutex
	searched []models.Category
	matches  map[models.Category][]zilliz.Match
}

func (f *fakeVectors) Search(_ context.Context, category models.Category, _ []float32, _ int) ([]zilliz.Match, error) {
	f.mu.Lock()
	f.searched = append(f.searched, category)
	f.mu.Unlock()
	return f.matches[category], nil
}

type fakeChunks map[string]models.Chunk

func (f fakeChunks) GetChunk(_ context.Context, category models.Category, rowID string) (*models.Chunk, error) {
	ch, ok := f[string(category)+"/"+rowID]
	if !ok {
		return nil, errors.New("not found")
	}
	return &ch, nil
}

type reverser struct{ calls int }

func (r *reverser) Rerank(_ context.Context, _ string, cands []models.Candidate) ([]models.Candidate, error) {
	r.calls++
	out := make([]models.Candidate, len(cands))
	for i, c := range cands {
		out[len(cands)-1-i] = c
	}
	return out, nil
}

type fakeStore struct {
	mu       sync.Mutex
	settings models.Settings
	err      error
	records  []*models.QueryRecord
}

func (f *fakeStore) GetSettings(context.Context) (models.Settings, error) {
	return f.settings, f.err
}

func (f *fakeStore) InsertQueryRecord(_ context.Context, r *models.QueryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
	return nil
}

type fixture struct {
	engine    *Engine
	embedder  *fakeEmbedder
	completer *fakeCompleter
	vectors   *fakeVectors
	reranker  *reverser
	store     *fakeStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	vectors := &fakeVectors{matches: map[models.Category][]zilliz.Match{
		models.CategoryLaw: {
			{ID: "11", Score: 0.82},
			{ID: "12", Score: 0.67},
			{ID: "13", Score: 0.31},
		},
		models.CategoryManual: {{ID: "21", Score: 0.9}},
	}}
	chunks := fakeChunks{
		"law/11": {RowID: 11, ChunkID: "4_0", DocumentID: "4", Title: "Law on Profit Tax", Content: "Branch profits repatriated abroad are taxed at 10 percent."},
		"law/12": {RowID: 12, ChunkID: "5_0", DocumentID: "5", Title: "Tax Code Article 125", Content: "Net profit of a permanent establishment is subject to withholding."},
		"law/13": {RowID: 13, ChunkID: "6_0", DocumentID: "6", Title: "Unrelated", Content: "Below threshold."},
		"manual/21": {RowID: 21, ChunkID: "1_0", DocumentID: "1", Title: "Manual", Content: "Manual note."},
	}

	budgeter, err := prompt.NewBudgeter("", prompt.HeuristicTokenizer{}, 30000)
	require.NoError(t, err)

	f := &fixture{
		embedder: &fakeEmbedder{},
		completer: &fakeCompleter{
			reply: "[Detailed Response]\n- Branch profit repatriation is taxed at 10%.\n[Summarized Response]\n10% tax applies.",
		},
		vectors:  vectors,
		reranker: &reverser{},
		store:    &fakeStore{settings: models.DefaultSettings()},
	}
	f.engine = NewEngine(
		f.embedder,
		f.completer,
		retrieval.NewRetriever(vectors, chunks, 10, 0.5),
		rerank.NewFallback("test", f.reranker, 20),
		budgeter,
		language.NewDetector(),
		f.store,
	)
	return f
}

func TestProcessQuery_EndToEnd(t *testing.T) {
	f := newFixture(t)

	resp, err := f.engine.ProcessQuery(context.Background(), QueryRequest{
		Query:    "What tax applies to branch profit repatriation?",
		Settings: &models.Settings{IncludeScraping: true, IncludeManual: false},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []models.Category{models.CategoryRule, models.CategoryLaw, models.CategoryPost}, f.vectors.searched)
	assert.Equal(t, 1, f.reranker.calls)

	law11 := models.Candidate{Category: models.CategoryLaw, Title: "Law on Profit Tax", Content: "Branch profits repatriated abroad are taxed at 10 percent."}
	law12 := models.Candidate{Category: models.CategoryLaw, Title: "Tax Code Article 125", Content: "Net profit of a permanent establishment is subject to withholding."}
	assert.Contains(t, f.completer.system, law11.Combined())
	assert.Contains(t, f.completer.system, law12.Combined())
	assert.Contains(t, f.completer.system, law12.Combined()+prompt.CandidateSeparator+law11.Combined(), "re-ranked order is kept")
	assert.NotContains(t, f.completer.system, "Below threshold.")
	assert.NotContains(t, f.completer.system, "Manual note.")
	assert.Contains(t, f.completer.system, "Respond in the following language: English.")
	assert.Equal(t, "What tax applies to branch profit repatriation?", f.completer.user)

	assert.Equal(t, models.LanguageEnglish, resp.Language)
	assert.NotEmpty(t, resp.Detailed)
	assert.NotEmpty(t, resp.Summarized)
	assert.False(t, resp.Degraded)
	assert.Equal(t, 2, resp.Candidates)
	assert.Equal(t, 0, resp.Evicted)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "5", resp.Sources[0].DocumentID)

	require.Len(t, f.store.records, 1)
	assert.Equal(t, resp.ID, f.store.records[0].ID)
	assert.Len(t, f.store.records[0].Sources, 2)
}

func TestProcessQuery_UsesStoredSettings(t *testing.T) {
	f := newFixture(t)
	f.store.settings = models.Settings{IncludeManual: true}

	_, err := f.engine.ProcessQuery(context.Background(), QueryRequest{Query: "manual question"})
	require.NoError(t, err)
	assert.Equal(t, []models.Category{models.CategoryManual}, f.vectors.searched)
}

func TestProcessQuery_UnreadableSettingsEnableAllSources(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("db locked")

	_, err := f.engine.ProcessQuery(context.Background(), QueryRequest{Query: "anything"})
	require.NoError(t, err)
	assert.Len(t, f.vectors.searched, 4)
}

func TestProcessQuery_EmptyQuery(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ProcessQuery(context.Background(), QueryRequest{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Empty(t, f.vectors.searched)
}

func TestProcessQuery_EmbeddingFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.embedder.err = &llm.EmbeddingServiceError{StatusCode: 503, Err: errors.New("down")}

	_, err := f.engine.ProcessQuery(context.Background(), QueryRequest{Query: "q"})
	var svcErr *llm.EmbeddingServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Empty(t, f.vectors.searched)
	assert.Empty(t, f.completer.system)
}

func TestProcessQuery_CompletionFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.completer.err = &llm.CompletionError{Err: errors.New("timeout")}

	_, err := f.engine.ProcessQuery(context.Background(), QueryRequest{Query: "q"})
	var compErr *llm.CompletionError
	assert.True(t, errors.As(err, &compErr))
	assert.Empty(t, f.store.records)
}

func TestProcessQuery_MissingMarkersDegrade(t *testing.T) {
	f := newFixture(t)
	f.completer.reply = "A plain answer without headers."

	resp, err := f.engine.ProcessQuery(context.Background(), QueryRequest{Query: "q"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, "A plain answer without headers.", resp.Detailed)
	assert.Empty(t, resp.Summarized)
	assert.Equal(t, "A plain answer without headers.", resp.Response)
}

func TestProcessQuery_ReportsStages(t *testing.T) {
	f := newFixture(t)

	var stages []Stage
	_, err := f.engine.ProcessQueryWithProgress(context.Background(), QueryRequest{Query: "q"}, func(s Stage) {
		stages = append(stages, s)
	})
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageEmbedding, StageRetrieving, StageReranking, StageBudgeting, StageGenerating}, stages)
}
