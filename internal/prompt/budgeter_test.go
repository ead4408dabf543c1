package prompt

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legal-rag/backend/internal/storage/models"
)

func candidates(n, size int) []models.Candidate {
	out := make([]models.Candidate, n)
	for i := range out {
		out[i] = models.Candidate{
			Category: models.CategoryLaw,
			ID:       fmt.Sprint(i),
			Title:    fmt.Sprintf("Doc %d", i),
			Content:  strings.Repeat("x", size),
		}
	}
	return out
}

func TestHeuristicTokenizer(t *testing.T) {
	var h HeuristicTokenizer
	assert.Equal(t, 0, h.Count(""))
	assert.Equal(t, 1, h.Count("abc"))
	assert.Equal(t, 1, h.Count("abcd"))
	assert.Equal(t, 2, h.Count("abcde"))
	assert.Equal(t, 1, h.Count("əəə"), "counts characters, not bytes")
}

func TestBuild_UnderBudgetIsUntouched(t *testing.T) {
	b, err := NewBudgeter("", HeuristicTokenizer{}, 30000)
	require.NoError(t, err)

	cands := candidates(2, 100)
	res, err := b.Build(cands, "What tax applies?", models.LanguageEnglish)
	require.NoError(t, err)

	full, err := b.render(cands, models.LanguageEnglish)
	require.NoError(t, err)

	assert.Equal(t, full, res.Prompt)
	assert.Equal(t, 0, res.Evicted)
	assert.Len(t, res.Kept, 2)
	assert.False(t, res.OverBudget)
	assert.Contains(t, res.Prompt, cands[0].Combined())
	assert.Contains(t, res.Prompt, cands[0].Combined()+CandidateSeparator+cands[1].Combined())
	assert.Contains(t, res.Prompt, "Respond in the following language: English.")
	assert.Contains(t, res.Prompt, "'Please contact a professional'")
}

func TestBuild_AzerbaijaniDirective(t *testing.T) {
	b, err := NewBudgeter("", HeuristicTokenizer{}, 30000)
	require.NoError(t, err)

	res, err := b.Build(nil, "vergi", models.LanguageAzerbaijani)
	require.NoError(t, err)
	assert.Contains(t, res.Prompt, "Respond in the following language: Azerbaijani.")
	assert.Contains(t, res.Prompt, "Zəhmət olmasa, peşəkarla əlaqə saxlayın")
	assert.Contains(t, res.Prompt, NoDataPlaceholder)
}

func TestBuild_EvictsFromTail(t *testing.T) {
	b, err := NewBudgeter("{{.Language}}|{{.NoAnswer}}|{{.Data}}", HeuristicTokenizer{}, 100)
	require.NoError(t, err)

	cands := candidates(5, 120)
	res, err := b.Build(cands, "q", models.LanguageEnglish)
	require.NoError(t, err)

	assert.LessOrEqual(t, res.Tokens, 100)
	assert.Equal(t, 5-len(res.Kept), res.Evicted)
	assert.Greater(t, res.Evicted, 0)
	for i, c := range res.Kept {
		assert.Equal(t, cands[i].ID, c.ID, "head of the ranking survives")
	}
}

func TestBuild_ConvergesForAnyFeasibleLimit(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	tmpl := "{{.Language}} {{.NoAnswer}}\n{{.Data}}"

	for i := 0; i < 200; i++ {
		n := rng.Intn(15)
		cands := make([]models.Candidate, n)
		for j := range cands {
			cands[j] = models.Candidate{Category: models.CategoryPost, Title: "t", Content: strings.Repeat("y", rng.Intn(500))}
		}
		query := strings.Repeat("q", rng.Intn(50))

		sizer, err := NewBudgeter(tmpl, HeuristicTokenizer{}, 1)
		require.NoError(t, err)
		empty, err := sizer.render(nil, models.LanguageEnglish)
		require.NoError(t, err)
		floor := sizer.cost(empty, query)

		limit := floor + rng.Intn(400)
		b, err := NewBudgeter(tmpl, HeuristicTokenizer{}, limit)
		require.NoError(t, err)

		res, err := b.Build(cands, query, models.LanguageEnglish)
		require.NoError(t, err)
		assert.LessOrEqual(t, res.Tokens, limit)
		assert.False(t, res.OverBudget)
	}
}

func TestBuild_InfeasibleLimitReturnsEmptyPrompt(t *testing.T) {
	b, err := NewBudgeter("", HeuristicTokenizer{}, 10)
	require.NoError(t, err)

	res, err := b.Build(candidates(3, 50), "q", models.LanguageEnglish)
	require.NoError(t, err)
	assert.Empty(t, res.Kept)
	assert.Equal(t, 3, res.Evicted)
	assert.True(t, res.OverBudget)
	assert.Contains(t, res.Prompt, "Please contact a professional")
}

func TestNewBudgeter_Validation(t *testing.T) {
	_, err := NewBudgeter("", HeuristicTokenizer{}, 0)
	assert.Error(t, err)

	_, err = NewBudgeter("{{.Language", HeuristicTokenizer{}, 10)
	assert.Error(t, err)
}
