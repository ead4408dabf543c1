package chunk

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortContentIsSingleChunk(t *testing.T) {
	for _, s := range []string{"", "a", strings.Repeat("x", DefaultMaxChunkSize)} {
		assert.Equal(t, []string{s}, Split(s, DefaultMaxChunkSize, DefaultOverlapSize))
	}
}

func TestSplit_BreakPointPreference(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"sentence end wins over comma", "aaaaaaaaaa" + "bb, cc. dd", "aaaaaaaaaabb, cc."},
		{"clause separator", "aaaaaaaaaa" + "bb cc; dd ee", "aaaaaaaaaabb cc;"},
		{"whitespace breaks before", "aaaaaaaaaa" + "bbb ccc", "aaaaaaaaaabbb"},
		{"no break point", "aaaaaaaaaa" + "bbbbbbbbbb", "aaaaaaaaaa"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Split(tt.content, 10, 0)
			require.NotEmpty(t, chunks)
			assert.Equal(t, tt.want, chunks[0])
		})
	}
}

func TestSplit_Overlap(t *testing.T) {
	content := strings.Repeat("abcdefghij", 5)
	chunks := Split(content, 20, 5)

	require.Len(t, chunks, 3)
	assert.Equal(t, content[0:20], chunks[0])
	assert.Equal(t, content[15:35], chunks[1])
	assert.Equal(t, content[30:50], chunks[2])
}

func TestSplit_MultibyteContent(t *testing.T) {
	content := strings.Repeat("Vergi Məcəlləsi ", 200)
	for _, c := range Split(content, 150, 20) {
		assert.True(t, len([]rune(c)) > 0)
		assert.NotContains(t, c, "�")
	}
}

func TestSpans_TerminationAndCoverage(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abc .,;!?\nəüö")

	for i := 0; i < 300; i++ {
		n := rng.Intn(3000)
		runes := make([]rune, n)
		for j := range runes {
			runes[j] = alphabet[rng.Intn(len(alphabet))]
		}
		maxSize := 1 + rng.Intn(400)
		overlap := rng.Intn(maxSize)

		spans := Spans(runes, maxSize, overlap)
		require.NotEmpty(t, spans)
		assert.Equal(t, 0, spans[0].Start)
		assert.Equal(t, n, spans[len(spans)-1].End)

		for k, s := range spans {
			if n > 0 {
				assert.Greater(t, s.End, s.Start)
			}
			assert.LessOrEqual(t, s.End-s.Start, maxSize+breakLookahead)
			if k > 0 {
				prev := spans[k-1]
				assert.Greater(t, s.Start, prev.Start, "window must advance")
				assert.LessOrEqual(t, s.Start, prev.End, "windows must not leave gaps")
			}
		}
	}
}

func TestChunkID_RoundTrip(t *testing.T) {
	for _, docID := range []string{"1", "42", "law-2024", "abc"} {
		for _, seq := range []int{0, 1, 17} {
			id := GenerateChunkID(docID, seq)
			assert.Equal(t, docID, ParseDocumentID(id))
			got, ok := ParseSequence(id)
			assert.True(t, ok)
			assert.Equal(t, seq, got)
		}
	}
}

func TestValidateDocumentID(t *testing.T) {
	assert.NoError(t, ValidateDocumentID("12"))
	assert.ErrorIs(t, ValidateDocumentID("12_a"), ErrInvalidDocumentID)
	assert.ErrorIs(t, ValidateDocumentID("  "), ErrInvalidDocumentID)
	assert.NoError(t, ValidateDocumentID(strings.Repeat("9", MaxDocumentIDLength)))
	assert.ErrorIs(t, ValidateDocumentID(strings.Repeat("9", MaxDocumentIDLength+1)), ErrInvalidDocumentID)
}

func TestNextDocumentID(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		want string
	}{
		{"empty", nil, "1"},
		{"max plus one", []string{"3_0", "3_1", "7_0"}, "8"},
		{"only first chunks count", []string{"3_0", "9_1"}, "4"},
		{"non numeric skipped", []string{"abc_0", "2_0", "x"}, "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextDocumentID(tt.ids))
		})
	}
}

func TestMergeChunks(t *testing.T) {
	merged := MergeChunks([]Piece{
		{ChunkID: "5_1", Content: "B", Title: "Tax"},
		{ChunkID: "5_0", Content: "A", Title: "Tax"},
		{ChunkID: "6_0", Content: "C", Title: "Other"},
	})

	require.Len(t, merged, 2)
	assert.Equal(t, "5", merged[0].DocumentID)
	assert.Equal(t, "AB", merged[0].Content)
	assert.Equal(t, 2, merged[0].ChunkCount)
	assert.True(t, merged[0].IsMerged)

	assert.Equal(t, "6", merged[1].DocumentID)
	assert.Equal(t, 1, merged[1].ChunkCount)
	assert.False(t, merged[1].IsMerged)
}

func TestMergeChunks_NumericSequenceOrder(t *testing.T) {
	var pieces []Piece
	for _, seq := range []int{10, 2, 0, 1} {
		pieces = append(pieces, Piece{ChunkID: GenerateChunkID("9", seq), Content: string(rune('a' + seq))})
	}
	merged := MergeChunks(pieces)
	require.Len(t, merged, 1)
	assert.Equal(t, "abck", merged[0].Content)
}
