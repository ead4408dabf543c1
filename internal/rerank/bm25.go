package rerank

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"

	"github.com/legal-rag/backend/internal/storage/models"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// BM25 scores candidates against the query with Okapi BM25 computed over the
// candidate pool itself.
type BM25 struct{}

func NewBM25() *BM25 {
	return &BM25{}
}

func tokenize(text string) ([]string, error) {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, err
	}

	var terms []string
	for _, tok := range doc.Tokens() {
		term := strings.ToLower(strings.TrimFunc(tok.Text, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}))
		if term == "" {
			continue
		}
		terms = append(terms, term)
	}
	return terms, nil
}

func (b *BM25) Rerank(ctx context.Context, query string, candidates []models.Candidate) ([]models.Candidate, error) {
	queryTerms, err := tokenize(query)
	if err != nil {
		return nil, err
	}

	docs := make([]map[string]int, len(candidates))
	lengths := make([]int, len(candidates))
	df := make(map[string]int)
	total := 0

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		terms, err := tokenize(c.Title + " " + c.Content)
		if err != nil {
			return nil, err
		}
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		for t := range tf {
			df[t]++
		}
		docs[i] = tf
		lengths[i] = len(terms)
		total += len(terms)
	}

	n := float64(len(candidates))
	avgLen := 1.0
	if len(candidates) > 0 && total > 0 {
		avgLen = float64(total) / n
	}

	scores := make([]float64, len(candidates))
	for i, tf := range docs {
		for _, q := range queryTerms {
			f := float64(tf[q])
			if f == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(df[q])+0.5)/(float64(df[q])+0.5))
			norm := f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*float64(lengths[i])/avgLen))
			scores[i] += idf * norm
		}
	}

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	ranked := make([]models.Candidate, len(candidates))
	for i, idx := range order {
		ranked[i] = candidates[idx]
	}
	return ranked, nil
}
