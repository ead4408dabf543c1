package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legal-rag/backend/internal/kg/neo4j"
	"github.com/legal-rag/backend/internal/storage/models"
)

type fakeGraph struct {
	node     neo4j.DocumentNode
	articles []string
	deleted  string
	err      error
}

func (f *fakeGraph) UpsertDocumentCitations(_ context.Context, doc neo4j.DocumentNode, articles []string) error {
	f.node, f.articles = doc, articles
	return f.err
}

func (f *fakeGraph) DeleteDocument(_ context.Context, category, id string) error {
	f.deleted = category + "/" + id
	return f.err
}

func (f *fakeGraph) RelatedDocuments(_ context.Context, _, _ string, limit int) ([]neo4j.RelatedDocument, error) {
	return []neo4j.RelatedDocument{{ID: "9", SharedArticles: []string{"125"}}}, f.err
}

func TestExtractCitations(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"english", "See Article 125 and art. 13.2.4 of the Code.", []string{"13.2.4", "125"}},
		{"azerbaijani prefix", "Maddə 102.1 tətbiq edilir", []string{"102.1"}},
		{"azerbaijani suffix", "Vergi Məcəlləsinin 125-ci maddəsi və 106.1.3-cü maddə", []string{"106.1.3", "125"}},
		{"deduplicated", "Article 5, Article 5, maddə 5", []string{"5"}},
		{"none", "No references here. Year 2024.", []string{}},
		{"zero rejected", "Article 0", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCitations(tt.text))
		})
	}
}

func TestBuildFromDocument(t *testing.T) {
	g := &fakeGraph{}
	b := NewBuilder(g)

	err := b.BuildFromDocument(context.Background(), &models.Document{
		ID:       "4",
		Category: models.CategoryRule,
		Title:    "Article 125",
		Content:  "Refers to Article 13.",
	})
	require.NoError(t, err)
	assert.Equal(t, neo4j.DocumentNode{ID: "4", Category: "rule", Title: "Article 125"}, g.node)
	assert.Equal(t, []string{"13", "125"}, g.articles)
}

func TestBuilder_PropagatesGraphErrors(t *testing.T) {
	g := &fakeGraph{err: errors.New("neo4j down")}
	b := NewBuilder(g)

	assert.Error(t, b.BuildFromDocument(context.Background(), &models.Document{ID: "1", Category: models.CategoryLaw}))
	assert.Error(t, b.RemoveDocument(context.Background(), models.CategoryLaw, "1"))
	assert.Equal(t, "law/1", g.deleted)

	_, err := b.Related(context.Background(), models.CategoryLaw, "1", 0)
	assert.Error(t, err)
}
