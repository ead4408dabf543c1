// Package builder maintains the legal citation graph from ingested documents.
package builder

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/legal-rag/backend/internal/kg/neo4j"
	"github.com/legal-rag/backend/internal/storage/models"
	"github.com/legal-rag/backend/pkg/logger"
)

type Graph interface {
	UpsertDocumentCitations(ctx context.Context, doc neo4j.DocumentNode, articles []string) error
	DeleteDocument(ctx context.Context, category, id string) error
	RelatedDocuments(ctx context.Context, category, id string, limit int) ([]neo4j.RelatedDocument, error)
}

var citationPatterns = []*regexp.Regexp{
	// Article 125, Art. 125.1, article 13.2.4
	regexp.MustCompile(`(?i)\b(?:article|art\.)\s*(\d+(?:\.\d+)*)`),
	// Maddə 125, madde 125.1
	regexp.MustCompile(`(?i)\bmadd[əe]\s*(\d+(?:\.\d+)*)`),
	// 125-ci maddə, 102.1.3-cü maddəsi
	regexp.MustCompile(`(?i)(\d+(?:\.\d+)*)\s*-\s*(?:ci|cı|cu|cü)\s+madd[əe]`),
}

const maxArticleNumber = 100000

// ExtractCitations returns the distinct article numbers referenced in text,
// in numeric order.
func ExtractCitations(text string) []string {
	seen := make(map[string]struct{})
	for _, re := range citationPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			number := strings.TrimRight(m[1], ".")
			if !plausibleArticle(number) {
				continue
			}
			seen[number] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return articleLess(out[i], out[j]) })
	return out
}

func plausibleArticle(number string) bool {
	head := strings.SplitN(number, ".", 2)[0]
	n, err := strconv.Atoi(head)
	return err == nil && n > 0 && n < maxArticleNumber
}

func articleLess(a, b string) bool {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		na, _ := strconv.Atoi(pa[i])
		nb, _ := strconv.Atoi(pb[i])
		if na != nb {
			return na < nb
		}
	}
	return len(pa) < len(pb)
}

type Builder struct {
	graph Graph
}

func NewBuilder(graph Graph) *Builder {
	return &Builder{graph: graph}
}

// BuildFromDocument links doc to every article its title or content cites.
func (b *Builder) BuildFromDocument(ctx context.Context, doc *models.Document) error {
	articles := ExtractCitations(doc.Title + "\n" + doc.Content)

	err := b.graph.UpsertDocumentCitations(ctx, neo4j.DocumentNode{
		ID:       doc.ID,
		Category: string(doc.Category),
		Title:    doc.Title,
	}, articles)
	if err != nil {
		return fmt.Errorf("failed to update citation graph: %w", err)
	}

	logger.Info("Citation graph updated",
		zap.String("category", string(doc.Category)),
		zap.String("document_id", doc.ID),
		zap.Int("articles", len(articles)),
	)
	return nil
}

func (b *Builder) RemoveDocument(ctx context.Context, category models.Category, id string) error {
	if err := b.graph.DeleteDocument(ctx, string(category), id); err != nil {
		return fmt.Errorf("failed to remove document from citation graph: %w", err)
	}
	return nil
}

func (b *Builder) Related(ctx context.Context, category models.Category, id string, limit int) ([]neo4j.RelatedDocument, error) {
	if limit <= 0 {
		limit = 10
	}
	related, err := b.graph.RelatedDocuments(ctx, string(category), id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find related documents: %w", err)
	}
	return related, nil
}
