package models

import (
	"fmt"
	"time"
)

type Category string

const (
	CategoryLaw    Category = "law"
	CategoryRule   Category = "rule"
	CategoryPost   Category = "post"
	CategoryManual Category = "manual"
)

// AllCategories is the fixed set of source partitions, in prompt order.
var AllCategories = []Category{CategoryRule, CategoryLaw, CategoryPost, CategoryManual}

func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryLaw, CategoryRule, CategoryPost, CategoryManual:
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Label is the heading used when a candidate from this category is inlined
// into the prompt.
func (c Category) Label() string {
	switch c {
	case CategoryRule:
		return "Azerbaijan Tax Code"
	case CategoryLaw:
		return "Azerbaijan Law"
	case CategoryPost:
		return "Social Posts"
	case CategoryManual:
		return "Manual Entries"
	}
	return string(c)
}

type DocumentType string

const (
	DocTypeLaw           DocumentType = "law"
	DocTypeCourtDecision DocumentType = "court-decision"
	DocTypeTaxCode       DocumentType = "tax-code"
	DocTypeOther         DocumentType = "other"
)

func ParseDocumentType(s string) (DocumentType, error) {
	switch t := DocumentType(s); t {
	case DocTypeLaw, DocTypeCourtDecision, DocTypeTaxCode, DocTypeOther:
		return t, nil
	}
	return "", fmt.Errorf("unknown document type %q", s)
}

type Language string

const (
	LanguageEnglish     Language = "en"
	LanguageAzerbaijani Language = "az"
)

func ParseLanguage(s string) (Language, error) {
	switch l := Language(s); l {
	case LanguageEnglish, LanguageAzerbaijani:
		return l, nil
	}
	return "", fmt.Errorf("unknown language %q", s)
}

type Document struct {
	ID         string       `json:"id"`
	Category   Category     `json:"category"`
	Title      string       `json:"title"`
	Content    string       `json:"content"`
	Type       DocumentType `json:"type"`
	Language   Language     `json:"language"`
	CreatedAt  time.Time    `json:"created_at"`
	ChunkCount int          `json:"chunk_count"`
	IsMerged   bool         `json:"is_merged"`
}

// Chunk is one stored row of a category table. RowID keys the vector record.
type Chunk struct {
	RowID      int64
	ChunkID    string
	DocumentID string
	Title      string
	Content    string
	Type       DocumentType
	Language   Language
	CreatedAt  time.Time
}

// Candidate is a retrieved chunk proposed as prompt context.
type Candidate struct {
	Category   Category `json:"category"`
	ID         string   `json:"id"`
	DocumentID string   `json:"document_id"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Score      float32  `json:"score"`
}

func (c Candidate) Combined() string {
	return fmt.Sprintf("[%s] %s\n%s", c.Category.Label(), c.Title, c.Content)
}

type Settings struct {
	IncludeScraping bool `json:"includeScraping"`
	IncludeManual   bool `json:"includeManual"`
}

func DefaultSettings() Settings {
	return Settings{IncludeScraping: true, IncludeManual: true}
}

// EnabledCategories maps the toggles onto source categories.
func (s Settings) EnabledCategories() []Category {
	var out []Category
	for _, c := range AllCategories {
		if c == CategoryManual {
			if s.IncludeManual {
				out = append(out, c)
			}
			continue
		}
		if s.IncludeScraping {
			out = append(out, c)
		}
	}
	return out
}

type QueryRecord struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id,omitempty"`
	QueryText  string        `json:"query"`
	Response   string        `json:"response"`
	Language   Language      `json:"language"`
	Degraded   bool          `json:"degraded"`
	Candidates int           `json:"candidates"`
	Evicted    int           `json:"evicted"`
	LatencyMS  int64         `json:"latency_ms"`
	CreatedAt  time.Time     `json:"created_at"`
	Sources    []QuerySource `json:"sources,omitempty"`
}

type QuerySource struct {
	Category   Category `json:"category"`
	ChunkRowID string   `json:"chunk_row_id"`
	DocumentID string   `json:"document_id"`
	Title      string   `json:"title"`
	Rank       int      `json:"rank"`
}

type SyncOperation string

const (
	SyncUpsert SyncOperation = "upsert"
	SyncDelete SyncOperation = "delete"
	SyncGraph  SyncOperation = "graph"
)

// SyncFailure records a relational/vector divergence left for manual repair.
type SyncFailure struct {
	ID         int64         `json:"id"`
	Category   Category      `json:"category"`
	DocumentID string        `json:"document_id"`
	ChunkRowID string        `json:"chunk_row_id,omitempty"`
	Operation  SyncOperation `json:"operation"`
	Error      string        `json:"error"`
	CreatedAt  time.Time     `json:"created_at"`
}
