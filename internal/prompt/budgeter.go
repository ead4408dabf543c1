// Package prompt assembles the system prompt and trims retrieved context to
// fit the model token budget.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/legal-rag/backend/internal/language"
	"github.com/legal-rag/backend/internal/storage/models"
	"github.com/legal-rag/backend/pkg/logger"
)

type templateData struct {
	Language string
	Data     string
	NoAnswer string
}

type Budgeter struct {
	tmpl      *template.Template
	tokenizer Tokenizer
	limit     int
}

// Result is the prompt that was built and what it cost.
type Result struct {
	Prompt  string
	Tokens  int
	Kept    []models.Candidate
	Evicted int
	// OverBudget is set when even the prompt with no candidates exceeds the
	// limit. The prompt is still returned.
	OverBudget bool
}

func NewBudgeter(templateText string, tokenizer Tokenizer, tpmLimit int) (*Budgeter, error) {
	if templateText == "" {
		templateText = DefaultTemplate
	}
	if tpmLimit <= 0 {
		return nil, fmt.Errorf("token limit must be positive, got %d", tpmLimit)
	}

	tmpl, err := template.New("system").Option("missingkey=error").Parse(templateText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}

	return &Budgeter{tmpl: tmpl, tokenizer: tokenizer, limit: tpmLimit}, nil
}

func (b *Budgeter) render(candidates []models.Candidate, lang models.Language) (string, error) {
	data := NoDataPlaceholder
	if len(candidates) > 0 {
		parts := make([]string, len(candidates))
		for i, c := range candidates {
			parts[i] = c.Combined()
		}
		data = strings.Join(parts, CandidateSeparator)
	}

	var buf bytes.Buffer
	err := b.tmpl.Execute(&buf, templateData{
		Language: language.Name(lang),
		Data:     data,
		NoAnswer: language.NoAnswerPhrase(lang),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}

func (b *Budgeter) cost(prompt, query string) int {
	return b.tokenizer.Count(prompt + "\n" + query)
}

// Build renders every candidate into the prompt and, while the prompt plus
// query exceeds the limit, drops candidates from the tail. Candidates must be
// ordered most relevant first.
func (b *Budgeter) Build(candidates []models.Candidate, query string, lang models.Language) (Result, error) {
	working := candidates

	for {
		prompt, err := b.render(working, lang)
		if err != nil {
			return Result{}, err
		}

		tokens := b.cost(prompt, query)
		if tokens <= b.limit || len(working) == 0 {
			res := Result{
				Prompt:     prompt,
				Tokens:     tokens,
				Kept:       working,
				Evicted:    len(candidates) - len(working),
				OverBudget: tokens > b.limit,
			}
			if res.Evicted > 0 || res.OverBudget {
				logger.Info("Prompt trimmed to token budget",
					zap.Int("tokens", tokens),
					zap.Int("limit", b.limit),
					zap.Int("kept", len(working)),
					zap.Int("evicted", res.Evicted),
					zap.Bool("over_budget", res.OverBudget),
				)
			}
			return res, nil
		}

		working = working[:len(working)-1]
	}
}
