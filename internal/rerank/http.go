package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/legal-rag/backend/internal/storage/models"
	"github.com/legal-rag/backend/pkg/logger"
)

// HTTPReranker delegates to an external re-ranking service:
// {query, results: [...]} -> {ranked_results: [...]}.
type HTTPReranker struct {
	endpoint   string
	httpClient *http.Client
}

type wireResult struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id,omitempty"`
	Type       string `json:"type"`
	Title      string `json:"title,omitempty"`
	Content    string `json:"content"`
}

type rerankRequest struct {
	Query   string       `json:"query"`
	Results []wireResult `json:"results"`
}

type rerankResponse struct {
	RankedResults []wireResult `json:"ranked_results"`
}

func NewHTTPReranker(endpoint string, timeoutSec int) *HTTPReranker {
	if timeoutSec <= 0 {
		timeoutSec = 15
	}
	return &HTTPReranker{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
	}
}

var errNoRankedMatch = errors.New("rerank response matched no candidate")

func candidateKey(category, id string) string {
	return category + "/" + id
}

func contentKey(category, content string) string {
	return category + "#" + content
}

func (h *HTTPReranker) Rerank(ctx context.Context, query string, candidates []models.Candidate) ([]models.Candidate, error) {
	byKey := make(map[string]models.Candidate, len(candidates))
	byContent := make(map[string]models.Candidate, len(candidates))
	req := rerankRequest{Query: query, Results: make([]wireResult, len(candidates))}
	for i, c := range candidates {
		content := c.Content
		if content == "" {
			content = c.Title
		}
		req.Results[i] = wireResult{
			ID:         c.ID,
			DocumentID: c.DocumentID,
			Type:       string(c.Category),
			Title:      c.Title,
			Content:    content,
		}
		byKey[candidateKey(string(c.Category), c.ID)] = c
		if _, dup := byContent[contentKey(string(c.Category), content)]; !dup {
			byContent[contentKey(string(c.Category), content)] = c
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call rerank service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank service returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	if out.RankedResults == nil {
		return nil, errors.New("rerank response has no ranked_results")
	}

	ranked := make([]models.Candidate, 0, len(out.RankedResults))
	seen := make(map[string]bool, len(out.RankedResults))
	for _, r := range out.RankedResults {
		// Services that echo only {type, content} are matched by content.
		c, ok := byKey[candidateKey(r.Type, r.ID)]
		if !ok || r.ID == "" {
			c, ok = byContent[contentKey(r.Type, r.Content)]
		}
		key := candidateKey(string(c.Category), c.ID)
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		ranked = append(ranked, c)
	}
	if len(out.RankedResults) > 0 && len(ranked) == 0 {
		return nil, errNoRankedMatch
	}

	logger.Debug("Candidates re-ranked",
		zap.String("strategy", "http"),
		zap.Int("in", len(candidates)),
		zap.Int("out", len(ranked)),
	)
	return ranked, nil
}
