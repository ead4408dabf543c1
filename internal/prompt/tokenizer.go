package prompt

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/legal-rag/backend/pkg/logger"
)

// Tokenizer counts tokens the way the target model does. Counts must not
// decrease when text is appended.
type Tokenizer interface {
	Count(text string) int
}

type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func NewTiktokenTokenizer(model string) (*TiktokenTokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer for %s: %w", model, err)
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

func (t *TiktokenTokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// HeuristicTokenizer estimates one token per four characters, rounded up.
type HeuristicTokenizer struct{}

func (HeuristicTokenizer) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// NewTokenizer returns the model tokenizer, or the heuristic when the
// encoding cannot be loaded.
func NewTokenizer(model string) Tokenizer {
	t, err := NewTiktokenTokenizer(model)
	if err != nil {
		logger.Warn("Falling back to heuristic token counting",
			zap.String("model", model),
			zap.Error(err),
		)
		return HeuristicTokenizer{}
	}
	return t
}
