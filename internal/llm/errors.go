package llm

import (
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// EmbeddingServiceError reports a failed call to the embedding service.
type EmbeddingServiceError struct {
	StatusCode int
	Err        error
}

func (e *EmbeddingServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("embedding service error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("embedding service error: %v", e.Err)
}

func (e *EmbeddingServiceError) Unwrap() error { return e.Err }

// CompletionError reports a failed call to the generative model.
type CompletionError struct {
	StatusCode int
	Err        error
}

func (e *CompletionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion service error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("completion service error: %v", e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// retryable keeps retrying network failures, throttling and server errors.
func retryable(err error) bool {
	code := statusCode(err)
	if code == 0 {
		return true
	}
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
