// Package chunk splits document text into overlapping chunks and manages the
// composite "{documentID}_{sequence}" chunk identifiers.
package chunk

const (
	DefaultMaxChunkSize = 1500
	DefaultOverlapSize  = 100

	breakLookahead = 100
)

// Span is a half-open rune range [Start, End) of the original content.
type Span struct {
	Start int
	End   int
}

// Split carves content into windows of at most maxChunkSize characters, moving
// each cut forward to a sentence, clause or word boundary found within the
// next 100 characters. Consecutive chunks overlap by overlapSize characters
// when that still advances the window.
func Split(content string, maxChunkSize, overlapSize int) []string {
	runes := []rune(content)
	spans := Spans(runes, maxChunkSize, overlapSize)

	chunks := make([]string, len(spans))
	for i, s := range spans {
		chunks[i] = string(runes[s.Start:s.End])
	}
	return chunks
}

// Spans returns the chunk windows Split would cut from runes.
func Spans(runes []rune, maxChunkSize, overlapSize int) []Span {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	if overlapSize < 0 || overlapSize >= maxChunkSize {
		overlapSize = 0
	}

	total := len(runes)
	if total <= maxChunkSize {
		return []Span{{Start: 0, End: total}}
	}

	var spans []Span
	start := 0
	for start < total {
		end := start + maxChunkSize
		if end < total {
			end = findBreakPoint(runes, end)
		} else {
			end = total
		}

		spans = append(spans, Span{Start: start, End: end})
		if end >= total {
			break
		}

		next := end - overlapSize
		if next <= 0 || next >= total-overlapSize {
			next = end
		}
		start = next
	}

	return spans
}

// findBreakPoint never returns a position before end.
func findBreakPoint(runes []rune, end int) int {
	limit := end + breakLookahead
	if limit > len(runes) {
		limit = len(runes)
	}
	window := runes[end:limit]

	for i, r := range window {
		switch r {
		case '.', '!', '?':
			return end + i + 1
		}
	}
	for i, r := range window {
		switch r {
		case ',', ';':
			return end + i + 1
		}
	}
	for i, r := range window {
		switch r {
		case ' ', '\n', '\t', '\r':
			return end + i
		}
	}

	return end
}
