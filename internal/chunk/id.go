package chunk

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const separator = "_"

// MaxDocumentIDLength is the byte length of the vector index content_id
// field.
const MaxDocumentIDLength = 128

var ErrInvalidDocumentID = errors.New("invalid document id")

// ValidateDocumentID rejects ids that would make chunk ids ambiguous.
func ValidateDocumentID(documentID string) error {
	if strings.TrimSpace(documentID) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(documentID) > MaxDocumentIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidDocumentID, MaxDocumentIDLength)
	}
	if strings.Contains(documentID, separator) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidDocumentID, documentID, separator)
	}
	return nil
}

func GenerateChunkID(documentID string, sequence int) string {
	return documentID + separator + strconv.Itoa(sequence)
}

// ParseDocumentID splits on the first underscore.
func ParseDocumentID(chunkID string) string {
	if i := strings.Index(chunkID, separator); i >= 0 {
		return chunkID[:i]
	}
	return chunkID
}

// ParseSequence returns the sequence index of a chunk id, or false when the
// suffix is missing or not a number.
func ParseSequence(chunkID string) (int, bool) {
	i := strings.Index(chunkID, separator)
	if i < 0 {
		return 0, false
	}
	seq, err := strconv.Atoi(chunkID[i+1:])
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

// IsFirstChunk reports whether chunkID has sequence index 0.
func IsFirstChunk(chunkID string) bool {
	seq, ok := ParseSequence(chunkID)
	return ok && seq == 0
}

// NextDocumentID returns max+1 over the numeric document ids of first chunks,
// or "1" when there are none. Non-numeric ids are skipped.
func NextDocumentID(chunkIDs []string) string {
	max := int64(0)
	for _, id := range chunkIDs {
		if !IsFirstChunk(id) {
			continue
		}
		n, err := strconv.ParseInt(ParseDocumentID(id), 10, 64)
		if err != nil || n < 0 {
			continue
		}
		if n > max {
			max = n
		}
	}
	return strconv.FormatInt(max+1, 10)
}

// Piece is the part of a stored chunk row needed to reassemble its document.
type Piece struct {
	ChunkID  string
	Title    string
	Content  string
	Type     string
	Language string
}

// Merged is a document reassembled from its chunk family.
type Merged struct {
	DocumentID string
	Title      string
	Content    string
	Type       string
	Language   string
	ChunkCount int
	IsMerged   bool
}

// MergeChunks groups pieces by document id and concatenates each group in
// sequence order with no separator. The join is lossy where chunks overlapped.
// Documents keep the order in which their first piece appeared.
func MergeChunks(pieces []Piece) []Merged {
	groups := make(map[string][]Piece)
	var order []string
	for _, p := range pieces {
		docID := ParseDocumentID(p.ChunkID)
		if _, ok := groups[docID]; !ok {
			order = append(order, docID)
		}
		groups[docID] = append(groups[docID], p)
	}

	merged := make([]Merged, 0, len(order))
	for _, docID := range order {
		group := groups[docID]
		sort.SliceStable(group, func(i, j int) bool {
			si, _ := ParseSequence(group[i].ChunkID)
			sj, _ := ParseSequence(group[j].ChunkID)
			return si < sj
		})

		var b strings.Builder
		for _, p := range group {
			b.WriteString(p.Content)
		}

		first := group[0]
		merged = append(merged, Merged{
			DocumentID: docID,
			Title:      first.Title,
			Content:    b.String(),
			Type:       first.Type,
			Language:   first.Language,
			ChunkCount: len(group),
			IsMerged:   len(group) > 1,
		})
	}

	return merged
}
