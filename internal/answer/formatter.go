// Package answer splits raw model output into its detailed and summarized
// sections.
package answer

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DetailedMarker   = "[Detailed Response]"
	SummarizedMarker = "[Summarized Response]"
)

var ErrMissingMarker = errors.New("response marker missing")

// FormatError carries the raw text so callers can still show it.
type FormatError struct {
	Marker string
	Raw    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingMarker, e.Marker)
}

func (e *FormatError) Unwrap() error { return ErrMissingMarker }

type Answer struct {
	Detailed   string `json:"detailed"`
	Summarized string `json:"summarized"`
}

// Format requires both markers, detailed first.
func Format(raw string) (Answer, error) {
	d := strings.Index(raw, DetailedMarker)
	if d < 0 {
		return Answer{}, &FormatError{Marker: DetailedMarker, Raw: raw}
	}
	bodyStart := d + len(DetailedMarker)

	s := strings.Index(raw[bodyStart:], SummarizedMarker)
	if s < 0 {
		return Answer{}, &FormatError{Marker: SummarizedMarker, Raw: raw}
	}
	s += bodyStart

	return Answer{
		Detailed:   strings.TrimSpace(raw[bodyStart:s]),
		Summarized: strings.TrimSpace(raw[s+len(SummarizedMarker):]),
	}, nil
}

// Degraded is the answer shown when Format fails: the raw text as the
// detailed section.
func Degraded(raw string) Answer {
	return Answer{Detailed: strings.TrimSpace(raw)}
}
