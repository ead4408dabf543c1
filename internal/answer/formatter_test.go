package answer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	got, err := Format("noise[Detailed Response]\nDET\n[Summarized Response]\nSUM")
	require.NoError(t, err)
	assert.Equal(t, Answer{Detailed: "DET", Summarized: "SUM"}, got)
}

func TestFormat_MultilineSections(t *testing.T) {
	raw := "[Detailed Response]\n- point one\n- point two\n\n[Summarized Response]\n  short  \n"
	got, err := Format(raw)
	require.NoError(t, err)
	assert.Equal(t, "- point one\n- point two", got.Detailed)
	assert.Equal(t, "short", got.Summarized)
}

func TestFormat_MissingMarkers(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		marker string
	}{
		{"no markers", "plain answer", DetailedMarker},
		{"no summary", "[Detailed Response] text", SummarizedMarker},
		{"summary before detail", "[Summarized Response] a [Detailed Response] b", SummarizedMarker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Format(tt.raw)
			var fe *FormatError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.marker, fe.Marker)
			assert.Equal(t, tt.raw, fe.Raw)
			assert.ErrorIs(t, err, ErrMissingMarker)
		})
	}
}

func TestDegraded(t *testing.T) {
	assert.Equal(t, Answer{Detailed: "raw"}, Degraded("  raw\n"))
}
