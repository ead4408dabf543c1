package redis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legal-rag/backend/pkg/utils"
)

func TestEmbeddingKey(t *testing.T) {
	hash := utils.HashString("passage: Article 1")
	assert.Len(t, hash, 64)
	assert.Equal(t, "legalrag:embedding:v2:"+hash, embeddingKey(hash))
}

func TestVectorEncoding(t *testing.T) {
	in := []float32{0, 1, -0.25, 3.5e-8, math.MaxFloat32}

	buf := encodeVector(in)
	assert.Len(t, buf, 4*len(in))

	out, err := decodeVector(buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeVector_Corrupt(t *testing.T) {
	for _, buf := range [][]byte{nil, {1, 2, 3}, {1, 2, 3, 4, 5}} {
		_, err := decodeVector(buf)
		assert.ErrorIs(t, err, errCorruptVector)
	}
}
