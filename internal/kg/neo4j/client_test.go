package neo4j

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentKey(t *testing.T) {
	assert.Equal(t, "law/12", documentKey("law", "12"))
	assert.NotEqual(t, documentKey("law", "12"), documentKey("rule", "12"))
}

func TestAsString(t *testing.T) {
	assert.Equal(t, "125", asString("125"))
	assert.Equal(t, "", asString(nil))
	assert.Equal(t, "", asString(int64(3)))
}
