package zilliz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/legal-rag/backend/internal/storage/models"
)

func TestExpressions(t *testing.T) {
	assert.Equal(t, `id in ["12", "13"]`, idsExpr([]string{"12", "13"}))
	assert.Equal(t, `content_id == "7"`, contentIDExpr("7"))
	assert.Equal(t, `content_id == "a\"b"`, contentIDExpr(`a"b`))
}

func TestCollectionName(t *testing.T) {
	z := &Client{prefix: "legal_"}
	assert.Equal(t, "legal_rule", z.CollectionName(models.CategoryRule))
}

func TestSearchEf(t *testing.T) {
	assert.Equal(t, 64, searchEf(10))
	assert.Equal(t, 100, searchEf(100))
}
