package querydsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileCacheFieldPathMemoizes(t *testing.T) {
	c := NewCompileCache()

	fp1, err := c.FieldPath("user.address.city")
	require.NoError(t, err)
	fp2, err := c.FieldPath("user.address.city")
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2)

	c.mu.RLock()
	n := len(c.paths)
	c.mu.RUnlock()
	assert.Equal(t, 1, n)
}

func TestCompileCacheFieldPathPropagatesParseError(t *testing.T) {
	c := NewCompileCache()
	_, err := c.FieldPath("items[x]")
	assert.Error(t, err)
}

func TestCompileCacheRegexMemoizes(t *testing.T) {
	c := NewCompileCache()

	re1, err := c.Regex("^err.*")
	require.NoError(t, err)
	re2, err := c.Regex("^err.*")
	require.NoError(t, err)

	assert.Same(t, re1, re2)

	c.mu.RLock()
	n := len(c.regexs)
	c.mu.RUnlock()
	assert.Equal(t, 1, n)
}

func TestCompileCacheRegexPropagatesCompileError(t *testing.T) {
	c := NewCompileCache()
	_, err := c.Regex("(unterminated")
	assert.Error(t, err)
}

func TestCompileCacheDistinguishesPathFromRegexKeys(t *testing.T) {
	// "a.b" is a valid field path and also a valid (if odd) regex; both
	// must compile and cache independently under the same source string.
	c := NewCompileCache()

	fp, err := c.FieldPath("a.b")
	require.NoError(t, err)
	re, err := c.Regex("a.b")
	require.NoError(t, err)

	assert.NotNil(t, fp)
	assert.NotNil(t, re)

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Len(t, c.paths, 1)
	assert.Len(t, c.regexs, 1)
}

func TestParseJSONRegexOperatorUsesSharedCache(t *testing.T) {
	doc := []byte(`{ "message": { "$regex": "^fatal:" } }`)

	node, err := ParseJSON(doc)
	require.NoError(t, err)

	assert.True(t, node.Evaluate(map[string]any{"message": "fatal: disk full"}))
	assert.False(t, node.Evaluate(map[string]any{"message": "info: ok"}))
}

func TestParseJSONRegexOperatorRejectsNonStringValue(t *testing.T) {
	doc := []byte(`{ "message": { "$regex": 5 } }`)
	_, err := ParseJSON(doc)
	assert.Error(t, err)
}

func TestParseJSONRegexOperatorRejectsInvalidPattern(t *testing.T) {
	doc := []byte(`{ "message": { "$regex": "(unterminated" } }`)
	_, err := ParseJSON(doc)
	assert.Error(t, err)
}
