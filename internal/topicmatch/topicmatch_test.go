package topicmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidTopic(t *testing.T) {
	assert.NoError(t, ValidTopic("a/b/c"))
	assert.Error(t, ValidTopic(""))
	assert.Error(t, ValidTopic("a/+/c"))
	assert.Error(t, ValidTopic("a/#"))
	assert.Error(t, ValidTopic("a/\x00/c"))
}

func TestValidFilter(t *testing.T) {
	assert.NoError(t, ValidFilter("a/b/c"))
	assert.NoError(t, ValidFilter("a/+/c"))
	assert.NoError(t, ValidFilter("a/b/#"))
	assert.NoError(t, ValidFilter("#"))
	assert.NoError(t, ValidFilter("+"))
	assert.Error(t, ValidFilter(""))
	assert.Error(t, ValidFilter("a/b+/c"))
	assert.Error(t, ValidFilter("a/#/c"))
	assert.Error(t, ValidFilter("a/b#"))
}

func TestMatchExact(t *testing.T) {
	assert.True(t, Match("a/b/c", "a/b/c"))
	assert.False(t, Match("a/b/c", "a/b/d"))
}

func TestMatchSingleLevelWildcard(t *testing.T) {
	assert.True(t, Match("a/+/c", "a/b/c"))
	assert.True(t, Match("a/+/c", "a/x/c"))
	assert.False(t, Match("a/+/c", "a/b/b/c"))
	assert.False(t, Match("a/+", "a"))
}

func TestMatchMultiLevelWildcard(t *testing.T) {
	assert.True(t, Match("a/#", "a/b/c"))
	assert.True(t, Match("a/#", "a"))
	assert.True(t, Match("#", "a/b/c"))
	assert.False(t, Match("a/#", "b/c"))
}

func TestMatchDollarTopicsExcludedFromWildcards(t *testing.T) {
	assert.False(t, Match("#", "$SYS/broker/version"))
	assert.False(t, Match("+/broker/version", "$SYS/broker/version"))
	assert.True(t, Match("$SYS/broker/version", "$SYS/broker/version"))
	assert.True(t, Match("$SYS/+/version", "$SYS/broker/version"))
}

func TestMatchDifferentLevelCounts(t *testing.T) {
	assert.False(t, Match("a/b", "a/b/c"))
	assert.False(t, Match("a/b/c", "a/b"))
}
