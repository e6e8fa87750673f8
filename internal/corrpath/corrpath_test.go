package corrpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	assert.Nil(t, Parse(""))
	assert.Equal(t, Path{"a", "b", "c"}, Parse("a.b.c"))
	assert.Equal(t, Path{"token"}, Parse("token"))
}

func TestExtractEmptyPath(t *testing.T) {
	token, ok := Extract([]byte(`{"anything":"goes"}`), nil)
	assert.True(t, ok)
	assert.Equal(t, "", token)
}

func TestExtractNested(t *testing.T) {
	payload := []byte(`{"a":{"b":{"c":"xyz-123"}}}`)
	token, ok := Extract(payload, Parse("a.b.c"))
	assert.True(t, ok)
	assert.Equal(t, "xyz-123", token)
}

func TestExtractTopLevel(t *testing.T) {
	payload := []byte(`{"correlationToken":"abc"}`)
	token, ok := Extract(payload, Parse("correlationToken"))
	assert.True(t, ok)
	assert.Equal(t, "abc", token)
}

func TestExtractMissingField(t *testing.T) {
	payload := []byte(`{"a":{"x":"1"}}`)
	_, ok := Extract(payload, Parse("a.b"))
	assert.False(t, ok)
}

func TestExtractNonStringTerminal(t *testing.T) {
	payload := []byte(`{"a":{"b":42}}`)
	_, ok := Extract(payload, Parse("a.b"))
	assert.False(t, ok)
}

func TestExtractIntermediateNotObject(t *testing.T) {
	payload := []byte(`{"a":"not an object"}`)
	_, ok := Extract(payload, Parse("a.b"))
	assert.False(t, ok)
}

func TestExtractInvalidJSON(t *testing.T) {
	_, ok := Extract([]byte(`not json`), Parse("a"))
	assert.False(t, ok)
}
