package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "hello world", NormalizeText("  Hello \t World\n"))
	assert.Equal(t, "", NormalizeText("   "))
}

func TestContentHashIgnoresWhitespaceAndCase(t *testing.T) {
	assert.Equal(t, ContentHash("Hello  World"), ContentHash("hello world"))
	assert.NotEqual(t, ContentHash("hello world"), ContentHash("hello worlds"))
}

func TestHashStringStable(t *testing.T) {
	assert.Equal(t, HashString("abc"), HashString("abc"))
	assert.Len(t, HashString("abc"), 32)
}
