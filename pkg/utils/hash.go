package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// NormalizeText lowercases and collapses runs of whitespace so that
// trivially different copies of the same text hash identically.
func NormalizeText(input string) string {
	return strings.Join(strings.Fields(strings.ToLower(input)), " ")
}

// ContentHash is the dedup identity for retrieved passages without a
// usable source/chunk key.
func ContentHash(content string) string {
	return HashString(NormalizeText(content))
}
