package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// KeyGenerator derives cache keys from request semantics: agent type,
// normalized user text, and optionally a coarse hash of the surrounding
// editor context.
type KeyGenerator struct {
	// Hex characters of the context hash kept in the key. Short on
	// purpose: near-identical contexts collide into the same bucket,
	// trading some cross-context bleed for a higher hit rate.
	contextHashLen int

	lower cases.Caser
}

// NewKeyGenerator creates a key generator. hashLen truncates the context
// hash; values outside 1..64 fall back to 8.
func NewKeyGenerator(hashLen int) *KeyGenerator {
	if hashLen < 1 || hashLen > 64 {
		hashLen = 8
	}
	return &KeyGenerator{
		contextHashLen: hashLen,
		lower:          cases.Lower(language.Und),
	}
}

// DeriveKey builds a deterministic cache key. The user message is
// trimmed and lower-cased so trivially re-phrased requests share an
// entry. When includeContext is true and context is non-empty, a
// truncated SHA-256 of the context is appended.
func (g *KeyGenerator) DeriveKey(agentType, userMessage, contextText string, includeContext bool) string {
	normalized := g.lower.String(strings.TrimSpace(userMessage))

	parts := []string{agentType, normalized}
	if includeContext && contextText != "" {
		parts = append(parts, g.hashContext(contextText))
	}

	return strings.Join(parts, "|")
}

func (g *KeyGenerator) hashContext(contextText string) string {
	sum := sha256.Sum256([]byte(contextText))
	return hex.EncodeToString(sum[:])[:g.contextHashLen]
}
