// Package prompthash fingerprints generation requests for prompt-history
// deduplication.
package prompthash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Hash returns the SHA-256 hex digest of the prompt, model name, and sampling
// parameters joined with "|" in a fixed order. Identical inputs always yield
// the same digest, so it is safe to use as an idempotent upsert key.
func Hash(prompt, modelName string, topP float64, minTokens int, temperature, presencePenalty float64) string {
	parts := []string{
		prompt,
		modelName,
		formatFloat(topP),
		strconv.Itoa(minTokens),
		formatFloat(temperature),
		formatFloat(presencePenalty),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
