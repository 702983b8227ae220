// Package generate produces the dynamic values substituted into
// templates on first render: random alphanumeric strings, hyphenated
// passphrases, and the crypt-format hashers applied to them. All
// randomness comes from crypto/rand.
package generate

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	_ "embed"

	"provisionr/internal/types"
)

//go:embed wordlist.txt
var rawWordlist string

// words is the embedded wordlist with empty lines and any word
// containing the passphrase separator filtered out at load time.
var words = loadWordlist(rawWordlist)

func loadWordlist(raw string) []string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.Contains(l, "-") {
			continue
		}
		out = append(out, l)
	}
	return out
}

const alphanumerics = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generator produces one value per call. Implementations are safe for
// reuse but every call yields a fresh value.
type Generator interface {
	Generate() (string, error)
}

// NewGenerator builds the generator selected by spec's tag.
func NewGenerator(spec types.GeneratorSpec) (Generator, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.Kind {
	case types.GeneratorAlphanumeric:
		return alphanumericGenerator{length: spec.Length}, nil
	case types.GeneratorPassphrase:
		return passphraseGenerator{wordCount: spec.WordCount}, nil
	}
	return nil, fmt.Errorf("unknown generator type %q", string(spec.Kind))
}

type alphanumericGenerator struct {
	length int
}

func (g alphanumericGenerator) Generate() (string, error) {
	var b strings.Builder
	b.Grow(g.length)
	max := big.NewInt(int64(len(alphanumerics)))
	for i := 0; i < g.length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("random source failed: %w", err)
		}
		b.WriteByte(alphanumerics[n.Int64()])
	}
	return b.String(), nil
}

type passphraseGenerator struct {
	wordCount int
}

func (g passphraseGenerator) Generate() (string, error) {
	picked := make([]string, g.wordCount)
	max := big.NewInt(int64(len(words)))
	for i := range picked {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("random source failed: %w", err)
		}
		picked[i] = words[n.Int64()]
	}
	return strings.Join(picked, "-"), nil
}
