package generate

import (
	"crypto/rand"
	"fmt"

	"github.com/GehirnInc/crypt"
	_ "github.com/GehirnInc/crypt/sha512_crypt"
	"github.com/openwall/yescrypt-go"

	"provisionr/internal/types"
)

// Hasher turns a plaintext secret into the string stored and rendered.
// A failed hash is fatal for the request that triggered it.
type Hasher interface {
	Hash(plaintext string) (string, error)
}

// NewHasher builds the hasher selected by alg. The empty algorithm is
// treated as "none".
func NewHasher(alg types.HashAlgorithm) (Hasher, error) {
	switch alg.OrNone() {
	case types.HashNone:
		return noopHasher{}, nil
	case types.HashSha512:
		return sha512Hasher{}, nil
	case types.HashYescrypt:
		return yescryptHasher{}, nil
	}
	return nil, fmt.Errorf("unknown hashing algorithm %q", string(alg))
}

type noopHasher struct{}

func (noopHasher) Hash(plaintext string) (string, error) {
	return plaintext, nil
}

// sha512Hasher produces $6$-prefixed crypt strings at the default
// 5000 rounds with a fresh random salt per call.
type sha512Hasher struct{}

func (sha512Hasher) Hash(plaintext string) (string, error) {
	out, err := crypt.SHA512.New().Generate([]byte(plaintext), nil)
	if err != nil {
		return "", fmt.Errorf("sha512-crypt failed: %w", err)
	}
	return out, nil
}

// yescryptHasher produces $y$-prefixed crypt strings with a fresh
// random salt per call.
type yescryptHasher struct{}

// itoa64 is the crypt(3) base64 alphabet used for salt characters.
const itoa64 = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func (yescryptHasher) Hash(plaintext string) (string, error) {
	raw := make([]byte, 22)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("salt generation failed: %w", err)
	}
	salt := make([]byte, len(raw))
	for i, b := range raw {
		salt[i] = itoa64[int(b)%len(itoa64)]
	}

	setting := append([]byte("$y$j9T$"), salt...)
	out, err := yescrypt.Hash([]byte(plaintext), setting)
	if err != nil {
		return "", fmt.Errorf("yescrypt failed: %w", err)
	}
	return string(out), nil
}
