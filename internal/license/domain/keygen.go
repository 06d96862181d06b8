package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const DefaultKeyPrefix = "TIR"

// KeyGenerator produces PREFIX-XXXXXXXX-XXXXXXXX keys from a CSPRNG.
type KeyGenerator struct {
	Prefix string
	Rand   io.Reader
}

func NewKeyGenerator(prefix string) KeyGenerator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return KeyGenerator{Prefix: prefix, Rand: rand.Reader}
}

func (g KeyGenerator) Generate() (string, error) {
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}
	buf := make([]byte, 8)
	if _, err := io.ReadFull(src, buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	prefix := g.Prefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return fmt.Sprintf("%s-%s-%s",
		prefix,
		strings.ToUpper(hex.EncodeToString(buf[:4])),
		strings.ToUpper(hex.EncodeToString(buf[4:])),
	), nil
}
