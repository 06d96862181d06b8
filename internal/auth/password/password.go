package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

var ErrMalformedHash = errors.New("malformed argon2id hash")

type params struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

// Hash returns the encoded Argon2id hash used for the admin password.
func Hash(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return encode(params{
		memory:  argonMemory,
		time:    argonTime,
		threads: argonThreads,
		salt:    salt,
		key:     key,
	}), nil
}

// Verify checks whether a password matches the encoded Argon2id hash.
func Verify(password, encoded string) bool {
	p, err := decode(encoded)
	if err != nil {
		return false
	}
	check := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(p.key, check) == 1
}

// Validate reports whether encoded is a well-formed Argon2id hash.
func Validate(encoded string) error {
	_, err := decode(encoded)
	return err
}

func encode(p params) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.memory,
		p.time,
		p.threads,
		base64.RawStdEncoding.EncodeToString(p.salt),
		base64.RawStdEncoding.EncodeToString(p.key),
	)
}

func decode(encoded string) (params, error) {
	parts := strings.Split(strings.TrimSpace(encoded), "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return params{}, ErrMalformedHash
	}

	fields := strings.Split(parts[3], ",")
	if len(fields) != 3 {
		return params{}, ErrMalformedHash
	}
	memory, err := parseField(fields[0], "m=", 32)
	if err != nil {
		return params{}, err
	}
	timeCost, err := parseField(fields[1], "t=", 32)
	if err != nil {
		return params{}, err
	}
	threads, err := parseField(fields[2], "p=", 8)
	if err != nil {
		return params{}, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params{}, ErrMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return params{}, ErrMalformedHash
	}

	return params{
		memory:  uint32(memory),
		time:    uint32(timeCost),
		threads: uint8(threads),
		salt:    salt,
		key:     key,
	}, nil
}

func parseField(field, prefix string, bits int) (uint64, error) {
	raw, ok := strings.CutPrefix(field, prefix)
	if !ok {
		return 0, ErrMalformedHash
	}
	v, err := strconv.ParseUint(raw, 10, bits)
	if err != nil || v == 0 {
		return 0, ErrMalformedHash
	}
	return v, nil
}
