package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	encoded, err := Hash("correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=65536,t=1,p=4$"))
	assert.NoError(t, Validate(encoded))

	assert.True(t, Verify("correct horse", encoded))
	assert.False(t, Verify("battery staple", encoded))

	other, err := Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, encoded, other, "salt is random")
}

func TestVerifyRejectsMalformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$a2V5",
		"$argon2id$v=19$m=0,t=1,p=4$c2FsdA$a2V5",
		"$argon2id$v=19$m=65536,t=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=65536,t=1,p=4$!!$a2V5",
	} {
		assert.False(t, Verify("x", encoded), encoded)
		assert.ErrorIs(t, Validate(encoded), ErrMalformedHash, encoded)
	}
}
