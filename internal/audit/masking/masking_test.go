package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "TIR-****BBBB", MaskSecret("TIR-0000AAAA-1111BBBB"))
	assert.Equal(t, "sk_****", MaskSecret("sk_abc"))
	assert.Equal(t, "****", MaskSecret("abcd"))
	assert.Equal(t, "****6789", MaskSecret("123456789"))
}

func TestMaskJSONOnlyTouchesSensitiveKeys(t *testing.T) {
	out := MaskJSON(map[string]any{
		"hwid":  "MACHINE-ABCDEF123456",
		"days":  30,
		"note":  "customer a",
		"inner": map[string]any{"proof": "0123456789abcdef"},
	}, "hwid", "proof")

	assert.Equal(t, "MACHINE-****3456", out["hwid"])
	assert.Equal(t, 30, out["days"])
	assert.Equal(t, "customer a", out["note"])
	assert.Equal(t, map[string]any{"proof": "****cdef"}, out["inner"])
	assert.Nil(t, MaskJSON(nil))
}
