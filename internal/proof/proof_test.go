package proof

import (
	"testing"
	"time"

	"github.com/smallbiznis/hwlicense/internal/clock"
	"github.com/smallbiznis/hwlicense/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func policyWith(proof config.ProofPolicy) *config.PolicyHolder {
	p := config.DefaultPolicy()
	p.Proof = proof
	return config.NewStaticPolicyHolder(p)
}

func TestDeriveIsStableWithinUTCDay(t *testing.T) {
	secret := []byte("shared")
	morning := time.Date(2026, 4, 2, 0, 0, 1, 0, time.UTC)
	night := time.Date(2026, 4, 2, 23, 59, 59, 0, time.UTC)

	p := Derive(secret, "HW-1", morning)
	assert.Len(t, p, Length)
	assert.Equal(t, p, Derive(secret, "HW-1", night))
	assert.NotEqual(t, p, Derive(secret, "HW-2", morning))
	assert.NotEqual(t, p, Derive([]byte("other"), "HW-1", morning))

	// Same instant expressed in another zone still uses the UTC day.
	kyiv := time.FixedZone("EET", 2*60*60)
	assert.Equal(t, p, Derive(secret, "HW-1", morning.In(kyiv)))
}

func TestVerifyRotatesAtUTCMidnight(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 4, 2, 23, 59, 0, 0, time.UTC))
	gate, err := New(config.Config{License: config.LicenseConfig{ProofSecret: "shared"}}, policyWith(config.DefaultPolicy().Proof), fake)
	require.NoError(t, err)

	today := Derive([]byte("shared"), "HW-1", fake.Now())
	require.NoError(t, gate.Verify(config.ClassActivate, "HW-1", today))
	require.NoError(t, gate.Verify(config.ClassCheck, " HW-1 ", "  "+today))

	fake.Advance(2 * time.Minute)
	assert.ErrorIs(t, gate.Verify(config.ClassActivate, "HW-1", today), ErrProofInvalid)
	assert.NoError(t, gate.Verify(config.ClassActivate, "HW-1", Derive([]byte("shared"), "HW-1", fake.Now())))
}

func TestVerifyRejectsMissingAndWrongHardware(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC))
	gate, err := New(config.Config{License: config.LicenseConfig{ProofSecret: "shared"}}, policyWith(config.DefaultPolicy().Proof), fake)
	require.NoError(t, err)

	assert.ErrorIs(t, gate.Verify(config.ClassDownload, "HW-1", ""), ErrProofMissing)
	other := Derive([]byte("shared"), "HW-2", fake.Now())
	assert.ErrorIs(t, gate.Verify(config.ClassDownload, "HW-1", other), ErrProofInvalid)
}

func TestOptionalEndpointSkipsVerification(t *testing.T) {
	gate, err := New(config.Config{}, policyWith(config.ProofPolicy{}), clock.New())
	require.NoError(t, err)

	assert.False(t, gate.Requires(config.ClassCheck))
	assert.NoError(t, gate.Verify(config.ClassCheck, "HW-1", ""))
	assert.True(t, gate.Requires("unknown"), "unknown classes require a proof")
	assert.ErrorIs(t, gate.Verify("unknown", "HW-1", "abc"), ErrSecretUnset)
}

func TestNewRefusesRequiredProofWithoutSecret(t *testing.T) {
	_, err := New(config.Config{}, policyWith(config.ProofPolicy{Check: true}), clock.New())
	assert.Error(t, err)
}
