// Package proof implements the daily proof-of-freshness that clients attach
// to license requests.
package proof

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/hwlicense/internal/clock"
	"github.com/smallbiznis/hwlicense/internal/config"
)

// Length is the number of hex characters kept from the HMAC.
const Length = 16

var (
	ErrProofMissing = errors.New("proof_missing")
	ErrProofInvalid = errors.New("proof_invalid")
	ErrSecretUnset  = errors.New("proof_secret_unset")
)

// Derive computes hex(HMAC-SHA256(secret, hwid ":" YYYY-MM-DD))[:16] for the
// UTC day containing at.
func Derive(secret []byte, hwid string, at time.Time) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(hwid + ":" + at.UTC().Format(time.DateOnly)))
	return hex.EncodeToString(mac.Sum(nil))[:Length]
}

// Gate checks proofs for the endpoint classes the policy marks as required.
// It fails closed: a required proof with no secret configured is rejected.
type Gate struct {
	secret []byte
	policy *config.PolicyHolder
	clock  clock.Clock
}

func New(cfg config.Config, policy *config.PolicyHolder, clk clock.Clock) (*Gate, error) {
	g := &Gate{
		secret: []byte(cfg.License.ProofSecret),
		policy: policy,
		clock:  clk,
	}
	if len(g.secret) == 0 && policy.Get().Proof.Any() {
		return nil, errors.New("LICENSE_PROOF_SECRET is required while any endpoint requires a proof")
	}
	return g, nil
}

func (g *Gate) Requires(class string) bool {
	return g.policy.Get().Proof.Requires(class)
}

// Verify returns nil when class does not require a proof or when proof is
// the current day's value for hwid.
func (g *Gate) Verify(class, hwid, proof string) error {
	if !g.Requires(class) {
		return nil
	}
	if len(g.secret) == 0 {
		return ErrSecretUnset
	}
	proof = strings.ToLower(strings.TrimSpace(proof))
	if proof == "" {
		return ErrProofMissing
	}
	expected := Derive(g.secret, strings.TrimSpace(hwid), g.clock.Now())
	if !hmac.Equal([]byte(proof), []byte(expected)) {
		return ErrProofInvalid
	}
	return nil
}
