package identity

import (
	"context"
	"fmt"
	"time"

	constant "github.com/LerianStudio/shared-vault/vault/constants"
	"github.com/LerianStudio/shared-vault/vault/ledger"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned for missing, malformed, duplicate,
// expired or replayed signatures.
var ErrInvalidSignature = constant.ErrInvalidSignature

const signatureLength = 65

// ReplayGuard remembers envelope digests until they expire. Claim returns
// false when digest was already claimed.
type ReplayGuard interface {
	Claim(ctx context.Context, digest []byte, ttl time.Duration) (bool, error)
}

// Verifier recovers signers from envelopes.
type Verifier struct {
	guard  ReplayGuard
	maxTTL time.Duration
	now    func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithReplayGuard rejects envelopes whose digest was seen before.
func WithReplayGuard(guard ReplayGuard) VerifierOption {
	return func(v *Verifier) { v.guard = guard }
}

// WithMaxTTL bounds how long a replay claim is kept for envelopes without
// an expiry.
func WithMaxTTL(ttl time.Duration) VerifierOption {
	return func(v *Verifier) {
		if ttl > 0 {
			v.maxTTL = ttl
		}
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier builds a Verifier.
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{maxTTL: 24 * time.Hour, now: time.Now}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Verify checks expiry, recovers every signer and claims the digest in the
// replay guard.
func (v *Verifier) Verify(ctx context.Context, env Envelope) (ledger.SignerSet, error) {
	now := v.now()

	if env.Expires != 0 && now.Unix() > env.Expires {
		return nil, fmt.Errorf("%w: envelope expired", ErrInvalidSignature)
	}

	signers, digest, err := Recover(env)
	if err != nil {
		return nil, err
	}

	if v.guard != nil {
		ttl := v.maxTTL
		if env.Expires != 0 {
			ttl = time.Unix(env.Expires, 0).Sub(now) + time.Second
		}

		fresh, err := v.guard.Claim(ctx, digest, ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to claim envelope: %w", err)
		}

		if !fresh {
			return nil, fmt.Errorf("%w: envelope already used", ErrInvalidSignature)
		}
	}

	return signers, nil
}

// Recover returns the identities that signed env and its digest.
func Recover(env Envelope) (ledger.SignerSet, []byte, error) {
	if len(env.Signatures) == 0 {
		return nil, nil, fmt.Errorf("%w: no signatures", ErrInvalidSignature)
	}

	digest, err := env.Digest()
	if err != nil {
		return nil, nil, err
	}

	signers := make(ledger.SignerSet, len(env.Signatures))

	for i, raw := range env.Signatures {
		if len(raw) != signatureLength {
			return nil, nil, fmt.Errorf("%w: signature %d has length %d", ErrInvalidSignature, i, len(raw))
		}

		sig := make([]byte, signatureLength)
		copy(sig, raw)

		if sig[64] >= 27 {
			sig[64] -= 27
		}

		pub, err := crypto.SigToPub(digest, sig)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: signature %d: %v", ErrInvalidSignature, i, err)
		}

		id := ledger.IdentityFromAddress(crypto.PubkeyToAddress(*pub))
		if signers.Has(id) {
			return nil, nil, fmt.Errorf("%w: duplicate signer %s", ErrInvalidSignature, id)
		}

		signers[id] = struct{}{}
	}

	return signers, digest, nil
}
