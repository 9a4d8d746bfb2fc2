package identity

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/LerianStudio/shared-vault/vault/ledger"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnvelope() Envelope {
	return Envelope{
		Operation: "whitelist",
		Vault:     "0x00000000000000000000000000000000000000F0",
		Payload:   json.RawMessage(`{"target": "0x00000000000000000000000000000000000000b2"}`),
		Nonce:     "n-1",
	}
}

func TestRecoverReturnsEverySigner(t *testing.T) {
	owner, err := crypto.GenerateKey()
	require.NoError(t, err)
	target, err := crypto.GenerateKey()
	require.NoError(t, err)

	env := newEnvelope()
	require.NoError(t, Sign(owner, &env))
	require.NoError(t, Sign(target, &env))

	signers, digest, err := Recover(env)
	require.NoError(t, err)
	assert.Len(t, digest, 32)
	assert.Equal(t, ledger.NewSignerSet(Address(owner), Address(target)), signers)
}

func TestDigestIgnoresSignaturesAndPayloadWhitespace(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	env := newEnvelope()
	before, err := env.Digest()
	require.NoError(t, err)

	require.NoError(t, Sign(key, &env))
	after, err := env.Digest()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	compact := env
	compact.Payload = json.RawMessage(`{"target":"0x00000000000000000000000000000000000000b2"}`)
	compactDigest, err := compact.Digest()
	require.NoError(t, err)
	assert.Equal(t, before, compactDigest)
}

func TestTamperedEnvelopeRecoversDifferentSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	env := newEnvelope()
	require.NoError(t, Sign(key, &env))

	env.Nonce = "n-2"

	signers, _, err := Recover(env)
	if err == nil {
		assert.False(t, signers.Has(Address(key)))
	}
}

func TestRecoverRejectsMalformedSignatures(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	t.Run("none", func(t *testing.T) {
		_, _, err := Recover(newEnvelope())
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("short", func(t *testing.T) {
		env := newEnvelope()
		env.Signatures = append(env.Signatures, []byte{1, 2, 3})

		_, _, err := Recover(env)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("duplicate", func(t *testing.T) {
		env := newEnvelope()
		require.NoError(t, Sign(key, &env))
		require.NoError(t, Sign(key, &env))

		_, _, err := Recover(env)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("bad recovery id", func(t *testing.T) {
		env := newEnvelope()
		require.NoError(t, Sign(key, &env))
		env.Signatures[0][64] = 9

		_, _, err := Recover(env)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestRecoverAcceptsLegacyRecoveryID(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	env := newEnvelope()
	require.NoError(t, Sign(key, &env))
	env.Signatures[0][64] += 27

	signers, _, err := Recover(env)
	require.NoError(t, err)
	assert.True(t, signers.Has(Address(key)))
}

func TestVerifierRejectsExpiredAndReplayed(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	now := time.Unix(1_800_000_000, 0)
	verifier := NewVerifier(
		WithReplayGuard(NewMemoryReplayGuard()),
		WithNow(func() time.Time { return now }),
	)

	env := newEnvelope()
	env.Expires = now.Add(time.Minute).Unix()
	require.NoError(t, Sign(key, &env))

	signers, err := verifier.Verify(context.Background(), env)
	require.NoError(t, err)
	assert.True(t, signers.Has(Address(key)))

	_, err = verifier.Verify(context.Background(), env)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	expired := newEnvelope()
	expired.Expires = now.Add(-time.Second).Unix()
	require.NoError(t, Sign(key, &expired))

	_, err = verifier.Verify(context.Background(), expired)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestMemoryReplayGuardExpires(t *testing.T) {
	guard := NewMemoryReplayGuard()
	now := time.Unix(100, 0)
	guard.now = func() time.Time { return now }

	ok, err := guard.Claim(context.Background(), []byte{1}, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = guard.Claim(context.Background(), []byte{1}, time.Second)
	assert.False(t, ok)

	now = now.Add(2 * time.Second)

	ok, _ = guard.Claim(context.Background(), []byte{1}, time.Second)
	assert.True(t, ok)
}
