package identity

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/LerianStudio/shared-vault/vault/ledger"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Envelope is a signed operation request.
type Envelope struct {
	Operation string          `json:"operation"`
	Vault     string          `json:"vault"`
	Payload   json.RawMessage `json:"payload"`
	Nonce     string          `json:"nonce"`
	// Expires is a unix timestamp in seconds. Zero means no expiry.
	Expires    int64           `json:"expires,omitempty"`
	Signatures []hexutil.Bytes `json:"signatures"`
}

type signedFields struct {
	Operation string          `json:"operation"`
	Vault     string          `json:"vault"`
	Payload   json.RawMessage `json:"payload"`
	Nonce     string          `json:"nonce"`
	Expires   int64           `json:"expires"`
}

// Digest returns keccak256 of the canonical JSON encoding of every field
// except the signatures.
func (e Envelope) Digest() ([]byte, error) {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	data, err := json.Marshal(signedFields{
		Operation: e.Operation,
		Vault:     e.Vault,
		Payload:   payload,
		Nonce:     e.Nonce,
		Expires:   e.Expires,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return crypto.Keccak256(data), nil
}

// Sign appends key's signature over the envelope digest.
func Sign(key *ecdsa.PrivateKey, env *Envelope) error {
	digest, err := env.Digest()
	if err != nil {
		return err
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	env.Signatures = append(env.Signatures, sig)

	return nil
}

// Address returns the identity controlled by key.
func Address(key *ecdsa.PrivateKey) ledger.Identity {
	return ledger.IdentityFromAddress(crypto.PubkeyToAddress(key.PublicKey))
}
