package derivation

import (
	"errors"
	"math/big"

	constant "github.com/LerianStudio/shared-vault/vault/constants"
	"github.com/LerianStudio/shared-vault/vault/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// MaxSeeds bounds the number of seeds in one derivation.
	MaxSeeds = 16
	// MaxSeedLength bounds the length of each seed.
	MaxSeedLength = 32
)

var (
	// ErrMaxSeedLengthExceeded is returned for too many or too long seeds.
	ErrMaxSeedLengthExceeded = errors.New("derivation: seed count or length exceeded")
	// ErrOnCurve is returned when a digest is a valid curve point.
	ErrOnCurve = errors.New("derivation: derived digest lies on the curve")
	// ErrNoViableBump is returned when every bump yields an on-curve digest.
	ErrNoViableBump = errors.New("derivation: no viable bump found")
)

var (
	curveP   = crypto.S256().Params().P
	curveB   = big.NewInt(7)
	legendre = new(big.Int).Rsh(new(big.Int).Sub(curveP, big.NewInt(1)), 1)
)

// FindProgramAddress searches bumps from 255 down to 0 and returns the first
// off-curve address with its bump.
func FindProgramAddress(program common.Address, seeds ...[]byte) (common.Address, uint8, error) {
	if err := validateSeeds(seeds); err != nil {
		return common.Address{}, 0, err
	}

	for bump := 255; bump >= 0; bump-- {
		addr, err := CreateProgramAddress(program, uint8(bump), seeds...)
		if err == nil {
			return addr, uint8(bump), nil
		}

		if !errors.Is(err, ErrOnCurve) {
			return common.Address{}, 0, err
		}
	}

	return common.Address{}, 0, ErrNoViableBump
}

// CreateProgramAddress derives the address for an explicit bump. It fails
// with ErrOnCurve when the digest could have a private key.
func CreateProgramAddress(program common.Address, bump uint8, seeds ...[]byte) (common.Address, error) {
	if err := validateSeeds(seeds); err != nil {
		return common.Address{}, err
	}

	parts := make([][]byte, 0, len(seeds)+3)
	parts = append(parts, seeds...)
	parts = append(parts, []byte{bump}, program.Bytes(), []byte(constant.DerivationMarker))

	digest := crypto.Keccak256(parts...)
	if isOnCurve(digest) {
		return common.Address{}, ErrOnCurve
	}

	return common.BytesToAddress(digest[12:]), nil
}

// DeriveBinding derives the custody account and its signing authority for
// program.
func DeriveBinding(program common.Address) (ledger.Binding, error) {
	custody, custodyBump, err := FindProgramAddress(program, []byte(constant.SeedCustody))
	if err != nil {
		return ledger.Binding{}, err
	}

	authority, authorityBump, err := FindProgramAddress(program, []byte(constant.SeedAuthority))
	if err != nil {
		return ledger.Binding{}, err
	}

	return ledger.Binding{
		Custody:       ledger.VaultID(custody.Hex()),
		Authority:     ledger.IdentityFromAddress(authority),
		CustodyBump:   custodyBump,
		AuthorityBump: authorityBump,
	}, nil
}

// VerifyBinding recomputes binding from its recorded bumps.
func VerifyBinding(program common.Address, binding ledger.Binding) bool {
	custody, err := CreateProgramAddress(program, binding.CustodyBump, []byte(constant.SeedCustody))
	if err != nil || ledger.VaultID(custody.Hex()) != binding.Custody {
		return false
	}

	authority, err := CreateProgramAddress(program, binding.AuthorityBump, []byte(constant.SeedAuthority))

	return err == nil && ledger.IdentityFromAddress(authority) == binding.Authority
}

func validateSeeds(seeds [][]byte) error {
	if len(seeds) > MaxSeeds {
		return ErrMaxSeedLengthExceeded
	}

	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return ErrMaxSeedLengthExceeded
		}
	}

	return nil
}

// isOnCurve reports whether digest, read as a big-endian integer, is the
// x-coordinate of a point on y² = x³ + 7 over the secp256k1 field.
func isOnCurve(digest []byte) bool {
	x := new(big.Int).SetBytes(digest)
	if x.Cmp(curveP) >= 0 {
		return false
	}

	rhs := new(big.Int).Exp(x, big.NewInt(3), curveP)
	rhs.Add(rhs, curveB)
	rhs.Mod(rhs, curveP)

	if rhs.Sign() == 0 {
		return true
	}

	return new(big.Int).Exp(rhs, legendre, curveP).Cmp(big.NewInt(1)) == 0
}
