package lending

import (
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"p2plend/crypto"
)

// userAccountSeed is the domain seed mixed into every user-account derivation.
// Changing it orphans all existing accounts.
var userAccountSeed = []byte("user-account")

// ErrNoValidBump is returned when no bump in the search space yields an
// off-curve digest. With a 1/2 miss probability per candidate this is
// unreachable in practice.
var ErrNoValidBump = errors.New("lending: no valid bump for account derivation")

// DeriveUserAccount computes the deterministic program-owned account address
// for a wallet, together with the canonical bump proving the address cannot
// collide with any wallet keypair. The derivation is a pure function of the
// seed and the wallet address: any party can recompute a counterparty's
// account address without a directory lookup.
//
// Candidates are keccak256(seed || owner || bump) searched from bump 255
// downward. A candidate is accepted when the digest is not a valid compressed
// secp256k1 point, guaranteeing no private key controls the address. The
// account address is the trailing 20 bytes of the accepted digest.
func DeriveUserAccount(owner crypto.Address) (crypto.Address, uint8, error) {
	ownerBytes := owner.Bytes()
	if len(ownerBytes) != crypto.AddressLength {
		return crypto.Address{}, 0, errors.New("lending: invalid owner address")
	}
	for bump := 255; bump >= 0; bump-- {
		digest := ethcrypto.Keccak256(userAccountSeed, ownerBytes, []byte{byte(bump)})
		if pointOnCurve(digest) {
			continue
		}
		addr := crypto.NewAddress(crypto.LendPrefix, digest[len(digest)-crypto.AddressLength:])
		return addr, uint8(bump), nil
	}
	return crypto.Address{}, 0, ErrNoValidBump
}

// pointOnCurve reports whether the 32-byte digest decodes as the X coordinate
// of a valid compressed secp256k1 point.
func pointOnCurve(digest []byte) bool {
	compressed := make([]byte, 0, len(digest)+1)
	compressed = append(compressed, 0x02)
	compressed = append(compressed, digest...)
	_, err := ethcrypto.DecompressPubkey(compressed)
	return err == nil
}
