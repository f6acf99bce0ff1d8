package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/filecoin-project/go-address"
	tmed25519 "github.com/tendermint/tendermint/crypto/ed25519"
)

// Length is the width of an identity in bytes.
const Length = 20

// delegatedNamespace is the Ethereum address manager actor id used for f410 addresses.
const delegatedNamespace = 10

// Identity is a 20-byte party identifier. The zero value is the wildcard.
type Identity [Length]byte

// Wildcard matches any signer when used as a constraint signer.
var Wildcard Identity

func FromBytes(b []byte) (Identity, error) {
	var id Identity
	if len(b) != Length {
		return id, fmt.Errorf("identity must be %d bytes, got %d", Length, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// FromPubKey derives the identity of an ed25519 key the same way
// tendermint derives validator addresses.
func FromPubKey(pub ed25519.PublicKey) (Identity, error) {
	if len(pub) != ed25519.PublicKeySize {
		return Identity{}, fmt.Errorf("invalid pubkey length: got %d, want %d", len(pub), ed25519.PublicKeySize)
	}
	return FromBytes(tmed25519.PubKey(pub).Address())
}

// Parse accepts the 0x-prefixed hex form produced by String.
func Parse(s string) (Identity, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid identity %q: %w", s, err)
	}
	return FromBytes(b)
}

func (id Identity) IsWildcard() bool { return id == Wildcard }

// Matches reports whether id, used as a constraint signer, admits caller.
func (id Identity) Matches(caller Identity) bool {
	return id.IsWildcard() || id == caller
}

func (id Identity) Bytes() []byte { return id[:] }

func (id Identity) String() string { return "0x" + hex.EncodeToString(id[:]) }

// FilAddress renders the identity as a Filecoin delegated (f410) address.
func (id Identity) FilAddress() (address.Address, error) {
	return address.NewDelegatedAddress(delegatedNamespace, id[:])
}

func (id Identity) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
