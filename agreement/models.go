package agreement

import (
	"fmt"

	"github.com/gregorybednov/pactchain/identity"
)

type Status uint8

const (
	StatusUnknown Status = iota
	StatusPending
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "PENDING":
		*s = StatusPending
	case "COMPLETE":
		*s = StatusComplete
	case "UNKNOWN":
		*s = StatusUnknown
	default:
		return fmt.Errorf("unknown agreement status %q", text)
	}
	return nil
}

// Constraint is a named role that must be signed AllowedToUse times by Signer.
// A wildcard Signer admits any caller.
type Constraint struct {
	Identifier   string              `json:"identifier"`
	Signer       identity.Identity   `json:"signer"`
	AllowedToUse uint64              `json:"allowed_to_use"`
	TotalUsed    uint64              `json:"total_used"`
	SignedBy     []identity.Identity `json:"signed_by,omitempty"`
}

func (c Constraint) admits(identifier string, caller identity.Identity) bool {
	return c.Identifier == identifier && c.TotalUsed < c.AllowedToUse && c.Signer.Matches(caller)
}

type Agreement struct {
	Owner              identity.Identity `json:"owner"`
	Index              uint64            `json:"index"`
	Identifier         string            `json:"identifier"`
	CID                string            `json:"cid"`
	EncryptedCID       string            `json:"encrypted_cid"`
	DescriptionCID     string            `json:"description_cid"`
	Constraints        []Constraint      `json:"constraints"`
	Status             Status            `json:"status"`
	SignedPackets      uint64            `json:"signed_packets"`
	TotalPackets       uint64            `json:"total_packets"`
	CompletionCallback string            `json:"completion_callback,omitempty"`
	SignatureCallback  string            `json:"signature_callback,omitempty"`
	ExtraInfo          []byte            `json:"extra_info,omitempty"`
	Signatures         []uint64          `json:"signatures,omitempty"`
}

// Signature is one entry of the global append-only signature sequence.
type Signature struct {
	Index          uint64            `json:"index"`
	AgreementOwner identity.Identity `json:"agreement_owner"`
	AgreementIndex uint64            `json:"agreement_index"`
	Identifier     string            `json:"identifier"`
	Signer         identity.Identity `json:"signer"`
	EncryptedCID   string            `json:"encrypted_cid"`
	ExtraInfo      []byte            `json:"extra_info,omitempty"`
}

type CreateRequest struct {
	Identifier         string
	CID                string
	EncryptedCID       string
	DescriptionCID     string
	Constraints        []Constraint
	CompletionCallback string
	SignatureCallback  string
	ExtraInfo          []byte
}

type SignRequest struct {
	AgreementOwner identity.Identity
	AgreementIndex uint64
	Identifier     string
	EncryptedCID   string
	ExtraInfo      []byte
}
