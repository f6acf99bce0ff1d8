package dealgate

import (
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"

	"github.com/gregorybednov/pactchain/identity"
)

// AuthenticateMessageMethod is the FRC-42 method number of AuthenticateMessage.
const AuthenticateMessageMethod uint64 = 2643134072

const (
	proposalFields = 11
	cidTag         = 42
	// cidPrefix is the identity multibase prefix carried inside tag 42.
	cidPrefix byte = 0x00

	// minProposalLength is the smallest well-formed proposal: array head,
	// tag head, one-byte cid blob head and prefix, two 20-byte identities
	// with their heads and one byte for every remaining scalar field.
	minProposalLength = 1 + 2 + 2 + 1 + 1 + 2*(1+identity.Length) + 1 + 1 + 1 + 3
)

var (
	ErrMalformedProposal = errors.New("malformed deal proposal")
	ErrUnsupportedMethod = errors.New("unsupported method")
)

type DealProposal struct {
	PieceCID             cid.Cid
	PieceSize            abi.PaddedPieceSize
	VerifiedDeal         bool
	Client               identity.Identity
	Provider             identity.Identity
	Label                string
	LabelIsBytes         bool
	StartEpoch           abi.ChainEpoch
	EndEpoch             abi.ChainEpoch
	StoragePricePerEpoch abi.TokenAmount
	ProviderCollateral   abi.TokenAmount
	ClientCollateral     abi.TokenAmount
}

// AuthenticateParams is the two-element parameter array of AuthenticateMessage.
type AuthenticateParams struct {
	Signature []byte
	Message   []byte
}

// Decode parses AuthenticateMessage params and the deal proposal they carry.
func Decode(rawParams []byte) (DealProposal, error) {
	params, err := DecodeAuthenticateParams(rawParams)
	if err != nil {
		return DealProposal{}, err
	}
	return DecodeProposal(params.Message)
}

func DecodeAuthenticateParams(raw []byte) (AuthenticateParams, error) {
	var p AuthenticateParams
	r := &reader{buf: raw}
	if err := r.arrayOf(2); err != nil {
		return p, errors.Wrap(err, "params")
	}
	var err error
	if p.Signature, err = r.bytes(); err != nil {
		return p, errors.Wrap(err, "params signature")
	}
	if p.Message, err = r.bytes(); err != nil {
		return p, errors.Wrap(err, "params message")
	}
	return p, errors.Wrap(r.done(), "params")
}

// DecodeProposal parses a CBOR-encoded deal proposal. It never reads past
// the end of buf and rejects trailing bytes.
func DecodeProposal(buf []byte) (DealProposal, error) {
	var p DealProposal
	if len(buf) < minProposalLength {
		return p, errors.Wrapf(ErrMalformedProposal, "proposal is %d bytes, need at least %d", len(buf), minProposalLength)
	}
	r := &reader{buf: buf}
	if err := r.arrayOf(proposalFields); err != nil {
		return p, err
	}

	var err error
	if p.PieceCID, err = readPieceCID(r); err != nil {
		return p, errors.Wrap(err, "piece cid")
	}
	size, err := r.uint()
	if err != nil {
		return p, errors.Wrap(err, "piece size")
	}
	p.PieceSize = abi.PaddedPieceSize(size)
	if p.VerifiedDeal, err = r.bool(); err != nil {
		return p, errors.Wrap(err, "verified deal")
	}
	if p.Client, err = readIdentity(r); err != nil {
		return p, errors.Wrap(err, "client")
	}
	if p.Provider, err = readIdentity(r); err != nil {
		return p, errors.Wrap(err, "provider")
	}
	if p.Label, p.LabelIsBytes, err = r.textOrBytes(); err != nil {
		return p, errors.Wrap(err, "label")
	}
	start, err := r.int()
	if err != nil {
		return p, errors.Wrap(err, "start epoch")
	}
	p.StartEpoch = abi.ChainEpoch(start)
	end, err := r.int()
	if err != nil {
		return p, errors.Wrap(err, "end epoch")
	}
	p.EndEpoch = abi.ChainEpoch(end)
	if p.StoragePricePerEpoch, err = readAmount(r); err != nil {
		return p, errors.Wrap(err, "storage price per epoch")
	}
	if p.ProviderCollateral, err = readAmount(r); err != nil {
		return p, errors.Wrap(err, "provider collateral")
	}
	if p.ClientCollateral, err = readAmount(r); err != nil {
		return p, errors.Wrap(err, "client collateral")
	}
	return p, r.done()
}

func readPieceCID(r *reader) (cid.Cid, error) {
	if err := r.tag(cidTag); err != nil {
		return cid.Undef, err
	}
	raw, err := r.bytes()
	if err != nil {
		return cid.Undef, err
	}
	if len(raw) == 0 || raw[0] != cidPrefix {
		return cid.Undef, errors.Wrap(ErrMalformedProposal, "missing multibase prefix")
	}
	c, err := cid.Cast(raw[1:])
	if err != nil {
		return cid.Undef, errors.Wrapf(ErrMalformedProposal, "invalid cid: %v", err)
	}
	return c, nil
}

func readIdentity(r *reader) (identity.Identity, error) {
	raw, err := r.bytes()
	if err != nil {
		return identity.Identity{}, err
	}
	id, err := identity.FromBytes(raw)
	if err != nil {
		return id, errors.Wrap(ErrMalformedProposal, err.Error())
	}
	return id, nil
}

func readAmount(r *reader) (abi.TokenAmount, error) {
	raw, err := r.bytes()
	if err != nil {
		return big.Zero(), err
	}
	amt, err := big.FromBytes(raw)
	if err != nil {
		return big.Zero(), errors.Wrapf(ErrMalformedProposal, "invalid amount: %v", err)
	}
	return amt, nil
}
