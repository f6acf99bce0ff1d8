package dealgate

import (
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

type proposalWire struct {
	_                    struct{} `cbor:",toarray"`
	PieceCID             cbor.Tag
	PieceSize            uint64
	VerifiedDeal         bool
	Client               []byte
	Provider             []byte
	Label                interface{}
	StartEpoch           int64
	EndEpoch             int64
	StoragePricePerEpoch []byte
	ProviderCollateral   []byte
	ClientCollateral     []byte
}

type paramsWire struct {
	_         struct{} `cbor:",toarray"`
	Signature []byte
	Message   []byte
}

func amountBytes(amt abi.TokenAmount) ([]byte, error) {
	if amt.Int == nil {
		amt = big.Zero()
	}
	return amt.Bytes()
}

// EncodeProposal produces the CBOR layout DecodeProposal reads.
func EncodeProposal(p DealProposal) ([]byte, error) {
	w := proposalWire{
		PieceCID:     cbor.Tag{Number: cidTag, Content: append([]byte{cidPrefix}, p.PieceCID.Bytes()...)},
		PieceSize:    uint64(p.PieceSize),
		VerifiedDeal: p.VerifiedDeal,
		Client:       p.Client.Bytes(),
		Provider:     p.Provider.Bytes(),
		StartEpoch:   int64(p.StartEpoch),
		EndEpoch:     int64(p.EndEpoch),
	}
	if p.LabelIsBytes {
		w.Label = []byte(p.Label)
	} else {
		w.Label = p.Label
	}

	var err error
	if w.StoragePricePerEpoch, err = amountBytes(p.StoragePricePerEpoch); err != nil {
		return nil, errors.Wrap(err, "storage price per epoch")
	}
	if w.ProviderCollateral, err = amountBytes(p.ProviderCollateral); err != nil {
		return nil, errors.Wrap(err, "provider collateral")
	}
	if w.ClientCollateral, err = amountBytes(p.ClientCollateral); err != nil {
		return nil, errors.Wrap(err, "client collateral")
	}
	out, err := cbor.Marshal(w)
	return out, errors.Wrap(err, "failed to encode proposal")
}

// EncodeAuthenticateParams wraps an encoded proposal as AuthenticateMessage params.
func EncodeAuthenticateParams(signature, message []byte) ([]byte, error) {
	if signature == nil {
		signature = []byte{}
	}
	if message == nil {
		message = []byte{}
	}
	out, err := cbor.Marshal(paramsWire{Signature: signature, Message: message})
	return out, errors.Wrap(err, "failed to encode params")
}
