package credential

import (
	"fmt"

	"github.com/gregorybednov/pactchain/agreement"
	"github.com/gregorybednov/pactchain/identity"
	"github.com/gregorybednov/pactchain/kv"
)

// CallbackName is the registered name agreements use to request credential minting.
const CallbackName = "credential"

// AgreementCollection names the per-agreement collection that signers receive credentials in.
func AgreementCollection(owner identity.Identity, index uint64) string {
	return fmt.Sprintf("agreement-%s-%d", owner, index)
}

// Callbacks resolves the credential-minting callbacks for the agreement engine.
type Callbacks struct {
	// ProofCollection receives one credential per completed agreement.
	ProofCollection string
}

func (c Callbacks) CompletionCallback(st kv.Store, name string) (agreement.CompletionCallback, error) {
	switch name {
	case "":
		return agreement.Noop{}, nil
	case CallbackName:
		return proofMinter{NewCollection(st, c.ProofCollection)}, nil
	}
	return nil, agreement.ErrUnknownCallback
}

func (c Callbacks) SignatureCallback(st kv.Store, name string) (agreement.SignatureCallback, error) {
	switch name {
	case "":
		return agreement.Noop{}, nil
	case CallbackName:
		return signerMinter{st}, nil
	}
	return nil, agreement.ErrUnknownCallback
}

// proofMinter mints a credential to the owner of a completed agreement.
type proofMinter struct {
	collection *Collection
}

func (m proofMinter) OnComplete(owner identity.Identity, _ uint64, extraInfo []byte) error {
	_, err := m.collection.Mint(owner, string(extraInfo))
	return err
}

// signerMinter mints a credential to each signer in the agreement's own collection.
type signerMinter struct {
	st kv.Store
}

func (m signerMinter) OnSign(sig agreement.Signature) error {
	coll := NewCollection(m.st, AgreementCollection(sig.AgreementOwner, sig.AgreementIndex))
	_, err := coll.Mint(sig.Signer, string(sig.ExtraInfo))
	return err
}
