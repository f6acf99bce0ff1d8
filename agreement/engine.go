package agreement

import (
	"fmt"
	"strings"

	"github.com/gregorybednov/pactchain/identity"
	"github.com/gregorybednov/pactchain/kv"
)

// Engine runs agreement creation and signing against a kv.Store.
// Every mutating call stages its writes and flushes them only on success,
// so a failed call leaves the store untouched.
type Engine struct {
	store     kv.Store
	callbacks CallbackResolver
}

func NewEngine(store kv.Store, callbacks CallbackResolver) *Engine {
	if callbacks == nil {
		callbacks = NoCallbacks{}
	}
	return &Engine{store: store, callbacks: callbacks}
}

func validateCreate(req CreateRequest) error {
	if len(req.Constraints) == 0 {
		return fmt.Errorf("%w: at least one constraint is required", ErrInvalidAgreement)
	}
	for i, c := range req.Constraints {
		if strings.TrimSpace(c.Identifier) == "" {
			return fmt.Errorf("%w: constraint %d has no identifier", ErrInvalidAgreement, i)
		}
		if c.AllowedToUse == 0 {
			return fmt.Errorf("%w: constraint %q must allow at least one use", ErrInvalidAgreement, c.Identifier)
		}
	}
	return nil
}

// CreateAgreement appends a PENDING agreement to owner's list and returns its index.
func (e *Engine) CreateAgreement(owner identity.Identity, req CreateRequest) (uint64, error) {
	if err := validateCreate(req); err != nil {
		return 0, err
	}

	buf := kv.NewBuffer(e.store)
	if _, err := e.callbacks.CompletionCallback(buf, req.CompletionCallback); err != nil {
		return 0, fmt.Errorf("completion callback %q: %w", req.CompletionCallback, err)
	}
	if _, err := e.callbacks.SignatureCallback(buf, req.SignatureCallback); err != nil {
		return 0, fmt.Errorf("signature callback %q: %w", req.SignatureCallback, err)
	}

	repo := repository{st: buf}
	index, err := repo.agreementCount(owner)
	if err != nil {
		return 0, err
	}

	constraints := make([]Constraint, len(req.Constraints))
	for i, c := range req.Constraints {
		constraints[i] = Constraint{
			Identifier:   c.Identifier,
			Signer:       c.Signer,
			AllowedToUse: c.AllowedToUse,
		}
	}

	a := Agreement{
		Owner:              owner,
		Index:              index,
		Identifier:         req.Identifier,
		CID:                req.CID,
		EncryptedCID:       req.EncryptedCID,
		DescriptionCID:     req.DescriptionCID,
		Constraints:        constraints,
		Status:             StatusPending,
		TotalPackets:       uint64(len(constraints)),
		CompletionCallback: req.CompletionCallback,
		SignatureCallback:  req.SignatureCallback,
		ExtraInfo:          req.ExtraInfo,
	}
	if err := repo.put(a); err != nil {
		return 0, err
	}
	if err := repo.setCounter(agreementCountKey(owner), index+1); err != nil {
		return 0, err
	}
	return index, buf.Flush()
}

// Sign satisfies one use of the first matching constraint on behalf of signer.
func (e *Engine) Sign(signer identity.Identity, req SignRequest) (Signature, error) {
	buf := kv.NewBuffer(e.store)
	repo := repository{st: buf}

	a, err := repo.get(req.AgreementOwner, req.AgreementIndex)
	if err != nil {
		return Signature{}, err
	}
	if a.Status != StatusPending {
		return Signature{}, ErrInvalidState
	}

	slot := -1
	for i, c := range a.Constraints {
		if c.admits(req.Identifier, signer) {
			slot = i
			break
		}
	}
	if slot < 0 {
		return Signature{}, ErrAlreadySatisfied
	}

	c := &a.Constraints[slot]
	c.TotalUsed++
	c.SignedBy = append(c.SignedBy, signer)
	a.SignedPackets++

	sig, err := repo.appendSignature(Signature{
		AgreementOwner: a.Owner,
		AgreementIndex: a.Index,
		Identifier:     req.Identifier,
		Signer:         signer,
		EncryptedCID:   req.EncryptedCID,
		ExtraInfo:      req.ExtraInfo,
	})
	if err != nil {
		return Signature{}, err
	}
	a.Signatures = append(a.Signatures, sig.Index)

	onSign, err := e.callbacks.SignatureCallback(buf, a.SignatureCallback)
	if err != nil {
		return Signature{}, fmt.Errorf("signature callback %q: %w", a.SignatureCallback, err)
	}
	if err := onSign.OnSign(sig); err != nil {
		return Signature{}, fmt.Errorf("signature callback %q: %w", a.SignatureCallback, err)
	}

	if a.SignedPackets == a.TotalPackets {
		a.Status = StatusComplete
		onComplete, err := e.callbacks.CompletionCallback(buf, a.CompletionCallback)
		if err != nil {
			return Signature{}, fmt.Errorf("completion callback %q: %w", a.CompletionCallback, err)
		}
		if err := onComplete.OnComplete(a.Owner, a.Index, a.ExtraInfo); err != nil {
			return Signature{}, fmt.Errorf("completion callback %q: %w", a.CompletionCallback, err)
		}
	}

	if err := repo.put(a); err != nil {
		return Signature{}, err
	}
	return sig, buf.Flush()
}

func (e *Engine) Agreement(owner identity.Identity, index uint64) (Agreement, error) {
	return repository{st: e.store}.get(owner, index)
}

func (e *Engine) AgreementCount(owner identity.Identity) (uint64, error) {
	return repository{st: e.store}.agreementCount(owner)
}

// Agreements returns owner's agreements in [start, start+count), truncated to
// what exists. A start equal to the length yields an empty slice.
func (e *Engine) Agreements(owner identity.Identity, start, count uint64) ([]Agreement, error) {
	repo := repository{st: e.store}
	length, err := repo.agreementCount(owner)
	if err != nil {
		return nil, err
	}
	from, to, err := window(start, count, length)
	if err != nil {
		return nil, err
	}
	out := make([]Agreement, 0, to-from)
	for i := from; i < to; i++ {
		a, err := repo.get(owner, i)
		if err != nil {
			return nil, fmt.Errorf("agreement %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (e *Engine) SignatureCount() (uint64, error) {
	return repository{st: e.store}.signatureCount()
}

// Signatures reads the global signature sequence in [start, start+count).
func (e *Engine) Signatures(start, count uint64) ([]Signature, error) {
	repo := repository{st: e.store}
	length, err := repo.signatureCount()
	if err != nil {
		return nil, err
	}
	from, to, err := window(start, count, length)
	if err != nil {
		return nil, err
	}
	out := make([]Signature, 0, to-from)
	for i := from; i < to; i++ {
		s, err := repo.signature(i)
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// AgreementSignatures returns the signatures recorded on one agreement, in signing order.
func (e *Engine) AgreementSignatures(owner identity.Identity, index uint64) ([]Signature, error) {
	repo := repository{st: e.store}
	a, err := repo.get(owner, index)
	if err != nil {
		return nil, err
	}
	out := make([]Signature, 0, len(a.Signatures))
	for _, n := range a.Signatures {
		s, err := repo.signature(n)
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", n, err)
		}
		out = append(out, s)
	}
	return out, nil
}
