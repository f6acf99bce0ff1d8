package agreement

import (
	"github.com/gregorybednov/pactchain/identity"
	"github.com/gregorybednov/pactchain/kv"
)

// CompletionCallback is invoked exactly once, when an agreement reaches COMPLETE.
// A returned error aborts the signing operation.
type CompletionCallback interface {
	OnComplete(owner identity.Identity, index uint64, extraInfo []byte) error
}

// SignatureCallback is invoked for every signature recorded on an agreement.
type SignatureCallback interface {
	OnSign(sig Signature) error
}

// CallbackResolver looks up callbacks by their registered name. The store
// passed in is the one the current operation writes to, so callback side
// effects commit or roll back together with the signature.
type CallbackResolver interface {
	CompletionCallback(st kv.Store, name string) (CompletionCallback, error)
	SignatureCallback(st kv.Store, name string) (SignatureCallback, error)
}

// Noop satisfies both callback interfaces and does nothing.
type Noop struct{}

func (Noop) OnComplete(identity.Identity, uint64, []byte) error { return nil }
func (Noop) OnSign(Signature) error                             { return nil }

// NoCallbacks resolves only the empty name.
type NoCallbacks struct{}

func (NoCallbacks) CompletionCallback(_ kv.Store, name string) (CompletionCallback, error) {
	if name != "" {
		return nil, ErrUnknownCallback
	}
	return Noop{}, nil
}

func (NoCallbacks) SignatureCallback(_ kv.Store, name string) (SignatureCallback, error) {
	if name != "" {
		return nil, ErrUnknownCallback
	}
	return Noop{}, nil
}
