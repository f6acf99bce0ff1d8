package dealgate

import (
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/gregorybednov/pactchain/identity"
)

var logger = logging.Logger("dealgate")

const (
	ReasonClientMissing   = "Client is missing required NFT"
	ReasonProviderMissing = "Provider is missing required NFT"
	ReasonClientWrong     = "Client does not own the right NFT"
	ReasonProviderWrong   = "Provider does not own the right NFT"
)

type PolicyKind string

const (
	PolicyProviderOnly PolicyKind = "provider"
	PolicyClientOnly   PolicyKind = "client"
	PolicyBoth         PolicyKind = "both"
	PolicyAttribute    PolicyKind = "attribute"
)

type Policy struct {
	Kind              PolicyKind
	TokenID           uint64
	ClientAttribute   string
	ProviderAttribute string
}

func (p Policy) Validate() error {
	switch p.Kind {
	case PolicyProviderOnly, PolicyClientOnly, PolicyBoth:
		return nil
	case PolicyAttribute:
		if p.ClientAttribute == "" || p.ProviderAttribute == "" {
			return errors.New("attribute policy needs both client and provider attributes")
		}
		return nil
	}
	return errors.Errorf("unknown policy %q", p.Kind)
}

// Registry answers credential ownership questions for the gate.
type Registry interface {
	IsOwner(owner identity.Identity, tokenID uint64) (bool, error)
	BalanceOf(owner identity.Identity) (uint64, error)
	FindByAttribute(owner identity.Identity, attribute string) (bool, error)
}

// RejectionError is a negative authorization decision. It is an expected
// outcome, not a fault.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return e.Reason }

func reject(reason string) error { return &RejectionError{Reason: reason} }

// Reason extracts the rejection reason from err, if it carries one.
func Reason(err error) (string, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

// Gate decides whether a storage deal may proceed. It never mutates state.
type Gate struct {
	registry Registry
	policy   Policy
}

func NewGate(registry Registry, policy Policy) (*Gate, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Gate{registry: registry, policy: policy}, nil
}

// Authorize returns the decoded proposal when the deal is accepted. A nil
// error means accept; a *RejectionError carries the reason otherwise.
func (g *Gate) Authorize(method uint64, rawParams []byte) (DealProposal, error) {
	if method != AuthenticateMessageMethod {
		logger.Debugw("rejecting unsupported method", "method", method)
		return DealProposal{}, errors.Wrapf(ErrUnsupportedMethod, "method %d", method)
	}
	proposal, err := Decode(rawParams)
	if err != nil {
		logger.Infow("rejecting malformed proposal", "err", err)
		return DealProposal{}, err
	}
	if err := g.check(proposal); err != nil {
		log := logger.With("client", proposal.Client.String(), "provider", proposal.Provider.String(), "policy", string(g.policy.Kind))
		if reason, ok := Reason(err); ok {
			log.Infow("deal rejected", "reason", reason)
		} else {
			log.Errorw("deal check failed", "err", err)
		}
		return proposal, err
	}
	logger.Debugw("deal accepted", "client", proposal.Client.String(), "provider", proposal.Provider.String(), "piece", proposal.PieceCID.String())
	return proposal, nil
}

func (g *Gate) check(p DealProposal) error {
	switch g.policy.Kind {
	case PolicyProviderOnly:
		return g.requireToken(p.Provider, ReasonProviderMissing)
	case PolicyClientOnly:
		return g.requireToken(p.Client, ReasonClientMissing)
	case PolicyBoth:
		return g.requireAny(p)
	case PolicyAttribute:
		if err := g.requireAny(p); err != nil {
			return err
		}
		if err := g.requireAttribute(p.Client, g.policy.ClientAttribute, ReasonClientWrong); err != nil {
			return err
		}
		return g.requireAttribute(p.Provider, g.policy.ProviderAttribute, ReasonProviderWrong)
	}
	return errors.Errorf("unknown policy %q", g.policy.Kind)
}

func (g *Gate) requireToken(who identity.Identity, reason string) error {
	ok, err := g.registry.IsOwner(who, g.policy.TokenID)
	if err != nil {
		return errors.Wrap(err, "failed to check token owner")
	}
	if !ok {
		return reject(reason)
	}
	return nil
}

// requireAny checks the client before the provider.
func (g *Gate) requireAny(p DealProposal) error {
	for _, party := range []struct {
		who    identity.Identity
		reason string
	}{{p.Client, ReasonClientMissing}, {p.Provider, ReasonProviderMissing}} {
		n, err := g.registry.BalanceOf(party.who)
		if err != nil {
			return errors.Wrap(err, "failed to get balance")
		}
		if n == 0 {
			return reject(party.reason)
		}
	}
	return nil
}

func (g *Gate) requireAttribute(who identity.Identity, attribute, reason string) error {
	ok, err := g.registry.FindByAttribute(who, attribute)
	if err != nil {
		return errors.Wrap(err, "failed to find credential by attribute")
	}
	if !ok {
		return reject(reason)
	}
	return nil
}
