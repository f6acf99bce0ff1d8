package blockchain

import (
	"errors"

	"github.com/gregorybednov/pactchain/agreement"
	"github.com/gregorybednov/pactchain/credential"
	"github.com/gregorybednov/pactchain/dealgate"
)

const Codespace = "pactchain"

const (
	CodeOK uint32 = iota
	CodeBadEnvelope
	CodeInvalidArgument
	CodeNotFound
	CodeInvalidState
	CodeAlreadySatisfied
	CodeOutOfRange
	CodeUnknownCallback
	CodeUnsupportedMethod
	CodeMalformedProposal
	CodeRejected
	CodeBadNonce

	CodeInternal uint32 = 100
)

var (
	errBadEnvelope     = errors.New("invalid tx envelope")
	errInvalidArgument = errors.New("invalid argument")
	errBadNonce        = errors.New("invalid nonce")
)

// codeFor maps an error to its response code.
func codeFor(err error) uint32 {
	if _, ok := dealgate.Reason(err); ok {
		return CodeRejected
	}
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, errBadEnvelope):
		return CodeBadEnvelope
	case errors.Is(err, errInvalidArgument), errors.Is(err, agreement.ErrInvalidAgreement):
		return CodeInvalidArgument
	case errors.Is(err, agreement.ErrNotFound), errors.Is(err, credential.ErrTokenNotFound):
		return CodeNotFound
	case errors.Is(err, agreement.ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, agreement.ErrAlreadySatisfied):
		return CodeAlreadySatisfied
	case errors.Is(err, agreement.ErrOutOfRange):
		return CodeOutOfRange
	case errors.Is(err, agreement.ErrUnknownCallback):
		return CodeUnknownCallback
	case errors.Is(err, dealgate.ErrUnsupportedMethod):
		return CodeUnsupportedMethod
	case errors.Is(err, dealgate.ErrMalformedProposal):
		return CodeMalformedProposal
	case errors.Is(err, errBadNonce):
		return CodeBadNonce
	}
	return CodeInternal
}
