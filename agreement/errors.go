package agreement

import "errors"

var (
	ErrNotFound         = errors.New("agreement: not found")
	ErrInvalidState     = errors.New("agreement is not PENDING")
	ErrAlreadySatisfied = errors.New("signature already gathered")
	ErrOutOfRange       = errors.New("agreement: start index out of range")
	ErrInvalidAgreement = errors.New("agreement: invalid agreement")
	ErrUnknownCallback  = errors.New("agreement: unknown callback")
)
