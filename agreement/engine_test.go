package agreement

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregorybednov/pactchain/identity"
	"github.com/gregorybednov/pactchain/kv"
)

var (
	owner = mustIdentity("0x1000000000000000000000000000000000000001")
	alice = mustIdentity("0x2000000000000000000000000000000000000002")
	bob   = mustIdentity("0x3000000000000000000000000000000000000003")
)

func mustIdentity(s string) identity.Identity {
	id, err := identity.Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

type completion struct {
	owner     identity.Identity
	index     uint64
	extraInfo []byte
}

type recordingCallbacks struct {
	completions []completion
	signatures  []Signature
}

func (r *recordingCallbacks) CompletionCallback(_ kv.Store, name string) (CompletionCallback, error) {
	switch name {
	case "":
		return Noop{}, nil
	case "record", "fail":
		return completionFunc(func(o identity.Identity, i uint64, extra []byte) error {
			if name == "fail" {
				return errors.New("mint failed")
			}
			r.completions = append(r.completions, completion{o, i, extra})
			return nil
		}), nil
	}
	return nil, ErrUnknownCallback
}

func (r *recordingCallbacks) SignatureCallback(_ kv.Store, name string) (SignatureCallback, error) {
	switch name {
	case "":
		return Noop{}, nil
	case "record":
		return signatureFunc(func(s Signature) error {
			r.signatures = append(r.signatures, s)
			return nil
		}), nil
	}
	return nil, ErrUnknownCallback
}

type completionFunc func(identity.Identity, uint64, []byte) error

func (f completionFunc) OnComplete(o identity.Identity, i uint64, extra []byte) error {
	return f(o, i, extra)
}

type signatureFunc func(Signature) error

func (f signatureFunc) OnSign(s Signature) error { return f(s) }

func assertPacketInvariants(t *testing.T, a Agreement) {
	t.Helper()
	assert.LessOrEqual(t, a.SignedPackets, a.TotalPackets)
	assert.Equal(t, a.Status == StatusComplete, a.SignedPackets == a.TotalPackets)
	for _, c := range a.Constraints {
		assert.LessOrEqual(t, c.TotalUsed, c.AllowedToUse)
	}
}

func taxAgreement(callback string) CreateRequest {
	return CreateRequest{
		Identifier:     "lease",
		CID:            "bafy-contract",
		EncryptedCID:   "bafy-encrypted",
		DescriptionCID: "bafy-description",
		Constraints: []Constraint{
			{Identifier: "tax payer", Signer: identity.Wildcard, AllowedToUse: 1},
			{Identifier: "manager", Signer: alice, AllowedToUse: 1},
		},
		CompletionCallback: callback,
		ExtraInfo:          []byte("proof-uri"),
	}
}

func TestCreateAgreement(t *testing.T) {
	e := NewEngine(kv.Memory{}, nil)

	index, err := e.CreateAgreement(owner, taxAgreement(""))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), index)

	index, err = e.CreateAgreement(owner, taxAgreement(""))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), index)

	a, err := e.Agreement(owner, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, uint64(0), a.SignedPackets)
	assert.Equal(t, uint64(2), a.TotalPackets)
	assert.Equal(t, owner, a.Owner)
	assertPacketInvariants(t, a)
}

func TestCreateAgreementValidation(t *testing.T) {
	e := NewEngine(kv.Memory{}, nil)

	_, err := e.CreateAgreement(owner, CreateRequest{Identifier: "empty"})
	assert.ErrorIs(t, err, ErrInvalidAgreement)

	_, err = e.CreateAgreement(owner, CreateRequest{Constraints: []Constraint{{Identifier: "x"}}})
	assert.ErrorIs(t, err, ErrInvalidAgreement)

	_, err = e.CreateAgreement(owner, taxAgreement("mint-everything"))
	assert.ErrorIs(t, err, ErrUnknownCallback)

	n, err := e.AgreementCount(owner)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSignCompletesAgreement(t *testing.T) {
	cb := &recordingCallbacks{}
	e := NewEngine(kv.Memory{}, cb)
	index, err := e.CreateAgreement(owner, taxAgreement("record"))
	require.NoError(t, err)

	sig, err := e.Sign(bob, SignRequest{AgreementOwner: owner, AgreementIndex: index, Identifier: "tax payer", EncryptedCID: "enc-bob"})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), sig.Index)
	assert.Equal(t, bob, sig.Signer)

	a, err := e.Agreement(owner, index)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, uint64(1), a.SignedPackets)
	assert.Equal(t, []identity.Identity{bob}, a.Constraints[0].SignedBy)
	assertPacketInvariants(t, a)
	assert.Empty(t, cb.completions)

	_, err = e.Sign(alice, SignRequest{AgreementOwner: owner, AgreementIndex: index, Identifier: "manager"})
	require.NoError(t, err)

	a, err = e.Agreement(owner, index)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, a.Status)
	assertPacketInvariants(t, a)
	require.Len(t, cb.completions, 1)
	assert.Equal(t, completion{owner, index, []byte("proof-uri")}, cb.completions[0])

	_, err = e.Sign(alice, SignRequest{AgreementOwner: owner, AgreementIndex: index, Identifier: "manager"})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.EqualError(t, err, "agreement is not PENDING")
	assert.Len(t, cb.completions, 1)
}

func TestSignRejections(t *testing.T) {
	e := NewEngine(kv.Memory{}, nil)
	index, err := e.CreateAgreement(owner, taxAgreement(""))
	require.NoError(t, err)

	_, err = e.Sign(bob, SignRequest{AgreementOwner: owner, AgreementIndex: 7, Identifier: "tax payer"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Sign(bob, SignRequest{AgreementOwner: owner, AgreementIndex: index, Identifier: "manager"})
	assert.ErrorIs(t, err, ErrAlreadySatisfied)

	_, err = e.Sign(bob, SignRequest{AgreementOwner: owner, AgreementIndex: index, Identifier: "auditor"})
	assert.ErrorIs(t, err, ErrAlreadySatisfied)

	_, err = e.Sign(bob, SignRequest{AgreementOwner: owner, AgreementIndex: index, Identifier: "tax payer"})
	require.NoError(t, err)

	_, err = e.Sign(alice, SignRequest{AgreementOwner: owner, AgreementIndex: index, Identifier: "tax payer"})
	assert.ErrorIs(t, err, ErrAlreadySatisfied)
	assert.EqualError(t, err, "signature already gathered")

	a, err := e.Agreement(owner, index)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a.SignedPackets)
	assertPacketInvariants(t, a)
}

func TestQuotaCountsTowardsPackets(t *testing.T) {
	e := NewEngine(kv.Memory{}, nil)
	index, err := e.CreateAgreement(owner, CreateRequest{Constraints: []Constraint{
		{Identifier: "witness", AllowedToUse: 2},
		{Identifier: "judge", Signer: alice, AllowedToUse: 1},
	}})
	require.NoError(t, err)

	for _, signer := range []identity.Identity{alice, bob} {
		_, err = e.Sign(signer, SignRequest{AgreementOwner: owner, AgreementIndex: index, Identifier: "witness"})
		require.NoError(t, err)
	}

	a, err := e.Agreement(owner, index)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, a.Status)
	assert.Equal(t, uint64(0), a.Constraints[1].TotalUsed)
	assertPacketInvariants(t, a)
}

func TestCallbackFailureRollsBack(t *testing.T) {
	cb := &recordingCallbacks{}
	e := NewEngine(kv.Memory{}, cb)
	index, err := e.CreateAgreement(owner, CreateRequest{
		Constraints:        []Constraint{{Identifier: "tax payer", AllowedToUse: 1}},
		CompletionCallback: "fail",
	})
	require.NoError(t, err)

	_, err = e.Sign(bob, SignRequest{AgreementOwner: owner, AgreementIndex: index, Identifier: "tax payer"})
	require.Error(t, err)

	a, err := e.Agreement(owner, index)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, a.Status)
	assert.Zero(t, a.SignedPackets)
	assert.Zero(t, a.Constraints[0].TotalUsed)
	assert.Empty(t, a.Signatures)

	n, err := e.SignatureCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSignatureCallbackAndSequence(t *testing.T) {
	cb := &recordingCallbacks{}
	e := NewEngine(kv.Memory{}, cb)
	req := taxAgreement("")
	req.SignatureCallback = "record"
	first, err := e.CreateAgreement(owner, req)
	require.NoError(t, err)
	second, err := e.CreateAgreement(alice, req)
	require.NoError(t, err)

	_, err = e.Sign(bob, SignRequest{AgreementOwner: owner, AgreementIndex: first, Identifier: "tax payer", ExtraInfo: []byte("a")})
	require.NoError(t, err)
	_, err = e.Sign(bob, SignRequest{AgreementOwner: alice, AgreementIndex: second, Identifier: "tax payer", ExtraInfo: []byte("b")})
	require.NoError(t, err)
	_, err = e.Sign(alice, SignRequest{AgreementOwner: owner, AgreementIndex: first, Identifier: "manager", ExtraInfo: []byte("c")})
	require.NoError(t, err)

	require.Len(t, cb.signatures, 3)
	assert.Equal(t, []byte("b"), cb.signatures[1].ExtraInfo)

	all, err := e.Signatures(0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, s := range all {
		assert.Equal(t, uint64(i), s.Index)
	}

	mine, err := e.AgreementSignatures(owner, first)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, []byte("a"), mine[0].ExtraInfo)
	assert.Equal(t, []byte("c"), mine[1].ExtraInfo)
}

func TestPagination(t *testing.T) {
	e := NewEngine(kv.Memory{}, nil)
	for i := 0; i < 3; i++ {
		_, err := e.CreateAgreement(owner, taxAgreement(""))
		require.NoError(t, err)
	}

	page, err := e.Agreements(owner, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(1), page[1].Index)

	page, err = e.Agreements(owner, 2, 5)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, uint64(2), page[0].Index)

	page, err = e.Agreements(owner, 3, 1)
	require.NoError(t, err)
	assert.Empty(t, page)

	_, err = e.Agreements(owner, 4, 1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	page, err = e.Agreements(bob, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	_, err = e.Signatures(1, 1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
