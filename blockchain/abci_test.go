package blockchain

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	abci "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/libs/log"
	tmproto "github.com/tendermint/tendermint/proto/tendermint/types"

	"github.com/gregorybednov/pactchain/agreement"
	"github.com/gregorybednov/pactchain/blockchain/types"
	"github.com/gregorybednov/pactchain/cfg"
	"github.com/gregorybednov/pactchain/credential"
	"github.com/gregorybednov/pactchain/dealgate"
	"github.com/gregorybednov/pactchain/identity"
)

type party struct {
	priv  ed25519.PrivateKey
	id    identity.Identity
	nonce uint64
}

func newParty(t *testing.T) *party {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	id, err := identity.FromPubKey(pub)
	require.NoError(t, err)
	return &party{priv: priv, id: id}
}

// tx signs body with the party key. Bodies are built by the callers with
// the nonce taken from p, which is then advanced.
func (p *party) tx(t *testing.T, body any) []byte {
	raw, err := types.NewSignedTx(p.priv, body)
	require.NoError(t, err)
	p.nonce++
	return raw
}

func (p *party) create(t *testing.T, constraints ...types.ConstraintBody) []byte {
	return p.tx(t, types.CreateAgreementTxBody{
		Type:               types.TxCreateAgreement,
		Nonce:              p.nonce,
		Identifier:         "contract",
		CID:                "bafycontract",
		EncryptedCID:       "bafyencrypted",
		DescriptionCID:     "bafydescription",
		Constraints:        constraints,
		CompletionCallback: credential.CallbackName,
		SignatureCallback:  credential.CallbackName,
		ExtraInfo:          []byte("proof"),
	})
}

func (p *party) sign(t *testing.T, owner identity.Identity, index uint64, role string) []byte {
	return p.tx(t, types.SignTxBody{
		Type:           types.TxSign,
		Nonce:          p.nonce,
		AgreementOwner: owner.String(),
		AgreementIndex: index,
		Identifier:     role,
		EncryptedCID:   "bafysigned",
		ExtraInfo:      []byte("signed-" + role),
	})
}

func newTestApp(t *testing.T, dir string) *AgreementApp {
	db, err := OpenBadger(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	app, err := NewAgreementApp(db, cfg.DefaultAppConfig(), log.NewNopLogger())
	require.NoError(t, err)
	return app
}

func block(app *AgreementApp, height int64, txs ...[]byte) []abci.ResponseDeliverTx {
	app.BeginBlock(abci.RequestBeginBlock{Header: tmproto.Header{Height: height}})
	res := make([]abci.ResponseDeliverTx, 0, len(txs))
	for _, tx := range txs {
		res = append(res, app.DeliverTx(abci.RequestDeliverTx{Tx: tx}))
	}
	app.Commit()
	return res
}

func query(app *AgreementApp, path string, data []byte) abci.ResponseQuery {
	return app.Query(abci.RequestQuery{Path: path, Data: data})
}

func eventTypes(events []abci.Event) []string {
	var out []string
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func queryAgreement(t *testing.T, app *AgreementApp, owner identity.Identity, index uint64) agreement.Agreement {
	res := query(app, "agreement/"+owner.String()+"/"+strconv.FormatUint(index, 10), nil)
	require.Equal(t, CodeOK, res.Code, res.Log)
	var a agreement.Agreement
	require.NoError(t, json.Unmarshal(res.Value, &a))
	return a
}

func TestAgreementLifecycle(t *testing.T) {
	app := newTestApp(t, t.TempDir())
	owner, counterparty := newParty(t), newParty(t)

	res := block(app, 1, owner.create(t, types.ConstraintBody{
		Identifier:   "counterparty",
		Signer:       counterparty.id.String(),
		AllowedToUse: 1,
	}))
	require.Equal(t, CodeOK, res[0].Code, res[0].Log)
	assert.Equal(t, []string{"agreement_created"}, eventTypes(res[0].Events))

	a := queryAgreement(t, app, owner.id, 0)
	assert.Equal(t, agreement.StatusPending, a.Status)
	assert.Equal(t, uint64(0), a.SignedPackets)
	assert.Equal(t, uint64(1), a.TotalPackets)

	res = block(app, 2, counterparty.sign(t, owner.id, 0, "counterparty"))
	require.Equal(t, CodeOK, res[0].Code, res[0].Log)
	assert.Equal(t, []string{"agreement_signed", "agreement_completed"}, eventTypes(res[0].Events))

	a = queryAgreement(t, app, owner.id, 0)
	assert.Equal(t, agreement.StatusComplete, a.Status)
	assert.Equal(t, uint64(1), a.SignedPackets)
	assert.Equal(t, []uint64{0}, a.Signatures)

	bal := query(app, "credential/balance/"+cfg.DefaultProofCollection+"/"+owner.id.String(), nil)
	require.Equal(t, CodeOK, bal.Code, bal.Log)
	assert.Equal(t, "1", string(bal.Value))

	found := query(app, "credential/find/"+cfg.DefaultProofCollection+"/"+owner.id.String(), []byte("proof"))
	require.Equal(t, CodeOK, found.Code, found.Log)
	assert.Equal(t, "true", string(found.Value))

	tok := query(app, "credential/owner/"+credential.AgreementCollection(owner.id, 0)+"/0", nil)
	require.Equal(t, CodeOK, tok.Code, tok.Log)
	var c credential.Credential
	require.NoError(t, json.Unmarshal(tok.Value, &c))
	assert.Equal(t, counterparty.id, c.Owner)
	assert.Equal(t, "signed-counterparty", c.Attribute)

	sigs := query(app, "agreement-signatures/"+owner.id.String()+"/0", nil)
	require.Equal(t, CodeOK, sigs.Code, sigs.Log)
	var list []agreement.Signature
	require.NoError(t, json.Unmarshal(sigs.Value, &list))
	require.Len(t, list, 1)
	assert.Equal(t, counterparty.id, list[0].Signer)

	res = block(app, 3, counterparty.sign(t, owner.id, 0, "counterparty"))
	assert.Equal(t, CodeInvalidState, res[0].Code)
}

func TestAlreadySatisfiedAndRestrictedSigner(t *testing.T) {
	app := newTestApp(t, t.TempDir())
	owner, payer, stranger := newParty(t), newParty(t), newParty(t)

	res := block(app, 1, owner.create(t,
		types.ConstraintBody{Identifier: "payer", Signer: payer.id.String(), AllowedToUse: 1},
		types.ConstraintBody{Identifier: "witness", AllowedToUse: 1},
	))
	require.Equal(t, CodeOK, res[0].Code, res[0].Log)

	res = block(app, 2,
		payer.sign(t, owner.id, 0, "payer"),
		stranger.sign(t, owner.id, 0, "payer"),
		payer.sign(t, owner.id, 0, "payer"),
	)
	assert.Equal(t, CodeOK, res[0].Code, res[0].Log)
	assert.Equal(t, CodeAlreadySatisfied, res[1].Code)
	assert.Equal(t, CodeAlreadySatisfied, res[2].Code)

	a := queryAgreement(t, app, owner.id, 0)
	assert.Equal(t, agreement.StatusPending, a.Status)
	assert.Equal(t, uint64(1), a.SignedPackets)
}

func TestEnvelopeRejections(t *testing.T) {
	app := newTestApp(t, t.TempDir())
	owner := newParty(t)

	t.Run("garbage", func(t *testing.T) {
		res := app.CheckTx(abci.RequestCheckTx{Tx: []byte("not json")})
		assert.Equal(t, CodeBadEnvelope, res.Code)
		assert.Equal(t, Codespace, res.Codespace)
	})

	t.Run("forged signature", func(t *testing.T) {
		tx := owner.create(t, types.ConstraintBody{Identifier: "anyone", AllowedToUse: 1})
		owner.nonce--
		var env types.SignedTx
		require.NoError(t, json.Unmarshal(tx, &env))
		env.Body = json.RawMessage(`{"type":"create_agreement","nonce":0,"identifier":"forged"}`)
		forged, err := json.Marshal(env)
		require.NoError(t, err)
		res := app.CheckTx(abci.RequestCheckTx{Tx: forged})
		assert.Equal(t, CodeBadEnvelope, res.Code)
	})

	t.Run("unknown type", func(t *testing.T) {
		tx := owner.tx(t, map[string]any{"type": "transfer", "nonce": owner.nonce})
		owner.nonce--
		res := app.CheckTx(abci.RequestCheckTx{Tx: tx})
		assert.Equal(t, CodeBadEnvelope, res.Code)
	})

	t.Run("invalid agreement", func(t *testing.T) {
		tx := owner.create(t)
		owner.nonce--
		res := app.CheckTx(abci.RequestCheckTx{Tx: tx})
		assert.Equal(t, CodeInvalidArgument, res.Code)
	})
}

func TestNonces(t *testing.T) {
	app := newTestApp(t, t.TempDir())
	owner := newParty(t)
	constraint := types.ConstraintBody{Identifier: "anyone", AllowedToUse: 1}

	first := owner.create(t, constraint)
	res := block(app, 1, first, first)
	assert.Equal(t, CodeOK, res[0].Code, res[0].Log)
	assert.Equal(t, CodeBadNonce, res[1].Code)

	n := query(app, "nonce/"+owner.id.String(), nil)
	require.Equal(t, CodeOK, n.Code)
	assert.Equal(t, "1", string(n.Value))

	// The mempool accepts nonces that run ahead of committed state.
	owner.nonce = 5
	ahead := owner.create(t, constraint)
	assert.Equal(t, CodeOK, app.CheckTx(abci.RequestCheckTx{Tx: ahead}).Code)
	res = block(app, 2, ahead)
	assert.Equal(t, CodeBadNonce, res[0].Code)

	// A failed tx still spends its nonce.
	owner.nonce = 1
	res = block(app, 3, owner.sign(t, owner.id, 7, "anyone"))
	assert.Equal(t, CodeNotFound, res[0].Code)
	n = query(app, "nonce/"+owner.id.String(), nil)
	require.Equal(t, CodeOK, n.Code)
	assert.Equal(t, "2", string(n.Value))

	owner.nonce = 1
	res = block(app, 4, owner.create(t, constraint))
	assert.Equal(t, CodeBadNonce, res[0].Code)
	res = block(app, 5, owner.create(t, constraint))
	assert.Equal(t, CodeOK, res[0].Code, res[0].Log)

	count := query(app, "agreements/"+owner.id.String()+"/0/10", nil)
	require.Equal(t, CodeOK, count.Code, count.Log)
	var list []agreement.Agreement
	require.NoError(t, json.Unmarshal(count.Value, &list))
	assert.Len(t, list, 2)
}

func TestQueryErrors(t *testing.T) {
	app := newTestApp(t, t.TempDir())
	owner := newParty(t)

	assert.Equal(t, CodeNotFound, query(app, "agreement/"+owner.id.String()+"/0", nil).Code)
	assert.Equal(t, CodeInvalidArgument, query(app, "agreement/nobody/0", nil).Code)
	assert.Equal(t, CodeInvalidArgument, query(app, "agreement/"+owner.id.String()+"/x", nil).Code)
	assert.Equal(t, CodeInvalidArgument, query(app, "bogus", nil).Code)
	assert.Equal(t, CodeOutOfRange, query(app, "signatures/1/10", nil).Code)

	empty := query(app, "signatures/0/10", nil)
	require.Equal(t, CodeOK, empty.Code, empty.Log)
	assert.Equal(t, "[]", string(empty.Value))
}

func dealParams(t *testing.T, client, provider identity.Identity) []byte {
	raw, err := hex.DecodeString("0181e2039220206b86b273ff34fce19d6b804eff5a3f5747ada4eaa22f1d49c01e52ddb7875b4b")
	require.NoError(t, err)
	piece, err := cid.Cast(raw)
	require.NoError(t, err)

	msg, err := dealgate.EncodeProposal(dealgate.DealProposal{
		PieceCID:             piece,
		PieceSize:            abi.PaddedPieceSize(2048),
		Client:               client,
		Provider:             provider,
		Label:                "label",
		StartEpoch:           10,
		EndEpoch:             576010,
		StoragePricePerEpoch: abi.NewTokenAmount(10),
		ProviderCollateral:   abi.NewTokenAmount(10),
		ClientCollateral:     abi.NewTokenAmount(10),
	})
	require.NoError(t, err)
	params, err := dealgate.EncodeAuthenticateParams(nil, msg)
	require.NoError(t, err)
	return params
}

func TestDealAuthorization(t *testing.T) {
	app := newTestApp(t, t.TempDir())
	client, provider := newParty(t), newParty(t)
	path := "deal/authorize/" + strconv.FormatUint(dealgate.AuthenticateMessageMethod, 10)
	params := dealParams(t, client.id, provider.id)

	res := query(app, path, params)
	assert.Equal(t, CodeRejected, res.Code)
	assert.Equal(t, dealgate.ReasonClientMissing, res.Log)

	// Each party earns a proof credential by completing an agreement.
	block(app, 1,
		client.create(t, types.ConstraintBody{Identifier: "provider", Signer: provider.id.String(), AllowedToUse: 1}),
		provider.create(t, types.ConstraintBody{Identifier: "client", Signer: client.id.String(), AllowedToUse: 1}),
	)
	out := block(app, 2, provider.sign(t, client.id, 0, "provider"))
	require.Equal(t, CodeOK, out[0].Code, out[0].Log)

	res = query(app, path, params)
	assert.Equal(t, CodeRejected, res.Code)
	assert.Equal(t, dealgate.ReasonProviderMissing, res.Log)

	out = block(app, 3, client.sign(t, provider.id, 0, "client"))
	require.Equal(t, CodeOK, out[0].Code, out[0].Log)

	res = query(app, path, params)
	require.Equal(t, CodeOK, res.Code, res.Log)
	assert.Equal(t, "accepted", res.Log)
	var decision DealDecision
	require.NoError(t, json.Unmarshal(res.Value, &decision))
	assert.Equal(t, client.id.String(), decision.Client)
	assert.Equal(t, provider.id.String(), decision.Provider)
	assert.Equal(t, uint64(2048), decision.PieceSize)

	assert.Equal(t, CodeUnsupportedMethod, query(app, "deal/authorize/1", params).Code)
	assert.Equal(t, CodeMalformedProposal, query(app, path, params[:20]).Code)
}

func TestInfoSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	owner := newParty(t)

	db, err := OpenBadger(dir)
	require.NoError(t, err)
	app, err := NewAgreementApp(db, cfg.DefaultAppConfig(), log.NewNopLogger())
	require.NoError(t, err)

	assert.Equal(t, int64(0), app.Info(abci.RequestInfo{}).LastBlockHeight)
	block(app, 1, owner.create(t, types.ConstraintBody{Identifier: "anyone", AllowedToUse: 1}))
	hash := app.Info(abci.RequestInfo{}).LastBlockAppHash
	require.Len(t, hash, 32)

	block(app, 2)
	assert.Equal(t, hash, app.Info(abci.RequestInfo{}).LastBlockAppHash)
	require.NoError(t, db.Close())

	reopened := newTestApp(t, dir)
	info := reopened.Info(abci.RequestInfo{})
	assert.Equal(t, int64(2), info.LastBlockHeight)
	assert.Equal(t, hash, info.LastBlockAppHash)
	assert.Equal(t, agreement.StatusPending, queryAgreement(t, reopened, owner.id, 0).Status)
}

func TestFailedTxCannotBeReplayed(t *testing.T) {
	app := newTestApp(t, t.TempDir())
	owner, signer := newParty(t), newParty(t)

	early := signer.sign(t, owner.id, 0, "signer")
	res := block(app, 1, early)
	require.Equal(t, CodeNotFound, res[0].Code)

	res = block(app, 2, owner.create(t, types.ConstraintBody{
		Identifier:   "signer",
		Signer:       signer.id.String(),
		AllowedToUse: 1,
	}))
	require.Equal(t, CodeOK, res[0].Code, res[0].Log)

	res = block(app, 3, early)
	assert.Equal(t, CodeBadNonce, res[0].Code)
	assert.Equal(t, agreement.StatusPending, queryAgreement(t, app, owner.id, 0).Status)

	list := query(app, "agreement-signatures/"+owner.id.String()+"/0", nil)
	require.Equal(t, CodeOK, list.Code, list.Log)
	assert.Equal(t, "[]", string(list.Value))
}

func TestFailedTxChangesAppHash(t *testing.T) {
	app := newTestApp(t, t.TempDir())
	owner := newParty(t)

	res := block(app, 1, owner.sign(t, owner.id, 0, "anyone"))
	require.Equal(t, CodeNotFound, res[0].Code)
	assert.Len(t, app.Info(abci.RequestInfo{}).LastBlockAppHash, 32)
}

func TestCommitFailureKeepsPersistedState(t *testing.T) {
	app := newTestApp(t, t.TempDir())
	owner := newParty(t)
	constraint := types.ConstraintBody{Identifier: "anyone", AllowedToUse: 1}

	block(app, 1, owner.create(t, constraint))
	before := app.Info(abci.RequestInfo{})
	require.Len(t, before.LastBlockAppHash, 32)

	app.BeginBlock(abci.RequestBeginBlock{Header: tmproto.Header{Height: 2}})
	require.Equal(t, CodeOK, app.DeliverTx(abci.RequestDeliverTx{Tx: owner.create(t, constraint)}).Code)
	app.currentBatch.Discard()
	commit := app.Commit()

	assert.Equal(t, before.LastBlockAppHash, commit.Data)
	after := app.Info(abci.RequestInfo{})
	assert.Equal(t, int64(1), after.LastBlockHeight)
	assert.Equal(t, before.LastBlockAppHash, after.LastBlockAppHash)
	assert.Equal(t, CodeNotFound, query(app, "agreement/"+owner.id.String()+"/1", nil).Code)
}
