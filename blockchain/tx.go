package blockchain

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	abci "github.com/tendermint/tendermint/abci/types"

	"github.com/gregorybednov/pactchain/agreement"
	"github.com/gregorybednov/pactchain/blockchain/types"
	"github.com/gregorybednov/pactchain/identity"
	"github.com/gregorybednov/pactchain/kv"
)

type envelope struct {
	caller identity.Identity
	kind   string
	nonce  uint64
	body   json.RawMessage
}

// verifyEnvelope checks the signature over the raw body bytes and derives
// the caller identity from the signing key.
func verifyEnvelope(tx []byte) (envelope, error) {
	var env envelope
	var outer types.SignedTx
	if err := json.Unmarshal(tx, &outer); err != nil {
		return env, fmt.Errorf("%w: invalid JSON wrapper", errBadEnvelope)
	}
	if len(outer.Body) == 0 {
		return env, fmt.Errorf("%w: missing body", errBadEnvelope)
	}

	pubkey, err := base64.StdEncoding.DecodeString(strings.TrimSpace(outer.PubKey))
	if err != nil {
		return env, fmt.Errorf("%w: invalid pubkey base64", errBadEnvelope)
	}
	if len(pubkey) != ed25519.PublicKeySize {
		return env, fmt.Errorf("%w: invalid pubkey length: got %d, want %d", errBadEnvelope, len(pubkey), ed25519.PublicKeySize)
	}
	sig, err := base64.StdEncoding.DecodeString(outer.Signature)
	if err != nil {
		return env, fmt.Errorf("%w: invalid signature base64", errBadEnvelope)
	}
	if len(sig) != ed25519.SignatureSize {
		return env, fmt.Errorf("%w: invalid signature length: got %d, want %d", errBadEnvelope, len(sig), ed25519.SignatureSize)
	}
	if !ed25519.Verify(pubkey, outer.Body, sig) {
		return env, fmt.Errorf("%w: signature verification failed", errBadEnvelope)
	}

	var head struct {
		Type  string `json:"type"`
		Nonce uint64 `json:"nonce"`
	}
	if err := json.Unmarshal(outer.Body, &head); err != nil {
		return env, fmt.Errorf("%w: invalid body JSON", errBadEnvelope)
	}
	if env.caller, err = identity.FromPubKey(pubkey); err != nil {
		return env, fmt.Errorf("%w: %v", errBadEnvelope, err)
	}
	env.kind, env.nonce, env.body = head.Type, head.Nonce, outer.Body
	return env, nil
}

func nonceKey(id identity.Identity) []byte {
	return []byte("nonce:" + id.String())
}

func readNonce(st kv.Store, id identity.Identity) (uint64, error) {
	raw, err := st.Get(nonceKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(raw), 10, 64)
}

// useNonce consumes the caller's nonce. In strict mode (DeliverTx) the nonce
// must equal the stored sequence; otherwise (CheckTx) it may run ahead of it.
func useNonce(st kv.Store, env envelope, strict bool) error {
	want, err := readNonce(st, env.caller)
	if err != nil {
		return err
	}
	if env.nonce < want || (strict && env.nonce != want) {
		return fmt.Errorf("%w: got %d, want %d", errBadNonce, env.nonce, want)
	}
	return st.Set(nonceKey(env.caller), []byte(strconv.FormatUint(env.nonce+1, 10)))
}

func attr(key, value string) abci.EventAttribute {
	return abci.EventAttribute{Key: []byte(key), Value: []byte(value), Index: true}
}

// admit verifies tx and consumes the caller's nonce in st. An admitted tx
// keeps its nonce spent even when its operation fails afterwards.
func admit(st kv.Store, tx []byte, strict bool) (envelope, error) {
	env, err := verifyEnvelope(tx)
	if err != nil {
		return env, err
	}
	return env, useNonce(st, env, strict)
}

// apply runs the operation of an admitted tx. Writes land in st only; the
// caller decides whether to flush them.
func (app *AgreementApp) apply(st kv.Store, env envelope) ([]abci.Event, error) {
	engine := agreement.NewEngine(st, app.callbacks)

	switch env.kind {
	case types.TxCreateAgreement:
		return app.createAgreement(engine, env)
	case types.TxSign:
		return app.sign(engine, env)
	}
	return nil, fmt.Errorf("%w: unknown tx type %q", errBadEnvelope, env.kind)
}

func (app *AgreementApp) createAgreement(engine *agreement.Engine, env envelope) ([]abci.Event, error) {
	var body types.CreateAgreementTxBody
	if err := json.Unmarshal(env.body, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidArgument, err)
	}
	req := agreement.CreateRequest{
		Identifier:         body.Identifier,
		CID:                body.CID,
		EncryptedCID:       body.EncryptedCID,
		DescriptionCID:     body.DescriptionCID,
		CompletionCallback: body.CompletionCallback,
		SignatureCallback:  body.SignatureCallback,
		ExtraInfo:          body.ExtraInfo,
	}
	for _, c := range body.Constraints {
		signer := identity.Wildcard
		if strings.TrimSpace(c.Signer) != "" {
			var err error
			if signer, err = identity.Parse(c.Signer); err != nil {
				return nil, fmt.Errorf("%w: constraint %q: %v", errInvalidArgument, c.Identifier, err)
			}
		}
		req.Constraints = append(req.Constraints, agreement.Constraint{
			Identifier:   c.Identifier,
			Signer:       signer,
			AllowedToUse: c.AllowedToUse,
		})
	}

	index, err := engine.CreateAgreement(env.caller, req)
	if err != nil {
		return nil, err
	}
	app.logger.Info("agreement created", "owner", env.caller.String(), "index", index)
	return []abci.Event{{
		Type: "agreement_created",
		Attributes: []abci.EventAttribute{
			attr("owner", env.caller.String()),
			attr("index", strconv.FormatUint(index, 10)),
		},
	}}, nil
}

func (app *AgreementApp) sign(engine *agreement.Engine, env envelope) ([]abci.Event, error) {
	var body types.SignTxBody
	if err := json.Unmarshal(env.body, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidArgument, err)
	}
	owner, err := identity.Parse(body.AgreementOwner)
	if err != nil {
		return nil, fmt.Errorf("%w: agreement owner: %v", errInvalidArgument, err)
	}

	sig, err := engine.Sign(env.caller, agreement.SignRequest{
		AgreementOwner: owner,
		AgreementIndex: body.AgreementIndex,
		Identifier:     body.Identifier,
		EncryptedCID:   body.EncryptedCID,
		ExtraInfo:      body.ExtraInfo,
	})
	if err != nil {
		return nil, err
	}
	index := strconv.FormatUint(body.AgreementIndex, 10)
	events := []abci.Event{{
		Type: "agreement_signed",
		Attributes: []abci.EventAttribute{
			attr("owner", owner.String()),
			attr("index", index),
			attr("identifier", sig.Identifier),
			attr("signer", sig.Signer.String()),
			attr("signature", strconv.FormatUint(sig.Index, 10)),
		},
	}}

	a, err := engine.Agreement(owner, body.AgreementIndex)
	if err != nil {
		return nil, err
	}
	app.logger.Info("agreement signed", "owner", owner.String(), "index", index, "signer", sig.Signer.String(), "signed", a.SignedPackets, "total", a.TotalPackets)
	if a.Status == agreement.StatusComplete {
		app.logger.Info("agreement completed", "owner", owner.String(), "index", index)
		events = append(events, abci.Event{
			Type: "agreement_completed",
			Attributes: []abci.EventAttribute{
				attr("owner", owner.String()),
				attr("index", index),
			},
		})
	}
	return events, nil
}
