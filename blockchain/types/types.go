package types

// Types subpackage.
// Use it to build an RPC client for the abci application.

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
)

const (
	TxCreateAgreement = "create_agreement"
	TxSign            = "sign"
)

type ConstraintBody struct {
	Identifier string `json:"identifier"`
	// Signer is a 0x-prefixed identity; empty or all-zero means anyone.
	Signer       string `json:"signer,omitempty"`
	AllowedToUse uint64 `json:"allowed_to_use"`
}

type CreateAgreementTxBody struct {
	Type               string           `json:"type"`
	Nonce              uint64           `json:"nonce"`
	Identifier         string           `json:"identifier"`
	CID                string           `json:"cid"`
	EncryptedCID       string           `json:"encrypted_cid"`
	DescriptionCID     string           `json:"description_cid"`
	Constraints        []ConstraintBody `json:"constraints"`
	CompletionCallback string           `json:"completion_callback,omitempty"`
	SignatureCallback  string           `json:"signature_callback,omitempty"`
	ExtraInfo          []byte           `json:"extra_info,omitempty"`
}

type SignTxBody struct {
	Type           string `json:"type"`
	Nonce          uint64 `json:"nonce"`
	AgreementOwner string `json:"agreement_owner"`
	AgreementIndex uint64 `json:"agreement_index"`
	Identifier     string `json:"identifier"`
	EncryptedCID   string `json:"encrypted_cid"`
	ExtraInfo      []byte `json:"extra_info,omitempty"`
}

// SignedTx is the wire envelope. Signature covers the raw Body bytes.
type SignedTx struct {
	Body      json.RawMessage `json:"body"`
	PubKey    string          `json:"pub_key"`
	Signature string          `json:"signature"`
}

// NewSignedTx marshals body, signs it with priv and returns the encoded envelope.
func NewSignedTx(priv ed25519.PrivateKey, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(SignedTx{
		Body:      raw,
		PubKey:    base64.StdEncoding.EncodeToString(priv.Public().(ed25519.PublicKey)),
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(priv, raw)),
	})
}
