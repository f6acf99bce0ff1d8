package blockchain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	abci "github.com/tendermint/tendermint/abci/types"

	"github.com/gregorybednov/pactchain/agreement"
	"github.com/gregorybednov/pactchain/credential"
	"github.com/gregorybednov/pactchain/dealgate"
	"github.com/gregorybednov/pactchain/identity"
	"github.com/gregorybednov/pactchain/kv"
)

// DealDecision is the query value returned for an accepted deal.
type DealDecision struct {
	Client    string `json:"client"`
	Provider  string `json:"provider"`
	PieceCID  string `json:"piece_cid"`
	PieceSize uint64 `json:"piece_size"`
	Verified  bool   `json:"verified"`
}

func parseUint(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", errInvalidArgument, s)
	}
	return n, nil
}

func parseIdentity(s string) (identity.Identity, error) {
	id, err := identity.Parse(s)
	if err != nil {
		return id, fmt.Errorf("%w: %v", errInvalidArgument, err)
	}
	return id, nil
}

func parseUints(parts ...string) ([]uint64, error) {
	out := make([]uint64, len(parts))
	for i, p := range parts {
		n, err := parseUint(p)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func (app *AgreementApp) Query(req abci.RequestQuery) abci.ResponseQuery {
	parts := strings.Split(strings.Trim(req.Path, "/"), "/")

	var value any
	var log string
	err := kv.View(app.db, func(st kv.Store) error {
		var err error
		value, log, err = app.route(st, parts, req.Data)
		return err
	})
	if err != nil {
		return abci.ResponseQuery{Code: codeFor(err), Codespace: Codespace, Log: err.Error(), Height: app.height}
	}
	out, err := json.Marshal(value)
	if err != nil {
		return abci.ResponseQuery{Code: CodeInternal, Codespace: Codespace, Log: err.Error(), Height: app.height}
	}
	return abci.ResponseQuery{Code: CodeOK, Log: log, Value: out, Height: app.height}
}

func (app *AgreementApp) route(st kv.Store, parts []string, data []byte) (any, string, error) {
	engine := agreement.NewEngine(st, app.callbacks)

	switch {
	case len(parts) == 3 && parts[0] == "agreement":
		owner, err := parseIdentity(parts[1])
		if err != nil {
			return nil, "", err
		}
		index, err := parseUint(parts[2])
		if err != nil {
			return nil, "", err
		}
		a, err := engine.Agreement(owner, index)
		return a, "", err

	case len(parts) == 4 && parts[0] == "agreements":
		owner, err := parseIdentity(parts[1])
		if err != nil {
			return nil, "", err
		}
		n, err := parseUints(parts[2], parts[3])
		if err != nil {
			return nil, "", err
		}
		list, err := engine.Agreements(owner, n[0], n[1])
		return list, "", err

	case len(parts) == 3 && parts[0] == "signatures":
		n, err := parseUints(parts[1], parts[2])
		if err != nil {
			return nil, "", err
		}
		list, err := engine.Signatures(n[0], n[1])
		return list, "", err

	case len(parts) == 3 && parts[0] == "agreement-signatures":
		owner, err := parseIdentity(parts[1])
		if err != nil {
			return nil, "", err
		}
		index, err := parseUint(parts[2])
		if err != nil {
			return nil, "", err
		}
		list, err := engine.AgreementSignatures(owner, index)
		return list, "", err

	case len(parts) == 2 && parts[0] == "nonce":
		id, err := parseIdentity(parts[1])
		if err != nil {
			return nil, "", err
		}
		n, err := readNonce(st, id)
		return n, "", err

	case len(parts) == 4 && parts[0] == "credential":
		return app.queryCredential(st, parts[1], parts[2], parts[3], data)

	case len(parts) == 3 && parts[0] == "deal" && parts[1] == "authorize":
		method, err := parseUint(parts[2])
		if err != nil {
			return nil, "", err
		}
		return app.authorize(st, method, data)
	}
	return nil, "", fmt.Errorf("%w: unsupported query %q", errInvalidArgument, strings.Join(parts, "/"))
}

func (app *AgreementApp) queryCredential(st kv.Store, op, collection, arg string, data []byte) (any, string, error) {
	coll := credential.NewCollection(st, collection)
	switch op {
	case "owner":
		id, err := parseUint(arg)
		if err != nil {
			return nil, "", err
		}
		c, err := coll.Credential(id)
		return c, "", err
	case "balance":
		owner, err := parseIdentity(arg)
		if err != nil {
			return nil, "", err
		}
		n, err := coll.BalanceOf(owner)
		return n, "", err
	case "find":
		owner, err := parseIdentity(arg)
		if err != nil {
			return nil, "", err
		}
		found, err := coll.FindByAttribute(owner, string(data))
		return found, "", err
	}
	return nil, "", fmt.Errorf("%w: unknown credential query %q", errInvalidArgument, op)
}

// authorize runs the deal gate against committed credential state.
func (app *AgreementApp) authorize(st kv.Store, method uint64, params []byte) (any, string, error) {
	gate, err := dealgate.NewGate(credential.NewCollection(st, app.config.DealGate.Collection), app.config.DealGate.Policy)
	if err != nil {
		return nil, "", err
	}
	p, err := gate.Authorize(method, params)
	if err != nil {
		return nil, "", err
	}
	return DealDecision{
		Client:    p.Client.String(),
		Provider:  p.Provider.String(),
		PieceCID:  p.PieceCID.String(),
		PieceSize: uint64(p.PieceSize),
		Verified:  p.VerifiedDeal,
	}, "accepted", nil
}
