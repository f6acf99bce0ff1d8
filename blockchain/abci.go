package blockchain

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"strconv"

	"github.com/dgraph-io/badger"
	abci "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/libs/log"

	"github.com/gregorybednov/pactchain/cfg"
	"github.com/gregorybednov/pactchain/credential"
	"github.com/gregorybednov/pactchain/kv"
)

const (
	appVersion = 1

	heightKey  = "meta:height"
	appHashKey = "meta:app_hash"
)

// AgreementApp hosts the agreement engine and the deal gate as an ABCI
// application. Tendermint serializes every call on the local client.
type AgreementApp struct {
	db           *badger.DB
	currentBatch *badger.Txn
	logger       log.Logger
	config       cfg.AppConfig
	callbacks    credential.Callbacks

	// height and appHash describe the last block persisted by Commit.
	height    int64
	appHash   []byte
	pending   int64
	blockHash hash.Hash
	blockTxs  int
}

func NewAgreementApp(db *badger.DB, config cfg.AppConfig, logger log.Logger) (*AgreementApp, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("app config: %w", err)
	}
	app := &AgreementApp{
		db:        db,
		logger:    logger.With("module", "agreements"),
		config:    config,
		callbacks: credential.Callbacks{ProofCollection: config.ProofCollection},
		blockHash: sha256.New(),
	}
	err := kv.View(db, func(st kv.Store) error {
		raw, err := st.Get([]byte(heightKey))
		if errors.Is(err, kv.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if app.height, err = strconv.ParseInt(string(raw), 10, 64); err != nil {
			return fmt.Errorf("corrupted height: %w", err)
		}
		app.appHash, err = st.Get([]byte(appHashKey))
		if errors.Is(err, kv.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load app state: %w", err)
	}
	app.pending = app.height
	return app, nil
}

func (app *AgreementApp) Info(req abci.RequestInfo) abci.ResponseInfo {
	return abci.ResponseInfo{
		Data:             "agreements",
		Version:          "0.1",
		AppVersion:       appVersion,
		LastBlockHeight:  app.height,
		LastBlockAppHash: app.appHash,
	}
}

func (app *AgreementApp) CheckTx(req abci.RequestCheckTx) abci.ResponseCheckTx {
	err := kv.View(app.db, func(st kv.Store) error {
		buf := kv.NewBuffer(st)
		env, err := admit(buf, req.Tx, false)
		if err != nil {
			return err
		}
		_, err = app.apply(kv.NewBuffer(buf), env)
		return err
	})
	if err != nil {
		return abci.ResponseCheckTx{Code: codeFor(err), Codespace: Codespace, Log: err.Error()}
	}
	return abci.ResponseCheckTx{Code: CodeOK}
}

func (app *AgreementApp) BeginBlock(req abci.RequestBeginBlock) abci.ResponseBeginBlock {
	if app.currentBatch != nil {
		app.currentBatch.Discard()
	}
	app.currentBatch = app.db.NewTransaction(true)
	app.pending = req.Header.Height
	app.blockHash.Reset()
	app.blockTxs = 0
	return abci.ResponseBeginBlock{}
}

func (app *AgreementApp) DeliverTx(req abci.RequestDeliverTx) abci.ResponseDeliverTx {
	if app.currentBatch == nil {
		app.currentBatch = app.db.NewTransaction(true)
	}
	block := kv.NewBadgerTxn(app.currentBatch)
	env, err := admit(block, req.Tx, true)
	if err != nil {
		app.logger.Debug("tx not admitted", "err", err)
		return abci.ResponseDeliverTx{Code: codeFor(err), Codespace: Codespace, Log: err.Error()}
	}
	// The nonce bump is already in the block, so the tx counts towards the app hash.
	sum := sha256.Sum256(req.Tx)
	app.blockHash.Write(sum[:])
	app.blockTxs++

	buf := kv.NewBuffer(block)
	events, err := app.apply(buf, env)
	if err != nil {
		buf.Discard()
		app.logger.Debug("tx rejected", "caller", env.caller.String(), "nonce", env.nonce, "err", err)
		return abci.ResponseDeliverTx{Code: codeFor(err), Codespace: Codespace, Log: err.Error()}
	}
	if err := buf.Flush(); err != nil {
		app.logger.Error("failed to stage tx writes", "err", err)
		return abci.ResponseDeliverTx{Code: CodeInternal, Codespace: Codespace, Log: err.Error()}
	}
	return abci.ResponseDeliverTx{Code: CodeOK, Events: events}
}

func (app *AgreementApp) Commit() abci.ResponseCommit {
	if app.currentBatch == nil {
		app.currentBatch = app.db.NewTransaction(true)
	}
	defer func() { app.currentBatch = nil }()

	appHash := app.appHash
	if app.blockTxs > 0 {
		chained := sha256.New()
		chained.Write(app.appHash)
		chained.Write(app.blockHash.Sum(nil))
		appHash = chained.Sum(nil)
	}
	if err := app.persist(app.pending, appHash); err != nil {
		// Nothing of this block reached disk, so keep reporting the last persisted state.
		app.logger.Error("commit failed", "height", app.pending, "err", err)
		app.currentBatch.Discard()
		return abci.ResponseCommit{Data: app.appHash}
	}
	app.height, app.appHash = app.pending, appHash
	return abci.ResponseCommit{Data: app.appHash}
}

func (app *AgreementApp) persist(height int64, appHash []byte) error {
	st := kv.NewBadgerTxn(app.currentBatch)
	if err := st.Set([]byte(heightKey), []byte(strconv.FormatInt(height, 10))); err != nil {
		return fmt.Errorf("store height: %w", err)
	}
	if err := st.Set([]byte(appHashKey), appHash); err != nil {
		return fmt.Errorf("store app hash: %w", err)
	}
	return app.currentBatch.Commit()
}

func (app *AgreementApp) SetOption(req abci.RequestSetOption) abci.ResponseSetOption {
	return abci.ResponseSetOption{}
}
func (app *AgreementApp) InitChain(req abci.RequestInitChain) abci.ResponseInitChain {
	return abci.ResponseInitChain{}
}
func (app *AgreementApp) EndBlock(req abci.RequestEndBlock) abci.ResponseEndBlock {
	return abci.ResponseEndBlock{}
}
func (app *AgreementApp) ListSnapshots(req abci.RequestListSnapshots) abci.ResponseListSnapshots {
	return abci.ResponseListSnapshots{}
}
func (app *AgreementApp) OfferSnapshot(req abci.RequestOfferSnapshot) abci.ResponseOfferSnapshot {
	return abci.ResponseOfferSnapshot{Result: abci.ResponseOfferSnapshot_REJECT}
}
func (app *AgreementApp) LoadSnapshotChunk(req abci.RequestLoadSnapshotChunk) abci.ResponseLoadSnapshotChunk {
	return abci.ResponseLoadSnapshotChunk{}
}
func (app *AgreementApp) ApplySnapshotChunk(req abci.RequestApplySnapshotChunk) abci.ResponseApplySnapshotChunk {
	return abci.ResponseApplySnapshotChunk{Result: abci.ResponseApplySnapshotChunk_ACCEPT}
}
