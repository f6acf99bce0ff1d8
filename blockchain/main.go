package blockchain

import (
	"context"
	"fmt"
	"os"

	"github.com/dgraph-io/badger"
	abci "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/libs/log"
	nm "github.com/tendermint/tendermint/node"
	"github.com/tendermint/tendermint/p2p"
	"github.com/tendermint/tendermint/privval"
	"github.com/tendermint/tendermint/proxy"
	tmTypes "github.com/tendermint/tendermint/types"

	"github.com/gregorybednov/pactchain/cfg"
)

func OpenBadger(path string) (*badger.DB, error) {
	return badger.Open(badger.DefaultOptions(path).WithTruncate(true).WithLogger(nil))
}

func NewLogger() log.Logger {
	return log.NewTMLogger(log.NewSyncWriter(os.Stdout))
}

func loadPrivValidator(config *cfg.Config, logger log.Logger) tmTypes.PrivValidator {
	if _, err := os.Stat(config.PrivValidatorKeyFile()); err == nil {
		return privval.LoadFilePV(
			config.PrivValidatorKeyFile(),
			config.PrivValidatorStateFile(),
		)
	}
	logger.Info("priv_validator_key.json not found, running as non-validator")
	return tmTypes.NewMockPV()
}

func newNode(app abci.Application, config *cfg.Config, logger log.Logger) (*nm.Node, error) {
	nodeKey, err := p2p.LoadNodeKey(config.NodeKeyFile())
	if err != nil {
		return nil, fmt.Errorf("load node key: %w", err)
	}
	return nm.NewNode(
		config,
		loadPrivValidator(config, logger),
		nodeKey,
		proxy.NewLocalClientCreator(app),
		nm.DefaultGenesisDocProviderFunc(config),
		nm.DefaultDBProvider,
		nm.DefaultMetricsProvider(config.Instrumentation),
		logger,
	)
}

// GetNodeInfo builds a throwaway node to learn its p2p identity.
func GetNodeInfo(config *cfg.Config, dbPath string, appConfig cfg.AppConfig) (p2p.NodeInfo, error) {
	db, err := OpenBadger(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db to get node info: %w", err)
	}
	defer db.Close()

	logger := NewLogger()
	app, err := NewAgreementApp(db, appConfig, logger)
	if err != nil {
		return nil, err
	}

	config.P2P.PersistentPeers = ""
	node, err := newNode(app, config, logger)
	if err != nil {
		return nil, err
	}
	return node.NodeInfo(), nil
}

// Run starts the node once the overlay reports the p2p listen address and
// persistent peers, and blocks until ctx is cancelled or the node quits.
func Run(ctx context.Context, dbPath string, config *cfg.Config, appConfig cfg.AppConfig, laddrReturner <-chan string) error {
	db, err := OpenBadger(dbPath)
	if err != nil {
		return fmt.Errorf("open badger db: %w", err)
	}
	defer db.Close()

	logger := NewLogger()
	app, err := NewAgreementApp(db, appConfig, logger)
	if err != nil {
		return err
	}

	select {
	case laddr := <-laddrReturner:
		config.P2P.ListenAddress = "tcp://" + laddr
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case peers := <-laddrReturner:
		config.P2P.PersistentPeers = peers
	case <-ctx.Done():
		return ctx.Err()
	}

	node, err := newNode(app, config, logger)
	if err != nil {
		return fmt.Errorf("build node: %w", err)
	}
	if err := node.Start(); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-node.Quit():
		return fmt.Errorf("node quit unexpectedly")
	}
	if err := node.Stop(); err != nil {
		logger.Error("failed to stop node", "err", err)
	}
	node.Wait()
	return nil
}
