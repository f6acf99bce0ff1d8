package cfg

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"github.com/tendermint/tendermint/p2p"
)

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err = os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Sync()
		_ = out.Close()
	}()

	_, err = io.Copy(out, in)
	return err
}

func rootedConfig(configPath string) *Config {
	config := DefaultConfig()
	config.SetRoot(filepath.Dir(filepath.Dir(configPath)))
	return config
}

// InitGenesis writes config, keys and a single-validator genesis for a new chain.
// The caller still has to record the node's p2p identity with UpdateGenesisJson.
func InitGenesis(chainName, configPath string) (*Config, *viper.Viper, error) {
	config := rootedConfig(configPath)
	v, err := WriteConfig(config, configPath, p2p.DefaultNodeInfo{}, DefaultAppConfig())
	if err != nil {
		return nil, nil, err
	}
	if err := InitTendermintFiles(config, true, chainName); err != nil {
		return nil, nil, fmt.Errorf("init tendermint files: %w", err)
	}
	return config, v, nil
}

// InitJoiner prepares a node that joins the chain described by genesisPath.
func InitJoiner(chainName, configPath, genesisPath string) error {
	config := rootedConfig(configPath)
	if err := copyFile(genesisPath, config.GenesisFile()); err != nil {
		return fmt.Errorf("copy genesis.json: %w", err)
	}
	if _, err := WriteConfig(config, configPath, p2p.DefaultNodeInfo{}, DefaultAppConfig()); err != nil {
		return err
	}
	return InitTendermintFiles(config, false, chainName)
}
