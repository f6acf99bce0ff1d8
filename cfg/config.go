package cfg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	tmcfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/p2p"
	"github.com/tendermint/tendermint/privval"
	tmTypes "github.com/tendermint/tendermint/types"

	"github.com/gregorybednov/pactchain/yggdrasil"
)

type Config = tmcfg.Config

const YggListenPort = 4224

func DefaultConfig() *Config {
	return tmcfg.DefaultConfig()
}

// YggdrasilKeyPath is where the overlay key lives next to config.toml.
func YggdrasilKeyPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "yggdrasil.key")
}

// LoadViperConfig reads config.toml; PACTCHAIN_* environment variables override it.
func LoadViperConfig(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v, nil
}

// ReadConfig loads the tendermint part of config.toml.
func ReadConfig(configFile string) (*Config, error) {
	v, err := LoadViperConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("viper read config: %w", err)
	}
	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("viper unmarshal: %w", err)
	}
	config.SetRoot(filepath.Dir(filepath.Dir(configFile)))
	if err := config.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("config invalid: %w", err)
	}
	return config, nil
}

func InitTendermintFiles(config *Config, isGenesis bool, chainName string) error {
	if err := os.MkdirAll(filepath.Dir(config.PrivValidatorKeyFile()), 0700); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(config.RootDir, "data"), 0700); err != nil {
		return err
	}

	pv := privval.GenFilePV(
		config.PrivValidatorKeyFile(),
		config.PrivValidatorStateFile(),
	)
	if _, err := p2p.LoadOrGenNodeKey(config.NodeKeyFile()); err != nil {
		return err
	}
	key, err := pv.GetPubKey()
	if err != nil {
		return err
	}
	pv.Save()

	if !isGenesis {
		return nil
	}
	genDoc := &tmTypes.GenesisDoc{
		ChainID:         chainName,
		GenesisTime:     time.Now(),
		ConsensusParams: tmTypes.DefaultConsensusParams(),
		Validators: []tmTypes.GenesisValidator{
			{
				Address: key.Address(),
				PubKey:  key,
				Power:   10,
				Name:    config.Moniker,
			},
		},
		AppHash: []byte{},
	}
	return genDoc.SaveAs(config.GenesisFile())
}

func writeYggdrasilKey(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return yggdrasil.WritePrivateKey(path)
}

// WriteConfig writes config.toml with tendermint, overlay and application sections.
func WriteConfig(config *Config, configPath string, nodeInfo p2p.NodeInfo, app AppConfig) (*viper.Viper, error) {
	keyPath := YggdrasilKeyPath(configPath)
	if err := writeYggdrasilKey(keyPath); err != nil {
		return nil, fmt.Errorf("write yggdrasil key: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	v.Set("moniker", config.Moniker)
	v.Set("db_backend", config.DBBackend)
	v.Set("db_dir", config.DBDir())
	v.Set("log_level", config.LogLevel)
	v.Set("log_format", config.LogFormat)
	v.Set("genesis_file", config.GenesisFile())
	v.Set("node_key_file", config.NodeKeyFile())
	v.Set("abci", config.ABCI)
	v.Set("filter_peers", config.FilterPeers)

	v.Set("priv_validator", map[string]any{
		"key_file":                config.PrivValidatorKeyFile(),
		"state_file":              config.PrivValidatorStateFile(),
		"laddr":                   config.PrivValidatorListenAddr,
		"client_certificate_file": "",
		"client_key_file":         "",
		"root_ca_file":            "",
	})

	v.Set("yggdrasil", map[string]any{
		"admin_listen":        "none",
		"peers":               "auto",
		"allowed_public_keys": []string{},
		"private_key_file":    keyPath,
	})

	for section, values := range appSections(app) {
		v.Set(section, values)
	}

	peers := ReadP2Peers(configPath)
	if peers == "" && nodeInfo != nil && nodeInfo.ID() != "" {
		addr, err := yggdrasil.GetYggdrasilAddress(v)
		if err != nil {
			return nil, err
		}
		peers = fmt.Sprintf("%s@ygg://[%s]:%d", nodeInfo.ID(), addr, YggListenPort)
	}
	config.P2P.PersistentPeers = peers

	v.Set("p2p", map[string]any{
		"use_legacy":       false,
		"queue_type":       "priority",
		"laddr":            strconv.Itoa(YggListenPort) + ":127.0.0.1:8000",
		"external_address": "",
		"upnp":             false,
		"bootstrap_peers":  "",
		"persistent_peers": config.P2P.PersistentPeers,
		"addr_book_file":   "config/addrbook.json",
		"addr_book_strict": false,
	})

	if err := v.WriteConfigAs(configPath); err != nil {
		return nil, fmt.Errorf("error writing config: %w", err)
	}
	return v, nil
}

// ReadP2Peers returns the p2peers entry of the genesis file next to configFile.
func ReadP2Peers(configFile string) string {
	raw, err := os.ReadFile(filepath.Join(filepath.Dir(configFile), "genesis.json"))
	if err != nil {
		return ""
	}
	var genesis map[string]any
	if err := json.Unmarshal(raw, &genesis); err != nil {
		return ""
	}
	p2peers, _ := genesis["p2peers"].(string)
	return p2peers
}

// UpdateGenesisJson records this node as the bootstrap peer in genesis.json.
func UpdateGenesisJson(nodeInfo p2p.NodeInfo, v *viper.Viper, configDir string) error {
	genesisPath := filepath.Join(configDir, "genesis.json")
	raw, err := os.ReadFile(genesisPath)
	if err != nil {
		return err
	}
	var dat map[string]any
	if err := json.Unmarshal(raw, &dat); err != nil {
		return err
	}

	addr, err := yggdrasil.GetYggdrasilAddress(v)
	if err != nil {
		return err
	}
	dat["p2peers"] = fmt.Sprintf("%s@ygg://[%s]:%d", nodeInfo.ID(), addr, YggListenPort)

	out, err := json.MarshalIndent(dat, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(genesisPath, out, 0o644)
}
