package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gregorybednov/pactchain/blockchain"
	"github.com/gregorybednov/pactchain/cfg"
)

var initCmd = &cobra.Command{
	Use:   "init [genesis|join] [genesis-path]",
	Short: "Инициализация ноды: genesis или join",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "genesis":
			config, v, err := cfg.InitGenesis(chainName, defaultConfigPath)
			if err != nil {
				return err
			}
			nodeinfo, err := blockchain.GetNodeInfo(config, dbPath, cfg.DefaultAppConfig())
			if err != nil {
				return err
			}
			if err := cfg.UpdateGenesisJson(nodeinfo, v, filepath.Dir(defaultConfigPath)); err != nil {
				return fmt.Errorf("genesis.json: %w", err)
			}
			fmt.Println("Genesis node initialized.")
		case "join":
			if len(args) < 2 {
				return fmt.Errorf("укажите путь к genesis.json")
			}
			if err := cfg.InitJoiner(chainName, defaultConfigPath, args[1]); err != nil {
				return err
			}
			fmt.Println("Joiner node initialized.")
		default:
			return fmt.Errorf("неизвестный режим init: %s", args[0])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
