package cli

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tendermint/tendermint/privval"

	"github.com/gregorybednov/pactchain/blockchain/types"
	"github.com/gregorybednov/pactchain/cfg"
	"github.com/gregorybednov/pactchain/identity"
)

var autoNonce bool

func loadSigningKey() (ed25519.PrivateKey, error) {
	config, err := cfg.ReadConfig(defaultConfigPath)
	if err != nil {
		return nil, fmt.Errorf("конфигурация не прочитана: %w", err)
	}
	if _, err := os.Stat(config.PrivValidatorKeyFile()); err != nil {
		return nil, err
	}
	pv := privval.LoadFilePVEmptyState(config.PrivValidatorKeyFile(), config.PrivValidatorStateFile())
	key := pv.Key.PrivKey.Bytes()
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("validator key is not ed25519")
	}
	return ed25519.PrivateKey(key), nil
}

var txCmd = &cobra.Command{
	Use:   "tx <body.json>",
	Short: "Подписать ключом ноды и отправить транзакцию",
	Long: `Тело транзакции - JSON с полем "type" (create_agreement или sign) и "nonce".
С флагом --auto-nonce nonce берётся из состояния цепочки.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var body map[string]any
		if err := dec.Decode(&body); err != nil {
			return fmt.Errorf("тело транзакции: %w", err)
		}

		priv, err := loadSigningKey()
		if err != nil {
			return err
		}
		sender, err := identity.FromPubKey(priv.Public().(ed25519.PublicKey))
		if err != nil {
			return err
		}

		client, err := newRPCClient()
		if err != nil {
			return err
		}
		if autoNonce {
			res, err := client.ABCIQuery(cmd.Context(), "nonce/"+sender.String(), nil)
			if err != nil {
				return err
			}
			if !res.Response.IsOK() {
				return fmt.Errorf("nonce: %s", res.Response.Log)
			}
			body["nonce"] = json.Number(res.Response.Value)
		}

		tx, err := types.NewSignedTx(priv, body)
		if err != nil {
			return err
		}
		res, err := client.BroadcastTxCommit(cmd.Context(), tx)
		if err != nil {
			return err
		}
		if res.CheckTx.IsErr() {
			return fmt.Errorf("check_tx code %d: %s", res.CheckTx.Code, res.CheckTx.Log)
		}
		if res.DeliverTx.IsErr() {
			return fmt.Errorf("deliver_tx code %d: %s", res.DeliverTx.Code, res.DeliverTx.Log)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sender %s, height %d, hash %s\n", sender, res.Height, res.Hash)
		for _, ev := range res.DeliverTx.Events {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s", ev.Type)
			for _, a := range ev.Attributes {
				fmt.Fprintf(cmd.OutOrStdout(), " %s=%s", a.Key, a.Value)
			}
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return nil
	},
}

func init() {
	txCmd.Flags().BoolVar(&autoNonce, "auto-nonce", false, "Взять nonce из состояния цепочки")
	rootCmd.AddCommand(txCmd)
}
