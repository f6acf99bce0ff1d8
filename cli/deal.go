package cli

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gregorybednov/pactchain/dealgate"
)

type decodedDeal struct {
	dealgate.DealProposal
	ClientAddress   string `json:"ClientAddress"`
	ProviderAddress string `json:"ProviderAddress"`
}

var dealCmd = &cobra.Command{
	Use:   "deal",
	Short: "Работа с предложениями сделок",
}

var dealDecodeCmd = &cobra.Command{
	Use:   "decode <params-hex>",
	Short: "Разобрать параметры AuthenticateMessage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := hex.DecodeString(strings.TrimPrefix(args[0], "0x"))
		if err != nil {
			return fmt.Errorf("hex: %w", err)
		}
		proposal, err := dealgate.Decode(raw)
		if err != nil {
			return err
		}
		out := decodedDeal{DealProposal: proposal}
		if addr, err := proposal.Client.FilAddress(); err == nil {
			out.ClientAddress = addr.String()
		}
		if addr, err := proposal.Provider.FilAddress(); err == nil {
			out.ProviderAddress = addr.String()
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	dealCmd.AddCommand(dealDecodeCmd)
	rootCmd.AddCommand(dealCmd)
}
