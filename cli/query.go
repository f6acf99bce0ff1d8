package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	rpchttp "github.com/tendermint/tendermint/rpc/client/http"
)

var nodeAddr string

func newRPCClient() (*rpchttp.HTTP, error) {
	return rpchttp.New(nodeAddr, "/websocket")
}

var queryCmd = &cobra.Command{
	Use:   "query <path> [data-hex]",
	Short: "Запрос состояния цепочки через RPC ноды",
	Long: `Пути запросов:
  agreement/<owner>/<index>
  agreements/<owner>/<start>/<count>
  signatures/<start>/<count>
  agreement-signatures/<owner>/<index>
  nonce/<identity>
  credential/owner/<collection>/<token>
  credential/balance/<collection>/<owner>
  credential/find/<collection>/<owner>   (data = атрибут)
  deal/authorize/<method>                (data = параметры AuthenticateMessage)`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		if len(args) == 2 {
			var err error
			if data, err = hex.DecodeString(args[1]); err != nil {
				return fmt.Errorf("data: %w", err)
			}
		}
		client, err := newRPCClient()
		if err != nil {
			return err
		}
		res, err := client.ABCIQuery(cmd.Context(), args[0], data)
		if err != nil {
			return err
		}
		if !res.Response.IsOK() {
			return fmt.Errorf("code %d: %s", res.Response.Code, res.Response.Log)
		}
		if res.Response.Log != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), res.Response.Log)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(res.Response.Value))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&nodeAddr, "node", "tcp://127.0.0.1:26657", "RPC адрес ноды")
	rootCmd.AddCommand(queryCmd)
}
