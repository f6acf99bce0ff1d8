package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gregorybednov/pactchain/cfg"
	"github.com/gregorybednov/pactchain/yggdrasil"
)

var yggWait time.Duration

var testYggdrasilCmd = &cobra.Command{
	Use:   "testYggdrasil",
	Short: "Тест подключения через Yggdrasil без Tendermint",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := cfg.LoadViperConfig(defaultConfigPath)
		if err != nil {
			return fmt.Errorf("не удалось прочитать конфигурацию: %w", err)
		}
		if err := yggdrasil.TestConnectivity(cmd.Context(), v, yggWait); err != nil {
			return fmt.Errorf("тест не пройден: %w", err)
		}
		fmt.Println("Yggdrasil connectivity test successful")
		return nil
	},
}

func init() {
	testYggdrasilCmd.Flags().DurationVar(&yggWait, "wait", 5*time.Second, "Сколько ждать подключения пиров")
	rootCmd.AddCommand(testYggdrasilCmd)
}
