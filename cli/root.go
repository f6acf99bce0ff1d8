package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gregorybednov/pactchain/blockchain"
	"github.com/gregorybednov/pactchain/cfg"
	"github.com/gregorybednov/pactchain/yggdrasil"
)

var defaultConfigPath string
var dbPath string
var chainName string

func init() {
	rootCmd.PersistentFlags().StringVar(&defaultConfigPath, "config", "./config/config.toml", "Путь к конфигурационному файлу")
	rootCmd.PersistentFlags().StringVar(&dbPath, "badger", "./badger", "Путь к базе данных BadgerDB")
	rootCmd.PersistentFlags().StringVar(&chainName, "chainname", "pactchain", "Название цепочки блоков")
}

var rootCmd = &cobra.Command{
	Use:          "pactchain",
	Short:        "Цепочка многосторонних соглашений",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := cfg.LoadViperConfig(defaultConfigPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, `Конфигурационный файл не найден: %v

	Похоже, что нода ещё не инициализирована.

	Чтобы создать необходимые файлы, запусти одну из следующих команд:

	  pactchain init genesis              # если это новая цепочка
	  pactchain init join <genesis.json>  # если ты присоединяешься к существующей

	По умолчанию файл конфигурации ищется по пути: %s
	`, err, defaultConfigPath)
			os.Exit(1)
		}

		config, err := cfg.ReadConfig(defaultConfigPath)
		if err != nil {
			return fmt.Errorf("конфигурация не прочитана: %w", err)
		}
		appConfig, err := cfg.ReadAppConfig(v)
		if err != nil {
			return fmt.Errorf("настройки приложения: %w", err)
		}

		sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(sigCtx)
		defer cancel()

		laddrReturner := make(chan string, 2)
		errs := make(chan error, 2)
		go func() { errs <- yggdrasil.Run(ctx, v, laddrReturner) }()
		go func() { errs <- blockchain.Run(ctx, dbPath, config, appConfig, laddrReturner) }()

		// The first component to stop takes the other one down with it.
		err = <-errs
		signalled := sigCtx.Err() != nil
		cancel()
		<-errs
		if signalled {
			return nil
		}
		if err == nil {
			err = fmt.Errorf("нода остановилась")
		}
		return err
	},
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "ошибка: %v\n", err)
		os.Exit(1)
	}
}
