package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scriptwiki/wikichat/pkg/chat"
	"github.com/scriptwiki/wikichat/pkg/chat/store"
	"github.com/scriptwiki/wikichat/pkg/settings"
)

var rootCmd = &cobra.Command{
	Use:   "wikichat",
	Short: "wikichat is a scripting-wiki assistant with swipeable multi-provider chat sessions",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(viper.GetString("log-level"))
		if err != nil {
			return err
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("db", "wikichat.db", "path to the sqlite database")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")

	viper.SetEnvPrefix("WIKICHAT")
	viper.AutomaticEnv()
	_ = viper.BindPFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newChatCommand(),
		newSessionsCommand(),
		newExportCommand(),
		newImportCommand(),
		newExportAllCommand(),
		newImportAllCommand(),
		newSetKeyCommand(),
		newUseCommand(),
		newModelsCommand(),
	)
}

// openEnv wires the persistence store, the session manager and the settings
// service the way every subcommand needs them.
func openEnv() (store.Store, *chat.ManagerImpl, *settings.Service, error) {
	s, err := store.NewSQLiteStore(viper.GetString("db"))
	if err != nil {
		return nil, nil, nil, err
	}
	manager := chat.NewManager(s)
	if err := manager.Init(); err != nil {
		_ = s.Close()
		return nil, nil, nil, err
	}
	return s, manager, settings.NewService(s), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
