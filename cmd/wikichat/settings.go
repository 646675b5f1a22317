package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/scriptwiki/wikichat/pkg/chat"
	"github.com/scriptwiki/wikichat/pkg/chat/store"
	"github.com/scriptwiki/wikichat/pkg/providers"
	"github.com/scriptwiki/wikichat/pkg/settings"
)

func newSetKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <provider> <api-key>",
		Short: "Store the API key for a provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(_ store.Store, _ chat.Manager, svc *settings.Service) error {
				if _, ok := providers.NewDefaultRegistry().Lookup(args[0]); !ok {
					return fmt.Errorf("unknown provider %s", args[0])
				}
				return svc.SetAPIKey(args[0], args[1])
			})
		},
	}
}

func newUseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <provider> [model]",
		Short: "Select the provider (and model) used for generation",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(_ store.Store, _ chat.Manager, svc *settings.Service) error {
				if _, ok := providers.NewDefaultRegistry().Lookup(args[0]); !ok {
					return fmt.Errorf("unknown provider %s", args[0])
				}
				if err := svc.SetProvider(args[0]); err != nil {
					return err
				}
				if len(args) == 2 {
					return svc.SetModel(args[1])
				}
				return nil
			})
		},
	}
	cmd.Flags().Int("max-tokens", 0, "also set the response token limit")
	cmd.PreRunE = func(c *cobra.Command, args []string) error {
		n, err := c.Flags().GetInt("max-tokens")
		if err != nil || n == 0 {
			return err
		}
		return withEnv(func(_ store.Store, _ chat.Manager, svc *settings.Service) error {
			return svc.SetTokenLimit(n)
		})
	}
	return cmd
}

func newModelsCommand() *cobra.Command {
	var addName, addEndpoint, addProvider string
	var remove string

	cmd := &cobra.Command{
		Use:   "models [provider]",
		Short: "List known models, or manage custom model entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(_ store.Store, _ chat.Manager, svc *settings.Service) error {
				if remove != "" {
					return svc.RemoveCustomModel(remove)
				}
				if addName != "" {
					return svc.AddCustomModel(settings.CustomModel{
						Name:     addName,
						Endpoint: addEndpoint,
						Provider: addProvider,
					})
				}

				registry := providers.NewDefaultRegistry()
				keys := registry.Keys()
				if len(args) == 1 {
					keys = []string{args[0]}
				}
				for _, key := range keys {
					adapter, ok := registry.Lookup(key)
					if !ok {
						return fmt.Errorf("unknown provider %s", key)
					}
					fmt.Printf("%s (%s)\n", adapter.DisplayName(), key)
					for _, m := range adapter.KnownModels() {
						fmt.Println("  " + m)
					}
					if key == "custom" {
						for _, m := range svc.CustomModels() {
							fmt.Printf("  [%s] %s %s\n", m.Provider, m.Name, m.Endpoint)
						}
					}
				}
				fmt.Println("token limit: " + strconv.Itoa(svc.TokenLimit()))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&addName, "add", "", "add a custom model with this name")
	cmd.Flags().StringVar(&addEndpoint, "endpoint", "", "endpoint for the added custom model")
	cmd.Flags().StringVar(&addProvider, "provider", "custom", "provider shape for the added custom model")
	cmd.Flags().StringVar(&remove, "remove", "", "remove the custom model with this name")
	return cmd
}
