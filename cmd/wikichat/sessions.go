package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/scriptwiki/wikichat/pkg/chat"
	"github.com/scriptwiki/wikichat/pkg/chat/store"
	"github.com/scriptwiki/wikichat/pkg/settings"
)

// withEnv opens the store/manager/settings trio, runs f and closes the
// store again.
func withEnv(f func(s store.Store, manager chat.Manager, svc *settings.Service) error) error {
	s, manager, svc, err := openEnv()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return f(s, manager, svc)
}

func newSessionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(_ store.Store, manager chat.Manager, _ *settings.Service) error {
				active := manager.ActiveSession().ID
				for i, s := range manager.Sessions() {
					marker := " "
					if s.ID == active {
						marker = "*"
					}
					updated := time.UnixMilli(s.LastUpdated).Format("2006-01-02 15:04")
					fmt.Printf("%s %2d  %-30s  %s  (%d messages)\n", marker, i, s.Title, updated, len(s.Messages))
				}
				return nil
			})
		},
	}
}

func resolveSession(manager chat.Manager, arg string) (*chat.Session, error) {
	sessions := manager.Sessions()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 0 || n >= len(sessions) {
			return nil, fmt.Errorf("no session with index %d", n)
		}
		return sessions[n], nil
	}
	for _, s := range sessions {
		if s.ID == arg {
			return s, nil
		}
	}
	return nil, fmt.Errorf("no session with id %s", arg)
}

func newExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export <session> [file]",
		Short: "Export one session as pretty-printed JSON",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(_ store.Store, manager chat.Manager, _ *settings.Service) error {
				session, err := resolveSession(manager, args[0])
				if err != nil {
					return err
				}
				data, err := manager.ExportSession(session.ID)
				if err != nil {
					return err
				}
				name := chat.ExportFileName(session.Title, time.Now())
				if len(args) == 2 {
					name = args[1]
				}
				if err := os.WriteFile(name, data, 0o644); err != nil {
					return err
				}
				fmt.Println("exported to " + name)
				return nil
			})
		},
	}
}

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a single exported session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(_ store.Store, manager chat.Manager, _ *settings.Service) error {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				session, err := manager.ImportSession(data)
				if err != nil {
					return err
				}
				fmt.Printf("imported %q (%d messages)\n", session.Title, len(session.Messages))
				return nil
			})
		},
	}
}

func newExportAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export-all [file]",
		Short: "Export the whole session collection",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(_ store.Store, manager chat.Manager, _ *settings.Service) error {
				data, err := manager.ExportAll()
				if err != nil {
					return err
				}
				name := "wikichat_sessions_" + time.Now().Format("2006-01-02") + ".json"
				if len(args) == 1 {
					name = args[0]
				}
				if err := os.WriteFile(name, data, 0o644); err != nil {
					return err
				}
				fmt.Println("exported to " + name)
				return nil
			})
		},
	}
}

func newImportAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import-all <file>",
		Short: "Replace the session collection with an exported one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(_ store.Store, manager chat.Manager, _ *settings.Service) error {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				if err := manager.ImportAll(data); err != nil {
					return err
				}
				fmt.Println("import done")
				return nil
			})
		},
	}
}
