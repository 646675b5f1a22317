package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scriptwiki/wikichat/pkg/chat"
	"github.com/scriptwiki/wikichat/pkg/chat/store"
	"github.com/scriptwiki/wikichat/pkg/events"
	"github.com/scriptwiki/wikichat/pkg/inference"
	"github.com/scriptwiki/wikichat/pkg/providers"
	"github.com/scriptwiki/wikichat/pkg/settings"
)

func newChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context())
		},
	}
}

func runChat(ctx context.Context) error {
	s, err := store.NewSQLiteStore(viper.GetString("db"))
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	router, err := events.NewRouter()
	if err != nil {
		return err
	}
	defer func() { _ = router.Close() }()

	manager := chat.NewManager(s, chat.WithPublisher(router.Publisher))
	svc := settings.NewService(s)

	controller := inference.NewController(
		manager,
		providers.NewDefaultRegistry(),
		svc,
		inference.WithPublisher(router.Publisher),
		inference.WithContextProvider(wikiContext),
	)

	router.AddHandler("cli", events.TopicGeneration, func(msg *message.Message) error {
		e, err := events.NewEventFromJSON(msg.Payload)
		if err != nil {
			return err
		}
		switch e_ := e.(type) {
		case *events.EventFinal:
			fmt.Printf("\n%s\n\n", e_.Text)
		case *events.EventError:
			fmt.Printf("\nerror: %s\n\n", e_.ErrorString)
		case *events.EventInterrupt:
			fmt.Printf("\n(stopped)\n\n")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := router.Run(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}()
	<-router.Running()

	// Init publishes the initial session-updated event; the router has to be
	// running before that so it is not dropped.
	if err := manager.Init(); err != nil {
		return err
	}

	fmt.Println("wikichat - type a question, or /help for commands")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := runReplCommand(ctx, manager, controller, line); quit {
				return nil
			}
			continue
		}

		dispatchGenerate(ctx, controller, inference.GenerateRequest{Question: line})
	}
}

// dispatchGenerate runs the generation off the read loop, so /stop and
// further input stay reachable while a request is in flight. Sending again
// while generating cancels the outstanding call instead of queueing.
func dispatchGenerate(ctx context.Context, controller *inference.Controller, req inference.GenerateRequest) {
	go func() {
		reportGenerateError(controller.Generate(ctx, req))
	}()
}

func runReplCommand(ctx context.Context, manager chat.Manager, controller *inference.Controller, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Println(`/new           start a new session
/sessions      list sessions
/switch <n>    switch to session n
/delete <n>    delete session n
/reroll        regenerate the last assistant turn
/swipe <n>     select swipe n of the last assistant turn
/stop          cancel the in-flight generation
/quit          exit`)
	case "/new":
		manager.CreateSession("")
	case "/sessions":
		printSessions(manager)
	case "/switch", "/delete":
		if len(fields) < 2 {
			fmt.Println("usage: " + fields[0] + " <n>")
			return false
		}
		id, ok := sessionIDByIndex(manager, fields[1])
		if !ok {
			fmt.Println("no such session")
			return false
		}
		if fields[0] == "/switch" {
			manager.SwitchSession(id)
		} else {
			manager.DeleteSession(id)
		}
	case "/stop":
		controller.Stop()
	case "/reroll":
		dispatchGenerate(ctx, controller, inference.GenerateRequest{Reroll: true})
	case "/swipe":
		if len(fields) < 2 {
			fmt.Println("usage: /swipe <n>")
			return false
		}
		selectSwipe(manager, fields[1])
	default:
		fmt.Println("unknown command " + fields[0])
	}
	return false
}

func reportGenerateError(err error) {
	if err == nil {
		return
	}
	// Transport failures already arrive as error events; only input and
	// configuration problems need reporting here.
	var validationErr *inference.ValidationError
	var configErr *inference.ConfigurationError
	if errors.As(err, &validationErr) || errors.As(err, &configErr) {
		fmt.Println(err.Error())
	}
}

func printSessions(manager chat.Manager) {
	active := manager.ActiveSession().ID
	for i, s := range manager.Sessions() {
		marker := " "
		if s.ID == active {
			marker = "*"
		}
		fmt.Printf("%s %2d  %s (%d messages)\n", marker, i, s.Title, len(s.Messages))
	}
}

func sessionIDByIndex(manager chat.Manager, arg string) (string, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return "", false
	}
	sessions := manager.Sessions()
	if n < 0 || n >= len(sessions) {
		return "", false
	}
	return sessions[n].ID, true
}

func selectSwipe(manager chat.Manager, arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		fmt.Println("usage: /swipe <n>")
		return
	}
	session := manager.ActiveSession()
	if len(session.Messages) == 0 {
		fmt.Println("no messages")
		return
	}
	m := session.Messages[len(session.Messages)-1]
	if m.Role != chat.RoleAssistant || !m.SelectSwipe(n) {
		fmt.Printf("no swipe %d\n", n)
		return
	}
	manager.CommitAssistantVariant(m.Content, m.Swipes, m.SwipeIndex)
	fmt.Printf("\n%s\n\n", m.Content)
}
