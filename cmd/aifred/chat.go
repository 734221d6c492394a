package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/a-marczewski/aifred/internal/app"
	"github.com/a-marczewski/aifred/internal/orchestrator"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session.

Type a message and press enter. Ctrl-C cancels the turn in flight.
Commands:
  /exit, /quit          leave the session
  /clear                clear the conversation history
  /personality on|off   toggle adaptive personality
  /vault <query>        search the memory vault
  /route <text>         explain how a message would be routed`,
}

var askCmd = &cobra.Command{
	Use:   "ask [text]",
	Short: "Ask a single question and print the answer",
	Args:  cobra.MinimumNArgs(1),
}

var (
	chatVerbose bool
	askJSON     bool
)

func init() {
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "Print turn state transitions")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the full turn result as JSON")
}

func runChatCmd(a *app.App, gate *terminalGate, cmd *cobra.Command, args []string) {
	gate.setInteractive(true)
	defer gate.setInteractive(false)

	if chatVerbose {
		a.Session.Subscribe(func(token uint64, state orchestrator.State) {
			fmt.Fprintf(os.Stderr, "  [%d] %s\n", token, state)
		})
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			a.Session.Cancel()
		}
	}()

	fmt.Println("AIFRED chat. Type /exit to leave.")
	for {
		fmt.Print("\n> ")
		line, err := gate.in.ReadString('\n')
		text := strings.TrimSpace(line)
		if text != "" {
			if done := handleChatLine(a, text); done {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				a.Core.Logger.Warn("Failed to read input", zap.Error(err))
			}
			fmt.Println()
			return
		}
	}
}

// handleChatLine runs one REPL line and reports whether the session should end.
func handleChatLine(a *app.App, text string) bool {
	switch {
	case text == "/exit" || text == "/quit":
		return true
	case text == "/clear":
		a.Session.ClearHistory(a.Ctx)
		fmt.Println("History cleared.")
		return false
	case strings.HasPrefix(text, "/personality"):
		switch strings.TrimSpace(strings.TrimPrefix(text, "/personality")) {
		case "on":
			a.Session.SetPersonalityEnabled(a.Ctx, true)
			fmt.Println("Adaptive personality on.")
		case "off":
			a.Session.SetPersonalityEnabled(a.Ctx, false)
			fmt.Println("Adaptive personality off.")
		default:
			fmt.Println("Usage: /personality on|off")
		}
		return false
	case strings.HasPrefix(text, "/vault"):
		printVaultItems(a.Session.SearchVault(strings.TrimSpace(strings.TrimPrefix(text, "/vault"))))
		return false
	case strings.HasPrefix(text, "/route"):
		printRoute(a, strings.TrimSpace(strings.TrimPrefix(text, "/route")))
		return false
	}

	res, err := a.Session.Submit(a.Ctx, text)
	printTurn(res, err)
	return false
}

func printTurn(res orchestrator.TurnResult, err error) {
	switch {
	case res.Cancelled:
		fmt.Println("(cancelled)")
	case err != nil:
		msg := res.Error
		if msg == "" {
			msg = err.Error()
		}
		fmt.Printf("❌ %s\n", msg)
	default:
		fmt.Printf("\n%s\n", res.Text)
		if res.ToolRounds > 0 {
			fmt.Printf("  (%s via %s, %d tool rounds)\n", res.Model, res.Route, res.ToolRounds)
		}
	}
}

func runAskCmd(a *app.App, gate *terminalGate, cmd *cobra.Command, args []string) {
	gate.setInteractive(!askJSON)
	defer gate.setInteractive(false)

	res, err := a.Session.Submit(a.Ctx, strings.Join(args, " "))
	if askJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
		if err != nil {
			exitCode = 1
		}
		return
	}
	if err != nil {
		printTurn(res, err)
		exitCode = 1
		return
	}
	fmt.Println(res.Text)
}
