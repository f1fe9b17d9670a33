// Package cli implements the interactive operator console for the proxy.
// It exposes live lobby, room and session state plus a few management
// commands over standard input.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/vcmi/proxy-server/internal/config"
	"github.com/vcmi/proxy-server/internal/events"
	"github.com/vcmi/proxy-server/internal/lobby"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	lobby    *lobby.Lobby
}

// NewCLI creates a new CLI handler.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, lb *lobby.Lobby) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		lobby:    lb,
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nProxy CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	reader := newLineReader()
	if reader == nil {
		log.Warn().Msg("CLI: failed to initialize line reader, CLI disabled")
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadLine("proxy> ")
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "users", "u":
		c.printUsers()
	case "rooms", "r":
		c.printRooms()
	case "sessions", "s":
		c.printSessions()
	case "stats":
		c.printStats()
	case "say", "msg":
		return c.cmdSay(args)
	case "kick":
		return c.cmdKick(args)
	case "setconfig":
		return c.cmdSetConfig(args)
	case "quit", "exit", "q":
		fmt.Println("Shutting down proxy...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     Proxy CLI Commands                       ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  users              List authenticated lobby users          ║")
	fmt.Println("║  rooms              List open game rooms                     ║")
	fmt.Println("║  sessions           List running game sessions               ║")
	fmt.Println("║  stats              Show lifetime counters                   ║")
	fmt.Println("║  say <message>      Broadcast a system message to the lobby  ║")
	fmt.Println("║  kick <user>        Disconnect a lobby user                  ║")
	fmt.Println("║  setconfig <k> <v>  Update a configuration value             ║")
	fmt.Println("║  quit               Shutdown the proxy                       ║")
	fmt.Println("║  help               Show this help message                   ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printUsers displays connected lobby users in a formatted table.
func (c *CLI) printUsers() {
	users := c.lobby.Users()

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"User", "Protocol", "Version", "Room", "Ready", "Address", "Online"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, u := range users {
		room := u.Room
		if room == "" {
			room = "-"
		}
		tw.Append([]string{
			u.Username,
			fmt.Sprintf("%d", u.Protocol),
			u.Version,
			room,
			fmt.Sprintf("%v", u.Ready),
			u.Addr,
			time.Since(u.Connected).Round(time.Second).String(),
		})
	}

	tw.Render()
	fmt.Printf("%d users online\n\n", len(users))
}

// printRooms displays open rooms in a formatted table.
func (c *CLI) printRooms() {
	rooms := c.lobby.Rooms()

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Room", "Host", "Players", "Protected", "Mode"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, r := range rooms {
		mode := "new game"
		if r.GameMode == lobby.GameModeLoad {
			mode = "load game"
		}
		tw.Append([]string{
			r.Name,
			r.Host,
			fmt.Sprintf("%d/%d", r.Joined, r.Total),
			fmt.Sprintf("%v", r.Protected),
			mode,
		})
	}

	tw.Render()
	fmt.Printf("%d open rooms\n\n", len(rooms))
}

// printSessions displays running game sessions in a formatted table.
func (c *CLI) printSessions() {
	sessions := c.lobby.Sessions()

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Session", "ID", "Pairs", "Age"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, s := range sessions {
		tw.Append([]string{
			s.Name,
			s.ID,
			fmt.Sprintf("%d", s.Pairs),
			time.Since(s.CreatedAt).Round(time.Second).String(),
		})
	}

	tw.Render()
	fmt.Printf("%d sessions, %d game connections\n\n", len(sessions), c.lobby.Playing())
}

// printStats displays the lifetime counters.
func (c *CLI) printStats() {
	snapshot := c.lobby.Stats().Snapshot()

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Counter", "Value"})
	tw.SetBorder(true)

	for _, key := range []string{
		lobby.StatUniques,
		lobby.StatUsers,
		lobby.StatLogins,
		lobby.StatClients,
		lobby.StatRooms,
		lobby.StatSessions,
		lobby.StatConnections,
	} {
		tw.Append([]string{key, fmt.Sprintf("%d", snapshot[key])})
	}

	tw.Render()
	fmt.Println()
}

func (c *CLI) cmdSay(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: say <message>")
	}

	message := strings.Join(args, " ")
	sent := c.lobby.Announce(message)
	fmt.Printf("Message sent to %d users\n", sent)
	return nil
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kick <user>")
	}

	if err := c.lobby.DropUser(args[0]); err != nil {
		return err
	}
	fmt.Printf("User %s disconnected\n", args[0])
	return nil
}

func (c *CLI) cmdSetConfig(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setconfig <key> <value>")
	}

	key := args[0]
	value := strings.Join(args[1:], " ")

	if err := c.cfg.UpdateField(key, value); err != nil {
		return err
	}

	if err := c.cfg.Save(); err != nil {
		return err
	}

	fmt.Printf("Config updated: %s = %s\n", key, value)
	return nil
}

// lineReader is a simple cross-platform line reader.
type lineReader struct {
	scanner *bufio.Scanner
}

func newLineReader() *lineReader {
	return &lineReader{scanner: bufio.NewScanner(os.Stdin)}
}

func (lr *lineReader) ReadLine(prompt string) (string, error) {
	fmt.Print(prompt)
	if !lr.scanner.Scan() {
		if err := lr.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return lr.scanner.Text(), nil
}
