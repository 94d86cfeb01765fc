package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"wartable/internal/client"
	"wartable/internal/game"
	"wartable/internal/live"
	"wartable/internal/realtime"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "wartable server URL")
	name := flag.String("name", "", "display name")
	role := flag.String("role", game.RolePlayer, "role: dm or player")
	sessionID := flag.String("session", "", "session id to select")
	createName := flag.String("create", "", "create a session with this name and select it")
	invite := flag.String("invite", "", "invite code to redeem before selecting")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if *name == "" {
		fmt.Fprintln(os.Stderr, "a -name is required")
		os.Exit(1)
	}

	ctx := context.Background()

	bootstrap := client.NewAPI(*serverURL, func() string { return "" })
	token, identity, err := bootstrap.IssueToken(ctx, *name, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign in: %v\n", err)
		os.Exit(1)
	}

	creds := client.NewCredentials(logger, token, bootstrap.RefreshToken)
	api := client.NewAPI(*serverURL, creds.Token)
	ch := realtime.NewClient(logger, *serverURL, creds.Token, identity.Name)
	creds.SetOnSwap(func(tok string) {
		if err := ch.ReAuth(tok); err != nil {
			logger.Warn("relay reauth failed", slog.String("error", err.Error()))
		}
	})
	creds.StartAutoRefresh(20 * time.Minute)
	defer creds.Stop()

	target := *sessionID
	switch {
	case *createName != "":
		sess, err := api.CreateSession(ctx, *createName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create session: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("created session %s (%s)\n", sess.Name, sess.ID)
		target = sess.ID
	case *invite != "":
		inv, err := api.JoinSession(ctx, *invite)
		if err != nil {
			fmt.Fprintf(os.Stderr, "redeem invite: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("joined session %s as %s\n", inv.SessionID, inv.Role)
		if target == "" {
			target = inv.SessionID
		}
	}
	if target == "" {
		fmt.Fprintln(os.Stderr, "a -session, -create or -invite is required")
		os.Exit(1)
	}

	syn := live.New(logger, api, ch, api)
	defer syn.Close()
	syn.Notify = func() {
		// Repaint hook; the terminal client just marks that state moved.
		fmt.Print("*")
	}

	if err := syn.Select(ctx, target); err != nil {
		fmt.Fprintf(os.Stderr, "select session: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("live in session %s as %s. commands: move, say, battle, state, quit\n", target, identity.Name)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "move":
			if len(fields) != 4 {
				fmt.Println("usage: move <tokenID> <x> <y>")
				continue
			}
			x, errX := strconv.Atoi(fields[2])
			y, errY := strconv.Atoi(fields[3])
			if errX != nil || errY != nil {
				fmt.Println("x and y must be integers")
				continue
			}
			syn.MoveTokenAndLog(ctx, fields[1], x, y)
		case "say":
			text := strings.TrimSpace(strings.TrimPrefix(line, "say"))
			if text == "" {
				fmt.Println("usage: say <text>")
				continue
			}
			state := syn.View()
			if state.Session.ID == "" {
				fmt.Println("no session selected")
				continue
			}
			if _, err := api.SendChat(ctx, state.Session.ID, text); err != nil {
				fmt.Printf("chat failed: %v\n", err)
			}
		case "battle":
			if len(fields) < 2 {
				fmt.Println("usage: battle <name>")
				continue
			}
			state := syn.View()
			if state.Session.ID == "" {
				fmt.Println("no session selected")
				continue
			}
			b, err := api.CreateBattle(ctx, &game.Battle{
				SessionID: state.Session.ID,
				Name:      strings.Join(fields[1:], " "),
			})
			if err != nil {
				fmt.Printf("battle failed: %v\n", err)
				continue
			}
			fmt.Printf("battle %s started (%s)\n", b.Name, b.ID)
		case "state":
			printState(syn)
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

func printState(syn *live.Synchronizer) {
	fmt.Printf("phase: %s\n", syn.Phase())
	if msg := syn.Err(); msg != "" {
		fmt.Printf("error: %s\n", msg)
	}
	state := syn.View()
	if state.Map != nil {
		fmt.Printf("map %dx%d, %d tokens\n", state.Map.GridSize, state.Map.GridSize, len(state.Map.Tokens))
		for _, tok := range state.Map.Tokens {
			fmt.Printf("  %s (%s) at (%d,%d)\n", tok.Name, tok.Kind, tok.X, tok.Y)
		}
	}
	if state.ActiveBattle != nil {
		fmt.Printf("active battle: %s\n", state.ActiveBattle.Name)
	}
	if len(state.Log) > 0 {
		fmt.Println("log:")
		for _, line := range state.Log {
			fmt.Printf("  %s\n", line)
		}
	}
	if len(state.Participants) > 0 {
		fmt.Println("participants:")
		for _, p := range state.Participants {
			fmt.Printf("  %s (%s)\n", p.Name, p.Role)
		}
	}
	for _, msg := range state.Chat {
		fmt.Printf("chat %s: %s\n", msg.AuthorID, msg.Content)
	}
}
