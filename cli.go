package main

import (
	"context"
	"fmt"
	"os"

	"chatserver/catalog"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was
// handled, so main can fall through to the flag-parsed server start
// otherwise.
func RunCLI(args []string, dbPath, banPath string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("chatserver %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "rooms":
		return cliRooms(args[1:], dbPath)
	case "bans":
		return cliBans(args[1:], banPath)
	default:
		return false
	}
}

func cliStatus(dbPath string) bool {
	st, err := catalog.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	rooms, err := st.ListActive(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Active rooms: %d\n", len(rooms))
	fmt.Printf("Version: %s\n", Version)
	return true
}

func cliRooms(args []string, dbPath string) bool {
	st, err := catalog.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()

	if len(args) == 0 || args[0] == "list" {
		rooms, err := st.ListActive(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(rooms) == 0 {
			fmt.Println("No active rooms.")
			return true
		}
		for _, r := range rooms {
			fmt.Printf("  [%d] %s (created by %s)\n", r.ID, r.Name, r.CreatedBy)
		}
		return true
	}

	if args[0] == "create" && len(args) > 1 {
		name := args[1]
		if _, err := st.Create(ctx, name, "cli"); err != nil {
			fmt.Fprintf(os.Stderr, "error creating room: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created room %q\n", name)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: chatserver rooms [list|create <name>]\n")
	os.Exit(1)
	return true
}

func cliBans(args []string, banPath string) bool {
	bans := newBanStore(banPath)
	if err := bans.load(); err != nil {
		fmt.Fprintf(os.Stderr, "error loading ban store: %v\n", err)
		os.Exit(1)
	}

	if len(args) == 0 || args[0] == "list" {
		bans.mu.RLock()
		defer bans.mu.RUnlock()
		if len(bans.set) == 0 {
			fmt.Println("No bans recorded.")
			return true
		}
		for addr := range bans.set {
			fmt.Printf("  %s\n", addr)
		}
		return true
	}

	if args[0] == "add" && len(args) > 1 {
		bans.add(args[1])
		fmt.Printf("Banned %s\n", args[1])
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: chatserver bans [list|add <ip>]\n")
	os.Exit(1)
	return true
}
