package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"chatserver/catalog"
)

// Version is the server's reported version string.
const Version = "1.0.0"

func main() {
	// Check for CLI subcommands before parsing flags.
	if len(os.Args) > 1 {
		cliDB := "chat.db"
		cliBans := "banned.txt"
		if RunCLI(os.Args[1:], cliDB, cliBans) {
			return
		}
	}

	addr := flag.String("addr", ":3333", "WebSocket listen address")
	apiAddr := flag.String("api-addr", ":8080", "REST health/status API listen address (empty to disable)")
	dbPath := flag.String("db", "chat.db", "SQLite catalog database path")
	banPath := flag.String("ban-file", "banned.txt", "banned-address file path")
	adminFile := flag.String("admin-file", "admin.txt", "admin secret file path")
	idleTimeout := flag.Duration("idle-timeout", 30*time.Second, "HTTP idle timeout")
	flag.Parse()

	catalogDB, err := catalog.Open(*dbPath)
	if err != nil {
		log.Fatalf("[catalog] %v", err)
	}
	defer catalogDB.Close()

	bans := newBanStore(*banPath)
	if err := bans.load(); err != nil {
		log.Fatalf("[banstore] %v", err)
	}

	creds := newCredentialRotator(*adminFile)
	identities := newIdentityRegistry()
	limiter := newRateLimiter()

	h := newHub(identities, bans, creds, limiter, catalogDB)
	d := newDispatcher(h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	go creds.run(ctx)
	go RunMetrics(ctx, h, 5*time.Second)

	if *apiAddr != "" {
		api := NewAPIServer(h)
		go func() {
			if err := api.Run(ctx, *apiAddr); err != nil {
				log.Printf("[httpapi] %v", err)
			}
		}()
		log.Printf("[httpapi] listening on %s", *apiAddr)
	}

	srv := NewServer(*addr, h, d, *idleTimeout)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("[server] %v", err)
	}
}
