// tokenctl manages user token balances. The generation pipeline only ever
// debits; granting credits belongs to the billing flow, which this tool
// stands in for during development and operations.
//
// Usage:
//
//	tokenctl grant <user_id> <amount>
//	tokenctl balance <user_id>
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/snapmeta/snapmeta/internal/config"
	"github.com/snapmeta/snapmeta/internal/repository"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config file")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		usage()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	tokenRepo := repository.NewTokenRepository(db)

	ctx := context.Background()
	command, userID := args[0], args[1]

	switch command {
	case "grant":
		if len(args) != 3 {
			usage()
		}
		amount, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			log.Fatalf("Invalid amount %q: %v", args[2], err)
		}
		if err := tokenRepo.Grant(ctx, userID, amount); err != nil {
			log.Fatalf("Failed to grant tokens: %v", err)
		}
		balance, err := tokenRepo.Balance(ctx, userID)
		if err != nil {
			log.Fatalf("Failed to read balance: %v", err)
		}
		fmt.Printf("Granted %d tokens to %s, balance is now %d\n", amount, userID, balance)

	case "balance":
		balance, err := tokenRepo.Balance(ctx, userID)
		if err != nil {
			log.Fatalf("Failed to read balance: %v", err)
		}
		fmt.Printf("%s: %d tokens\n", userID, balance)

	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tokenctl [-config path] grant <user_id> <amount> | balance <user_id>")
	os.Exit(2)
}
