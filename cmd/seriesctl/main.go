// Command seriesctl is an operator tool for stored series and presence sockets.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/caro-series/internal/rewardq"
	"github.com/park285/caro-series/internal/series"
	"github.com/park285/caro-series/internal/sqlstore"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: seriesctl <command> [args]

commands:
  get <series-id>        print the stored series snapshot
  list <player-id>       list series ids of a player
  history <player-id>    print archived series (needs DATABASE_URL)
  dlq                    print dead-lettered reward deliveries
  presence <base-url> <series-id> <player-id>
                         hold a player's presence socket open until interrupted`)
	os.Exit(2)
}

func main() {
	limit := flag.Int("limit", 20, "max rows")
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	if args[0] == "presence" {
		if len(args) < 4 {
			usage()
		}
		pc, err := newPresenceClient(args[1], args[2], args[3])
		if err != nil {
			log.Fatalf("presence: %v", err)
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := pc.Run(ctx); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "get", "list":
		if len(args) < 2 {
			usage()
		}
		store := series.NewRedisStore(redisClient(), 0)
		if args[0] == "get" {
			s, err := store.Load(ctx, args[1])
			if err != nil {
				log.Fatalf("load %s: %v", args[1], err)
			}
			printJSON(s)
			return
		}
		ids, err := store.ListByPlayer(ctx, args[1])
		if err != nil {
			log.Fatalf("list %s: %v", args[1], err)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
	case "history":
		if len(args) < 2 {
			usage()
		}
		driver := strings.TrimSpace(os.Getenv("DATABASE_DRIVER"))
		db, err := sqlstore.Open(driver, os.Getenv("DATABASE_URL"))
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()
		recs, err := sqlstore.NewArchive(db).History(ctx, args[1], *limit)
		if err != nil {
			log.Fatalf("history: %v", err)
		}
		for _, r := range recs {
			fmt.Printf("%s  %s  %-10s %s vs %s  winner=%s  confirmed=%t\n",
				r.EndedAt.Format(time.RFC3339), r.SeriesID, r.Status, r.Player1, r.Player2, r.WinnerID, r.RewardsConfirmed)
		}
	case "dlq":
		q := rewardq.NewQueue(redisClient(), "rewards", nil, 0, 0)
		dls, err := q.DeadLetters(ctx, int64(*limit))
		if err != nil {
			log.Fatalf("dead letters: %v", err)
		}
		printJSON(dls)
	default:
		usage()
	}
}

func redisClient() *redis.Client {
	raw := strings.TrimSpace(os.Getenv("REDIS_URL"))
	if raw == "" {
		log.Fatal("REDIS_URL is required")
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		log.Fatalf("parse REDIS_URL: %v", err)
	}
	return redis.NewClient(opts)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encode: %v", err)
	}
}
