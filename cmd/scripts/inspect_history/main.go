package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/wuwenbin0122/mindful.ai/internal/history"
	"github.com/wuwenbin0122/mindful.ai/internal/utils"
)

func main() {
	userID := flag.String("user", "", "user id whose conversation log to print")
	window := flag.Bool("window", false, "print only the turns the next prompt would carry")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect_history -user <id> [-window]")
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := utils.LoadConfig()
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backend, err := history.Open(ctx, cfg, utils.Logger().Sugar())
	if err != nil {
		panic(err)
	}
	defer backend.Close()

	log, err := backend.Store.Find(ctx, *userID)
	if err != nil {
		panic(err)
	}
	if log == nil {
		fmt.Printf("no conversation log for %s (%s backend)\n", *userID, cfg.History.Backend)
		return
	}

	turns := log.SortedTurns()
	if *window {
		turns = history.Window(log, cfg.History.Window)
	}

	fmt.Printf("user: %s\nbackend: %s\nstored turns: %d\ncreated: %s\nupdated: %s\n\n",
		log.UserID, cfg.History.Backend, len(log.Turns),
		log.CreatedAt.Format(time.RFC3339), log.UpdatedAt.Format(time.RFC3339))

	for i, turn := range turns {
		fmt.Printf("#%d %s\n  user: %s\n  assistant: %s\n", i+1, turn.OccurredAt.Format(time.RFC3339), turn.UserText, turn.AssistantText)
	}
}
