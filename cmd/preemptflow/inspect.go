package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/BaSui01/preemptflow/checkpoint"
)

// runInspect prints the latest checkpoint record of the configured run as
// JSON, or reports that none exists.
func runInspect(args []string) int {
	cfg, err := loadConfig("inspect", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	store, err := openStore(cfg.Store, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open checkpoint store: %v\n", err)
		return 1
	}
	defer store.Close()

	rec, err := store.Latest(context.Background(), cfg.Run.RunID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		fmt.Printf("no checkpoint for run %q\n", cfg.Run.RunID)
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read checkpoint: %v\n", err)
		return 1
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode record: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}
