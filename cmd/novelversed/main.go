// Command novelversed runs the novelverse streaming daemon with the default
// configuration lookup. Use `novelverse serve` for flag-driven runs.
package main

import (
	"context"
	"errors"
	"log"
	"os"

	"novelverse/internal/config"
	"novelverse/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load(os.Getenv("NOVELVERSE_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("novelversed: %v", err)
	}
}
