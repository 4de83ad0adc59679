package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"subtrack/internal/localcache"
	"subtrack/internal/models"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dumps the locally cached subscription collection for a user, so
// operators can see what a device would fall back to when the remote
// backend is unreachable.
func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("cachedump", flag.ContinueOnError)
	fs.SetOutput(stderr)

	userID := fs.String("user", "", "User ID")
	cachePath := fs.String("cache", "subtrack.db", "Path to cache database file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *userID == "" {
		fmt.Fprintln(stdout, "Usage: cachedump -user <user_id> [-cache <cache_path>]")
		fs.PrintDefaults()
		return fmt.Errorf("missing required flags: user")
	}

	// Allow overriding cache path via env var if not explicitly set via flag
	if path := os.Getenv("SUBTRACK_CACHE_PATH"); path != "" && *cachePath == "subtrack.db" {
		*cachePath = path
	}

	cache, err := localcache.NewCache(*cachePath)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer cache.Close()

	subs, ok, err := cache.LoadSubscriptions(*userID)
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}
	if !ok {
		fmt.Fprintf(stdout, "No cached subscriptions for user %s\n", *userID)
		return nil
	}

	var monthly float64
	for _, sub := range subs {
		marker := " "
		if sub.IsLocal {
			marker = "*"
		}
		fmt.Fprintf(stdout, "%s %-36s  %-24s  %8.2f %-9s  %s\n",
			marker, sub.ID, sub.Name, sub.Price, sub.BillingCycle, sub.Category)
		monthly += models.MonthlyCost(sub.Price, sub.BillingCycle)
	}
	fmt.Fprintf(stdout, "%d subscription(s), %.2f/month equivalent (* = saved locally only)\n",
		len(subs), monthly)
	return nil
}
