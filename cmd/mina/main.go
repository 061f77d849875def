package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cstaal88/mina-pipeline/internal/clean"
	"github.com/cstaal88/mina-pipeline/internal/config"
	"github.com/cstaal88/mina-pipeline/internal/logging"
	"github.com/cstaal88/mina-pipeline/internal/rss"
	"github.com/cstaal88/mina-pipeline/internal/scrape"
	"github.com/cstaal88/mina-pipeline/internal/snapshot"
	"github.com/spf13/cobra"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:          "mina",
		Short:        "mina collects, scrapes and publishes news-article metadata",
		Long:         "Fetches story metadata per topic from the search API and RSS feeds,\nscrapes page titles and descriptions, and publishes a filtered,\ndeduplicated JSONL dataset.",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose engine logging on stderr")

	root.AddCommand(
		fetchCmd(),
		rssCmd(),
		scrapeCmd(),
		cleanCmd(),
		runCmd(),
		snapshotCmd(),
		statsCmd(),
		topicsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(exitCode(err))
	}
}

// errNoAPIKey is a credential fault, reported like any other missing input.
var errNoAPIKey = errors.New("no API key configured (set MEDIACLOUD_API_KEY)")

// cliEnv is what every subcommand needs before doing real work.
type cliEnv struct {
	cfg    config.Config
	topics *config.Topics
	logger *slog.Logger
}

func loadEnv() (*cliEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	topics, err := config.LoadTopics(cfg.Data.TopicsFile)
	if err != nil {
		return nil, err
	}
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return &cliEnv{cfg: cfg, topics: topics, logger: logging.NewCLI(level)}, nil
}

// exitCode maps failures onto the script-facing convention: 2 when an
// input file or credential is absent, 1 for everything else.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	for _, absent := range []error{
		scrape.ErrNoURLs,
		clean.ErrNoRawData,
		clean.ErrNoOutput,
		rss.ErrNoFeeds,
		snapshot.ErrNoGist,
		snapshot.ErrNoGH,
		errNoAPIKey,
		os.ErrNotExist,
	} {
		if errors.Is(err, absent) {
			return 2
		}
	}
	return 1
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
