package main

import (
	"fmt"
	"time"

	"github.com/cstaal88/mina-pipeline/internal/checkpoint"
	"github.com/cstaal88/mina-pipeline/internal/clean"
	"github.com/cstaal88/mina-pipeline/internal/collect"
	"github.com/cstaal88/mina-pipeline/internal/models"
	"github.com/cstaal88/mina-pipeline/internal/pipeline"
	"github.com/cstaal88/mina-pipeline/internal/rss"
	"github.com/cstaal88/mina-pipeline/internal/runlog"
	"github.com/cstaal88/mina-pipeline/internal/scrape"
	"github.com/cstaal88/mina-pipeline/internal/search"
	"github.com/cstaal88/mina-pipeline/internal/snapshot"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		topicFlag   string
		daysFlag    int
		collectOnly bool
		cleanOnly   bool
		pushFlag    bool
		autoFlag    bool
		waitFlag    bool
		atFlag      string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline: fetch, scrape, clean and optionally push",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			topic, err := env.topics.Get(topicFlag)
			if err != nil {
				return err
			}
			if topic.Query != "" && env.cfg.API.Key == "" && !cleanOnly {
				return errNoAPIKey
			}

			ledger, err := runlog.Open(env.cfg.Data.RunDB)
			if err != nil {
				return err
			}
			defer ledger.Close()

			deps := pipeline.Deps{
				Scraper: scrape.New(scrape.DefaultOptions(), env.logger),
				Cleaner: clean.New(env.cfg.Data, env.logger),
				Ledger:  ledger,
			}
			if env.cfg.API.Key != "" {
				client := search.NewClient(env.cfg.API, env.logger)
				checkpoints := checkpoint.NewFileStore(env.cfg.Data, env.logger)
				deps.Fetcher = collect.New(client, checkpoints, env.cfg.Data, env.cfg.API.PageSize, env.logger)
			}
			if len(topic.Feeds) > 0 {
				deps.Feeds = rss.New(env.cfg.Data, env.logger)
			}
			if pushFlag {
				deps.Snapshots = snapshot.NewGistStore(env.logger)
			}

			mode := models.RunModeManual
			if autoFlag {
				mode = models.RunModeAutomated
			}
			runner := pipeline.New(deps, env.cfg.Data, env.logger)
			record, err := runner.Run(cmd.Context(), pipeline.Options{
				Topic:       topic,
				Days:        daysFlag,
				CollectOnly: collectOnly,
				CleanOnly:   cleanOnly,
				Push:        pushFlag,
				Mode:        mode,
				Wait:        waitFlag,
				At:          atFlag,
			})
			if record != nil {
				printRunRecord(record)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&topicFlag, "topic", "", "Topic name (default: configured default topic)")
	cmd.Flags().IntVar(&daysFlag, "days", 0, "Only fetch the N most recent days")
	cmd.Flags().BoolVar(&collectOnly, "collect-only", false, "Stop after fetch and scrape")
	cmd.Flags().BoolVar(&cleanOnly, "clean-only", false, "Skip collection, only clean")
	cmd.Flags().BoolVar(&pushFlag, "push-gist", false, "Push the combined raw and published files to the topic's gist")
	cmd.Flags().BoolVar(&autoFlag, "auto", false, "Record the run as automated")
	cmd.Flags().BoolVar(&waitFlag, "wait", false, "Wait while another collector process is running")
	cmd.Flags().StringVar(&atFlag, "at", "", "Wait until the next occurrence of HH:MM before starting")
	return cmd
}

func printRunRecord(r *models.RunRecord) {
	for _, s := range r.Steps {
		fmt.Printf("  %-7s %6.1fs\n", s.Name, s.Seconds)
	}
	fmt.Printf("%d fetched, %d scraped, %d added in %s\n",
		r.Fetched, r.Scraped, r.Added, r.Duration().Round(time.Second))
}
