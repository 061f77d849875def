package main

import (
	"fmt"
	"time"

	"github.com/cstaal88/mina-pipeline/internal/models"
	"github.com/cstaal88/mina-pipeline/internal/scrape"
	"github.com/spf13/cobra"
)

func scrapeCmd() *cobra.Command {
	var (
		topicFlag  string
		dateFlag   string
		workers    int
		delayMin   time.Duration
		delayMax   time.Duration
		timeout    time.Duration
		retries    int
		backoffMax time.Duration
		noResume   bool
		limitFlag  int
		rps        float64
		userAgent  string
		sampleN    int
	)
	defaults := scrape.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape page titles and descriptions for collected URLs",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			topic, err := env.topics.Get(topicFlag)
			if err != nil {
				return err
			}
			day := dateFlag
			if day == "" {
				day = time.Now().UTC().Format("2006-01-02")
			}

			scraper := scrape.New(scrape.Options{
				Workers:    workers,
				DelayMin:   delayMin,
				DelayMax:   delayMax,
				Timeout:    timeout,
				Retries:    retries,
				BackoffMax: backoffMax,
				RPS:        rps,
				UserAgent:  userAgent,
				Resume:     !noResume,
				Limit:      limitFlag,
			}, env.logger)
			inPath := env.cfg.Data.URLsFile(topic.Name, day)

			if sampleN > 0 {
				results, err := scraper.Sample(cmd.Context(), inPath, sampleN)
				if err != nil {
					return err
				}
				printSample(results)
				return nil
			}

			summary, err := scraper.Run(cmd.Context(), inPath, env.cfg.Data.ArticlesFile(topic.Name, day))
			if err != nil {
				return err
			}
			fmt.Printf("scraped %d: %d ok, %d failed (%d already done)\n",
				summary.Scraped, summary.OK, summary.Failed, summary.Skipped)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&topicFlag, "topic", "", "Topic name (default: configured default topic)")
	f.StringVar(&dateFlag, "date", "", "Run day YYYY-MM-DD (default: today)")
	f.IntVar(&workers, "workers", defaults.Workers, "Concurrent scrape workers")
	f.DurationVar(&delayMin, "delay-min", defaults.DelayMin, "Minimum politeness delay per request")
	f.DurationVar(&delayMax, "delay-max", defaults.DelayMax, "Maximum politeness delay per request")
	f.DurationVar(&timeout, "timeout", defaults.Timeout, "Per-request timeout")
	f.IntVar(&retries, "retries", defaults.Retries, "Attempts per URL")
	f.DurationVar(&backoffMax, "backoff-max", defaults.BackoffMax, "Retry backoff ceiling")
	f.BoolVar(&noResume, "no-resume", false, "Rescrape URLs already in the output file")
	f.IntVar(&limitFlag, "limit", 0, "Scrape at most N URLs")
	f.Float64Var(&rps, "rps", 0, "Global requests-per-second cap (0 = politeness delays only)")
	f.StringVar(&userAgent, "user-agent", defaults.UserAgent, "User-Agent header")
	f.IntVar(&sampleN, "sample", 0, "Scrape N random URLs and print the results instead of writing")
	return cmd
}

func printSample(results []models.ScrapeResult) {
	for _, r := range results {
		status := "ok"
		if !r.Success {
			status = "fail"
		}
		fmt.Printf("[%s %d] %s\n", status, r.HTTPStatus, r.URL)
		if r.Title != "" {
			fmt.Printf("    title: %s\n", r.Title)
		}
		if r.Description != "" {
			fmt.Printf("    desc:  %s\n", truncate(r.Description, 120))
		}
		if r.Error != "" {
			fmt.Printf("    error: %s\n", r.Error)
		}
	}
}
