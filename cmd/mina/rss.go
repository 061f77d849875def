package main

import (
	"fmt"

	"github.com/cstaal88/mina-pipeline/internal/rss"
	"github.com/spf13/cobra"
)

func rssCmd() *cobra.Command {
	var (
		topicFlag string
		daysFlag  int
		limitFlag int
	)

	cmd := &cobra.Command{
		Use:   "rss",
		Short: "Collect story metadata from the topic's RSS feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			topic, err := env.topics.Get(topicFlag)
			if err != nil {
				return err
			}

			collector := rss.New(env.cfg.Data, env.logger)
			summary, err := collector.Run(cmd.Context(), rss.Options{
				Topic:    topic,
				DaysBack: daysFlag,
				Limit:    limitFlag,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%d feeds (%d failed), %d items: %d new, %d known, %d filtered\n",
				summary.Feeds, summary.FeedsFailed, summary.Items,
				summary.New, summary.Skipped, summary.Filtered)
			return nil
		},
	}

	cmd.Flags().StringVar(&topicFlag, "topic", "", "Topic name (default: configured default topic)")
	cmd.Flags().IntVar(&daysFlag, "days", 0, "Drop items published more than N days ago (0 keeps all)")
	cmd.Flags().IntVar(&limitFlag, "limit", 0, "Keep at most N items per feed")
	return cmd
}
