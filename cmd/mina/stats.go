package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cstaal88/mina-pipeline/internal/runlog"
	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	var (
		topicFlag string
		runsFlag  int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recent pipeline runs from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			// An empty topic means all topics here, so only resolve a
			// name that was actually given.
			topicName := topicFlag
			if topicName != "" {
				topic, err := env.topics.Get(topicName)
				if err != nil {
					return err
				}
				topicName = topic.Name
			}

			store, err := runlog.Open(env.cfg.Data.RunDB)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.RecentRuns(cmd.Context(), topicName, runsFlag)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no recorded runs")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "started\ttopic\tmode\tduration\tfetched\tscraped\tadded\tstatus")
			for _, r := range runs {
				status := "ok"
				if !r.Succeeded() {
					status = truncate(r.Error, 40)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.StartedAt.Format("2006-01-02 15:04"), r.Topic, r.Mode,
					r.Duration().Round(time.Second),
					r.Fetched, r.Scraped, r.Added, status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&topicFlag, "topic", "", "Only runs for this topic (default: all)")
	cmd.Flags().IntVar(&runsFlag, "runs", 20, "Runs to list")
	return cmd
}
