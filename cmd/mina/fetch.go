package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/cstaal88/mina-pipeline/internal/checkpoint"
	"github.com/cstaal88/mina-pipeline/internal/collect"
	"github.com/cstaal88/mina-pipeline/internal/search"
	"github.com/spf13/cobra"
)

func fetchCmd() *cobra.Command {
	var (
		topicFlag string
		startFlag string
		endFlag   string
		daysFlag  int
		statsFlag bool
		tableFlag bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Collect story metadata from the search API",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			topic, err := env.topics.Get(topicFlag)
			if err != nil {
				return err
			}
			if env.cfg.API.Key == "" {
				return errNoAPIKey
			}

			client := search.NewClient(env.cfg.API, env.logger)
			checkpoints := checkpoint.NewFileStore(env.cfg.Data, env.logger)
			engine := collect.New(client, checkpoints, env.cfg.Data, env.cfg.API.PageSize, env.logger)
			opts := collect.Options{Topic: topic, StartDate: startFlag, EndDate: endFlag, Days: daysFlag}
			ctx := cmd.Context()

			switch {
			case tableFlag:
				grid, err := engine.CoverageGrid(ctx, opts)
				if err != nil {
					return err
				}
				printCoverageGrid(grid)
				return nil
			case statsFlag:
				days, err := engine.Coverage(ctx, opts)
				if err != nil {
					return err
				}
				printCoverage(days)
				return nil
			}

			summary, err := engine.Run(ctx, opts)
			if summary != nil {
				fmt.Printf("fetched %d new, %d already held (%d units done, %d skipped, %d failed)\n",
					summary.New, summary.Skipped,
					summary.UnitsCompleted, summary.UnitsSkipped, summary.UnitsFailed)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&topicFlag, "topic", "", "Topic name (default: configured default topic)")
	cmd.Flags().StringVar(&startFlag, "start", "", "First day to cover, YYYY-MM-DD (default: topic start date)")
	cmd.Flags().StringVar(&endFlag, "end", "", "Last day to cover, YYYY-MM-DD (default: today)")
	cmd.Flags().IntVar(&daysFlag, "days", 0, "Only the N most recent days of the window")
	cmd.Flags().BoolVar(&statsFlag, "stats", false, "Report per-day coverage instead of fetching")
	cmd.Flags().BoolVar(&tableFlag, "table", false, "Report the day-by-outlet coverage grid instead of fetching")
	return cmd
}

func printCoverage(days []collect.DayCoverage) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "day\theld\tavailable")
	var held, complete int
	for _, d := range days {
		fmt.Fprintf(w, "%s\t%d\t%s\n", d.Day, d.Downloaded, formatAvail(d.Available, d.LowConfidence))
		held += d.Downloaded
		if d.Complete() {
			complete++
		}
	}
	w.Flush()
	fmt.Printf("%d records held, %d of %d days complete\n", held, complete, len(days))
}

func printCoverageGrid(grid *collect.CoverageTable) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprint(w, "day")
	for _, o := range grid.Outlets {
		fmt.Fprintf(w, "\t%s", o.Domain)
	}
	fmt.Fprintln(w)
	for _, day := range grid.Days {
		fmt.Fprint(w, day)
		for _, o := range grid.Outlets {
			c := grid.Cells[day][o.Domain]
			fmt.Fprintf(w, "\t%d/%s", c.Have, formatAvail(c.Avail, c.LowConfidence))
		}
		fmt.Fprintln(w)
	}
	w.Flush()
}

// formatAvail renders an availability count: "?" when the lookup failed,
// a trailing "?" when the API reported it without a usable total.
func formatAvail(avail int, lowConfidence bool) string {
	if avail < 0 {
		return "?"
	}
	if lowConfidence {
		return strconv.Itoa(avail) + "?"
	}
	return strconv.Itoa(avail)
}
