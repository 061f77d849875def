package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/cstaal88/mina-pipeline/internal/clean"
	"github.com/cstaal88/mina-pipeline/internal/config"
	"github.com/cstaal88/mina-pipeline/internal/models"
	"github.com/spf13/cobra"
)

func cleanCmd() *cobra.Command {
	var (
		topicFlag  string
		statsFlag  bool
		allFlag    bool
		appendFlag bool
		noWrite    bool
		autoFlag   bool
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Join, filter and publish collected records",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			topic, err := env.topics.Get(topicFlag)
			if err != nil {
				return err
			}
			cleaner := clean.New(env.cfg.Data, env.logger)

			if statsFlag {
				return printCleanStats(cleaner, topic, allFlag)
			}

			if !appendFlag && !noWrite && !autoFlag {
				ok, err := confirmShrink(cleaner, topic)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("aborted, nothing written")
					return nil
				}
			}

			summary, err := cleaner.Run(clean.Options{
				Topic:   topic,
				Append:  appendFlag,
				NoWrite: noWrite,
				Mode:    models.RunModeManual,
			})
			if err != nil {
				return err
			}
			printCleanSummary(summary, noWrite)
			return nil
		},
	}

	cmd.Flags().StringVar(&topicFlag, "topic", "", "Topic name (default: configured default topic)")
	cmd.Flags().BoolVar(&statsFlag, "stats", false, "Report on the published file instead of cleaning")
	cmd.Flags().BoolVar(&allFlag, "all", false, "With --stats, also break down everything collected")
	cmd.Flags().BoolVar(&appendFlag, "append", false, "Keep published records and only add new ones")
	cmd.Flags().BoolVar(&noWrite, "no-write", false, "Report what would happen, write nothing")
	cmd.Flags().BoolVar(&autoFlag, "auto", false, "Skip the confirmation when a rebuild would shrink the output")
	return cmd
}

// confirmShrink guards a full rebuild: when the filtered raw set holds
// fewer records than the published file, proceeding loses data, so a
// human has to say yes first. EOF on stdin counts as no.
func confirmShrink(cleaner *clean.Cleaner, topic config.Topic) (bool, error) {
	current, err := cleaner.OutputStats(topic)
	if err != nil || current.Entries == 0 {
		return true, nil
	}
	dry, err := cleaner.Run(clean.Options{Topic: topic, NoWrite: true})
	if err != nil {
		return false, err
	}
	if dry.Total >= current.Entries {
		return true, nil
	}

	fmt.Printf("rebuild would shrink %s from %d to %d entries; continue? [y/N] ",
		filepath.Base(current.Path), current.Entries, dry.Total)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, nil
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func printCleanSummary(s *clean.Summary, noWrite bool) {
	fmt.Printf("%d scraped articles, %d collected urls, %d already published\n",
		s.Articles, s.URLs, s.Existing)
	fmt.Printf("skipped: %d not successful, %d already present, %d non-English, %d off-topic, %d not relevant\n",
		s.SkippedNotSuccess, s.SkippedExists, s.SkippedNonEnglish, s.SkippedOffTopic, s.SkippedNotRelevant)
	for _, p := range s.Problems {
		fmt.Printf("problem: %s\n", p)
	}
	verb := "added"
	if noWrite {
		verb = "would add"
	}
	fmt.Printf("%s %d, %d total\n", verb, s.Added, s.Total)
}

func printCleanStats(cleaner *clean.Cleaner, topic config.Topic, all bool) error {
	out, err := cleaner.OutputStats(topic)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d entries\n", out.Path, out.Entries)
	printCounts("by outlet", out.ByMedia)
	printCounts("by date", out.ByDate)

	if !all {
		return nil
	}
	raw, err := cleaner.RawStats(topic)
	if err != nil {
		return err
	}
	fmt.Printf("\ncollected: %d urls, %d scraped (%d successful)\n", raw.URLs, raw.Articles, raw.Successes)
	fmt.Printf("language: %d English, %d other; %d topic-related\n", raw.English, raw.NonEnglish, raw.TopicRelated)
	printCounts("collected by outlet", raw.ByMedia)
	printCounts("collected by date", raw.ByDate)
	return nil
}

func printCounts(title string, rows []clean.CountRow) {
	if len(rows) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", title)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintf(w, "  %s\t%d\n", row.Key, row.Count)
	}
	w.Flush()
}
