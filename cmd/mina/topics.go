package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func topicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List configured topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "name\tstart\toutlets\tfeeds\tgist\tquery")
			for _, name := range env.topics.Names() {
				topic, err := env.topics.Get(name)
				if err != nil {
					return err
				}
				marker := ""
				if name == env.topics.DefaultTopic {
					marker = " *"
				}
				gist := "-"
				if topic.GistID != "" {
					gist = topic.GistID
				}
				fmt.Fprintf(w, "%s%s\t%s\t%d\t%d\t%s\t%s\n",
					name, marker, topic.StartDate, len(topic.Outlets), len(topic.Feeds),
					gist, truncate(topic.Query, 48))
			}
			return w.Flush()
		},
	}
}
