package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cstaal88/mina-pipeline/internal/config"
	"github.com/cstaal88/mina-pipeline/internal/snapshot"
	"github.com/spf13/cobra"
)

func snapshotCmd() *cobra.Command {
	snap := &cobra.Command{
		Use:   "snapshot",
		Short: "Push, inspect and restore gist snapshots",
	}
	snap.AddCommand(snapshotPushCmd(), snapshotHistoryCmd(), snapshotRestoreCmd())
	return snap
}

func snapshotPushCmd() *cobra.Command {
	var topicFlag string

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upload the combined raw and published files to the topic's gist",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			topic, err := env.topics.Get(topicFlag)
			if err != nil {
				return err
			}
			if topic.GistID == "" {
				return fmt.Errorf("topic %q: %w", topic.Name, snapshot.ErrNoGist)
			}

			store := snapshot.NewGistStore(env.logger)
			uploads := []struct{ name, path string }{
				{"raw.jsonl", env.cfg.Data.CombinedFile(topic.Name)},
				{"clean.jsonl", env.cfg.Data.CleanFile(topic.Name)},
			}
			for _, u := range uploads {
				if err := store.Upload(cmd.Context(), topic.GistID, u.name, u.path); err != nil {
					return fmt.Errorf("%s: %w", u.name, err)
				}
				fmt.Printf("pushed %s (%s)\n", u.name, u.path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&topicFlag, "topic", "", "Topic name (default: configured default topic)")
	return cmd
}

func snapshotHistoryCmd() *cobra.Command {
	var (
		topicFlag string
		limitFlag int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent snapshot revisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			topic, err := env.topics.Get(topicFlag)
			if err != nil {
				return err
			}
			if topic.GistID == "" {
				return fmt.Errorf("topic %q: %w", topic.Name, snapshot.ErrNoGist)
			}

			store := snapshot.NewGistStore(env.logger)
			revs, err := store.History(cmd.Context(), topic.GistID, limitFlag)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "version\tcommitted\tchange")
			for _, r := range revs {
				fmt.Fprintf(w, "%.8s\t%s\t+%d/-%d\n", r.Version, r.CommittedAt, r.Additions, r.Deletions)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&topicFlag, "topic", "", "Topic name (default: configured default topic)")
	cmd.Flags().IntVar(&limitFlag, "limit", 10, "Revisions to list")
	return cmd
}

func snapshotRestoreCmd() *cobra.Command {
	var (
		topicFlag   string
		versionFlag string
		fileFlag    string
		uploadFlag  bool
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a snapshot revision over the local file",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			topic, err := env.topics.Get(topicFlag)
			if err != nil {
				return err
			}
			if topic.GistID == "" {
				return fmt.Errorf("topic %q: %w", topic.Name, snapshot.ErrNoGist)
			}
			path, err := localPathFor(env.cfg.Data, topic.Name, fileFlag)
			if err != nil {
				return err
			}

			store := snapshot.NewGistStore(env.logger)
			err = snapshot.Restore(cmd.Context(), store, snapshot.RestoreOptions{
				GistID:   topic.GistID,
				Version:  versionFlag,
				Name:     fileFlag,
				Path:     path,
				Reupload: uploadFlag,
			})
			if err != nil {
				return err
			}
			fmt.Printf("restored %s@%.8s to %s\n", fileFlag, versionFlag, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&topicFlag, "topic", "", "Topic name (default: configured default topic)")
	cmd.Flags().StringVar(&versionFlag, "version", "", "Gist revision SHA")
	cmd.Flags().StringVar(&fileFlag, "file", "", "File inside the gist (raw.jsonl or clean.jsonl)")
	cmd.Flags().BoolVar(&uploadFlag, "upload", false, "Re-upload the restored content as the current revision")
	cmd.MarkFlagRequired("version")
	cmd.MarkFlagRequired("file")
	return cmd
}

func localPathFor(paths config.DataConfig, topic, name string) (string, error) {
	switch name {
	case "raw.jsonl":
		return paths.CombinedFile(topic), nil
	case "clean.jsonl":
		return paths.CleanFile(topic), nil
	}
	return "", fmt.Errorf("unknown snapshot file %q (want raw.jsonl or clean.jsonl)", name)
}
