//go:build ignore

package main

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/cstaal88/mina-pipeline/internal/config"
)

// Wipes a topic's collected raw data so the next fetch starts from
// scratch: every run-day directory, the combined file and the fetch
// checkpoint. The published clean file is left alone.
//
//	go run scripts/utilities/clear_data.go <topic>
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run scripts/utilities/clear_data.go <topic>")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	topics, err := config.LoadTopics(cfg.Data.TopicsFile)
	if err != nil {
		log.Fatalf("Failed to load topics: %v", err)
	}
	topic, err := topics.Get(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to resolve topic: %v", err)
	}

	rawDir := cfg.Data.TopicRawDir(topic.Name)
	entries, err := os.ReadDir(rawDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to read %s: %v", rawDir, err)
	}

	var dayDirs []string
	for _, e := range entries {
		if e.IsDir() {
			dayDirs = append(dayDirs, e.Name())
		}
	}
	combined := cfg.Data.CombinedFile(topic.Name)
	checkpoint := cfg.Data.CheckpointFile(topic.Name)

	fmt.Printf("This will delete for topic %q:\n", topic.Name)
	fmt.Printf("  - %d run-day directories under %s\n", len(dayDirs), rawDir)
	if _, err := os.Stat(combined); err == nil {
		fmt.Printf("  - %s\n", combined)
	}
	if _, err := os.Stat(checkpoint); err == nil {
		fmt.Printf("  - %s\n", checkpoint)
	}
	fmt.Printf("The published file %s is preserved.\n\n", cfg.Data.CleanFile(topic.Name))

	fmt.Print("Type 'yes' to continue: ")
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	if strings.TrimSpace(answer) != "yes" {
		fmt.Println("Aborted, nothing deleted")
		return
	}

	var removed int
	for _, day := range dayDirs {
		dir := cfg.Data.RunDir(topic.Name, day)
		if err := os.RemoveAll(dir); err != nil {
			log.Fatalf("Failed to remove %s: %v", dir, err)
		}
		removed++
	}
	fmt.Printf("✅ Removed %d run-day directories\n", removed)

	for _, path := range []string{combined, checkpoint} {
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			log.Fatalf("Failed to remove %s: %v", path, err)
		}
		fmt.Printf("✅ Removed %s\n", path)
	}

	fmt.Printf("\nTopic %q reset. Preserved:\n", topic.Name)
	fmt.Printf("  - %s\n", cfg.Data.CleanFile(topic.Name))
}
