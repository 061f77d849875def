package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Topic definition errors. Callers branch on these with errors.Is.
var (
	ErrNoTopics     = errors.New("no topics configured")
	ErrUnknownTopic = errors.New("unknown topic")
)

// Outlet maps a news source domain to its numeric search API source id.
// Outlets are listed, not mapped, because collection walks them in the
// configured order.
type Outlet struct {
	Domain string `yaml:"domain"`
	ID     int64  `yaml:"id"`
}

// Topic is an immutable per-topic collection definition. Keyword lists feed
// the two filter tiers: FilterKeywords gate broadly at collection and clean
// time, TopicKeywords gate strictly before publication, ExcludeKeywords
// negate a broad match.
type Topic struct {
	Name            string   `yaml:"-"`
	StartDate       string   `yaml:"start_date"`
	Query           string   `yaml:"query"`
	Outlets         []Outlet `yaml:"outlets"`
	FilterKeywords  []string `yaml:"filter_keywords"`
	TopicKeywords   []string `yaml:"topic_keywords"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
	Feeds           []string `yaml:"feeds"`
	GistID          string   `yaml:"gist_id"`
}

// Topics holds every configured topic plus the default selection.
type Topics struct {
	DefaultTopic string           `yaml:"default_topic"`
	Topics       map[string]Topic `yaml:"topics"`
}

// LoadTopics reads and validates a topics YAML file.
func LoadTopics(path string) (*Topics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topics file: %w", err)
	}

	var topics Topics
	if err := yaml.Unmarshal(data, &topics); err != nil {
		return nil, fmt.Errorf("parsing topics file: %w", err)
	}

	for name, topic := range topics.Topics {
		topic.Name = name
		topics.Topics[name] = topic
	}

	if err := topics.Validate(); err != nil {
		return nil, err
	}

	return &topics, nil
}

// Validate checks structural requirements on every topic.
func (t *Topics) Validate() error {
	if len(t.Topics) == 0 {
		return ErrNoTopics
	}

	if t.DefaultTopic != "" {
		if _, ok := t.Topics[t.DefaultTopic]; !ok {
			return fmt.Errorf("%w: default_topic %q", ErrUnknownTopic, t.DefaultTopic)
		}
	}

	for name, topic := range t.Topics {
		if topic.StartDate == "" {
			return fmt.Errorf("topic %q: start_date is required", name)
		}
		if _, err := time.Parse("2006-01-02", topic.StartDate); err != nil {
			return fmt.Errorf("topic %q: start_date must be YYYY-MM-DD: %w", name, err)
		}
		if topic.Query == "" && len(topic.Feeds) == 0 {
			return fmt.Errorf("topic %q: needs a query or at least one feed", name)
		}
		if topic.Query != "" && len(topic.Outlets) == 0 {
			return fmt.Errorf("topic %q: a query needs outlets to search", name)
		}
		for i, outlet := range topic.Outlets {
			if outlet.Domain == "" {
				return fmt.Errorf("topic %q: outlet %d has no domain", name, i)
			}
			if outlet.ID <= 0 {
				return fmt.Errorf("topic %q: outlet %q has no source id", name, outlet.Domain)
			}
		}
	}

	return nil
}

// Get returns the named topic, or the default topic when name is empty.
func (t *Topics) Get(name string) (Topic, error) {
	if name == "" {
		name = t.DefaultTopic
	}
	if name == "" {
		return Topic{}, fmt.Errorf("%w: no topic given and no default configured", ErrUnknownTopic)
	}

	topic, ok := t.Topics[name]
	if !ok {
		return Topic{}, fmt.Errorf("%w: %q (available: %v)", ErrUnknownTopic, name, t.Names())
	}
	return topic, nil
}

// Names returns all configured topic names, sorted.
func (t *Topics) Names() []string {
	names := make([]string, 0, len(t.Topics))
	for name := range t.Topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start returns the topic start date as a time.Time. Validate guarantees it
// parses.
func (tp Topic) Start() time.Time {
	start, _ := time.Parse("2006-01-02", tp.StartDate)
	return start
}
