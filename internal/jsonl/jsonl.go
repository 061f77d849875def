// Package jsonl reads and writes the line-delimited JSON files that hold raw
// and published records. Writers append one record at a time so a crash loses
// at most the in-flight line; whole-file rewrites go through a temp file and
// an atomic rename.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cstaal88/mina-pipeline/internal/models"
)

// maxLineSize bounds a single record line. Scraped descriptions are truncated
// upstream, but raw pages occasionally produce very long titles.
const maxLineSize = 4 * 1024 * 1024

// Writer appends records to a JSONL file. Writes go straight to the file
// descriptor, so each record is handed to the OS before Write returns.
type Writer struct {
	f   *os.File
	enc *json.Encoder
}

// NewWriter opens path for appending, creating parent directories as needed.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &Writer{f: f, enc: enc}, nil
}

// Write appends one record as a single JSON line.
func (w *Writer) Write(v any) error {
	return w.enc.Encode(v)
}

// Sync flushes the file to stable storage.
func (w *Writer) Sync() error {
	return w.f.Sync()
}

// Close syncs and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Scan calls fn for every data line in path. Blank lines, manifest and meta
// header lines, and lines that do not parse as JSON are skipped. A missing
// file is not an error; scanning just yields nothing.
func Scan(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || !json.Valid(line) || IsMetaLine(line) {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning %s: %w", path, err)
	}
	return nil
}

// ReadStories decodes every story record in path.
func ReadStories(path string) ([]models.Story, error) {
	var stories []models.Story
	err := Scan(path, func(line []byte) error {
		var story models.Story
		if err := json.Unmarshal(line, &story); err != nil {
			return nil
		}
		stories = append(stories, story)
		return nil
	})
	return stories, err
}

// ReadResults decodes every scrape result record in path.
func ReadResults(path string) ([]models.ScrapeResult, error) {
	var results []models.ScrapeResult
	err := Scan(path, func(line []byte) error {
		var result models.ScrapeResult
		if err := json.Unmarshal(line, &result); err != nil {
			return nil
		}
		results = append(results, result)
		return nil
	})
	return results, err
}

// ReadArticles decodes every published article record in path.
func ReadArticles(path string) ([]models.Article, error) {
	var articles []models.Article
	err := Scan(path, func(line []byte) error {
		var article models.Article
		if err := json.Unmarshal(line, &article); err != nil {
			return nil
		}
		articles = append(articles, article)
		return nil
	})
	return articles, err
}

// WriteAtomic rebuilds path in one shot: fill writes the full content to a
// temp file in the same directory, which then replaces path by rename. On
// error the temp file is removed and path is left untouched.
func WriteAtomic(path string, fill func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	if err := fill(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}

	name := tmp.Name()
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	tmp = nil
	return nil
}

// EncodeLine writes v as one JSON line to w without HTML escaping, so URLs
// with query strings round-trip byte-identically.
func EncodeLine(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// IsMetaLine reports whether a line is a manifest or meta header rather than
// a data record. Truthiness mirrors what older header writers produced: any
// value other than false, null, zero, or an empty string counts.
func IsMetaLine(line []byte) bool {
	var probe struct {
		Manifest json.RawMessage `json:"_manifest"`
		Meta     json.RawMessage `json:"_meta"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return false
	}
	return truthy(probe.Manifest) || truthy(probe.Meta)
}

func truthy(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "false", "null", "0", `""`:
		return false
	}
	return true
}
