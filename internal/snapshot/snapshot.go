// Package snapshot publishes data files to a GitHub gist and recovers
// historical revisions of them. Writes go through the gh CLI, which carries
// the authentication; historical content is read straight from the raw gist
// endpoint, which needs none.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultRawBase = "https://gist.githubusercontent.com"
	fetchTimeout   = 30 * time.Second
	ghTimeout      = 2 * time.Minute
)

var (
	// ErrNoGist is returned when an operation needs a gist id and none is
	// configured for the topic.
	ErrNoGist = errors.New("no gist id configured")

	// ErrNoGH is returned when the gh binary is not on PATH.
	ErrNoGH = errors.New("gh CLI not found")
)

// Revision is one entry in a gist's edit history.
type Revision struct {
	Version     string `json:"version"`
	CommittedAt string `json:"committed_at"`
	Additions   int    `json:"additions"`
	Deletions   int    `json:"deletions"`
}

// Store is the snapshot port the pipeline and CLI push and restore through.
type Store interface {
	Upload(ctx context.Context, gistID, name, path string) error
	History(ctx context.Context, gistID string, limit int) ([]Revision, error)
	Fetch(ctx context.Context, gistID, version, name string) ([]byte, error)
}

// GistStore implements Store against GitHub gists via the gh CLI.
type GistStore struct {
	logger  *slog.Logger
	client  *http.Client
	rawBase string
	run     func(ctx context.Context, args ...string) ([]byte, error)
}

// NewGistStore creates a Store backed by the gh CLI.
func NewGistStore(logger *slog.Logger) *GistStore {
	return &GistStore{
		logger:  logger,
		client:  &http.Client{Timeout: fetchTimeout},
		rawBase: defaultRawBase,
		run:     runGH,
	}
}

// Upload replaces one file of the gist with the local file's content.
func (s *GistStore) Upload(ctx context.Context, gistID, name, path string) error {
	if gistID == "" {
		return ErrNoGist
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("local file: %w", err)
	}

	if _, err := s.run(ctx, "gist", "edit", gistID, "-f", name, path); err != nil {
		return fmt.Errorf("uploading %s: %w", name, err)
	}
	s.logger.Info("uploaded to gist", "gist", gistID, "file", name)
	return nil
}

// History returns the gist's most recent revisions, newest first. A limit of
// zero returns everything the API sent.
func (s *GistStore) History(ctx context.Context, gistID string, limit int) ([]Revision, error) {
	info, err := s.gistInfo(ctx, gistID)
	if err != nil {
		return nil, err
	}

	revs := make([]Revision, 0, len(info.History))
	for _, h := range info.History {
		revs = append(revs, Revision{
			Version:     h.Version,
			CommittedAt: h.CommittedAt,
			Additions:   h.ChangeStatus.Additions,
			Deletions:   h.ChangeStatus.Deletions,
		})
	}
	if limit > 0 && len(revs) > limit {
		revs = revs[:limit]
	}
	return revs, nil
}

// Fetch downloads one file as it was at the given revision.
func (s *GistStore) Fetch(ctx context.Context, gistID, version, name string) ([]byte, error) {
	info, err := s.gistInfo(ctx, gistID)
	if err != nil {
		return nil, err
	}
	if info.Owner.Login == "" {
		return nil, fmt.Errorf("gist %s: owner unknown", gistID)
	}

	url := fmt.Sprintf("%s/%s/%s/raw/%s/%s", s.rawBase, info.Owner.Login, gistID, version, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching revision: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetching revision %s/%s: http %d", shortVersion(version), name, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

type gistInfo struct {
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
	History []struct {
		Version      string `json:"version"`
		CommittedAt  string `json:"committed_at"`
		ChangeStatus struct {
			Additions int `json:"additions"`
			Deletions int `json:"deletions"`
		} `json:"change_status"`
	} `json:"history"`
}

func (s *GistStore) gistInfo(ctx context.Context, gistID string) (*gistInfo, error) {
	if gistID == "" {
		return nil, ErrNoGist
	}

	out, err := s.run(ctx, "api", "/gists/"+gistID)
	if err != nil {
		return nil, err
	}
	var info gistInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("parsing gist info: %w", err)
	}
	return &info, nil
}

// RestoreOptions name a gist revision and the local file it replaces.
type RestoreOptions struct {
	GistID   string
	Version  string
	Name     string // file name inside the gist
	Path     string // local destination
	Reupload bool   // push the restored content back as the current revision
}

// Restore writes a historical revision of a gist file over the local copy.
// A current local file is first copied aside with a .bak-<version> suffix,
// so a bad restore never destroys the only copy.
func Restore(ctx context.Context, store Store, opts RestoreOptions) error {
	content, err := store.Fetch(ctx, opts.GistID, opts.Version, opts.Name)
	if err != nil {
		return err
	}

	if _, err := os.Stat(opts.Path); err == nil {
		backup := opts.Path + ".bak-" + shortVersion(opts.Version)
		if err := copyFile(opts.Path, backup); err != nil {
			return fmt.Errorf("backing up current file: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	if err := os.WriteFile(opts.Path, content, 0o644); err != nil {
		return fmt.Errorf("writing restored file: %w", err)
	}

	if opts.Reupload {
		return store.Upload(ctx, opts.GistID, opts.Name, opts.Path)
	}
	return nil
}

func shortVersion(version string) string {
	if len(version) > 8 {
		return version[:8]
	}
	return version
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func runGH(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, ghTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "gh", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ErrNoGH
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("gh %s: %s", args[0], msg)
		}
		return nil, fmt.Errorf("gh %s: %w", args[0], err)
	}
	return stdout.Bytes(), nil
}
