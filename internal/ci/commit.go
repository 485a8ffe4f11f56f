package ci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"benchtrack/internal/benchmark"
	"benchtrack/internal/git"
)

// ErrNoCommit is returned when no source yields commit metadata.
var ErrNoCommit = errors.New("no commit metadata available")

// Resolver finds the commit a benchmark run belongs to. Sources are tried in
// order: an explicit commit file, the GitHub Actions event payload, then the
// HEAD of a local repository.
type Resolver struct {
	CommitFile string
	EventPath  string // usually $GITHUB_EVENT_PATH
	RepoDir    string
	Git        git.IClient
}

// NewResolverFromEnv builds a resolver using GITHUB_EVENT_PATH and the
// working directory.
func NewResolverFromEnv(commitFile string) *Resolver {
	return &Resolver{
		CommitFile: commitFile,
		EventPath:  os.Getenv("GITHUB_EVENT_PATH"),
		RepoDir:    ".",
		Git:        git.NewClient(),
	}
}

// Resolve returns the commit metadata for the current run.
func (r *Resolver) Resolve(ctx context.Context) (benchmark.Commit, error) {
	if r.CommitFile != "" {
		return LoadCommitFile(r.CommitFile)
	}
	if r.EventPath != "" {
		ev, err := LoadEvent(r.EventPath)
		if err != nil {
			return benchmark.Commit{}, err
		}
		if c, ok := ev.Commit(); ok {
			return c, nil
		}
	}
	if r.Git != nil && r.RepoDir != "" {
		c, err := FromGit(ctx, r.Git, r.RepoDir)
		if err != nil {
			return benchmark.Commit{}, fmt.Errorf("%w: %v", ErrNoCommit, err)
		}
		return c, nil
	}
	return benchmark.Commit{}, ErrNoCommit
}

// RepoURL returns the browsable repository URL: GITHUB_SERVER_URL and
// GITHUB_REPOSITORY when set, else the event payload, else the origin remote.
func (r *Resolver) RepoURL(ctx context.Context) string {
	if server, repo := os.Getenv("GITHUB_SERVER_URL"), os.Getenv("GITHUB_REPOSITORY"); server != "" && repo != "" {
		return strings.TrimSuffix(server, "/") + "/" + repo
	}
	if r.EventPath != "" {
		if ev, err := LoadEvent(r.EventPath); err == nil && ev.Repository.HTMLURL != "" {
			return ev.Repository.HTMLURL
		}
	}
	if r.Git != nil && r.RepoDir != "" {
		if u, err := r.Git.RemoteURL(ctx, r.RepoDir, "origin"); err == nil {
			return WebURL(u)
		}
	}
	return ""
}

// LoadCommitFile reads commit metadata stored as JSON in the persisted
// commit shape.
func LoadCommitFile(path string) (benchmark.Commit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return benchmark.Commit{}, fmt.Errorf("failed to read commit file: %w", err)
	}
	var c benchmark.Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return benchmark.Commit{}, fmt.Errorf("invalid commit file %s: %w", path, err)
	}
	if c.ID == "" {
		return benchmark.Commit{}, fmt.Errorf("commit file %s has no id", path)
	}
	return c, nil
}

// FromGit builds commit metadata from HEAD of the repository in dir.
func FromGit(ctx context.Context, client git.IClient, dir string) (benchmark.Commit, error) {
	info, err := client.HeadCommit(ctx, dir)
	if err != nil {
		return benchmark.Commit{}, err
	}
	c := benchmark.Commit{
		Author:    benchmark.User{Name: info.AuthorName, Email: info.AuthorEmail},
		Committer: benchmark.User{Name: info.CommitterName, Email: info.CommitterEmail},
		Distinct:  true,
		ID:        info.SHA,
		Message:   info.Message,
		Timestamp: info.Timestamp,
		TreeID:    info.TreeSHA,
	}
	if remote, err := client.RemoteURL(ctx, dir, "origin"); err == nil {
		if web := WebURL(remote); web != "" {
			c.URL = web + "/commit/" + info.SHA
		}
	}
	return c, nil
}

// WebURL converts a git remote URL into its https form, dropping
// credentials and the .git suffix. It returns "" for local paths.
func WebURL(remote string) string {
	u := strings.TrimSpace(remote)
	switch {
	case strings.HasPrefix(u, "git@"):
		// git@github.com:org/repo.git
		host, path, ok := strings.Cut(strings.TrimPrefix(u, "git@"), ":")
		if !ok {
			return ""
		}
		u = "https://" + host + "/" + path
	case strings.HasPrefix(u, "ssh://"):
		u = "https://" + strings.TrimPrefix(u, "ssh://")
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
	default:
		return ""
	}
	scheme, rest, _ := strings.Cut(u, "://")
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	return scheme + "://" + strings.TrimSuffix(strings.TrimSuffix(rest, "/"), ".git")
}
