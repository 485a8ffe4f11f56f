package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"benchtrack/internal/benchmark"
	"benchtrack/internal/git"
)

const (
	defaultGitBranch = "gh-pages"
	defaultGitFile   = "dev/bench/data.js"
)

// GitConfig locates a history file on a branch of a git repository.
type GitConfig struct {
	RepoDir string
	Branch  string // defaults to gh-pages
	File    string // defaults to dev/bench/data.js
	Remote  string // optional; when set the remote branch is authoritative

	// Client overrides the git client, for tests.
	Client git.IClient
}

// GitStore keeps the history file on a branch. Every append is one commit
// built off the working tree; the commit sha is the version.
type GitStore struct {
	cfg    GitConfig
	client git.IClient
	opts   options
}

// NewGitStore creates a git-backed store.
func NewGitStore(cfg GitConfig, opts ...Option) (*GitStore, error) {
	if cfg.RepoDir == "" {
		return nil, errors.New("git store requires a repository directory")
	}
	if cfg.Branch == "" {
		cfg.Branch = defaultGitBranch
	}
	if cfg.File == "" {
		cfg.File = defaultGitFile
	}
	client := cfg.Client
	if client == nil {
		client = git.NewClient()
	}
	s := &GitStore{cfg: cfg, client: client}
	for _, o := range opts {
		o(&s.opts)
	}
	return s, nil
}

func (s *GitStore) localRef() string {
	return "refs/heads/" + s.cfg.Branch
}

// sourceRef is the ref whose tip is the current history.
func (s *GitStore) sourceRef() string {
	if s.cfg.Remote != "" {
		return "refs/remotes/" + s.cfg.Remote + "/" + s.cfg.Branch
	}
	return s.localRef()
}

func (s *GitStore) fetch(ctx context.Context) error {
	if s.cfg.Remote == "" {
		return nil
	}
	err := s.client.FetchBranch(ctx, s.cfg.RepoDir, s.cfg.Remote, s.cfg.Branch, s.sourceRef())
	if errors.Is(err, git.ErrRefNotFound) {
		return nil
	}
	return err
}

// read returns the document at the tip of the source ref.
func (s *GitStore) read(ctx context.Context) (*Document, Version, error) {
	sha, err := s.client.RevParse(ctx, s.cfg.RepoDir, s.sourceRef())
	if errors.Is(err, git.ErrRefNotFound) {
		return NewDocument(isDataJS(s.cfg.File)), NoVersion, nil
	}
	if err != nil {
		return nil, NoVersion, err
	}

	data, err := s.client.ReadFile(ctx, s.cfg.RepoDir, sha, s.cfg.File)
	if errors.Is(err, git.ErrPathNotFound) {
		return NewDocument(isDataJS(s.cfg.File)), Version(sha), nil
	}
	if err != nil {
		return nil, NoVersion, err
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, NoVersion, fmt.Errorf("%s@%s: %w", s.cfg.File, s.cfg.Branch, err)
	}
	return doc, Version(sha), nil
}

func (s *GitStore) Load(ctx context.Context, tool string) (*Snapshot, error) {
	if err := s.fetch(ctx); err != nil {
		return nil, err
	}
	doc, version, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	series, ok := doc.Series(tool)
	if !ok {
		return emptySnapshot(tool, version), notFound(tool)
	}
	return &Snapshot{Tool: tool, Series: series, Version: version}, nil
}

func (s *GitStore) Append(ctx context.Context, tool string, run benchmark.Run, expected Version) (Version, error) {
	doc, current, err := s.read(ctx)
	if err != nil {
		return NoVersion, err
	}
	if expected != AnyVersion && current != expected {
		return NoVersion, fmt.Errorf("%w: %s moved to %s", ErrConcurrentModification, s.cfg.Branch, current)
	}

	if err := doc.SetRepoURL(s.opts.repoURL); err != nil {
		return NoVersion, err
	}
	if err := doc.Append(tool, run); err != nil {
		return NoVersion, err
	}
	data, err := doc.Encode()
	if err != nil {
		return NoVersion, fmt.Errorf("failed to encode history: %w", err)
	}

	sha, err := s.client.CommitFile(ctx, s.cfg.RepoDir, git.CommitFileRequest{
		Parent:  string(current),
		Path:    s.cfg.File,
		Data:    data,
		Message: fmt.Sprintf("add %s benchmark result for %s", tool, run.Commit.ID),
	})
	if err != nil {
		return NoVersion, fmt.Errorf("failed to commit history: %w", err)
	}

	if s.cfg.Remote != "" {
		if err := s.client.PushBranch(ctx, s.cfg.RepoDir, s.cfg.Remote, sha, s.cfg.Branch); err != nil {
			if errors.Is(err, git.ErrPushRejected) {
				return NoVersion, fmt.Errorf("%w: %v", ErrConcurrentModification, err)
			}
			return NoVersion, fmt.Errorf("failed to push history: %w", err)
		}
		// the remote accepted the commit; a stale tracking ref only costs a fetch
		if err := s.client.UpdateRef(ctx, s.cfg.RepoDir, s.sourceRef(), sha, string(current)); err != nil {
			slog.Warn("failed to update tracking ref", "ref", s.sourceRef(), "error", err)
		}
		return Version(sha), nil
	}

	if err := s.client.UpdateRef(ctx, s.cfg.RepoDir, s.localRef(), sha, string(current)); err != nil {
		if errors.Is(err, git.ErrRefConflict) {
			return NoVersion, fmt.Errorf("%w: %v", ErrConcurrentModification, err)
		}
		return NoVersion, err
	}
	return Version(sha), nil
}

func (s *GitStore) Tools(ctx context.Context) ([]string, error) {
	if err := s.fetch(ctx); err != nil {
		return nil, err
	}
	doc, _, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Tools(), nil
}

func (s *GitStore) Close() error { return nil }
