package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrRefNotFound is returned when a ref or remote branch does not exist.
	ErrRefNotFound = errors.New("git ref not found")
	// ErrPathNotFound is returned when a file is absent from a commit.
	ErrPathNotFound = errors.New("path not found in commit")
	// ErrRefConflict is returned by UpdateRef when the ref moved.
	ErrRefConflict = errors.New("git ref was updated concurrently")
	// ErrPushRejected is returned by PushBranch when the remote refuses a
	// non-fast-forward update.
	ErrPushRejected = errors.New("git push rejected")
)

const (
	defaultTimeout = 2 * time.Minute
	networkTimeout = 5 * time.Minute
)

// Client handles git interactions by shelling out to the git binary.
type Client struct{}

// NewClient creates a new Git client.
func NewClient() *Client {
	return &Client{}
}

// maskingWriter wraps an io.Writer and masks credentials embedded in URLs.
type maskingWriter struct {
	w io.Writer
}

var (
	reGitHubPAT = regexp.MustCompile(`https://[^@:]+@github\.com`)
	reBasicAuth = regexp.MustCompile(`https://[^:/]+:[^@/]+@`)
)

func mask(s string) string {
	s = reGitHubPAT.ReplaceAllString(s, "https://[REDACTED]@github.com")
	return reBasicAuth.ReplaceAllString(s, "https://[REDACTED]@")
}

func (mw *maskingWriter) Write(p []byte) (n int, err error) {
	_, err = mw.w.Write([]byte(mask(string(p))))
	return len(p), err
}

type runOpts struct {
	stdin []byte
	env   []string
}

// run executes git in dir and returns trimmed stdout. Errors carry the masked stderr.
func (c *Client) run(ctx context.Context, dir string, opts runOpts, args ...string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	var outBuf, errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	// Enforce no prompting
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_ASKPASS=/bin/true")
	cmd.Env = append(cmd.Env, opts.env...)
	if opts.stdin != nil {
		cmd.Stdin = bytes.NewReader(opts.stdin)
	}
	cmd.Stdout = &outBuf
	cmd.Stderr = &maskingWriter{w: &errBuf}

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("git %s: %w", args[0], ctxErr)
		}
		return "", &CommandError{Args: args, Stderr: strings.TrimSpace(errBuf.String()), Err: err}
	}
	return strings.TrimSpace(outBuf.String()), nil
}

// CommandError is a failed git invocation.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s failed: %v\nStderr: %s", e.Args[0], e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// RevParse resolves rev to a commit sha.
func (c *Client) RevParse(ctx context.Context, dir, rev string) (string, error) {
	out, err := c.run(ctx, dir, runOpts{}, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.Stderr == "" {
			return "", fmt.Errorf("%w: %s", ErrRefNotFound, rev)
		}
		return "", err
	}
	return out, nil
}

// ReadFile returns the contents of path as of rev.
func (c *Client) ReadFile(ctx context.Context, dir, rev, path string) ([]byte, error) {
	listed, err := c.run(ctx, dir, runOpts{}, "ls-tree", "--name-only", rev, "--", path)
	if err != nil {
		return nil, err
	}
	if listed == "" {
		return nil, fmt.Errorf("%w: %s:%s", ErrPathNotFound, rev, path)
	}

	cmd := exec.CommandContext(ctx, "git", "cat-file", "blob", rev+":"+path)
	cmd.Dir = dir
	var errBuf bytes.Buffer
	cmd.Stderr = &maskingWriter{w: &errBuf}
	data, err := cmd.Output()
	if err != nil {
		return nil, &CommandError{Args: []string{"cat-file"}, Stderr: errBuf.String(), Err: err}
	}
	return data, nil
}

// CommitFileRequest describes a single-file commit built without touching
// the working tree.
type CommitFileRequest struct {
	Parent      string // empty for a root commit
	Path        string
	Data        []byte
	Message     string
	AuthorName  string
	AuthorEmail string
}

// CommitFile writes req.Data at req.Path on top of req.Parent and returns
// the new commit sha. No ref is moved.
func (c *Client) CommitFile(ctx context.Context, dir string, req CommitFileRequest) (string, error) {
	tmpDir, err := os.MkdirTemp("", "bench-track-index-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp index dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	name, email := req.AuthorName, req.AuthorEmail
	if name == "" {
		name = "bench-track"
	}
	if email == "" {
		email = "bench-track@users.noreply.github.com"
	}
	env := []string{
		"GIT_INDEX_FILE=" + filepath.Join(tmpDir, "index"),
		"GIT_AUTHOR_NAME=" + name,
		"GIT_AUTHOR_EMAIL=" + email,
		"GIT_COMMITTER_NAME=" + name,
		"GIT_COMMITTER_EMAIL=" + email,
	}

	if req.Parent != "" {
		_, err = c.run(ctx, dir, runOpts{env: env}, "read-tree", req.Parent)
	} else {
		_, err = c.run(ctx, dir, runOpts{env: env}, "read-tree", "--empty")
	}
	if err != nil {
		return "", err
	}

	blob, err := c.run(ctx, dir, runOpts{stdin: req.Data}, "hash-object", "-w", "--stdin")
	if err != nil {
		return "", err
	}
	if _, err := c.run(ctx, dir, runOpts{env: env},
		"update-index", "--add", "--cacheinfo", "100644,"+blob+","+req.Path); err != nil {
		return "", err
	}
	tree, err := c.run(ctx, dir, runOpts{env: env}, "write-tree")
	if err != nil {
		return "", err
	}

	args := []string{"commit-tree", tree, "-m", req.Message}
	if req.Parent != "" {
		args = append(args, "-p", req.Parent)
	}
	return c.run(ctx, dir, runOpts{env: env}, args...)
}

// UpdateRef moves ref to newSHA only if it currently points at oldSHA.
// An empty oldSHA requires that ref does not exist yet.
func (c *Client) UpdateRef(ctx context.Context, dir, ref, newSHA, oldSHA string) error {
	_, err := c.run(ctx, dir, runOpts{}, "update-ref", ref, newSHA, oldSHA)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) &&
			(strings.Contains(cmdErr.Stderr, "expected") || strings.Contains(cmdErr.Stderr, "already exists")) {
			return fmt.Errorf("%w: %s", ErrRefConflict, ref)
		}
		return err
	}
	return nil
}

// FetchBranch force-updates localRef from remote's branch.
func (c *Client) FetchBranch(ctx context.Context, dir, remote, branch, localRef string) error {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	_, err := c.run(ctx, dir, runOpts{}, "fetch", "--quiet", remote, "+refs/heads/"+branch+":"+localRef)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, "couldn't find remote ref") {
			return fmt.Errorf("%w: %s/%s", ErrRefNotFound, remote, branch)
		}
		return err
	}
	return nil
}

// PushBranch pushes sha to remote's branch without forcing. A rejected
// non-fast-forward update yields ErrPushRejected.
func (c *Client) PushBranch(ctx context.Context, dir, remote, sha, branch string) error {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	_, err := c.run(ctx, dir, runOpts{}, "push", "--quiet", remote, sha+":refs/heads/"+branch)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && isRejection(cmdErr.Stderr) {
			return fmt.Errorf("%w: %s/%s", ErrPushRejected, remote, branch)
		}
		return err
	}
	return nil
}

func isRejection(stderr string) bool {
	for _, s := range []string{"[rejected]", "non-fast-forward", "fetch first", "stale info"} {
		if strings.Contains(stderr, s) {
			return true
		}
	}
	return false
}

// CommitInfo is the metadata of a single commit.
type CommitInfo struct {
	SHA            string
	AuthorName     string
	AuthorEmail    string
	CommitterName  string
	CommitterEmail string
	Timestamp      string // ISO 8601, committer date
	TreeSHA        string
	Message        string
}

// HeadCommit returns the metadata of HEAD in dir.
func (c *Client) HeadCommit(ctx context.Context, dir string) (CommitInfo, error) {
	out, err := c.run(ctx, dir, runOpts{}, "log", "-1", "--format=%H%x00%an%x00%ae%x00%cn%x00%ce%x00%cI%x00%T%x00%B")
	if err != nil {
		return CommitInfo{}, err
	}
	parts := strings.SplitN(out, "\x00", 8)
	if len(parts) != 8 {
		return CommitInfo{}, fmt.Errorf("unexpected git log output: %q", out)
	}
	return CommitInfo{
		SHA:            parts[0],
		AuthorName:     parts[1],
		AuthorEmail:    parts[2],
		CommitterName:  parts[3],
		CommitterEmail: parts[4],
		Timestamp:      parts[5],
		TreeSHA:        parts[6],
		Message:        strings.TrimSpace(parts[7]),
	}, nil
}

// RemoteURL returns the fetch URL of remote, with credentials masked.
func (c *Client) RemoteURL(ctx context.Context, dir, remote string) (string, error) {
	out, err := c.run(ctx, dir, runOpts{}, "remote", "get-url", remote)
	if err != nil {
		return "", err
	}
	return mask(out), nil
}
