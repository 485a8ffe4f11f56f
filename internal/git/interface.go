package git

import "context"

// IClient is the subset of git operations bench-track relies on.
type IClient interface {
	RevParse(ctx context.Context, dir, rev string) (string, error)
	ReadFile(ctx context.Context, dir, rev, path string) ([]byte, error)
	CommitFile(ctx context.Context, dir string, req CommitFileRequest) (string, error)
	UpdateRef(ctx context.Context, dir, ref, newSHA, oldSHA string) error
	FetchBranch(ctx context.Context, dir, remote, branch, localRef string) error
	PushBranch(ctx context.Context, dir, remote, sha, branch string) error
	HeadCommit(ctx context.Context, dir string) (CommitInfo, error)
	RemoteURL(ctx context.Context, dir, remote string) (string, error)
}

var _ IClient = (*Client)(nil)
