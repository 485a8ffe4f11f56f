package ci

import (
	"encoding/json"
	"fmt"
	"os"

	"benchtrack/internal/benchmark"
)

// Event is the subset of a GitHub Actions event payload that carries commit
// metadata.
type Event struct {
	HeadCommit  *benchmark.Commit `json:"head_commit"`
	PullRequest *PullRequest      `json:"pull_request"`
	Repository  struct {
		HTMLURL string `json:"html_url"`
	} `json:"repository"`
}

// PullRequest is the part of a pull_request payload used for commit metadata.
type PullRequest struct {
	Title   string `json:"title"`
	HTMLURL string `json:"html_url"`
	User    struct {
		Login string `json:"login"`
	} `json:"user"`
	Head struct {
		SHA  string `json:"sha"`
		Repo struct {
			UpdatedAt string `json:"updated_at"`
		} `json:"repo"`
	} `json:"head"`
}

// LoadEvent reads the event payload at path.
func LoadEvent(path string) (*Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event payload: %w", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("invalid event payload %s: %w", path, err)
	}
	return &ev, nil
}

// Commit returns the commit the event refers to. Push events carry it as
// head_commit; pull requests are described by their head sha.
func (e *Event) Commit() (benchmark.Commit, bool) {
	if e.HeadCommit != nil && e.HeadCommit.ID != "" {
		return *e.HeadCommit, true
	}
	if pr := e.PullRequest; pr != nil && pr.Head.SHA != "" {
		user := benchmark.User{Username: pr.User.Login}
		return benchmark.Commit{
			Author:    user,
			Committer: user,
			ID:        pr.Head.SHA,
			Message:   pr.Title,
			Timestamp: pr.Head.Repo.UpdatedAt,
			URL:       pr.HTMLURL + "/commits/" + pr.Head.SHA,
		}, true
	}
	return benchmark.Commit{}, false
}
