package history

import (
	"fmt"

	"benchtrack/internal/benchmark"
)

func testRun(id string, date int64, benches ...benchmark.Result) benchmark.Run {
	if len(benches) == 0 {
		benches = []benchmark.Result{{Name: "FindServices/1/1", Value: 1676.3, Unit: "ns/iter"}}
	}
	return benchmark.Run{
		Commit: benchmark.Commit{
			Author:    benchmark.User{Name: "Jane Doe", Email: "jane@example.com", Username: "jdoe"},
			Committer: benchmark.User{Name: "GitHub", Email: "noreply@github.com", Username: "web-flow"},
			Distinct:  true,
			ID:        id,
			Message:   fmt.Sprintf("commit %s <tag> & more", id),
			Timestamp: "2024-01-02T03:04:05Z",
			TreeID:    "tree-" + id,
			URL:       "https://github.com/acme/svc/commit/" + id,
		},
		Date:    date,
		Tool:    benchmark.ToolGoogleCpp,
		Benches: benches,
	}
}
