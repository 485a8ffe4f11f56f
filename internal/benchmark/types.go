package benchmark

// Tool names understood by the parser.
const (
	ToolGoogleCpp             = "googlecpp"
	ToolGo                    = "go"
	ToolCustomSmallerIsBetter = "customSmallerIsBetter"
	ToolCustomBiggerIsBetter  = "customBiggerIsBetter"
)

// User identifies a commit author or committer.
type User struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
}

// Commit is the VCS metadata attached to a run. It is passed through as-is;
// only ID is ever inspected.
type Commit struct {
	Author    User   `json:"author"`
	Committer User   `json:"committer"`
	Distinct  bool   `json:"distinct"`
	ID        string `json:"id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
	TreeID    string `json:"tree_id,omitempty"`
	URL       string `json:"url"`
}

// Result is a single named measurement within a run.
type Result struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Range string  `json:"range,omitempty"`
	Unit  string  `json:"unit"`
	Extra string  `json:"extra,omitempty"`
}

// Details returns the typed view of the extra text.
func (r Result) Details() Extra {
	return ParseExtra(r.Extra)
}

// Run is one execution of a benchmark suite, tied to a commit.
type Run struct {
	Commit  Commit   `json:"commit"`
	Date    int64    `json:"date"` // epoch millis
	Tool    string   `json:"tool"`
	Benches []Result `json:"benches"`
}

// Lookup returns the last result named name in the run.
func (r Run) Lookup(name string) (Result, bool) {
	for i := len(r.Benches) - 1; i >= 0; i-- {
		if r.Benches[i].Name == name {
			return r.Benches[i], true
		}
	}
	return Result{}, false
}

// Names returns the distinct result names in first-occurrence order.
func (r Run) Names() []string {
	seen := make(map[string]struct{}, len(r.Benches))
	names := make([]string, 0, len(r.Benches))
	for _, b := range r.Benches {
		if _, ok := seen[b.Name]; ok {
			continue
		}
		seen[b.Name] = struct{}{}
		names = append(names, b.Name)
	}
	return names
}

// IsKnownTool reports whether the parser supports tool.
func IsKnownTool(tool string) bool {
	switch tool {
	case ToolGoogleCpp, ToolGo, ToolCustomSmallerIsBetter, ToolCustomBiggerIsBetter:
		return true
	}
	return false
}
