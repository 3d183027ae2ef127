package keynote

import (
	"fmt"
	"strings"
)

// Issue is one problem found while loading a keynote file.
type Issue struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Line == 0 {
		return i.Message
	}
	return fmt.Sprintf("line %d: %s", i.Line, i.Message)
}

// LoadResults collects the problems found during one load. A nil
// *LoadResults is valid and discards everything.
type LoadResults struct {
	File   string
	Issues []Issue
	Err    error
}

func (r *LoadResults) begin(path string) {
	if r == nil {
		return
	}
	r.File = path
	r.Issues = r.Issues[:0]
	r.Err = nil
}

func (r *LoadResults) addIssue(line int, format string, args ...any) {
	if r == nil {
		return
	}
	r.Issues = append(r.Issues, Issue{Line: line, Message: fmt.Sprintf(format, args...)})
}

// Fail records an error that stopped the load.
func (r *LoadResults) Fail(err error) {
	if r == nil {
		return
	}
	r.Err = err
}

// HasErrors reports whether the load recorded any problem.
func (r *LoadResults) HasErrors() bool {
	return r != nil && (r.Err != nil || len(r.Issues) > 0)
}

// Summary renders the recorded problems on one line, at most limit issues.
func (r *LoadResults) Summary(limit int) string {
	if r == nil || !r.HasErrors() {
		return ""
	}

	var parts []string
	if r.Err != nil {
		parts = append(parts, r.Err.Error())
	}
	for i, issue := range r.Issues {
		if limit > 0 && i == limit {
			parts = append(parts, fmt.Sprintf("and %d more", len(r.Issues)-limit))
			break
		}
		parts = append(parts, issue.String())
	}
	return strings.Join(parts, "; ")
}
