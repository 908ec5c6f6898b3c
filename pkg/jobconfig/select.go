package jobconfig

import (
	"fmt"

	"github.com/3leaps/cadence/pkg/match"
)

// Select returns enabled jobs whose id matches any of patterns. No
// patterns selects every enabled job. A literal id that names no job is an
// error, so typos do not silently select nothing.
func (f *File) Select(patterns []string) ([]*Job, error) {
	m, err := match.New(match.Config{Includes: patterns})
	if err != nil {
		return nil, err
	}
	for _, p := range patterns {
		if match.IsLiteral(p) {
			if _, ok := f.Lookup(p); !ok {
				return nil, fmt.Errorf("unknown job %q", p)
			}
		}
	}

	var out []*Job
	for _, j := range f.Enabled() {
		if m.Match(j.ID) {
			out = append(out, j)
		}
	}
	return out, nil
}
