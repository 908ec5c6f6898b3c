// Package generate renders report artifacts from fetched activity.
//
// Two generators exist: Digest renders statistics and item lists directly,
// and OpenAI sends a digest plus the job's prompt to an OpenAI-compatible
// chat completions endpoint.
package generate

import (
	"context"
	"fmt"

	"github.com/3leaps/cadence/pkg/activity"
	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/manifest"
	"github.com/3leaps/cadence/pkg/slot"
)

// Generator names accepted in a job's output.generator field.
const (
	NameDigest = "digest"
	NameLLM    = "llm"
)

// Input is everything a generator may render.
type Input struct {
	Job    *jobconfig.Job
	Slot   slot.Slot
	Result *activity.Result
	Rollup activity.Rollup
}

// Generation is a rendered artifact.
type Generation struct {
	Text        string
	ContentType string
	Usage       *manifest.LLMUsage
}

// Generator renders one report.
type Generator interface {
	Generate(ctx context.Context, in Input) (*Generation, error)
}

// Set routes each job to a generator by its output.generator field.
type Set struct {
	Digest Generator
	LLM    Generator
}

// For returns the generator for job.
func (s Set) For(job *jobconfig.Job) (Generator, error) {
	switch job.Output.Generator {
	case "", NameDigest:
		if s.Digest == nil {
			return Digest{}, nil
		}
		return s.Digest, nil
	case NameLLM:
		if s.LLM == nil {
			return nil, fmt.Errorf("job %s: llm generator is not configured", job.ID)
		}
		return s.LLM, nil
	default:
		return nil, fmt.Errorf("job %s: unknown generator %q", job.ID, job.Output.Generator)
	}
}
