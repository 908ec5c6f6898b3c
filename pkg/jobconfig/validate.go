package jobconfig

import (
	"fmt"

	schemasassets "github.com/3leaps/cadence/internal/assets/schemas"
	"github.com/3leaps/cadence/internal/schemaval"
	"github.com/3leaps/cadence/pkg/match"
	"github.com/3leaps/cadence/pkg/slot"
)

// SchemaID is the schema identifier for jobs files.
const SchemaID = "cadence/v1.0.0/jobs"

// ValidationError and ValidationErrors describe schema and semantic
// failures with a JSON-pointer path.
type (
	ValidationError  = schemaval.ValidationError
	ValidationErrors = schemaval.ValidationErrors
)

// ErrValidationFailed is matched by errors.Is on any ValidationErrors.
var ErrValidationFailed = schemaval.ErrValidationFailed

var jobsValidator = schemaval.New("jobs", schemasassets.JobsSchema)

// ValidateRaw checks raw JSON against the embedded jobs schema.
func ValidateRaw(jsonData []byte) error {
	return jobsValidator.Validate(jsonData)
}

// Check performs the semantic validation the schema cannot express and
// resolves each job's timezone. It must run after ApplyDefaults.
func (f *File) Check() error {
	var errs ValidationErrors
	add := func(i int, field, format string, args ...any) {
		errs = append(errs, ValidationError{
			Path:    fmt.Sprintf("/jobs/%d/%s", i, field),
			Message: fmt.Sprintf(format, args...),
		})
	}

	seen := make(map[string]int, len(f.Jobs))
	for i := range f.Jobs {
		j := &f.Jobs[i]

		if prev, dup := seen[j.ID]; dup {
			add(i, "id", "duplicate job id %q (also /jobs/%d)", j.ID, prev)
		} else {
			seen[j.ID] = i
		}

		loc, err := slot.LoadLocation(j.Timezone)
		if err != nil {
			add(i, "timezone", "%v", err)
		} else {
			j.loc = loc
		}

		if err := j.Schedule.Validate(); err != nil {
			add(i, "schedule", "%v", err)
		}

		if _, err := match.New(match.Config{Includes: j.Scope.Repos, Excludes: j.Scope.Exclude}); err != nil {
			add(i, "scope", "%v", err)
		}
		if _, err := match.New(match.Config{Excludes: j.Scope.ExcludeAuthors}); err != nil {
			add(i, "scope/excludeAuthors", "%v", err)
		}

		if j.Kind == KindAggregate && j.Source != nil && j.Source.JobID == j.ID {
			add(i, "source/jobId", "aggregate job cannot read its own results")
		}
	}

	for i := range f.Jobs {
		j := &f.Jobs[i]
		if j.Kind != KindAggregate || j.Source == nil {
			continue
		}
		// Sources owned by someone else may live in another jobs file.
		if j.Source.Owner != j.Owner || j.Source.OwnerType != j.OwnerType {
			continue
		}
		if _, ok := seen[j.Source.JobID]; !ok {
			add(i, "source/jobId", "unknown source job %q", j.Source.JobID)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
