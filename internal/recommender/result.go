// Package recommender calls the external assignment recommender and
// validates its answers into a tagged Result.
package recommender

import (
	"context"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/shared/types"
)

// ResultKind tags the outcome of a recommendation call
type ResultKind int

const (
	// Ok means Decision holds a well-formed recommendation
	Ok ResultKind = iota
	// Unavailable covers network errors, timeouts, HTTP >= 400 and a disabled client
	Unavailable
	// Malformed means the response body could not be read as a recommendation
	Malformed
)

func (k ResultKind) String() string {
	switch k {
	case Ok:
		return "ok"
	case Unavailable:
		return "unavailable"
	case Malformed:
		return "malformed"
	}
	return "unknown"
}

// Result is the only value the client hands back. Decision is set only for Ok.
type Result struct {
	Kind     ResultKind
	Decision *domain.Decision
	Reason   string
	Err      error
}

// Failed reports whether the caller must fall back
func (r Result) Failed() bool {
	return r.Kind != Ok
}

func unavailable(reason string, err error) Result {
	return Result{Kind: Unavailable, Reason: reason, Err: err}
}

func malformed(reason string, err error) Result {
	return Result{Kind: Malformed, Reason: reason, Err: err}
}

// Recommender produces a raw recommendation for a patient from the available pool
type Recommender interface {
	Recommend(ctx context.Context, patientID types.ID, profile domain.PatientProfile, pool domain.Pool) Result
}

// Disabled is a Recommender that is switched off by configuration
type Disabled struct{}

// Recommend always reports the recommender unavailable
func (Disabled) Recommend(ctx context.Context, patientID types.ID, profile domain.PatientProfile, pool domain.Pool) Result {
	return unavailable("disabled", nil)
}
