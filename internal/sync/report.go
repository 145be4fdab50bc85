package sync

import (
	"fmt"
	"strings"

	"github.com/mdouchement/modelsync/internal/model"
)

// A Report accumulates the per-entry results of a run. It is append-only.
type Report struct {
	results []model.Result
}

// Add appends the result to the report.
func (r *Report) Add(result model.Result) {
	r.results = append(r.results, result)
}

// Results returns the accumulated results in manifest order.
func (r *Report) Results() []model.Result {
	return r.results
}

// Count returns the number of entries with the given outcome.
func (r *Report) Count(outcome model.Outcome) int {
	var n int
	for _, result := range r.results {
		if result.Outcome == outcome {
			n++
		}
	}
	return n
}

// HasFailure returns true when at least one entry failed.
func (r *Report) HasFailure() bool {
	return r.Count(model.OutcomeFailed) > 0
}

// Summary formats the outcome counts and the failed entries.
func (r *Report) Summary() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%d downloaded, %d skipped, %d failed",
		r.Count(model.OutcomeDownloaded),
		r.Count(model.OutcomeSkipped),
		r.Count(model.OutcomeFailed),
	)

	for _, result := range r.results {
		if result.Outcome != model.OutcomeFailed {
			continue
		}
		fmt.Fprintf(&sb, "\n  %s: %s", result.Entry.Name, result.Err)
	}
	return sb.String()
}
