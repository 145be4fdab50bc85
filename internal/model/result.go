package model

// An Outcome is the terminal state of one entry's transfer attempt.
type Outcome string

const (
	// OutcomeDownloaded means the file was fetched and verified.
	OutcomeDownloaded Outcome = "downloaded"
	// OutcomeSkipped means a verified file was already in place.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means the entry could not be resolved or transferred.
	OutcomeFailed Outcome = "failed"
)

func (o Outcome) String() string {
	return string(o)
}

// A Result records the terminal state of one entry. It is created once
// per entry and never mutated afterward.
type Result struct {
	Entry   Entry
	Outcome Outcome
	Err     error
}
