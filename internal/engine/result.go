package engine

import (
	"github.com/atinyakov/PLMSync/internal/models"
)

// Operation names a synchronization operation.
type Operation string

const (
	OpCheckOut  Operation = "checkout"
	OpCheckIn   Operation = "checkin"
	OpGetLatest Operation = "get-latest"
)

// Outcome summarises a Result.
type Outcome int

const (
	// Succeeded means every step completed.
	Succeeded Outcome = iota
	// SucceededWithWarnings means the primary goal was reached but soft failures were recorded.
	SucceededWithWarnings
	// Failed means a hard failure stopped the operation.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case SucceededWithWarnings:
		return "succeeded with warnings"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Result is the structured outcome of a single-item operation.
type Result struct {
	Operation  Operation
	ItemID     string
	ItemType   models.ItemType
	ItemNumber string

	Outcome Outcome
	Success bool

	LocalPath      string
	RegistryFileID string
	// NoFileAttached is set when the item has no file yet. It is not a warning.
	NoFileAttached bool

	// Warnings holds soft failures in the order they happened.
	Warnings []error
	// Err is the hard failure when Outcome is Failed.
	Err error
}

func newResult(op Operation, t models.ItemType, id string) *Result {
	return &Result{Operation: op, ItemType: t, ItemID: id}
}

func (r *Result) attach(item *models.Item) {
	r.ItemID = item.ID
	r.ItemType = item.Type
	r.ItemNumber = item.ItemNumber
}

func (r *Result) warn(err error) {
	r.Warnings = append(r.Warnings, err)
}

func (r *Result) fail(err error) Result {
	r.Err = err
	r.Outcome = Failed
	r.Success = false
	return *r
}

func (r *Result) finish() Result {
	r.Success = true
	r.Outcome = Succeeded
	if len(r.Warnings) > 0 {
		r.Outcome = SucceededWithWarnings
	}
	return *r
}

// WarningMessages renders Warnings for display.
func (r Result) WarningMessages() []string {
	out := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.Error())
	}
	return out
}

// Code returns the taxonomy code of the hard failure, or "".
func (r Result) Code() ErrorCode {
	return CodeOf(r.Err)
}

// BatchResult aggregates independent check-ins.
type BatchResult struct {
	Items []Result
	// Succeeded counts items whose primary goal was reached, warnings included.
	Succeeded int
	// Warned counts the subset of Succeeded that carried warnings.
	Warned int
	Failed int
}

func (b *BatchResult) add(r Result) {
	b.Items = append(b.Items, r)
	switch r.Outcome {
	case Failed:
		b.Failed++
	case SucceededWithWarnings:
		b.Succeeded++
		b.Warned++
	default:
		b.Succeeded++
	}
}

// Exit codes returned by the CLI.
const (
	ExitOK           = 0
	ExitWarnings     = 1
	ExitFailure      = 2
	ExitConnectivity = 3
)

// ExitCode maps a result onto the CLI exit code convention.
func ExitCode(r Result) int {
	switch r.Outcome {
	case Failed:
		if IsConnectivity(r.Err) {
			return ExitConnectivity
		}
		return ExitFailure
	case SucceededWithWarnings:
		return ExitWarnings
	}
	return ExitOK
}

// BatchExitCode returns the most severe exit code of the batch.
func BatchExitCode(b BatchResult) int {
	code := ExitOK
	for _, r := range b.Items {
		if c := ExitCode(r); c > code {
			code = c
		}
	}
	return code
}
