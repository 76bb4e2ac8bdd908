package log

import "budget/internal/core"

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldParent       = "parent"
	FieldError        = "error"
	FieldOperation    = "operation"
	FieldBackend      = "backend"
	FieldDates        = "dates"
	FieldTransactions = "transactions"
	FieldMatches      = "matches"
	FieldDuration     = "duration"
	FieldSuccess      = "success"
	FieldRequestID    = "request_id"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentBudget  = "budget"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentSheets  = "sheets"
	ComponentBackend = "backend"
	ComponentConfig  = "config"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithRun adds the counters and outcome of a budget run.
func (f LogFields) WithRun(run core.RunRecord) LogFields {
	f[FieldOperation] = run.Operation
	f[FieldDates] = run.Dates
	f[FieldTransactions] = run.Transactions
	f[FieldMatches] = run.Matches
	f[FieldDuration] = run.Duration().String()
	f[FieldSuccess] = run.Succeeded()
	return f.WithError(run.Err)
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
