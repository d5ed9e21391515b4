package imputation

// Error values surfaced by the imputation pipeline. Per-hour errors are
// counted in the run summary; only persistence failures propagate.
var (
	ErrInsufficientContext  = &Error{"insufficient context window"}
	ErrPredictorUnavailable = &Error{"no trained model available and fit failed"}
	ErrModelRequired        = &Error{"model unavailable"}
	ErrUnknownMethod        = &Error{"unknown imputation method"}
)

// Error represents an imputation error
type Error struct {
	msg string
}

func (e *Error) Error() string {
	return e.msg
}
