package serverrors

import "errors"

// Kind classifies a service error so transports can map it to a response
// without inspecting message text. Validation, authorization and business-rule
// failures require changed input; concurrency failures are retryable as-is;
// pricing and provider failures are server-side.
type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindAuthorization Kind = "authorization_error"
	KindBusinessRule  Kind = "business_rule_violation"
	KindConcurrency   Kind = "concurrency_error"
	KindPricing       Kind = "pricing_engine_error"
	KindProvider      Kind = "external_provider_error"
)

type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the classification of err, or "" if it carries none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// ReasonOf returns the user-facing reason of err, falling back to its message.
func ReasonOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason
	}
	return err.Error()
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
