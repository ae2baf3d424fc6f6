package scanning

import "errors"

// FailureMessage is the user-facing text of every extraction failure.
const FailureMessage = "فشل في معالجة الصورة. يرجى التأكد من وضوح الجدول والمحاولة مرة أخرى."

var (
	// ErrMissingCredential is returned before any model call when no API key is configured.
	ErrMissingCredential = errors.New("API key is missing")

	// ErrEmptyResponse means the model returned no text.
	ErrEmptyResponse = errors.New("no data returned from model")

	// ErrMalformedResponse means the model text did not match the declared array shape.
	ErrMalformedResponse = errors.New("malformed model response")
)

// ExtractionError is the uniform failure returned by Extractor.ScanTable.
// Its message is always FailureMessage; the cause is kept for diagnostics.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return FailureMessage
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
