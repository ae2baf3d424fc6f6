package scanning

import "context"

// Scanner turns an uploaded sheet image into records
type Scanner interface {
	// ScanTable extracts the table rows from a base64 image payload.
	// The payload may be bare base64 or a data URL.
	ScanTable(ctx context.Context, payload string) ([]Record, error)
	// Close closes the scanner and releases resources
	Close() error
}

// Request is the single request sent to a vision model
type Request struct {
	Image       []byte
	MIMEType    string
	Instruction string
	Temperature float32
}

// Model is a vision-capable language model backend. Generate returns the
// raw text of the model's answer.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
	Close() error
}
