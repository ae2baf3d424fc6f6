package scanning

import (
	"context"
	"fmt"
	"log/slog"
)

// Extractor implements Scanner on top of a vision Model. It owns the
// credential gate, the instruction set and validation of the answer.
type Extractor struct {
	model     Model
	apiKey    string
	anonymous bool
}

// NewExtractor creates an Extractor that refuses to run without apiKey
func NewExtractor(model Model, apiKey string) *Extractor {
	return &Extractor{model: model, apiKey: apiKey}
}

// NewAnonymousExtractor creates an Extractor for local backends that
// need no credential
func NewAnonymousExtractor(model Model) *Extractor {
	return &Extractor{model: model, anonymous: true}
}

// ScanTable sends the image to the model once and returns the parsed rows
// in the order the model listed them.
func (e *Extractor) ScanTable(ctx context.Context, payload string) ([]Record, error) {
	if !e.anonymous && e.apiKey == "" {
		return nil, ErrMissingCredential
	}

	records, err := e.scan(ctx, payload)
	if err != nil {
		slog.Error("Sheet extraction failed", "payload_size", len(payload), "error", err)
		return nil, &ExtractionError{Err: err}
	}
	return records, nil
}

func (e *Extractor) scan(ctx context.Context, payload string) ([]Record, error) {
	data, mimeType, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}

	imageData, mimeType, err := prepareImage(data, mimeType)
	if err != nil {
		return nil, err
	}

	text, err := e.model.Generate(ctx, Request{
		Image:       imageData,
		MIMEType:    mimeType,
		Instruction: tableScanPrompt,
		Temperature: extractionTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	if text == "" {
		return nil, ErrEmptyResponse
	}

	records, err := parseRecordsJSON(text)
	if err != nil {
		return nil, fmt.Errorf("parsing records: %w", err)
	}
	slog.Debug("Sheet extracted", "rows", len(records), "mime_type", mimeType)
	return records, nil
}

// Close closes the underlying model
func (e *Extractor) Close() error {
	return e.model.Close()
}
