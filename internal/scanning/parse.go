package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	recordsSchemaOnce sync.Once
	recordsSchema     *jsonschema.Schema
	recordsSchemaErr  error
)

// compiledRecordsSchema compiles recordsJSONSchema once per process
func compiledRecordsSchema() (*jsonschema.Schema, error) {
	recordsSchemaOnce.Do(func() {
		b, err := json.Marshal(recordsJSONSchema())
		if err != nil {
			recordsSchemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("records.json", bytes.NewReader(b)); err != nil {
			recordsSchemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		recordsSchema, recordsSchemaErr = compiler.Compile("records.json")
	})
	return recordsSchema, recordsSchemaErr
}

// stripCodeFence removes markdown code blocks some models wrap JSON in
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// parseRecordsJSON validates the model answer against the declared array
// shape and converts it into records with an empty notes field.
func parseRecordsJSON(text string) ([]Record, error) {
	text = stripCodeFence(text)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling json: %v", ErrMalformedResponse, err)
	}

	schema, err := compiledRecordsSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling records schema: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var records []Record
	if err := json.Unmarshal([]byte(text), &records); err != nil {
		return nil, fmt.Errorf("%w: decoding records: %v", ErrMalformedResponse, err)
	}

	for i := range records {
		records[i].Notes = ""
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}
