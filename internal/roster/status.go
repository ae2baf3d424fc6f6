package roster

import "github.com/zombor/record-extractor/internal/scanning"

// Status is the processing state of a session
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// State is a snapshot of one session. Records and Error always belong to
// the same upload cycle as Status.
type State struct {
	Status   Status            `json:"status"`
	Records  []scanning.Record `json:"records"`
	Error    string            `json:"error,omitempty"`
	Image    string            `json:"image,omitempty"` // data URL of the uploaded sheet
	Filename string            `json:"filename,omitempty"`
}

func (s State) clone() State {
	out := s
	out.Records = append([]scanning.Record{}, s.Records...)
	return out
}
