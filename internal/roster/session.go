package roster

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/record-extractor/internal/scanning"
)

// unexpectedErrorMessage is shown when a failure carries no message of its own
const unexpectedErrorMessage = "حدث خطأ غير متوقع"

// ErrBusy is returned when an upload arrives while the session is processing
var ErrBusy = errors.New("an image is already being processed")

// Session drives one user's upload cycle: idle, processing, then success
// or error. Status, records and error message change together under mu.
type Session struct {
	scanner scanning.Scanner
	now     func() time.Time

	mu          sync.Mutex
	state       State
	cycle       uint64
	lastSeen    time.Time
	subscribers map[chan State]struct{}
}

// NewSession creates an idle session
func NewSession(scanner scanning.Scanner) *Session {
	return newSessionWithClock(scanner, time.Now)
}

func newSessionWithClock(scanner scanning.Scanner, now func() time.Time) *Session {
	return &Session{
		scanner:     scanner,
		now:         now,
		state:       State{Status: StatusIdle, Records: []scanning.Record{}},
		lastSeen:    now(),
		subscribers: make(map[chan State]struct{}),
	}
}

// State returns a copy of the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = s.now()
	return s.state.clone()
}

// Busy reports whether an extraction is in flight
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Status == StatusProcessing
}

// Subscribe returns a channel that receives the latest state after every
// change. Slow readers only see the most recent state. Call the returned
// function to unsubscribe.
func (s *Session) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	ch <- s.state.clone()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// publish must be called with mu held
func (s *Session) publish() {
	for ch := range s.subscribers {
		snapshot := s.state.clone()
		select {
		case ch <- snapshot:
		default:
			// drop the stale value so the newest one fits
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

// begin starts a new cycle with records and error cleared. With
// exclusive set it refuses while another cycle is processing.
func (s *Session) begin(filename string, exclusive bool) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exclusive && s.state.Status == StatusProcessing {
		return s.cycle, false
	}
	s.cycle++
	s.lastSeen = s.now()
	s.state = State{Status: StatusProcessing, Records: []scanning.Record{}, Filename: filename}
	s.publish()
	return s.cycle, true
}

// commit applies fn to the state if cycle is still current
func (s *Session) commit(cycle uint64, fn func(*State)) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cycle != s.cycle {
		return s.state.clone(), false
	}
	fn(&s.state)
	s.publish()
	return s.state.clone(), true
}

// Upload runs one extraction cycle for the uploaded file and returns the
// resulting state. A newer upload supersedes an older one still in flight.
func (s *Session) Upload(ctx context.Context, r io.Reader, filename, contentType string) State {
	cycle, _ := s.begin(filename, false)
	return s.run(ctx, cycle, r, filename, contentType)
}

// TryUpload is Upload that returns ErrBusy instead of superseding an
// extraction in flight.
func (s *Session) TryUpload(ctx context.Context, r io.Reader, filename, contentType string) (State, error) {
	cycle, ok := s.begin(filename, true)
	if !ok {
		return s.State(), ErrBusy
	}
	return s.run(ctx, cycle, r, filename, contentType), nil
}

func (s *Session) run(ctx context.Context, cycle uint64, r io.Reader, filename, contentType string) State {
	dataURL, err := ReadDataURL(r, contentType)
	if err != nil {
		slog.Error("Failed to read upload", "filename", filename, "error", err)
		state, _ := s.commit(cycle, func(st *State) {
			st.Status = StatusError
			st.Error = unexpectedErrorMessage
		})
		return state
	}

	if _, ok := s.commit(cycle, func(st *State) { st.Image = dataURL }); !ok {
		return s.State()
	}

	records, err := s.scanner.ScanTable(ctx, dataURL)
	state, ok := s.commit(cycle, func(st *State) {
		if err != nil {
			st.Status = StatusError
			st.Records = []scanning.Record{}
			st.Error = errorMessage(err)
			return
		}
		// an empty table is still a success
		st.Status = StatusSuccess
		st.Records = records
		st.Error = ""
	})
	if !ok {
		slog.Info("Discarding superseded extraction", "filename", filename)
	}
	return state
}

func errorMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return unexpectedErrorMessage
}

// Export writes the current records as a workbook. It is a no-op that
// reports false when there are no records.
func (s *Session) Export(w io.Writer) (bool, error) {
	return WriteWorkbook(w, s.State().Records)
}

// idleSince reports when the session was last touched
func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}
