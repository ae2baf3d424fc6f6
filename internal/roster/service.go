package roster

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/record-extractor/internal/scanning"
)

// IDGenerator generates unique IDs for sessions and batches
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service owns the live sessions and the archive of past extractions
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewService creates a new Service with UUID IDs and the wall clock
func NewService(db DB, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(db, scanner, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
		sessions:    make(map[string]*Session),
	}
}

// Session returns the session for id, creating a new one when id is empty
// or unknown. The returned id is the one to hand back to the client.
func (s *Service) Session(id string) (*Session, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[id]; ok && id != "" {
		return session, id
	}
	id = s.idGenerator.Generate()
	session := newSessionWithClock(s.scanner, s.timeSource.Now)
	s.sessions[id] = session
	return session, id
}

// PruneSessions drops sessions idle for longer than maxIdle that are not
// processing, and returns how many were removed
func (s *Service) PruneSessions(maxIdle time.Duration) int {
	cutoff := s.timeSource.Now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, session := range s.sessions {
		if session.Busy() || session.idleSince().After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		removed++
	}
	return removed
}

// Upload runs an extraction in the given session and archives it on success.
// It returns ErrBusy when the session is already processing.
func (s *Service) Upload(ctx context.Context, session *Session, filename string, r io.Reader, contentType string) (State, error) {
	state, err := session.TryUpload(ctx, r, filename, contentType)
	if err != nil {
		return state, err
	}
	if state.Status == StatusSuccess && len(state.Records) > 0 {
		if _, err := s.archive(state, contentType); err != nil {
			// history is best effort, the user still has their rows
			slog.Warn("Failed to archive extraction", "filename", filename, "error", err)
		}
	}
	return state, nil
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	// Arabic file names are common, so keep any letter or digit
	base = regexp.MustCompile(`[^\p{L}\p{N}\s\-_]`).ReplaceAllString(base, "")
	base = regexp.MustCompile(`\s+`).ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if runes := []rune(base); len(runes) > 50 {
		base = string(runes[:50])
	}
	if base == "" {
		base = "sheet"
	}
	return base + ext
}

func (s *Service) archive(state State, contentType string) (*Batch, error) {
	id := s.idGenerator.Generate()
	batch := &Batch{
		ID:          id,
		Filename:    state.Filename,
		ContentType: contentType,
		Records:     state.Records,
		CreatedAt:   s.timeSource.Now(),
	}

	if state.Image != "" {
		data, imageType, err := DecodeDataURL(state.Image)
		if err != nil {
			return nil, err
		}
		if batch.ContentType == "" {
			batch.ContentType = imageType
		}
		savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(state.Filename)), data)
		if err != nil {
			return nil, fmt.Errorf("saving image: %w", err)
		}
		batch.ImagePath = savedPath
	}

	if err := s.db.SaveBatch(batch); err != nil {
		if batch.ImagePath != "" {
			s.storage.Delete(batch.ImagePath)
		}
		return nil, fmt.Errorf("saving batch to database: %w", err)
	}
	return batch, nil
}

// ListBatches returns all archived batches
func (s *Service) ListBatches() ([]*Batch, error) {
	batches, err := s.db.ListBatches()
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	return batches, nil
}

// GetBatch retrieves an archived batch by ID
func (s *Service) GetBatch(id string) (*Batch, error) {
	batch, err := s.db.GetBatch(id)
	if err != nil {
		return nil, fmt.Errorf("getting batch: %w", err)
	}
	return batch, nil
}

// GetBatchImage returns the source image of a batch
func (s *Service) GetBatchImage(id string) ([]byte, string, error) {
	batch, err := s.db.GetBatch(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting batch: %w", err)
	}
	if batch.ImagePath == "" {
		return nil, "", fmt.Errorf("batch %s has no image", id)
	}
	data, err := s.storage.Get(batch.ImagePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting batch image: %w", err)
	}
	return data, batch.ContentType, nil
}

// ExportBatch writes an archived batch as a workbook
func (s *Service) ExportBatch(w io.Writer, id string) (bool, error) {
	batch, err := s.db.GetBatch(id)
	if err != nil {
		return false, fmt.Errorf("getting batch: %w", err)
	}
	return WriteWorkbook(w, batch.Records)
}

// DeleteBatch removes a batch and its image
func (s *Service) DeleteBatch(id string) error {
	batch, err := s.db.GetBatch(id)
	if err != nil {
		return fmt.Errorf("getting batch for deletion: %w", err)
	}

	if batch.ImagePath != "" {
		if err := s.storage.Delete(batch.ImagePath); err != nil {
			slog.Warn("Failed to delete image", "path", batch.ImagePath, "error", err)
		}
	}

	if err := s.db.DeleteBatch(id); err != nil {
		return fmt.Errorf("deleting batch from database: %w", err)
	}
	return nil
}
