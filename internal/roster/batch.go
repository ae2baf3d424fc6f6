package roster

import (
	"time"

	"github.com/zombor/record-extractor/internal/scanning"
)

// Batch is an archived successful extraction
type Batch struct {
	ID          string            `json:"id"`
	Filename    string            `json:"filename"`
	ContentType string            `json:"content_type"`
	ImagePath   string            `json:"image_path,omitempty"` // path in Storage, empty if the image was not kept
	Records     []scanning.Record `json:"records"`
	CreatedAt   time.Time         `json:"created_at"`
}
