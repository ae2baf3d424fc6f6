package roster

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
)

// ReadDataURL reads an uploaded file and encodes it as a base64 data URL,
// the payload format the extractor accepts.
func ReadDataURL(r io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty upload")
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return EncodeDataURL(data, contentType), nil
}

// EncodeDataURL wraps raw bytes in a data URL
func EncodeDataURL(data []byte, contentType string) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL returns the raw bytes and content type of a data URL
func DecodeDataURL(dataURL string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(dataURL, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("invalid data URL")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decoding data URL: %w", err)
	}
	return data, strings.TrimSuffix(header, ";base64"), nil
}

// DetectContentType determines the upload's type from the multipart header,
// falling back to the file extension
func DetectContentType(filename, headerType string) string {
	contentType := strings.ToLower(strings.TrimSpace(headerType))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return ""
	}
}

// IsImage is the advisory type filter of the upload surface. Uploads that
// fail it are still processed.
func IsImage(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") || contentType == "application/pdf"
}
