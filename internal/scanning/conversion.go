package scanning

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// decodePayload splits a base64 image payload into raw bytes and a MIME type.
// Data URLs ("data:image/png;base64,....") carry their own type; bare base64
// is sniffed.
func decodePayload(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, "", fmt.Errorf("empty image payload")
	}

	mimeType := ""
	if strings.HasPrefix(payload, "data:") {
		header, data, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, "", fmt.Errorf("invalid data URL")
		}
		header = strings.TrimPrefix(header, "data:")
		header = strings.TrimSuffix(header, ";base64")
		mimeType = normalizeMIMEType(header)
		payload = data
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decoding base64 image: %w", err)
	}

	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = sniffMIMEType(data)
	}
	return data, mimeType, nil
}

// sniffMIMEType detects the type from content, defaulting to JPEG
func sniffMIMEType(data []byte) string {
	if isHEICFormat(data) {
		return "image/heic"
	}
	detected := normalizeMIMEType(http.DetectContentType(data))
	if strings.HasPrefix(detected, "image/") || detected == "application/pdf" {
		return detected
	}
	return "image/jpeg"
}

func normalizeMIMEType(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}

// pdfToImage renders the first page of a PDF scan as PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// imageToPNG re-encodes any decodable image as PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// Phone photos of paper sheets are often HEIC, which image.Decode does not know
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("unsupported image format %q: %w", mimeType, err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC/HEIF brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	mimeType = normalizeMIMEType(mimeType)
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// prepareImage converts the upload into something every backend accepts.
// JPEG, PNG and WebP are sent untouched; PDFs, HEIC and other decodable
// formats become PNG.
func prepareImage(data []byte, mimeType string) ([]byte, string, error) {
	mimeType = normalizeMIMEType(mimeType)
	switch {
	case mimeType == "application/pdf":
		pngData, err := pdfToImage(data)
		if err != nil {
			return nil, "", fmt.Errorf("converting PDF to image: %w", err)
		}
		return pngData, "image/png", nil
	case isHEICFormat(data) || isHEICMimeType(mimeType):
		pngData, err := imageToPNG(data, mimeType)
		if err != nil {
			return nil, "", fmt.Errorf("converting HEIC to PNG: %w", err)
		}
		return pngData, "image/png", nil
	case mimeType == "image/jpeg" || mimeType == "image/png" || mimeType == "image/webp":
		return data, mimeType, nil
	default:
		pngData, err := imageToPNG(data, mimeType)
		if err != nil {
			return nil, "", fmt.Errorf("converting image to PNG: %w", err)
		}
		return pngData, "image/png", nil
	}
}
