package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// maxUploadMemory is how much of an upload is held in memory. Larger
// files spill to temporary files, there is no size limit.
var maxUploadMemory = int64(50 << 20) // 50MB

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes {"error": message} with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// writeWorkbook sends an xlsx attachment, or 204 when there is nothing to export
func writeWorkbook(w http.ResponseWriter, export func(*bytes.Buffer) (bool, error)) {
	var buf bytes.Buffer
	ok, err := export(&buf)
	if err != nil {
		slog.Error("Error exporting workbook", "error", err)
		corsError(w, "Error generating spreadsheet", http.StatusInternalServerError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", XLSXContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", ExportFileName))
	w.Header().Set("Content-Transfer-Encoding", "binary")
	if _, err := buf.WriteTo(w); err != nil {
		slog.Error("Error writing workbook", "error", err)
	}
}

// writeBusy answers an upload that arrived mid-extraction with the
// processing state, so clients keep showing progress
func writeBusy(w http.ResponseWriter, state State) {
	setCORSHeaders(w)
	writeJSON(w, http.StatusConflict, state)
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}

// handleGetSession returns the caller's session state
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	writeJSON(w, http.StatusOK, session.State())
}

// handleSessionEvents streams state changes as server-sent events
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		corsError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	session := s.session(w, r)
	updates, unsubscribe := session.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case state, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(state)
			if err != nil {
				slog.Error("Error encoding event", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleUpload runs an extraction on the uploaded sheet image
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	if session.Busy() {
		writeBusy(w, session.State())
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		jsonError(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose an image of the sheet to upload."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	contentType := DetectContentType(header.Filename, header.Header.Get("Content-Type"))
	if contentType != "" && !IsImage(contentType) {
		slog.Warn("Upload does not look like an image", "filename", header.Filename, "content_type", contentType)
	}

	// the extraction runs to completion even if the client goes away
	ctx := context.WithoutCancel(r.Context())
	state, err := s.service.Upload(ctx, session, header.Filename, f, contentType)
	if errors.Is(err, ErrBusy) {
		writeBusy(w, state)
		return
	}
	if err != nil {
		slog.Error("Error processing upload", "filename", header.Filename, "error", err)
		jsonError(w, unexpectedErrorMessage, http.StatusInternalServerError)
		return
	}

	code := http.StatusOK
	if state.Status == StatusError {
		code = http.StatusBadRequest
		setCORSHeaders(w)
	}
	writeJSON(w, code, state)
}

// handleExportSession downloads the session's records as xlsx
func (s *Server) handleExportSession(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	writeWorkbook(w, func(buf *bytes.Buffer) (bool, error) {
		return session.Export(buf)
	})
}

// handleListBatches returns all archived batches
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.service.ListBatches()
	if err != nil {
		slog.Error("Error listing batches", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if batches == nil {
		batches = []*Batch{}
	}
	writeJSON(w, http.StatusOK, batches)
}

// handleGetBatch returns one archived batch
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.service.GetBatch(r.PathValue("id"))
	if err != nil {
		corsError(w, "Batch not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// handleGetBatchImage returns the source image of a batch
func (s *Server) handleGetBatchImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetBatchImage(r.PathValue("id"))
	if err != nil {
		corsError(w, "Image not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleExportBatch downloads an archived batch as xlsx
func (s *Server) handleExportBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.service.GetBatch(id); err != nil {
		corsError(w, "Batch not found", http.StatusNotFound)
		return
	}
	writeWorkbook(w, func(buf *bytes.Buffer) (bool, error) {
		return s.service.ExportBatch(buf, id)
	})
}

// handleDeleteBatch deletes a batch and its image
func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteBatch(r.PathValue("id")); err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			corsError(w, "Batch not found", http.StatusNotFound)
			return
		}
		corsError(w, "Error deleting batch", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
