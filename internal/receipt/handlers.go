package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/resibo-ph/resibo/internal/layout"
	"github.com/resibo-ph/resibo/internal/ocr"
	"github.com/resibo-ph/resibo/internal/overlay"
	"github.com/resibo-ph/resibo/internal/preprocess"
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func jsonError(w http.ResponseWriter, code int, message string) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

// handleUploadFile imports an uploaded capture. PDFs fan out to one entry per
// page, so the response is always a list.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	// 50MB to handle high-resolution phone photos
	maxFormSize := int64(50 << 20)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		jsonError(w, http.StatusBadRequest, errorMsg)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		jsonError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		ext := strings.ToLower(filepath.Ext(header.Filename))
		switch ext {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		default:
			contentType = "application/octet-stream"
		}
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	files, err := s.service.ImportFile(header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error importing file", "filename", header.Filename, "error", err)
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, files)
}

// handleListFiles returns the current working set
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files := s.service.Files()
	if files == nil {
		files = []*UploadedFile{}
	}
	writeJSON(w, http.StatusOK, files)
}

// handleGetFileRaster serves a capture's stored PNG. ?processed=1 selects the
// preprocessed variant.
func (s *Server) handleGetFileRaster(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	processed := r.URL.Query().Get("processed") == "1"
	data, err := s.service.GetFileRaster(id, processed)
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

// handleRotateFile stores a display rotation for one capture
func (s *Server) handleRotateFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Degrees int `json:"degrees"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	f, err := s.service.SetRotation(r.PathValue("id"), req.Degrees)
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// handleDeleteFile removes a capture from the working set
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RemoveFile(r.PathValue("id")); err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePreprocess reruns the chosen preset over every capture
func (s *Server) handlePreprocess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level           string `json:"level"`
		SmallPrintBoost bool   `json:"small_print_boost"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	level, err := preprocess.ParseLevel(req.Level)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	preset := preprocess.Preset{Level: level, SmallPrintBoost: req.SmallPrintBoost}
	if err := s.service.PreprocessAll(preset); err != nil {
		slog.Error("Error preprocessing", "level", level, "error", err)
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	files := s.service.Files()
	if files == nil {
		files = []*UploadedFile{}
	}
	writeJSON(w, http.StatusOK, files)
}

// handleOCR recognizes all captures and returns the combined text
func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UseOriginals bool `json:"use_originals"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			corsError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	text, confidence, err := s.service.RunOCR(r.Context(), req.UseOriginals)
	if err != nil {
		if errors.Is(err, ocr.ErrEngineUnavailable) {
			jsonError(w, http.StatusServiceUnavailable, "OCR engine is not available")
			return
		}
		slog.Error("Error running OCR", "error", err)
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"text":           text,
		"confidence":     confidence,
		"low_confidence": confidence < ocr.LowConfidenceThreshold,
	})
}

// handleSuggestions runs field extraction over the recognized text
func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := s.service.Suggest()
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

// handleParseTable runs ruled-table detection on one capture
func (s *Server) handleParseTable(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ParseTable(r.Context(), r.PathValue("id"))
	if err != nil {
		switch {
		case errors.Is(err, ocr.ErrEngineUnavailable):
			jsonError(w, http.StatusServiceUnavailable, "OCR engine is not available")
		case errors.Is(err, layout.ErrNoGrid):
			jsonError(w, http.StatusUnprocessableEntity, "no ruled table detected")
		case errors.Is(err, layout.ErrTableTooFaint):
			jsonError(w, http.StatusUnprocessableEntity, "table rulings too faint to slice")
		default:
			slog.Error("Error parsing table", "error", err)
			jsonError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleShapes returns the current overlay shapes
func (s *Server) handleShapes(w http.ResponseWriter, r *http.Request) {
	shapes := s.service.Shapes()
	if shapes == nil {
		shapes = []layout.Shape{}
	}
	writeJSON(w, http.StatusOK, shapes)
}

// handleMapClick resolves a display click to the line-item field under it
func (s *Server) handleMapClick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X        float64 `json:"x"`
		Y        float64 `json:"y"`
		DisplayW float64 `json:"display_w"`
		DisplayH float64 `json:"display_h"`
		// RowCount is the client's current line-item table size. Rows can
		// shrink between a parse and a click; hits beyond the table are
		// clamped to the last row.
		RowCount int `json:"row_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	hit, ok, err := s.service.MapClick(r.PathValue("id"), overlay.Click{
		X: req.X, Y: req.Y,
		DisplayW: req.DisplayW, DisplayH: req.DisplayH,
	})
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}
	if ok && req.RowCount > 0 {
		hit.Row = overlay.ClampRow(hit.Row, req.RowCount)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"hit":    ok,
		"column": hit.Column,
		"row":    hit.Row,
	})
}

// handleReset discards the working set
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.service.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// handleSaveRecord persists a reviewed record
func (s *Server) handleSaveRecord(w http.ResponseWriter, r *http.Request) {
	var record Record
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	saved, err := s.service.SaveRecord(&record)
	if err != nil {
		slog.Error("Error saving record", "error", err)
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, saved)
}

// handleSuggestRecordTotal recomputes a record's total from its amount
// fields. The client calls this as the reviewer edits gross, VAT or
// discount; the response is advisory and never overwrites an edited total.
func (s *Server) handleSuggestRecordTotal(w http.ResponseWriter, r *http.Request) {
	var record Record
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total": record.SuggestTotal(),
	})
}

// handleListRecords returns all saved records
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListRecords()
	if err != nil {
		slog.Error("Error listing records", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Ensure we always return an array, not nil
	if records == nil {
		records = []*Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetRecord returns a single record
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := s.service.GetRecord(r.PathValue("id"))
	if err != nil {
		corsError(w, "Record not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleDeleteRecord deletes a record
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteRecord(r.PathValue("id")); err != nil {
		corsError(w, "Error deleting record", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExportReceiptsCSV serves the records export
func (s *Server) handleExportReceiptsCSV(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListRecords()
	if err != nil {
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	data, err := BuildReceiptsCSV(records)
	if err != nil {
		slog.Error("Error building CSV", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="Receipts.csv"`)
	w.Write(data)
}

// handleExportLineItemsCSV serves the line-items export
func (s *Server) handleExportLineItemsCSV(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListRecords()
	if err != nil {
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	data, err := BuildLineItemsCSV(records)
	if err != nil {
		slog.Error("Error building CSV", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="LineItems.csv"`)
	w.Write(data)
}

// handleExportZIP serves the full archive export
func (s *Server) handleExportZIP(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.ExportZIP()
	if err != nil {
		slog.Error("Error building archive", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="resibo-export.zip"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// handleVerifySession checks an identity against the issued-codes sheet
func (s *Server) handleVerifySession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code  string `json:"code"`
		Name  string `json:"name"`
		TIN   string `json:"tin"`
		Gmail string `json:"gmail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := s.service.Verify(r.Context(), req.Code, req.Name, req.TIN, req.Gmail)
	if err != nil {
		jsonError(w, http.StatusUnauthorized, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// handleGetSession returns the current verified session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Session()
	if err != nil {
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if sess == nil {
		corsError(w, "No session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleClearSession removes the stored session
func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearSession(); err != nil {
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
