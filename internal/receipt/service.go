package receipt

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/resibo-ph/resibo/internal/extract"
	"github.com/resibo-ph/resibo/internal/layout"
	"github.com/resibo-ph/resibo/internal/ocr"
	"github.com/resibo-ph/resibo/internal/overlay"
	"github.com/resibo-ph/resibo/internal/preprocess"
	"github.com/resibo-ph/resibo/internal/raster"
	"github.com/resibo-ph/resibo/internal/session"
)

// IDGenerator generates unique IDs for files and records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates IDs using UnixNano timestamp
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service drives the capture-to-record pipeline: imported files, their
// preprocessing and recognition state, the current overlay shapes, and saved
// records. The working set (files, shapes) is one review session's scratch
// space; only saved records persist.
type Service struct {
	db          DB
	storage     Storage
	engine      ocr.Engine
	language    string
	gate        *session.Gate
	idGenerator IDGenerator
	timeSource  TimeSource

	mu     sync.Mutex
	files  []*UploadedFile
	shapes []layout.Shape
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage, engine ocr.Engine, language string, gate *session.Gate) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		engine:      engine,
		language:    language,
		gate:        gate,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, engine ocr.Engine, language string, gate *session.Gate, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		engine:      engine,
		language:    language,
		gate:        gate,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	return base
}

// ImportFile decodes an upload into one or more captures. A PDF contributes
// one capture per renderable page, named <base>_pN.png; images contribute one.
// Every capture is re-encoded to PNG and stored under originals/.
func (s *Service) ImportFile(name string, data []byte, contentType string) ([]*UploadedFile, error) {
	base := sanitizeFilename(name)

	type page struct {
		name string
		png  []byte
		w, h int
	}
	var decoded []page

	if isPDF(data, contentType, name) {
		imgs, err := raster.RenderPDF(data)
		if err != nil {
			return nil, fmt.Errorf("importing PDF: %w", err)
		}
		for i, img := range imgs {
			png, err := raster.EncodePNG(img)
			if err != nil {
				return nil, fmt.Errorf("encoding PDF page %d: %w", i+1, err)
			}
			decoded = append(decoded, page{
				name: fmt.Sprintf("%s_p%d.png", base, i+1),
				png:  png,
				w:    img.Bounds().Dx(),
				h:    img.Bounds().Dy(),
			})
		}
	} else {
		img, err := raster.Decode(data, contentType)
		if err != nil {
			return nil, fmt.Errorf("importing %s: %w", name, err)
		}
		png, err := raster.EncodePNG(img)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", name, err)
		}
		decoded = append(decoded, page{
			name: base + ".png",
			png:  png,
			w:    img.Bounds().Dx(),
			h:    img.Bounds().Dy(),
		})
	}

	var imported []*UploadedFile
	for _, p := range decoded {
		id := s.idGenerator.Generate()
		savedPath, err := s.storage.Save(filepath.Join(OriginalsDir, fmt.Sprintf("%s_%s", id, p.name)), p.png)
		if err != nil {
			return nil, fmt.Errorf("saving file: %w", err)
		}
		imported = append(imported, &UploadedFile{
			ID:           id,
			Name:         p.name,
			OriginalPath: savedPath,
			Width:        p.w,
			Height:       p.h,
		})
	}

	s.mu.Lock()
	s.files = append(s.files, imported...)
	s.mu.Unlock()

	return imported, nil
}

func isPDF(data []byte, contentType, name string) bool {
	if strings.Contains(strings.ToLower(contentType), "pdf") {
		return true
	}
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		return true
	}
	return bytes.HasPrefix(data, []byte("%PDF"))
}

// Files returns the current working set of imported captures.
func (s *Service) Files() []*UploadedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*UploadedFile, len(s.files))
	copy(out, s.files)
	return out
}

// SetRotation stores a display rotation (degrees clockwise, snapped to 90s)
// for one capture. Preprocessing, recognition and click mapping all honor it.
func (s *Service) SetRotation(id string, degrees int) (*UploadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.findFileLocked(id)
	if err != nil {
		return nil, err
	}
	d := degrees % 360
	if d < 0 {
		d += 360
	}
	f.Rotation = (d / 90 * 90) % 360
	return f, nil
}

// RemoveFile deletes a capture from the working set and both its stored
// rasters.
func (s *Service) RemoveFile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, f := range s.files {
		if f.ID != id {
			continue
		}
		if err := s.storage.Delete(f.OriginalPath); err != nil {
			slog.Warn("Failed to delete original", "path", f.OriginalPath, "error", err)
		}
		if f.ProcessedPath != "" {
			if err := s.storage.Delete(f.ProcessedPath); err != nil {
				slog.Warn("Failed to delete processed file", "path", f.ProcessedPath, "error", err)
			}
		}
		s.files = append(s.files[:i], s.files[i+1:]...)
		return nil
	}
	return fmt.Errorf("file not found: %s", id)
}

// PreprocessAll runs the preset over every capture in order, overwriting each
// file's processed raster. Failures on one capture abort the batch so the
// reviewer never sees a half-updated set.
func (s *Service) PreprocessAll(preset preprocess.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.files {
		img, err := s.loadRaster(f.OriginalPath)
		if err != nil {
			return fmt.Errorf("loading %s: %w", f.Name, err)
		}
		bin, err := preprocess.Run(img, preset, f.Rotation)
		if err != nil {
			return fmt.Errorf("preprocessing %s: %w", f.Name, err)
		}
		png, err := raster.EncodePNG(bin)
		if err != nil {
			return fmt.Errorf("encoding processed %s: %w", f.Name, err)
		}
		path, err := s.storage.Save(filepath.Join(ProcessedDir, f.ID+".png"), png)
		if err != nil {
			return fmt.Errorf("saving processed %s: %w", f.Name, err)
		}
		f.ProcessedPath = path
	}
	return nil
}

// RunOCR recognizes every capture sequentially and returns the concatenated
// text plus the mean per-file confidence. useOriginals selects the
// before-preprocessing rasters; rotation is applied either way. Each run
// overwrites the previous per-file result.
func (s *Service) RunOCR(ctx context.Context, useOriginals bool) (string, float64, error) {
	if s.engine == nil || !s.engine.Available() {
		return "", 0, ocr.ErrEngineUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.files) == 0 {
		return "", 0, fmt.Errorf("no files to recognize")
	}

	var texts []string
	var confSum float64
	for _, f := range s.files {
		png, err := s.rasterForOCR(f, useOriginals)
		if err != nil {
			return "", 0, err
		}
		res, err := s.engine.Recognize(ctx, png, ocr.Options{
			Language:       s.language,
			PreserveSpaces: true,
		})
		if err != nil {
			return "", 0, fmt.Errorf("recognizing %s: %w", f.Name, err)
		}
		f.OCR = &res
		texts = append(texts, res.Text)
		confSum += res.Confidence

		if res.LowConfidence() {
			slog.Warn("Low OCR confidence", "file", f.Name, "confidence", res.Confidence)
		}
	}

	return strings.Join(texts, "\n"), confSum / float64(len(s.files)), nil
}

// rasterForOCR returns PNG bytes for one capture: the processed raster
// (already rotated during preprocessing), or the original rotated upright.
// Caller holds the lock.
func (s *Service) rasterForOCR(f *UploadedFile, useOriginals bool) ([]byte, error) {
	if !useOriginals && f.ProcessedPath != "" {
		data, err := s.storage.Get(f.ProcessedPath)
		if err != nil {
			return nil, fmt.Errorf("loading processed %s: %w", f.Name, err)
		}
		return data, nil
	}

	img, err := s.loadRaster(f.OriginalPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", f.Name, err)
	}
	if f.Rotation != 0 {
		img = raster.Rotate(img, f.Rotation)
	}
	return raster.EncodePNG(img)
}

// Suggest runs the field extractor over the current recognized text and
// returns its best-effort field suggestions, with the verified session name
// feeding role inference.
func (s *Service) Suggest() (extract.Suggestions, error) {
	text := s.CombinedText()
	if strings.TrimSpace(text) == "" {
		return extract.Suggestions{}, fmt.Errorf("no recognized text; run OCR first")
	}

	var sessionName string
	if sess, err := s.db.GetSession(); err == nil && sess != nil {
		sessionName = sess.Name
	}
	return extract.Extract(text, sessionName), nil
}

// CombinedText joins the per-file recognized texts in import order.
func (s *Service) CombinedText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var texts []string
	for _, f := range s.files {
		if f.OCR != nil && f.OCR.Text != "" {
			texts = append(texts, f.OCR.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ParseTable runs ruled-table detection on one capture's original raster
// (rotated upright) and, on success, replaces the overlay shape set
// wholesale. On failure the previous shapes and items are untouched.
func (s *Service) ParseTable(ctx context.Context, fileID string) (*layout.Result, error) {
	s.mu.Lock()
	f, err := s.findFileLocked(fileID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	originalPath := f.OriginalPath
	rotation := f.Rotation
	width, height := f.Width, f.Height
	s.mu.Unlock()

	img, err := s.loadRaster(originalPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", fileID, err)
	}
	if rotation != 0 {
		img = raster.Rotate(img, rotation)
	}

	parser := layout.NewParser(s.engine, s.language)
	result, err := parser.Parse(ctx, img)
	if err != nil {
		return nil, err
	}

	// Shapes come back in the rotated frame; store them in the unrotated
	// raster space the overlay mapper expects.
	for i := range result.Shapes {
		result.Shapes[i] = unrotateShape(result.Shapes[i], width, height, rotation)
	}

	s.mu.Lock()
	s.shapes = result.Shapes
	s.mu.Unlock()

	return result, nil
}

// unrotateShape maps a rectangle from the rotated frame back to the unrotated
// raster. w and h are the unrotated dimensions.
func unrotateShape(sh layout.Shape, w, h, rotation int) layout.Shape {
	x0, y0 := sh.X, sh.Y
	x1, y1 := sh.X+sh.Width, sh.Y+sh.Height
	switch rotation {
	case 90:
		sh.X, sh.Y = y0, h-x1
	case 180:
		sh.X, sh.Y = w-x1, h-y1
	case 270:
		sh.X, sh.Y = w-y1, x0
	default:
		return sh
	}
	if rotation == 90 || rotation == 270 {
		sh.Width, sh.Height = sh.Height, sh.Width
	}
	return sh
}

// Shapes returns the current overlay shapes.
func (s *Service) Shapes() []layout.Shape {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]layout.Shape, len(s.shapes))
	copy(out, s.shapes)
	return out
}

// MapClick resolves a display-space click on one capture to the line-item
// field under it. The boolean is false on a miss.
func (s *Service) MapClick(fileID string, click overlay.Click) (overlay.Hit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.findFileLocked(fileID)
	if err != nil {
		return overlay.Hit{}, false, err
	}
	hit, ok := overlay.Map(click, f.Width, f.Height, f.Rotation, s.shapes)
	return hit, ok, nil
}

// SaveRecord stamps a record with its ID, save time, capture manifest,
// recognized text and session audit fields, then persists it.
func (s *Service) SaveRecord(record *Record) (*Record, error) {
	if record.ID == "" {
		record.ID = s.idGenerator.Generate()
	}
	record.SavedAt = s.timeSource.Now()

	s.mu.Lock()
	record.Images = record.Images[:0]
	for _, f := range s.files {
		record.Images = append(record.Images, ImageRef{
			Name:      f.Name,
			Processed: f.ProcessedPath != "",
			Rotation:  f.Rotation,
		})
	}
	s.mu.Unlock()

	if record.OCRText == "" {
		record.OCRText = s.CombinedText()
	}

	if sess, err := s.db.GetSession(); err == nil && sess != nil {
		record.SessionUserName = sess.Name
		record.SessionUserTIN = sess.TIN
		record.SessionUserGmail = sess.Gmail
	}

	if err := s.db.SaveRecord(record); err != nil {
		return nil, fmt.Errorf("saving record: %w", err)
	}
	return record, nil
}

// GetRecord retrieves a record by ID
func (s *Service) GetRecord(id string) (*Record, error) {
	record, err := s.db.GetRecord(id)
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return record, nil
}

// ListRecords returns all records
func (s *Service) ListRecords() ([]*Record, error) {
	records, err := s.db.ListRecords()
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return records, nil
}

// DeleteRecord removes a record
func (s *Service) DeleteRecord(id string) error {
	if err := s.db.DeleteRecord(id); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	return nil
}

// Verify checks the supplied identity against the issued-codes sheet and, on
// success, stores it as the current session.
func (s *Service) Verify(ctx context.Context, code, name, tin, gmail string) (*session.Session, error) {
	if s.gate == nil {
		return nil, fmt.Errorf("verification gate is not configured")
	}
	sess, err := s.gate.Verify(ctx, code, name, tin, gmail)
	if err != nil {
		return nil, err
	}
	if err := s.db.SaveSession(sess); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	return sess, nil
}

// Session returns the current verified session, nil if none.
func (s *Service) Session() (*session.Session, error) {
	return s.db.GetSession()
}

// ClearSession removes the stored session.
func (s *Service) ClearSession() error {
	return s.db.ClearSession()
}

// Reset discards the working set: all imported captures, their stored
// rasters, and the overlay shapes. Saved records are untouched.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.files {
		if err := s.storage.Delete(f.OriginalPath); err != nil {
			slog.Warn("Failed to delete original", "path", f.OriginalPath, "error", err)
		}
		if f.ProcessedPath != "" {
			if err := s.storage.Delete(f.ProcessedPath); err != nil {
				slog.Warn("Failed to delete processed file", "path", f.ProcessedPath, "error", err)
			}
		}
	}
	s.files = nil
	s.shapes = nil
}

// GetFileRaster returns the stored PNG bytes for one capture.
func (s *Service) GetFileRaster(id string, processed bool) ([]byte, error) {
	s.mu.Lock()
	f, err := s.findFileLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	path := f.OriginalPath
	if processed {
		if f.ProcessedPath == "" {
			s.mu.Unlock()
			return nil, fmt.Errorf("file %s has no processed raster", id)
		}
		path = f.ProcessedPath
	}
	s.mu.Unlock()

	return s.storage.Get(path)
}

func (s *Service) findFileLocked(id string) (*UploadedFile, error) {
	for _, f := range s.files {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, fmt.Errorf("file not found: %s", id)
}

// loadRaster reads a stored PNG back into a pixel buffer.
func (s *Service) loadRaster(path string) (image.Image, error) {
	data, err := s.storage.Get(path)
	if err != nil {
		return nil, err
	}
	return raster.Decode(data, "image/png")
}
