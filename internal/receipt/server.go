package receipt

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
)

// Server handles HTTP requests for the capture pipeline and saved records
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			// Ensure CORS headers are set before error response
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Resibo"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	// Capture working set
	s.mux.HandleFunc("GET /api/files/{id}/raster", s.requireAuth(s.handleGetFileRaster))
	s.mux.HandleFunc("POST /api/files/{id}/rotate", s.requireAuth(s.handleRotateFile))
	s.mux.HandleFunc("POST /api/files/{id}/table", s.requireAuth(s.handleParseTable))
	s.mux.HandleFunc("POST /api/files/{id}/click", s.requireAuth(s.handleMapClick))
	s.mux.HandleFunc("DELETE /api/files/{id}", s.requireAuth(s.handleDeleteFile))
	s.mux.HandleFunc("GET /api/files", s.requireAuth(s.handleListFiles))
	s.mux.HandleFunc("POST /api/files", s.requireAuth(s.handleUploadFile))

	// Pipeline stages
	s.mux.HandleFunc("POST /api/preprocess", s.requireAuth(s.handlePreprocess))
	s.mux.HandleFunc("POST /api/ocr", s.requireAuth(s.handleOCR))
	s.mux.HandleFunc("GET /api/suggestions", s.requireAuth(s.handleSuggestions))
	s.mux.HandleFunc("GET /api/shapes", s.requireAuth(s.handleShapes))
	s.mux.HandleFunc("POST /api/reset", s.requireAuth(s.handleReset))

	// Saved records
	s.mux.HandleFunc("POST /api/records/suggest-total", s.requireAuth(s.handleSuggestRecordTotal))
	s.mux.HandleFunc("GET /api/records/{id}", s.requireAuth(s.handleGetRecord))
	s.mux.HandleFunc("DELETE /api/records/{id}", s.requireAuth(s.handleDeleteRecord))
	s.mux.HandleFunc("GET /api/records", s.requireAuth(s.handleListRecords))
	s.mux.HandleFunc("POST /api/records", s.requireAuth(s.handleSaveRecord))

	// Exports
	s.mux.HandleFunc("GET /api/export/receipts.csv", s.requireAuth(s.handleExportReceiptsCSV))
	s.mux.HandleFunc("GET /api/export/lineitems.csv", s.requireAuth(s.handleExportLineItemsCSV))
	s.mux.HandleFunc("GET /api/export/archive.zip", s.requireAuth(s.handleExportZIP))

	// Verified session
	s.mux.HandleFunc("POST /api/session/verify", s.requireAuth(s.handleVerifySession))
	s.mux.HandleFunc("GET /api/session", s.requireAuth(s.handleGetSession))
	s.mux.HandleFunc("DELETE /api/session", s.requireAuth(s.handleClearSession))

	// HTML interface (register last as it's the catch-all)
	s.mux.HandleFunc("GET /index.html", s.requireAuth(s.handleIndex))
	s.mux.HandleFunc("GET /", s.requireAuth(s.handleIndex))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	// Wrap the mux with CORS middleware to handle all requests including OPTIONS
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
