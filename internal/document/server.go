package document

import (
	"log/slog"
	"net/http"
)

// Server handles HTTP requests for documents, trips, and settings
type Server struct {
	service  *Service
	settings *Settings
	mux      *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, settings *Settings) *Server {
	return NewServerWithMux(service, settings, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, settings *Settings, mux *http.ServeMux) *Server {
	s := &Server{
		service:  service,
		settings: settings,
		mux:      mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Documents
	s.mux.HandleFunc("POST /api/documents/reprocess", s.handleReprocessBatch)
	s.mux.HandleFunc("POST /api/documents/{id}/reprocess", s.handleReprocessDocument)
	s.mux.HandleFunc("GET /api/documents/{id}/file", s.handleGetDocumentFile)
	s.mux.HandleFunc("GET /api/documents/{id}", s.handleGetDocument)
	s.mux.HandleFunc("PUT /api/documents/{id}", s.handleUpdateDocument)
	s.mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)
	s.mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	s.mux.HandleFunc("POST /api/documents", s.handleUploadDocument)

	// Trips
	s.mux.HandleFunc("GET /api/trips/{id}", s.handleGetTrip)
	s.mux.HandleFunc("PUT /api/trips/{id}", s.handleUpdateTrip)
	s.mux.HandleFunc("DELETE /api/trips/{id}", s.handleDeleteTrip)
	s.mux.HandleFunc("GET /api/trips", s.handleListTrips)
	s.mux.HandleFunc("POST /api/trips", s.handleCreateTrip)

	// Identity documents
	s.mux.HandleFunc("GET /api/identities/{id}", s.handleGetIdentity)
	s.mux.HandleFunc("PUT /api/identities/{id}", s.handleUpdateIdentity)
	s.mux.HandleFunc("DELETE /api/identities/{id}", s.handleDeleteIdentity)
	s.mux.HandleFunc("GET /api/identities", s.handleListIdentities)
	s.mux.HandleFunc("POST /api/identities", s.handleUploadIdentity)

	// Settings and change events
	s.mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/settings", s.handleUpdateSettings)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
