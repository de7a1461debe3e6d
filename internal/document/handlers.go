package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/zombor/tripdocs/internal/scanning"
)

// maxUploadSize fits high-resolution phone photos and multi-page PDFs
const maxUploadSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// errorResponse is the JSON body of every failed request
type errorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	DocumentID uint64 `json:"document_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// errorStatus maps a service error onto an HTTP status and error code
func errorStatus(err error) (int, string) {
	switch {
	case scanning.IsCredentialsMissing(err):
		return http.StatusPreconditionFailed, "credentials_missing"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity, "validation_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeServiceError logs unexpected failures and writes the mapped error response
func writeServiceError(w http.ResponseWriter, action string, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Error "+action, "error", err)
		message = "Internal server error"
	}
	writeError(w, status, code, message)
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", "A numeric ID is required")
		return 0, false
	}
	return id, true
}

// readUpload reads the "file" part of a multipart upload
func readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "File is too large. Maximum size is 50MB.")
			return "", nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid_form", "Error parsing form")
		return "", nil, false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file", "No file was selected. Please choose a file to upload.")
		return "", nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "internal", "Error reading file. Please try again.")
		return "", nil, false
	}

	return header.Filename, data, true
}

// autoParse resolves the auto_parse form value, falling back to the stored preference
func (s *Server) autoParse(r *http.Request) (bool, error) {
	value := strings.TrimSpace(r.FormValue("auto_parse"))
	if value == "" {
		return s.settings.AutoParse()
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%w: auto_parse must be true or false", ErrValidation)
	}
	return enabled, nil
}

// processResponse is the JSON body returned after a pipeline run
type processResponse struct {
	Document    *Document            `json:"document"`
	Candidates  []scanning.Candidate `json:"candidates"`
	NeedsReview bool                 `json:"needs_review"`
	Error       string               `json:"error,omitempty"`
}

func (s *Server) newProcessResponse(result *ProcessResult) (*processResponse, error) {
	doc, err := s.service.GetDocument(result.DocumentID)
	if err != nil {
		return nil, err
	}
	resp := &processResponse{
		Document:    doc,
		Candidates:  result.Candidates,
		NeedsReview: result.NeedsReview(),
	}
	if resp.Candidates == nil {
		resp.Candidates = []scanning.Candidate{}
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	return resp, nil
}

// writeProcessResult writes a pipeline outcome. A missing API key becomes a 412
// that still names the record, which exists either way.
func (s *Server) writeProcessResult(w http.ResponseWriter, status int, result *ProcessResult, err error) {
	if err != nil {
		if result != nil && scanning.IsCredentialsMissing(err) {
			writeJSON(w, http.StatusPreconditionFailed, errorResponse{
				Error:      err.Error(),
				Code:       "credentials_missing",
				DocumentID: result.DocumentID,
			})
			return
		}
		writeServiceError(w, "processing document", err)
		return
	}

	resp, err := s.newProcessResponse(result)
	if err != nil {
		writeServiceError(w, "loading processed document", err)
		return
	}
	writeJSON(w, status, resp)
}

// handleUploadDocument stores an upload and runs the pipeline on it
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	filename, data, ok := readUpload(w, r)
	if !ok {
		return
	}

	autoParse, err := s.autoParse(r)
	if err != nil {
		writeServiceError(w, "reading auto parse setting", err)
		return
	}

	var tripID uint64
	if value := strings.TrimSpace(r.FormValue("trip_id")); value != "" {
		tripID, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_id", "trip_id must be numeric")
			return
		}
	}

	result, err := s.service.AddDocument(r.Context(), filename, data, autoParse, tripID)
	s.writeProcessResult(w, http.StatusCreated, result, err)
}

// handleListDocuments returns all documents
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.service.ListDocuments()
	if err != nil {
		writeServiceError(w, "listing documents", err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleGetDocument returns a single document
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	doc, err := s.service.GetDocument(id)
	if err != nil {
		writeServiceError(w, "getting document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleGetDocumentFile returns the stored file for a document
func (s *Server) handleGetDocumentFile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	data, contentType, err := s.service.GetDocumentFile(id)
	if err != nil {
		writeServiceError(w, "getting document file", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleUpdateDocument applies a user edit
func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var update DocumentUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	doc, err := s.service.UpdateDocument(id, update)
	if err != nil {
		writeServiceError(w, "updating document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleDeleteDocument deletes a document
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteDocument(id); err != nil {
		writeServiceError(w, "deleting document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReprocessDocument re-runs extraction on one document
func (s *Server) handleReprocessDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := s.service.Reprocess(r.Context(), id)
	s.writeProcessResult(w, http.StatusOK, result, err)
}

// batchResponse reports a batch reprocess; Error and Code are set when it stopped early
type batchResponse struct {
	*BatchResult
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// handleReprocessBatch re-runs extraction on several documents in order
func (s *Server) handleReprocessBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []uint64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "At least one document ID is required")
		return
	}

	batch, err := s.service.ReprocessBatch(r.Context(), req.IDs)
	if err != nil {
		status, code := errorStatus(err)
		writeJSON(w, status, batchResponse{BatchResult: batch, Error: err.Error(), Code: code})
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{BatchResult: batch})
}

// handleListTrips returns all trips
func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := s.service.ListTrips()
	if err != nil {
		writeServiceError(w, "listing trips", err)
		return
	}
	writeJSON(w, http.StatusOK, trips)
}

// handleCreateTrip creates a trip
func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var input TripInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	trip, err := s.service.CreateTrip(input)
	if err != nil {
		writeServiceError(w, "creating trip", err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

// handleGetTrip returns a trip with its documents
func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	trip, docs, err := s.service.GetTripWithDocuments(id)
	if err != nil {
		writeServiceError(w, "getting trip", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trip":      trip,
		"documents": docs,
	})
}

// handleUpdateTrip replaces a trip's title and dates
func (s *Server) handleUpdateTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var input TripInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	trip, err := s.service.UpdateTrip(id, input)
	if err != nil {
		writeServiceError(w, "updating trip", err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// handleDeleteTrip deletes a trip, leaving its documents unfiled
func (s *Server) handleDeleteTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteTrip(id); err != nil {
		writeServiceError(w, "deleting trip", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUploadIdentity stores an identity document and extracts its fields
func (s *Server) handleUploadIdentity(w http.ResponseWriter, r *http.Request) {
	filename, data, ok := readUpload(w, r)
	if !ok {
		return
	}

	autoParse, err := s.autoParse(r)
	if err != nil {
		writeServiceError(w, "reading auto parse setting", err)
		return
	}

	result, err := s.service.AddIdentityDocument(r.Context(), filename, data, autoParse)
	if err != nil {
		if result != nil && scanning.IsCredentialsMissing(err) {
			writeJSON(w, http.StatusPreconditionFailed, errorResponse{
				Error:      err.Error(),
				Code:       "credentials_missing",
				DocumentID: result.Identity.ID,
			})
			return
		}
		writeServiceError(w, "processing identity document", err)
		return
	}

	resp := map[string]any{"identity": result.Identity}
	if result.Candidate != nil {
		resp["missing_fields"] = result.Candidate.MissingFields
	}
	if result.Err != nil {
		resp["error"] = result.Err.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleListIdentities returns all identity documents
func (s *Server) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := s.service.ListIdentities()
	if err != nil {
		writeServiceError(w, "listing identity documents", err)
		return
	}
	writeJSON(w, http.StatusOK, identities)
}

// handleGetIdentity returns a single identity document
func (s *Server) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	identity, err := s.service.GetIdentity(id)
	if err != nil {
		writeServiceError(w, "getting identity document", err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

// handleUpdateIdentity applies a user edit to an identity document
func (s *Server) handleUpdateIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var update IdentityUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	identity, err := s.service.UpdateIdentity(id, update)
	if err != nil {
		writeServiceError(w, "updating identity document", err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

// handleDeleteIdentity deletes an identity document and its file
func (s *Server) handleDeleteIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteIdentity(id); err != nil {
		writeServiceError(w, "deleting identity document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetSettings reports the current settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	view, err := s.settings.View(r.Context())
	if err != nil {
		writeServiceError(w, "reading settings", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleUpdateSettings stores the API key and auto-parse preference. Absent fields are unchanged.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey    *string `json:"api_key"`
		AutoParse *bool   `json:"auto_parse"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	if req.APIKey != nil {
		if err := s.settings.SetAPIKey(*req.APIKey); err != nil {
			writeServiceError(w, "saving settings", err)
			return
		}
	}
	if req.AutoParse != nil {
		if err := s.settings.SetAutoParse(*req.AutoParse); err != nil {
			writeServiceError(w, "saving settings", err)
			return
		}
	}

	s.handleGetSettings(w, r)
}

// handleEvents streams a server-sent event each time documents change
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "Streaming is not supported")
		return
	}

	changed := make(chan struct{}, 1)
	unsubscribe := s.service.Notifier().Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-changed:
			fmt.Fprint(w, "event: documents-changed\ndata: {}\n\n")
			flusher.Flush()
		}
	}
}
