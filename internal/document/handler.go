package document

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	appctx "github.com/shikkhaloy/student-records-api/internal/context"
	"github.com/shikkhaloy/student-records-api/internal/repository"
)

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler handles HTTP requests for student document endpoints
type Handler struct {
	service *Service
	// maxBytes caps the multipart form held in memory during upload
	maxBytes int64
}

// NewHandler creates a new document Handler instance
func NewHandler(service *Service, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Handler{
		service:  service,
		maxBytes: maxBytes,
	}
}

// Upload handles multipart document upload
// POST /api/v1/students/{id}/documents
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "id")

	uploadedBy, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "AUTH_TOKEN_INVALID", "Invalid or expired token")
		return
	}

	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	kind := r.FormValue("kind")

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "A file part named 'file' is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Failed to read uploaded file")
		return
	}
	if int64(len(data)) > h.maxBytes {
		h.writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "File exceeds the maximum allowed size")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}

	doc, err := h.service.Upload(r.Context(), studentID, kind, header.Filename, contentType, data, uploadedBy)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"document": doc,
	})
}

// List handles fetching document metadata for a student
// GET /api/v1/students/{id}/documents
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "id")

	docs, err := h.service.List(r.Context(), studentID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
	})
}

// Download returns a pre-signed URL for a document
// GET /api/v1/students/{id}/documents/{docID}
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "id")
	documentID := chi.URLParam(r, "docID")

	resp, err := h.service.Download(r.Context(), studentID, documentID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, resp)
}

// Delete removes a document
// DELETE /api/v1/students/{id}/documents/{docID}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "id")
	documentID := chi.URLParam(r, "docID")

	if err := h.service.Delete(r.Context(), studentID, documentID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Document deleted",
	})
}

// writeServiceError maps service errors to HTTP responses
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidID):
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid id")
	case errors.Is(err, ErrInvalidKind):
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Document kind must be photo, transcript, or certificate")
	case errors.Is(err, ErrEmptyFile):
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "File is empty")
	case errors.Is(err, ErrFileTooLarge):
		h.writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "File exceeds the maximum allowed size")
	case errors.Is(err, ErrUnsupportedType), errors.Is(err, ErrContentMismatch):
		h.writeError(w, http.StatusBadRequest, "UNSUPPORTED_FILE_TYPE", "File type not allowed")
	case errors.Is(err, ErrStudentNotFound):
		h.writeError(w, http.StatusNotFound, "STUDENT_NOT_FOUND", "Student not found")
	case errors.Is(err, ErrDocumentNotFound):
		h.writeError(w, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document not found")
	default:
		h.writeError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Service temporarily unavailable")
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// StudentRoutes returns a route group for per-student document routes.
// It is mounted inside the /students subtree, which already enforces
// authentication; uploads and deletes additionally require the admin or
// teacher role.
func StudentRoutes(handler *Handler, requireRole func(roles ...string) func(http.Handler) http.Handler) func(chi.Router) {
	return func(r chi.Router) {
		r.Route("/{id}/documents", func(r chi.Router) {
			r.Get("/", handler.List)
			r.Get("/{docID}", handler.Download)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(repository.RoleAdmin, repository.RoleTeacher))
				r.Post("/", handler.Upload)
				r.Delete("/{docID}", handler.Delete)
			})
		})
	}
}
