// Package document implements upload, download, and management of
// student document files backed by object storage.
package document

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shikkhaloy/student-records-api/internal/metrics"
	"github.com/shikkhaloy/student-records-api/internal/repository"
	"github.com/shikkhaloy/student-records-api/internal/storage"
)

// Document kinds accepted by the upload endpoint
const (
	KindPhoto       = "photo"
	KindTranscript  = "transcript"
	KindCertificate = "certificate"
)

var validKinds = map[string]bool{
	KindPhoto:       true,
	KindTranscript:  true,
	KindCertificate: true,
}

// Service errors
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrStudentNotFound  = errors.New("student not found")
	ErrInvalidID        = errors.New("invalid id")
	ErrInvalidKind      = errors.New("invalid document kind")
	ErrFileTooLarge     = errors.New("file exceeds the maximum allowed size")
	ErrUnsupportedType  = errors.New("file type not allowed")
	ErrContentMismatch  = errors.New("file content does not match its declared type")
	ErrEmptyFile        = errors.New("file is empty")
)

// contentSignatures maps accepted content types to their magic byte
// prefixes. Uploads must match one prefix for their declared type.
var contentSignatures = map[string][][]byte{
	"application/pdf": {{0x25, 0x50, 0x44, 0x46}},
	"image/png":       {{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	"image/jpeg":      {{0xFF, 0xD8, 0xFF}},
}

// kindContentTypes restricts which content types each kind accepts
var kindContentTypes = map[string]map[string]bool{
	KindPhoto:       {"image/png": true, "image/jpeg": true},
	KindTranscript:  {"application/pdf": true},
	KindCertificate: {"application/pdf": true, "image/png": true, "image/jpeg": true},
}

// DocumentResponse is the API representation of a stored document
type DocumentResponse struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	Kind        string    `json:"kind"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Checksum    string    `json:"checksum"`
	UploadedBy  string    `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// DownloadResponse carries a pre-signed URL for fetching document content
type DownloadResponse struct {
	URL       string `json:"url"`
	ExpiresIn int64  `json:"expires_in"`
}

// ObjectStore is the object storage surface the service needs. It is
// satisfied by storage.StorageService.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
	DeleteObject(ctx context.Context, key string) error
	GetPresignedURL(ctx context.Context, key string) (string, time.Duration, error)
}

// Service implements student document operations
type Service struct {
	docs     repository.DocumentRepository
	students repository.StudentRepository
	store    ObjectStore
	maxBytes int64
	logger   *slog.Logger
}

// NewService creates a new document Service instance
func NewService(docs repository.DocumentRepository, students repository.StudentRepository, store ObjectStore, maxBytes int64, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Service{
		docs:     docs,
		students: students,
		store:    store,
		maxBytes: maxBytes,
		logger:   log,
	}
}

// Upload validates and stores a document for a student. The file must
// match its declared content type by magic bytes, and the kind
// restricts which types are accepted at all.
func (s *Service) Upload(ctx context.Context, studentID, kind, filename, contentType string, data []byte, uploadedBy string) (*DocumentResponse, error) {
	sid, err := uuid.Parse(studentID)
	if err != nil {
		return nil, ErrInvalidID
	}

	uploaderID, err := uuid.Parse(uploadedBy)
	if err != nil {
		return nil, ErrInvalidID
	}

	if !validKinds[kind] {
		return nil, ErrInvalidKind
	}

	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrFileTooLarge
	}

	allowed := kindContentTypes[kind]
	if !allowed[contentType] {
		return nil, ErrUnsupportedType
	}

	if !matchesMagicBytes(contentType, data) {
		return nil, ErrContentMismatch
	}

	// The student must exist before anything hits object storage
	if _, err := s.students.GetByID(ctx, sid); err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to verify student: %w", err)
	}

	checksum := sha256.Sum256(data)

	doc := &repository.StudentDocument{
		ID:          uuid.New(),
		StudentID:   sid,
		Kind:        kind,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		Checksum:    hex.EncodeToString(checksum[:]),
		UploadedBy:  uploaderID,
		CreatedAt:   time.Now().UTC(),
	}
	doc.StorageKey = storage.DocumentKey(sid.String(), doc.ID.String(), filename)

	if err := s.store.Upload(ctx, doc.StorageKey, contentType, data); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	if err := s.docs.Create(ctx, doc); err != nil {
		// Roll back the orphaned object; losing the cleanup is logged,
		// not fatal.
		if delErr := s.store.DeleteObject(ctx, doc.StorageKey); delErr != nil {
			s.logger.Error("failed to clean up orphaned document object",
				slog.String("storage_key", doc.StorageKey),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, fmt.Errorf("failed to save document metadata: %w", err)
	}

	metrics.DocumentUploadsTotal.WithLabelValues(kind).Inc()
	metrics.DocumentUploadBytes.Observe(float64(doc.SizeBytes))

	s.logger.Info("student document uploaded",
		slog.String("document_id", doc.ID.String()),
		slog.String("student_id", sid.String()),
		slog.String("kind", kind),
		slog.Int64("size_bytes", doc.SizeBytes),
	)

	resp := toDocumentResponse(doc)
	return &resp, nil
}

// List returns metadata for all documents belonging to a student
func (s *Service) List(ctx context.Context, studentID string) ([]DocumentResponse, error) {
	sid, err := uuid.Parse(studentID)
	if err != nil {
		return nil, ErrInvalidID
	}

	if _, err := s.students.GetByID(ctx, sid); err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to verify student: %w", err)
	}

	docs, err := s.docs.ListByStudent(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	responses := make([]DocumentResponse, 0, len(docs))
	for i := range docs {
		responses = append(responses, toDocumentResponse(&docs[i]))
	}
	return responses, nil
}

// Download returns a pre-signed URL for fetching the document content.
// The document must belong to the given student; a mismatched pair
// reads as not found.
func (s *Service) Download(ctx context.Context, studentID, documentID string) (*DownloadResponse, error) {
	doc, err := s.getOwned(ctx, studentID, documentID)
	if err != nil {
		return nil, err
	}

	url, expiry, err := s.store.GetPresignedURL(ctx, doc.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to generate download URL: %w", err)
	}

	return &DownloadResponse{
		URL:       url,
		ExpiresIn: int64(expiry.Seconds()),
	}, nil
}

// Delete removes a document and its stored object
func (s *Service) Delete(ctx context.Context, studentID, documentID string) error {
	doc, err := s.getOwned(ctx, studentID, documentID)
	if err != nil {
		return err
	}

	if err := s.docs.Delete(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to delete document metadata: %w", err)
	}

	// Metadata row is gone; a failed object delete leaves an orphan
	// that is cleaned up manually.
	if err := s.store.DeleteObject(ctx, doc.StorageKey); err != nil {
		s.logger.Error("failed to delete document object",
			slog.String("storage_key", doc.StorageKey),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("student document deleted", slog.String("document_id", documentID))
	return nil
}

// getOwned fetches a document and checks it belongs to the student
func (s *Service) getOwned(ctx context.Context, studentID, documentID string) (*repository.StudentDocument, error) {
	sid, err := uuid.Parse(studentID)
	if err != nil {
		return nil, ErrInvalidID
	}
	id, err := uuid.Parse(documentID)
	if err != nil {
		return nil, ErrInvalidID
	}

	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrDocumentNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	if doc.StudentID != sid {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// matchesMagicBytes checks file data against the known signature for
// its content type
func matchesMagicBytes(contentType string, data []byte) bool {
	prefixes, ok := contentSignatures[contentType]
	if !ok {
		return false
	}
	for _, prefix := range prefixes {
		if len(data) >= len(prefix) && bytes.Equal(data[:len(prefix)], prefix) {
			return true
		}
	}
	return false
}

func toDocumentResponse(doc *repository.StudentDocument) DocumentResponse {
	return DocumentResponse{
		ID:          doc.ID.String(),
		StudentID:   doc.StudentID.String(),
		Kind:        doc.Kind,
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
		SizeBytes:   doc.SizeBytes,
		Checksum:    doc.Checksum,
		UploadedBy:  doc.UploadedBy.String(),
		CreatedAt:   doc.CreatedAt,
	}
}
