package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Document repository errors
var (
	ErrDocumentNotFound = errors.New("document not found")
)

// DocumentRepository defines the interface for student document metadata
type DocumentRepository interface {
	Create(ctx context.Context, doc *StudentDocument) error
	GetByID(ctx context.Context, id uuid.UUID) (*StudentDocument, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID) ([]StudentDocument, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// DocumentRepo implements DocumentRepository using PostgreSQL via sqlx
type DocumentRepo struct {
	db *sqlx.DB
}

// NewDocumentRepo creates a new DocumentRepo instance
func NewDocumentRepo(db *sqlx.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Create inserts document metadata for a student. The caller assigns
// the ID up front because the storage key embeds it.
func (r *DocumentRepo) Create(ctx context.Context, doc *StudentDocument) error {
	defer observeQuery("documents_create", time.Now())

	query := `
		INSERT INTO student_documents (
			id, student_id, kind, filename, content_type, size_bytes,
			storage_key, checksum, uploaded_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	return r.db.QueryRowContext(ctx, query,
		doc.ID,
		doc.StudentID,
		doc.Kind,
		doc.Filename,
		doc.ContentType,
		doc.SizeBytes,
		doc.StorageKey,
		doc.Checksum,
		doc.UploadedBy,
	).Scan(&doc.CreatedAt)
}

// GetByID retrieves document metadata by ID
func (r *DocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*StudentDocument, error) {
	defer observeQuery("documents_get_by_id", time.Now())

	query := `
		SELECT id, student_id, kind, filename, content_type, size_bytes,
		       storage_key, checksum, uploaded_by, created_at
		FROM student_documents
		WHERE id = $1
	`

	var doc StudentDocument
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}

	return &doc, nil
}

// ListByStudent retrieves all document metadata for a student
func (r *DocumentRepo) ListByStudent(ctx context.Context, studentID uuid.UUID) ([]StudentDocument, error) {
	defer observeQuery("documents_list_by_student", time.Now())

	query := `
		SELECT id, student_id, kind, filename, content_type, size_bytes,
		       storage_key, checksum, uploaded_by, created_at
		FROM student_documents
		WHERE student_id = $1
		ORDER BY created_at DESC
	`

	var docs []StudentDocument
	if err := r.db.SelectContext(ctx, &docs, query, studentID); err != nil {
		return nil, err
	}

	return docs, nil
}

// Delete removes document metadata by ID
func (r *DocumentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer observeQuery("documents_delete", time.Now())

	result, err := r.db.ExecContext(ctx, `DELETE FROM student_documents WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDocumentNotFound
	}

	return nil
}
