package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Student repository errors
var (
	ErrStudentNotFound  = errors.New("student not found")
	ErrDuplicateStudent = errors.New("student code or roll number already taken")
)

// StudentRepository defines the interface for student record data access
type StudentRepository interface {
	Create(ctx context.Context, student *Student) error
	GetByID(ctx context.Context, id uuid.UUID) (*Student, error)
	Update(ctx context.Context, student *Student) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, params ListStudentParams) ([]Student, int, error)
	GetStats(ctx context.Context) (*StudentStats, error)
}

// StudentRepo implements StudentRepository using PostgreSQL via sqlx
type StudentRepo struct {
	db *sqlx.DB
}

// NewStudentRepo creates a new StudentRepo instance
func NewStudentRepo(db *sqlx.DB) *StudentRepo {
	return &StudentRepo{db: db}
}

// Create inserts a new student record. Uniqueness of student_code and of
// (institution, class_level, section, roll_number) is enforced by the
// database so concurrent creates cannot both pass.
func (r *StudentRepo) Create(ctx context.Context, student *Student) error {
	defer observeQuery("students_create", time.Now())

	query := `
		INSERT INTO students (
			student_code, full_name, gender, date_of_birth, class_level,
			section, roll_number, institution, division, district, upazila,
			guardian_name, guardian_phone, enrollment_status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		student.StudentCode,
		student.FullName,
		student.Gender,
		student.DateOfBirth,
		student.ClassLevel,
		student.Section,
		student.RollNumber,
		student.Institution,
		student.Division,
		student.District,
		student.Upazila,
		student.GuardianName,
		student.GuardianPhone,
		student.EnrollmentStatus,
	).Scan(&student.ID, &student.CreatedAt, &student.UpdatedAt)

	if err != nil {
		if strings.Contains(err.Error(), "idx_students_code") ||
			strings.Contains(err.Error(), "idx_students_roll") {
			return ErrDuplicateStudent
		}
		return err
	}

	return nil
}

// GetByID retrieves a student record by its ID
func (r *StudentRepo) GetByID(ctx context.Context, id uuid.UUID) (*Student, error) {
	defer observeQuery("students_get_by_id", time.Now())

	query := `
		SELECT id, student_code, full_name, gender, date_of_birth, class_level,
		       section, roll_number, institution, division, district, upazila,
		       guardian_name, guardian_phone, enrollment_status, created_at, updated_at
		FROM students
		WHERE id = $1
	`

	var student Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}

	return &student, nil
}

// Update replaces the mutable fields of a student record
func (r *StudentRepo) Update(ctx context.Context, student *Student) error {
	defer observeQuery("students_update", time.Now())

	query := `
		UPDATE students
		SET full_name = $1, gender = $2, date_of_birth = $3, class_level = $4,
		    section = $5, roll_number = $6, institution = $7, division = $8,
		    district = $9, upazila = $10, guardian_name = $11,
		    guardian_phone = $12, enrollment_status = $13, updated_at = NOW()
		WHERE id = $14
	`

	result, err := r.db.ExecContext(ctx, query,
		student.FullName,
		student.Gender,
		student.DateOfBirth,
		student.ClassLevel,
		student.Section,
		student.RollNumber,
		student.Institution,
		student.Division,
		student.District,
		student.Upazila,
		student.GuardianName,
		student.GuardianPhone,
		student.EnrollmentStatus,
		student.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "idx_students_roll") {
			return ErrDuplicateStudent
		}
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrStudentNotFound
	}

	return nil
}

// Delete removes a student record and, via CASCADE, its document metadata
func (r *StudentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer observeQuery("students_delete", time.Now())

	result, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrStudentNotFound
	}

	return nil
}

// List retrieves student records with pagination, filtering, search, and sorting
func (r *StudentRepo) List(ctx context.Context, params ListStudentParams) ([]Student, int, error) {
	defer observeQuery("students_list", time.Now())

	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 {
		params.Limit = 20
	}
	if params.Limit > 100 {
		params.Limit = 100
	}

	baseQuery := ` FROM students WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if params.Search != "" {
		baseQuery += fmt.Sprintf(` AND (
			LOWER(full_name) LIKE LOWER($%d) OR
			LOWER(student_code) LIKE LOWER($%d) OR
			LOWER(institution) LIKE LOWER($%d)
		)`, argIdx, argIdx, argIdx)
		args = append(args, "%"+params.Search+"%")
		argIdx++
	}

	if params.ClassLevel != nil {
		baseQuery += fmt.Sprintf(" AND class_level = $%d", argIdx)
		args = append(args, *params.ClassLevel)
		argIdx++
	}

	if params.Division != "" {
		baseQuery += fmt.Sprintf(" AND LOWER(division) = LOWER($%d)", argIdx)
		args = append(args, params.Division)
		argIdx++
	}

	if params.District != "" {
		baseQuery += fmt.Sprintf(" AND LOWER(district) = LOWER($%d)", argIdx)
		args = append(args, params.District)
		argIdx++
	}

	if params.Status != "" {
		baseQuery += fmt.Sprintf(" AND enrollment_status = $%d", argIdx)
		args = append(args, params.Status)
		argIdx++
	}

	countQuery := "SELECT COUNT(*)" + baseQuery
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count students: %w", err)
	}

	selectQuery := `
		SELECT id, student_code, full_name, gender, date_of_birth, class_level,
		       section, roll_number, institution, division, district, upazila,
		       guardian_name, guardian_phone, enrollment_status, created_at, updated_at
	` + baseQuery

	// Sorting is restricted to known columns; user input never reaches
	// the ORDER BY clause directly.
	sortField := "created_at"
	switch params.Sort {
	case "name":
		sortField = "full_name"
	case "class":
		sortField = "class_level"
	case "roll":
		sortField = "roll_number"
	}
	sortOrder := "DESC"
	if params.Order == "asc" {
		sortOrder = "ASC"
	}
	selectQuery += fmt.Sprintf(" ORDER BY %s %s", sortField, sortOrder)

	offset := (params.Page - 1) * params.Limit
	selectQuery += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, params.Limit, offset)

	var students []Student
	if err := r.db.SelectContext(ctx, &students, selectQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to query students: %w", err)
	}

	return students, totalCount, nil
}

// GetStats returns aggregate counts for reporting clients
func (r *StudentRepo) GetStats(ctx context.Context) (*StudentStats, error) {
	defer observeQuery("students_get_stats", time.Now())

	stats := &StudentStats{}

	if err := r.db.GetContext(ctx, &stats.TotalStudents,
		`SELECT COUNT(*) FROM students`); err != nil {
		return nil, fmt.Errorf("failed to count students: %w", err)
	}

	if err := r.db.SelectContext(ctx, &stats.ByClassLevel, `
		SELECT class_level, COUNT(*) AS count
		FROM students
		GROUP BY class_level
		ORDER BY class_level
	`); err != nil {
		return nil, fmt.Errorf("failed to aggregate by class level: %w", err)
	}

	if err := r.db.SelectContext(ctx, &stats.ByDivision, `
		SELECT division, COUNT(*) AS count
		FROM students
		GROUP BY division
		ORDER BY count DESC
	`); err != nil {
		return nil, fmt.Errorf("failed to aggregate by division: %w", err)
	}

	if err := r.db.SelectContext(ctx, &stats.ByEnrollment, `
		SELECT enrollment_status, COUNT(*) AS count
		FROM students
		GROUP BY enrollment_status
	`); err != nil {
		return nil, fmt.Errorf("failed to aggregate by enrollment status: %w", err)
	}

	return stats, nil
}
