package student

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/shikkhaloy/student-records-api/internal/repository"
)

// Service errors
var (
	ErrStudentNotFound  = errors.New("student not found")
	ErrDuplicateStudent = errors.New("student code or roll number already taken")
	ErrInvalidID        = errors.New("invalid student id")
)

// Service implements student record operations over the repository
type Service struct {
	repo     repository.StudentRepository
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService creates a new student Service instance
func NewService(repo repository.StudentRepository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log,
	}
}

// Create validates and stores a new student record
func (s *Service) Create(ctx context.Context, req CreateStudentRequest) (*StudentResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	dob, err := time.Parse("2006-01-02", req.DateOfBirth)
	if err != nil {
		return nil, fmt.Errorf("invalid date_of_birth: %w", err)
	}

	status := req.EnrollmentStatus
	if status == "" {
		status = repository.EnrollmentEnrolled
	}

	student := &repository.Student{
		StudentCode:      req.StudentCode,
		FullName:         req.FullName,
		Gender:           req.Gender,
		DateOfBirth:      dob,
		ClassLevel:       req.ClassLevel,
		Section:          req.Section,
		RollNumber:       req.RollNumber,
		Institution:      req.Institution,
		Division:         req.Division,
		District:         req.District,
		Upazila:          req.Upazila,
		GuardianName:     req.GuardianName,
		GuardianPhone:    req.GuardianPhone,
		EnrollmentStatus: status,
	}

	if err := s.repo.Create(ctx, student); err != nil {
		if errors.Is(err, repository.ErrDuplicateStudent) {
			return nil, ErrDuplicateStudent
		}
		return nil, fmt.Errorf("failed to create student: %w", err)
	}

	s.logger.Info("student record created",
		slog.String("student_id", student.ID.String()),
		slog.String("student_code", student.StudentCode),
	)

	resp := toStudentResponse(student)
	return &resp, nil
}

// Get returns a single student record by ID
func (s *Service) Get(ctx context.Context, id string) (*StudentResponse, error) {
	studentID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvalidID
	}

	student, err := s.repo.GetByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to get student: %w", err)
	}

	resp := toStudentResponse(student)
	return &resp, nil
}

// Update applies the non-nil fields of the request to an existing record
func (s *Service) Update(ctx context.Context, id string, req UpdateStudentRequest) (*StudentResponse, error) {
	studentID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvalidID
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	student, err := s.repo.GetByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to get student: %w", err)
	}

	if req.FullName != nil {
		student.FullName = *req.FullName
	}
	if req.Gender != nil {
		student.Gender = *req.Gender
	}
	if req.DateOfBirth != nil {
		dob, err := time.Parse("2006-01-02", *req.DateOfBirth)
		if err != nil {
			return nil, fmt.Errorf("invalid date_of_birth: %w", err)
		}
		student.DateOfBirth = dob
	}
	if req.ClassLevel != nil {
		student.ClassLevel = *req.ClassLevel
	}
	if req.Section != nil {
		student.Section = *req.Section
	}
	if req.RollNumber != nil {
		student.RollNumber = *req.RollNumber
	}
	if req.Institution != nil {
		student.Institution = *req.Institution
	}
	if req.Division != nil {
		student.Division = *req.Division
	}
	if req.District != nil {
		student.District = *req.District
	}
	if req.Upazila != nil {
		student.Upazila = *req.Upazila
	}
	if req.GuardianName != nil {
		student.GuardianName = *req.GuardianName
	}
	if req.GuardianPhone != nil {
		student.GuardianPhone = *req.GuardianPhone
	}
	if req.EnrollmentStatus != nil {
		student.EnrollmentStatus = *req.EnrollmentStatus
	}
	student.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, student); err != nil {
		if errors.Is(err, repository.ErrDuplicateStudent) {
			return nil, ErrDuplicateStudent
		}
		if errors.Is(err, repository.ErrStudentNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to update student: %w", err)
	}

	resp := toStudentResponse(student)
	return &resp, nil
}

// Delete removes a student record
func (s *Service) Delete(ctx context.Context, id string) error {
	studentID, err := uuid.Parse(id)
	if err != nil {
		return ErrInvalidID
	}

	if err := s.repo.Delete(ctx, studentID); err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			return ErrStudentNotFound
		}
		return fmt.Errorf("failed to delete student: %w", err)
	}

	s.logger.Info("student record deleted", slog.String("student_id", id))
	return nil
}

// List returns a page of student records matching the given filters
func (s *Service) List(ctx context.Context, params repository.ListStudentParams) (*ListResponse, error) {
	students, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	limit := params.Limit
	if limit < 1 {
		limit = 20
	}

	resp := &ListResponse{
		Students: make([]StudentResponse, 0, len(students)),
		Page:     page,
		Limit:    limit,
		Total:    total,
	}
	for i := range students {
		resp.Students = append(resp.Students, toStudentResponse(&students[i]))
	}

	return resp, nil
}

// Stats returns aggregate counts by class level, division, and
// enrollment status for reporting clients.
func (s *Service) Stats(ctx context.Context) (*repository.StudentStats, error) {
	stats, err := s.repo.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get student stats: %w", err)
	}
	return stats, nil
}
