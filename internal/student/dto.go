// Package student implements the student records CRUD API.
package student

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/shikkhaloy/student-records-api/internal/repository"
)

// CreateStudentRequest is the payload for creating a student record
type CreateStudentRequest struct {
	StudentCode      string `json:"student_code" validate:"required,min=4,max=32,alphanumunicode"`
	FullName         string `json:"full_name" validate:"required,min=2,max=128"`
	Gender           string `json:"gender" validate:"required,oneof=male female other"`
	DateOfBirth      string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	ClassLevel       int    `json:"class_level" validate:"required,min=1,max=12"`
	Section          string `json:"section" validate:"required,min=1,max=8"`
	RollNumber       int    `json:"roll_number" validate:"required,min=1"`
	Institution      string `json:"institution" validate:"required,min=2,max=256"`
	Division         string `json:"division" validate:"required,oneof=Dhaka Chattogram Rajshahi Khulna Barishal Sylhet Rangpur Mymensingh"`
	District         string `json:"district" validate:"required,min=2,max=64"`
	Upazila          string `json:"upazila" validate:"required,min=2,max=64"`
	GuardianName     string `json:"guardian_name" validate:"required,min=2,max=128"`
	GuardianPhone    string `json:"guardian_phone" validate:"required,e164|numeric"`
	EnrollmentStatus string `json:"enrollment_status" validate:"omitempty,oneof=enrolled transferred graduated dropped_out"`
}

// UpdateStudentRequest is the payload for updating a student record.
// Pointer fields distinguish omitted from zero values.
type UpdateStudentRequest struct {
	FullName         *string `json:"full_name" validate:"omitempty,min=2,max=128"`
	Gender           *string `json:"gender" validate:"omitempty,oneof=male female other"`
	DateOfBirth      *string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	ClassLevel       *int    `json:"class_level" validate:"omitempty,min=1,max=12"`
	Section          *string `json:"section" validate:"omitempty,min=1,max=8"`
	RollNumber       *int    `json:"roll_number" validate:"omitempty,min=1"`
	Institution      *string `json:"institution" validate:"omitempty,min=2,max=256"`
	Division         *string `json:"division" validate:"omitempty,oneof=Dhaka Chattogram Rajshahi Khulna Barishal Sylhet Rangpur Mymensingh"`
	District         *string `json:"district" validate:"omitempty,min=2,max=64"`
	Upazila          *string `json:"upazila" validate:"omitempty,min=2,max=64"`
	GuardianName     *string `json:"guardian_name" validate:"omitempty,min=2,max=128"`
	GuardianPhone    *string `json:"guardian_phone" validate:"omitempty,e164|numeric"`
	EnrollmentStatus *string `json:"enrollment_status" validate:"omitempty,oneof=enrolled transferred graduated dropped_out"`
}

// StudentResponse is the API representation of a student record
type StudentResponse struct {
	ID               string    `json:"id"`
	StudentCode      string    `json:"student_code"`
	FullName         string    `json:"full_name"`
	Gender           string    `json:"gender"`
	DateOfBirth      string    `json:"date_of_birth"`
	ClassLevel       int       `json:"class_level"`
	Section          string    `json:"section"`
	RollNumber       int       `json:"roll_number"`
	Institution      string    `json:"institution"`
	Division         string    `json:"division"`
	District         string    `json:"district"`
	Upazila          string    `json:"upazila"`
	GuardianName     string    `json:"guardian_name"`
	GuardianPhone    string    `json:"guardian_phone"`
	EnrollmentStatus string    `json:"enrollment_status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ListResponse carries a page of student records with pagination info
type ListResponse struct {
	Students []StudentResponse `json:"students"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
	Total    int               `json:"total"`
}

func toStudentResponse(s *repository.Student) StudentResponse {
	return StudentResponse{
		ID:               s.ID.String(),
		StudentCode:      s.StudentCode,
		FullName:         s.FullName,
		Gender:           s.Gender,
		DateOfBirth:      s.DateOfBirth.Format("2006-01-02"),
		ClassLevel:       s.ClassLevel,
		Section:          s.Section,
		RollNumber:       s.RollNumber,
		Institution:      s.Institution,
		Division:         s.Division,
		District:         s.District,
		Upazila:          s.Upazila,
		GuardianName:     s.GuardianName,
		GuardianPhone:    s.GuardianPhone,
		EnrollmentStatus: s.EnrollmentStatus,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

// parseListParams reads pagination, search, and filter parameters from
// the query string. Unknown sort columns fall back to the default in
// the repository.
func parseListParams(r *http.Request) repository.ListStudentParams {
	q := r.URL.Query()

	params := repository.ListStudentParams{
		Search:   strings.TrimSpace(q.Get("search")),
		Division: strings.TrimSpace(q.Get("division")),
		District: strings.TrimSpace(q.Get("district")),
		Status:   strings.TrimSpace(q.Get("status")),
		Sort:     q.Get("sort"),
		Order:    q.Get("order"),
	}

	if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
		params.Page = page
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		params.Limit = limit
	}
	if class, err := strconv.Atoi(q.Get("class_level")); err == nil && class >= 1 && class <= 12 {
		params.ClassLevel = &class
	}

	return params
}

// validationDetails flattens validator errors into a field->messages map
func validationDetails(err error) map[string][]string {
	details := make(map[string][]string)

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		details["request"] = append(details["request"], "invalid request")
		return details
	}

	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		var msg string
		switch fe.Tag() {
		case "required":
			msg = "is required"
		case "oneof":
			msg = "must be one of: " + fe.Param()
		case "min":
			msg = "must be at least " + fe.Param()
		case "max":
			msg = "must be at most " + fe.Param()
		case "datetime":
			msg = "must be a date in YYYY-MM-DD format"
		default:
			msg = "is invalid"
		}
		details[field] = append(details[field], msg)
	}

	return details
}
