package repository

import (
	"time"

	"github.com/google/uuid"
)

// Role tags assignable to user accounts
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
	RoleStaff   = "staff"
	RoleParent  = "parent"
)

// ValidRoles is the fixed enumeration of assignable role tags
var ValidRoles = map[string]bool{
	RoleAdmin:   true,
	RoleTeacher: true,
	RoleStudent: true,
	RoleStaff:   true,
	RoleParent:  true,
}

// User represents a user account in the database
type User struct {
	ID               uuid.UUID  `db:"id"`
	Username         string     `db:"username"`
	Email            string     `db:"email"`
	PasswordHash     string     `db:"password_hash"`
	FullName         string     `db:"full_name"`
	Roles            []string   `db:"roles"`
	IsActive         bool       `db:"is_active"`
	IsVerified       bool       `db:"is_verified"`
	FailedLoginCount int        `db:"failed_login_count"`
	LockedUntil      *time.Time `db:"locked_until"`
	LastLoginAt      *time.Time `db:"last_login_at"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// IsLocked reports whether the account lockout is still in effect at now
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// HasRole reports whether the user carries the given role tag
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RefreshToken represents a stored refresh token for rotation and
// revocation. Only the SHA-256 hash of the token is persisted.
type RefreshToken struct {
	ID        uuid.UUID  `db:"id"`
	UserID    uuid.UUID  `db:"user_id"`
	TokenHash string     `db:"token_hash"`
	JTI       uuid.UUID  `db:"jti"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
	CreatedAt time.Time  `db:"created_at"`
	IPAddress *string    `db:"ip_address"`
	UserAgent *string    `db:"user_agent"`
}

// Enrollment statuses for student records
const (
	EnrollmentEnrolled    = "enrolled"
	EnrollmentTransferred = "transferred"
	EnrollmentGraduated   = "graduated"
	EnrollmentDroppedOut  = "dropped_out"
)

// Student represents a student record in the database
type Student struct {
	ID               uuid.UUID `db:"id"`
	StudentCode      string    `db:"student_code"`
	FullName         string    `db:"full_name"`
	Gender           string    `db:"gender"`
	DateOfBirth      time.Time `db:"date_of_birth"`
	ClassLevel       int       `db:"class_level"`
	Section          string    `db:"section"`
	RollNumber       int       `db:"roll_number"`
	Institution      string    `db:"institution"`
	Division         string    `db:"division"`
	District         string    `db:"district"`
	Upazila          string    `db:"upazila"`
	GuardianName     string    `db:"guardian_name"`
	GuardianPhone    string    `db:"guardian_phone"`
	EnrollmentStatus string    `db:"enrollment_status"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// ListStudentParams holds parameters for listing student records
type ListStudentParams struct {
	Page       int
	Limit      int
	Search     string
	ClassLevel *int
	Division   string
	District   string
	Status     string
	Sort       string
	Order      string
}

// StudentStats holds aggregate counts consumed by reporting clients
type StudentStats struct {
	TotalStudents int               `json:"total_students"`
	ByClassLevel  []ClassLevelCount `json:"by_class_level"`
	ByDivision    []DivisionCount   `json:"by_division"`
	ByEnrollment  []StatusCount     `json:"by_enrollment_status"`
}

// ClassLevelCount is a per-class aggregate
type ClassLevelCount struct {
	ClassLevel int `db:"class_level" json:"class_level"`
	Count      int `db:"count" json:"count"`
}

// DivisionCount is a per-division aggregate
type DivisionCount struct {
	Division string `db:"division" json:"division"`
	Count    int    `db:"count" json:"count"`
}

// StatusCount is a per-enrollment-status aggregate
type StatusCount struct {
	Status string `db:"enrollment_status" json:"status"`
	Count  int    `db:"count" json:"count"`
}

// StudentDocument represents stored document metadata for a student
type StudentDocument struct {
	ID          uuid.UUID `db:"id"`
	StudentID   uuid.UUID `db:"student_id"`
	Kind        string    `db:"kind"`
	Filename    string    `db:"filename"`
	ContentType string    `db:"content_type"`
	SizeBytes   int64     `db:"size_bytes"`
	StorageKey  string    `db:"storage_key"`
	Checksum    string    `db:"checksum"`
	UploadedBy  uuid.UUID `db:"uploaded_by"`
	CreatedAt   time.Time `db:"created_at"`
}
