package student

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"pgregory.net/rapid"

	"github.com/shikkhaloy/student-records-api/internal/repository"
)

// mockStudentRepository is an in-memory StudentRepository for service
// tests. Uniqueness of student_code and of (institution, class, section,
// roll) mirrors the database indexes.
type mockStudentRepository struct {
	mu       sync.Mutex
	students map[uuid.UUID]*repository.Student
}

func newMockStudentRepository() *mockStudentRepository {
	return &mockStudentRepository{students: make(map[uuid.UUID]*repository.Student)}
}

func (m *mockStudentRepository) conflicts(candidate *repository.Student) bool {
	for _, s := range m.students {
		if s.ID == candidate.ID {
			continue
		}
		if s.StudentCode == candidate.StudentCode {
			return true
		}
		if s.Institution == candidate.Institution &&
			s.ClassLevel == candidate.ClassLevel &&
			s.Section == candidate.Section &&
			s.RollNumber == candidate.RollNumber {
			return true
		}
	}
	return false
}

func (m *mockStudentRepository) Create(ctx context.Context, student *repository.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conflicts(student) {
		return repository.ErrDuplicateStudent
	}

	student.ID = uuid.New()
	student.CreatedAt = time.Now().UTC()
	student.UpdatedAt = student.CreatedAt

	clone := *student
	m.students[student.ID] = &clone
	return nil
}

func (m *mockStudentRepository) GetByID(ctx context.Context, id uuid.UUID) (*repository.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	student, ok := m.students[id]
	if !ok {
		return nil, repository.ErrStudentNotFound
	}
	clone := *student
	return &clone, nil
}

func (m *mockStudentRepository) Update(ctx context.Context, student *repository.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.students[student.ID]; !ok {
		return repository.ErrStudentNotFound
	}
	if m.conflicts(student) {
		return repository.ErrDuplicateStudent
	}

	clone := *student
	m.students[student.ID] = &clone
	return nil
}

func (m *mockStudentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.students[id]; !ok {
		return repository.ErrStudentNotFound
	}
	delete(m.students, id)
	return nil
}

func (m *mockStudentRepository) List(ctx context.Context, params repository.ListStudentParams) ([]repository.Student, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []repository.Student
	for _, s := range m.students {
		if params.Division != "" && s.Division != params.Division {
			continue
		}
		if params.Status != "" && s.EnrollmentStatus != params.Status {
			continue
		}
		if params.ClassLevel != nil && s.ClassLevel != *params.ClassLevel {
			continue
		}
		matched = append(matched, *s)
	}
	return matched, len(matched), nil
}

func (m *mockStudentRepository) GetStats(ctx context.Context) (*repository.StudentStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &repository.StudentStats{TotalStudents: len(m.students)}
	byClass := make(map[int]int)
	for _, s := range m.students {
		byClass[s.ClassLevel]++
	}
	for level, count := range byClass {
		stats.ByClassLevel = append(stats.ByClassLevel, repository.ClassLevelCount{
			ClassLevel: level,
			Count:      count,
		})
	}
	return stats, nil
}

func validCreateRequest() CreateStudentRequest {
	return CreateStudentRequest{
		StudentCode:      "DHK2024001",
		FullName:         "Jubayer Rahman",
		Gender:           "male",
		DateOfBirth:      "2012-03-15",
		ClassLevel:       6,
		Section:          "A",
		RollNumber:       14,
		Institution:      "Dhaka Residential Model College",
		Division:         "Dhaka",
		District:         "Dhaka",
		Upazila:          "Mohammadpur",
		GuardianName:     "Abdur Rahman",
		GuardianPhone:    "+8801712345678",
		EnrollmentStatus: "",
	}
}

func TestCreateStudent(t *testing.T) {
	repo := newMockStudentRepository()
	svc := NewService(repo, nil)

	resp, err := svc.Create(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if resp.ID == "" {
		t.Error("response missing id")
	}
	if resp.DateOfBirth != "2012-03-15" {
		t.Errorf("DateOfBirth = %q, want 2012-03-15", resp.DateOfBirth)
	}
	// Omitted status defaults to enrolled.
	if resp.EnrollmentStatus != repository.EnrollmentEnrolled {
		t.Errorf("EnrollmentStatus = %q, want enrolled", resp.EnrollmentStatus)
	}
}

func TestCreateStudentValidation(t *testing.T) {
	repo := newMockStudentRepository()
	svc := NewService(repo, nil)

	tests := []struct {
		name   string
		mutate func(*CreateStudentRequest)
	}{
		{"missing code", func(r *CreateStudentRequest) { r.StudentCode = "" }},
		{"short code", func(r *CreateStudentRequest) { r.StudentCode = "ab1" }},
		{"bad gender", func(r *CreateStudentRequest) { r.Gender = "unknown" }},
		{"bad date", func(r *CreateStudentRequest) { r.DateOfBirth = "15-03-2012" }},
		{"class too high", func(r *CreateStudentRequest) { r.ClassLevel = 13 }},
		{"class too low", func(r *CreateStudentRequest) { r.ClassLevel = 0 }},
		{"zero roll", func(r *CreateStudentRequest) { r.RollNumber = 0 }},
		{"bad division", func(r *CreateStudentRequest) { r.Division = "Gotham" }},
		{"bad phone", func(r *CreateStudentRequest) { r.GuardianPhone = "call me" }},
		{"bad status", func(r *CreateStudentRequest) { r.EnrollmentStatus = "expelled" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateRequest()
			tt.mutate(&req)

			_, err := svc.Create(context.Background(), req)
			if err == nil {
				t.Fatal("expected a validation error")
			}

			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				t.Errorf("err = %v, want validator.ValidationErrors", err)
			}
		})
	}

	if len(repo.students) != 0 {
		t.Errorf("invalid requests must not reach the repository, found %d records", len(repo.students))
	}
}

func TestCreateStudentDuplicate(t *testing.T) {
	repo := newMockStudentRepository()
	svc := NewService(repo, nil)

	if _, err := svc.Create(context.Background(), validCreateRequest()); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}

	// Same student code.
	dup := validCreateRequest()
	dup.RollNumber = 99
	if _, err := svc.Create(context.Background(), dup); !errors.Is(err, ErrDuplicateStudent) {
		t.Errorf("duplicate code: err = %v, want ErrDuplicateStudent", err)
	}

	// Same roll slot in the same class and institution.
	dup = validCreateRequest()
	dup.StudentCode = "DHK2024002"
	if _, err := svc.Create(context.Background(), dup); !errors.Is(err, ErrDuplicateStudent) {
		t.Errorf("duplicate roll: err = %v, want ErrDuplicateStudent", err)
	}
}

func TestGetStudent(t *testing.T) {
	repo := newMockStudentRepository()
	svc := NewService(repo, nil)

	created, err := svc.Create(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := svc.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.StudentCode != "DHK2024001" {
		t.Errorf("StudentCode = %q, want DHK2024001", got.StudentCode)
	}

	if _, err := svc.Get(context.Background(), uuid.New().String()); !errors.Is(err, ErrStudentNotFound) {
		t.Errorf("unknown id: err = %v, want ErrStudentNotFound", err)
	}
	if _, err := svc.Get(context.Background(), "not-a-uuid"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("bad id: err = %v, want ErrInvalidID", err)
	}
}

func TestUpdateStudentPartial(t *testing.T) {
	repo := newMockStudentRepository()
	svc := NewService(repo, nil)

	created, err := svc.Create(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	newClass := 7
	newStatus := repository.EnrollmentTransferred
	updated, err := svc.Update(context.Background(), created.ID, UpdateStudentRequest{
		ClassLevel:       &newClass,
		EnrollmentStatus: &newStatus,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if updated.ClassLevel != 7 {
		t.Errorf("ClassLevel = %d, want 7", updated.ClassLevel)
	}
	if updated.EnrollmentStatus != repository.EnrollmentTransferred {
		t.Errorf("EnrollmentStatus = %q, want transferred", updated.EnrollmentStatus)
	}
	// Untouched fields survive.
	if updated.FullName != created.FullName {
		t.Errorf("FullName changed from %q to %q", created.FullName, updated.FullName)
	}
	if updated.RollNumber != created.RollNumber {
		t.Errorf("RollNumber changed from %d to %d", created.RollNumber, updated.RollNumber)
	}
}

func TestUpdateStudentValidation(t *testing.T) {
	repo := newMockStudentRepository()
	svc := NewService(repo, nil)

	created, err := svc.Create(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	badGender := "none"
	_, err = svc.Update(context.Background(), created.ID, UpdateStudentRequest{Gender: &badGender})

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Errorf("err = %v, want validator.ValidationErrors", err)
	}
}

func TestUpdateStudentNotFound(t *testing.T) {
	repo := newMockStudentRepository()
	svc := NewService(repo, nil)

	name := "New Name"
	_, err := svc.Update(context.Background(), uuid.New().String(), UpdateStudentRequest{FullName: &name})
	if !errors.Is(err, ErrStudentNotFound) {
		t.Errorf("err = %v, want ErrStudentNotFound", err)
	}
}

func TestDeleteStudent(t *testing.T) {
	repo := newMockStudentRepository()
	svc := NewService(repo, nil)

	created, err := svc.Create(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := svc.Delete(context.Background(), created.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := svc.Get(context.Background(), created.ID); !errors.Is(err, ErrStudentNotFound) {
		t.Errorf("record survived deletion: err = %v", err)
	}
	if err := svc.Delete(context.Background(), created.ID); !errors.Is(err, ErrStudentNotFound) {
		t.Errorf("double delete: err = %v, want ErrStudentNotFound", err)
	}
}

func TestListStudents(t *testing.T) {
	repo := newMockStudentRepository()
	svc := NewService(repo, nil)

	codes := []string{"DHK2024001", "DHK2024002", "SYL2024001"}
	divisions := []string{"Dhaka", "Dhaka", "Sylhet"}
	for i := range codes {
		req := validCreateRequest()
		req.StudentCode = codes[i]
		req.Division = divisions[i]
		req.RollNumber = i + 1
		if _, err := svc.Create(context.Background(), req); err != nil {
			t.Fatalf("Create %q failed: %v", codes[i], err)
		}
	}

	resp, err := svc.List(context.Background(), repository.ListStudentParams{Division: "Dhaka"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if resp.Total != 2 || len(resp.Students) != 2 {
		t.Errorf("total = %d, students = %d, want 2 each", resp.Total, len(resp.Students))
	}
	// Defaults applied when the caller omits pagination.
	if resp.Page != 1 || resp.Limit != 20 {
		t.Errorf("page = %d, limit = %d, want 1 and 20", resp.Page, resp.Limit)
	}
}

func TestStats(t *testing.T) {
	repo := newMockStudentRepository()
	svc := NewService(repo, nil)

	for i := 0; i < 3; i++ {
		req := validCreateRequest()
		req.StudentCode = uuid.New().String()[:8] + "x"
		req.RollNumber = i + 1
		if _, err := svc.Create(context.Background(), req); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalStudents != 3 {
		t.Errorf("TotalStudents = %d, want 3", stats.TotalStudents)
	}
}

func TestParseListParams(t *testing.T) {
	req := httptest.NewRequest("GET", "/students?page=2&limit=50&search=rahman&class_level=6&division=Dhaka&status=enrolled&sort=name&order=desc", nil)
	params := parseListParams(req)

	if params.Page != 2 || params.Limit != 50 {
		t.Errorf("page = %d, limit = %d, want 2 and 50", params.Page, params.Limit)
	}
	if params.Search != "rahman" || params.Division != "Dhaka" || params.Status != "enrolled" {
		t.Errorf("filters = %+v", params)
	}
	if params.ClassLevel == nil || *params.ClassLevel != 6 {
		t.Errorf("ClassLevel = %v, want 6", params.ClassLevel)
	}
	if params.Sort != "name" || params.Order != "desc" {
		t.Errorf("sort = %q, order = %q", params.Sort, params.Order)
	}

	// Garbage values are dropped rather than erroring.
	req = httptest.NewRequest("GET", "/students?page=abc&limit=-5&class_level=99", nil)
	params = parseListParams(req)
	if params.Page != 0 || params.Limit != 0 || params.ClassLevel != nil {
		t.Errorf("bad values not dropped: %+v", params)
	}
}

func TestCreateStudentRoundTripProperty(t *testing.T) {
	divisions := []string{"Dhaka", "Chattogram", "Rajshahi", "Khulna", "Barishal", "Sylhet", "Rangpur", "Mymensingh"}

	rapid.Check(t, func(t *rapid.T) {
		repo := newMockStudentRepository()
		svc := NewService(repo, nil)

		req := validCreateRequest()
		req.StudentCode = rapid.StringMatching(`[A-Z]{3}[0-9]{4,8}`).Draw(t, "code")
		req.Gender = rapid.SampledFrom([]string{"male", "female", "other"}).Draw(t, "gender")
		req.ClassLevel = rapid.IntRange(1, 12).Draw(t, "class")
		req.RollNumber = rapid.IntRange(1, 200).Draw(t, "roll")
		req.Division = rapid.SampledFrom(divisions).Draw(t, "division")

		created, err := svc.Create(context.Background(), req)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		got, err := svc.Get(context.Background(), created.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if got.StudentCode != req.StudentCode ||
			got.Gender != req.Gender ||
			got.ClassLevel != req.ClassLevel ||
			got.RollNumber != req.RollNumber ||
			got.Division != req.Division {
			t.Fatalf("stored record %+v does not match request %+v", got, req)
		}
	})
}
