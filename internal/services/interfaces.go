package services

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"github.com/campus-exams/exam-service/internal/models"
	"github.com/campus-exams/exam-service/internal/repositories"
	"github.com/campus-exams/exam-service/internal/validator"
)

// ===== REQUEST / RESPONSE DTOS =====

type PaperResponse struct {
	*models.ExamPaper
	CanEdit    bool `json:"can_edit"`
	CanPublish bool `json:"can_publish"`
	CanDelete  bool `json:"can_delete"`
}

type PaperListResponse struct {
	Papers []*PaperResponse `json:"papers"`
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

type RegistrationResponse struct {
	*models.Registration
	PaperTitle   string              `json:"paper_title,omitempty"`
	DeliveryMode models.DeliveryMode `json:"delivery_mode,omitempty"`
}

type RegistrationListResponse struct {
	Registrations []*RegistrationResponse `json:"registrations"`
	Total         int64                   `json:"total"`
	Limit         int                     `json:"limit"`
	Offset        int                     `json:"offset"`
}

// SessionResponse is what a student receives when a session starts or
// resumes. Paper is sanitized: no answer-key data is present.
type SessionResponse struct {
	Registration *models.Registration `json:"registration"`
	Paper        *models.ExamPaper    `json:"paper"`
	Status       models.ExamStatus    `json:"status"`
	Answers      []*AnswerSnapshot    `json:"answers"`
}

// AnswerSnapshot mirrors one stored answer without marking data.
type AnswerSnapshot struct {
	QuestionID uint                `json:"question_id"`
	Type       models.QuestionType `json:"type"`
	Value      string              `json:"value"`
	Payload    datatypes.JSON      `json:"payload,omitempty"`
	Revision   int64               `json:"revision"`
	SavedAt    time.Time           `json:"saved_at"`
}

type SaveAnswerRequest struct {
	QuestionID uint                `json:"question_id" validate:"required"`
	Type       models.QuestionType `json:"type" validate:"required"`
	Value      string              `json:"value" validate:"omitempty,max=20000"`
	Payload    datatypes.JSON      `json:"payload,omitempty"`
}

type SaveAnswerResponse struct {
	QuestionID uint      `json:"question_id"`
	Revision   int64     `json:"revision"`
	SavedAt    time.Time `json:"saved_at"`
}

type SubmitResponse struct {
	RegistrationID uint                      `json:"registration_id"`
	Status         models.RegistrationStatus `json:"status"`
	SubmitTime     time.Time                 `json:"submit_time"`
	Reason         string                    `json:"reason"`
	AnswerCount    int                       `json:"answer_count"`
}

type HeartbeatResponse struct {
	RegistrationID       uint      `json:"registration_id"`
	TimeRemainingSeconds int       `json:"time_remaining_seconds"`
	ServerTime           time.Time `json:"server_time"`
}

// MarkAnswerRequest carries one manual mark from a faculty member.
type MarkAnswerRequest struct {
	AnswerID uint    `json:"answer_id" validate:"required"`
	Marks    float64 `json:"marks" validate:"min=0"`
	Feedback *string `json:"feedback" validate:"omitempty,max=2000"`
}

type PendingMarkingResponse struct {
	Answers []*models.StudentAnswer `json:"answers"`
	Total   int64                   `json:"total"`
}

// StudentResult is one row of a paper's result sheet.
type StudentResult struct {
	RegistrationID uint                      `json:"registration_id"`
	StudentID      string                    `json:"student_id"`
	StudentName    string                    `json:"student_name"`
	Status         models.RegistrationStatus `json:"status"`
	SubmitTime     *time.Time                `json:"submit_time"`
	SubmitReason   *string                   `json:"submit_reason"`
	AnsweredCount  int                       `json:"answered_count"`
	TotalMarks     float64                   `json:"total_marks"`
	MaxMarks       int                       `json:"max_marks"`
}

type PaperResultsResponse struct {
	PaperID      uint                       `json:"paper_id"`
	PaperTitle   string                     `json:"paper_title"`
	Results      []*StudentResult           `json:"results"`
	Stats        *repositories.PaperStats   `json:"stats"`
	MarkingStats *repositories.MarkingStats `json:"marking_stats"`
}

// ===== SERVICE INTERFACES =====

// PaperService manages exam paper authoring and delivery.
type PaperService interface {
	Create(ctx context.Context, req *validator.PaperCreateRequest, creatorID string) (*PaperResponse, error)
	GetByID(ctx context.Context, id uint, userID string) (*PaperResponse, error)
	GetByIDWithStructure(ctx context.Context, id uint, userID string) (*PaperResponse, error)
	Update(ctx context.Context, id uint, req *validator.PaperUpdateRequest, userID string) (*PaperResponse, error)
	ReplaceParts(ctx context.Context, id uint, parts []validator.PaperPartRequest, userID string) (*PaperResponse, error)
	Delete(ctx context.Context, id uint, userID string) error
	List(ctx context.Context, filters repositories.PaperFilters, userID string) (*PaperListResponse, error)

	Publish(ctx context.Context, id uint, userID string) error
	Archive(ctx context.Context, id uint, userID string) error

	// GetForSession returns the paper with every answer key stripped,
	// safe to hand to a student whose session is running.
	GetForSession(ctx context.Context, id uint) (*models.ExamPaper, error)
}

// RegistrationService manages exam enrollments outside a running session.
type RegistrationService interface {
	Create(ctx context.Context, req *validator.RegistrationCreateRequest, creatorID string) (*RegistrationResponse, error)
	GetByID(ctx context.Context, id uint, userID string) (*RegistrationResponse, error)
	GetStatus(ctx context.Context, id uint, studentID string) (*models.ExamStatus, error)
	List(ctx context.Context, filters repositories.RegistrationFilters, userID string) (*RegistrationListResponse, error)
	GetByStudent(ctx context.Context, studentID string, filters repositories.RegistrationFilters) (*RegistrationListResponse, error)
	VerifyKey(ctx context.Context, id uint, studentID string, key string) error
	Cancel(ctx context.Context, id uint, userID string) error
}

// SessionService owns running exam sessions: the countdown, answer
// autosaving and the exactly-once submission path.
type SessionService interface {
	Start(ctx context.Context, registrationID uint, studentID string) (*SessionResponse, error)
	Resume(ctx context.Context, registrationID uint, studentID string) (*SessionResponse, error)
	GetStatus(ctx context.Context, registrationID uint, studentID string) (*models.ExamStatus, error)
	Heartbeat(ctx context.Context, registrationID uint, studentID string) (*HeartbeatResponse, error)
	SaveAnswer(ctx context.Context, registrationID uint, studentID string, req *SaveAnswerRequest) (*SaveAnswerResponse, error)
	ClearAnswer(ctx context.Context, registrationID uint, studentID string, questionID uint) error
	Submit(ctx context.Context, registrationID uint, studentID string) (*SubmitResponse, error)

	// RecoverSessions resubmits sessions whose deadline passed while no
	// process owned them. Called at startup.
	RecoverSessions(ctx context.Context) error

	// Shutdown stops every live runtime.
	Shutdown(ctx context.Context) error
}

// MarkingService handles automatic and manual marking of submitted answers.
type MarkingService interface {
	AutoMarkRegistration(ctx context.Context, registrationID uint) (int, error)
	ApplyMarks(ctx context.Context, paperID uint, reqs []MarkAnswerRequest, markerID string) error
	GetPendingMarking(ctx context.Context, paperID uint, filters repositories.AnswerFilters, userID string) (*PendingMarkingResponse, error)
	GetMarkingStats(ctx context.Context, paperID uint, userID string) (*repositories.MarkingStats, error)
}

// ResultsService aggregates marked answers into result sheets and exports.
type ResultsService interface {
	GetPaperResults(ctx context.Context, paperID uint, userID string) (*PaperResultsResponse, error)
	ExportPaperResults(ctx context.Context, paperID uint, userID string) ([]byte, string, error)
}

// ServiceManager aggregates all services with lifecycle management.
type ServiceManager interface {
	Paper() PaperService
	Registration() RegistrationService
	Session() SessionService
	Marking() MarkingService
	Results() ResultsService

	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
