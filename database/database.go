package database

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidStatus = errors.New("invalid status")
)

// Problem statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

// Feedback statuses
const (
	FeedbackPending   = "pending"
	FeedbackProcessed = "processed"
)

// ValidProblemStatus reports whether status can be stored on a problem.
func ValidProblemStatus(status string) bool {
	switch status {
	case StatusPending, StatusProcessing, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Feedback is a single imported customer feedback line
type Feedback struct {
	ID         int64     `json:"id"`
	Content    string    `json:"content"`
	Status     string    `json:"status"`
	BatchID    ulid.ULID `json:"batchId"`
	ProblemID  int64     `json:"problemId"`
	CreateTime time.Time `json:"createTime"`
	UpdateTime time.Time `json:"updateTime"`
}

// Problem groups similar feedback under one summary
type Problem struct {
	ID            int64     `json:"id"`
	Summary       string    `json:"summary"`
	Description   string    `json:"description"`
	Type          string    `json:"type"`
	Severity      string    `json:"severity"`
	FeedbackCount int       `json:"feedbackCount"`
	Status        string    `json:"status"`
	CreateTime    time.Time `json:"createTime"`
	UpdateTime    time.Time `json:"updateTime"`
}

// AnalysisResult is a stored report section, Content is JSON or HTML
type AnalysisResult struct {
	ID           int64
	AnalysisType string
	Content      string
	StartDate    time.Time
	EndDate      time.Time
	CreateTime   time.Time
}

// FeedbackRecord is one analyzed feedback ready to be stored. When
// ProblemID is set the feedback is merged into that problem, otherwise a
// new problem is created from Summary, Type and Severity.
type FeedbackRecord struct {
	Content   string
	BatchID   ulid.ULID
	ProblemID int64
	Summary   string
	Type      string
	Severity  string
}

// ProblemFilter narrows QueryProblems. Empty fields are ignored.
type ProblemFilter struct {
	Keyword  string
	Type     string
	Severity string
	Status   string
	IDs      []int64
	Page     int
	PageSize int
}

// Stats are the dashboard counters
type Stats struct {
	TotalFeedbacks   int `json:"totalFeedbacks"`
	PendingProblems  int `json:"pendingProblems"`
	ResolvedProblems int `json:"resolvedProblems"`
}

// TypeCount is the number of feedbacks for one problem type
type TypeCount struct {
	Type  string
	Count int
}

// DailyCount is the number of feedbacks received on one UTC day
type DailyCount struct {
	Date  string
	Count int
}

// ProblemCount is a problem with the feedbacks it received in a range
type ProblemCount struct {
	Problem
	Count int
}

// DBInterface defines database operations shared by SQLite and PostgreSQL
type DBInterface interface {
	Close() error
	RecordFeedback(ctx context.Context, rec FeedbackRecord) (*Feedback, *Problem, error)
	GetAllProblems(ctx context.Context) ([]Problem, error)
	QueryProblems(ctx context.Context, filter ProblemFilter) ([]Problem, int, error)
	GetProblem(ctx context.Context, id int64) (*Problem, error)
	UpdateProblemStatus(ctx context.Context, id int64, status string) error
	GetFeedbackExamples(ctx context.Context, problemID int64, limit int) ([]string, error)
	GetFeedbacksByBatch(ctx context.Context, batchID ulid.ULID) ([]Feedback, error)
	DashboardStats(ctx context.Context) (Stats, error)
	TypeDistribution(ctx context.Context, start, end time.Time) ([]TypeCount, error)
	FeedbackTrend(ctx context.Context, start, end time.Time) ([]DailyCount, error)
	TopProblems(ctx context.Context, start, end time.Time, limit int) ([]ProblemCount, error)
	SaveAnalysisResult(ctx context.Context, result *AnalysisResult) error
	GetLatestAnalysisResults(ctx context.Context) ([]AnalysisResult, error)
}

// SetupDatabase opens the configured database, exiting on failure
func SetupDatabase(dbType string, connString string) DBInterface {
	var db DBInterface
	var err error
	switch dbType {
	case "postgres", "postgresql":
		db, err = SetupPostgresDatabase(connString)
	default:
		db, err = SetupSQLiteDatabase(connString)
	}
	if err != nil {
		Logger.Error("Unable to setup database", "type", dbType, "error", err)
		os.Exit(1)
	}
	Logger.Info("Database ready", "type", dbType)
	return db
}

// NewBatchID returns a new ULID for an import batch
func NewBatchID() ulid.ULID {
	return ulid.Make()
}

const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
