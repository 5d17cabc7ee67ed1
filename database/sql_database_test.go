package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blevesearch/bleve"
)

func TestMain(m *testing.M) {
	Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	os.Exit(m.Run())
}

func setupTestDB(t *testing.T) *SQLDB {
	t.Helper()
	db, err := SetupSQLiteDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to setup database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordFeedback(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	batch := NewBatchID()

	feedback, problem, err := db.RecordFeedback(ctx, FeedbackRecord{
		Content:  "Login fails with a password error",
		BatchID:  batch,
		Summary:  "Login failure",
		Type:     "technical",
		Severity: "high",
	})
	if err != nil {
		t.Fatalf("RecordFeedback failed: %v", err)
	}
	if feedback.ID == 0 || problem.ID == 0 {
		t.Fatalf("Expected IDs to be assigned, got feedback=%d problem=%d", feedback.ID, problem.ID)
	}
	if feedback.ProblemID != problem.ID {
		t.Errorf("Feedback not linked to problem: %d != %d", feedback.ProblemID, problem.ID)
	}
	if problem.FeedbackCount != 1 || problem.Status != StatusPending {
		t.Errorf("Unexpected new problem: %+v", problem)
	}
	if problem.Description != "Login fails with a password error" {
		t.Errorf("Description should be the first feedback, got %q", problem.Description)
	}

	t.Run("merge into existing problem", func(t *testing.T) {
		_, merged, err := db.RecordFeedback(ctx, FeedbackRecord{
			Content:   "Cannot log in since yesterday",
			BatchID:   batch,
			ProblemID: problem.ID,
		})
		if err != nil {
			t.Fatalf("RecordFeedback merge failed: %v", err)
		}
		if merged.ID != problem.ID || merged.FeedbackCount != 2 {
			t.Errorf("Expected problem %d with count 2, got %+v", problem.ID, merged)
		}
		examples, err := db.GetFeedbackExamples(ctx, problem.ID, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(examples) != 2 || examples[1] != "Cannot log in since yesterday" {
			t.Errorf("Unexpected examples: %v", examples)
		}
		limited, _ := db.GetFeedbackExamples(ctx, problem.ID, 1)
		if len(limited) != 1 {
			t.Errorf("Expected 1 example with limit, got %d", len(limited))
		}
	})

	t.Run("merge into missing problem", func(t *testing.T) {
		_, _, err := db.RecordFeedback(ctx, FeedbackRecord{Content: "x", BatchID: batch, ProblemID: 999})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("batch lookup", func(t *testing.T) {
		feedbacks, err := db.GetFeedbacksByBatch(ctx, batch)
		if err != nil {
			t.Fatal(err)
		}
		if len(feedbacks) != 2 {
			t.Fatalf("Expected 2 feedbacks in batch, got %d", len(feedbacks))
		}
		if feedbacks[0].BatchID != batch || feedbacks[0].Status != FeedbackProcessed {
			t.Errorf("Unexpected feedback: %+v", feedbacks[0])
		}
	})
}

func seedProblems(t *testing.T, db *SQLDB) {
	t.Helper()
	ctx := context.Background()
	batch := NewBatchID()
	records := []FeedbackRecord{
		{Content: "The app crashes on login", Summary: "Login crash", Type: "technical", Severity: "high"},
		{Content: "Support took three days to answer", Summary: "Slow support", Type: "service", Severity: "medium"},
		{Content: "Too expensive for small teams", Summary: "Price too high", Type: "price", Severity: "medium"},
		{Content: "Please add CSV export", Summary: "CSV export", Type: "feature", Severity: "low"},
	}
	for _, rec := range records {
		rec.BatchID = batch
		if _, _, err := db.RecordFeedback(ctx, rec); err != nil {
			t.Fatalf("Failed to seed %q: %v", rec.Summary, err)
		}
	}
	// a second report for the first problem
	if _, _, err := db.RecordFeedback(ctx, FeedbackRecord{Content: "Login crashes again", BatchID: batch, ProblemID: 1}); err != nil {
		t.Fatal(err)
	}
}

func TestQueryProblems(t *testing.T) {
	db := setupTestDB(t)
	seedProblems(t, db)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter ProblemFilter
		total  int
		first  string
	}{
		{"all", ProblemFilter{}, 4, "Login crash"},
		{"keyword in summary", ProblemFilter{Keyword: "CSV"}, 1, "CSV export"},
		{"keyword in description", ProblemFilter{Keyword: "three days"}, 1, "Slow support"},
		{"keyword ignores case", ProblemFilter{Keyword: "LOGIN crash"}, 1, "Login crash"},
		{"percent is literal", ProblemFilter{Keyword: "%"}, 0, ""},
		{"underscore is literal", ProblemFilter{Keyword: "_"}, 0, ""},
		{"type", ProblemFilter{Type: "price"}, 1, "Price too high"},
		{"severity", ProblemFilter{Severity: "medium"}, 2, "Slow support"},
		{"status", ProblemFilter{Status: StatusResolved}, 0, ""},
		{"ids", ProblemFilter{IDs: []int64{2, 4}}, 2, "Slow support"},
		{"empty ids", ProblemFilter{IDs: []int64{}}, 0, ""},
		{"second page", ProblemFilter{Page: 2, PageSize: 3}, 4, "CSV export"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problems, total, err := db.QueryProblems(ctx, tt.filter)
			if err != nil {
				t.Fatalf("QueryProblems failed: %v", err)
			}
			if total != tt.total {
				t.Errorf("Expected total %d, got %d", tt.total, total)
			}
			if tt.first == "" {
				if len(problems) != 0 {
					t.Errorf("Expected no problems, got %d", len(problems))
				}
				return
			}
			if len(problems) == 0 || problems[0].Summary != tt.first {
				t.Errorf("Expected first problem %q, got %+v", tt.first, problems)
			}
		})
	}
}

func TestUpdateProblemStatus(t *testing.T) {
	db := setupTestDB(t)
	seedProblems(t, db)
	ctx := context.Background()

	if err := db.UpdateProblemStatus(ctx, 2, StatusResolved); err != nil {
		t.Fatalf("UpdateProblemStatus failed: %v", err)
	}
	problem, err := db.GetProblem(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if problem.Status != StatusResolved {
		t.Errorf("Expected resolved, got %s", problem.Status)
	}
	if err := db.UpdateProblemStatus(ctx, 2, "done"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("Expected ErrInvalidStatus, got %v", err)
	}
	if err := db.UpdateProblemStatus(ctx, 42, StatusClosed); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := db.GetProblem(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	stats, err := db.DashboardStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalFeedbacks != 5 || stats.PendingProblems != 3 || stats.ResolvedProblems != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestReportAggregates(t *testing.T) {
	db := setupTestDB(t)
	seedProblems(t, db)
	ctx := context.Background()
	start := time.Now().Add(-24 * time.Hour)
	end := time.Now().Add(time.Hour)

	types, err := db.TypeDistribution(ctx, start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(types) != 4 || types[0].Type != "technical" || types[0].Count != 2 {
		t.Errorf("Unexpected type distribution: %+v", types)
	}

	trend, err := db.FeedbackTrend(ctx, start, end)
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, day := range trend {
		if len(day.Date) != 10 {
			t.Errorf("Unexpected date format %q", day.Date)
		}
		total += day.Count
	}
	if total != 5 {
		t.Errorf("Expected 5 feedbacks in trend, got %d", total)
	}

	top, err := db.TopProblems(ctx, start, end, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 || top[0].Summary != "Login crash" || top[0].Count != 2 {
		t.Errorf("Unexpected top problems: %+v", top)
	}

	old, err := db.TypeDistribution(ctx, start.Add(-48*time.Hour), start)
	if err != nil {
		t.Fatal(err)
	}
	if len(old) != 0 {
		t.Errorf("Expected no feedback before range, got %+v", old)
	}
}

func TestAnalysisResults(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, content := range []string{`{"labels":[]}`, `{"labels":["technical"]}`} {
		if err := db.SaveAnalysisResult(ctx, &AnalysisResult{AnalysisType: "typeDistribution", Content: content}); err != nil {
			t.Fatal(err)
		}
	}
	end := time.Now().UTC().Truncate(time.Second)
	if err := db.SaveAnalysisResult(ctx, &AnalysisResult{AnalysisType: "summary", Content: "<p>ok</p>", StartDate: end.AddDate(0, 0, -7), EndDate: end}); err != nil {
		t.Fatal(err)
	}

	results, err := db.GetLatestAnalysisResults(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 latest results, got %d", len(results))
	}
	byType := map[string]AnalysisResult{}
	for _, r := range results {
		byType[r.AnalysisType] = r
	}
	if byType["typeDistribution"].Content != `{"labels":["technical"]}` {
		t.Errorf("Expected newest snapshot, got %q", byType["typeDistribution"].Content)
	}
	if !byType["summary"].EndDate.Equal(end) {
		t.Errorf("Expected end date %s, got %s", end, byType["summary"].EndDate)
	}
	if !byType["typeDistribution"].StartDate.IsZero() {
		t.Error("Expected empty start date")
	}
}

func TestSearchProblems(t *testing.T) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		t.Fatal(err)
	}
	defer index.Close()

	problems := []Problem{
		{ID: 1, Summary: "Login crash", Description: "The app crashes on login", Type: "technical"},
		{ID: 2, Summary: "Slow support", Description: "Support took three days", Type: "service"},
	}
	for i := range problems {
		if err := IndexProblem(&problems[i], index); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := SearchProblems("support", 10, index)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("Expected [2], got %v", ids)
	}
	ids, _ = SearchProblems("nothing-like-this", 10, index)
	if len(ids) != 0 {
		t.Errorf("Expected no hits, got %v", ids)
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLDB{dialect: dialectPostgres}
	got := pg.rebind("SELECT * FROM problems WHERE id = ? AND status = ?")
	if got != "SELECT * FROM problems WHERE id = $1 AND status = $2" {
		t.Errorf("Unexpected rebind: %s", got)
	}
	lite := &SQLDB{dialect: dialectSQLite}
	if q := lite.rebind("id = ?"); q != "id = ?" {
		t.Errorf("SQLite query should be unchanged, got %s", q)
	}
}

func TestEscapeLike(t *testing.T) {
	tests := map[string]string{
		"plain":  "plain",
		"50%":    `50\%`,
		"a_b":    `a\_b`,
		`c:\dir`: `c:\\dir`,
	}
	for in, want := range tests {
		if got := escapeLike(in); got != want {
			t.Errorf("escapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}
