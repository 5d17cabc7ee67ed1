package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/drummonds/feedbackd/config"
	"github.com/drummonds/feedbackd/database"
	"github.com/drummonds/feedbackd/llm"
	"github.com/drummonds/feedbackd/router"
	"github.com/labstack/echo/v4"
)

func TestMain(m *testing.M) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	Logger = logger
	database.Logger = logger
	llm.Logger = logger
	os.Exit(m.Run())
}

// setupTestServer wires a handler against a temporary SQLite database, an
// in-memory index and the keyword analyzer
func setupTestServer(t *testing.T) (*echo.Echo, *ServerHandler) {
	t.Helper()
	db, err := database.SetupSQLiteDatabase(filepath.Join(t.TempDir(), "feedback.db"))
	if err != nil {
		t.Fatalf("Failed to setup database: %v", err)
	}
	searchDB, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		t.Fatalf("Failed to setup search index: %v", err)
	}
	analyzer, err := llm.NewAnalyzer(llm.NewClient("", "", "", 0), 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		analyzer.Close()
		searchDB.Close()
		db.Close()
	})

	e := echo.New()
	serverHandler := &ServerHandler{
		DB:       db,
		SearchDB: searchDB,
		Echo:     e,
		ServerConfig: config.ServerConfig{
			MaxUploadSize:  1 << 20,
			LLMConfig:      config.LLMConfig{Concurrency: 2},
			AnalysisConfig: config.AnalysisConfig{SimilarityThreshold: 0.6, ReportDays: 7},
		},
		Analyzer: analyzer,
		Metrics:  NewMetrics(),
		Messages: NewMessages(),
		Pages:    router.DefaultTable(),
	}
	serverHandler.AddAPIRoutes()
	return e, serverHandler
}

func doJSON(t *testing.T, e *echo.Echo, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func doUpload(t *testing.T, e *echo.Echo, target, field, fileName string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if fileName != "" {
		part, err := writer.CreateFormFile(field, fileName)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(content)
	}
	writer.Close()
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to parse response: %v\nBody: %s", err, rec.Body.String())
	}
	return v
}

type listResponse struct {
	Items      []problemView `json:"items"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	TotalPages int           `json:"totalPages"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func importText(t *testing.T, e *echo.Echo, content string) importResponse {
	t.Helper()
	rec := doJSON(t, e, http.MethodPost, "/api/feedback/import/text", map[string]string{"content": content})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	return decode[importResponse](t, rec)
}

func TestImportTextGroupsSimilarFeedback(t *testing.T) {
	e, _ := setupTestServer(t)

	resp := importText(t, e, "系统登录失败\n系统登录失败了\n\n  \n客服态度很差")
	if !resp.Success || resp.Stats != (ImportStats{Total: 3, Success: 3}) {
		t.Fatalf("Unexpected import response: %+v", resp)
	}
	if resp.BatchID == "" {
		t.Error("Expected a batch id")
	}

	list := decode[listResponse](t, doJSON(t, e, http.MethodGet, "/api/problems/list", nil))
	if list.Total != 2 || len(list.Items) != 2 {
		t.Fatalf("Expected 2 problems, got %+v", list)
	}
	first := list.Items[0]
	if first.Summary != "系统登录失败" || first.FeedbackCount != 2 || first.Type != llm.TypeTechnical {
		t.Errorf("Unexpected first problem: %+v", first)
	}
	if len(first.FeedbackExamples) != 2 || first.FeedbackExamples[1] != "系统登录失败了" {
		t.Errorf("Unexpected examples: %v", first.FeedbackExamples)
	}
	if list.Items[1].Type != llm.TypeService || list.Items[1].FeedbackCount != 1 {
		t.Errorf("Unexpected second problem: %+v", list.Items[1])
	}

	t.Run("batch lists every line", func(t *testing.T) {
		rec := doJSON(t, e, http.MethodGet, "/api/feedback/batches/"+resp.BatchID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
		batch := decode[struct {
			Feedbacks []database.Feedback `json:"feedbacks"`
		}](t, rec)
		if len(batch.Feedbacks) != 3 {
			t.Errorf("Expected 3 feedbacks in batch, got %d", len(batch.Feedbacks))
		}
		if rec := doJSON(t, e, http.MethodGet, "/api/feedback/batches/not-a-ulid", nil); rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for invalid batch id, got %d", rec.Code)
		}
	})

	t.Run("later imports merge into existing problems", func(t *testing.T) {
		importText(t, e, "客服态度很差!")
		list := decode[listResponse](t, doJSON(t, e, http.MethodGet, "/api/problems/list", nil))
		if list.Total != 2 {
			t.Errorf("Expected still 2 problems, got %d", list.Total)
		}
	})
}

func TestImportTextRejectsEmptyContent(t *testing.T) {
	e, _ := setupTestServer(t)
	for _, content := range []string{"", "   \n\n "} {
		rec := doJSON(t, e, http.MethodPost, "/api/feedback/import/text", map[string]string{"content": content})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for %q, got %d", content, rec.Code)
		}
		if resp := decode[messageResponse](t, rec); resp.Success || resp.Message == "" {
			t.Errorf("Unexpected error body: %+v", resp)
		}
	}
}

func TestImportFile(t *testing.T) {
	e, _ := setupTestServer(t)

	rec := doUpload(t, e, "/api/feedback/import/file", "file", "feedback.txt", []byte("\ufeffThe price is too expensive\r\nPlease add a dark mode feature\r\n"))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[importResponse](t, rec)
	if resp.Stats.Total != 2 || resp.Stats.Success != 2 {
		t.Errorf("Unexpected stats: %+v", resp.Stats)
	}

	if rec := doUpload(t, e, "/api/feedback/import/file", "file", "tool.exe", []byte("MZ")); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unsupported file, got %d", rec.Code)
	}
	if rec := doUpload(t, e, "/api/feedback/import/file", "file", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without a file, got %d", rec.Code)
	}
}

func TestImportImageWithoutTesseract(t *testing.T) {
	e, _ := setupTestServer(t)
	rec := doUpload(t, e, "/api/feedback/import/image", "image", "shot.png", []byte("not really a png"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without tesseract, got %d", rec.Code)
	}
}

func TestProblemLifecycle(t *testing.T) {
	e, _ := setupTestServer(t)
	importText(t, e, "系统登录失败\n对价格不满意")

	rec := doJSON(t, e, http.MethodGet, "/api/problems/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	problem := decode[problemView](t, rec)
	if problem.ID != 1 || problem.Status != database.StatusPending || len(problem.FeedbackExamples) != 1 {
		t.Errorf("Unexpected problem: %+v", problem)
	}

	errorTests := []struct {
		name   string
		method string
		target string
		body   any
		status int
	}{
		{"unknown problem", http.MethodGet, "/api/problems/999", nil, http.StatusNotFound},
		{"invalid id", http.MethodGet, "/api/problems/abc", nil, http.StatusBadRequest},
		{"resolve unknown", http.MethodPost, "/api/problems/999/resolve", nil, http.StatusNotFound},
		{"missing status", http.MethodPost, "/api/problems/1/update-status", map[string]string{}, http.StatusBadRequest},
		{"invalid status", http.MethodPost, "/api/problems/1/update-status", map[string]string{"status": "done"}, http.StatusBadRequest},
		{"update unknown", http.MethodPost, "/api/problems/999/update-status", map[string]string{"status": "closed"}, http.StatusNotFound},
	}
	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := doJSON(t, e, tt.method, tt.target, tt.body); rec.Code != tt.status {
				t.Errorf("Expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}

	if rec := doJSON(t, e, http.MethodPost, "/api/problems/1/update-status", map[string]string{"status": "processing"}); rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if rec := doJSON(t, e, http.MethodPost, "/api/problems/2/resolve", nil); rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	stats := decode[database.Stats](t, doJSON(t, e, http.MethodGet, "/api/dashboard/stats", nil))
	if stats != (database.Stats{TotalFeedbacks: 2, PendingProblems: 0, ResolvedProblems: 1}) {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	resolved := decode[listResponse](t, doJSON(t, e, http.MethodGet, "/api/problems/list?status=resolved", nil))
	if resolved.Total != 1 || resolved.Items[0].ID != 2 {
		t.Errorf("Unexpected resolved list: %+v", resolved)
	}
}

func TestListProblemsFilters(t *testing.T) {
	e, _ := setupTestServer(t)
	importText(t, e, "系统登录失败\n系统登录失败了\n对价格不满意\n希望增加数据导出功能")

	tests := []struct {
		query string
		total int
	}{
		{"", 3},
		{"?type=technical", 1},
		{"?type=" + url.QueryEscape("技术问题"), 1},
		{"?type=weather", 0},
		{"?severity=high", 1},
		{"?severity=" + url.QueryEscape("中"), 2},
		{"?keyword=" + url.QueryEscape("价格"), 1},
		{"?keyword=nothing-like-this", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			list := decode[listResponse](t, doJSON(t, e, http.MethodGet, "/api/problems/list"+tt.query, nil))
			if list.Total != tt.total || len(list.Items) != tt.total {
				t.Errorf("Expected %d problems, got total=%d items=%d", tt.total, list.Total, len(list.Items))
			}
		})
	}

	paged := decode[listResponse](t, doJSON(t, e, http.MethodGet, "/api/problems/list?page=2&pageSize=2", nil))
	if paged.Total != 3 || len(paged.Items) != 1 || paged.TotalPages != 2 || paged.Page != 2 {
		t.Errorf("Unexpected page: %+v", paged)
	}
	clamped := decode[listResponse](t, doJSON(t, e, http.MethodGet, "/api/problems/list?page=-1&pageSize=5000", nil))
	if clamped.Page != 1 || clamped.PageSize != maxPageSize {
		t.Errorf("Expected page 1 and page size %d, got %d/%d", maxPageSize, clamped.Page, clamped.PageSize)
	}
}

func TestSearchProblems(t *testing.T) {
	e, _ := setupTestServer(t)
	importText(t, e, "The app crashes on startup\nSupport was not good")

	list := decode[listResponse](t, doJSON(t, e, http.MethodGet, "/api/problems/search?q=crashes", nil))
	if list.Total != 1 || list.Items[0].Summary != "The app crashes on startup" {
		t.Errorf("Unexpected search result: %+v", list)
	}
	if rec := doJSON(t, e, http.MethodGet, "/api/problems/search?q=", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty search, got %d", rec.Code)
	}
}

func TestAnalysisReport(t *testing.T) {
	e, _ := setupTestServer(t)
	importText(t, e, "系统登录失败\n系统登录失败了\n对价格不满意")

	rec := doJSON(t, e, http.MethodGet, "/api/analysis/report", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	report := decode[Report](t, rec)
	if len(report.TimeTrend.Dates) != 7 || len(report.TimeTrend.Counts) != 7 {
		t.Fatalf("Expected 7 days of trend, got %+v", report.TimeTrend)
	}
	today := time.Now().UTC().Format(dateLayout)
	if report.TimeTrend.Dates[6] != today || report.TimeTrend.Counts[6] != 3 || report.EndDate != today {
		t.Errorf("Expected today's 3 feedbacks last, got %+v", report.TimeTrend)
	}
	if len(report.TypeDistribution.Types) != 2 || report.TypeDistribution.Types[0] != llm.TypeTechnical ||
		report.TypeDistribution.Values[0] != 2 || report.TypeDistribution.Labels[0] != "Technical issue" {
		t.Errorf("Unexpected distribution: %+v", report.TypeDistribution)
	}
	if len(report.HighFrequencyProblems) != 2 || report.HighFrequencyProblems[0].Rank != 1 || report.HighFrequencyProblems[0].Count != 2 {
		t.Errorf("Unexpected top problems: %+v", report.HighFrequencyProblems)
	}
	if !strings.Contains(report.Summary, "3 feedbacks") || !strings.Contains(report.Summary, "66.7%") {
		t.Errorf("Unexpected summary: %s", report.Summary)
	}

	t.Run("localized labels", func(t *testing.T) {
		report := decode[Report](t, doJSON(t, e, http.MethodGet, "/api/analysis/report", nil, "Accept-Language", "zh-CN,zh;q=0.9"))
		if report.TypeDistribution.Labels[0] != "技术问题" {
			t.Errorf("Expected Chinese label, got %v", report.TypeDistribution.Labels)
		}
	})

	t.Run("range without feedback", func(t *testing.T) {
		report := decode[Report](t, doJSON(t, e, http.MethodGet, "/api/analysis/report?startDate=2020-01-01&endDate=2020-01-03", nil))
		if len(report.TimeTrend.Dates) != 3 || len(report.HighFrequencyProblems) != 0 || len(report.TypeDistribution.Values) != 0 {
			t.Errorf("Expected an empty 3 day report, got %+v", report)
		}
		if !strings.Contains(report.Summary, "No feedback") {
			t.Errorf("Unexpected summary: %s", report.Summary)
		}
	})
}

func TestReportRange(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)
	date := func(s string) time.Time {
		d, _ := time.Parse(dateLayout, s)
		return d
	}
	tests := []struct {
		name       string
		start, end string
		wantStart  string
		wantEnd    string
	}{
		{"default", "", "", "2024-03-04", "2024-03-11"},
		{"explicit", "2024-01-01", "2024-01-31", "2024-01-01", "2024-02-01"},
		{"start only", "2024-03-08", "", "2024-03-08", "2024-03-11"},
		{"malformed", "yesterday", "", "2024-03-04", "2024-03-11"},
		{"reversed", "2024-03-09", "2024-03-01", "2024-03-04", "2024-03-11"},
		{"too long", "2000-01-01", "2024-03-10", "2023-03-11", "2024-03-11"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := reportRange(tt.start, tt.end, 7, now)
			if !start.Equal(date(tt.wantStart)) || !end.Equal(date(tt.wantEnd)) {
				t.Errorf("Expected [%s, %s), got [%s, %s)", tt.wantStart, tt.wantEnd,
					start.Format(dateLayout), end.Format(dateLayout))
			}
		})
	}
}

func TestReportSnapshot(t *testing.T) {
	e, serverHandler := setupTestServer(t)
	importText(t, e, "系统登录失败")

	if _, err := serverHandler.latestSnapshot(context.Background()); err == nil {
		t.Error("Expected an error before any snapshot")
	}
	serverHandler.reportJobFunc()
	report, err := serverHandler.latestSnapshot(context.Background())
	if err != nil {
		t.Fatalf("latestSnapshot failed: %v", err)
	}
	if !report.Snapshot || len(report.TimeTrend.Dates) != 7 || len(report.HighFrequencyProblems) != 1 || report.Summary == "" {
		t.Errorf("Unexpected snapshot: %+v", report)
	}
}

func TestMetricsAndAbout(t *testing.T) {
	e, _ := setupTestServer(t)
	importText(t, e, "系统登录失败")

	rec := doJSON(t, e, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`feedbackd_feedback_lines_total{result="success",source="text"} 1`, `feedbackd_analyses_total{analyzer="rules"} 1`, "feedbackd_problems_created_total 1"} {
		if !strings.Contains(body, want) {
			t.Errorf("Metrics missing %q", want)
		}
	}

	about := decode[map[string]any](t, doJSON(t, e, http.MethodGet, "/api/about", nil))
	if about["llmEnabled"] != false || about["ocrConfigured"] != false || about["databaseType"] != "sqlite" {
		t.Errorf("Unexpected about info: %v", about)
	}
}

func TestPageRoutes(t *testing.T) {
	e, serverHandler := setupTestServer(t)
	serverHandler.AddPageRoutes(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("page " + r.URL.Path))
	}))

	for _, route := range router.DefaultTable().Routes() {
		rec := doJSON(t, e, http.MethodGet, route.Path, nil)
		if rec.Code != http.StatusOK || rec.Body.String() != "page "+route.Path {
			t.Errorf("Expected page for %s, got %d %q", route.Path, rec.Code, rec.Body.String())
		}
	}
	if rec := doJSON(t, e, http.MethodGet, "/unknown", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown path, got %d", rec.Code)
	}

	routes := decode[[]router.Route](t, doJSON(t, e, http.MethodGet, "/api/routes", nil))
	if len(routes) != 4 || routes[0].Name != "home" {
		t.Errorf("Unexpected routes: %+v", routes)
	}
}

func TestSplitFeedback(t *testing.T) {
	got := splitFeedback("\ufeff first \r\n\r\nsecond\n\t\nthird")
	want := []string{"first", "second", "third"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if got := splitFeedback(" \n "); len(got) != 0 {
		t.Errorf("Expected no lines, got %v", got)
	}
}
