package engine

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/drummonds/feedbackd/config"
	"github.com/drummonds/feedbackd/database"
	"github.com/drummonds/feedbackd/llm"
	"github.com/drummonds/feedbackd/router"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/oklog/ulid/v2"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	defaultPageSize = 20
	maxPageSize     = 100
	examplesPerItem = 5
	maxSearchHits   = 50
)

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	DB           database.DBInterface
	SearchDB     bleve.Index
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
	Analyzer     *llm.Analyzer
	Metrics      *Metrics
	Messages     *Messages
	Pages        *router.Table

	mergeMu sync.Mutex // serializes problem grouping across imports
}

type importTextRequest struct {
	Content string `json:"content"`
}

type importResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	BatchID string      `json:"batchId"`
	Stats   ImportStats `json:"stats"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type problemView struct {
	ID               int64    `json:"id"`
	Summary          string   `json:"summary"`
	Description      string   `json:"description"`
	Type             string   `json:"type"`
	TypeLabel        string   `json:"typeLabel"`
	Severity         string   `json:"severity"`
	SeverityLabel    string   `json:"severityLabel"`
	FeedbackCount    int      `json:"feedbackCount"`
	Status           string   `json:"status"`
	CreateTime       string   `json:"createTime"`
	UpdateTime       string   `json:"updateTime"`
	FeedbackExamples []string `json:"feedbackExamples"`
}

// AddAPIRoutes registers the JSON API and the metrics endpoint
func (serverHandler *ServerHandler) AddAPIRoutes() {
	e := serverHandler.Echo
	api := e.Group("/api")
	var limits []echo.MiddlewareFunc
	if serverHandler.ServerConfig.MaxUploadSize > 0 {
		limits = append(limits, middleware.BodyLimit(fmt.Sprintf("%dB", serverHandler.ServerConfig.MaxUploadSize)))
	}
	imports := api.Group("/feedback/import", limits...)
	imports.POST("/text", serverHandler.ImportTextFeedback)
	imports.POST("/file", serverHandler.ImportFileFeedback)
	imports.POST("/image", serverHandler.ImportImageFeedback)
	api.GET("/feedback/batches/:id", serverHandler.GetBatch)

	api.GET("/problems/list", serverHandler.ListProblems)
	api.GET("/problems/search", serverHandler.SearchProblems)
	api.GET("/problems/:id", serverHandler.GetProblem)
	api.POST("/problems/:id/resolve", serverHandler.ResolveProblem)
	api.POST("/problems/:id/update-status", serverHandler.UpdateProblemStatus)

	api.GET("/dashboard/stats", serverHandler.GetDashboardStats)
	api.GET("/analysis/report", serverHandler.GetAnalysisReport)
	api.GET("/about", serverHandler.GetAboutInfo)
	api.GET("/routes", serverHandler.GetRoutes)

	e.GET("/metrics", echo.WrapHandler(serverHandler.Metrics.Handler()))
}

// AddPageRoutes serves the web app on every page path of the route table
// plus the resources go-app needs. Paths outside the table stay 404.
func (serverHandler *ServerHandler) AddPageRoutes(appHandler http.Handler) {
	e := serverHandler.Echo
	wrapped := echo.WrapHandler(appHandler)
	for _, route := range serverHandler.Pages.Routes() {
		e.GET(route.Path, wrapped)
	}
	for _, resource := range []string{"/app.js", "/app.css", "/app-worker.js", "/manifest.webmanifest"} {
		e.GET(resource, wrapped)
	}
	e.GET("/wasm_exec.js", func(context echo.Context) error {
		return context.File("web/wasm_exec.js")
	})
	e.Static("/web", "web")
	e.File("/webapp/webapp.css", "webapp/webapp.css")
}

func (serverHandler *ServerHandler) fail(context echo.Context, status int, id string, data map[string]any) error {
	return context.JSON(status, map[string]any{
		"success": false,
		"message": msg(serverHandler.Messages.Localizer(context), id, data),
	})
}

func (serverHandler *ServerHandler) respondImport(context echo.Context, source string, content string) error {
	lines := splitFeedback(content)
	if len(lines) == 0 {
		return serverHandler.fail(context, http.StatusBadRequest, "import.empty", nil)
	}
	batchID, stats := serverHandler.importFeedback(context.Request().Context(), source, lines)
	return context.JSON(http.StatusOK, importResponse{
		Success: stats.Success > 0,
		Message: msg(serverHandler.Messages.Localizer(context), "import.done", map[string]any{"Total": stats.Total}),
		BatchID: batchID.String(),
		Stats:   stats,
	})
}

// ImportTextFeedback imports pasted feedback, one per line
func (serverHandler *ServerHandler) ImportTextFeedback(context echo.Context) error {
	var request importTextRequest
	if err := context.Bind(&request); err != nil {
		return serverHandler.fail(context, http.StatusBadRequest, "import.empty", nil)
	}
	if strings.TrimSpace(request.Content) == "" {
		return serverHandler.fail(context, http.StatusBadRequest, "import.empty", nil)
	}
	return serverHandler.respondImport(context, SourceText, request.Content)
}

// ImportFileFeedback imports an uploaded text, CSV or PDF file
func (serverHandler *ServerHandler) ImportFileFeedback(context echo.Context) error {
	fileName, data, err := readUpload(context, "file")
	if err != nil {
		return serverHandler.fail(context, http.StatusBadRequest, "import.noFile", nil)
	}
	text, err := serverHandler.extractFileText(context.Request().Context(), fileName, data)
	if err != nil {
		return serverHandler.extractionFailed(context, fileName, err)
	}
	return serverHandler.respondImport(context, SourceFile, text)
}

// ImportImageFeedback recognizes the text of an uploaded screenshot and
// imports it
func (serverHandler *ServerHandler) ImportImageFeedback(context echo.Context) error {
	if serverHandler.ServerConfig.TesseractPath == "" {
		return serverHandler.fail(context, http.StatusServiceUnavailable, "import.ocrDisabled", nil)
	}
	fileName, data, err := readUpload(context, "image")
	if err != nil {
		return serverHandler.fail(context, http.StatusBadRequest, "import.noImage", nil)
	}
	if filepath.Ext(fileName) == "" || strings.EqualFold(filepath.Ext(fileName), ".pdf") {
		return serverHandler.fail(context, http.StatusBadRequest, "import.unsupported", map[string]any{"Ext": filepath.Ext(fileName)})
	}
	text, err := serverHandler.extractFileText(context.Request().Context(), fileName, data)
	if err != nil {
		return serverHandler.extractionFailed(context, fileName, err)
	}
	return serverHandler.respondImport(context, SourceImage, text)
}

func (serverHandler *ServerHandler) extractionFailed(context echo.Context, fileName string, err error) error {
	Logger.Warn("Unable to extract text from upload", "fileName", fileName, "error", err)
	switch {
	case errors.Is(err, ErrUnsupportedFile):
		return serverHandler.fail(context, http.StatusBadRequest, "import.unsupported", map[string]any{"Ext": filepath.Ext(fileName)})
	case errors.Is(err, ErrOCRDisabled):
		return serverHandler.fail(context, http.StatusServiceUnavailable, "import.ocrDisabled", nil)
	case errors.Is(err, ErrNoText):
		return serverHandler.fail(context, http.StatusUnprocessableEntity, "import.ocrFailed", nil)
	}
	return serverHandler.fail(context, http.StatusUnprocessableEntity, "import.unreadable", nil)
}

func readUpload(context echo.Context, field string) (string, []byte, error) {
	fileHeader, err := context.FormFile(field)
	if err != nil {
		return "", nil, err
	}
	if fileHeader.Filename == "" {
		return "", nil, errors.New("empty file name")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return "", nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, err
	}
	return fileHeader.Filename, data, nil
}

// GetBatch returns the feedbacks imported together under one batch id
func (serverHandler *ServerHandler) GetBatch(context echo.Context) error {
	batchID, err := ulid.ParseStrict(context.Param("id"))
	if err != nil {
		return serverHandler.fail(context, http.StatusBadRequest, "batch.invalid", nil)
	}
	feedbacks, err := serverHandler.DB.GetFeedbacksByBatch(context.Request().Context(), batchID)
	if err != nil {
		Logger.Error("Unable to fetch batch", "batch", batchID, "error", err)
		return serverHandler.fail(context, http.StatusInternalServerError, "server.error", nil)
	}
	if feedbacks == nil {
		feedbacks = []database.Feedback{}
	}
	return context.JSON(http.StatusOK, map[string]any{
		"batchId":   batchID.String(),
		"feedbacks": feedbacks,
	})
}

func (serverHandler *ServerHandler) newProblemView(localizer *i18n.Localizer, problem database.Problem, examples []string) problemView {
	if examples == nil {
		examples = []string{}
	}
	return problemView{
		ID:               problem.ID,
		Summary:          problem.Summary,
		Description:      problem.Description,
		Type:             problem.Type,
		TypeLabel:        typeLabel(localizer, problem.Type),
		Severity:         problem.Severity,
		SeverityLabel:    severityLabel(localizer, problem.Severity),
		FeedbackCount:    problem.FeedbackCount,
		Status:           problem.Status,
		CreateTime:       problem.CreateTime.Local().Format(time.DateTime),
		UpdateTime:       problem.UpdateTime.Local().Format(time.DateTime),
		FeedbackExamples: examples,
	}
}

func (serverHandler *ServerHandler) problemViews(context echo.Context, problems []database.Problem) ([]problemView, error) {
	localizer := serverHandler.Messages.Localizer(context)
	items := make([]problemView, 0, len(problems))
	for _, problem := range problems {
		examples, err := serverHandler.DB.GetFeedbackExamples(context.Request().Context(), problem.ID, examplesPerItem)
		if err != nil {
			return nil, err
		}
		items = append(items, serverHandler.newProblemView(localizer, problem, examples))
	}
	return items, nil
}

// ListProblems returns a filtered page of problems, most reported first
func (serverHandler *ServerHandler) ListProblems(context echo.Context) error {
	page := 1
	if p, err := strconv.Atoi(context.QueryParam("page")); err == nil && p > 0 {
		page = p
	}
	pageSize := defaultPageSize
	if s, err := strconv.Atoi(context.QueryParam("pageSize")); err == nil && s > 0 {
		pageSize = min(s, maxPageSize)
	}
	filter := database.ProblemFilter{
		Keyword:  strings.TrimSpace(context.QueryParam("keyword")),
		Status:   strings.TrimSpace(context.QueryParam("status")),
		Page:     page,
		PageSize: pageSize,
	}
	// labels are accepted as well as codes, unknown values match nothing
	if t := strings.TrimSpace(context.QueryParam("type")); t != "" {
		filter.Type = t
		if code, ok := llm.ParseType(t); ok {
			filter.Type = code
		}
	}
	if s := strings.TrimSpace(context.QueryParam("severity")); s != "" {
		filter.Severity = s
		if code, ok := llm.ParseSeverity(s); ok {
			filter.Severity = code
		}
	}

	problems, total, err := serverHandler.DB.QueryProblems(context.Request().Context(), filter)
	if err != nil {
		Logger.Error("Unable to query problems", "error", err)
		return serverHandler.fail(context, http.StatusInternalServerError, "server.error", nil)
	}
	items, err := serverHandler.problemViews(context, problems)
	if err != nil {
		Logger.Error("Unable to fetch feedback examples", "error", err)
		return serverHandler.fail(context, http.StatusInternalServerError, "server.error", nil)
	}
	totalPages := (total + pageSize - 1) / pageSize
	return context.JSON(http.StatusOK, map[string]any{
		"items":      items,
		"total":      total,
		"page":       page,
		"pageSize":   pageSize,
		"totalPages": totalPages,
	})
}

// SearchProblems runs a full text search over problem summaries and
// descriptions, best match first
func (serverHandler *ServerHandler) SearchProblems(context echo.Context) error {
	term := strings.TrimSpace(context.QueryParam("q"))
	if term == "" {
		return serverHandler.fail(context, http.StatusBadRequest, "search.empty", nil)
	}
	ids, err := database.SearchProblems(term, maxSearchHits, serverHandler.SearchDB)
	if err != nil {
		Logger.Error("Search failed", "term", term, "error", err)
		return serverHandler.fail(context, http.StatusInternalServerError, "server.error", nil)
	}
	problems, _, err := serverHandler.DB.QueryProblems(context.Request().Context(), database.ProblemFilter{IDs: ids, PageSize: maxSearchHits})
	if err != nil {
		Logger.Error("Unable to load search results", "term", term, "error", err)
		return serverHandler.fail(context, http.StatusInternalServerError, "server.error", nil)
	}
	byID := make(map[int64]database.Problem, len(problems))
	for _, problem := range problems {
		byID[problem.ID] = problem
	}
	ranked := make([]database.Problem, 0, len(problems))
	for _, id := range ids {
		if problem, ok := byID[id]; ok {
			ranked = append(ranked, problem)
		}
	}
	items, err := serverHandler.problemViews(context, ranked)
	if err != nil {
		Logger.Error("Unable to fetch feedback examples", "error", err)
		return serverHandler.fail(context, http.StatusInternalServerError, "server.error", nil)
	}
	return context.JSON(http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	})
}

func (serverHandler *ServerHandler) problemFromParam(context echo.Context) (*database.Problem, error) {
	id, err := strconv.ParseInt(context.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return nil, serverHandler.fail(context, http.StatusBadRequest, "problem.invalidID", nil)
	}
	problem, err := serverHandler.DB.GetProblem(context.Request().Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, serverHandler.fail(context, http.StatusNotFound, "problem.notFound", nil)
	}
	if err != nil {
		Logger.Error("Unable to fetch problem", "id", id, "error", err)
		return nil, serverHandler.fail(context, http.StatusInternalServerError, "server.error", nil)
	}
	return problem, nil
}

// GetProblem returns one problem with all of its feedback examples
func (serverHandler *ServerHandler) GetProblem(context echo.Context) error {
	problem, err := serverHandler.problemFromParam(context)
	if problem == nil {
		return err
	}
	examples, err := serverHandler.DB.GetFeedbackExamples(context.Request().Context(), problem.ID, 0)
	if err != nil {
		Logger.Error("Unable to fetch feedback examples", "id", problem.ID, "error", err)
		return serverHandler.fail(context, http.StatusInternalServerError, "server.error", nil)
	}
	return context.JSON(http.StatusOK, serverHandler.newProblemView(serverHandler.Messages.Localizer(context), *problem, examples))
}

// ResolveProblem marks a problem as resolved
func (serverHandler *ServerHandler) ResolveProblem(context echo.Context) error {
	problem, err := serverHandler.problemFromParam(context)
	if problem == nil {
		return err
	}
	return serverHandler.setStatus(context, problem, database.StatusResolved, "problem.resolved")
}

// UpdateProblemStatus sets the status given in the JSON body
func (serverHandler *ServerHandler) UpdateProblemStatus(context echo.Context) error {
	problem, err := serverHandler.problemFromParam(context)
	if problem == nil {
		return err
	}
	var request updateStatusRequest
	if err := context.Bind(&request); err != nil || strings.TrimSpace(request.Status) == "" {
		return serverHandler.fail(context, http.StatusBadRequest, "problem.statusMissing", nil)
	}
	status := strings.ToLower(strings.TrimSpace(request.Status))
	if !database.ValidProblemStatus(status) {
		return serverHandler.fail(context, http.StatusBadRequest, "problem.statusInvalid", nil)
	}
	return serverHandler.setStatus(context, problem, status, "problem.statusUpdated")
}

func (serverHandler *ServerHandler) setStatus(context echo.Context, problem *database.Problem, status string, messageID string) error {
	err := serverHandler.DB.UpdateProblemStatus(context.Request().Context(), problem.ID, status)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return serverHandler.fail(context, http.StatusNotFound, "problem.notFound", nil)
	case err != nil:
		Logger.Error("Unable to update problem status", "id", problem.ID, "status", status, "error", err)
		return serverHandler.fail(context, http.StatusInternalServerError, "server.error", nil)
	}
	Logger.Info("Problem status changed", "id", problem.ID, "from", problem.Status, "to", status)
	return context.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": msg(serverHandler.Messages.Localizer(context), messageID, nil),
		"status":  status,
	})
}

// GetDashboardStats returns the home page counters
func (serverHandler *ServerHandler) GetDashboardStats(context echo.Context) error {
	stats, err := serverHandler.DB.DashboardStats(context.Request().Context())
	if err != nil {
		Logger.Error("Unable to compute dashboard stats", "error", err)
		return serverHandler.fail(context, http.StatusInternalServerError, "server.error", nil)
	}
	return context.JSON(http.StatusOK, stats)
}

// GetAnalysisReport computes the report for ?startDate=&endDate=
// (YYYY-MM-DD, inclusive). When the live computation fails the latest
// stored snapshot is served instead.
func (serverHandler *ServerHandler) GetAnalysisReport(context echo.Context) error {
	start, end := reportRange(context.QueryParam("startDate"), context.QueryParam("endDate"),
		serverHandler.ServerConfig.ReportDays, time.Now())
	localizer := serverHandler.Messages.Localizer(context)
	report, err := serverHandler.BuildReport(context.Request().Context(), start, end, localizer)
	if err == nil {
		return context.JSON(http.StatusOK, report)
	}
	Logger.Error("Unable to build analysis report, trying last snapshot", "error", err)
	report, snapErr := serverHandler.latestSnapshot(context.Request().Context())
	if snapErr != nil {
		Logger.Error("No report snapshot available", "error", snapErr)
		return serverHandler.fail(context, http.StatusInternalServerError, "server.error", nil)
	}
	return context.JSON(http.StatusOK, report)
}

// GetAboutInfo returns information about the application configuration
func (serverHandler *ServerHandler) GetAboutInfo(context echo.Context) error {
	dbType := serverHandler.ServerConfig.DatabaseType
	if dbType == "" {
		dbType = "sqlite"
	}
	return context.JSON(http.StatusOK, map[string]any{
		"version":             Version,
		"databaseType":        dbType,
		"llmEnabled":          serverHandler.ServerConfig.APIKey != "",
		"llmModel":            serverHandler.ServerConfig.Model,
		"ocrConfigured":       serverHandler.ServerConfig.TesseractPath != "",
		"similarityThreshold": serverHandler.ServerConfig.SimilarityThreshold,
		"reportDays":          serverHandler.ServerConfig.ReportDays,
		"maxUploadSize":       serverHandler.ServerConfig.MaxUploadSize,
	})
}

// GetRoutes lists the page routes of the web app
func (serverHandler *ServerHandler) GetRoutes(context echo.Context) error {
	return context.JSON(http.StatusOK, serverHandler.Pages.Routes())
}
