package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/drummonds/feedbackd/database"
	"github.com/drummonds/feedbackd/llm"
	"github.com/nicksnyder/go-i18n/v2/i18n"
)

const (
	dateLayout     = "2006-01-02"
	day            = 24 * time.Hour
	maxReportDays  = 366
	topProblemsMax = 10
)

// Stored report sections
const (
	sectionTypeDistribution = "type_distribution"
	sectionTimeTrend        = "time_trend"
	sectionTopProblems      = "high_frequency_problems"
	sectionSummary          = "summary"
)

// Distribution is a chart series of feedback counts per problem type
type Distribution struct {
	Types  []string `json:"types"`
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
}

// Trend is the number of feedbacks per day, days without feedback included
type Trend struct {
	Dates  []string `json:"dates"`
	Counts []int    `json:"counts"`
}

// RankedProblem is one row of the high frequency problem table
type RankedProblem struct {
	Rank          int    `json:"rank"`
	ID            int64  `json:"id"`
	Summary       string `json:"summary"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
	TypeLabel     string `json:"typeLabel"`
	Severity      string `json:"severity"`
	SeverityLabel string `json:"severityLabel"`
	Status        string `json:"status"`
}

// Report is the analysis report for a date range
type Report struct {
	StartDate             string          `json:"startDate"`
	EndDate               string          `json:"endDate"`
	TypeDistribution      Distribution    `json:"typeDistribution"`
	TimeTrend             Trend           `json:"timeTrend"`
	HighFrequencyProblems []RankedProblem `json:"highFrequencyProblems"`
	Summary               string          `json:"summary"`
	Snapshot              bool            `json:"snapshot"`
}

// reportRange turns the inclusive YYYY-MM-DD dates of a request into a
// [start, end) UTC range. Missing, malformed or reversed dates fall back to
// the last days days ending today.
func reportRange(startParam, endParam string, days int, now time.Time) (time.Time, time.Time) {
	if days < 1 {
		days = 7
	}
	today := now.UTC().Truncate(day)
	defaultEnd := today.Add(day)
	defaultStart := defaultEnd.Add(-time.Duration(days) * day)
	if startParam == "" && endParam == "" {
		return defaultStart, defaultEnd
	}

	start, end := defaultStart, defaultEnd
	if startParam != "" {
		parsed, err := time.Parse(dateLayout, startParam)
		if err != nil {
			return defaultStart, defaultEnd
		}
		start = parsed
	}
	if endParam != "" {
		parsed, err := time.Parse(dateLayout, endParam)
		if err != nil {
			return defaultStart, defaultEnd
		}
		end = parsed.Add(day)
	}
	if !start.Before(end) {
		return defaultStart, defaultEnd
	}
	if end.Sub(start) > maxReportDays*day {
		start = end.Add(-maxReportDays * day)
	}
	return start, end
}

// BuildReport aggregates the feedback received in [start, end)
func (serverHandler *ServerHandler) BuildReport(ctx context.Context, start, end time.Time, localizer *i18n.Localizer) (*Report, error) {
	typeCounts, err := serverHandler.DB.TypeDistribution(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("type distribution: %w", err)
	}
	daily, err := serverHandler.DB.FeedbackTrend(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("feedback trend: %w", err)
	}
	top, err := serverHandler.DB.TopProblems(ctx, start, end, topProblemsMax)
	if err != nil {
		return nil, fmt.Errorf("top problems: %w", err)
	}

	report := &Report{
		StartDate:             start.Format(dateLayout),
		EndDate:               end.Add(-day).Format(dateLayout),
		TypeDistribution:      distribution(typeCounts, localizer),
		TimeTrend:             trend(daily, start, end),
		HighFrequencyProblems: make([]RankedProblem, 0, len(top)),
	}
	for i, problem := range top {
		report.HighFrequencyProblems = append(report.HighFrequencyProblems, RankedProblem{
			Rank:          i + 1,
			ID:            problem.ID,
			Summary:       problem.Summary,
			Count:         problem.Count,
			Type:          problem.Type,
			TypeLabel:     typeLabel(localizer, problem.Type),
			Severity:      problem.Severity,
			SeverityLabel: severityLabel(localizer, problem.Severity),
			Status:        problem.Status,
		})
	}
	report.Summary = summaryHTML(report, localizer)
	return report, nil
}

// distribution orders the counts by the display order of the types; types
// outside the taxonomy come last
func distribution(counts []database.TypeCount, localizer *i18n.Localizer) Distribution {
	order := make(map[string]int, len(llm.Types))
	for i, t := range llm.Types {
		order[t] = i
	}
	sorted := append([]database.TypeCount(nil), counts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		oi, ok := order[sorted[i].Type]
		if !ok {
			oi = len(order)
		}
		oj, ok := order[sorted[j].Type]
		if !ok {
			oj = len(order)
		}
		return oi < oj
	})
	d := Distribution{Types: []string{}, Labels: []string{}, Values: []int{}}
	for _, c := range sorted {
		d.Types = append(d.Types, c.Type)
		d.Labels = append(d.Labels, typeLabel(localizer, c.Type))
		d.Values = append(d.Values, c.Count)
	}
	return d
}

func trend(daily []database.DailyCount, start, end time.Time) Trend {
	byDate := make(map[string]int, len(daily))
	for _, c := range daily {
		byDate[c.Date] = c.Count
	}
	t := Trend{Dates: []string{}, Counts: []int{}}
	for d := start; d.Before(end); d = d.Add(day) {
		date := d.Format(dateLayout)
		t.Dates = append(t.Dates, date)
		t.Counts = append(t.Counts, byDate[date])
	}
	return t
}

func summaryHTML(report *Report, localizer *i18n.Localizer) string {
	total := 0
	for _, v := range report.TypeDistribution.Values {
		total += v
	}
	dates := map[string]any{"Start": report.StartDate, "End": report.EndDate, "Total": total}
	if total == 0 {
		return msg(localizer, "report.empty", dates)
	}

	var b strings.Builder
	b.WriteString(msg(localizer, "report.overview", dates))
	type share struct {
		label string
		count int
	}
	shares := make([]share, len(report.TypeDistribution.Values))
	for i, v := range report.TypeDistribution.Values {
		shares[i] = share{report.TypeDistribution.Labels[i], v}
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].count > shares[j].count })
	for _, s := range shares {
		b.WriteString(msg(localizer, "report.type", map[string]any{
			"Label":   html.EscapeString(s.label),
			"Percent": fmt.Sprintf("%.1f", float64(s.count)*100/float64(total)),
		}))
	}
	if len(report.HighFrequencyProblems) > 0 {
		top := report.HighFrequencyProblems[0]
		b.WriteString(msg(localizer, "report.top", map[string]any{
			"Summary": html.EscapeString(top.Summary),
			"Count":   top.Count,
		}))
	}
	return b.String()
}

// snapshotReport stores the default report so it can be served when the
// live computation fails
func (serverHandler *ServerHandler) snapshotReport(ctx context.Context, now time.Time) error {
	start, end := reportRange("", "", serverHandler.ServerConfig.ReportDays, now)
	report, err := serverHandler.BuildReport(ctx, start, end, serverHandler.Messages.DefaultLocalizer())
	if err != nil {
		return err
	}
	sections := map[string]any{
		sectionTypeDistribution: report.TypeDistribution,
		sectionTimeTrend:        report.TimeTrend,
		sectionTopProblems:      report.HighFrequencyProblems,
	}
	for _, name := range []string{sectionTypeDistribution, sectionTimeTrend, sectionTopProblems} {
		content, err := json.Marshal(sections[name])
		if err != nil {
			return err
		}
		if err := serverHandler.saveSection(ctx, name, string(content), start, end, now); err != nil {
			return err
		}
	}
	return serverHandler.saveSection(ctx, sectionSummary, report.Summary, start, end, now)
}

func (serverHandler *ServerHandler) saveSection(ctx context.Context, name, content string, start, end, now time.Time) error {
	return serverHandler.DB.SaveAnalysisResult(ctx, &database.AnalysisResult{
		AnalysisType: name,
		Content:      content,
		StartDate:    start,
		EndDate:      end,
		CreateTime:   now,
	})
}

// latestSnapshot rebuilds a report from the newest stored sections
func (serverHandler *ServerHandler) latestSnapshot(ctx context.Context) (*Report, error) {
	results, err := serverHandler.DB.GetLatestAnalysisResults(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.New("no stored report")
	}
	report := &Report{Snapshot: true, HighFrequencyProblems: []RankedProblem{}}
	for _, result := range results {
		var err error
		switch result.AnalysisType {
		case sectionTypeDistribution:
			err = json.Unmarshal([]byte(result.Content), &report.TypeDistribution)
		case sectionTimeTrend:
			err = json.Unmarshal([]byte(result.Content), &report.TimeTrend)
		case sectionTopProblems:
			err = json.Unmarshal([]byte(result.Content), &report.HighFrequencyProblems)
		case sectionSummary:
			report.Summary = result.Content
		}
		if err != nil {
			return nil, fmt.Errorf("stored section %s: %w", result.AnalysisType, err)
		}
		if !result.StartDate.IsZero() {
			report.StartDate = result.StartDate.Format(dateLayout)
			report.EndDate = result.EndDate.Add(-day).Format(dateLayout)
		}
	}
	return report, nil
}
