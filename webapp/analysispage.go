package webapp

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/drummonds/feedbackd/router"
	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

// Report mirrors /api/analysis/report
type Report struct {
	StartDate        string `json:"startDate"`
	EndDate          string `json:"endDate"`
	TypeDistribution struct {
		Labels []string `json:"labels"`
		Values []int    `json:"values"`
	} `json:"typeDistribution"`
	TimeTrend struct {
		Dates  []string `json:"dates"`
		Counts []int    `json:"counts"`
	} `json:"timeTrend"`
	HighFrequencyProblems []struct {
		Rank          int    `json:"rank"`
		Summary       string `json:"summary"`
		Count         int    `json:"count"`
		TypeLabel     string `json:"typeLabel"`
		SeverityLabel string `json:"severityLabel"`
	} `json:"highFrequencyProblems"`
	Summary  string `json:"summary"`
	Snapshot bool   `json:"snapshot"`
}

// reportURL builds the report request for an optional date range
func reportURL(startDate, endDate string) string {
	query := url.Values{}
	if startDate != "" {
		query.Set("startDate", startDate)
	}
	if endDate != "" {
		query.Set("endDate", endDate)
	}
	if len(query) == 0 {
		return "/api/analysis/report"
	}
	return "/api/analysis/report?" + query.Encode()
}

// percentages scales values to their share of the total, in percent
func percentages(values []int) []float64 {
	total := 0
	for _, v := range values {
		total += v
	}
	shares := make([]float64, len(values))
	if total == 0 {
		return shares
	}
	for i, v := range values {
		shares[i] = float64(v) * 100 / float64(total)
	}
	return shares
}

// barWidths scales values relative to the largest one, in percent
func barWidths(values []int) []float64 {
	largest := 0
	for _, v := range values {
		largest = max(largest, v)
	}
	widths := make([]float64, len(values))
	if largest == 0 {
		return widths
	}
	for i, v := range values {
		widths[i] = float64(v) * 100 / float64(largest)
	}
	return widths
}

// AnalysisReportPage shows the feedback report for a date range
type AnalysisReportPage struct {
	app.Compo
	Router    *router.Router
	startDate string
	endDate   string
	report    *Report
	loading   bool
	error     string
}

// OnNav is called when the page is navigated to
func (p *AnalysisReportPage) OnNav(ctx app.Context) {
	recordNav(p.Router, ctx)
	p.fetchReport(ctx)
}

func (p *AnalysisReportPage) fetchReport(ctx app.Context) {
	p.loading = true
	report := &Report{}
	getJSON(ctx, reportURL(p.startDate, p.endDate), report, func(ctx app.Context, err error) {
		p.loading = false
		if err != nil {
			p.error = err.Error()
			return
		}
		p.error = ""
		p.report = report
		p.startDate, p.endDate = report.StartDate, report.EndDate
	})
}

func (p *AnalysisReportPage) onRefresh(ctx app.Context, e app.Event) {
	p.fetchReport(ctx)
}

// Render renders the report page
func (p *AnalysisReportPage) Render() app.UI {
	controls := app.Div().Class("report-controls").Body(
		app.Label().Text("From"),
		app.Input().Type("date").Value(p.startDate).OnChange(p.ValueTo(&p.startDate)),
		app.Label().Text("To"),
		app.Input().Type("date").Value(p.endDate).OnChange(p.ValueTo(&p.endDate)),
		app.Button().Class("btn-primary").Disabled(p.loading).OnClick(p.onRefresh).Text("Generate report"),
	)

	var content app.UI
	switch {
	case p.loading && p.report == nil:
		content = app.Div().Class("loading").Body(app.Text("Loading..."))
	case p.error != "":
		content = app.Div().Class("error").Body(app.Text("Error: " + p.error))
	case p.report == nil:
		content = app.Div()
	default:
		content = p.renderReport()
	}
	return shell(p.Router, "analysis-page",
		app.H2().Text("Analysis Report"),
		controls,
		content,
	)
}

func (p *AnalysisReportPage) renderReport() app.UI {
	r := p.report
	var notice app.UI = app.Div()
	if r.Snapshot {
		notice = app.Div().Class("warning").Body(app.Text("Showing the last stored report."))
	}

	shares := percentages(r.TypeDistribution.Values)
	trend := barWidths(r.TimeTrend.Counts)
	return app.Div().Class("report").Body(
		notice,
		app.Section().Class("report-summary").Body(
			app.H3().Text("Summary"),
			app.Raw("<div>"+r.Summary+"</div>"),
		),
		app.Section().Class("report-distribution").Body(
			app.H3().Text("Problem types"),
			app.Range(r.TypeDistribution.Labels).Slice(func(i int) app.UI {
				return barRow(r.TypeDistribution.Labels[i], shares[i],
					fmt.Sprintf("%d (%.1f%%)", r.TypeDistribution.Values[i], shares[i]))
			}),
		),
		app.Section().Class("report-trend").Body(
			app.H3().Text("Feedback per day"),
			app.Range(r.TimeTrend.Dates).Slice(func(i int) app.UI {
				return barRow(r.TimeTrend.Dates[i], trend[i], strconv.Itoa(r.TimeTrend.Counts[i]))
			}),
		),
		app.Section().Class("report-top").Body(
			app.H3().Text("High frequency problems"),
			app.Table().Body(
				app.THead().Body(app.Tr().Body(
					app.Th().Text("#"),
					app.Th().Text("Problem"),
					app.Th().Text("Reports"),
					app.Th().Text("Type"),
					app.Th().Text("Severity"),
				)),
				app.TBody().Body(
					app.Range(r.HighFrequencyProblems).Slice(func(i int) app.UI {
						row := r.HighFrequencyProblems[i]
						return app.Tr().Body(
							app.Td().Text(strconv.Itoa(row.Rank)),
							app.Td().Text(row.Summary),
							app.Td().Text(strconv.Itoa(row.Count)),
							app.Td().Text(row.TypeLabel),
							app.Td().Text(row.SeverityLabel),
						)
					}),
				),
			),
		),
	)
}

func barRow(label string, width float64, value string) app.UI {
	return app.Div().Class("bar-row").Body(
		app.Span().Class("bar-label").Text(label),
		app.Div().Class("bar-track").Body(
			app.Div().Class("bar").Style("width", fmt.Sprintf("%.1f%%", width)),
		),
		app.Span().Class("bar-value").Text(value),
	)
}
