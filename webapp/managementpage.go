package webapp

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/drummonds/feedbackd/router"
	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

// Problem mirrors a problem item of the problems API
type Problem struct {
	ID               int64    `json:"id"`
	Summary          string   `json:"summary"`
	Type             string   `json:"type"`
	TypeLabel        string   `json:"typeLabel"`
	Severity         string   `json:"severity"`
	SeverityLabel    string   `json:"severityLabel"`
	FeedbackCount    int      `json:"feedbackCount"`
	Status           string   `json:"status"`
	CreateTime       string   `json:"createTime"`
	FeedbackExamples []string `json:"feedbackExamples"`
}

// ProblemPage mirrors /api/problems/list
type ProblemPage struct {
	Items      []Problem `json:"items"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	PageSize   int       `json:"pageSize"`
	TotalPages int       `json:"totalPages"`
}

// ProblemFilter holds the list filters of the management page
type ProblemFilter struct {
	Keyword  string
	Type     string
	Severity string
	Status   string
	Page     int
}

// URL builds the list request for the filter
func (f ProblemFilter) URL() string {
	query := url.Values{}
	for key, value := range map[string]string{
		"keyword":  f.Keyword,
		"type":     f.Type,
		"severity": f.Severity,
		"status":   f.Status,
	} {
		if value != "" {
			query.Set(key, value)
		}
	}
	if f.Page > 1 {
		query.Set("page", strconv.Itoa(f.Page))
	}
	if len(query) == 0 {
		return "/api/problems/list"
	}
	return "/api/problems/list?" + query.Encode()
}

// ProblemManagementPage lists problems and lets the user change their status
type ProblemManagementPage struct {
	app.Compo
	Router   *router.Router
	filter   ProblemFilter
	page     ProblemPage
	expanded int64
	loading  bool
	notice   string
	error    string
}

// OnNav is called when the page is navigated to
func (p *ProblemManagementPage) OnNav(ctx app.Context) {
	recordNav(p.Router, ctx)
	p.filter.Page = 1
	p.fetchProblems(ctx)
}

func (p *ProblemManagementPage) fetchProblems(ctx app.Context) {
	p.loading = true
	page := ProblemPage{}
	getJSON(ctx, p.filter.URL(), &page, func(ctx app.Context, err error) {
		p.loading = false
		if err != nil {
			p.error = err.Error()
			return
		}
		p.error = ""
		p.page = page
	})
}

func (p *ProblemManagementPage) onSearch(ctx app.Context, e app.Event) {
	p.filter.Page = 1
	p.fetchProblems(ctx)
}

func (p *ProblemManagementPage) onPage(delta int) app.EventHandler {
	return func(ctx app.Context, e app.Event) {
		p.filter.Page = max(1, p.filter.Page+delta)
		p.fetchProblems(ctx)
	}
}

func (p *ProblemManagementPage) onResolve(id int64) app.EventHandler {
	return func(ctx app.Context, e app.Event) {
		path := fmt.Sprintf("/api/problems/%d/resolve", id)
		postJSON(ctx, path, nil, nil, p.afterUpdate(fmt.Sprintf("Problem %d resolved", id)))
	}
}

func (p *ProblemManagementPage) onStatus(id int64) app.EventHandler {
	return func(ctx app.Context, e app.Event) {
		status := ctx.JSSrc().Get("value").String()
		path := fmt.Sprintf("/api/problems/%d/update-status", id)
		postJSON(ctx, path, map[string]string{"status": status}, nil,
			p.afterUpdate(fmt.Sprintf("Problem %d is now %s", id, statusLabel(status))))
	}
}

func (p *ProblemManagementPage) onToggle(id int64) app.EventHandler {
	return func(ctx app.Context, e app.Event) {
		e.PreventDefault()
		if p.expanded == id {
			p.expanded = 0
			return
		}
		p.expanded = id
	}
}

func (p *ProblemManagementPage) afterUpdate(notice string) func(ctx app.Context, err error) {
	return func(ctx app.Context, err error) {
		if err != nil {
			p.error = err.Error()
			return
		}
		p.notice = notice
		p.fetchProblems(ctx)
	}
}

// Render renders the management page
func (p *ProblemManagementPage) Render() app.UI {
	return shell(p.Router, "management-page",
		app.H2().Text("Problem Management"),
		p.renderFilters(),
		p.renderStatus(),
		p.renderTable(),
		p.renderPager(),
	)
}

func (p *ProblemManagementPage) renderFilters() app.UI {
	return app.Div().Class("filters").Body(
		app.Input().
			Type("search").
			Placeholder("Keyword").
			Value(p.filter.Keyword).
			OnChange(p.ValueTo(&p.filter.Keyword)),
		selectFilter("All types", typeOptions, p.filter.Type, p.ValueTo(&p.filter.Type)),
		selectFilter("All severities", severityOptions, p.filter.Severity, p.ValueTo(&p.filter.Severity)),
		selectFilter("All statuses", statusOptions, p.filter.Status, p.ValueTo(&p.filter.Status)),
		app.Button().Class("btn-primary").Disabled(p.loading).OnClick(p.onSearch).Text("Search"),
	)
}

func selectFilter(all string, options []struct{ Code, Label string }, selected string, onChange app.EventHandler) app.UI {
	return app.Select().OnChange(onChange).Body(
		app.Option().Value("").Selected(selected == "").Text(all),
		app.Range(options).Slice(func(i int) app.UI {
			return app.Option().
				Value(options[i].Code).
				Selected(options[i].Code == selected).
				Text(options[i].Label)
		}),
	)
}

func (p *ProblemManagementPage) renderStatus() app.UI {
	switch {
	case p.loading:
		return app.Div().Class("loading").Body(app.Text("Loading..."))
	case p.error != "":
		return app.Div().Class("error").Body(app.Text("Error: " + p.error))
	case p.notice != "":
		return app.Div().Class("success").Body(app.Text(p.notice))
	}
	return app.Div()
}

func (p *ProblemManagementPage) renderTable() app.UI {
	items := p.page.Items
	if len(items) == 0 && !p.loading {
		return app.P().Class("empty").Text("No problems found.")
	}
	return app.Table().Class("problem-table").Body(
		app.THead().Body(app.Tr().Body(
			app.Th().Text("ID"),
			app.Th().Text("Problem"),
			app.Th().Text("Type"),
			app.Th().Text("Severity"),
			app.Th().Text("Reports"),
			app.Th().Text("Status"),
			app.Th().Text("Created"),
			app.Th().Text("Actions"),
		)),
		app.TBody().Body(
			app.Range(items).Slice(func(i int) app.UI {
				return p.renderRow(items[i])
			}),
		),
	)
}

func (p *ProblemManagementPage) renderRow(problem Problem) app.UI {
	var examples app.UI = app.Div()
	if p.expanded == problem.ID {
		examples = app.Ul().Class("examples").Body(
			app.Range(problem.FeedbackExamples).Slice(func(i int) app.UI {
				return app.Li().Text(problem.FeedbackExamples[i])
			}),
		)
	}
	statusSelect := app.Select().OnChange(p.onStatus(problem.ID)).Body(
		app.Range(statusOptions).Slice(func(i int) app.UI {
			return app.Option().
				Value(statusOptions[i].Code).
				Selected(statusOptions[i].Code == problem.Status).
				Text(statusOptions[i].Label)
		}),
	)
	return app.Tr().Class("severity-" + problem.Severity).Body(
		app.Td().Text(strconv.FormatInt(problem.ID, 10)),
		app.Td().Body(
			app.A().Href("#").OnClick(p.onToggle(problem.ID)).Text(problem.Summary),
			examples,
		),
		app.Td().Text(problem.TypeLabel),
		app.Td().Text(problem.SeverityLabel),
		app.Td().Text(strconv.Itoa(problem.FeedbackCount)),
		app.Td().Body(statusSelect),
		app.Td().Text(problem.CreateTime),
		app.Td().Body(
			app.Button().
				Class("btn-success").
				Disabled(problem.Status == "resolved").
				OnClick(p.onResolve(problem.ID)).
				Text("Resolve"),
		),
	)
}

func (p *ProblemManagementPage) renderPager() app.UI {
	if p.page.TotalPages <= 1 {
		return app.Div()
	}
	return app.Div().Class("pager").Body(
		app.Button().Disabled(p.filter.Page <= 1).OnClick(p.onPage(-1)).Text("Previous"),
		app.Span().Text(fmt.Sprintf("Page %d of %d (%d problems)", p.filter.Page, p.page.TotalPages, p.page.Total)),
		app.Button().Disabled(p.filter.Page >= p.page.TotalPages).OnClick(p.onPage(1)).Text("Next"),
	)
}
