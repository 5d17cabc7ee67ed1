package webapp

import (
	"strconv"

	"github.com/drummonds/feedbackd/router"
	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

// DashboardStats mirrors /api/dashboard/stats
type DashboardStats struct {
	TotalFeedbacks   int `json:"totalFeedbacks"`
	PendingProblems  int `json:"pendingProblems"`
	ResolvedProblems int `json:"resolvedProblems"`
}

// HomePage shows the dashboard counters and shortcuts to the other pages
type HomePage struct {
	app.Compo
	Router  *router.Router
	stats   DashboardStats
	loading bool
	error   string
}

// OnNav is called when the page is navigated to
func (h *HomePage) OnNav(ctx app.Context) {
	recordNav(h.Router, ctx)
	h.loading = true
	h.fetchStats(ctx)
}

func (h *HomePage) fetchStats(ctx app.Context) {
	var stats DashboardStats
	getJSON(ctx, "/api/dashboard/stats", &stats, func(ctx app.Context, err error) {
		h.loading = false
		if err != nil {
			h.error = err.Error()
			return
		}
		h.error = ""
		h.stats = stats
	})
}

// Render renders the home page
func (h *HomePage) Render() app.UI {
	var content app.UI
	if h.loading {
		content = app.Div().Class("loading").Body(app.Text("Loading..."))
	} else if h.error != "" {
		content = app.Div().Class("error").Body(app.Text("Error: " + h.error))
	} else {
		content = app.Div().Class("stat-grid").Body(
			&StatCard{Title: "Total feedback", Value: h.stats.TotalFeedbacks},
			&StatCard{Title: "Pending problems", Value: h.stats.PendingProblems},
			&StatCard{Title: "Resolved problems", Value: h.stats.ResolvedProblems},
		)
	}

	var shortcuts []app.UI
	if h.Router != nil {
		table := h.Router.Table()
		shortcuts = append(shortcuts,
			app.A().Href(table.PathFor("import")).Class("btn").Text("Import feedback"),
			app.A().Href(table.PathFor("analysis")).Class("btn").Text("View report"),
			app.A().Href(table.PathFor("management")).Class("btn").Text("Manage problems"),
		)
	}

	return shell(h.Router, "home-page",
		app.H2().Text("Dashboard"),
		content,
		app.Div().Class("shortcuts").Body(shortcuts...),
	)
}

// StatCard displays one dashboard counter
type StatCard struct {
	app.Compo
	Title string
	Value int
}

// Render renders the card
func (s *StatCard) Render() app.UI {
	return app.Div().
		Class("stat-card").
		Body(
			app.Div().Class("stat-value").Text(strconv.Itoa(s.Value)),
			app.Div().Class("stat-title").Text(s.Title),
		)
}
