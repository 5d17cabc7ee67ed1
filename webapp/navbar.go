package webapp

import (
	"github.com/drummonds/feedbackd/router"
	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

var navLabels = map[string]string{
	"home":       "Home",
	"import":     "Import Feedback",
	"analysis":   "Analysis Report",
	"management": "Problem Management",
}

type navLink struct {
	Path   string
	Label  string
	Active bool
}

// navLinks lists the table routes in order, marking the current one
func navLinks(r *router.Router) []navLink {
	current, _ := r.Current()
	var links []navLink
	for _, route := range r.Table().Routes() {
		label, ok := navLabels[route.Name]
		if !ok {
			label = route.Name
		}
		links = append(links, navLink{Path: route.Path, Label: label, Active: route.Path == current.Path})
	}
	return links
}

// NavBar is the navigation bar component
type NavBar struct {
	app.Compo
	Router *router.Router
}

// Render renders the navigation bar
func (n *NavBar) Render() app.UI {
	var links []navLink
	if n.Router != nil {
		links = navLinks(n.Router)
	}
	return app.Nav().
		Class("navbar").
		Body(
			app.Div().Class("navbar-brand").Body(
				app.H1().Text("Feedback Analysis"),
			),
			app.Div().Class("navbar-menu").Body(
				app.Range(links).Slice(func(i int) app.UI {
					class := "navbar-item"
					if links[i].Active {
						class += " active"
					}
					return app.A().
						Href(links[i].Path).
						Class(class).
						Body(app.Text(links[i].Label))
				}),
			),
		)
}
